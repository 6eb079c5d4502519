package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/NordCoder/notifyd/internal/domain/push"
)

type Enqueuer interface {
	Enqueue(push.SignedRequest) error
}

// HubClient turns hub calls into signed requests for the dispatcher.
type HubClient struct {
	base    string
	signer  *Signer
	tariffs push.TariffResolver
	out     Enqueuer
	log     *zap.Logger
}

// NewHubClient returns a client posting to base. An empty base makes Send a no-op.
func NewHubClient(base string, signer *Signer, tariffs push.TariffResolver, out Enqueuer, log *zap.Logger) *HubClient {
	return &HubClient{
		base:    strings.TrimRight(base, "/"),
		signer:  signer,
		tariffs: tariffs,
		out:     out,
		log:     log.With(zap.String("component", "dispatch.hub")),
	}
}

func (c *HubClient) Enabled() bool { return c.base != "" }

// Send posts payload as JSON to {base}/controller/{hub}/{method}. It returns
// once the request is queued; delivery failures are only logged.
func (c *HubClient) Send(ctx context.Context, tenantID int64, hub, method string, payload any) error {
	if !c.Enabled() {
		return nil
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal hub payload: %w", err)
	}

	target := c.base + "/controller/" + url.PathEscape(hub) + "/" + url.PathEscape(method)
	// the reader supplies the context the request runs under
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build hub request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.signer.Sign())

	tariff := push.TariffFree
	if c.tariffs != nil {
		t, err := c.tariffs.Tariff(ctx, tenantID)
		if err != nil {
			c.log.Warn("tariff lookup failed, using free", zap.Int64("tenant_id", tenantID), zap.Error(err))
		} else {
			tariff = t
		}
	}

	return c.out.Enqueue(push.SignedRequest{Request: req, Tariff: tariff, TenantID: tenantID})
}
