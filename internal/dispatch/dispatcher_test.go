package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/NordCoder/notifyd/internal/domain/push"
)

func signedRequest(t *testing.T, url string, tariff push.TariffState, tenant int64) push.SignedRequest {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader("{}"))
	require.NoError(t, err)
	return push.SignedRequest{Request: req, Tariff: tariff, TenantID: tenant}
}

func startDispatcher(t *testing.T, d *Dispatcher) (stop func() error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	return func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(2 * time.Second):
			t.Fatal("dispatcher did not stop")
			return nil
		}
	}
}

func TestDispatcher_AllocationFromOptions(t *testing.T) {
	d := New(zap.NewNop(), http.DefaultClient, Options{MaxDegreeOfParallelism: 10})
	assert.Equal(t, map[string]int{LabelPaid: 7, LabelOther: 3}, d.Allocation().Readers)

	d = New(zap.NewNop(), http.DefaultClient, Options{MaxDegreeOfParallelism: 2})
	assert.False(t, d.Allocation().Split)
	assert.Equal(t, map[string]int{LabelAll: 2}, d.Allocation().Readers)

	d = New(zap.NewNop(), http.DefaultClient, Options{MaxDegreeOfParallelism: 10, PaidPercent: 50})
	assert.Equal(t, map[string]int{LabelPaid: 5, LabelOther: 5}, d.Allocation().Readers)
}

func TestDispatcher_FreeBurstDoesNotStarvePaid(t *testing.T) {
	release := make(chan struct{})
	var (
		paid     atomic.Int32
		inFlight atomic.Int32
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/paid" {
			paid.Add(1)
			w.WriteHeader(http.StatusOK)
			return
		}
		inFlight.Add(1)
		select {
		case <-release:
		case <-r.Context().Done():
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(release)

	d := New(zap.NewNop(), srv.Client(), Options{MaxDegreeOfParallelism: 10})
	stop := startDispatcher(t, d)
	defer func() { require.NoError(t, stop()) }()

	for i := 0; i < 50; i++ {
		require.NoError(t, d.Enqueue(signedRequest(t, srv.URL+"/free", push.TariffFree, 1)))
	}
	require.Eventually(t, func() bool { return inFlight.Load() == 3 }, time.Second, 5*time.Millisecond,
		"the other group has three readers")

	for i := 0; i < 5; i++ {
		require.NoError(t, d.Enqueue(signedRequest(t, srv.URL+"/paid", push.TariffPaid, 2)))
	}
	require.Eventually(t, func() bool { return paid.Load() == 5 }, time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 3, inFlight.Load(), "paid traffic never borrows other readers")
}

func TestDispatcher_FailuresAreIsolated(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.URL.Path)
		mu.Unlock()
		if r.URL.Path == "/boom" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = io.Copy(io.Discard, r.Body)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	d := New(zap.NewNop(), srv.Client(), Options{MaxDegreeOfParallelism: 1})
	stop := startDispatcher(t, d)

	require.NoError(t, d.Enqueue(signedRequest(t, srv.URL+"/boom", push.TariffFree, 1)))
	require.NoError(t, d.Enqueue(signedRequest(t, "http://127.0.0.1:1/unreachable", push.TariffFree, 1)))
	require.NoError(t, d.Enqueue(signedRequest(t, srv.URL+"/ok", push.TariffPaid, 1)))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, stop())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"/boom", "/ok"}, seen)
}

func TestDispatcher_ShutdownAbortsInFlightAndStopsIngress(t *testing.T) {
	started := make(chan struct{}, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started <- struct{}{}
		<-r.Context().Done()
	}))
	defer srv.Close()

	d := New(zap.NewNop(), srv.Client(), Options{MaxDegreeOfParallelism: 1})
	stop := startDispatcher(t, d)

	require.NoError(t, d.Enqueue(signedRequest(t, srv.URL, push.TariffFree, 1)))
	<-started

	require.NoError(t, stop())
	require.ErrorIs(t, d.Enqueue(signedRequest(t, srv.URL, push.TariffFree, 1)), ErrStopped)
	require.ErrorIs(t, d.Run(context.Background()), ErrAlreadyRunning)
}

func TestDispatcher_ResignsBeforeIssue(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	signer := fixedSigner(at)

	got := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Get("Authorization")
	}))
	defer srv.Close()

	d := New(zap.NewNop(), srv.Client(), Options{MaxDegreeOfParallelism: 1, Signer: signer})
	stop := startDispatcher(t, d)
	defer func() { require.NoError(t, stop()) }()

	r := signedRequest(t, srv.URL, push.TariffFree, 1)
	r.Request.Header.Set("Authorization", "stale")
	require.NoError(t, d.Enqueue(r))

	select {
	case h := <-got:
		assert.NoError(t, signer.Verify(h, 0))
	case <-time.After(time.Second):
		t.Fatal("request not issued")
	}
	assert.Equal(t, "stale", r.Request.Header.Get("Authorization"), "the enqueued request is not mutated")
}

type captureQueue struct {
	mu  sync.Mutex
	got []push.SignedRequest
}

func (c *captureQueue) Enqueue(r push.SignedRequest) error {
	c.mu.Lock()
	c.got = append(c.got, r)
	c.mu.Unlock()
	return nil
}

type hubPayload struct {
	NotifyID int64  `json:"notifyId"`
	Receiver string `json:"receiver"`
}

func TestHubClient_EmptyBaseIsNoop(t *testing.T) {
	out := &captureQueue{}
	c := NewHubClient("", NewSigner("k", "s"), nil, out, zap.NewNop())
	assert.False(t, c.Enabled())
	require.NoError(t, c.Send(context.Background(), 1, "notify", "send", hubPayload{}))
	assert.Empty(t, out.got)
}

func TestHubClient_BuildsSignedRequest(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	signer := fixedSigner(at)
	out := &captureQueue{}
	c := NewHubClient("http://hub.local/", signer, NewStaticTariffs([]int64{42}), out, zap.NewNop())

	require.NoError(t, c.Send(context.Background(), 42, "notify", "send", hubPayload{NotifyID: 9, Receiver: "u1"}))
	require.NoError(t, c.Send(context.Background(), 7, "notify", "send", hubPayload{NotifyID: 10, Receiver: "u2"}))
	require.Len(t, out.got, 2)

	paid := out.got[0]
	assert.Equal(t, push.TariffPaid, paid.Tariff)
	assert.Equal(t, int64(42), paid.TenantID)
	assert.Equal(t, http.MethodPost, paid.Request.Method)
	assert.Equal(t, "http://hub.local/controller/notify/send", paid.Request.URL.String())
	assert.Equal(t, "application/json", paid.Request.Header.Get("Content-Type"))
	assert.NoError(t, signer.Verify(paid.Request.Header.Get("Authorization"), 0))

	var body map[string]any
	require.NoError(t, json.NewDecoder(paid.Request.Body).Decode(&body))
	assert.Equal(t, map[string]any{"notifyId": float64(9), "receiver": "u1"}, body)

	assert.Equal(t, push.TariffFree, out.got[1].Tariff)
}
