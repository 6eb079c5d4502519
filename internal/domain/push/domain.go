package push

import (
	"context"
	"net/http"
	"strings"
)

// TariffState is a tenant's billing status. It only weights dispatch concurrency.
type TariffState int

const (
	TariffFree TariffState = iota
	TariffTrial
	TariffPaid
	TariffDelay
	TariffNotPaid
)

func (t TariffState) String() string {
	switch t {
	case TariffFree:
		return "free"
	case TariffTrial:
		return "trial"
	case TariffPaid:
		return "paid"
	case TariffDelay:
		return "delay"
	case TariffNotPaid:
		return "not_paid"
	default:
		return "unknown"
	}
}

func ParseTariff(s string) (TariffState, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "free":
		return TariffFree, true
	case "trial":
		return TariffTrial, true
	case "paid":
		return TariffPaid, true
	case "delay":
		return TariffDelay, true
	case "not_paid", "notpaid":
		return TariffNotPaid, true
	}
	return TariffFree, false
}

// SignedRequest is a ready-to-send outbound request tagged with the tenant tier.
// It is never persisted.
type SignedRequest struct {
	Request  *http.Request
	Tariff   TariffState
	TenantID int64
}

type TariffResolver interface {
	Tariff(ctx context.Context, tenantID int64) (TariffState, error)
}
