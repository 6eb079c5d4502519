package dispatch

import (
	"context"

	"github.com/NordCoder/notifyd/internal/domain/push"
)

// StaticTariffs marks a fixed set of tenants as paid and everyone else as free.
type StaticTariffs map[int64]struct{}

func NewStaticTariffs(paid []int64) StaticTariffs {
	s := make(StaticTariffs, len(paid))
	for _, id := range paid {
		s[id] = struct{}{}
	}
	return s
}

func (s StaticTariffs) Tariff(_ context.Context, tenantID int64) (push.TariffState, error) {
	if _, ok := s[tenantID]; ok {
		return push.TariffPaid, nil
	}
	return push.TariffFree, nil
}
