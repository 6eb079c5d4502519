package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	"github.com/NordCoder/notifyd/internal/domain/push"
)

var _ push.TariffResolver = (*TariffCache)(nil)

// TariffCache reads tenant billing states written by the billing service
// under "tariff:<tenantId>". Unknown tenants are treated as free.
type TariffCache struct {
	rdb goredis.UniversalClient
}

func NewTariffCache(rdb goredis.UniversalClient) *TariffCache { return &TariffCache{rdb: rdb} }

func TariffKey(tenantID int64) string { return "tariff:" + strconv.FormatInt(tenantID, 10) }

func (c *TariffCache) Tariff(ctx context.Context, tenantID int64) (push.TariffState, error) {
	v, err := c.rdb.Get(ctx, TariffKey(tenantID)).Result()
	if errors.Is(err, goredis.Nil) {
		return push.TariffFree, nil
	}
	if err != nil {
		return push.TariffFree, fmt.Errorf("get tariff %d: %w", tenantID, err)
	}
	t, _ := push.ParseTariff(v)
	return t, nil
}
