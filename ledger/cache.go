package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"gofalre.io/inventory/models"
)

const cacheTTL = 5 * time.Minute

// Cache is a redis read-through cache for stock levels. Failures are
// logged and ignored; the database stays the source of truth. A nil
// client disables caching entirely.
type Cache struct {
	client *redis.Client
	logger *zap.Logger
}

func NewCache(client *redis.Client, logger *zap.Logger) *Cache {
	return &Cache{client: client, logger: logger}
}

func cacheKey(productID, warehouseID uuid.UUID) string {
	return fmt.Sprintf("stock:%s:%s", productID, warehouseID)
}

func (c *Cache) get(ctx context.Context, productID, warehouseID uuid.UUID) (*models.StockLevel, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}

	data, err := c.client.Get(ctx, cacheKey(productID, warehouseID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Error("failed to read stock cache", zap.Error(err))
		}
		return nil, false
	}

	var stock models.StockLevel
	if err = json.Unmarshal(data, &stock); err != nil {
		c.logger.Error("failed to decode cached stock", zap.Error(err))
		return nil, false
	}
	return &stock, true
}

func (c *Cache) set(ctx context.Context, stock *models.StockLevel) {
	if c == nil || c.client == nil || stock == nil {
		return
	}

	data, err := json.Marshal(stock)
	if err != nil {
		c.logger.Error("failed to encode stock for cache", zap.Error(err))
		return
	}
	if err = c.client.Set(ctx, cacheKey(stock.ProductID, stock.WarehouseID), data, cacheTTL).Err(); err != nil {
		c.logger.Error("failed to cache stock", zap.Error(err))
	}
}
