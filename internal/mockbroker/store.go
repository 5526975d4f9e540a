package mockbroker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/Checker-Finance/public-sdk/pkg/model"
)

// Store persists the simulated broker's order book.
type Store interface {
	PutOrder(ctx context.Context, order model.Order) error
	GetOrder(ctx context.Context, accountID, orderID string) (*model.Order, error)
	ListOrders(ctx context.Context, accountID string) ([]model.Order, error)
	HealthCheck(ctx context.Context) error
	Close() error
}

// ErrOrderNotFound is returned for lookups of unknown orders.
var ErrOrderNotFound = errors.New("mockbroker: order not found")

// RedisStore keeps orders in Redis so a restarted mock broker remembers its
// book. Orders are stored as JSON under order:{account}:{id} with a per-account
// index set.
type RedisStore struct {
	rdb *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(ctx context.Context, addr string, db int) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &RedisStore{rdb: rdb}, nil
}

func orderKey(accountID, orderID string) string {
	return "order:" + accountID + ":" + orderID
}

func accountIndexKey(accountID string) string {
	return "orders:" + accountID
}

func (s *RedisStore) PutOrder(ctx context.Context, order model.Order) error {
	data, err := json.Marshal(order)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, orderKey(order.AccountID, order.OrderID), data, 0)
	pipe.SAdd(ctx, accountIndexKey(order.AccountID), order.OrderID)
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) GetOrder(ctx context.Context, accountID, orderID string) (*model.Order, error) {
	data, err := s.rdb.Get(ctx, orderKey(accountID, orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrOrderNotFound
	} else if err != nil {
		return nil, err
	}
	var order model.Order
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

func (s *RedisStore) ListOrders(ctx context.Context, accountID string) ([]model.Order, error) {
	ids, err := s.rdb.SMembers(ctx, accountIndexKey(accountID)).Result()
	if err != nil {
		return nil, err
	}
	orders := make([]model.Order, 0, len(ids))
	for _, id := range ids {
		order, err := s.GetOrder(ctx, accountID, id)
		if errors.Is(err, ErrOrderNotFound) {
			continue
		} else if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, nil
}

func (s *RedisStore) HealthCheck(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.rdb.Close()
}

// MemoryStore is the fallback when no Redis address is configured.
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]model.Order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[string]model.Order)}
}

func (s *MemoryStore) PutOrder(_ context.Context, order model.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[orderKey(order.AccountID, order.OrderID)] = order
	return nil
}

func (s *MemoryStore) GetOrder(_ context.Context, accountID, orderID string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.orders[orderKey(accountID, orderID)]
	if !ok {
		return nil, ErrOrderNotFound
	}
	return &order, nil
}

func (s *MemoryStore) ListOrders(_ context.Context, accountID string) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prefix := "order:" + accountID + ":"
	var orders []model.Order
	for key, order := range s.orders {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			orders = append(orders, order)
		}
	}
	return orders, nil
}

func (s *MemoryStore) HealthCheck(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
