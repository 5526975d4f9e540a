package mockbroker

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Checker-Finance/public-sdk/pkg/model"
)

func storeOrder(orderID string, status model.OrderStatus) model.Order {
	return model.Order{
		OrderID:    orderID,
		AccountID:  DefaultAccountID,
		Instrument: model.Instrument{Symbol: "AAPL", Type: model.InstrumentEquity},
		Type:       model.TypeMarket,
		Side:       model.SideBuy,
		Status:     status,
		Quantity:   decimal.NewFromInt(10),
		CreatedAt:  time.Now().UTC(),
		UpdatedAt:  time.Now().UTC(),
	}
}

func newRedisFixture(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(context.Background(), mr.Addr(), 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRedisStore_PutGetRoundTrip(t *testing.T) {
	store := newRedisFixture(t)
	ctx := context.Background()

	in := storeOrder("ord-1", model.OrderNew)
	require.NoError(t, store.PutOrder(ctx, in))

	got, err := store.GetOrder(ctx, DefaultAccountID, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, in.OrderID, got.OrderID)
	assert.Equal(t, model.OrderNew, got.Status)
	assert.True(t, got.Quantity.Equal(in.Quantity))
}

func TestRedisStore_GetUnknownOrder(t *testing.T) {
	store := newRedisFixture(t)
	_, err := store.GetOrder(context.Background(), DefaultAccountID, "nope")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestRedisStore_PutOverwrites(t *testing.T) {
	store := newRedisFixture(t)
	ctx := context.Background()

	require.NoError(t, store.PutOrder(ctx, storeOrder("ord-1", model.OrderNew)))

	updated := storeOrder("ord-1", model.OrderFilled)
	updated.FilledQuantity = updated.Quantity
	require.NoError(t, store.PutOrder(ctx, updated))

	got, err := store.GetOrder(ctx, DefaultAccountID, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, model.OrderFilled, got.Status)
	assert.True(t, got.FilledQuantity.Equal(updated.Quantity))

	orders, err := store.ListOrders(ctx, DefaultAccountID)
	require.NoError(t, err)
	assert.Len(t, orders, 1, "overwrite must not duplicate the index entry")
}

func TestRedisStore_ListScopedByAccount(t *testing.T) {
	store := newRedisFixture(t)
	ctx := context.Background()

	require.NoError(t, store.PutOrder(ctx, storeOrder("ord-1", model.OrderNew)))
	other := storeOrder("ord-2", model.OrderNew)
	other.AccountID = "OTHER-1"
	require.NoError(t, store.PutOrder(ctx, other))

	orders, err := store.ListOrders(ctx, DefaultAccountID)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "ord-1", orders[0].OrderID)
}

func TestRedisStore_HealthCheck(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(context.Background(), mr.Addr(), 0)
	require.NoError(t, err)

	assert.NoError(t, store.HealthCheck(context.Background()))
	mr.Close()
	assert.Error(t, store.HealthCheck(context.Background()))
}

func TestNewRedisStore_UnreachableAddr(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := NewRedisStore(ctx, "127.0.0.1:1", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis ping failed")
}

func TestMemoryStore_RoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, err := store.GetOrder(ctx, DefaultAccountID, "nope")
	assert.ErrorIs(t, err, ErrOrderNotFound)

	require.NoError(t, store.PutOrder(ctx, storeOrder("ord-1", model.OrderNew)))
	require.NoError(t, store.PutOrder(ctx, storeOrder("ord-2", model.OrderPending)))

	got, err := store.GetOrder(ctx, DefaultAccountID, "ord-2")
	require.NoError(t, err)
	assert.Equal(t, model.OrderPending, got.Status)

	orders, err := store.ListOrders(ctx, DefaultAccountID)
	require.NoError(t, err)
	assert.Len(t, orders, 2)

	orders, err = store.ListOrders(ctx, "OTHER-1")
	require.NoError(t, err)
	assert.Empty(t, orders)
}

func TestMemoryStore_GetReturnsCopy(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.PutOrder(ctx, storeOrder("ord-1", model.OrderNew)))

	got, err := store.GetOrder(ctx, DefaultAccountID, "ord-1")
	require.NoError(t, err)
	got.Status = model.OrderFilled

	again, err := store.GetOrder(ctx, DefaultAccountID, "ord-1")
	require.NoError(t, err)
	assert.Equal(t, model.OrderNew, again.Status, "mutating a returned order must not touch the store")
}
