package model

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func i64(n int64) *int64 { return &n }

func TestInstrument_Normalized(t *testing.T) {
	in := Instrument{Symbol: "  aapl ", Type: InstrumentEquity}
	assert.Equal(t, Instrument{Symbol: "AAPL", Type: InstrumentEquity}, in.Normalized())
	assert.Equal(t, "AAPL:EQUITY", in.Normalized().Key())
}

func TestInstrument_KeyDistinguishesTypes(t *testing.T) {
	eq := Instrument{Symbol: "BTC", Type: InstrumentEquity}
	crypto := Instrument{Symbol: "BTC", Type: InstrumentCrypto}
	assert.NotEqual(t, eq.Key(), crypto.Key())
}

func TestQuote_Equal(t *testing.T) {
	base := Quote{Last: dec("150.00"), Bid: dec("149.95"), BidSize: i64(100), Ask: dec("150.05"), AskSize: i64(200)}

	same := Quote{Last: dec("150.00"), Bid: dec("149.95"), BidSize: i64(100), Ask: dec("150.05"), AskSize: i64(200)}
	assert.True(t, base.Equal(same))

	// Different scale, same value.
	scaled := same
	scaled.Last = dec("150.0000")
	assert.True(t, base.Equal(scaled))

	moved := same
	moved.Last = dec("150.01")
	assert.False(t, base.Equal(moved))

	sized := same
	sized.BidSize = i64(101)
	assert.False(t, base.Equal(sized))
}

func TestQuote_EqualNilSemantics(t *testing.T) {
	assert.True(t, Quote{}.Equal(Quote{}))
	assert.False(t, Quote{Last: dec("1")}.Equal(Quote{}))
	assert.False(t, Quote{}.Equal(Quote{Last: dec("1")}))
}

func TestQuote_EqualIgnoresVolume(t *testing.T) {
	a := Quote{Last: dec("150.00"), Volume: i64(1000)}
	b := Quote{Last: dec("150.00"), Volume: i64(9999), OpenInterest: i64(5)}
	assert.True(t, a.Equal(b), "volume and open interest are not price changes")
}

func TestOrder_SameObservation(t *testing.T) {
	a := Order{Status: OrderPartiallyFilled, FilledQuantity: decimal.NewFromInt(5), AveragePrice: dec("150.10")}

	b := a
	assert.True(t, a.SameObservation(b))

	b.FilledQuantity = decimal.NewFromInt(7)
	assert.False(t, a.SameObservation(b), "fill progress is a transition")

	c := a
	c.Status = OrderFilled
	assert.False(t, a.SameObservation(c))

	// Timestamps alone do not constitute a transition.
	d := a
	d.UpdatedAt = a.UpdatedAt.AddDate(0, 0, 1)
	assert.True(t, a.SameObservation(d))

	e := a
	e.AveragePrice = nil
	assert.False(t, a.SameObservation(e))
}

func TestOrderStatus_IsTerminal(t *testing.T) {
	terminal := []OrderStatus{OrderFilled, OrderCancelled, OrderRejected, OrderExpired}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), string(s))
	}
	working := []OrderStatus{OrderNew, OrderPending, OrderPartiallyFilled}
	for _, s := range working {
		assert.False(t, s.IsTerminal(), string(s))
	}
}

func TestQuote_DecimalJSONPrecision(t *testing.T) {
	in := `{"instrument":{"symbol":"AAPL","type":"EQUITY"},"last":"150.1000","bid":"150.05","outcome":"SUCCESS"}`

	var q Quote
	require.NoError(t, json.Unmarshal([]byte(in), &q))
	require.NotNil(t, q.Last)
	assert.True(t, q.Last.Equal(decimal.RequireFromString("150.1")), "value survives the round trip exactly")
	assert.EqualValues(t, -4, q.Last.Exponent(), "parsed scale is retained")
	require.NotNil(t, q.Bid)
	assert.Equal(t, "150.05", q.Bid.String())
	assert.Equal(t, QuoteSuccess, q.Outcome)
}

func TestOrderRequest_WireFieldNames(t *testing.T) {
	req := OrderRequest{
		OrderID:    "idem-1",
		Instrument: Instrument{Symbol: "AAPL", Type: InstrumentEquity},
		Side:       SideBuy,
		Type:       TypeLimit,
		Expiration: OrderExpiration{TimeInForce: TIFGTC},
		Quantity:   decimal.NewFromInt(10),
		LimitPrice: dec("150.25"),
	}
	data, err := json.Marshal(req)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	assert.Equal(t, "BUY", m["orderSide"])
	assert.Equal(t, "LIMIT", m["orderType"])
	assert.Equal(t, "150.25", m["limitPrice"])
	assert.NotContains(t, m, "stopPrice", "omitted when unset")
}
