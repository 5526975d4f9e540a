package model

import "github.com/shopspring/decimal"

// QuoteOutcome reports whether the upstream produced a usable quote for an
// instrument in a batch response.
type QuoteOutcome string

const (
	QuoteSuccess QuoteOutcome = "SUCCESS"
	QuoteUnknown QuoteOutcome = "UNKNOWN"
)

// Quote is the latest market data observation for an instrument. Money fields
// are decimal-precise and serialized as decimal strings; all fields except the
// instrument itself are optional.
type Quote struct {
	Instrument   Instrument       `json:"instrument"`
	Last         *decimal.Decimal `json:"last,omitempty"`
	Bid          *decimal.Decimal `json:"bid,omitempty"`
	BidSize      *int64           `json:"bidSize,omitempty"`
	Ask          *decimal.Decimal `json:"ask,omitempty"`
	AskSize      *int64           `json:"askSize,omitempty"`
	Volume       *int64           `json:"volume,omitempty"`
	OpenInterest *int64           `json:"openInterest,omitempty"`
	Outcome      QuoteOutcome     `json:"outcome,omitempty"`
}

// Equal reports whether two quotes carry the same observable prices. Only the
// fields that constitute a price change are compared: last, bid, bid size,
// ask, ask size. Nil compares equal to nil only.
func (q Quote) Equal(other Quote) bool {
	return decEqual(q.Last, other.Last) &&
		decEqual(q.Bid, other.Bid) &&
		intEqual(q.BidSize, other.BidSize) &&
		decEqual(q.Ask, other.Ask) &&
		intEqual(q.AskSize, other.AskSize)
}

func decEqual(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func intEqual(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
