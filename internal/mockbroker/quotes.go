package mockbroker

import (
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Checker-Finance/public-sdk/pkg/model"
)

// QuoteEngine produces random-walk quotes per instrument. Each instrument
// starts at a price derived from its symbol, so runs are repeatable enough
// for demos while still moving.
type QuoteEngine struct {
	mu    sync.Mutex
	rng   *rand.Rand
	walks map[model.Instrument]decimal.Decimal
	// StepChance is the probability a read moves the price; at 1.0 every
	// poll sees a new price, lower values leave quiet stretches.
	StepChance float64
}

func NewQuoteEngine(seed int64) *QuoteEngine {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &QuoteEngine{
		rng:        rand.New(rand.NewSource(seed)),
		walks:      make(map[model.Instrument]decimal.Decimal),
		StepChance: 0.6,
	}
}

// basePrice derives a stable starting price in [10, 510) from the symbol.
func basePrice(in model.Instrument) decimal.Decimal {
	h := fnv.New32a()
	_, _ = h.Write([]byte(in.Symbol))
	cents := int64(10_00 + h.Sum32()%500_00)
	return decimal.New(cents, -2)
}

// Quote returns the current quote for an instrument, advancing its walk.
func (e *QuoteEngine) Quote(in model.Instrument) model.Quote {
	in = in.Normalized()

	e.mu.Lock()
	price, ok := e.walks[in]
	if !ok {
		price = basePrice(in)
	} else if e.rng.Float64() < e.StepChance {
		// Step up to ±0.5%, two decimal places.
		pct := decimal.NewFromFloat((e.rng.Float64() - 0.5) / 100)
		price = price.Add(price.Mul(pct)).Round(2)
		if price.LessThan(decimal.New(1, -2)) {
			price = decimal.New(1, -2)
		}
	}
	e.walks[in] = price
	spread := price.Mul(decimal.NewFromFloat(0.001)).Round(2)
	bid := price.Sub(spread)
	ask := price.Add(spread)
	bidSize := int64(100 + e.rng.Intn(900))
	askSize := int64(100 + e.rng.Intn(900))
	e.mu.Unlock()

	return model.Quote{
		Instrument: in,
		Outcome:    model.QuoteSuccess,
		Last:       &price,
		Bid:        &bid,
		BidSize:    &bidSize,
		Ask:        &ask,
		AskSize:    &askSize,
	}
}

// SetPrice pins an instrument's price. Tests use it to force transitions.
func (e *QuoteEngine) SetPrice(in model.Instrument, price decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.walks[in.Normalized()] = price
}
