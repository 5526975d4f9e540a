package model

import "strings"

// InstrumentType identifies the asset class of an instrument.
type InstrumentType string

const (
	InstrumentEquity InstrumentType = "EQUITY"
	InstrumentOption InstrumentType = "OPTION"
	InstrumentCrypto InstrumentType = "CRYPTO"
)

// Instrument identifies a tradable instrument. Two instruments are the same
// polling subject iff symbol and type are equal.
type Instrument struct {
	Symbol string         `json:"symbol"`
	Type   InstrumentType `json:"type"`
}

// Normalized returns the instrument with its symbol trimmed and uppercased.
func (i Instrument) Normalized() Instrument {
	return Instrument{
		Symbol: strings.ToUpper(strings.TrimSpace(i.Symbol)),
		Type:   i.Type,
	}
}

// Key renders a stable identifier for maps and log fields.
func (i Instrument) Key() string {
	return i.Symbol + ":" + string(i.Type)
}
