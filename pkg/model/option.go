package model

import "github.com/shopspring/decimal"

// OptionExpirationsResponse lists available expiration dates for an underlying.
type OptionExpirationsResponse struct {
	Symbol      string   `json:"symbol"`
	Expirations []string `json:"expirations"` // YYYY-MM-DD
}

// OptionContract is one strike in an option chain.
type OptionContract struct {
	Instrument Instrument       `json:"instrument"`
	Strike     decimal.Decimal  `json:"strikePrice"`
	CallPut    string           `json:"callPut"` // "CALL" or "PUT"
	Bid        *decimal.Decimal `json:"bid,omitempty"`
	Ask        *decimal.Decimal `json:"ask,omitempty"`
}

// OptionChainResponse is the chain for one underlying and expiration.
type OptionChainResponse struct {
	Symbol     string           `json:"symbol"`
	Expiration string           `json:"expiration"`
	Contracts  []OptionContract `json:"contracts"`
}

// OptionGreeks carries the greeks for a single option contract.
type OptionGreeks struct {
	Instrument        Instrument       `json:"instrument"`
	Delta             *decimal.Decimal `json:"delta,omitempty"`
	Gamma             *decimal.Decimal `json:"gamma,omitempty"`
	Theta             *decimal.Decimal `json:"theta,omitempty"`
	Vega              *decimal.Decimal `json:"vega,omitempty"`
	Rho               *decimal.Decimal `json:"rho,omitempty"`
	ImpliedVolatility *decimal.Decimal `json:"impliedVolatility,omitempty"`
}

// OptionGreeksResponse wraps greeks for a batch of contracts.
type OptionGreeksResponse struct {
	Greeks []OptionGreeks `json:"greeks"`
}

// InstrumentDetails is the reference data for one instrument.
type InstrumentDetails struct {
	Instrument Instrument `json:"instrument"`
	Name       string     `json:"name,omitempty"`
	Exchange   string     `json:"exchange,omitempty"`
	Tradable   bool       `json:"tradable"`
}

// InstrumentsResponse is a page of the instrument master.
type InstrumentsResponse struct {
	Instruments   []InstrumentDetails `json:"instruments"`
	NextPageToken string              `json:"nextPageToken,omitempty"`
}
