package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account is one brokerage account visible to the authenticated user.
type Account struct {
	AccountID   string `json:"accountId"`
	AccountType string `json:"accountType,omitempty"`
	Name        string `json:"name,omitempty"`
}

// AccountsResponse is the response from the accounts endpoint.
type AccountsResponse struct {
	Accounts []Account `json:"accounts"`
}

// Position is one holding inside a portfolio.
type Position struct {
	Instrument    Instrument       `json:"instrument"`
	Quantity      decimal.Decimal  `json:"quantity"`
	CostBasis     *decimal.Decimal `json:"costBasis,omitempty"`
	MarketValue   *decimal.Decimal `json:"marketValue,omitempty"`
	UnrealizedPnL *decimal.Decimal `json:"unrealizedPnl,omitempty"`
}

// Portfolio is the full state of an account's holdings.
type Portfolio struct {
	AccountID   string           `json:"accountId"`
	Equity      *decimal.Decimal `json:"equity,omitempty"`
	BuyingPower *decimal.Decimal `json:"buyingPower,omitempty"`
	Cash        *decimal.Decimal `json:"cash,omitempty"`
	Positions   []Position       `json:"positions,omitempty"`
}

// Transaction is one account history entry.
type Transaction struct {
	TransactionID string           `json:"transactionId"`
	Type          string           `json:"type"`
	Instrument    *Instrument      `json:"instrument,omitempty"`
	Amount        *decimal.Decimal `json:"amount,omitempty"`
	Quantity      *decimal.Decimal `json:"quantity,omitempty"`
	Timestamp     time.Time        `json:"timestamp"`
}

// HistoryRequest filters and pages account history.
type HistoryRequest struct {
	Start     *time.Time
	End       *time.Time
	PageSize  int
	PageToken string
}

// HistoryPage is one page of account history.
type HistoryPage struct {
	Transactions  []Transaction `json:"transactions"`
	NextPageToken string        `json:"nextPageToken,omitempty"`
}
