package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Instrument represents one listed equity in the screening universe.
type Instrument struct {
	ID           string          `json:"id" db:"id"`
	DisplayName  string          `json:"display_name" db:"display_name"`
	Market       string          `json:"market" db:"market"`
	CurrentPrice decimal.Decimal `json:"current_price" db:"current_price"`
	IsActive     bool            `json:"is_active" db:"is_active"`
}

// PricePoint represents one daily OHLCV bar for an instrument.
type PricePoint struct {
	Date   time.Time       `json:"date" db:"trade_date"`
	Open   decimal.Decimal `json:"open" db:"open"`
	High   decimal.Decimal `json:"high" db:"high"`
	Low    decimal.Decimal `json:"low" db:"low"`
	Close  decimal.Decimal `json:"close" db:"close"`
	Volume decimal.Decimal `json:"volume" db:"volume"`
}

// PriceSeries is a chronologically ordered sequence of daily bars,
// oldest first. Gaps are tolerated but reduce indicator validity.
type PriceSeries []PricePoint

// Closes returns the close prices as floats, oldest first.
func (s PriceSeries) Closes() []float64 {
	out := make([]float64, len(s))
	for i, p := range s {
		out[i] = p.Close.InexactFloat64()
	}
	return out
}

// Highs returns the high prices as floats, oldest first.
func (s PriceSeries) Highs() []float64 {
	out := make([]float64, len(s))
	for i, p := range s {
		out[i] = p.High.InexactFloat64()
	}
	return out
}

// Lows returns the low prices as floats, oldest first.
func (s PriceSeries) Lows() []float64 {
	out := make([]float64, len(s))
	for i, p := range s {
		out[i] = p.Low.InexactFloat64()
	}
	return out
}

// Volumes returns the traded volumes as floats, oldest first.
func (s PriceSeries) Volumes() []float64 {
	out := make([]float64, len(s))
	for i, p := range s {
		out[i] = p.Volume.InexactFloat64()
	}
	return out
}

// FundamentalsSnapshot represents the most recent fundamental figures known
// for an instrument. Every field is optional; absence is a normal, frequent
// outcome and suppresses only the computations that need the missing field.
type FundamentalsSnapshot struct {
	InstrumentID      string     `json:"instrument_id" db:"instrument_id"`
	PBR               *float64   `json:"pbr,omitempty" db:"pbr"`
	MarketCap         *int64     `json:"market_cap,omitempty" db:"market_cap"`
	SharesOutstanding *int64     `json:"shares_outstanding,omitempty" db:"shares_outstanding"`
	Equity            *float64   `json:"equity,omitempty" db:"equity"`
	NetIncome         *float64   `json:"net_income,omitempty" db:"net_income"`
	AsOf              *time.Time `json:"as_of,omitempty" db:"as_of"`
}
