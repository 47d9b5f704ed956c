// Package pricing keeps cost, sell price and profit percentage of a product
// mutually consistent while the product is being edited.
//
// The Resolver remembers which of sell price or profit percentage the user
// drove last. A cost edit recomputes the other field, so the value the user
// chose stays fixed.
package pricing

import (
	"errors"

	"github.com/shopspring/decimal"

	"kasirinaja/ledger/internal/domain"
	"kasirinaja/ledger/internal/money"
)

var ErrNegativeSellPrice = errors.New("sell price cannot be negative")

var (
	hundred     = decimal.NewFromInt(100)
	tenThousand = decimal.NewFromInt(10000)
)

type Driver string

const (
	DriverNone    Driver = "none"
	DriverSell    Driver = "sell"
	DriverPercent Driver = "percent"
)

func ParseDriver(raw string) Driver {
	switch Driver(raw) {
	case DriverSell:
		return DriverSell
	case DriverPercent:
		return DriverPercent
	default:
		return DriverNone
	}
}

// ComputeProfitPct returns (sell-cost)/cost*100. The relation is undefined
// for cost <= 0.
func ComputeProfitPct(cost, sell decimal.Decimal) (decimal.Decimal, bool) {
	if !cost.IsPositive() {
		return decimal.Zero, false
	}
	return sell.Sub(cost).Div(cost).Mul(hundred), true
}

// ComputeSellPrice returns cost*(1+pct/100). The relation is undefined for
// cost <= 0.
func ComputeSellPrice(cost, pct decimal.Decimal) (decimal.Decimal, bool) {
	if !cost.IsPositive() {
		return decimal.Zero, false
	}
	return cost.Mul(decimal.NewFromInt(1).Add(pct.Div(hundred))), true
}

// ProfitPctBp is ComputeProfitPct over persisted units.
func ProfitPctBp(costCents, sellCents int64) (int64, bool) {
	if costCents <= 0 {
		return 0, false
	}
	cost := decimal.NewFromInt(costCents)
	bp := decimal.NewFromInt(sellCents - costCents).Mul(tenThousand).Div(cost)
	return bp.Round(0).IntPart(), true
}

// SellPriceCents is ComputeSellPrice over persisted units.
func SellPriceCents(costCents, profitPctBp int64) (int64, bool) {
	if costCents <= 0 {
		return 0, false
	}
	factor := tenThousand.Add(decimal.NewFromInt(profitPctBp))
	sell := decimal.NewFromInt(costCents).Mul(factor).Div(tenThousand)
	return sell.Round(0).IntPart(), true
}

// State is the editable pricing form. A nil field is unset.
type State struct {
	Cost      *decimal.Decimal
	Sell      *decimal.Decimal
	ProfitPct *decimal.Decimal
}

type Resolver struct {
	state  State
	driver Driver
}

func NewResolver(initial State, driver Driver) *Resolver {
	if driver == "" {
		driver = DriverNone
	}
	return &Resolver{state: initial, driver: driver}
}

func (r *Resolver) State() State {
	return r.state
}

func (r *Resolver) Driver() Driver {
	return r.driver
}

// EditSellPrice records sell as the user's intent and derives the profit
// percentage from the current cost.
func (r *Resolver) EditSellPrice(sell decimal.Decimal) error {
	if sell.IsNegative() {
		return ErrNegativeSellPrice
	}
	r.driver = DriverSell
	r.state.Sell = ptr(sell.Round(2))
	r.state.ProfitPct = r.derivePct(r.state.Cost, r.state.Sell)
	return nil
}

// EditProfitPct records the percentage as the user's intent and derives the
// sell price from the current cost. Negative percentages are accepted.
func (r *Resolver) EditProfitPct(pct decimal.Decimal) error {
	sell := r.deriveSell(r.state.Cost, &pct)
	if sell != nil && sell.IsNegative() {
		return ErrNegativeSellPrice
	}
	r.driver = DriverPercent
	r.state.ProfitPct = ptr(pct)
	r.state.Sell = sell
	return nil
}

// EditCost never changes the driver. With a percent driver the sell price
// follows the cost; otherwise the percentage does.
func (r *Resolver) EditCost(cost decimal.Decimal) error {
	if r.driver == DriverPercent {
		sell := r.deriveSell(&cost, r.state.ProfitPct)
		if sell != nil && sell.IsNegative() {
			return ErrNegativeSellPrice
		}
		r.state.Cost = ptr(cost)
		if r.state.ProfitPct != nil {
			r.state.Sell = sell
		}
		return nil
	}

	r.state.Cost = ptr(cost)
	if r.state.Sell != nil {
		r.state.ProfitPct = r.derivePct(r.state.Cost, r.state.Sell)
	}
	return nil
}

// Apply replays a raw form edit. Malformed input unsets the edited field
// instead of coercing it to zero.
func (r *Resolver) Apply(field string, raw string) error {
	value, ok := money.ParseDecimal(raw)
	switch field {
	case "sell_price":
		if !ok {
			r.driver = DriverSell
			r.state.Sell = nil
			r.state.ProfitPct = nil
			return nil
		}
		return r.EditSellPrice(value)
	case "profit_pct":
		if !ok {
			r.driver = DriverPercent
			r.state.ProfitPct = nil
			return nil
		}
		return r.EditProfitPct(value)
	case "cost":
		if !ok {
			r.state.Cost = nil
			return nil
		}
		return r.EditCost(value)
	default:
		return domain.NewValidationError("edit.field", "must be cost, sell_price or profit_pct")
	}
}

// Warnings reports non-blocking conditions of the current state.
func (r *Resolver) Warnings() []string {
	if r.state.ProfitPct != nil && r.state.ProfitPct.IsNegative() {
		return []string{domain.WarningProfitNegative}
	}
	return nil
}

func (r *Resolver) derivePct(cost, sell *decimal.Decimal) *decimal.Decimal {
	if cost == nil || sell == nil {
		return nil
	}
	pct, ok := ComputeProfitPct(*cost, *sell)
	if !ok {
		return nil
	}
	return ptr(pct.Round(2))
}

func (r *Resolver) deriveSell(cost, pct *decimal.Decimal) *decimal.Decimal {
	if cost == nil || pct == nil {
		return nil
	}
	sell, ok := ComputeSellPrice(*cost, *pct)
	if !ok {
		return nil
	}
	return ptr(sell.Round(2))
}

func ptr(d decimal.Decimal) *decimal.Decimal {
	return &d
}
