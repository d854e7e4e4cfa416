// Package risk implements pre-trade checks and the demo account source
// backing them.
package risk

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/bulltrade/gateway/internal/domain"
)

const (
	// MaxNotional caps single-order notional value in account currency.
	MaxNotional = 100_000.0
	// MaxPositionQty caps absolute per-symbol position size.
	MaxPositionQty = 1000.0
	// marketPriceBuffer inflates market-order notional to cover slippage.
	marketPriceBuffer = 1.1
	// seedBalance funds every demo account at first touch.
	seedBalance = 100_000.0
)

// Validator applies notional, balance and position-limit checks.
type Validator struct{}

// NewValidator creates a Validator.
func NewValidator() *Validator { return &Validator{} }

// Validate returns (false, reason) on the first failed check. Market orders
// are valued with a slippage buffer on top of the reference price.
func (v *Validator) Validate(account domain.Account, positions []domain.Position, order domain.Order) (bool, string) {
	if order.Qty <= 0 {
		return false, "quantity must be positive"
	}
	if order.Price <= 0 {
		return false, "price must be positive"
	}

	notional := order.Qty * order.Price
	if order.Type == domain.OrderTypeMarket {
		notional *= marketPriceBuffer
	}
	if notional > MaxNotional {
		return false, fmt.Sprintf("order notional %.2f exceeds limit %.2f", notional, MaxNotional)
	}

	if order.Side == domain.SideBuy && notional > account.Balance {
		return false, fmt.Sprintf("insufficient balance: need %.2f, have %.2f", notional, account.Balance)
	}

	var current float64
	for _, p := range positions {
		if p.Symbol == order.Symbol {
			current = p.Qty
			break
		}
	}
	next := current + order.Qty
	if order.Side == domain.SideSell {
		next = current - order.Qty
	}
	if math.Abs(next) > MaxPositionQty {
		return false, fmt.Sprintf("position limit exceeded for %s: %.2f > %.2f", order.Symbol, math.Abs(next), MaxPositionQty)
	}

	return true, ""
}

// MemoryAccounts is the demo account source. Accounts are created lazily with
// a fixed seed balance; positions track filled orders.
type MemoryAccounts struct {
	mu        sync.Mutex
	accounts  map[string]domain.Account
	positions map[string]map[string]domain.Position // accountID -> symbol
}

// NewMemoryAccounts creates an empty account source.
func NewMemoryAccounts() *MemoryAccounts {
	return &MemoryAccounts{
		accounts:  make(map[string]domain.Account),
		positions: make(map[string]map[string]domain.Position),
	}
}

// AccountFor returns the user's account, creating it on first use.
func (m *MemoryAccounts) AccountFor(_ context.Context, userID string) (domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := "ACC_" + userID
	if acc, ok := m.accounts[id]; ok {
		return acc, nil
	}
	acc := domain.Account{
		AccountID:    id,
		OwnerUserID:  userID,
		BaseCurrency: "USD",
		Balance:      seedBalance,
	}
	m.accounts[id] = acc
	return acc, nil
}

// PositionsFor returns the account's open positions.
func (m *MemoryAccounts) PositionsFor(_ context.Context, account domain.Account) ([]domain.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bySymbol := m.positions[account.AccountID]
	out := make([]domain.Position, 0, len(bySymbol))
	for _, p := range bySymbol {
		out = append(out, p)
	}
	return out, nil
}

// ApplyFill adjusts the position and balance for a filled order.
func (m *MemoryAccounts) ApplyFill(account domain.Account, order domain.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bySymbol, ok := m.positions[account.AccountID]
	if !ok {
		bySymbol = make(map[string]domain.Position)
		m.positions[account.AccountID] = bySymbol
	}
	pos := bySymbol[order.Symbol]
	pos.Symbol = order.Symbol

	signed := order.Qty
	if order.Side == domain.SideSell {
		signed = -order.Qty
	}
	newQty := pos.Qty + signed
	if signed > 0 && newQty != 0 {
		pos.AvgPrice = (pos.AvgPrice*pos.Qty + order.Price*signed) / newQty
	}
	pos.Qty = newQty
	bySymbol[order.Symbol] = pos

	acc := m.accounts[account.AccountID]
	acc.Balance -= signed * order.Price
	m.accounts[account.AccountID] = acc
}
