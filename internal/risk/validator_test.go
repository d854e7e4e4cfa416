package risk

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bulltrade/gateway/internal/domain"
)

func limitBuy(symbol string, qty, price float64) domain.Order {
	return domain.Order{Symbol: symbol, Type: domain.OrderTypeLimit, Side: domain.SideBuy, Qty: qty, Price: price}
}

func TestValidateAcceptsReasonableOrder(t *testing.T) {
	v := NewValidator()
	acc := domain.Account{AccountID: "ACC_u", Balance: 100_000}

	ok, reason := v.Validate(acc, nil, limitBuy("ETH-USD", 2, 2500))
	assert.True(t, ok)
	assert.Empty(t, reason)
}

func TestValidateRejectsNonPositiveInputs(t *testing.T) {
	v := NewValidator()
	acc := domain.Account{Balance: 100_000}

	ok, reason := v.Validate(acc, nil, limitBuy("ETH-USD", 0, 2500))
	assert.False(t, ok)
	assert.Contains(t, reason, "quantity")

	ok, reason = v.Validate(acc, nil, limitBuy("ETH-USD", 1, -5))
	assert.False(t, ok)
	assert.Contains(t, reason, "price")
}

func TestValidateNotionalLimit(t *testing.T) {
	v := NewValidator()
	acc := domain.Account{Balance: 1_000_000}

	ok, reason := v.Validate(acc, nil, limitBuy("BTC-USD", 3, 45_000))
	assert.False(t, ok)
	assert.Contains(t, reason, "notional")

	// A market order is valued with the slippage buffer: 2.1 * 45000 * 1.1
	// crosses the cap where the plain notional would not.
	market := domain.Order{Symbol: "BTC-USD", Type: domain.OrderTypeMarket, Side: domain.SideBuy, Qty: 2.1, Price: 45_000}
	ok, reason = v.Validate(acc, nil, market)
	assert.False(t, ok)
	assert.Contains(t, reason, "notional")

	asLimit := market
	asLimit.Type = domain.OrderTypeLimit
	ok, _ = v.Validate(acc, nil, asLimit)
	assert.True(t, ok)
}

func TestValidateBalanceCheck(t *testing.T) {
	v := NewValidator()
	acc := domain.Account{Balance: 1000}

	ok, reason := v.Validate(acc, nil, limitBuy("ETH-USD", 1, 2500))
	assert.False(t, ok)
	assert.Contains(t, reason, "insufficient balance")

	// Sells do not need buying power.
	sell := domain.Order{Symbol: "ETH-USD", Type: domain.OrderTypeLimit, Side: domain.SideSell, Qty: 1, Price: 2500}
	ok, _ = v.Validate(acc, nil, sell)
	assert.True(t, ok)
}

func TestValidatePositionLimit(t *testing.T) {
	v := NewValidator()
	acc := domain.Account{Balance: 100_000}
	positions := []domain.Position{{Symbol: "ADA-USD", Qty: 950}}

	ok, reason := v.Validate(acc, positions, limitBuy("ADA-USD", 100, 0.45))
	assert.False(t, ok)
	assert.Contains(t, reason, "position limit")

	ok, _ = v.Validate(acc, positions, limitBuy("ADA-USD", 50, 0.45))
	assert.True(t, ok)

	// Short positions count by absolute size.
	short := []domain.Position{{Symbol: "ADA-USD", Qty: -950}}
	sell := domain.Order{Symbol: "ADA-USD", Type: domain.OrderTypeLimit, Side: domain.SideSell, Qty: 100, Price: 0.45}
	ok, reason = v.Validate(acc, short, sell)
	assert.False(t, ok)
	assert.Contains(t, reason, "position limit")
}

func TestAccountsSeededLazily(t *testing.T) {
	m := NewMemoryAccounts()
	ctx := context.Background()

	acc, err := m.AccountFor(ctx, "trader-user-123")
	require.NoError(t, err)
	assert.Equal(t, "ACC_trader-user-123", acc.AccountID)
	assert.Equal(t, "USD", acc.BaseCurrency)
	assert.Equal(t, 100_000.0, acc.Balance)

	again, err := m.AccountFor(ctx, "trader-user-123")
	require.NoError(t, err)
	assert.Equal(t, acc, again)

	positions, err := m.PositionsFor(ctx, acc)
	require.NoError(t, err)
	assert.Empty(t, positions)
}

func TestApplyFillAdjustsPositionAndBalance(t *testing.T) {
	m := NewMemoryAccounts()
	ctx := context.Background()
	acc, err := m.AccountFor(ctx, "u")
	require.NoError(t, err)

	m.ApplyFill(acc, domain.Order{Symbol: "ETH-USD", Side: domain.SideBuy, Qty: 2, Price: 2000})
	m.ApplyFill(acc, domain.Order{Symbol: "ETH-USD", Side: domain.SideBuy, Qty: 2, Price: 3000})

	positions, err := m.PositionsFor(ctx, acc)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, 4.0, positions[0].Qty)
	assert.Equal(t, 2500.0, positions[0].AvgPrice)

	acc, err = m.AccountFor(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, 100_000.0-10_000.0, acc.Balance)

	m.ApplyFill(acc, domain.Order{Symbol: "ETH-USD", Side: domain.SideSell, Qty: 4, Price: 2600})
	acc, err = m.AccountFor(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, 100_000.0-10_000.0+10_400.0, acc.Balance)
}
