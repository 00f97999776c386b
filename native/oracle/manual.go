package oracle

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const maxPriceExponent = 40

// ManualSource is an in-memory source used for tests, local development and
// manual overrides during incident response. Each Set starts a new round.
type ManualSource struct {
	mu    sync.RWMutex
	round Round
	set   bool
}

func NewManualSource() *ManualSource {
	return &ManualSource{}
}

// Set publishes a price expressed with the given decimals.
func (m *ManualSource) Set(answer *big.Int, decimals uint8, updatedAt time.Time) {
	if m == nil || answer == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	next := m.round.RoundID + 1
	m.round = Round{
		RoundID:         next,
		AnsweredInRound: next,
		Answer:          new(big.Int).Set(answer),
		Decimals:        decimals,
		UpdatedAt:       updatedAt,
	}
	m.set = true
}

// SetDecimal parses a human readable USD price such as "3000.25".
func (m *ManualSource) SetDecimal(price string, updatedAt time.Time) error {
	if m == nil {
		return fmt.Errorf("manual oracle not configured")
	}
	trimmed := strings.TrimSpace(price)
	if trimmed == "" {
		return fmt.Errorf("manual oracle: price required")
	}
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return fmt.Errorf("manual oracle: invalid price %q: %w", price, err)
	}
	if !value.IsPositive() {
		return fmt.Errorf("manual oracle: price must be positive")
	}
	if exp := value.Exponent(); exp > maxPriceExponent || exp < -maxPriceExponent {
		return fmt.Errorf("manual oracle: price %q out of range", price)
	}
	scaled := value.Shift(PriceDecimals).Truncate(0)
	m.Set(scaled.BigInt(), PriceDecimals, updatedAt)
	return nil
}

// SetRound publishes a raw round, including inconsistent ones, for tests.
func (m *ManualSource) SetRound(round Round) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if round.Answer != nil {
		round.Answer = new(big.Int).Set(round.Answer)
	}
	m.round = round
	m.set = true
}

func (m *ManualSource) LatestRound(context.Context) (Round, error) {
	if m == nil {
		return Round{}, ErrNotConfigured
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.set {
		return Round{}, fmt.Errorf("%w: manual price not set", ErrSourceUnavailable)
	}
	round := m.round
	if round.Answer != nil {
		round.Answer = new(big.Int).Set(round.Answer)
	}
	return round, nil
}
