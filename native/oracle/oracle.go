// Package oracle reads the native asset's USD price from an external source
// and validates every round before the ledger is allowed to value collateral
// with it.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/holiman/uint256"
)

// PriceDecimals is the fixed-point precision shared by prices, USD values and
// the stable asset.
const PriceDecimals = 6

// DefaultMaxAge is the staleness threshold applied when none is configured.
const DefaultMaxAge = 24 * time.Hour

var (
	// ErrOracle is the class every validation or source failure wraps.
	ErrOracle = errors.New("oracle error")

	ErrNotConfigured     = fmt.Errorf("%w: source not configured", ErrOracle)
	ErrNonPositivePrice  = fmt.Errorf("%w: price must be positive", ErrOracle)
	ErrRoundIncomplete   = fmt.Errorf("%w: round timestamp not set", ErrOracle)
	ErrStalePrice        = fmt.Errorf("%w: price is stale", ErrOracle)
	ErrStaleRound        = fmt.Errorf("%w: answered round older than reported round", ErrOracle)
	ErrUnsupportedScale  = fmt.Errorf("%w: unsupported decimals", ErrOracle)
	ErrSourceUnavailable = fmt.Errorf("%w: source unavailable", ErrOracle)
)

// Round mirrors the fields of an AggregatorV3 latestRoundData response.
type Round struct {
	RoundID         uint64
	AnsweredInRound uint64
	Answer          *big.Int
	Decimals        uint8
	UpdatedAt       time.Time
}

// Source returns the most recent round reported by an upstream feed.
type Source interface {
	LatestRound(ctx context.Context) (Round, error)
}

// PriceSnapshot is a validated price expressed with PriceDecimals decimals.
type PriceSnapshot struct {
	Price   *big.Int
	AsOf    time.Time
	RoundID uint64
}

// Clone returns a deep copy of the snapshot.
func (s PriceSnapshot) Clone() PriceSnapshot {
	clone := PriceSnapshot{AsOf: s.AsOf, RoundID: s.RoundID}
	if s.Price != nil {
		clone.Price = new(big.Int).Set(s.Price)
	}
	return clone
}

// Observer is notified about accepted and rejected reads.
type Observer interface {
	RecordOracleFailure(reason string)
	RecordOraclePrice(price *big.Int, decimals int, age time.Duration)
}

// Adapter validates rounds from the configured source. Nothing is cached: a
// snapshot is fetched and checked on every call.
type Adapter struct {
	mu        sync.RWMutex
	source    Source
	reference string
	maxAge    time.Duration
	now       func() time.Time
	observer  Observer
}

// NewAdapter wraps the source. A non-positive maxAge selects DefaultMaxAge.
func NewAdapter(source Source, reference string, maxAge time.Duration) *Adapter {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Adapter{
		source:    source,
		reference: strings.TrimSpace(reference),
		maxAge:    maxAge,
		now:       time.Now,
	}
}

// SetClock overrides the time source used for staleness checks.
func (a *Adapter) SetClock(now func() time.Time) {
	if a == nil || now == nil {
		return
	}
	a.mu.Lock()
	a.now = now
	a.mu.Unlock()
}

// SetObserver wires metrics for accepted and rejected reads.
func (a *Adapter) SetObserver(observer Observer) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.observer = observer
	a.mu.Unlock()
}

// Swap replaces the source and its reference string.
func (a *Adapter) Swap(source Source, reference string) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.source = source
	a.reference = strings.TrimSpace(reference)
	a.mu.Unlock()
}

// Reference returns the identifier of the active source.
func (a *Adapter) Reference() string {
	if a == nil {
		return ""
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.reference
}

// MaxAge returns the staleness threshold.
func (a *Adapter) MaxAge() time.Duration {
	if a == nil {
		return 0
	}
	return a.maxAge
}

// CurrentPrice reads the latest round and validates it. Any failure wraps
// ErrOracle.
func (a *Adapter) CurrentPrice(ctx context.Context) (PriceSnapshot, error) {
	if a == nil {
		return PriceSnapshot{}, ErrNotConfigured
	}
	a.mu.RLock()
	source, now, observer := a.source, a.now, a.observer
	a.mu.RUnlock()
	if source == nil {
		return PriceSnapshot{}, a.reject(observer, "not_configured", ErrNotConfigured)
	}

	round, err := source.LatestRound(ctx)
	if err != nil {
		if errors.Is(err, ErrOracle) {
			return PriceSnapshot{}, a.reject(observer, "source", err)
		}
		return PriceSnapshot{}, a.reject(observer, "source", fmt.Errorf("%w: %v", ErrSourceUnavailable, err))
	}
	snapshot, err := validateRound(round, now(), a.maxAge)
	if err != nil {
		return PriceSnapshot{}, a.reject(observer, failureReason(err), err)
	}
	if observer != nil {
		observer.RecordOraclePrice(snapshot.Price, PriceDecimals, now().Sub(snapshot.AsOf))
	}
	return snapshot, nil
}

func (a *Adapter) reject(observer Observer, reason string, err error) error {
	if observer != nil {
		observer.RecordOracleFailure(reason)
	}
	return err
}

func validateRound(round Round, now time.Time, maxAge time.Duration) (PriceSnapshot, error) {
	if round.Answer == nil || round.Answer.Sign() <= 0 {
		return PriceSnapshot{}, ErrNonPositivePrice
	}
	if round.UpdatedAt.IsZero() || round.UpdatedAt.Unix() <= 0 {
		return PriceSnapshot{}, ErrRoundIncomplete
	}
	if age := now.Sub(round.UpdatedAt); age > maxAge {
		return PriceSnapshot{}, fmt.Errorf("%w: age %s exceeds %s", ErrStalePrice, age.Truncate(time.Second), maxAge)
	}
	if round.AnsweredInRound < round.RoundID {
		return PriceSnapshot{}, fmt.Errorf("%w: answered %d < round %d", ErrStaleRound, round.AnsweredInRound, round.RoundID)
	}
	price, err := Rescale(round.Answer, round.Decimals, PriceDecimals)
	if err != nil {
		return PriceSnapshot{}, err
	}
	if price.Sign() <= 0 {
		return PriceSnapshot{}, fmt.Errorf("%w: %s rounds to zero at %d decimals", ErrNonPositivePrice, round.Answer, PriceDecimals)
	}
	return PriceSnapshot{Price: price, AsOf: round.UpdatedAt, RoundID: round.RoundID}, nil
}

// Rescale converts value from one decimal precision to another, truncating
// when precision is reduced.
func Rescale(value *big.Int, from, to uint8) (*big.Int, error) {
	if value == nil || value.Sign() < 0 {
		return nil, ErrNonPositivePrice
	}
	if from > 77 || to > 77 {
		return nil, fmt.Errorf("%w: %d -> %d", ErrUnsupportedScale, from, to)
	}
	amount, overflow := uint256.FromBig(value)
	if overflow {
		return nil, fmt.Errorf("%w: answer exceeds 256 bits", ErrOracle)
	}
	switch {
	case from > to:
		amount.Div(amount, pow10(from-to))
	case from < to:
		if _, overflow := amount.MulOverflow(amount, pow10(to-from)); overflow {
			return nil, fmt.Errorf("%w: rescaled answer exceeds 256 bits", ErrOracle)
		}
	}
	return amount.ToBig(), nil
}

func pow10(exp uint8) *uint256.Int {
	return new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(exp)))
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrNonPositivePrice):
		return "non_positive"
	case errors.Is(err, ErrRoundIncomplete):
		return "incomplete_round"
	case errors.Is(err, ErrStalePrice):
		return "stale_price"
	case errors.Is(err, ErrStaleRound):
		return "stale_round"
	default:
		return "invalid"
	}
}
