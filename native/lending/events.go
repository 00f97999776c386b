package lending

import (
	"math/big"
	"time"
)

const (
	EventDeposit         = "lending.deposit"
	EventWithdraw        = "lending.withdraw"
	EventBorrow          = "lending.borrow"
	EventRepay           = "lending.repay"
	EventPaused          = "lending.paused"
	EventUnpaused        = "lending.unpaused"
	EventOracleUpdated   = "lending.oracleUpdated"
	EventEmergencySweep  = "lending.emergencySweep"
	EventCollateralFreed = "lending.collateralReleased"
	EventPricePublished  = "lending.pricePublished"
)

// Event is a committed state change. Amounts are base-unit decimal strings.
type Event struct {
	Type       string
	Account    Account
	Asset      string
	Attributes map[string]string
	Time       time.Time
}

// EventSink receives events after the operation that produced them has
// committed. Implementations must not call back into the engine.
type EventSink interface {
	Emit(Event)
}

// NoopSink discards all events.
type NoopSink struct{}

func (NoopSink) Emit(Event) {}

func newEvent(kind string, account Account, asset Asset, now time.Time) Event {
	ev := Event{Type: kind, Account: account, Attributes: map[string]string{}, Time: now}
	if asset.Valid() {
		ev.Asset = asset.Symbol()
	}
	return ev
}

func (e Event) with(key string, value *big.Int) Event {
	if value != nil {
		e.Attributes[key] = value.String()
	}
	return e
}
