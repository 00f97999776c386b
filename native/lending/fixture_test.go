package lending

import (
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Agihtaws/arbminidefi/native/oracle"
	"github.com/Agihtaws/arbminidefi/storage"
)

var (
	ownerAddr = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	alice     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob       = common.HexToAddress("0x00000000000000000000000000000000000000b0")
	carol     = common.HexToAddress("0x00000000000000000000000000000000000000c4")
)

var errCustodyDown = errors.New("custody unavailable")

// mockCustody keeps wallets and holdings in memory.
type mockCustody struct {
	holdings map[Asset]*big.Int
	wallets  map[Account]map[Asset]*big.Int
	// failNextPush and failNextPull reject a single transfer and reset.
	failNextPush bool
	failNextPull bool
}

func newMockCustody() *mockCustody {
	return &mockCustody{
		holdings: map[Asset]*big.Int{AssetNative: big.NewInt(0), AssetStable: big.NewInt(0)},
		wallets:  make(map[Account]map[Asset]*big.Int),
	}
}

func (m *mockCustody) wallet(account Account, asset Asset) *big.Int {
	if m.wallets[account] == nil {
		m.wallets[account] = map[Asset]*big.Int{AssetNative: big.NewInt(0), AssetStable: big.NewInt(0)}
	}
	return m.wallets[account][asset]
}

func (m *mockCustody) fund(account Account, asset Asset, amount *big.Int) {
	w := m.wallet(account, asset)
	w.Add(w, amount)
}

func (m *mockCustody) Balance(asset Asset) (*big.Int, error) {
	return new(big.Int).Set(m.holdings[asset]), nil
}

func (m *mockCustody) Pull(from Account, asset Asset, amount *big.Int) error {
	if m.failNextPull {
		m.failNextPull = false
		return errCustodyDown
	}
	w := m.wallet(from, asset)
	if w.Cmp(amount) < 0 {
		return fmt.Errorf("wallet %s has %s %s, need %s", from.Hex(), w, asset, amount)
	}
	w.Sub(w, amount)
	m.holdings[asset].Add(m.holdings[asset], amount)
	return nil
}

func (m *mockCustody) Push(to Account, asset Asset, amount *big.Int) error {
	if m.failNextPush {
		m.failNextPush = false
		return errCustodyDown
	}
	if m.holdings[asset].Cmp(amount) < 0 {
		return fmt.Errorf("holdings %s %s below %s", m.holdings[asset], asset, amount)
	}
	m.holdings[asset].Sub(m.holdings[asset], amount)
	w := m.wallet(to, asset)
	w.Add(w, amount)
	return nil
}

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) advance(d time.Duration) { c.now = c.now.Add(d) }

type recordingSink struct {
	events []Event
}

func (r *recordingSink) Emit(ev Event) { r.events = append(r.events, ev) }

func (r *recordingSink) types() []string {
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	t       *testing.T
	engine  *Engine
	store   *Store
	custody *mockCustody
	manual  *oracle.ManualSource
	adapter *oracle.Adapter
	clock   *testClock
	sink    *recordingSink
}

func newFixture(t *testing.T, params Params) *fixture {
	t.Helper()
	clock := &testClock{now: time.Unix(1_700_000_000, 0).UTC()}
	manual := oracle.NewManualSource()
	if err := manual.SetDecimal("3000", clock.now); err != nil {
		t.Fatalf("set price: %v", err)
	}
	adapter := oracle.NewAdapter(manual, oracle.KindManual, 0)
	adapter.SetClock(clock.Now)

	store := NewStore(storage.NewMemDB())
	custody := newMockCustody()
	sink := &recordingSink{}

	engine := NewEngine(ownerAddr, params)
	engine.SetState(store)
	engine.SetCustody(custody)
	engine.SetPriceFeed(adapter, &oracle.Resolver{Manual: manual})
	engine.SetEventSink(sink)
	engine.SetClock(clock.Now)

	return &fixture{
		t:       t,
		engine:  engine,
		store:   store,
		custody: custody,
		manual:  manual,
		adapter: adapter,
		clock:   clock,
		sink:    sink,
	}
}

func (f *fixture) setPrice(price string) {
	f.t.Helper()
	if err := f.manual.SetDecimal(price, f.clock.now); err != nil {
		f.t.Fatalf("set price: %v", err)
	}
}

func (f *fixture) pool() *PoolTotals {
	f.t.Helper()
	pool, err := f.store.GetPool()
	if err != nil {
		f.t.Fatalf("load pool: %v", err)
	}
	return pool
}

func (f *fixture) deposit(account Account, asset Asset, amount *big.Int) {
	f.t.Helper()
	f.custody.fund(account, asset, amount)
	if _, err := f.engine.Deposit(ctxBG, account, asset, amount); err != nil {
		f.t.Fatalf("deposit %s %s: %v", amount, asset, err)
	}
}

func (f *fixture) assertSolvent() {
	f.t.Helper()
	pool := f.pool()
	for _, asset := range Assets {
		if pool.Deposited[asset].Cmp(pool.Borrowed[asset]) < 0 {
			f.t.Fatalf("%s deposits %s below borrowed %s", asset, pool.Deposited[asset], pool.Borrowed[asset])
		}
	}
}

func eth(whole int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(whole), nativeUnit)
}

func usdc(whole int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(whole), big.NewInt(1_000_000))
}

func mustBig(t *testing.T, value string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		t.Fatalf("invalid integer %q", value)
	}
	return v
}

func plus(a *big.Int, delta int64) *big.Int {
	return new(big.Int).Add(a, big.NewInt(delta))
}
