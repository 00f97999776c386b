package lending

import (
	"fmt"
	"math/big"

	"github.com/Agihtaws/arbminidefi/storage"
)

// txn stages every write of one operation on top of the committed state. The
// committed state is not touched until apply succeeds, so discarding a txn is
// a complete rollback.
type txn struct {
	state engineState
	now   uint64

	lenders   map[LenderKey]*LenderPosition
	borrowers map[Account]*BorrowerPosition
	pool      *PoolTotals

	dirtyLenders   map[LenderKey]bool
	dirtyBorrowers map[Account]bool
	dirtyPool      bool
	oracleRef      *string

	transfers []Transfer
	events    []Event
}

func newTxn(state engineState, now uint64) *txn {
	return &txn{
		state:          state,
		now:            now,
		lenders:        make(map[LenderKey]*LenderPosition),
		borrowers:      make(map[Account]*BorrowerPosition),
		dirtyLenders:   make(map[LenderKey]bool),
		dirtyBorrowers: make(map[Account]bool),
	}
}

// lender returns a private copy of the lender record or nil.
func (t *txn) lender(account Account, asset Asset) (*LenderPosition, error) {
	key := LenderKey{Account: account, Asset: asset}
	if pos, ok := t.lenders[key]; ok {
		return pos.Clone(), nil
	}
	pos, err := t.state.GetLender(account, asset)
	if err != nil {
		return nil, fmt.Errorf("load lender %s/%s: %w", account.Hex(), asset, err)
	}
	t.lenders[key] = pos.Clone()
	return pos.Clone(), nil
}

func (t *txn) setLender(account Account, asset Asset, pos *LenderPosition) {
	key := LenderKey{Account: account, Asset: asset}
	if pos.isEmpty() {
		t.lenders[key] = nil
	} else {
		t.lenders[key] = pos.Clone()
	}
	t.dirtyLenders[key] = true
}

// borrower returns a private copy of the borrower record, or a zero record
// when the account has never borrowed.
func (t *txn) borrower(account Account) (*BorrowerPosition, error) {
	if pos, ok := t.borrowers[account]; ok {
		return normaliseBorrower(pos.Clone()), nil
	}
	pos, err := t.state.GetBorrower(account)
	if err != nil {
		return nil, fmt.Errorf("load borrower %s: %w", account.Hex(), err)
	}
	t.borrowers[account] = pos.Clone()
	return normaliseBorrower(pos.Clone()), nil
}

func (t *txn) setBorrower(account Account, pos *BorrowerPosition) {
	if pos.isEmpty() {
		t.borrowers[account] = nil
	} else {
		t.borrowers[account] = pos.Clone()
	}
	t.dirtyBorrowers[account] = true
}

// poolTotals returns the staged pool counters. Callers mutate the returned
// value in place and then call markPool.
func (t *txn) poolTotals() (*PoolTotals, error) {
	if t.pool != nil {
		return t.pool, nil
	}
	pool, err := t.state.GetPool()
	if err != nil {
		return nil, fmt.Errorf("load pool: %w", err)
	}
	t.pool = pool.Clone()
	return t.pool, nil
}

func (t *txn) markPool() { t.dirtyPool = true }

func (t *txn) setOracleReference(ref string) { t.oracleRef = &ref }

func (t *txn) pull(from Account, asset Asset, amount *big.Int) {
	if !isPositive(amount) {
		return
	}
	t.transfers = append(t.transfers, Transfer{Kind: TransferPull, Account: from, Asset: asset, Amount: new(big.Int).Set(amount)})
}

func (t *txn) push(to Account, asset Asset, amount *big.Int) {
	if !isPositive(amount) {
		return
	}
	t.transfers = append(t.transfers, Transfer{Kind: TransferPush, Account: to, Asset: asset, Amount: new(big.Int).Set(amount)})
}

func (t *txn) emit(ev Event) { t.events = append(t.events, ev) }

// checkInvariants validates the staged pool counters.
func (t *txn) checkInvariants() error {
	if t.pool == nil {
		return nil
	}
	for _, asset := range Assets {
		deposited := valueOrZero(t.pool.Deposited[asset])
		borrowed := valueOrZero(t.pool.Borrowed[asset])
		collateral := valueOrZero(t.pool.Collateral[asset])
		if deposited.Sign() < 0 || borrowed.Sign() < 0 || collateral.Sign() < 0 {
			return fmt.Errorf("%w: negative %s pool counter", ErrSolvencyViolation, asset)
		}
		if deposited.Cmp(borrowed) < 0 {
			return fmt.Errorf("%w: %s deposits %s below borrowed %s", ErrSolvencyViolation, asset, deposited, borrowed)
		}
	}
	return nil
}

func (t *txn) changeset() *Changeset {
	cs := &Changeset{OracleReference: t.oracleRef}
	if len(t.dirtyLenders) > 0 {
		cs.Lenders = make(map[LenderKey]*LenderPosition, len(t.dirtyLenders))
		for key := range t.dirtyLenders {
			cs.Lenders[key] = t.lenders[key].Clone()
		}
	}
	if len(t.dirtyBorrowers) > 0 {
		cs.Borrowers = make(map[Account]*BorrowerPosition, len(t.dirtyBorrowers))
		for account := range t.dirtyBorrowers {
			cs.Borrowers[account] = t.borrowers[account].Clone()
		}
	}
	if t.dirtyPool {
		cs.Pool = t.pool.Clone()
	}
	return cs
}

// batchState is a state that can fold extra writes into its commit batch.
type batchState interface {
	Database() storage.Database
	CommitWith(changes *Changeset, extra func(storage.Batch)) error
}

// apply executes the staged custody transfers and commits the changeset.
// When custody and records share a database both are written in one batch.
// Otherwise transfers run first and are reversed when a later step fails.
func (t *txn) apply(custody Custody) error {
	if err := t.checkInvariants(); err != nil {
		return err
	}
	if bc, ok := custody.(BatchCustody); ok {
		if state, ok := t.state.(batchState); ok && state.Database() == bc.Database() {
			return t.applyBatch(bc, state)
		}
	}
	executed := make([]Transfer, 0, len(t.transfers))
	for _, tr := range t.transfers {
		if err := runTransfer(custody, tr); err != nil {
			if rollbackErr := compensate(custody, executed); rollbackErr != nil {
				return fmt.Errorf("%w (compensation failed: %v)", err, rollbackErr)
			}
			return err
		}
		executed = append(executed, tr)
	}
	cs := t.changeset()
	if cs.Empty() {
		return nil
	}
	if err := t.state.Commit(cs); err != nil {
		err = fmt.Errorf("commit ledger state: %w", err)
		if rollbackErr := compensate(custody, executed); rollbackErr != nil {
			return fmt.Errorf("%w (compensation failed: %v)", err, rollbackErr)
		}
		return err
	}
	return nil
}

func (t *txn) applyBatch(custody BatchCustody, state batchState) error {
	staged := custody.Begin()
	defer staged.Release()
	for _, tr := range t.transfers {
		if err := staged.Stage(tr); err != nil {
			return transferError(tr, err)
		}
	}
	var extra func(storage.Batch)
	if len(t.transfers) > 0 {
		extra = staged.Flush
	}
	if err := state.CommitWith(t.changeset(), extra); err != nil {
		return fmt.Errorf("commit ledger state: %w", err)
	}
	return nil
}

func runTransfer(custody Custody, tr Transfer) error {
	var err error
	switch tr.Kind {
	case TransferPull:
		err = custody.Pull(tr.Account, tr.Asset, tr.Amount)
	case TransferPush:
		err = custody.Push(tr.Account, tr.Asset, tr.Amount)
	}
	if err != nil {
		return transferError(tr, err)
	}
	return nil
}

func transferError(tr Transfer, err error) error {
	if tr.Kind == TransferPull {
		return fmt.Errorf("%w: pull %s %s from %s: %v", ErrValidation, tr.Amount, tr.Asset, tr.Account.Hex(), err)
	}
	return fmt.Errorf("%w: push %s %s to %s: %v", ErrInsufficientLiquidity, tr.Amount, tr.Asset, tr.Account.Hex(), err)
}

func compensate(custody Custody, executed []Transfer) error {
	for i := len(executed) - 1; i >= 0; i-- {
		tr := executed[i]
		var err error
		switch tr.Kind {
		case TransferPull:
			err = custody.Push(tr.Account, tr.Asset, tr.Amount)
		case TransferPush:
			err = custody.Pull(tr.Account, tr.Asset, tr.Amount)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func normaliseBorrower(pos *BorrowerPosition) *BorrowerPosition {
	if pos == nil {
		pos = &BorrowerPosition{}
	}
	for _, asset := range Assets {
		if pos.Loans[asset].Principal == nil {
			pos.Loans[asset].Principal = big.NewInt(0)
		}
		if pos.Loans[asset].CollateralAmount == nil {
			pos.Loans[asset].CollateralAmount = big.NewInt(0)
		}
		if pos.Collateral[asset] == nil {
			pos.Collateral[asset] = big.NewInt(0)
		}
	}
	return pos
}
