package lending

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/Agihtaws/arbminidefi/storage"
)

var (
	lenderPrefix   = []byte("lending/lender/")
	borrowerPrefix = []byte("lending/borrower/")
	poolKey        = []byte("lending/pool")
	oracleRefKey   = []byte("lending/oracle")
)

type storedLender struct {
	Principal   *big.Int
	Interest    *big.Int
	LastAccrual uint64
	LastDeposit uint64
}

type storedLoan struct {
	Principal        *big.Int
	Active           bool
	LastAccrual      uint64
	BorrowedAt       uint64
	CollateralAsset  uint8
	CollateralAmount *big.Int
}

type storedBorrower struct {
	Native           storedLoan
	Stable           storedLoan
	CollateralNative *big.Int
	CollateralStable *big.Int
}

type storedPool struct {
	DepositedNative  *big.Int
	DepositedStable  *big.Int
	BorrowedNative   *big.Int
	BorrowedStable   *big.Int
	CollateralNative *big.Int
	CollateralStable *big.Int
}

// Store persists ledger records in a key-value database. Every Commit is
// written as one storage batch.
type Store struct {
	db storage.Database
}

func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

func lenderKey(account Account, asset Asset) []byte {
	key := make([]byte, 0, len(lenderPrefix)+1+1+len(account))
	key = append(key, lenderPrefix...)
	key = append(key, byte(asset), '/')
	return append(key, account.Bytes()...)
}

func borrowerKey(account Account) []byte {
	key := make([]byte, 0, len(borrowerPrefix)+len(account))
	key = append(key, borrowerPrefix...)
	return append(key, account.Bytes()...)
}

func (s *Store) load(key []byte, out interface{}) (bool, error) {
	if s == nil || s.db == nil {
		return false, errNilState
	}
	data, err := s.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("decode %q: %w", key, err)
	}
	return true, nil
}

func (s *Store) GetLender(account Account, asset Asset) (*LenderPosition, error) {
	var stored storedLender
	ok, err := s.load(lenderKey(account, asset), &stored)
	if err != nil || !ok {
		return nil, err
	}
	return &LenderPosition{
		Principal:   valueOrZero(stored.Principal),
		Interest:    valueOrZero(stored.Interest),
		LastAccrual: stored.LastAccrual,
		LastDeposit: stored.LastDeposit,
	}, nil
}

func (s *Store) GetBorrower(account Account) (*BorrowerPosition, error) {
	var stored storedBorrower
	ok, err := s.load(borrowerKey(account), &stored)
	if err != nil || !ok {
		return nil, err
	}
	pos := &BorrowerPosition{}
	pos.Loans[AssetNative] = stored.Native.loan()
	pos.Loans[AssetStable] = stored.Stable.loan()
	pos.Collateral[AssetNative] = valueOrZero(stored.CollateralNative)
	pos.Collateral[AssetStable] = valueOrZero(stored.CollateralStable)
	return pos, nil
}

func (s *Store) GetPool() (*PoolTotals, error) {
	var stored storedPool
	if _, err := s.load(poolKey, &stored); err != nil {
		return nil, err
	}
	pool := &PoolTotals{}
	pool.Deposited[AssetNative] = valueOrZero(stored.DepositedNative)
	pool.Deposited[AssetStable] = valueOrZero(stored.DepositedStable)
	pool.Borrowed[AssetNative] = valueOrZero(stored.BorrowedNative)
	pool.Borrowed[AssetStable] = valueOrZero(stored.BorrowedStable)
	pool.Collateral[AssetNative] = valueOrZero(stored.CollateralNative)
	pool.Collateral[AssetStable] = valueOrZero(stored.CollateralStable)
	return pool, nil
}

func (s *Store) GetOracleReference() (string, error) {
	if s == nil || s.db == nil {
		return "", errNilState
	}
	data, err := s.db.Get(oracleRefKey)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Database returns the database the records are kept in.
func (s *Store) Database() storage.Database {
	if s == nil {
		return nil
	}
	return s.db
}

// Commit writes the changeset atomically.
func (s *Store) Commit(changes *Changeset) error {
	return s.CommitWith(changes, nil)
}

// CommitWith writes the changeset and whatever extra stages into the same
// batch, so writes from other stores sharing the database land atomically
// with the records.
func (s *Store) CommitWith(changes *Changeset, extra func(storage.Batch)) error {
	if s == nil || s.db == nil {
		return errNilState
	}
	if changes.Empty() && extra == nil {
		return nil
	}
	batch := s.db.NewBatch()
	if changes == nil {
		changes = &Changeset{}
	}
	for key, pos := range changes.Lenders {
		dbKey := lenderKey(key.Account, key.Asset)
		if pos == nil {
			batch.Delete(dbKey)
			continue
		}
		encoded, err := rlp.EncodeToBytes(&storedLender{
			Principal:   valueOrZero(pos.Principal),
			Interest:    valueOrZero(pos.Interest),
			LastAccrual: pos.LastAccrual,
			LastDeposit: pos.LastDeposit,
		})
		if err != nil {
			return fmt.Errorf("encode lender: %w", err)
		}
		batch.Put(dbKey, encoded)
	}
	for account, pos := range changes.Borrowers {
		dbKey := borrowerKey(account)
		if pos == nil {
			batch.Delete(dbKey)
			continue
		}
		encoded, err := rlp.EncodeToBytes(&storedBorrower{
			Native:           newStoredLoan(pos.Loans[AssetNative]),
			Stable:           newStoredLoan(pos.Loans[AssetStable]),
			CollateralNative: valueOrZero(pos.Collateral[AssetNative]),
			CollateralStable: valueOrZero(pos.Collateral[AssetStable]),
		})
		if err != nil {
			return fmt.Errorf("encode borrower: %w", err)
		}
		batch.Put(dbKey, encoded)
	}
	if pool := changes.Pool; pool != nil {
		encoded, err := rlp.EncodeToBytes(&storedPool{
			DepositedNative:  valueOrZero(pool.Deposited[AssetNative]),
			DepositedStable:  valueOrZero(pool.Deposited[AssetStable]),
			BorrowedNative:   valueOrZero(pool.Borrowed[AssetNative]),
			BorrowedStable:   valueOrZero(pool.Borrowed[AssetStable]),
			CollateralNative: valueOrZero(pool.Collateral[AssetNative]),
			CollateralStable: valueOrZero(pool.Collateral[AssetStable]),
		})
		if err != nil {
			return fmt.Errorf("encode pool: %w", err)
		}
		batch.Put(poolKey, encoded)
	}
	if ref := changes.OracleReference; ref != nil {
		batch.Put(oracleRefKey, []byte(*ref))
	}
	if extra != nil {
		extra(batch)
	}
	return batch.Write()
}

// Lenders lists every persisted lender record. Used by operators to audit
// pool totals against individual positions.
func (s *Store) Lenders() (map[LenderKey]*LenderPosition, error) {
	if s == nil || s.db == nil {
		return nil, errNilState
	}
	out := make(map[LenderKey]*LenderPosition)
	err := s.db.Iterate(lenderPrefix, func(key, value []byte) error {
		rest := key[len(lenderPrefix):]
		if len(rest) != 2+len(Account{}) {
			return fmt.Errorf("malformed lender key %x", key)
		}
		var stored storedLender
		if err := rlp.DecodeBytes(value, &stored); err != nil {
			return fmt.Errorf("decode lender %x: %w", key, err)
		}
		lk := LenderKey{Asset: Asset(rest[0])}
		copy(lk.Account[:], rest[2:])
		out[lk] = &LenderPosition{
			Principal:   valueOrZero(stored.Principal),
			Interest:    valueOrZero(stored.Interest),
			LastAccrual: stored.LastAccrual,
			LastDeposit: stored.LastDeposit,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func newStoredLoan(loan Loan) storedLoan {
	return storedLoan{
		Principal:        valueOrZero(loan.Principal),
		Active:           loan.Active,
		LastAccrual:      loan.LastAccrual,
		BorrowedAt:       loan.BorrowedAt,
		CollateralAsset:  uint8(loan.CollateralAsset),
		CollateralAmount: valueOrZero(loan.CollateralAmount),
	}
}

func (s storedLoan) loan() Loan {
	return Loan{
		Principal:        valueOrZero(s.Principal),
		Active:           s.Active,
		LastAccrual:      s.LastAccrual,
		BorrowedAt:       s.BorrowedAt,
		CollateralAsset:  Asset(s.CollateralAsset),
		CollateralAmount: valueOrZero(s.CollateralAmount),
	}
}

// AuditReport compares the pool deposit counters with the sum of lender
// principal.
type AuditReport struct {
	Lenders         int
	PrincipalSum    [2]*big.Int
	Deposited       [2]*big.Int
	DepositsBalance bool
}

// Audit recomputes deposit totals from the individual lender records.
func (s *Store) Audit() (AuditReport, error) {
	lenders, err := s.Lenders()
	if err != nil {
		return AuditReport{}, err
	}
	pool, err := s.GetPool()
	if err != nil {
		return AuditReport{}, err
	}
	report := AuditReport{Lenders: len(lenders), DepositsBalance: true}
	for _, asset := range Assets {
		report.PrincipalSum[asset] = big.NewInt(0)
		report.Deposited[asset] = new(big.Int).Set(valueOrZero(pool.Deposited[asset]))
	}
	for key, pos := range lenders {
		if !key.Asset.Valid() {
			return AuditReport{}, fmt.Errorf("lender record with unknown asset %d", key.Asset)
		}
		report.PrincipalSum[key.Asset].Add(report.PrincipalSum[key.Asset], valueOrZero(pos.Principal))
	}
	for _, asset := range Assets {
		if report.PrincipalSum[asset].Cmp(report.Deposited[asset]) != 0 {
			report.DepositsBalance = false
		}
	}
	return report, nil
}
