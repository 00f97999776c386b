// Package custody holds the asset balances the ledger moves funds between:
// per-account wallets and the ledger's own holdings.
package custody

import (
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/Agihtaws/arbminidefi/native/lending"
	"github.com/Agihtaws/arbminidefi/storage"
)

var (
	ErrInsufficientFunds = errors.New("custody: insufficient funds")
	ErrInvalidAmount     = errors.New("custody: amount must be positive")
	ErrUnknownAsset      = errors.New("custody: unknown asset")
)

var (
	holdingsPrefix = []byte("custody/holdings/")
	walletPrefix   = []byte("custody/wallet/")
)

// Vault is a database backed custody. Every transfer updates the wallet and
// the holdings in one batch. When the ledger records live in the same
// database the engine stages transfers through Begin and commits them with
// the records.
type Vault struct {
	mu sync.Mutex
	db storage.Database
}

func NewVault(db storage.Database) *Vault {
	return &Vault{db: db}
}

func holdingsKey(asset lending.Asset) []byte {
	return append(append([]byte(nil), holdingsPrefix...), byte(asset))
}

func walletKey(account lending.Account, asset lending.Asset) []byte {
	key := append(append([]byte(nil), walletPrefix...), byte(asset), '/')
	return append(key, account.Bytes()...)
}

func (v *Vault) read(key []byte) (*big.Int, error) {
	data, err := v.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(data), nil
}

func checkTransfer(asset lending.Asset, amount *big.Int) error {
	if !asset.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownAsset, asset)
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// Balance returns the ledger's holdings of asset.
func (v *Vault) Balance(asset lending.Asset) (*big.Int, error) {
	if !asset.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownAsset, asset)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.read(holdingsKey(asset))
}

// WalletBalance returns an account's balance held outside the ledger.
func (v *Vault) WalletBalance(account lending.Account, asset lending.Asset) (*big.Int, error) {
	if !asset.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownAsset, asset)
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.read(walletKey(account, asset))
}

// Credit mints amount into an account wallet. Used for genesis balances and
// development faucets.
func (v *Vault) Credit(account lending.Account, asset lending.Asset, amount *big.Int) error {
	if err := checkTransfer(asset, amount); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	key := walletKey(account, asset)
	current, err := v.read(key)
	if err != nil {
		return err
	}
	return v.db.Put(key, current.Add(current, amount).Bytes())
}

// Pull moves amount from the account wallet into the ledger holdings.
func (v *Vault) Pull(from lending.Account, asset lending.Asset, amount *big.Int) error {
	return v.move(walletKey(from, asset), holdingsKey(asset), asset, amount)
}

// Push moves amount from the ledger holdings to the account wallet.
func (v *Vault) Push(to lending.Account, asset lending.Asset, amount *big.Int) error {
	return v.move(holdingsKey(asset), walletKey(to, asset), asset, amount)
}

func (v *Vault) move(fromKey, toKey []byte, asset lending.Asset, amount *big.Int) error {
	if err := checkTransfer(asset, amount); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	src, err := v.read(fromKey)
	if err != nil {
		return err
	}
	if src.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s %s, need %s", ErrInsufficientFunds, src, asset, amount)
	}
	dst, err := v.read(toKey)
	if err != nil {
		return err
	}
	batch := v.db.NewBatch()
	batch.Put(fromKey, src.Sub(src, amount).Bytes())
	batch.Put(toKey, dst.Add(dst, amount).Bytes())
	return batch.Write()
}

// Database returns the database the balances are kept in.
func (v *Vault) Database() storage.Database { return v.db }

// Begin locks the vault and opens a staging area for one ledger commit.
func (v *Vault) Begin() lending.CustodyBatch {
	v.mu.Lock()
	return &stagedTransfers{vault: v, balances: make(map[string]*big.Int)}
}

type stagedTransfers struct {
	vault    *Vault
	balances map[string]*big.Int
	order    []string
	released bool
}

func (s *stagedTransfers) balance(key []byte) (*big.Int, error) {
	if bal, ok := s.balances[string(key)]; ok {
		return bal, nil
	}
	bal, err := s.vault.read(key)
	if err != nil {
		return nil, err
	}
	s.balances[string(key)] = bal
	s.order = append(s.order, string(key))
	return bal, nil
}

func (s *stagedTransfers) Stage(tr lending.Transfer) error {
	if s.released {
		return errors.New("custody: staging area released")
	}
	if err := checkTransfer(tr.Asset, tr.Amount); err != nil {
		return err
	}
	fromKey, toKey := holdingsKey(tr.Asset), walletKey(tr.Account, tr.Asset)
	if tr.Kind == lending.TransferPull {
		fromKey, toKey = toKey, fromKey
	}
	src, err := s.balance(fromKey)
	if err != nil {
		return err
	}
	if src.Cmp(tr.Amount) < 0 {
		return fmt.Errorf("%w: have %s %s, need %s", ErrInsufficientFunds, src, tr.Asset, tr.Amount)
	}
	dst, err := s.balance(toKey)
	if err != nil {
		return err
	}
	src.Sub(src, tr.Amount)
	dst.Add(dst, tr.Amount)
	return nil
}

func (s *stagedTransfers) Flush(batch storage.Batch) {
	for _, key := range s.order {
		batch.Put([]byte(key), s.balances[key].Bytes())
	}
}

func (s *stagedTransfers) Release() {
	if s.released {
		return
	}
	s.released = true
	s.vault.mu.Unlock()
}
