package lending

import (
	"math/big"

	"github.com/Agihtaws/arbminidefi/storage"
)

// Custody moves asset balances between accounts and the ledger's holdings.
// Pull and Push must either move the full amount or fail without effect.
type Custody interface {
	// Balance returns the ledger's current holdings of the asset.
	Balance(asset Asset) (*big.Int, error)
	Pull(from Account, asset Asset, amount *big.Int) error
	Push(to Account, asset Asset, amount *big.Int) error
}

// TransferKind is the direction of a custody movement.
type TransferKind uint8

const (
	// TransferPull moves funds from an account wallet into the holdings.
	TransferPull TransferKind = iota + 1
	// TransferPush moves funds from the holdings to an account wallet.
	TransferPush
)

// Transfer is one custody movement staged by an operation.
type Transfer struct {
	Kind    TransferKind
	Account Account
	Asset   Asset
	Amount  *big.Int
}

// BatchCustody is a custody kept in the same database as the ledger records.
// Its balance changes are written in the batch that commits the records, so
// funds and positions move together or not at all.
type BatchCustody interface {
	Custody
	// Database is the store the balances live in.
	Database() storage.Database
	// Begin opens a staging area. It holds the custody exclusively until
	// Release.
	Begin() CustodyBatch
}

// CustodyBatch accumulates transfers against the committed balances.
type CustodyBatch interface {
	// Stage applies a transfer to the staged balances. It fails without
	// effect when the source balance is short.
	Stage(tr Transfer) error
	// Flush writes the staged balances into batch.
	Flush(batch storage.Batch)
	// Release ends the staging area. It is safe to call more than once.
	Release()
}
