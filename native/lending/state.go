package lending

// LenderKey identifies a lender record.
type LenderKey struct {
	Account Account
	Asset   Asset
}

// Changeset is the complete set of record writes produced by one operation.
// A nil map value deletes the record. Commit must apply it atomically.
type Changeset struct {
	Lenders         map[LenderKey]*LenderPosition
	Borrowers       map[Account]*BorrowerPosition
	Pool            *PoolTotals
	OracleReference *string
}

// Empty reports whether the changeset writes nothing.
func (c *Changeset) Empty() bool {
	return c == nil || (len(c.Lenders) == 0 && len(c.Borrowers) == 0 && c.Pool == nil && c.OracleReference == nil)
}

// engineState is the persistence the engine reads records from and commits
// changesets to. Getters return nil when a record does not exist.
type engineState interface {
	GetLender(account Account, asset Asset) (*LenderPosition, error)
	GetBorrower(account Account) (*BorrowerPosition, error)
	GetPool() (*PoolTotals, error)
	GetOracleReference() (string, error)
	Commit(changes *Changeset) error
}
