package app

// SyncOperation tracks a CLI operation that may change sync state.
// Operations are created in memory with ID=0. Only state-changing commands
// persist them, and only in stores that keep an operation log.
type SyncOperation struct {
	ID         int64
	Operation  string
	Parameters string
	Status     string // "success" or "error"
}

// NewSyncOperation creates a new in-memory operation.
func NewSyncOperation(operation, parameters string) *SyncOperation {
	return &SyncOperation{
		Operation:  operation,
		Parameters: parameters,
		Status:     "success",
	}
}

// Persisted returns true if this operation has been saved to a store.
func (op *SyncOperation) Persisted() bool {
	return op.ID != 0
}
