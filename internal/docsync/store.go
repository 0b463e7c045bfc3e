package docsync

import "iter"

// SnapshotStore is durable storage of File Snapshots for one account.
type SnapshotStore interface {
	// ReadSnapshot returns the record for id, ErrSnapshotNotFound if there is
	// none, or a *CorruptSnapshotError if the record cannot be decoded.
	ReadSnapshot(id DocumentID) (*Snapshot, error)

	// WriteSnapshot atomically replaces the record for snap.DocumentID.
	WriteSnapshot(snap *Snapshot) error

	// EnumerateSnapshots yields every stored record. A record that cannot be
	// decoded is yielded as a nil snapshot with a *CorruptSnapshotError; the
	// enumeration continues after it. Other errors end the enumeration.
	EnumerateSnapshots() iter.Seq2[*Snapshot, error]

	// DeleteSnapshot removes the record for id. Deleting a missing record is
	// not an error.
	DeleteSnapshot(id DocumentID) error

	// Close releases any resources held by the store.
	Close() error
}

// Credentials authenticate one account against its remote.
type Credentials struct {
	Username string
	Secret   string
}

// CredentialStore is the secure credential storage capability.
type CredentialStore interface {
	// CredentialsForAccount returns the stored credentials or ErrNoCredentials.
	CredentialsForAccount(accountID string) (Credentials, error)

	// SetCredentials stores credentials for an account, replacing old ones.
	SetCredentials(accountID string, creds Credentials) error

	// DeleteCredentials forgets the account's credentials.
	DeleteCredentials(accountID string) error
}
