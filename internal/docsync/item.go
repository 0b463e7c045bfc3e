package docsync

import (
	"fmt"
	"time"
)

// ItemState is the sync state of one File Item.
type ItemState int

const (
	StateUnsynced ItemState = iota
	StateUploadPending
	StateUploading
	StateSynced
	StateDownloadPending
	StateDownloading
	StateConflicted
	StateDeleted
)

func (s ItemState) String() string {
	switch s {
	case StateUnsynced:
		return "unsynced"
	case StateUploadPending:
		return "upload-pending"
	case StateUploading:
		return "uploading"
	case StateSynced:
		return "synced"
	case StateDownloadPending:
		return "download-pending"
	case StateDownloading:
		return "downloading"
	case StateConflicted:
		return "conflicted"
	case StateDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// canTransition reports whether the state machine allows from -> to outside
// of explicit conflict resolution.
func canTransition(from, to ItemState) bool {
	if from == to {
		return true
	}
	switch from {
	case StateDeleted:
		return false
	case StateConflicted:
		return to == StateDeleted
	}
	switch to {
	case StateUploading:
		return from == StateUploadPending
	case StateDownloading:
		return from == StateDownloadPending
	case StateUnsynced:
		return false
	}
	return true
}

// fileItem is the live sync state of one document. It is owned by exactly
// one container agent and only touched from its account's loop goroutine.
type fileItem struct {
	id DocumentID

	// path is where the document currently lives. It follows base.Path once
	// the document has been synced.
	path  string
	state ItemState

	// base is the last snapshot both sides agreed on. previous is the base it
	// superseded, kept until the next clean pass.
	base     *Snapshot
	previous *Snapshot

	// Observations from the current pass.
	local  *LocalDocument
	remote *RemoteVersion

	transfer *Transfer
	// resolution is a recorded conflict decision. The transfer carrying it
	// out is planned from the observations of the pass that runs it.
	resolution *Resolution
	removed    bool

	lastErr     error
	retry       retryState
	stalled     bool
	fingerprint string
}

// anchor is the path observations are matched against.
func (it *fileItem) anchor() string {
	if it.base != nil {
		return it.base.Path
	}
	return it.path
}

// inputs fingerprints the observations a stalled item is waiting on.
func (it *fileItem) inputs() string {
	var l, r string
	if it.local != nil {
		l = it.local.Path + "\x00" + it.local.Manifest.Digest()
	}
	if it.remote != nil {
		r = it.remote.Path + "\x00" + it.remote.VersionToken
	}
	return l + "\x01" + r
}

func (it *fileItem) clearFailure() {
	it.lastErr = nil
	it.retry = retryState{}
	it.stalled = false
	it.fingerprint = ""
}

// ItemStatus is a read-only view of one File Item.
type ItemStatus struct {
	Account      string
	Container    string
	Document     DocumentID
	Path         string
	State        ItemState
	Transferring bool
	Stalled      bool
	Attempts     int
	RetryAt      time.Time
	Err          error
}

func (it *fileItem) status(account, container string) ItemStatus {
	return ItemStatus{
		Account:      account,
		Container:    container,
		Document:     it.id,
		Path:         it.path,
		State:        it.state,
		Transferring: it.transfer != nil,
		Stalled:      it.stalled,
		Attempts:     it.retry.attempts,
		RetryAt:      it.retry.notUntil,
		Err:          it.lastErr,
	}
}
