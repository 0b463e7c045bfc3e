package docsync

import "fmt"

// Change classifies one side of a document relative to its last synced
// snapshot.
type Change int

const (
	// ChangeAbsent: no snapshot and nothing present.
	ChangeAbsent Change = iota
	ChangeNone
	ChangeNew
	ChangeModified
	ChangeMoved
	ChangeDeleted
)

func (c Change) String() string {
	switch c {
	case ChangeAbsent:
		return "absent"
	case ChangeNone:
		return "unchanged"
	case ChangeNew:
		return "new"
	case ChangeModified:
		return "modified"
	case ChangeMoved:
		return "moved"
	case ChangeDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("change(%d)", int(c))
	}
}

// Action is the next step for one File Item.
type Action int

const (
	ActionNone Action = iota
	ActionUpload
	ActionDownload
	// ActionCompare downloads the remote version without writing it and
	// compares manifests: identical content converges, anything else is a
	// conflict.
	ActionCompare
	ActionRenameRemote
	ActionRenameLocal
	ActionDeleteRemote
	ActionDeleteLocal
	// ActionForget drops the item; both sides agree it is gone.
	ActionForget
	// ActionAdopt records a path both sides moved to independently.
	ActionAdopt
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionUpload:
		return "upload"
	case ActionDownload:
		return "download"
	case ActionCompare:
		return "compare"
	case ActionRenameRemote:
		return "rename-remote"
	case ActionRenameLocal:
		return "rename-local"
	case ActionDeleteRemote:
		return "delete-remote"
	case ActionDeleteLocal:
		return "delete-local"
	case ActionForget:
		return "forget"
	case ActionAdopt:
		return "adopt"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// pendingState is the state an item waits in before the action's transfer
// starts. Actions that change the remote wait as upload-pending, actions that
// change the local folder as download-pending.
func (a Action) pendingState() ItemState {
	switch a {
	case ActionUpload, ActionRenameRemote, ActionDeleteRemote:
		return StateUploadPending
	default:
		return StateDownloadPending
	}
}

// ClassifyLocal compares a scanned local document with the snapshot.
func ClassifyLocal(base *Snapshot, local *LocalDocument) Change {
	switch {
	case base == nil && local == nil:
		return ChangeAbsent
	case base == nil:
		return ChangeNew
	case local == nil:
		return ChangeDeleted
	case local.Path != base.Path:
		return ChangeMoved
	case local.IsPackage != base.IsPackage || !local.Manifest.Equal(base.Manifest):
		return ChangeModified
	default:
		return ChangeNone
	}
}

// ClassifyRemote compares a remote version with the snapshot.
func ClassifyRemote(base *Snapshot, remote *RemoteVersion) Change {
	switch {
	case base == nil && remote == nil:
		return ChangeAbsent
	case base == nil:
		return ChangeNew
	case remote == nil:
		return ChangeDeleted
	case remote.Path != base.Path:
		return ChangeMoved
	case remote.IsPackage != base.IsPackage || remote.VersionToken != base.VersionToken:
		return ChangeModified
	default:
		return ChangeNone
	}
}

// Decide picks the next action from the local and remote classifications.
// samePath reports whether both sides moved to the same new path.
//
// When both sides changed the remote version is compared rather than
// overwritten. A deletion loses against a modification on the other side.
// After a rename on one side, a modification on the other is handled by a
// follow-up pass once the paths agree again.
func Decide(local, remote Change, samePath bool) Action {
	switch local {
	case ChangeAbsent:
		switch remote {
		case ChangeNew:
			return ActionDownload
		default:
			return ActionForget
		}

	case ChangeNew:
		switch remote {
		case ChangeNew:
			return ActionCompare
		default:
			return ActionUpload
		}

	case ChangeNone:
		switch remote {
		case ChangeNone:
			return ActionNone
		case ChangeModified:
			return ActionDownload
		case ChangeMoved:
			return ActionRenameLocal
		case ChangeDeleted:
			return ActionDeleteLocal
		}

	case ChangeModified:
		switch remote {
		case ChangeNone, ChangeDeleted:
			return ActionUpload
		case ChangeModified:
			return ActionCompare
		case ChangeMoved:
			return ActionRenameLocal
		}

	case ChangeMoved:
		switch remote {
		case ChangeNone, ChangeModified:
			return ActionRenameRemote
		case ChangeMoved:
			if samePath {
				return ActionAdopt
			}
			return ActionRenameRemote
		case ChangeDeleted:
			return ActionUpload
		}

	case ChangeDeleted:
		switch remote {
		case ChangeNone:
			return ActionDeleteRemote
		case ChangeModified, ChangeMoved:
			return ActionDownload
		case ChangeDeleted:
			return ActionForget
		}
	}
	return ActionNone
}
