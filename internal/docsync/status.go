package docsync

import "time"

// ContainerStatus reports one container and its items.
type ContainerStatus struct {
	ID         string
	LocalPath  string
	RemotePath string
	ScanToken  string
	LastScan   time.Time
	Err        error
	Items      []ItemStatus
}

// AccountStatus reports one account.
type AccountStatus struct {
	ID         string
	Mode       ScheduleMode
	Activity   AccountActivity
	Paused     bool
	LastSync   time.Time
	Err        error
	Containers []ContainerStatus
}

// Counts tallies items by state across all containers.
func (s AccountStatus) Counts() map[ItemState]int {
	counts := make(map[ItemState]int)
	for _, c := range s.Containers {
		for _, it := range c.Items {
			counts[it.State]++
		}
	}
	return counts
}

// Conflicts returns the conflicted items.
func (s AccountStatus) Conflicts() []ItemStatus {
	var out []ItemStatus
	for _, c := range s.Containers {
		for _, it := range c.Items {
			if it.State == StateConflicted {
				out = append(out, it)
			}
		}
	}
	return out
}

func (a *AccountAgent) status() AccountStatus {
	a.mu.Lock()
	st := AccountStatus{
		ID:       a.id,
		Mode:     a.opts.Mode,
		Activity: a.activity,
		Paused:   a.paused,
		LastSync: a.lastSync,
		Err:      a.lastErr,
	}
	a.mu.Unlock()

	for _, c := range a.containers {
		if err := c.load(); err != nil && c.lastErr == nil {
			c.lastErr = err
		}
		st.Containers = append(st.Containers, ContainerStatus{
			ID:         c.cfg.ID,
			LocalPath:  c.cfg.LocalPath,
			RemotePath: c.cfg.RemotePath,
			ScanToken:  c.scanToken,
			LastScan:   c.lastScan,
			Err:        c.lastErr,
			Items:      c.status(),
		})
	}
	return st
}
