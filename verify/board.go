package verify

import (
	"context"
	"sync"
	"time"

	"oraclecheck/oracle"
)

// Check names.
const (
	CheckRoute     = "route"
	CheckPrice     = "price"
	CheckDecimals  = "decimals"
	CheckDuplicate = "duplicate"
)

// Checks lists every check a run performs.
var Checks = [4]string{CheckRoute, CheckPrice, CheckDecimals, CheckDuplicate}

// CheckState is the presentation view of one check.
type CheckState struct {
	State   oracle.LoadingState `json:"state"`
	Verdict oracle.Verdict      `json:"verdict,omitempty"`
	// Failed marks a check that could not produce a result at all.
	Failed bool               `json:"failed,omitempty"`
	Errors []oracle.ErrorKind `json:"errors,omitempty"`
	Result any                `json:"result,omitempty"`
}

// Snapshot is a point-in-time copy of a session's board.
type Snapshot struct {
	Session    string                `json:"session"`
	Generation uint64                `json:"generation"`
	ChainID    uint64                `json:"chainId"`
	Collateral oracle.Asset          `json:"collateral"`
	Loan       oracle.Asset          `json:"loan"`
	Checks     map[string]CheckState `json:"checks"`
	Done       bool                  `json:"done"`
	StartedAt  time.Time             `json:"startedAt"`
	FinishedAt *time.Time            `json:"finishedAt,omitempty"`
}

func (s Snapshot) clone() Snapshot {
	out := s
	out.Checks = make(map[string]CheckState, len(s.Checks))
	for name, state := range s.Checks {
		out.Checks[name] = state
	}
	return out
}

// Ticket identifies one submitted run.
type Ticket struct {
	Session    string `json:"session"`
	Generation uint64 `json:"generation"`
}

// board holds the state of one session. Every submission bumps generation;
// completions carrying an older generation are discarded.
type board struct {
	mu         sync.Mutex
	generation uint64
	cancel     context.CancelFunc
	snap       Snapshot
	touched    time.Time
	watchers   map[chan Snapshot]struct{}
}

func newBoard(session string) *board {
	return &board{
		snap: Snapshot{
			Session: session,
			Checks:  notStarted(),
		},
		watchers: make(map[chan Snapshot]struct{}),
	}
}

func notStarted() map[string]CheckState {
	out := make(map[string]CheckState, len(Checks))
	for _, name := range Checks {
		out[name] = CheckState{State: oracle.NotStarted}
	}
	return out
}

// reset starts a new generation with every check loading. It returns the new
// generation and whether an unfinished run was superseded.
func (b *board) reset(req Request, cancel context.CancelFunc, now time.Time) (uint64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	superseded := false
	if b.cancel != nil {
		b.cancel()
		superseded = !b.snap.Done
	}
	b.generation++
	b.cancel = cancel
	b.touched = now
	checks := make(map[string]CheckState, len(Checks))
	for _, name := range Checks {
		checks[name] = CheckState{State: oracle.Loading}
	}
	b.snap = Snapshot{
		Session:    b.snap.Session,
		Generation: b.generation,
		ChainID:    req.ChainID,
		Collateral: req.Collateral,
		Loan:       req.Loan,
		Checks:     checks,
		StartedAt:  now,
	}
	b.publishLocked()
	return b.generation, superseded
}

// complete records a check result. It reports false when gen is stale.
func (b *board) complete(gen uint64, name string, state CheckState, now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if gen != b.generation {
		return false
	}
	b.snap.Checks[name] = state
	b.touched = now
	done := true
	for _, st := range b.snap.Checks {
		if st.State != oracle.Completed {
			done = false
			break
		}
	}
	if done {
		b.snap.Done = true
		finished := now
		b.snap.FinishedAt = &finished
	}
	b.publishLocked()
	return true
}

// finished returns the final snapshot of gen, if gen is still current.
func (b *board) finished(gen uint64) (Snapshot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if gen != b.generation || !b.snap.Done {
		return Snapshot{}, false
	}
	return b.snap.clone(), true
}

func (b *board) snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snap.clone()
}

func (b *board) idleSince(cutoff time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.watchers) == 0 && (b.snap.Done || b.cancel == nil) && b.touched.Before(cutoff)
}

func (b *board) stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		b.cancel()
	}
}

func (b *board) subscribe() chan Snapshot {
	ch := make(chan Snapshot, 1)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.watchers[ch] = struct{}{}
	ch <- b.snap.clone()
	return ch
}

func (b *board) unsubscribe(ch chan Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.watchers[ch]; !ok {
		return
	}
	delete(b.watchers, ch)
	close(ch)
}

// publishLocked hands the latest snapshot to every watcher, replacing any
// value the watcher has not consumed yet.
func (b *board) publishLocked() {
	if len(b.watchers) == 0 {
		return
	}
	snap := b.snap.clone()
	for ch := range b.watchers {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}
