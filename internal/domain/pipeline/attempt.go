package pipeline

import (
	"sync"
	"time"

	"github.com/GriffinCanCode/addonhost/backend/internal/shared/id"
	"github.com/GriffinCanCode/addonhost/backend/internal/shared/types"
)

// State is the lifecycle position of one install attempt
type State string

const (
	StateReviewing  State = "reviewing"
	StateApproved   State = "approved"
	StatePersisting State = "persisting"
	StateLoaded     State = "loaded"
	StateCancelled  State = "cancelled"
	StateFailed     State = "failed"
)

// Terminal reports whether no further transition is possible
func (s State) Terminal() bool {
	return s == StateLoaded || s == StateCancelled || s == StateFailed
}

// Outcome labels a finished attempt for metrics
type Outcome string

const (
	OutcomeInstalled Outcome = "installed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
	OutcomeRejected  Outcome = "rejected"
)

// Attempt is a snapshot of one install attempt
type Attempt struct {
	ID        id.AttemptID `json:"id"`
	AddonID   string       `json:"addon_id"`
	Version   string       `json:"version"`
	Source    types.Source `json:"source"`
	State     State        `json:"state"`
	Error     string       `json:"error,omitempty"`
	StartedAt time.Time    `json:"started_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// attempts keeps the latest attempt per add-on id
type attempts struct {
	mu    sync.RWMutex
	byID  map[string]*Attempt
	clock func() time.Time
}

func newAttempts() *attempts {
	return &attempts{byID: make(map[string]*Attempt), clock: time.Now}
}

func (a *attempts) begin(addonID, version string, source types.Source) Attempt {
	now := a.clock()
	at := &Attempt{
		ID:        id.NewAttemptID(),
		AddonID:   addonID,
		Version:   version,
		Source:    source,
		State:     StateReviewing,
		StartedAt: now,
		UpdatedAt: now,
	}
	a.mu.Lock()
	a.byID[addonID] = at
	a.mu.Unlock()
	return *at
}

// transition moves the current attempt of addonID to state
func (a *attempts) transition(addonID string, state State, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	at, ok := a.byID[addonID]
	if !ok || at.State.Terminal() {
		return
	}
	at.State = state
	at.UpdatedAt = a.clock()
	if err != nil {
		at.Error = err.Error()
	}
}

// pending returns the open attempt of addonID, if any
func (a *attempts) pending(addonID string) (Attempt, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	at, ok := a.byID[addonID]
	if !ok || at.State.Terminal() {
		return Attempt{}, false
	}
	return *at, true
}

func (a *attempts) get(addonID string) (Attempt, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	at, ok := a.byID[addonID]
	if !ok {
		return Attempt{}, false
	}
	return *at, true
}
