package domain

import (
	"fmt"
	"time"
)

// SyncState is a state of the per-run sync state machine
type SyncState string

const (
	SyncStateIdle           SyncState = "IDLE"
	SyncStateAuthenticating SyncState = "AUTHENTICATING"
	SyncStateFetchingPage   SyncState = "FETCHING_PAGE"
	SyncStateNormalizing    SyncState = "NORMALIZING"
	SyncStateUpserting      SyncState = "UPSERTING"
	SyncStateCompleted      SyncState = "COMPLETED"
	SyncStateFailed         SyncState = "FAILED"
)

var syncTransitions = map[SyncState][]SyncState{
	SyncStateIdle:           {SyncStateAuthenticating},
	SyncStateAuthenticating: {SyncStateFetchingPage, SyncStateFailed},
	SyncStateFetchingPage:   {SyncStateNormalizing, SyncStateFailed},
	SyncStateNormalizing:    {SyncStateUpserting, SyncStateFailed},
	SyncStateUpserting:      {SyncStateFetchingPage, SyncStateCompleted, SyncStateFailed},
	SyncStateCompleted:      {SyncStateIdle},
	SyncStateFailed:         {SyncStateIdle},
}

// CanTransition reports whether the state machine allows from -> to
func CanTransition(from, to SyncState) bool {
	for _, s := range syncTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether a run in s has finished
func (s SyncState) IsTerminal() bool {
	return s == SyncStateCompleted || s == SyncStateFailed
}

// SyncRun is the in-memory record of one sync run for one shop
type SyncRun struct {
	ID               string     `json:"run_id"`
	TenantID         string     `json:"shop"`
	State            SyncState  `json:"state"`
	Cursor           *string    `json:"cursor,omitempty"`
	ResumedFrom      *string    `json:"resumed_from,omitempty"`
	Pages            int        `json:"pages"`
	ProductsUpserted int        `json:"products_upserted"`
	VariantsUpserted int        `json:"variants_upserted"`
	ErrorKind        ErrorKind  `json:"error_kind,omitempty"`
	LastError        string     `json:"last_error,omitempty"`
	StartedAt        time.Time  `json:"started_at"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
}

// Transition moves the run to state to, rejecting moves the state machine does not allow
func (r *SyncRun) Transition(to SyncState) error {
	if !CanTransition(r.State, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.State, to)
	}
	r.State = to
	return nil
}

// Checkpoint snapshots the run for persistence
func (r *SyncRun) Checkpoint(now time.Time) SyncCheckpoint {
	return SyncCheckpoint{
		TenantID:         r.TenantID,
		RunID:            r.ID,
		State:            r.State,
		Cursor:           r.Cursor,
		PagesCommitted:   r.Pages,
		ProductsUpserted: r.ProductsUpserted,
		VariantsUpserted: r.VariantsUpserted,
		ErrorKind:        r.ErrorKind,
		LastError:        r.LastError,
		StartedAt:        r.StartedAt,
		UpdatedAt:        now,
		FinishedAt:       r.FinishedAt,
	}
}

// SyncCheckpoint is the persisted progress of the latest run of a shop
type SyncCheckpoint struct {
	TenantID         string     `json:"shop"`
	RunID            string     `json:"run_id"`
	State            SyncState  `json:"state"`
	Cursor           *string    `json:"cursor,omitempty"`
	PagesCommitted   int        `json:"pages_committed"`
	ProductsUpserted int        `json:"products_upserted"`
	VariantsUpserted int        `json:"variants_upserted"`
	ErrorKind        ErrorKind  `json:"error_kind,omitempty"`
	LastError        string     `json:"last_error,omitempty"`
	StartedAt        time.Time  `json:"started_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
}

// Resumable reports whether a new run should continue from this checkpoint's cursor
func (c *SyncCheckpoint) Resumable() bool {
	return c != nil && c.State != SyncStateCompleted && c.Cursor != nil && *c.Cursor != ""
}

// SyncEvent is emitted to observers on every state transition of a run
type SyncEvent struct {
	RunID    string    `json:"run_id"`
	TenantID string    `json:"shop"`
	From     SyncState `json:"from"`
	To       SyncState `json:"to"`
	Run      SyncRun   `json:"run"`
	At       time.Time `json:"at"`
}

// PageStats describes one committed page
type PageStats struct {
	Products int
	Variants int
	Attempts int
	Duration time.Duration
}

// ReconcileResult reports what a prune pass removed
type ReconcileResult struct {
	TenantID        string `json:"shop"`
	RemoteProducts  int    `json:"remote_products"`
	LocalProducts   int    `json:"local_products"`
	DeletedProducts int    `json:"deleted_products"`
	DeletedVariants int    `json:"deleted_variants"`
}
