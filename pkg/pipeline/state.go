package pipeline

import (
	"time"

	"github.com/qa-agent/logexplain/pkg/models"
)

// State is a step of the evidence pipeline.
type State string

const (
	StateIdle                    State = "Idle"
	StateLogLoaded               State = "LogLoaded"
	StateCompressed              State = "Compressed"
	StateExplained               State = "Explained"
	StateAwaitingCommentDecision State = "AwaitingCommentDecision"
	StateCommented               State = "Commented"
	StateCommentSkipped          State = "CommentSkipped"
	StateAwaitingAttachDecision  State = "AwaitingAttachDecision"
	StateAttached                State = "Attached"
	StateAttachSkipped           State = "AttachSkipped"
	StateDone                    State = "Done"
	StateFailed                  State = "Failed"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// EvidenceRun is the record of a single pipeline invocation. It is owned by
// the goroutine running it.
type EvidenceRun struct {
	ID        string
	LogPath   string
	TicketKey string
	// CompressedPath no longer exists once the run is terminal.
	CompressedPath string
	Explanation    models.Explanation
	CacheHit       bool
	State          State
	// History lists every state entered, in order, starting with Idle.
	History       []State
	Err           error
	Commented     bool
	Attached      bool
	Notified      bool
	SidecarPath   string
	InteractionID string
	StartedAt     time.Time
	FinishedAt    time.Time
}

func (r *EvidenceRun) transition(s State) {
	r.State = s
	r.History = append(r.History, s)
}

func (r *EvidenceRun) fail(err error) {
	r.Err = err
	r.transition(StateFailed)
}

// Duration is the wall time of a finished run.
func (r *EvidenceRun) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Record converts the run into its journal form.
func (r *EvidenceRun) Record() models.RunRecord {
	rec := models.RunRecord{
		RunID:      r.ID,
		LogPath:    r.LogPath,
		TicketKey:  r.TicketKey,
		State:      string(r.State),
		Commented:  r.Commented,
		Attached:   r.Attached,
		Notified:   r.Notified,
		CacheHit:   r.CacheHit,
		DurationMs: r.Duration().Milliseconds(),
		CreatedAt:  r.StartedAt,
	}
	if r.Err != nil {
		rec.Error = r.Err.Error()
	}
	return rec
}
