// Package pipeline runs the evidence flow for one error log: load, compress,
// explain, then optionally comment on and attach to an issue-tracker ticket.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/qa-agent/logexplain/pkg/compress"
	"github.com/qa-agent/logexplain/pkg/metrics"
	"github.com/qa-agent/logexplain/pkg/models"
)

const (
	commentQuestion = "Post this explanation as a comment on %s?"
	attachQuestion  = "Attach the compressed log to %s as evidence?"

	sidecarSuffix = ".explanation.md"

	// Slack rejects section text above 3000 characters.
	maxNotifyChars = 2800
)

// Explainer turns log text into an explanation. The bool reports a cache hit.
type Explainer interface {
	Explain(ctx context.Context, logText string) (models.Explanation, bool, error)
}

// Compressor produces a temporary compressed artifact for the duration of fn.
type Compressor interface {
	With(text, sourcePath string, fn func(*compress.Artifact) error) error
}

// Tracker posts evidence to an issue tracker.
type Tracker interface {
	Comment(ctx context.Context, issueKey, body string) error
	Attach(ctx context.Context, issueKey, path string) error
}

// Repository persists log/explanation exchanges.
type Repository interface {
	Save(ctx context.Context, in models.Interaction) (models.Interaction, error)
}

// Notifier sends a markdown summary to a chat channel.
type Notifier interface {
	Send(ctx context.Context, markdown string) bool
}

// Presenter shows an explanation to whoever answers the decisions, before
// the first question is asked.
type Presenter interface {
	Present(ctx context.Context, run *EvidenceRun) error
}

// Journal records finished runs.
type Journal interface {
	Log(ctx context.Context, rec models.RunRecord) error
}

// Deps are the collaborators of an Orchestrator. Explainer, Compressor and
// Confirmer are required; the rest are skipped when nil.
type Deps struct {
	Explainer  Explainer
	Compressor Compressor
	Confirmer  Confirmer
	Presenter  Presenter
	Tracker    Tracker
	Repository Repository
	Notifier   Notifier
	Journal    Journal
	Metrics    *metrics.Recorder
}

// Orchestrator drives evidence runs.
type Orchestrator struct {
	deps        Deps
	callTimeout time.Duration
	log         *zap.Logger
	now         func() time.Time
}

// New validates deps and returns an Orchestrator. callTimeout bounds each
// tracker, repository and notifier call; a non-positive value leaves them
// bounded only by ctx.
func New(deps Deps, callTimeout time.Duration, log *zap.Logger) (*Orchestrator, error) {
	switch {
	case deps.Explainer == nil:
		return nil, fmt.Errorf("%w: explainer is required", models.ErrInvalidArgument)
	case deps.Compressor == nil:
		return nil, fmt.Errorf("%w: compressor is required", models.ErrInvalidArgument)
	case deps.Confirmer == nil:
		return nil, fmt.Errorf("%w: confirmer is required", models.ErrInvalidArgument)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Orchestrator{
		deps:        deps,
		callTimeout: callTimeout,
		log:         log,
		now:         time.Now,
	}, nil
}

// Run executes the pipeline for one log file. The returned run is always
// terminal; the error is the run's failure cause, if any. The compressed
// artifact never outlives Run.
func (o *Orchestrator) Run(ctx context.Context, logPath, ticketKey string) (*EvidenceRun, error) {
	run := &EvidenceRun{
		ID:        uuid.NewString(),
		LogPath:   logPath,
		TicketKey: strings.TrimSpace(ticketKey),
		StartedAt: o.now(),
	}
	run.transition(StateIdle)
	defer o.finish(run)

	if err := o.execute(ctx, run); err != nil {
		run.fail(err)
		return run, err
	}
	o.notify(ctx, run)
	run.transition(StateDone)
	return run, nil
}

// RunBatch runs each path in order against the same ticket. A failed run
// does not stop the batch.
func (o *Orchestrator) RunBatch(ctx context.Context, paths []string, ticketKey string) []*EvidenceRun {
	runs := make([]*EvidenceRun, 0, len(paths))
	for _, p := range paths {
		run, _ := o.Run(ctx, p, ticketKey)
		runs = append(runs, run)
	}
	return runs
}

func (o *Orchestrator) execute(ctx context.Context, run *EvidenceRun) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if run.TicketKey == "" {
		return fmt.Errorf("%w: ticket key is required", models.ErrInvalidArgument)
	}
	path, err := resolveLog(run.LogPath)
	if err != nil {
		return err
	}
	run.LogPath = path

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", models.ErrIO, path, err)
	}
	text := string(data)
	run.transition(StateLogLoaded)

	return o.deps.Compressor.With(text, path, func(a *compress.Artifact) error {
		run.CompressedPath = a.Path
		run.transition(StateCompressed)

		exp, hit, err := o.deps.Explainer.Explain(ctx, text)
		if err != nil {
			return fmt.Errorf("explain: %w", err)
		}
		run.Explanation = exp
		run.CacheHit = hit
		run.transition(StateExplained)

		o.persist(ctx, run, text)
		o.writeSidecar(run)

		if err := o.comment(ctx, run); err != nil {
			return err
		}
		return o.attach(ctx, run, a)
	})
}

func resolveLog(logPath string) (string, error) {
	if strings.TrimSpace(logPath) == "" {
		return "", fmt.Errorf("%w: log path is required", models.ErrInvalidArgument)
	}
	abs, err := filepath.Abs(logPath)
	if err != nil {
		return "", fmt.Errorf("%w: resolve %s: %v", models.ErrInvalidArgument, logPath, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: log file %s", models.ErrNotFound, abs)
		}
		return "", fmt.Errorf("%w: stat %s: %v", models.ErrIO, abs, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: log file %s is a directory", models.ErrNotFound, abs)
	}
	return abs, nil
}

func (o *Orchestrator) comment(ctx context.Context, run *EvidenceRun) error {
	run.transition(StateAwaitingCommentDecision)
	if o.deps.Tracker != nil && o.deps.Presenter != nil {
		if err := o.deps.Presenter.Present(ctx, run); err != nil {
			return fmt.Errorf("present explanation: %w", err)
		}
	}
	ok, err := o.decide(ctx, fmt.Sprintf(commentQuestion, run.TicketKey))
	if err != nil {
		return fmt.Errorf("comment decision: %w", err)
	}
	if !ok {
		run.transition(StateCommentSkipped)
		return nil
	}

	callCtx, cancel := o.callContext(ctx)
	defer cancel()
	if err := o.deps.Tracker.Comment(callCtx, run.TicketKey, run.Explanation.Content); err != nil {
		return fmt.Errorf("comment on %s: %w", run.TicketKey, timeoutOr(ctx, err))
	}
	run.Commented = true
	run.transition(StateCommented)
	o.log.Info("explanation posted", zap.String("ticket", run.TicketKey))
	return nil
}

func (o *Orchestrator) attach(ctx context.Context, run *EvidenceRun, a *compress.Artifact) error {
	run.transition(StateAwaitingAttachDecision)
	ok, err := o.decide(ctx, fmt.Sprintf(attachQuestion, run.TicketKey))
	if err != nil {
		return fmt.Errorf("attach decision: %w", err)
	}
	if !ok {
		run.transition(StateAttachSkipped)
		return nil
	}

	callCtx, cancel := o.callContext(ctx)
	defer cancel()
	if err := o.deps.Tracker.Attach(callCtx, run.TicketKey, a.Path); err != nil {
		return fmt.Errorf("attach to %s: %w", run.TicketKey, timeoutOr(ctx, err))
	}
	run.Attached = true
	run.transition(StateAttached)
	o.log.Info("evidence attached",
		zap.String("ticket", run.TicketKey),
		zap.String("artifact", filepath.Base(a.Path)),
		zap.Int64("bytes", a.Size),
	)
	return nil
}

// decide asks the confirmer, answering no without asking when there is no
// tracker to act on a yes.
func (o *Orchestrator) decide(ctx context.Context, question string) (bool, error) {
	if o.deps.Tracker == nil {
		return false, nil
	}
	return o.deps.Confirmer.Confirm(ctx, question)
}

func (o *Orchestrator) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, o.callTimeout)
}

// timeoutOr classifies a deadline hit by the per-call timeout as ErrTimeout.
// Cancellation of the parent context is returned unchanged.
func timeoutOr(parent context.Context, err error) error {
	if errors.Is(err, models.ErrTimeout) || parent.Err() != nil {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", models.ErrTimeout, err)
	}
	return err
}

func (o *Orchestrator) persist(ctx context.Context, run *EvidenceRun, text string) {
	if o.deps.Repository == nil {
		return
	}
	meta, err := json.Marshal(models.InteractionMetadata{
		LogPath:          run.LogPath,
		CacheHit:         run.CacheHit,
		ProcessingTimeMs: run.Explanation.ProcessingTime.Milliseconds(),
		TokenUsage:       run.Explanation.TokenUsage,
	})
	if err != nil {
		meta = []byte("{}")
	}
	callCtx, cancel := o.callContext(ctx)
	defer cancel()
	saved, err := o.deps.Repository.Save(callCtx, models.Interaction{
		UserQuery:  text,
		AIResponse: run.Explanation.Content,
		Context:    run.TicketKey,
		Metadata:   string(meta),
	})
	if err != nil {
		o.log.Warn("failed to persist interaction", zap.String("run", run.ID), zap.Error(err))
		return
	}
	run.InteractionID = saved.ID
}

func (o *Orchestrator) writeSidecar(run *EvidenceRun) {
	path := SidecarPath(run.LogPath)
	if err := os.WriteFile(path, []byte(run.Explanation.Content), 0o644); err != nil {
		o.log.Warn("failed to write explanation file", zap.String("path", path), zap.Error(err))
		return
	}
	run.SidecarPath = path
}

// SidecarPath returns where the explanation for logPath is written: the log's
// extension replaced by ".explanation.md".
func SidecarPath(logPath string) string {
	return strings.TrimSuffix(logPath, filepath.Ext(logPath)) + sidecarSuffix
}

func (o *Orchestrator) notify(ctx context.Context, run *EvidenceRun) {
	if o.deps.Notifier == nil {
		return
	}
	callCtx, cancel := o.callContext(ctx)
	defer cancel()
	if o.deps.Notifier.Send(callCtx, Summary(run)) {
		run.Notified = true
		return
	}
	o.log.Warn("run summary not delivered", zap.String("run", run.ID))
}

// Summary renders the chat message for a completed run.
func Summary(run *EvidenceRun) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Log explanation for %s\n\n", run.TicketKey)
	fmt.Fprintf(&b, "*Log:* `%s`\n", filepath.Base(run.LogPath))
	fmt.Fprintf(&b, "*Commented:* %s  *Attached:* %s\n\n", yesNo(run.Commented), yesNo(run.Attached))

	content := []rune(run.Explanation.Content)
	if len(content) > maxNotifyChars {
		content = append(content[:maxNotifyChars], []rune("…")...)
	}
	b.WriteString(string(content))
	return b.String()
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func (o *Orchestrator) finish(run *EvidenceRun) {
	if !run.State.Terminal() {
		// Only reached while a panic unwinds.
		run.fail(errors.New("run aborted"))
	}
	run.FinishedAt = o.now()
	o.deps.Metrics.ObserveRun(string(run.State), run.Duration())

	if o.deps.Journal != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := o.deps.Journal.Log(ctx, run.Record()); err != nil {
			o.log.Warn("failed to journal run", zap.String("run", run.ID), zap.Error(err))
		}
	}

	fields := []zap.Field{
		zap.String("run", run.ID),
		zap.String("ticket", run.TicketKey),
		zap.String("log", run.LogPath),
		zap.String("state", string(run.State)),
		zap.Bool("cache_hit", run.CacheHit),
		zap.Duration("duration", run.Duration()),
	}
	if run.Err != nil {
		o.log.Error("run failed", append(fields, zap.Error(run.Err))...)
		return
	}
	o.log.Info("run finished", fields...)
}
