// Package pipeline drives a document analysis through its stages: document
// analysis, plan generation, step execution, and final synthesis.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kkk0312/mdia/internal/analysis"
	"github.com/kkk0312/mdia/internal/llm"
	"github.com/kkk0312/mdia/internal/tools"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrNoPlan is returned when steps are requested before a plan exists.
	ErrNoPlan = errors.New("no execution plan has been generated")
	// ErrStageOrder is returned when a stage is requested out of order.
	ErrStageOrder = errors.New("stage is not available at this point of the analysis")
)

const (
	defaultMaxModulesPerPage = 3
	defaultPageConcurrency   = 2
	defaultSummaryChars      = 200
)

// SessionStore persists sessions and their event logs.
type SessionStore interface {
	SaveSession(ctx context.Context, s *analysis.Session) error
	AppendEvent(ctx context.Context, sessionID string, ev analysis.Event) error
}

// Recorder receives pipeline measurements.
type Recorder interface {
	StageCompleted(stage analysis.Stage)
	StepFinished(status analysis.StepStatus, repaired bool, elapsed time.Duration)
	Validation(matches bool)
}

type nopRecorder struct{}

func (nopRecorder) StageCompleted(analysis.Stage)                         {}
func (nopRecorder) StepFinished(analysis.StepStatus, bool, time.Duration) {}
func (nopRecorder) Validation(bool)                                       {}

// Options tunes a Controller. Zero values select defaults.
type Options struct {
	MaxModulesPerPage  int
	PageConcurrency    int
	RepairSummaryChars int
	Store              SessionStore
	Recorder           Recorder
	Now                func() time.Time
}

// Controller owns the stage state machine. It keeps no per-document state:
// every call receives the *analysis.Session it works on.
type Controller struct {
	gw     llm.Gateway
	tools  *tools.Registry
	opts   Options
	logger zerolog.Logger
}

// New returns a controller using gw for every model call and reg for tools.
func New(gw llm.Gateway, reg *tools.Registry, opts Options) *Controller {
	if opts.MaxModulesPerPage <= 0 {
		opts.MaxModulesPerPage = defaultMaxModulesPerPage
	}
	if opts.PageConcurrency <= 0 {
		opts.PageConcurrency = defaultPageConcurrency
	}
	if opts.RepairSummaryChars <= 0 {
		opts.RepairSummaryChars = defaultSummaryChars
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if reg == nil {
		reg = tools.NewRegistry(0)
	}
	return &Controller{
		gw:     gw,
		tools:  reg,
		opts:   opts,
		logger: log.With().Str("component", "pipeline").Logger(),
	}
}

// Tools returns the controller's tool registry.
func (c *Controller) Tools() *tools.Registry {
	return c.tools
}

func (c *Controller) today() string {
	return c.opts.Now().Format(time.DateOnly)
}

func (c *Controller) sessionLogger(s *analysis.Session) *zerolog.Logger {
	l := c.logger.With().Str("analysis_id", s.ID).Logger()
	return &l
}

// complete marks stage as entered and completed. It reports whether the
// completion marker was newly added.
func (c *Controller) complete(s *analysis.Session, stage analysis.Stage) bool {
	s.Progress.Enter(stage)
	if !s.Progress.MarkCompleted(stage) {
		return false
	}
	c.opts.Recorder.StageCompleted(stage)
	return true
}

// persist saves s and appends ev to its event log.
func (c *Controller) persist(ctx context.Context, s *analysis.Session, ev analysis.Event) error {
	s.Touch()
	if c.opts.Store == nil {
		return nil
	}
	// A canceled caller must not lose an already-recorded step.
	ctx = context.WithoutCancel(ctx)
	if err := c.opts.Store.SaveSession(ctx, s); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	ev.At = c.opts.Now().UTC()
	if err := c.opts.Store.AppendEvent(ctx, s.ID, ev); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ready reports a missing credential before any work starts.
func (c *Controller) ready() error {
	if err := llm.Ready(c.gw); err != nil {
		return fmt.Errorf("model gateway: %w", err)
	}
	return nil
}
