package core

// pipeline.go is the provisioning stage machine.
//
// A Pipeline executes one run over a fixed Plan. The coordinator goroutine
// owns all shared state (progress snapshot, ledger, created-object log)
// and walks a declarative list of stage descriptors in order. Each stage's
// bulk work runs as a single asynchronous worker that sends per-item
// progress messages and one terminal finished message back to the
// coordinator; stages never overlap. The PopulateDepots stage is gated:
// after Depots finishes the pipeline parks until ConfirmPopulate is
// called, modeling the operator confirmation step.
//
// There is no mid-stage cancellation and no retry. A fatal stage error
// stops the run; completed stages' effects remain on the server and in the
// undo ledger.

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Stage identifies a step of the provisioning sequence. Stages are
// strictly ordered; no stage is skipped or re-entered.
type Stage int

const (
	StageUsers Stage = iota
	StageGroups
	StageDepots
	StagePopulate
	StagePermissions
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageUsers:
		return "Users"
	case StageGroups:
		return "Groups"
	case StageDepots:
		return "Depots"
	case StagePopulate:
		return "PopulateDepots"
	case StagePermissions:
		return "Permissions"
	case StageDone:
		return "Done"
	}
	return fmt.Sprintf("Stage(%d)", int(s))
}

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	StatusRunning          RunStatus = "running"
	StatusAwaitingPopulate RunStatus = "awaiting_populate"
	StatusFailed           RunStatus = "failed"
	StatusComplete         RunStatus = "complete"
)

// RunProgress is the observable snapshot of a run, published to listeners
// after every item and at every stage boundary.
type RunProgress struct {
	RunID     string    `json:"runId"`
	Stage     Stage     `json:"-"`
	StageName string    `json:"stage"`
	Done      int       `json:"done"`
	Total     int       `json:"total"`
	Status    RunStatus `json:"status"`
	Error     string    `json:"error,omitempty"`
}

// RunRecorder receives run lifecycle events for history keeping. All
// methods are best-effort: recording failures never affect the run.
type RunRecorder interface {
	RunStarted(ctx context.Context, runID string, plan *Plan)
	StageFinished(ctx context.Context, runID string, stage string, items int, stageErr error)
	RunFinished(ctx context.Context, runID string, status RunStatus, runErr string, undo []string)
}

// stageDesc declares one stage: its input-set size, its work function,
// whether it needs explicit arming, and the reversal commands to append
// once it completes.
type stageDesc struct {
	stage Stage
	total func(p *Pipeline) int
	run   func(p *Pipeline, ctx context.Context, report func(done int)) error
	gated bool
	undo  func(p *Pipeline) []string
}

// pipelineStages is the full provisioning sequence. Order is load-bearing:
// groups reference users, depots reference groups, populate and
// permissions reference depots.
var pipelineStages = []stageDesc{
	{
		stage: StageUsers,
		total: func(p *Pipeline) int { return len(p.plan.UsersToCreate) },
		run:   (*Pipeline).runUsers,
		undo:  (*Pipeline).undoUsers,
	},
	{
		stage: StageGroups,
		total: func(p *Pipeline) int { return len(p.plan.GroupsToCreate) + len(p.plan.GroupsToModify) },
		run:   (*Pipeline).runGroups,
		undo:  (*Pipeline).undoGroups,
	},
	{
		stage: StageDepots,
		total: func(p *Pipeline) int { return len(p.plan.DepotsToCreate) },
		run:   (*Pipeline).runDepots,
		undo:  (*Pipeline).undoDepots,
	},
	{
		stage: StagePopulate,
		total: func(p *Pipeline) int { return len(p.plan.DepotsToCreate) },
		run:   (*Pipeline).runPopulate,
		gated: true,
		undo:  func(*Pipeline) []string { return nil },
	},
	{
		stage: StagePermissions,
		total: func(p *Pipeline) int { return 1 },
		run:   (*Pipeline).runPermissions,
		// Deleting a group implicitly removes its protection line, so
		// permissions need no reversal commands of their own.
		undo: func(*Pipeline) []string { return nil },
	},
}

type stageEvent struct {
	done     int
	finished bool
	err      error
}

// Pipeline executes one provisioning run. Construct with NewPipeline, then
// Start exactly once.
type Pipeline struct {
	runID    string
	backend  AdminBackend
	plan     *Plan
	ledger   *UndoLedger
	password string
	logger   *slog.Logger
	recorder RunRecorder

	populateCh chan struct{}
	done       chan struct{}

	mu        sync.Mutex
	progress  RunProgress
	listeners []chan RunProgress
	finished  bool

	// created records what the Depots stage actually made, in creation
	// order, for undo synthesis. Written only by the stage worker and
	// read by the coordinator after the stage's finished event.
	created struct {
		depots  []string
		streams map[string][]string
	}
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithInitialPassword sets the password assigned to newly created users.
func WithInitialPassword(pw string) PipelineOption {
	return func(p *Pipeline) { p.password = pw }
}

// WithLogger sets the run logger.
func WithLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) { p.logger = l }
}

// WithRecorder sets the run-history recorder.
func WithRecorder(r RunRecorder) PipelineOption {
	return func(p *Pipeline) { p.recorder = r }
}

// NewPipeline builds a pipeline over plan. The ledger must be exclusive to
// this run.
func NewPipeline(runID string, backend AdminBackend, plan *Plan, ledger *UndoLedger, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		runID:      runID,
		backend:    backend,
		plan:       plan,
		ledger:     ledger,
		logger:     slog.Default(),
		populateCh: make(chan struct{}, 1),
		done:       make(chan struct{}),
		progress: RunProgress{
			RunID:     runID,
			Stage:     StageUsers,
			StageName: StageUsers.String(),
			Status:    StatusRunning,
		},
	}
	p.created.streams = make(map[string][]string)
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("run_id", runID)
	return p
}

// Start launches the coordinator. It returns immediately; observe the run
// via Subscribe, Progress, and Done.
func (p *Pipeline) Start(ctx context.Context) {
	if p.recorder != nil {
		p.recorder.RunStarted(ctx, p.runID, p.plan)
	}
	go p.run(ctx)
}

// Done is closed when the run reaches a terminal state.
func (p *Pipeline) Done() <-chan struct{} { return p.done }

// Progress returns the current snapshot without blocking.
func (p *Pipeline) Progress() RunProgress {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.progress
}

// UndoCommands returns the reversal commands accumulated so far.
func (p *Pipeline) UndoCommands() []string { return p.ledger.Commands() }

// Subscribe returns a channel receiving progress snapshots, starting with
// the current one. The channel is closed when the run finishes; slow
// listeners miss intermediate updates rather than blocking the run.
func (p *Pipeline) Subscribe() <-chan RunProgress {
	ch := make(chan RunProgress, 16)

	p.mu.Lock()
	defer p.mu.Unlock()

	ch <- p.progress
	if p.finished {
		close(ch)
		return ch
	}
	p.listeners = append(p.listeners, ch)
	return ch
}

// ConfirmPopulate arms the PopulateDepots stage. It is valid exactly once,
// while the run is parked in StatusAwaitingPopulate.
func (p *Pipeline) ConfirmPopulate() error {
	p.mu.Lock()
	awaiting := p.progress.Status == StatusAwaitingPopulate
	p.mu.Unlock()

	if !awaiting {
		return fmt.Errorf("run %s is not awaiting populate confirmation", p.runID)
	}
	select {
	case p.populateCh <- struct{}{}:
		return nil
	default:
		return fmt.Errorf("populate already confirmed for run %s", p.runID)
	}
}

func (p *Pipeline) run(ctx context.Context) {
	defer close(p.done)
	defer p.closeListeners()

	for _, desc := range pipelineStages {
		if desc.gated {
			p.update(func(pr *RunProgress) {
				pr.Stage = desc.stage
				pr.StageName = desc.stage.String()
				pr.Done = 0
				pr.Total = desc.total(p)
				pr.Status = StatusAwaitingPopulate
			})
			p.logger.Info("awaiting populate confirmation", "depots", desc.total(p))
			select {
			case <-p.populateCh:
			case <-ctx.Done():
				p.fail(ctx, desc.stage, ctx.Err())
				return
			}
		}

		total := desc.total(p)
		p.update(func(pr *RunProgress) {
			pr.Stage = desc.stage
			pr.StageName = desc.stage.String()
			pr.Done = 0
			pr.Total = total
			pr.Status = StatusRunning
		})
		p.logger.Info("stage started", "stage", desc.stage.String(), "items", total)

		stageErr := p.runStage(ctx, desc)
		if p.recorder != nil {
			p.recorder.StageFinished(ctx, p.runID, desc.stage.String(), total, stageErr)
		}
		if stageErr != nil {
			p.fail(ctx, desc.stage, stageErr)
			return
		}

		if cmds := desc.undo(p); len(cmds) > 0 {
			if err := p.ledger.Append(cmds...); err != nil {
				// Without a persisted undo log further mutations are
				// unrecoverable; stop here.
				p.fail(ctx, desc.stage, err)
				return
			}
		}
		p.logger.Info("stage finished", "stage", desc.stage.String(), "items", total)
	}

	p.update(func(pr *RunProgress) {
		pr.Stage = StageDone
		pr.StageName = StageDone.String()
		pr.Status = StatusComplete
	})
	if p.recorder != nil {
		p.recorder.RunFinished(ctx, p.runID, StatusComplete, "", p.ledger.Commands())
	}
	p.logger.Info("run complete")
}

// runStage launches the stage's single worker and consumes its progress
// messages until the terminal finished event.
func (p *Pipeline) runStage(ctx context.Context, desc stageDesc) error {
	events := make(chan stageEvent, 16)

	go func() {
		err := desc.run(p, ctx, func(done int) {
			events <- stageEvent{done: done}
		})
		events <- stageEvent{finished: true, err: err}
	}()

	for ev := range events {
		if ev.finished {
			return ev.err
		}
		p.update(func(pr *RunProgress) { pr.Done = ev.done })
	}
	return nil
}

func (p *Pipeline) fail(ctx context.Context, stage Stage, err error) {
	p.logger.Error("run failed", "stage", stage.String(), "error", err)
	p.update(func(pr *RunProgress) {
		pr.Status = StatusFailed
		pr.Error = err.Error()
	})
	if p.recorder != nil {
		p.recorder.RunFinished(ctx, p.runID, StatusFailed, err.Error(), p.ledger.Commands())
	}
}

// update mutates the snapshot under the lock and fans it out to listeners.
func (p *Pipeline) update(mutate func(*RunProgress)) {
	p.mu.Lock()
	defer p.mu.Unlock()

	mutate(&p.progress)
	for _, ch := range p.listeners {
		select {
		case ch <- p.progress:
		default:
			// Listener is slow; it will catch up on the next update.
		}
	}
}

func (p *Pipeline) closeListeners() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, ch := range p.listeners {
		close(ch)
	}
	p.listeners = nil
	p.finished = true
}
