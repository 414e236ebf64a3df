package core

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTemplatePattern selects the depots offered as templates.
const DefaultTemplatePattern = "*template*"

// ServiceOptions carries the tunables a Service needs beyond its
// dependencies.
type ServiceOptions struct {
	// DefaultPassword is assigned to every newly created user.
	DefaultPassword string

	// TemplatePattern filters depots offered as templates. Empty means
	// DefaultTemplatePattern.
	TemplatePattern string

	// UndoDir is where undo command files are written.
	UndoDir string

	// EmailDomainPattern overrides the domain part of the email check.
	EmailDomainPattern string
}

// Roster is a validated upload, held in memory until a run consumes it.
type Roster struct {
	ID         string      `json:"id"`
	Records    []Record    `json:"records"`
	Groups     []GroupSpec `json:"groups"`
	UploadedAt time.Time   `json:"uploadedAt"`
}

// RunInfo describes a tracked run for listing and lookup.
type RunInfo struct {
	ID        string    `json:"id"`
	RosterID  string    `json:"rosterId"`
	Template  string    `json:"template"`
	StartedAt time.Time `json:"startedAt"`
	UndoFile  string    `json:"undoFile"`
}

type runEntry struct {
	info     RunInfo
	pipeline *Pipeline
}

// Service is the orchestration layer: it owns uploaded rosters, builds
// plans against the backend, and runs at most one provisioning pipeline at
// a time. It is safe for concurrent use.
type Service struct {
	backend   AdminBackend
	validator *RecordValidator
	opts      ServiceOptions
	gate      *RunGate
	recorder  RunRecorder
	logger    *slog.Logger

	mu      sync.Mutex
	rosters map[string]*Roster
	runs    map[string]*runEntry
}

// NewService wires a Service. recorder may be nil when no run history
// store is configured.
func NewService(backend AdminBackend, opts ServiceOptions, recorder RunRecorder, logger *slog.Logger) (*Service, error) {
	pattern := opts.EmailDomainPattern
	if pattern == "" {
		pattern = DefaultEmailDomainPattern
	}
	validator, err := NewRecordValidator(pattern)
	if err != nil {
		return nil, fmt.Errorf("email domain pattern: %w", err)
	}
	if opts.TemplatePattern == "" {
		opts.TemplatePattern = DefaultTemplatePattern
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		backend:   backend,
		validator: validator,
		opts:      opts,
		gate:      NewRunGate(),
		recorder:  recorder,
		logger:    logger,
		rosters:   make(map[string]*Roster),
		runs:      make(map[string]*runEntry),
	}, nil
}

// LoadRoster parses and validates a CSV roster and registers it for later
// planning. The whole file is rejected on the first invalid row.
func (s *Service) LoadRoster(data []byte) (*Roster, error) {
	records, err := ParseRoster(data, s.validator)
	if err != nil {
		return nil, err
	}

	roster := &Roster{
		ID:         uuid.NewString(),
		Records:    records,
		Groups:     FoldGroups(records),
		UploadedAt: time.Now(),
	}

	s.mu.Lock()
	s.rosters[roster.ID] = roster
	s.mu.Unlock()

	s.logger.Info("roster loaded",
		"roster_id", roster.ID,
		"rows", len(records),
		"groups", len(roster.Groups))
	return roster, nil
}

// GetRoster returns a previously loaded roster.
func (s *Service) GetRoster(id string) (*Roster, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	roster, ok := s.rosters[id]
	if !ok {
		return nil, fmt.Errorf("roster not found: %s", id)
	}
	return roster, nil
}

// ListTemplates returns the depots eligible as provisioning templates.
func (s *Service) ListTemplates(ctx context.Context) ([]DepotInfo, error) {
	return s.backend.ListDepotsMatching(ctx, s.opts.TemplatePattern)
}

// PreviewPlan computes the full change set for a roster against a template
// without mutating anything.
func (s *Service) PreviewPlan(ctx context.Context, rosterID, template string) (*Plan, error) {
	roster, err := s.GetRoster(rosterID)
	if err != nil {
		return nil, err
	}
	tmpl, err := s.findTemplate(ctx, template)
	if err != nil {
		return nil, err
	}
	return BuildPlan(ctx, s.backend, roster.Records, tmpl)
}

// StartRun claims the run gate, builds a fresh plan, and launches the
// provisioning pipeline. The run executes detached from the calling
// request; observe it through SubscribeProgress and RunProgress.
func (s *Service) StartRun(ctx context.Context, rosterID, template string) (RunInfo, error) {
	if err := s.gate.TryAcquire(); err != nil {
		return RunInfo{}, err
	}

	plan, err := s.PreviewPlan(ctx, rosterID, template)
	if err != nil {
		s.gate.Release()
		return RunInfo{}, err
	}

	runID := uuid.NewString()
	sink := NewFileSink(s.opts.UndoDir, time.Now())
	ledger := NewUndoLedger(sink)

	pipeline := NewPipeline(runID, s.backend, plan, ledger,
		WithInitialPassword(s.opts.DefaultPassword),
		WithLogger(s.logger),
		WithRecorder(s.recorder),
	)

	info := RunInfo{
		ID:        runID,
		RosterID:  rosterID,
		Template:  plan.Template.Name,
		StartedAt: time.Now(),
		UndoFile:  sink.Path(),
	}

	s.mu.Lock()
	s.runs[runID] = &runEntry{info: info, pipeline: pipeline}
	s.mu.Unlock()

	// The run must survive the originating HTTP request.
	runCtx := context.WithoutCancel(ctx)
	pipeline.Start(runCtx)
	go func() {
		<-pipeline.Done()
		s.gate.Release()
	}()

	s.logger.Info("run started",
		"run_id", runID,
		"template", info.Template,
		"users", len(plan.UsersToCreate),
		"depots", len(plan.DepotsToCreate))
	return info, nil
}

// ConfirmPopulate arms the populate stage of a tracked run.
func (s *Service) ConfirmPopulate(runID string) error {
	entry, err := s.run(runID)
	if err != nil {
		return err
	}
	return entry.pipeline.ConfirmPopulate()
}

// SubscribeProgress returns a progress channel for the run, starting with
// its current snapshot.
func (s *Service) SubscribeProgress(runID string) (<-chan RunProgress, error) {
	entry, err := s.run(runID)
	if err != nil {
		return nil, err
	}
	return entry.pipeline.Subscribe(), nil
}

// RunProgress returns the run's current snapshot.
func (s *Service) RunProgress(runID string) (RunProgress, error) {
	entry, err := s.run(runID)
	if err != nil {
		return RunProgress{}, err
	}
	return entry.pipeline.Progress(), nil
}

// RunDetails returns the run's identifying info.
func (s *Service) RunDetails(runID string) (RunInfo, error) {
	entry, err := s.run(runID)
	if err != nil {
		return RunInfo{}, err
	}
	return entry.info, nil
}

// UndoCommands returns the reversal commands accumulated by a run so far.
func (s *Service) UndoCommands(runID string) ([]string, error) {
	entry, err := s.run(runID)
	if err != nil {
		return nil, err
	}
	return entry.pipeline.UndoCommands(), nil
}

// ListRuns returns info for every tracked run, most recent first.
func (s *Service) ListRuns() []RunInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]RunInfo, 0, len(s.runs))
	for _, entry := range s.runs {
		infos = append(infos, entry.info)
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].StartedAt.After(infos[j].StartedAt)
	})
	return infos
}

func (s *Service) run(runID string) (*runEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.runs[runID]
	if !ok {
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	return entry, nil
}

func (s *Service) findTemplate(ctx context.Context, name string) (DepotInfo, error) {
	templates, err := s.ListTemplates(ctx)
	if err != nil {
		return DepotInfo{}, fmt.Errorf("list templates: %w", err)
	}
	for _, t := range templates {
		if t.Name == name {
			return t, nil
		}
	}
	return DepotInfo{}, fmt.Errorf("template depot not found: %s", name)
}
