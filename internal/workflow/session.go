// Package workflow drives one vibeflow run from repository detection to
// the final reports.
//
// Phases run in a fixed order: librarian, architect, factory, worktree
// cleanup, merge, integration, CTO review, session report and a closing
// librarian refresh. Task failures are contained inside the factory; a
// merge or integration failure ends the run.
package workflow

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/vibeflow/internal/ai"
	"github.com/Iron-Ham/vibeflow/internal/config"
	"github.com/Iron-Ham/vibeflow/internal/conflict"
	"github.com/Iron-Ham/vibeflow/internal/event"
	"github.com/Iron-Ham/vibeflow/internal/executil"
	"github.com/Iron-Ham/vibeflow/internal/logging"
	"github.com/Iron-Ham/vibeflow/internal/merge"
	"github.com/Iron-Ham/vibeflow/internal/orchestrator"
	"github.com/Iron-Ham/vibeflow/internal/orchestrator/retry"
	"github.com/Iron-Ham/vibeflow/internal/plan"
	"github.com/Iron-Ham/vibeflow/internal/project"
	"github.com/Iron-Ham/vibeflow/internal/prompt"
	"github.com/Iron-Ham/vibeflow/internal/review"
	"github.com/Iron-Ham/vibeflow/internal/session"
	"github.com/Iron-Ham/vibeflow/internal/worktree"
)

// Phase names, as published on the event bus and used for phase logs.
const (
	PhaseLibrarian   = "librarian"
	PhaseArchitect   = "architect"
	PhaseFactory     = "factory"
	PhaseCleanup     = "cleanup"
	PhaseMerge       = "merge"
	PhaseIntegration = "integration"
	PhaseCTO         = "cto"
	PhaseReport      = "report"
	PhaseRefresh     = "refresh"
)

// Repository is the integration-branch view of git the session needs.
type Repository interface {
	HeadReader
	HistoryReader
	Init(ctx context.Context) error
	EnsureInitialCommit(ctx context.Context) error
	EnsureBranch(ctx context.Context, branch string) error
}

// Git is everything the phases ask of git.
type Git interface {
	Repository
	worktree.CommitInspector
	worktree.DiffProvider
	worktree.Merger
}

var _ Git = (*worktree.Git)(nil)

// MonitorFunc starts a progress display for the factory phase and returns
// its stop function.
type MonitorFunc func(ctx context.Context, state *orchestrator.SessionState, control *orchestrator.Control) (stop func())

// Deps are the collaborators of a Session.
type Deps struct {
	Config    *config.Config
	Root      string
	Git       Git
	Worktrees worktree.Provisioner
	Agent     ai.Backend
	Runner    executil.Runner
	Bus       *event.Bus
	Control   *orchestrator.Control
	Logger    *logging.Logger
	// Out receives the rendered reports. Nil prints nothing.
	Out io.Writer
	// Styled renders reports for a terminal.
	Styled  bool
	Monitor MonitorFunc
	Sleep   retry.SleepFunc
	Now     func() time.Time
	RunID   string
}

// Result summarises a run.
type Result struct {
	Mode   project.Mode
	Domain project.Domain
	// RequirementsCreated is set when a fresh repository was initialised
	// and the operator must fill in the requirements file first.
	RequirementsCreated bool
	StartCommit         string
	Plan                plan.Plan
	Tasks               []orchestrator.Task
	Merges              []merge.Outcome
	IntegrationErr      error
	ReportPath          string
	CTOReportPath       string
}

// Session runs the workflow once.
type Session struct {
	Deps
	paths config.PathsConfig
}

// New creates a Session. Paths in the config are resolved against Root.
func New(deps Deps) *Session {
	if deps.Logger == nil {
		deps.Logger = logging.NopLogger()
	}
	if deps.Bus == nil {
		deps.Bus = event.NewBus(deps.Logger)
	}
	if deps.Control == nil {
		deps.Control = orchestrator.NewControl()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.RunID == "" {
		deps.RunID = uuid.NewString()
	}
	p := deps.Config.Paths
	for _, f := range []*string{&p.IndexFile, &p.PlanFile, &p.ReportFile, &p.CTOReportFile, &p.RequirementsFile, &p.LogDir, &p.WorktreeDir, &p.StateFile} {
		*f = config.Resolve(deps.Root, *f)
	}
	return &Session{Deps: deps, paths: p}
}

// Run executes every phase. The Result is returned even on failure and
// holds whatever completed.
func (s *Session) Run(ctx context.Context) (*Result, error) {
	cfg := s.Config
	mode := project.DetectMode(s.Root, s.paths.IndexFile)
	domain := project.DetectDomain(s.Root)
	res := &Result{Mode: mode, Domain: domain}
	s.Logger.Info("session starting", "mode", mode, "domain", domain, "run_id", s.RunID)

	if mode == project.ModeScratch {
		if err := s.Git.Init(ctx); err != nil {
			return res, fmt.Errorf("initialize repository: %w", err)
		}
		created, err := s.ensureRequirements(domain)
		if err != nil {
			return res, err
		}
		if created {
			s.Logger.Warn("requirements file created; edit it and run again", "path", s.paths.RequirementsFile)
			res.RequirementsCreated = true
			return res, nil
		}
	}

	lock, err := session.AcquireLock(s.paths.LogDir, s.RunID, s.Logger)
	if err != nil {
		return res, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			s.Logger.Warn("failed to release run lock", "error", err)
		}
	}()

	if err := s.excludeWorkDirs(); err != nil {
		s.Logger.Warn("could not exclude vibeflow directories from git", "error", err)
	}
	if err := s.Git.EnsureInitialCommit(ctx); err != nil {
		return res, fmt.Errorf("ensure initial commit: %w", err)
	}
	if err := s.Git.EnsureBranch(ctx, cfg.Factory.IntegrationBranch); err != nil {
		return res, fmt.Errorf("check out %s: %w", cfg.Factory.IntegrationBranch, err)
	}
	start, err := s.Git.HeadHash(ctx, "")
	if err != nil {
		return res, fmt.Errorf("read start commit: %w", err)
	}
	res.StartCommit = start
	s.Logger.Info("session start commit", "hash", short(start), "branch", cfg.Factory.IntegrationBranch)

	state := orchestrator.NewSessionState(mode, domain, start, s.Now())
	recorder := session.Record(s.Bus, session.NewStore(s.paths.StateFile), state, s.Logger)
	defer recorder.Stop()

	librarian := NewLibrarian(s.Agent, s.Git, s.Root, s.paths.IndexFile, cfg.Context, s.Logger)
	if err := s.phase(ctx, PhaseLibrarian, func(ctx context.Context) error {
		_, err := librarian.Run(ctx, mode, domain)
		return err
	}); err != nil {
		return res, err
	}

	architect := NewArchitect(s.Agent, s.Root, s.paths.PlanFile, s.paths.RequirementsFile, cfg.Factory.MaxParallelAgents, s.Logger)
	architect.sleep = s.Sleep
	if err := s.phase(ctx, PhaseArchitect, func(ctx context.Context) error {
		p, err := architect.Plan(ctx, domain, ReadIndex(s.paths.IndexFile))
		res.Plan = p
		return err
	}); err != nil {
		return res, err
	}

	factoryErr := s.phase(ctx, PhaseFactory, func(ctx context.Context) error {
		return s.runFactory(ctx, state, res.Plan)
	})
	res.Tasks = state.Tasks()

	_ = s.phase(ctx, PhaseCleanup, func(ctx context.Context) error {
		cleanupCtx := context.WithoutCancel(ctx)
		for _, t := range res.Tasks {
			s.Worktrees.RemoveWorktree(cleanupCtx, t.ID)
		}
		return nil
	})
	if factoryErr != nil {
		return res, factoryErr
	}

	coordinator := merge.NewCoordinator(s.Git, merge.NewMediator(s.Git, s.Agent, s.Root, s.Logger), s.Bus, s.Logger)
	if err := s.phase(ctx, PhaseMerge, func(ctx context.Context) error {
		outcomes, err := coordinator.MergeAll(ctx, res.Tasks)
		res.Merges = outcomes
		return err
	}); err != nil {
		return res, err
	}

	healer := NewIntegration(s.Agent, s.Runner, s.Root, s.paths.LogDir, cfg.Integration, cfg.Exec.DefaultTimeout, s.Logger)
	healer.sleep = s.Sleep
	if err := s.phase(ctx, PhaseIntegration, func(ctx context.Context) error {
		return healer.Run(ctx, domain)
	}); err != nil {
		res.IntegrationErr = err
		s.writeSessionReport(ctx, state, res)
		return res, err
	}

	_ = s.phase(ctx, PhaseCTO, func(ctx context.Context) error {
		report, err := CTOReview(ctx, s.Agent, s.Git, s.Root, start, s.paths.CTOReportFile, s.Logger)
		if err != nil {
			return err
		}
		res.CTOReportPath = s.paths.CTOReportFile
		s.render(report)
		return nil
	})

	s.writeSessionReport(ctx, state, res)

	_ = s.phase(ctx, PhaseRefresh, func(ctx context.Context) error {
		_, err := librarian.Run(ctx, project.ModeMaintain, domain)
		return err
	})

	s.Logger.Info("session complete",
		"tasks", len(res.Tasks),
		"report", res.ReportPath,
		"cto_report", res.CTOReportPath,
		"logs", s.paths.LogDir,
	)
	return res, nil
}

func (s *Session) runFactory(ctx context.Context, state *orchestrator.SessionState, p plan.Plan) error {
	cfg := s.Config
	if s.Monitor != nil {
		stop := s.Monitor(ctx, state, s.Control)
		defer stop()
	}
	gate := review.NewGate(s.Git, s.Agent, s.Runner, s.paths.LogDir,
		review.WithLogger(s.Logger),
		review.WithTestTimeout(cfg.Exec.DefaultTimeout),
	)
	var watcher orchestrator.Watcher
	if cfg.Factory.WatchOverlaps {
		if d := s.overlapDetector(ctx); d != nil {
			defer d.Stop()
			watcher = d
		}
	}
	factory := orchestrator.NewFactory(cfg.Factory, orchestrator.Deps{
		Worktrees: s.Worktrees,
		Git:       s.Git,
		Agent:     s.Agent,
		Reviewer:  gate,
		State:     state,
		Bus:       s.Bus,
		Control:   s.Control,
		Watcher:   watcher,
		Logger:    s.Logger,
		LogDir:    s.paths.LogDir,
		Index:     ReadIndex(s.paths.IndexFile),
		Sleep:     s.Sleep,
		Now:       s.Now,
	})
	_, err := factory.Run(ctx, p)
	return err
}

// overlapDetector starts a detector that publishes overlapping writes on
// the bus. It returns nil when the platform watcher is unavailable.
func (s *Session) overlapDetector(ctx context.Context) *conflict.Detector {
	d, err := conflict.New(conflict.WithLogger(s.Logger.WithPhase("factory")))
	if err != nil {
		s.Logger.Warn("overlap detection disabled", "error", err)
		return nil
	}
	d.OnOverlap(func(o conflict.Overlap) {
		s.Bus.Publish(event.NewFileOverlapEvent(o.Path, o.Tasks))
	})
	d.Start(ctx)
	return d
}

// writeSessionReport runs the report phase. It also runs after a failed
// integration so the failure is recorded.
func (s *Session) writeSessionReport(ctx context.Context, state *orchestrator.SessionState, res *Result) {
	_ = s.phase(ctx, PhaseReport, func(ctx context.Context) error {
		report := SessionReport(state.Snapshot(s.Now()), res.Merges, res.IntegrationErr)
		if err := writeReport(s.paths.ReportFile, report); err != nil {
			return err
		}
		res.ReportPath = s.paths.ReportFile
		s.render(report)
		return nil
	})
}

// phase runs fn between phase.started and phase.completed events.
func (s *Session) phase(ctx context.Context, name string, fn func(context.Context) error) error {
	logger := s.Logger.WithPhase(name)
	s.Bus.Publish(event.NewPhaseStartedEvent(name))
	logger.Info("phase started")
	began := s.Now()

	err := fn(ctx)

	s.Bus.Publish(event.NewPhaseCompletedEvent(name, err))
	if err != nil {
		logger.Error("phase failed", "error", err, "elapsed", s.Now().Sub(began).String())
	} else {
		logger.Info("phase completed", "elapsed", s.Now().Sub(began).String())
	}
	return err
}

func (s *Session) ensureRequirements(domain project.Domain) (bool, error) {
	path := s.paths.RequirementsFile
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("create requirements directory: %w", err)
	}
	content := fmt.Sprintf("<!-- domain: %s -->\n%s", domain, prompt.RequirementsTemplate)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return false, fmt.Errorf("write requirements template: %w", err)
	}
	return true, nil
}

// excludeWorkDirs lists the log and worktree directories in
// .git/info/exclude so agents committing with "git add -A" never pick
// them up.
func (s *Session) excludeWorkDirs() error {
	infoDir := filepath.Join(s.Root, ".git", "info")
	if _, err := os.Stat(filepath.Join(s.Root, ".git")); err != nil {
		return nil
	}
	path := filepath.Join(infoDir, "exclude")
	existing, _ := os.ReadFile(path)
	present := map[string]bool{}
	for _, l := range strings.Split(string(existing), "\n") {
		present[strings.TrimSpace(l)] = true
	}

	var add []string
	for _, dir := range []string{s.paths.LogDir, s.paths.WorktreeDir} {
		rel, err := filepath.Rel(s.Root, dir)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		entry := "/" + filepath.ToSlash(rel) + "/"
		if !present[entry] {
			add = append(add, entry)
		}
	}
	if len(add) == 0 {
		return nil
	}
	if err := os.MkdirAll(infoDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	if len(existing) > 0 && !strings.HasSuffix(string(existing), "\n") {
		add[0] = "\n" + add[0]
	}
	_, err = f.WriteString(strings.Join(add, "\n") + "\n")
	return err
}

func (s *Session) render(markdown string) {
	if s.Out == nil {
		return
	}
	RenderMarkdown(s.Out, markdown, s.Styled, 0)
}
