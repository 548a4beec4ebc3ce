package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/terra-clan/skillscout/internal/ai"
	"github.com/terra-clan/skillscout/internal/events"
	"github.com/terra-clan/skillscout/internal/faults"
	"github.com/terra-clan/skillscout/internal/models"
	"github.com/terra-clan/skillscout/internal/scoring"
	"github.com/terra-clan/skillscout/internal/storage"
	"github.com/terra-clan/skillscout/internal/workspace"
)

// Common errors
var (
	ErrAnalysisInProgress   = errors.New("analysis already in progress")
	ErrWorkspaceUnavailable = errors.New("repository has no workspace yet")
)

// persistTimeout bounds the status writes that close an analysis run
const persistTimeout = 30 * time.Second

// RepositoryAnalyzer produces the analysis of one repository
type RepositoryAnalyzer interface {
	Analyze(ctx context.Context, rawURL, key string) (*models.AnalysisResult, error)
}

// FileSummarizer summarizes a single source file
type FileSummarizer interface {
	SummarizeFile(ctx context.Context, path, content string) (*ai.FileSummary, error)
}

// ServiceConfig holds the collaborators of a Service
type ServiceConfig struct {
	Store           storage.Repository
	Analyzer        RepositoryAnalyzer
	Summarizer      FileSummarizer
	Browser         *workspace.Browser
	Bus             events.Bus
	WorkspaceRoot   string
	AnalysisTimeout time.Duration
}

// Service manages linked repositories and their analysis runs
type Service struct {
	store      storage.Repository
	analyzer   RepositoryAnalyzer
	summarizer FileSummarizer
	browser    *workspace.Browser
	bus        events.Bus
	root       string
	timeout    time.Duration

	mu      sync.Mutex
	running map[string]struct{}
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	now     func() time.Time
}

// NewService creates a service. Background runs stop when Close is called.
func NewService(cfg ServiceConfig) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	bus := cfg.Bus
	if bus == nil {
		bus = events.NewMemoryBus()
	}
	return &Service{
		store:      cfg.Store,
		analyzer:   cfg.Analyzer,
		summarizer: cfg.Summarizer,
		browser:    cfg.Browser,
		bus:        bus,
		root:       cfg.WorkspaceRoot,
		timeout:    cfg.AnalysisTimeout,
		running:    make(map[string]struct{}),
		ctx:        ctx,
		cancel:     cancel,
		now:        time.Now,
	}
}

// Bus returns the bus status events are published on
func (s *Service) Bus() events.Bus {
	return s.bus
}

// Link attaches a repository to a candidate
func (s *Service) Link(ctx context.Context, candidateID string, req models.LinkRequest) (*models.Repository, error) {
	if strings.TrimSpace(candidateID) == "" {
		return nil, faults.New(faults.KindInvalidInput, "candidate id is required")
	}
	basename, err := workspace.ValidateURL(req.URL)
	if err != nil {
		return nil, faults.Wrap(faults.KindInvalidInput, err, req.URL)
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = basename
	}

	repo := &models.Repository{
		ID:             uuid.NewString(),
		CandidateID:    candidateID,
		Name:           name,
		URL:            strings.TrimSpace(req.URL),
		Description:    req.Description,
		Languages:      models.UniqueStrings(req.Languages),
		AnalysisStatus: models.StatusPending,
		CreatedAt:      s.now().UTC(),
	}
	if err := s.store.CreateRepository(ctx, repo); err != nil {
		return nil, err
	}

	slog.Info("repository linked", "repository_id", repo.ID, "candidate_id", candidateID, "url", repo.URL)
	return repo, nil
}

// List returns repositories matching filters
func (s *Service) List(ctx context.Context, filters models.ListFilters) ([]*models.Repository, error) {
	repos, err := s.store.ListRepositories(ctx, filters)
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	if repos == nil {
		repos = []*models.Repository{}
	}
	return repos, nil
}

// Get retrieves a repository by ID
func (s *Service) Get(ctx context.Context, id string) (*models.Repository, error) {
	return s.store.GetRepository(ctx, id)
}

// Unlink removes a repository, its assessments and its workspace. A
// workspace that cannot be removed is logged and left behind.
func (s *Service) Unlink(ctx context.Context, id string) error {
	// holding the run slot keeps StartAnalysis out until the row is gone
	if !s.reserve(id) {
		return ErrAnalysisInProgress
	}
	defer s.release(id)

	if _, err := s.store.GetRepository(ctx, id); err != nil {
		return err
	}

	if dir := s.workspaceDir(id); dir != "" {
		if err := workspace.Remove(dir); err != nil {
			slog.Warn("failed to remove workspace", "repository_id", id, "dir", dir, "error", err)
		}
	}

	if err := s.store.DeleteRepository(ctx, id); err != nil {
		return err
	}

	slog.Info("repository unlinked", "repository_id", id)
	return nil
}

// StartAnalysis moves the repository to analyzing and runs the pipeline in
// the background
func (s *Service) StartAnalysis(ctx context.Context, id string) (*models.Repository, error) {
	repo, err := s.begin(ctx, id)
	if err != nil {
		return nil, err
	}
	snapshot := *repo

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		runCtx, cancel := s.runContext(s.ctx)
		defer cancel()
		s.run(runCtx, repo)
	}()

	return &snapshot, nil
}

// Analyze runs the pipeline for the repository and waits for it. A failed
// run returns the failed repository together with the *faults.ErrorResponse.
func (s *Service) Analyze(ctx context.Context, id string) (*models.Repository, error) {
	repo, err := s.begin(ctx, id)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := s.runContext(ctx)
	defer cancel()

	if resp := s.run(runCtx, repo); resp != nil {
		return repo, resp
	}
	return repo, nil
}

// Wait blocks until every background analysis has finished
func (s *Service) Wait() {
	s.wg.Wait()
}

// Close cancels background analyses and waits for them to record their
// outcome
func (s *Service) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Service) runContext(parent context.Context) (context.Context, context.CancelFunc) {
	if s.timeout > 0 {
		return context.WithTimeout(parent, s.timeout)
	}
	return context.WithCancel(parent)
}

// reserve marks id busy, returning false if it already is
func (s *Service) reserve(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.running[id]; ok {
		return false
	}
	s.running[id] = struct{}{}
	return true
}

// begin claims the repository for one run and records the analyzing status
func (s *Service) begin(ctx context.Context, id string) (*models.Repository, error) {
	if !s.reserve(id) {
		return nil, ErrAnalysisInProgress
	}

	repo, err := s.claim(ctx, id)
	if err != nil {
		s.release(id)
		return nil, err
	}
	return repo, nil
}

func (s *Service) claim(ctx context.Context, id string) (*models.Repository, error) {
	repo, err := s.store.GetRepository(ctx, id)
	if err != nil {
		return nil, err
	}

	if repo.AnalysisStatus == models.StatusAnalyzing {
		// no run of this process owns it, so an earlier process died mid-run
		slog.Warn("restarting stale analysis", "repository_id", id)
	} else if !repo.AnalysisStatus.CanTransition(models.StatusAnalyzing) {
		return nil, fmt.Errorf("cannot analyze repository in status %s", repo.AnalysisStatus)
	}

	repo.AnalysisStatus = models.StatusAnalyzing
	if err := s.store.UpdateRepository(ctx, repo); err != nil {
		return nil, fmt.Errorf("failed to update repository status: %w", err)
	}
	s.publish(ctx, repo.ID, models.StatusAnalyzing, nil)

	slog.Info("analysis started", "repository_id", id, "url", repo.URL)
	return repo, nil
}

func (s *Service) release(id string) {
	s.mu.Lock()
	delete(s.running, id)
	s.mu.Unlock()
}

// run executes the aggregator and records the outcome on repo. The outcome
// is written even when ctx has been cancelled, so no repository is left
// analyzing.
func (s *Service) run(ctx context.Context, repo *models.Repository) *faults.ErrorResponse {
	defer s.release(repo.ID)

	result, err := s.analyzer.Analyze(ctx, repo.URL, repo.ID)

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err != nil {
		resp := faults.Response(err, s.now())
		repo.AnalysisStatus = models.StatusFailed
		if uerr := s.store.UpdateRepository(persistCtx, repo); uerr != nil {
			slog.Error("failed to record failed analysis", "repository_id", repo.ID, "error", uerr)
		}
		s.publish(persistCtx, repo.ID, models.StatusFailed, resp)
		return resp
	}

	now := s.now().UTC()
	repo.AnalysisStatus = models.StatusComplete
	repo.AnalysisResults = result.Payload()
	repo.WorkspacePath = result.Path
	repo.LastAnalyzed = &now
	if err := s.store.UpdateRepository(persistCtx, repo); err != nil {
		slog.Error("failed to record analysis", "repository_id", repo.ID, "error", err)
		resp := faults.Response(faults.Wrap(faults.KindUnexpected, err, "failed to store analysis"), s.now())
		repo.AnalysisStatus = models.StatusFailed
		repo.AnalysisResults = nil
		repo.LastAnalyzed = nil
		if uerr := s.store.UpdateRepository(persistCtx, repo); uerr != nil {
			slog.Error("failed to record failed analysis", "repository_id", repo.ID, "error", uerr)
		}
		s.publish(persistCtx, repo.ID, models.StatusFailed, resp)
		return resp
	}

	s.publish(persistCtx, repo.ID, models.StatusComplete, nil)
	return nil
}

func (s *Service) publish(ctx context.Context, id string, status models.AnalysisStatus, resp *faults.ErrorResponse) {
	event := models.StatusEvent{
		RepositoryID: id,
		Status:       status,
		Error:        resp,
		Timestamp:    s.now().UTC(),
	}
	if err := s.bus.Publish(ctx, event); err != nil {
		slog.Warn("failed to publish status event", "repository_id", id, "status", status, "error", err)
	}
}

func (s *Service) workspaceDir(id string) string {
	if s.root == "" {
		return ""
	}
	root, err := filepath.Abs(s.root)
	if err != nil {
		return ""
	}
	return filepath.Join(root, id)
}

// checkout returns the workspace of an analyzed repository
func (s *Service) checkout(ctx context.Context, id string) (string, error) {
	repo, err := s.store.GetRepository(ctx, id)
	if err != nil {
		return "", err
	}
	if repo.WorkspacePath == "" {
		return "", ErrWorkspaceUnavailable
	}
	if _, err := os.Stat(repo.WorkspacePath); err != nil {
		return "", ErrWorkspaceUnavailable
	}
	return repo.WorkspacePath, nil
}

// Browse lists rel when it is a directory and reads it otherwise
func (s *Service) Browse(ctx context.Context, id, rel string) ([]workspace.Entry, *workspace.File, error) {
	dir, err := s.checkout(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	info, err := s.browser.Stat(dir, rel)
	if err != nil {
		return nil, nil, err
	}
	if info.IsDir() {
		entries, err := s.browser.List(dir, rel)
		return entries, nil, err
	}
	file, err := s.browser.Read(dir, rel)
	return nil, file, err
}

// SummarizeFile asks the AI reviewer for a summary of one workspace file
func (s *Service) SummarizeFile(ctx context.Context, id, rel string) (*ai.FileSummary, error) {
	dir, err := s.checkout(ctx, id)
	if err != nil {
		return nil, err
	}

	file, err := s.browser.Read(dir, rel)
	if err != nil {
		return nil, err
	}
	return s.summarizer.SummarizeFile(ctx, file.Path, file.Content)
}

// UpsertCandidate stores a candidate profile
func (s *Service) UpsertCandidate(ctx context.Context, profile *models.CandidateProfile) error {
	if strings.TrimSpace(profile.ID) == "" {
		return faults.New(faults.KindInvalidInput, "candidate id is required")
	}
	profile.Skills = models.UniqueStrings(profile.Skills)
	if profile.ExperienceYears < 0 {
		return faults.New(faults.KindInvalidInput, "experience years must not be negative")
	}
	profile.UpdatedAt = s.now().UTC()
	return s.store.UpsertCandidate(ctx, profile)
}

// GetCandidate retrieves a candidate profile
func (s *Service) GetCandidate(ctx context.Context, id string) (*models.CandidateProfile, error) {
	return s.store.GetCandidate(ctx, id)
}

// Score computes the candidate's score projection from the stored profile,
// repositories and assessments. A candidate without a profile is scored on
// repositories alone.
func (s *Service) Score(ctx context.Context, candidateID string) (*models.CandidateScore, error) {
	profile, err := s.store.GetCandidate(ctx, candidateID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		profile = &models.CandidateProfile{ID: candidateID}
	}

	repos, err := s.store.ListRepositories(ctx, models.ListFilters{CandidateID: candidateID})
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}

	records := make([]scoring.RepositoryRecord, 0, len(repos))
	for _, repo := range repos {
		rec := scoring.RepositoryRecord{Repository: repo}
		a, err := s.store.GetAssessmentByRepository(ctx, repo.ID)
		switch {
		case err == nil:
			rec.Assessment = a
		case !errors.Is(err, storage.ErrNotFound):
			return nil, fmt.Errorf("failed to get assessment: %w", err)
		}
		records = append(records, rec)
	}

	score := scoring.Score(profile, records)
	return &score, nil
}
