// Package pipeline turns a repository URL into a persisted analysis and
// manages the repositories linked by candidates.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/terra-clan/skillscout/internal/ai"
	"github.com/terra-clan/skillscout/internal/faults"
	"github.com/terra-clan/skillscout/internal/models"
	"github.com/terra-clan/skillscout/internal/retry"
	"github.com/terra-clan/skillscout/internal/sonar"
	"github.com/terra-clan/skillscout/internal/workspace"
)

// Fetcher places a checkout of a repository on local disk
type Fetcher interface {
	Fetch(ctx context.Context, rawURL, key string) (string, error)
}

// ProjectReviewer summarizes a repository from its synopsis
type ProjectReviewer interface {
	Review(ctx context.Context, tree, sample string) (*ai.ProjectSummary, error)
}

// StaticAnalyzer runs the static-analysis cycle on a checkout
type StaticAnalyzer interface {
	Analyze(ctx context.Context, dir, projectKey string) (*sonar.Results, error)
}

// Aggregator combines checkout, AI review and static analysis into one
// AnalysisResult
type Aggregator struct {
	fetcher       Fetcher
	reviewer      ProjectReviewer
	analyzer      StaticAnalyzer
	limits        workspace.Limits
	projectPrefix string
	policy        retry.Policy
	now           func() time.Time
}

// AggregatorConfig holds the collaborators of an Aggregator. Analyzer may be
// nil, in which case every result carries zeroed metrics.
type AggregatorConfig struct {
	Fetcher       Fetcher
	Reviewer      ProjectReviewer
	Analyzer      StaticAnalyzer
	Limits        workspace.Limits
	ProjectPrefix string
	Policy        retry.Policy
}

// NewAggregator creates an aggregator
func NewAggregator(cfg AggregatorConfig) *Aggregator {
	return &Aggregator{
		fetcher:       cfg.Fetcher,
		reviewer:      cfg.Reviewer,
		analyzer:      cfg.Analyzer,
		limits:        cfg.Limits,
		projectPrefix: cfg.ProjectPrefix,
		policy:        cfg.Policy,
		now:           time.Now,
	}
}

// Analyze produces the analysis of rawURL, checked out under key. On failure
// the error is always a *faults.ErrorResponse.
func (a *Aggregator) Analyze(ctx context.Context, rawURL, key string) (*models.AnalysisResult, error) {
	var result *models.AnalysisResult

	err := retry.Do(ctx, "pipeline.analyze", a.policy, func(ctx context.Context) error {
		r, err := a.attempt(ctx, rawURL, key)
		if err != nil {
			if !faults.Transient(err) {
				return retry.Permanent(err)
			}
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		resp := faults.Response(err, a.now())
		slog.Error("analysis failed",
			"url", rawURL,
			"kind", resp.Kind,
			"details", resp.Details,
		)
		return nil, resp
	}

	slog.Info("analysis complete",
		"url", rawURL,
		"project", result.ProjectName,
		"issues", len(result.Issues),
		"hotspots", len(result.SecurityHotspots),
	)
	return result, nil
}

func (a *Aggregator) attempt(ctx context.Context, rawURL, key string) (result *models.AnalysisResult, err error) {
	defer recoverInto(&err)

	name, err := workspace.ValidateURL(rawURL)
	if err != nil {
		return nil, faults.Wrap(faults.KindInvalidInput, err, rawURL)
	}

	dir, err := a.fetcher.Fetch(ctx, rawURL, key)
	if err != nil {
		return nil, err
	}

	synopsis, err := workspace.Summarize(dir, a.limits)
	if err != nil {
		return nil, faults.Wrap(faults.KindUnexpected, err, "failed to summarize workspace")
	}

	var (
		summary *ai.ProjectSummary
		static  *sonar.Results
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		defer recoverInto(&err)
		summary, err = a.reviewer.Review(gctx, synopsis.Tree, synopsis.Sample)
		return err
	})
	g.Go(func() (err error) {
		defer recoverInto(&err)
		static = a.staticAnalysis(gctx, dir, sonar.ProjectKey(a.projectPrefix, rawURL, key))
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result = &models.AnalysisResult{
		ProjectName:      summary.Name,
		Path:             dir,
		Description:      summary.Description,
		Technologies:     models.UniqueStrings(summary.Technologies),
		Metrics:          models.ZeroMetrics(),
		Issues:           []models.Issue{},
		SecurityHotspots: []models.Hotspot{},
	}
	if result.ProjectName == "" {
		result.ProjectName = name
	}
	if static != nil {
		result.Metrics = static.Metrics
		result.Measured = true
		result.Issues = static.Issues
		result.SecurityHotspots = static.Hotspots
	}
	return result, nil
}

// staticAnalysis returns nil when the scanner produced nothing usable; the
// caller keeps zeroed metrics in that case
func (a *Aggregator) staticAnalysis(ctx context.Context, dir, projectKey string) *sonar.Results {
	if a.analyzer == nil {
		return nil
	}

	results, err := a.analyzer.Analyze(ctx, dir, projectKey)
	if err != nil {
		slog.Warn("static analysis unavailable, using zeroed metrics",
			"project", projectKey,
			"kind", faults.KindOf(err),
			"error", err,
		)
		return nil
	}
	return results
}

func recoverInto(err *error) {
	if r := recover(); r != nil {
		*err = faults.New(faults.KindUnexpected, "panic: %v", r)
	}
}

// Policy builds a retry policy from configured values
func Policy(maxAttempts int, initial, maxInterval time.Duration) retry.Policy {
	p := retry.DefaultPolicy()
	if maxAttempts > 0 {
		p.MaxAttempts = maxAttempts
	}
	if initial > 0 {
		p.InitialInterval = initial
	}
	if maxInterval > 0 {
		p.MaxInterval = maxInterval
	}
	return p
}
