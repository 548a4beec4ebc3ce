package sonar

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"

	"github.com/terra-clan/skillscout/internal/config"
	"github.com/terra-clan/skillscout/internal/faults"
	"github.com/terra-clan/skillscout/internal/models"
	"github.com/terra-clan/skillscout/internal/workspace"
)

// searchLimit is the server-side cap on results reachable through paging
const searchLimit = 10000

var metricKeys = []string{
	"bugs",
	"vulnerabilities",
	"code_smells",
	"security_hotspots",
	"cognitive_complexity",
	"complexity",
	"sqale_rating",
	"reliability_rating",
	"security_rating",
}

var invalidKeyChars = regexp.MustCompile(`[^a-z0-9_.:-]+`)

// MetadataCache stores rule and hotspot descriptions between analyses
type MetadataCache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any) error
}

// Results is everything a finished analysis produced
type Results struct {
	Metrics  models.MetricSet
	Issues   []models.Issue
	Hotspots []models.Hotspot
}

// Analyzer runs the submit, wait and fetch cycle for one workspace
type Analyzer struct {
	client  *Client
	scanner Scanner
	poller  *Poller
	cache   MetadataCache
	cfg     config.SonarConfig
}

// NewAnalyzer creates an analyzer. cache may be nil.
func NewAnalyzer(cfg config.SonarConfig, scanner Scanner, cache MetadataCache) *Analyzer {
	client := NewClient(cfg.Host, cfg.Token, cfg.RequestTimeout)
	return &Analyzer{
		client:  client,
		scanner: scanner,
		poller:  NewPoller(client, cfg.PollTimeout, cfg.PollInterval),
		cache:   cache,
		cfg:     cfg,
	}
}

// ProjectKey derives the server project key for a repository: the lower-cased
// basename, suffixed with the workspace key so equally named repositories of
// different candidates do not share a project.
func ProjectKey(prefix, repoURL, key string) string {
	name := strings.ToLower(workspace.Basename(repoURL))
	if i := strings.LastIndex(name, ":"); i >= 0 {
		name = name[i+1:]
	}
	if key != "" {
		name += "-" + strings.ToLower(key)
	}
	return prefix + strings.Trim(invalidKeyChars.ReplaceAllString(name, "-"), "-")
}

// Analyze submits dir, waits for the server and fetches the results
func (a *Analyzer) Analyze(ctx context.Context, dir, projectKey string) (*Results, error) {
	if err := a.Submit(ctx, dir, projectKey); err != nil {
		return nil, err
	}
	if _, err := a.AwaitCompletion(ctx, projectKey); err != nil {
		return nil, err
	}
	return a.FetchResults(ctx, dir, projectKey)
}

// Submit writes the scanner configuration into dir and runs the scanner.
// The configuration and the scanner's work directory are gone from dir
// when Submit returns.
func (a *Analyzer) Submit(ctx context.Context, dir, projectKey string) error {
	props := Properties{
		ProjectKey: projectKey,
		Sources:    ".",
		HostURL:    a.cfg.Host,
		Encoding:   "UTF-8",
		Exclusions: DefaultExclusions,
	}
	defer removeArtifacts(dir)
	if err := props.Write(dir); err != nil {
		return faults.Wrap(faults.KindScannerInvocationFailed, err, "failed to configure scanner")
	}

	if err := a.scanner.Scan(ctx, dir, projectKey); err != nil {
		if faults.KindOf(err) == faults.KindUnexpected {
			return faults.Wrap(faults.KindScannerInvocationFailed, err, "scanner failed")
		}
		return err
	}

	slog.Info("analysis submitted", "project", projectKey)
	return nil
}

// AwaitCompletion blocks until the submitted analysis is ready, failed or
// the poll timeout passes
func (a *Analyzer) AwaitCompletion(ctx context.Context, projectKey string) (State, error) {
	return a.poller.Await(ctx, projectKey)
}

// FetchResults pulls metrics, issues and hotspots of a ready analysis and
// enriches them with snippets from dir and rule descriptions.
func (a *Analyzer) FetchResults(ctx context.Context, dir, projectKey string) (*Results, error) {
	values, err := a.client.Measures(ctx, projectKey, metricKeys)
	if err != nil {
		return nil, faults.Wrap(faults.KindMetricsFetchFailed, err, "failed to fetch measures")
	}
	metrics := metricsFrom(values)

	rawIssues, err := a.allIssues(ctx, projectKey)
	if err != nil {
		return nil, faults.Wrap(faults.KindMetricsFetchFailed, err, "failed to fetch issues")
	}

	rules := make(map[string]*RuleSections)
	issues := make([]models.Issue, 0, len(rawIssues))
	for _, raw := range rawIssues {
		issue := models.Issue{
			Key:       raw.Key,
			Rule:      raw.Rule,
			Message:   raw.Message,
			Severity:  raw.Severity,
			Type:      raw.Type,
			Component: raw.Component,
			TextRange: raw.TextRange,
		}
		issue.FilePath, issue.CodeSnippet = a.locate(dir, raw.Component, raw.TextRange)

		if raw.Rule != "" {
			sections, ok := rules[raw.Rule]
			if !ok {
				sections = a.ruleSections(ctx, raw.Rule)
				rules[raw.Rule] = sections
			}
			issue.Introduction = sections.Introduction
			issue.RootCause = sections.RootCause
		}
		issues = append(issues, issue)
	}

	hotspots := a.hotspots(ctx, dir, projectKey)

	slog.Info("analysis results fetched",
		"project", projectKey,
		"issues", len(issues),
		"hotspots", len(hotspots),
	)

	return &Results{Metrics: metrics, Issues: issues, Hotspots: hotspots}, nil
}

func metricsFrom(values map[string]string) models.MetricSet {
	return models.MetricSet{
		Bugs:                  intValue(values["bugs"]),
		Vulnerabilities:       intValue(values["vulnerabilities"]),
		CodeSmells:            intValue(values["code_smells"]),
		SecurityHotspots:      intValue(values["security_hotspots"]),
		CognitiveComplexity:   intValue(values["cognitive_complexity"]),
		CyclomaticComplexity:  intValue(values["complexity"]),
		MaintainabilityRating: models.RatingFromValue(values["sqale_rating"]),
		ReliabilityRating:     models.RatingFromValue(values["reliability_rating"]),
		SecurityRating:        models.RatingFromValue(values["security_rating"]),
	}
}

func intValue(s string) int {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return int(v)
}

// paging returns the page size and the number of pages the server will serve
func (a *Analyzer) paging() (int, int) {
	size := a.cfg.PageSize
	if size <= 0 {
		size = 100
	}
	return size, searchLimit / size
}

func (a *Analyzer) allIssues(ctx context.Context, projectKey string) ([]RawIssue, error) {
	size, pages := a.paging()
	var all []RawIssue
	for page := 1; page <= pages; page++ {
		issues, paging, err := a.client.SearchIssues(ctx, projectKey, page, size)
		if err != nil {
			return nil, err
		}
		all = append(all, issues...)
		if len(issues) == 0 || len(all) >= paging.Total {
			break
		}
	}
	return all, nil
}

// hotspots never fails: an unreachable hotspot API yields no hotspots
func (a *Analyzer) hotspots(ctx context.Context, dir, projectKey string) []models.Hotspot {
	size, pages := a.paging()
	hotspots := []models.Hotspot{}
	seen := 0
	for page := 1; page <= pages; page++ {
		raws, paging, err := a.client.SearchHotspots(ctx, projectKey, page, size)
		if err != nil {
			slog.Warn("failed to fetch security hotspots", "project", projectKey, "error", err)
			return hotspots
		}
		for _, raw := range raws {
			r := raw.TextRange
			if r == nil && raw.Line > 0 {
				r = &models.TextRange{StartLine: raw.Line, EndLine: raw.Line}
			}
			h := models.Hotspot{
				Key:             raw.Key,
				Message:         raw.Message,
				Component:       raw.Component,
				TextRange:       raw.TextRange,
				Line:            raw.Line,
				Category:        raw.SecurityCategory,
				Probability:     raw.VulnerabilityProbability,
				RiskDescription: a.hotspotRisk(ctx, raw.Key),
			}
			h.FilePath, h.CodeSnippet = a.locate(dir, raw.Component, r)
			hotspots = append(hotspots, h)
		}
		seen += len(raws)
		if len(raws) == 0 || seen >= paging.Total {
			break
		}
	}
	return hotspots
}

// locate resolves a component key to a file inside dir and extracts the
// snippet covered by r. Extraction failures are logged, never returned.
func (a *Analyzer) locate(dir, component string, r *models.TextRange) (string, *string) {
	i := strings.LastIndex(component, ":")
	if i < 0 || i == len(component)-1 {
		// project-level finding
		return "", nil
	}
	rel := component[i+1:]

	path, err := securejoin.SecureJoin(dir, rel)
	if err != nil {
		slog.Warn("failed to resolve component path", "component", component, "error", err)
		return "", nil
	}
	if r == nil {
		return path, nil
	}

	snippet, err := ExtractSnippet(path, r)
	if err != nil {
		slog.Warn("failed to extract code snippet", "file", path, "error", err)
		return path, nil
	}
	return path, &snippet
}

func (a *Analyzer) ruleSections(ctx context.Context, ruleKey string) *RuleSections {
	cacheKey := "sonar:rule:" + ruleKey
	var sections RuleSections
	if a.lookup(ctx, cacheKey, &sections) {
		return &sections
	}

	fetched, err := a.client.RuleSections(ctx, ruleKey)
	if err != nil {
		slog.Warn("failed to fetch rule details", "rule", ruleKey, "error", err)
		return &RuleSections{}
	}
	a.store(ctx, cacheKey, fetched)
	return fetched
}

func (a *Analyzer) hotspotRisk(ctx context.Context, hotspotKey string) *string {
	if hotspotKey == "" {
		return nil
	}
	cacheKey := "sonar:hotspot:" + hotspotKey
	var risk *string
	if a.lookup(ctx, cacheKey, &risk) {
		return risk
	}

	risk, err := a.client.HotspotRisk(ctx, hotspotKey)
	if err != nil {
		slog.Warn("failed to fetch hotspot details", "hotspot", hotspotKey, "error", err)
		return nil
	}
	a.store(ctx, cacheKey, risk)
	return risk
}

func (a *Analyzer) lookup(ctx context.Context, key string, dest any) bool {
	if a.cache == nil {
		return false
	}
	ok, err := a.cache.Get(ctx, key, dest)
	if err != nil {
		slog.Warn("metadata cache read failed", "key", key, "error", err)
		return false
	}
	return ok
}

func (a *Analyzer) store(ctx context.Context, key string, value any) {
	if a.cache == nil {
		return
	}
	if err := a.cache.Set(ctx, key, value); err != nil {
		slog.Warn("metadata cache write failed", "key", key, "error", err)
	}
}
