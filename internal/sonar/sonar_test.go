package sonar

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terra-clan/skillscout/internal/config"
	"github.com/terra-clan/skillscout/internal/faults"
	"github.com/terra-clan/skillscout/internal/models"
)

const sample = "package main\n\nfunc main() {\n\tpassword := \"hunter2\"\n\t_ = password\n}\n"

func writeSource(t *testing.T, dir, rel, content string) string {
	t.Helper()
	p := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestExtractSnippet(t *testing.T) {
	path := writeSource(t, t.TempDir(), "main.go", sample)

	got, err := ExtractSnippet(path, &models.TextRange{StartLine: 4, EndLine: 4, StartOffset: 1, EndOffset: 9})
	require.NoError(t, err)
	assert.Equal(t, "password", got)

	got, err = ExtractSnippet(path, &models.TextRange{StartLine: 3, EndLine: 3, StartOffset: 5})
	require.NoError(t, err)
	assert.Equal(t, "main() {", got)

	// offsets ignored across lines
	got, err = ExtractSnippet(path, &models.TextRange{StartLine: 3, EndLine: 4, StartOffset: 5, EndOffset: 2})
	require.NoError(t, err)
	assert.Equal(t, "func main() {\n\tpassword := \"hunter2\"", got)

	// offsets beyond the line are clamped
	got, err = ExtractSnippet(path, &models.TextRange{StartLine: 1, EndLine: 1, StartOffset: 0, EndOffset: 500})
	require.NoError(t, err)
	assert.Equal(t, "package main", got)

	_, err = ExtractSnippet(path, &models.TextRange{StartLine: 40, EndLine: 40})
	assert.Error(t, err)

	_, err = ExtractSnippet(filepath.Join(t.TempDir(), "missing.go"), &models.TextRange{StartLine: 1, EndLine: 1})
	assert.Error(t, err)

	binary := writeSource(t, t.TempDir(), "blob", "\xff\xfe\x00")
	_, err = ExtractSnippet(binary, &models.TextRange{StartLine: 1, EndLine: 1})
	assert.Error(t, err)
}

func TestExtractSnippetCountsRunes(t *testing.T) {
	path := writeSource(t, t.TempDir(), "greet.py", "msg = \"héllo wörld\"\n")
	got, err := ExtractSnippet(path, &models.TextRange{StartLine: 1, EndLine: 1, StartOffset: 7, EndOffset: 12})
	require.NoError(t, err)
	assert.Equal(t, "héllo", got)
}

func TestPropertiesRender(t *testing.T) {
	out := Properties{
		ProjectKey: "widgets-1",
		HostURL:    "http://sonar:9000",
		Exclusions: []string{"**/.git/**", "**/dist/**"},
	}.Render()

	assert.Contains(t, out, "sonar.projectKey=widgets-1\n")
	assert.Contains(t, out, "sonar.sources=.\n")
	assert.Contains(t, out, "sonar.host.url=http://sonar:9000\n")
	assert.NotContains(t, out, "sonar.token")
	assert.Contains(t, out, "sonar.sourceEncoding=UTF-8\n")
	assert.Contains(t, out, "sonar.exclusions=**/.git/**,**/dist/**\n")
}

func TestProjectKey(t *testing.T) {
	assert.Equal(t, "widgets", ProjectKey("", "https://github.com/acme/Widgets.git", ""))
	assert.Equal(t, "ss-my-tool-ab12", ProjectKey("ss-", "git@github.com:acme/My Tool.git", "AB12"))
	assert.Equal(t, "repo-42", ProjectKey("", "git@host:repo.git", "42"))
}

type fakeSonar struct {
	mu        sync.Mutex
	queue     []string
	current   string
	calls     map[string]int
	measures  map[string]string
	issues    []RawIssue
	hotspots  []RawHotspot
	failPaths map[string]int
}

func newFakeSonar() *fakeSonar {
	return &fakeSonar{calls: map[string]int{}, failPaths: map[string]int{}}
}

func (f *fakeSonar) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		f.mu.Lock()
		defer f.mu.Unlock()
		f.calls[r.URL.Path]++

		if code, ok := f.failPaths[r.URL.Path]; ok {
			w.WriteHeader(code)
			return
		}

		q := r.URL.Query()
		page, _ := strconv.Atoi(q.Get("p"))
		size, _ := strconv.Atoi(q.Get("ps"))

		var body any
		switch r.URL.Path {
		case "/api/ce/component":
			var queue []Task
			if len(f.queue) > 0 {
				queue = append(queue, Task{ID: "t1", Status: f.queue[0]})
				f.queue = f.queue[1:]
			}
			var current *Task
			if f.current != "" {
				current = &Task{ID: "t0", Status: f.current, ErrorMessage: "boom"}
			}
			body = map[string]any{"queue": queue, "current": current}
		case "/api/measures/component":
			var ms []measure
			for k, v := range f.measures {
				ms = append(ms, measure{Metric: k, Value: v})
			}
			body = map[string]any{"component": map[string]any{"measures": ms}}
		case "/api/issues/search":
			assert.Equal(t, "false", q.Get("resolved"))
			body = map[string]any{
				"paging": Paging{PageIndex: page, PageSize: size, Total: len(f.issues)},
				"issues": pageOf(f.issues, page, size),
			}
		case "/api/hotspots/search":
			body = map[string]any{
				"paging":   Paging{PageIndex: page, PageSize: size, Total: len(f.hotspots)},
				"hotspots": pageOf(f.hotspots, page, size),
			}
		case "/api/hotspots/show":
			body = map[string]any{"rule": map[string]any{"riskDescription": "secrets leak " + q.Get("hotspot")}}
		case "/api/rules/show":
			sections := []map[string]string{{"key": "introduction", "content": "intro " + q.Get("key")}}
			if q.Get("key") == "go:S100" {
				sections = append(sections, map[string]string{"key": "root_cause", "content": "cause"})
			}
			body = map[string]any{"rule": map[string]any{"descriptionSections": sections}}
		default:
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(body)
	})
}

func (f *fakeSonar) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

func pageOf[T any](items []T, page, size int) []T {
	if size <= 0 {
		return items
	}
	from := (page - 1) * size
	if from >= len(items) {
		return []T{}
	}
	to := from + size
	if to > len(items) {
		to = len(items)
	}
	return items[from:to]
}

type fakeScanner struct {
	calls int
	err   error
	dir   string
	props string
}

func (s *fakeScanner) Scan(ctx context.Context, dir, projectKey string) error {
	s.calls++
	s.dir = dir
	if data, err := os.ReadFile(filepath.Join(dir, PropertiesFile)); err == nil {
		s.props = string(data)
	}
	if err := os.MkdirAll(filepath.Join(dir, WorkDir), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, WorkDir, "report-task.txt"), []byte("ceTaskId=1\n"), 0o644); err != nil {
		return err
	}
	return s.err
}

type countingCache struct {
	mu   sync.Mutex
	data map[string][]byte
	sets int32
}

func (c *countingCache) Get(ctx context.Context, key string, dest any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok := c.data[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dest)
}

func (c *countingCache) Set(ctx context.Context, key string, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if c.data == nil {
		c.data = map[string][]byte{}
	}
	c.data[key] = raw
	atomic.AddInt32(&c.sets, 1)
	return nil
}

func testConfig(host string) config.SonarConfig {
	return config.SonarConfig{
		Host:           host,
		Token:          "tok",
		PollTimeout:    2 * time.Second,
		PollInterval:   5 * time.Millisecond,
		PageSize:       1,
		RequestTimeout: time.Second,
	}
}

func TestPollerWalksQueueToReady(t *testing.T) {
	fake := newFakeSonar()
	fake.queue = []string{"PENDING", "IN_PROGRESS"}
	fake.measures = map[string]string{"ncloc": "120"}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	p := NewPoller(NewClient(srv.URL, "tok", time.Second), time.Second, 5*time.Millisecond)
	state, err := p.Await(context.Background(), "widgets")
	require.NoError(t, err)
	assert.Equal(t, StateReady, state)
	assert.Equal(t, 3, fake.count("/api/ce/component"))
}

func TestPollerTimesOut(t *testing.T) {
	fake := newFakeSonar()
	for i := 0; i < 1000; i++ {
		fake.queue = append(fake.queue, "PENDING")
	}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	p := NewPoller(NewClient(srv.URL, "tok", time.Second), 60*time.Millisecond, 10*time.Millisecond)
	start := time.Now()
	state, err := p.Await(context.Background(), "widgets")

	assert.Equal(t, StateTimedOut, state)
	assert.Equal(t, faults.KindScanTimedOut, faults.KindOf(err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestPollerReportsFailedTask(t *testing.T) {
	fake := newFakeSonar()
	fake.current = "FAILED"
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	p := NewPoller(NewClient(srv.URL, "tok", time.Second), time.Second, 5*time.Millisecond)
	state, err := p.Await(context.Background(), "widgets")
	assert.Equal(t, StateFailed, state)
	assert.Equal(t, faults.KindScannerInvocationFailed, faults.KindOf(err))
	assert.Contains(t, err.Error(), "boom")
}

func TestPollerStopsOnCancel(t *testing.T) {
	fake := newFakeSonar()
	for i := 0; i < 1000; i++ {
		fake.queue = append(fake.queue, "IN_PROGRESS")
	}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	p := NewPoller(NewClient(srv.URL, "tok", time.Second), time.Minute, 10*time.Millisecond)
	start := time.Now()
	_, err := p.Await(ctx, "widgets")
	assert.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestAnalyzeCollectsEverything(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "cmd/main.go", sample)

	fake := newFakeSonar()
	fake.measures = map[string]string{
		"ncloc":                "7",
		"bugs":                 "2",
		"vulnerabilities":      "1",
		"code_smells":          "3",
		"security_hotspots":    "1",
		"cognitive_complexity": "4",
		"complexity":           "5",
		"sqale_rating":         "2.0",
		"reliability_rating":   "3.0",
		"security_rating":      "9",
	}
	fake.issues = []RawIssue{
		{Key: "i1", Rule: "go:S100", Severity: "MAJOR", Type: "CODE_SMELL", Message: "rename",
			Component: "widgets:cmd/main.go", TextRange: &models.TextRange{StartLine: 3, EndLine: 3, StartOffset: 5, EndOffset: 9}},
		{Key: "i2", Rule: "go:S100", Severity: "MINOR", Type: "CODE_SMELL", Message: "again",
			Component: "widgets:cmd/main.go", TextRange: &models.TextRange{StartLine: 99, EndLine: 99}},
		{Key: "i3", Rule: "go:S200", Severity: "INFO", Type: "BUG", Message: "project level",
			Component: "widgets"},
	}
	fake.hotspots = []RawHotspot{
		{Key: "h1", Component: "widgets:cmd/main.go", SecurityCategory: "auth", VulnerabilityProbability: "HIGH",
			Message: "hard-coded password", Line: 4},
	}
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	scanner := &fakeScanner{}
	cache := &countingCache{}
	a := NewAnalyzer(testConfig(srv.URL), scanner, cache)

	res, err := a.Analyze(context.Background(), dir, "widgets")
	require.NoError(t, err)

	assert.Equal(t, 1, scanner.calls)
	assert.Contains(t, scanner.props, "sonar.projectKey=widgets")

	assert.Equal(t, models.MetricSet{
		Bugs:                  2,
		Vulnerabilities:       1,
		CodeSmells:            3,
		SecurityHotspots:      1,
		CognitiveComplexity:   4,
		CyclomaticComplexity:  5,
		MaintainabilityRating: models.RatingB,
		ReliabilityRating:     models.RatingC,
		SecurityRating:        models.RatingA,
	}, res.Metrics)

	require.Len(t, res.Issues, 3)
	first := res.Issues[0]
	require.NotNil(t, first.CodeSnippet)
	assert.Equal(t, "main", *first.CodeSnippet)
	assert.Equal(t, filepath.Join(dir, "cmd/main.go"), first.FilePath)
	require.NotNil(t, first.Introduction)
	assert.Equal(t, "intro go:S100", *first.Introduction)
	require.NotNil(t, first.RootCause)
	assert.Equal(t, "cause", *first.RootCause)

	// extraction failure keeps the issue with a null snippet
	assert.Nil(t, res.Issues[1].CodeSnippet)
	assert.Equal(t, "again", res.Issues[1].Message)

	assert.Empty(t, res.Issues[2].FilePath)
	assert.Nil(t, res.Issues[2].RootCause)

	// one lookup per distinct rule
	assert.Equal(t, 2, fake.count("/api/rules/show"))
	assert.Equal(t, 3, fake.count("/api/issues/search"))

	require.Len(t, res.Hotspots, 1)
	h := res.Hotspots[0]
	assert.Equal(t, "HIGH", h.Probability)
	require.NotNil(t, h.CodeSnippet)
	assert.Equal(t, `password := "hunter2"`, *h.CodeSnippet)
	require.NotNil(t, h.RiskDescription)
	assert.Equal(t, "secrets leak h1", *h.RiskDescription)

	// a second run is served from the cache
	_, err = a.FetchResults(context.Background(), dir, "widgets")
	require.NoError(t, err)
	assert.Equal(t, 2, fake.count("/api/rules/show"))
	assert.Equal(t, 1, fake.count("/api/hotspots/show"))
}

func TestSubmitKeepsTokenOutOfWorkspace(t *testing.T) {
	dir := t.TempDir()
	writeSource(t, dir, "cmd/main.go", sample)

	cfg := testConfig("http://127.0.0.1:1")
	cfg.Token = "squ_SECRET"
	scanner := &fakeScanner{}
	a := NewAnalyzer(cfg, scanner, nil)

	require.NoError(t, a.Submit(context.Background(), dir, "widgets"))
	assert.Contains(t, scanner.props, "sonar.projectKey=widgets")
	assert.NotContains(t, scanner.props, "squ_SECRET")

	assert.NoFileExists(t, filepath.Join(dir, PropertiesFile))
	assert.NoDirExists(t, filepath.Join(dir, WorkDir))
	assert.FileExists(t, filepath.Join(dir, "cmd/main.go"))
}

func TestSubmitCleansUpAfterScannerFailure(t *testing.T) {
	dir := t.TempDir()
	scanner := &fakeScanner{err: faults.New(faults.KindScannerInvocationFailed, "exit 2")}
	a := NewAnalyzer(testConfig("http://127.0.0.1:1"), scanner, nil)

	err := a.Submit(context.Background(), dir, "widgets")
	assert.Equal(t, faults.KindScannerInvocationFailed, faults.KindOf(err))
	assert.NoFileExists(t, filepath.Join(dir, PropertiesFile))
	assert.NoDirExists(t, filepath.Join(dir, WorkDir))
}

func TestSubmitPropagatesScannerFailure(t *testing.T) {
	scanner := &fakeScanner{err: faults.New(faults.KindScannerInvocationFailed, "exit 2")}
	a := NewAnalyzer(testConfig("http://127.0.0.1:1"), scanner, nil)

	_, err := a.Analyze(context.Background(), t.TempDir(), "widgets")
	assert.Equal(t, faults.KindScannerInvocationFailed, faults.KindOf(err))
}

func TestFetchResultsClassifiesMetricFailures(t *testing.T) {
	fake := newFakeSonar()
	fake.failPaths["/api/measures/component"] = http.StatusInternalServerError
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	a := NewAnalyzer(testConfig(srv.URL), &fakeScanner{}, nil)
	_, err := a.FetchResults(context.Background(), t.TempDir(), "widgets")
	assert.Equal(t, faults.KindMetricsFetchFailed, faults.KindOf(err))

	var apiErr *APIError
	assert.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
}

func TestHotspotFailureIsNotFatal(t *testing.T) {
	fake := newFakeSonar()
	fake.measures = map[string]string{"sqale_rating": "1.0"}
	fake.failPaths["/api/hotspots/search"] = http.StatusForbidden
	srv := httptest.NewServer(fake.handler(t))
	defer srv.Close()

	a := NewAnalyzer(testConfig(srv.URL), &fakeScanner{}, nil)
	res, err := a.FetchResults(context.Background(), t.TempDir(), "widgets")
	require.NoError(t, err)
	assert.Empty(t, res.Hotspots)
	assert.NotNil(t, res.Hotspots)
	assert.Equal(t, models.RatingA, res.Metrics.MaintainabilityRating)
}
