// Package sonar drives a SonarQube server: it runs the scanner against a
// workspace, waits for the server to process the report and pulls back
// metrics, issues and security hotspots.
package sonar

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/terra-clan/skillscout/internal/models"
)

// APIError is a non-2xx answer from the server
type APIError struct {
	StatusCode int
	Path       string
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("sonar %s: HTTP %d: %s", e.Path, e.StatusCode, e.Body)
}

// Client is a bearer-token client for the SonarQube web API
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient creates a client for the server at baseURL
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Task is one compute-engine task
type Task struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	ErrorMessage string `json:"errorMessage"`
}

// ComponentTasks is the compute-engine state of one project
type ComponentTasks struct {
	Queue   []Task `json:"queue"`
	Current *Task  `json:"current"`
}

type measure struct {
	Metric string `json:"metric"`
	Value  string `json:"value"`
}

// Paging is the paging block of search endpoints
type Paging struct {
	PageIndex int `json:"pageIndex"`
	PageSize  int `json:"pageSize"`
	Total     int `json:"total"`
}

// RawIssue is an issue as returned by api/issues/search
type RawIssue struct {
	Key       string            `json:"key"`
	Rule      string            `json:"rule"`
	Severity  string            `json:"severity"`
	Component string            `json:"component"`
	Message   string            `json:"message"`
	Type      string            `json:"type"`
	TextRange *models.TextRange `json:"textRange"`
}

// RawHotspot is a hotspot as returned by api/hotspots/search
type RawHotspot struct {
	Key                      string            `json:"key"`
	Component                string            `json:"component"`
	SecurityCategory         string            `json:"securityCategory"`
	VulnerabilityProbability string            `json:"vulnerabilityProbability"`
	Message                  string            `json:"message"`
	Line                     int               `json:"line"`
	TextRange                *models.TextRange `json:"textRange"`
}

// RuleSections holds the human-readable parts of a rule description
type RuleSections struct {
	Introduction *string `json:"introduction"`
	RootCause    *string `json:"root_cause"`
}

// ComponentTasks returns the queued and current analysis tasks of a project
func (c *Client) ComponentTasks(ctx context.Context, projectKey string) (*ComponentTasks, error) {
	var out ComponentTasks
	if err := c.get(ctx, "/api/ce/component", url.Values{"component": {projectKey}}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Measures returns the raw values of the requested metrics keyed by metric
func (c *Client) Measures(ctx context.Context, projectKey string, metricKeys []string) (map[string]string, error) {
	var out struct {
		Component struct {
			Measures []measure `json:"measures"`
		} `json:"component"`
	}
	params := url.Values{
		"component":  {projectKey},
		"metricKeys": {strings.Join(metricKeys, ",")},
	}
	if err := c.get(ctx, "/api/measures/component", params, &out); err != nil {
		return nil, err
	}

	values := make(map[string]string, len(out.Component.Measures))
	for _, m := range out.Component.Measures {
		values[m.Metric] = m.Value
	}
	return values, nil
}

// SearchIssues returns one page of unresolved issues
func (c *Client) SearchIssues(ctx context.Context, projectKey string, page, pageSize int) ([]RawIssue, Paging, error) {
	var out struct {
		Paging Paging     `json:"paging"`
		Issues []RawIssue `json:"issues"`
	}
	params := url.Values{
		"componentKeys": {projectKey},
		"resolved":      {"false"},
		"ps":            {strconv.Itoa(pageSize)},
		"p":             {strconv.Itoa(page)},
	}
	if err := c.get(ctx, "/api/issues/search", params, &out); err != nil {
		return nil, Paging{}, err
	}
	return out.Issues, out.Paging, nil
}

// SearchHotspots returns one page of security hotspots
func (c *Client) SearchHotspots(ctx context.Context, projectKey string, page, pageSize int) ([]RawHotspot, Paging, error) {
	var out struct {
		Paging   Paging       `json:"paging"`
		Hotspots []RawHotspot `json:"hotspots"`
	}
	params := url.Values{
		"projectKey": {projectKey},
		"ps":         {strconv.Itoa(pageSize)},
		"p":          {strconv.Itoa(page)},
	}
	if err := c.get(ctx, "/api/hotspots/search", params, &out); err != nil {
		return nil, Paging{}, err
	}
	return out.Hotspots, out.Paging, nil
}

// HotspotRisk returns the risk description of a hotspot's rule
func (c *Client) HotspotRisk(ctx context.Context, hotspotKey string) (*string, error) {
	var out struct {
		Rule struct {
			RiskDescription *string `json:"riskDescription"`
		} `json:"rule"`
	}
	if err := c.get(ctx, "/api/hotspots/show", url.Values{"hotspot": {hotspotKey}}, &out); err != nil {
		return nil, err
	}
	return out.Rule.RiskDescription, nil
}

// RuleSections returns the introduction and root cause sections of a rule.
// Missing sections are nil.
func (c *Client) RuleSections(ctx context.Context, ruleKey string) (*RuleSections, error) {
	var out struct {
		Rule struct {
			DescriptionSections []struct {
				Key     string `json:"key"`
				Content string `json:"content"`
			} `json:"descriptionSections"`
		} `json:"rule"`
	}
	if err := c.get(ctx, "/api/rules/show", url.Values{"key": {ruleKey}}, &out); err != nil {
		return nil, err
	}

	sections := &RuleSections{}
	for _, s := range out.Rule.DescriptionSections {
		content := s.Content
		switch s.Key {
		case "introduction":
			sections.Introduction = &content
		case "root_cause":
			sections.RootCause = &content
		}
	}
	return sections, nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values, dest any) error {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Path: path, Body: strings.TrimSpace(string(body))}
	}

	if err := json.Unmarshal(body, dest); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", path, err)
	}
	return nil
}
