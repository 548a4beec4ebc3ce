package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/terra-clan/skillscout/internal/models"
)

// Client is a Go SDK for the skillscout API
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option configures the client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the client timeout
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient creates a new skillscout client
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError is a failure reported in the response envelope
type APIError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: %s - %s", e.Code, e.Message)
}

// ListOptions contains options for listing repositories
type ListOptions struct {
	Status string
	Limit  int
	Offset int
}

// Listing is the result of browsing a workspace path. Exactly one of
// Entries and File is set.
type Listing struct {
	Type    string       `json:"type"`
	Path    string       `json:"path,omitempty"`
	Entries []FileEntry  `json:"entries,omitempty"`
	File    *FileContent `json:"file,omitempty"`
}

// FileEntry is one item of a directory listing
type FileEntry struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	IsDir bool   `json:"is_dir"`
	Size  int64  `json:"size"`
}

// FileContent is the content of one workspace file
type FileContent struct {
	Path      string `json:"path"`
	Size      int64  `json:"size"`
	Content   string `json:"content"`
	Truncated bool   `json:"truncated"`
}

// FileSummary is the AI summary of one workspace file
type FileSummary struct {
	Path       string   `json:"path"`
	Summary    string   `json:"summary"`
	Highlights []string `json:"highlights"`
}

// SubmitResult is the graded attempt and the assessment after grading
type SubmitResult struct {
	Attempt    *models.AssessmentAttempt `json:"attempt"`
	Assessment *models.Assessment        `json:"assessment"`
}

// PutCandidate creates or replaces a candidate profile
func (c *Client) PutCandidate(ctx context.Context, profile models.CandidateProfile) (*models.CandidateProfile, error) {
	return call[*models.CandidateProfile](ctx, c, http.MethodPut, "/api/v1/candidates/"+url.PathEscape(profile.ID), profile)
}

// GetCandidate retrieves a candidate profile
func (c *Client) GetCandidate(ctx context.Context, id string) (*models.CandidateProfile, error) {
	return call[*models.CandidateProfile](ctx, c, http.MethodGet, "/api/v1/candidates/"+url.PathEscape(id), nil)
}

// Score retrieves the candidate's score projection
func (c *Client) Score(ctx context.Context, candidateID string) (*models.CandidateScore, error) {
	return call[*models.CandidateScore](ctx, c, http.MethodGet, "/api/v1/candidates/"+url.PathEscape(candidateID)+"/score", nil)
}

// LinkRepository links a repository to a candidate
func (c *Client) LinkRepository(ctx context.Context, candidateID string, req models.LinkRequest) (*models.Repository, error) {
	return call[*models.Repository](ctx, c, http.MethodPost, "/api/v1/candidates/"+url.PathEscape(candidateID)+"/repositories", req)
}

// ListRepositories lists the repositories of a candidate
func (c *Client) ListRepositories(ctx context.Context, candidateID string, opts ListOptions) ([]*models.Repository, error) {
	query := url.Values{}
	if opts.Status != "" {
		query.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		query.Set("offset", strconv.Itoa(opts.Offset))
	}

	path := "/api/v1/candidates/" + url.PathEscape(candidateID) + "/repositories"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	result, err := call[struct {
		Repositories []*models.Repository `json:"repositories"`
		Total        int                  `json:"total"`
	}](ctx, c, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	return result.Repositories, nil
}

// GetRepository retrieves a repository by ID
func (c *Client) GetRepository(ctx context.Context, id string) (*models.Repository, error) {
	return call[*models.Repository](ctx, c, http.MethodGet, "/api/v1/repositories/"+url.PathEscape(id), nil)
}

// UnlinkRepository removes a repository and its workspace
func (c *Client) UnlinkRepository(ctx context.Context, id string) error {
	_, err := call[json.RawMessage](ctx, c, http.MethodDelete, "/api/v1/repositories/"+url.PathEscape(id), nil)
	return err
}

// StartAnalysis starts a background analysis run
func (c *Client) StartAnalysis(ctx context.Context, id string) (*models.Repository, error) {
	return call[*models.Repository](ctx, c, http.MethodPost, "/api/v1/repositories/"+url.PathEscape(id)+"/analyze", nil)
}

// WaitForAnalysis polls the repository until its status is terminal
func (c *Client) WaitForAnalysis(ctx context.Context, id string, interval time.Duration) (*models.Repository, error) {
	if interval <= 0 {
		interval = 2 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		repo, err := c.GetRepository(ctx, id)
		if err != nil {
			return nil, err
		}
		if repo.AnalysisStatus.IsTerminal() {
			return repo, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Browse lists a directory or reads a file of the repository's workspace
func (c *Client) Browse(ctx context.Context, id, path string) (*Listing, error) {
	return call[*Listing](ctx, c, http.MethodGet,
		"/api/v1/repositories/"+url.PathEscape(id)+"/files?path="+url.QueryEscape(path), nil)
}

// SummarizeFile asks for an AI summary of one workspace file
func (c *Client) SummarizeFile(ctx context.Context, id, path string) (*FileSummary, error) {
	return call[*FileSummary](ctx, c, http.MethodGet,
		"/api/v1/repositories/"+url.PathEscape(id)+"/files/summary?path="+url.QueryEscape(path), nil)
}

// GenerateAssessment returns the repository's assessment, generating it on first use
func (c *Client) GenerateAssessment(ctx context.Context, repositoryID string) (*models.Assessment, error) {
	return call[*models.Assessment](ctx, c, http.MethodPost, "/api/v1/repositories/"+url.PathEscape(repositoryID)+"/assessment", nil)
}

// GetAssessment retrieves the repository's assessment
func (c *Client) GetAssessment(ctx context.Context, repositoryID string) (*models.Assessment, error) {
	return call[*models.Assessment](ctx, c, http.MethodGet, "/api/v1/repositories/"+url.PathEscape(repositoryID)+"/assessment", nil)
}

// SubmitAttempt submits answers for grading
func (c *Client) SubmitAttempt(ctx context.Context, assessmentID string, req models.SubmitRequest) (*SubmitResult, error) {
	return call[*SubmitResult](ctx, c, http.MethodPost, "/api/v1/assessments/"+url.PathEscape(assessmentID)+"/attempts", req)
}

// ListAttempts lists the attempts on an assessment
func (c *Client) ListAttempts(ctx context.Context, assessmentID string) ([]*models.AssessmentAttempt, error) {
	result, err := call[struct {
		Attempts []*models.AssessmentAttempt `json:"attempts"`
		Total    int                         `json:"total"`
	}](ctx, c, http.MethodGet, "/api/v1/assessments/"+url.PathEscape(assessmentID)+"/attempts", nil)
	if err != nil {
		return nil, err
	}
	return result.Attempts, nil
}

// Health checks if the service is healthy
func (c *Client) Health(ctx context.Context) error {
	_, err := call[json.RawMessage](ctx, c, http.MethodGet, "/health", nil)
	return err
}

// call performs a request and unwraps the response envelope
func call[T any](ctx context.Context, c *Client, method, path string, payload any) (T, error) {
	var zero T

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return zero, fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	status, resp, err := c.doRequest(ctx, method, path, body)
	if err != nil {
		return zero, err
	}

	var result struct {
		Success bool      `json:"success"`
		Data    T         `json:"data"`
		Error   *APIError `json:"error"`
	}

	if err := json.Unmarshal(resp, &result); err != nil {
		if status >= 400 {
			return zero, &APIError{StatusCode: status, Code: "http_error", Message: string(resp)}
		}
		return zero, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if !result.Success {
		apiErr := result.Error
		if apiErr == nil {
			apiErr = &APIError{Code: "unknown_error", Message: http.StatusText(status)}
		}
		apiErr.StatusCode = status
		return zero, apiErr
	}

	return result.Data, nil
}

// doRequest performs an HTTP request
func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader) (int, []byte, error) {
	endpoint := c.baseURL + path

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read response: %w", err)
	}

	return resp.StatusCode, respBody, nil
}
