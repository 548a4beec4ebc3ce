package ai

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"

	"github.com/terra-clan/skillscout/internal/faults"
	"github.com/terra-clan/skillscout/internal/prompts"
	"github.com/terra-clan/skillscout/internal/retry"
)

// ProjectSummary is the reviewer's view of a whole repository
type ProjectSummary struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Technologies []string `json:"technologies"`
}

// FileSummary is the reviewer's view of one file
type FileSummary struct {
	Path       string   `json:"path"`
	Summary    string   `json:"summary"`
	Highlights []string `json:"highlights"`
}

// Reviewer renders prompts, calls the transport under the retry policy and
// parses the JSON contract of each prompt
type Reviewer struct {
	transport Transport
	prompts   *prompts.Loader
	policy    retry.Policy
}

// NewReviewer creates a reviewer
func NewReviewer(transport Transport, loader *prompts.Loader, policy retry.Policy) *Reviewer {
	return &Reviewer{transport: transport, prompts: loader, policy: policy}
}

// Review summarizes a repository from its tree synopsis and source sample
func (r *Reviewer) Review(ctx context.Context, tree, sample string) (*ProjectSummary, error) {
	raw, err := r.Complete(ctx, prompts.Review, map[string]any{
		"Tree":   tree,
		"Sample": sample,
	})
	if err != nil {
		return nil, err
	}

	var summary ProjectSummary
	if err := decodeObject(raw, &summary); err != nil {
		return nil, err
	}
	summary.Name = strings.TrimSpace(summary.Name)
	if summary.Name == "" {
		summary.Name = "Unknown Project"
	}
	if strings.TrimSpace(summary.Description) == "" {
		summary.Description = "No description available"
	}
	if summary.Technologies == nil {
		summary.Technologies = []string{}
	}
	return &summary, nil
}

// SummarizeFile summarizes a single file
func (r *Reviewer) SummarizeFile(ctx context.Context, path, content string) (*FileSummary, error) {
	raw, err := r.Complete(ctx, prompts.FileSummary, map[string]any{
		"Path":    path,
		"Content": content,
	})
	if err != nil {
		return nil, err
	}

	var summary FileSummary
	if err := decodeObject(raw, &summary); err != nil {
		return nil, err
	}
	if strings.TrimSpace(summary.Summary) == "" {
		return nil, faults.New(faults.KindAIResponseMalformed, "file summary is empty")
	}
	if summary.Highlights == nil {
		summary.Highlights = []string{}
	}
	summary.Path = path
	return &summary, nil
}

// Complete renders the named prompt, sends it and returns the JSON document
// found in the reply. Transport failures are retried under the policy;
// malformed content is returned at once.
func (r *Reviewer) Complete(ctx context.Context, promptName string, data any) (json.RawMessage, error) {
	prompt, err := r.prompts.Render(promptName, data)
	if err != nil {
		return nil, faults.Wrap(faults.KindUnexpected, err, "failed to render prompt")
	}

	var doc json.RawMessage
	err = retry.Do(ctx, "ai."+promptName, r.policy, func(ctx context.Context) error {
		text, err := r.transport.Generate(ctx, prompt)
		if err != nil {
			if faults.Is(err, faults.KindAIResponseMalformed) {
				return retry.Permanent(err)
			}
			classified := faults.Wrap(faults.KindAIRequestFailed, err, requestDetails(err))
			if !Retryable(err) {
				return retry.Permanent(classified)
			}
			return classified
		}

		extracted, err := ExtractJSON(text)
		if err != nil {
			slog.Warn("unparseable ai response", "prompt", promptName, "error", err)
			return retry.Permanent(err)
		}
		doc = extracted
		return nil
	})
	if err != nil {
		if faults.KindOf(err) == faults.KindUnexpected {
			// cancellation while waiting between attempts
			err = faults.Wrap(faults.KindAIRequestFailed, err, "request abandoned")
		}
		return nil, err
	}
	return doc, nil
}

func requestDetails(err error) string {
	if isTimeout(err) {
		return "request timed out"
	}
	return "request failed"
}

// ExtractJSON locates the outermost JSON object or array in text, tolerating
// prose around it. Anything that is not a valid object or array is
// reported as malformed.
func ExtractJSON(text string) (json.RawMessage, error) {
	type span struct{ open, close byte }
	candidates := []span{{'{', '}'}, {'[', ']'}}
	sort.SliceStable(candidates, func(i, j int) bool {
		return firstIndex(text, candidates[i].open) < firstIndex(text, candidates[j].open)
	})

	for _, c := range candidates {
		start := strings.IndexByte(text, c.open)
		end := strings.LastIndexByte(text, c.close)
		if start < 0 || end <= start {
			continue
		}
		doc := text[start : end+1]
		if json.Valid([]byte(doc)) {
			return json.RawMessage(doc), nil
		}
	}

	return nil, faults.New(faults.KindAIResponseMalformed, "no JSON object or array in response: %s", preview(text))
}

func firstIndex(s string, b byte) int {
	if i := strings.IndexByte(s, b); i >= 0 {
		return i
	}
	return len(s) + 1
}

func preview(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}

// decodeObject decodes a JSON object into dest; arrays and type mismatches
// are malformed
func decodeObject(raw json.RawMessage, dest any) error {
	if len(raw) == 0 || raw[0] != '{' {
		return faults.New(faults.KindAIResponseMalformed, "expected a JSON object")
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return faults.Wrap(faults.KindAIResponseMalformed, err, "unexpected JSON shape")
	}
	return nil
}
