package faults

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOfWrappedChain(t *testing.T) {
	base := errors.New("exit status 128")
	err := fmt.Errorf("fetch: %w", Wrap(KindCloneFailed, base, "fatal: repository not found"))

	assert.Equal(t, KindCloneFailed, KindOf(err))
	assert.True(t, Is(err, KindCloneFailed))
	assert.ErrorIs(t, err, base)
	assert.Equal(t, KindUnexpected, KindOf(errors.New("boom")))
}

func TestTransientClassification(t *testing.T) {
	assert.True(t, Transient(New(KindAIRequestFailed, "status 503")))
	assert.True(t, Transient(errors.New("unclassified")))
	assert.False(t, Transient(New(KindAIResponseMalformed, "no json")))
	assert.False(t, Transient(New(KindInvalidInput, "empty url")))
	assert.False(t, Transient(New(KindQuestionValidationFailed, "3 options")))
	assert.False(t, Transient(nil))
}

func TestResponse(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	resp := Response(New(KindScanTimedOut, "no result after %s", "300s"), now)
	require.NotNil(t, resp)
	assert.Equal(t, KindScanTimedOut, resp.Kind)
	assert.Contains(t, resp.Details, "300s")
	assert.Equal(t, now, resp.Timestamp)

	again := Response(fmt.Errorf("outer: %w", resp), now.Add(time.Hour))
	assert.Same(t, resp, again)
	assert.Equal(t, KindScanTimedOut, KindOf(again))
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(KindUnexpected, nil, "ignored"))
}
