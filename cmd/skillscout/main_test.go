package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terra-clan/skillscout/internal/models"
)

func TestNewAPIKey(t *testing.T) {
	a, err := newAPIKey()
	require.NoError(t, err)
	b, err := newAPIKey()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(a, "sk_"))
	assert.Len(t, a, 3+48)
	assert.NotEqual(t, a, b)
}

func TestRemoteStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/repositories/r1", r.URL.Path)
		assert.Equal(t, "Bearer sk_remote", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    models.Repository{ID: "r1", AnalysisStatus: models.StatusComplete},
		})
	}))
	defer srv.Close()

	cmd := remoteCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"status", "r1", "--server", srv.URL, "--api-key", "sk_remote"})
	require.NoError(t, cmd.Execute())

	var repo models.Repository
	require.NoError(t, json.Unmarshal(out.Bytes(), &repo))
	assert.Equal(t, models.StatusComplete, repo.AnalysisStatus)
}

func TestRemoteRequiresAPIKey(t *testing.T) {
	t.Setenv("SKILLSCOUT_API_KEY", "")

	cmd := remoteCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"score", "c1"})
	assert.ErrorContains(t, cmd.Execute(), "api key is required")
}
