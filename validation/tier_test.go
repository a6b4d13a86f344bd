package validation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nairamint/nexus-core/pkg/retry"
	"github.com/nairamint/nexus-core/sfdr"
)

func TestHTTPTierSendsBearerToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer demo-key", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var req sfdr.ClassificationRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "entity-001", req.Metadata.EntityID)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(sfdr.ValidationResult{IsValid: true})
	}))
	t.Cleanup(server.Close)

	tier, err := NewHTTPTier(SourceExternal, server.URL, "/api/validate", WithAPIKey("demo-key"))
	require.NoError(t, err)

	result, err := tier.Validate(context.Background(), validRequest())
	require.NoError(t, err)
	assert.True(t, result.IsValid)
	assert.Equal(t, SourceExternal, result.Source, "tier stamps its name when the backend omits a source")
}

func TestHTTPTierRetriesServerErrors(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(sfdr.ValidationResult{IsValid: true})
	}))
	t.Cleanup(server.Close)

	tier, err := NewHTTPTier(SourcePrimary, server.URL, "/api/validate",
		WithTierRetry(retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 1}))
	require.NoError(t, err)

	result, err := tier.Validate(context.Background(), validRequest())
	require.NoError(t, err)
	assert.True(t, result.IsValid)
	assert.Equal(t, int64(2), hits.Load())
}

func TestHTTPTierDoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	t.Cleanup(server.Close)

	tier, err := NewHTTPTier(SourcePrimary, server.URL, "/api/validate",
		WithTierRetry(retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 1}))
	require.NoError(t, err)

	_, err = tier.Validate(context.Background(), validRequest())
	require.Error(t, err)
	assert.Equal(t, int64(1), hits.Load(), "4xx responses are not retried")
}

func TestHTTPTierRejectsBadConfig(t *testing.T) {
	_, err := NewHTTPTier("", "http://localhost", "/api/validate")
	require.Error(t, err)

	_, err = NewHTTPTier(SourcePrimary, "", "/api/validate")
	require.Error(t, err)
}

func TestMockTierNeverFails(t *testing.T) {
	tier := NewMockTier()

	result, err := tier.Validate(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, SourceMock, result.Source)
	assert.Contains(t, result.Message, "fallback mode")

	// Even a degenerate request validates without error at this tier
	result, err = tier.Validate(context.Background(), sfdr.ClassificationRequest{})
	require.NoError(t, err)
	assert.Equal(t, sfdr.Article6, result.Classification.RecommendedArticle)
}
