package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nairamint/nexus-core/envelope"
	"github.com/nairamint/nexus-core/errors"
	"github.com/nairamint/nexus-core/health"
	"github.com/nairamint/nexus-core/sfdr"
)

// fakeRelay records broadcast calls
type fakeRelay struct {
	broadcasts []envelope.Envelope
	delivered  int
}

func newFakeRelay(delivered int) *fakeRelay {
	return &fakeRelay{delivered: delivered}
}

func (f *fakeRelay) BroadcastToAll(env envelope.Envelope) int {
	f.broadcasts = append(f.broadcasts, env)
	return f.delivered
}

type fakeValidator struct {
	result sfdr.ValidationResult
	err    error
}

func (f *fakeValidator) Validate(_ context.Context, req sfdr.ClassificationRequest) (sfdr.ValidationResult, error) {
	if err := req.Validate(); err != nil {
		return sfdr.ValidationResult{}, err
	}
	return f.result, f.err
}

func (f *fakeValidator) Capabilities(_ context.Context) sfdr.Capabilities {
	return sfdr.DefaultCapabilities()
}

func newTestGateway(t *testing.T, relay Broadcaster, opts ...GatewayOption) *httptest.Server {
	t.Helper()
	gw, err := NewGateway(DefaultConfig(), relay, opts...)
	require.NoError(t, err)
	server := httptest.NewServer(gw.Handler())
	t.Cleanup(server.Close)
	return server
}

func postJSON(t *testing.T, url string, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestBroadcastSuccess(t *testing.T) {
	relay := newFakeRelay(3)
	server := newTestGateway(t, relay)

	resp := postJSON(t, server.URL+"/broadcast",
		`{"message":{"documentId":"d-1"},"type":"document_processed"}`)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Broadcast sent", body["message"])
	assert.Equal(t, float64(3), body["delivered"])

	require.Len(t, relay.broadcasts, 1)
	env := relay.broadcasts[0]
	assert.Equal(t, "document_processed", env.Type)
	assert.JSONEq(t, `{"documentId":"d-1"}`, string(env.Data))
	assert.NotEmpty(t, env.Timestamp)
}

func TestBroadcastStringMessage(t *testing.T) {
	relay := newFakeRelay(1)
	server := newTestGateway(t, relay)

	resp := postJSON(t, server.URL+"/broadcast", `{"message":"plain text","type":"notice"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, relay.broadcasts, 1)
	assert.JSONEq(t, `"plain text"`, string(relay.broadcasts[0].Data))
}

func TestBroadcastCarriesUserID(t *testing.T) {
	relay := newFakeRelay(1)
	server := newTestGateway(t, relay)

	resp := postJSON(t, server.URL+"/broadcast",
		`{"message":{"k":1},"type":"compliance_validated","userId":"user-42"}`)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	// Addressed messages still fan out to everyone; the userId stays on
	// the envelope for client-side filtering.
	require.Len(t, relay.broadcasts, 1)
	assert.Equal(t, "user-42", relay.broadcasts[0].UserID)
}

func TestBroadcastMissingFields(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing message", `{"type":"document_processed"}`},
		{"null message", `{"message":null,"type":"document_processed"}`},
		{"missing type", `{"message":{"k":1}}`},
		{"empty body", `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			relay := newFakeRelay(0)
			server := newTestGateway(t, relay)

			resp := postJSON(t, server.URL+"/broadcast", tt.body)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)
			body := decodeBody(t, resp)
			assert.Equal(t, "Missing message or type", body["error"])
			assert.Empty(t, relay.broadcasts)
		})
	}
}

func TestBroadcastInvalidJSON(t *testing.T) {
	server := newTestGateway(t, newFakeRelay(0))
	resp := postJSON(t, server.URL+"/broadcast", "{not json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBroadcastMethodNotAllowed(t *testing.T) {
	server := newTestGateway(t, newFakeRelay(0))
	resp, err := http.Get(server.URL + "/broadcast")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	server := newTestGateway(t, newFakeRelay(0))

	req, err := http.NewRequest(http.MethodOptions, server.URL+"/broadcast", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://app.example.com")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "POST")
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), "Content-Type")
}

func TestRequestIDPropagation(t *testing.T) {
	server := newTestGateway(t, newFakeRelay(0))

	req, err := http.NewRequest(http.MethodPost, server.URL+"/broadcast",
		bytes.NewBufferString(`{"message":"m","type":"t"}`))
	require.NoError(t, err)
	req.Header.Set("X-Request-ID", "trace-123")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "trace-123", resp.Header.Get("X-Request-ID"))

	// Generated when absent
	resp2 := postJSON(t, server.URL+"/broadcast", `{"message":"m","type":"t"}`)
	assert.NotEmpty(t, resp2.Header.Get("X-Request-ID"))
}

func TestValidateEndpoint(t *testing.T) {
	validator := &fakeValidator{result: sfdr.ValidationResult{
		IsValid:         true,
		RequestID:       "nexus_1_abc",
		ComplianceScore: 100,
		Source:          "mock",
	}}
	server := newTestGateway(t, newFakeRelay(0), WithValidator(validator))

	reqBody, err := json.Marshal(sfdr.ClassificationRequest{
		Metadata: sfdr.Metadata{EntityID: "entity-001"},
		FundProfile: sfdr.FundProfile{
			FundName:                    "Fund",
			TargetArticleClassification: sfdr.Article6,
		},
	})
	require.NoError(t, err)

	resp := postJSON(t, server.URL+"/validate", string(reqBody))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var result sfdr.ValidationResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.Equal(t, "nexus_1_abc", result.RequestID)
}

func TestValidateRejectsInvalidRequest(t *testing.T) {
	server := newTestGateway(t, newFakeRelay(0), WithValidator(&fakeValidator{}))

	resp := postJSON(t, server.URL+"/validate", `{"metadata":{},"fundProfile":{}}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestValidateUpstreamFailure(t *testing.T) {
	validator := &fakeValidator{err: errors.WrapTransient(errors.ErrTierUnavailable, "Orchestrator", "Validate", "all tiers")}
	server := newTestGateway(t, newFakeRelay(0), WithValidator(validator))

	reqBody, _ := json.Marshal(sfdr.ClassificationRequest{
		Metadata: sfdr.Metadata{EntityID: "e"},
		FundProfile: sfdr.FundProfile{
			FundName:                    "f",
			TargetArticleClassification: sfdr.Article6,
		},
	})
	resp := postJSON(t, server.URL+"/validate", string(reqBody))
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestCapabilitiesEndpoint(t *testing.T) {
	server := newTestGateway(t, newFakeRelay(0), WithValidator(&fakeValidator{}))

	resp, err := http.Get(server.URL + "/capabilities")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var caps sfdr.Capabilities
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&caps))
	assert.Contains(t, caps.SupportedRegulations, "SFDR")
}

func TestHealthzAggregates(t *testing.T) {
	monitor := health.NewMonitor()
	monitor.UpdateHealthy("relay", "2 clients connected")
	monitor.UpdateHealthy("orchestrator", "validation pipeline operational")

	server := newTestGateway(t, newFakeRelay(0), WithHealthMonitor(monitor))

	resp, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status health.Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.True(t, status.Healthy)
	assert.Len(t, status.SubStatuses, 2)

	monitor.UpdateUnhealthy("relay", "server down")
	resp2, err := http.Get(server.URL + "/healthz")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp2.StatusCode)
}

func TestNewGatewayRequiresRelay(t *testing.T) {
	_, err := NewGateway(DefaultConfig(), nil)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}
