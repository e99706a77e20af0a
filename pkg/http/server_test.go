package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callrec-server/pkg/app"
	"callrec-server/pkg/config"
	"callrec-server/pkg/media"
	"callrec-server/pkg/metrics"
	"callrec-server/pkg/platform"
	"callrec-server/pkg/registry"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestServer(t *testing.T) (*Server, *app.Facade, *platform.FakePlatform) {
	t.Helper()
	logger := testLogger()
	metrics.Init(logger)

	cfg := &config.Configuration{
		HTTPPort:           8080,
		HTTPEnableMetrics:  true,
		RecordingDir:       t.TempDir(),
		SampleRate:         16000,
		Channels:           1,
		PlatformSourceID:   "recorder",
		MaxConcurrentCalls: 10,
	}

	store, err := media.NewArtifactStore(logger, cfg.RecordingDir)
	require.NoError(t, err)

	fake := platform.NewFakePlatform(logger)
	facade := app.NewFacade(logger, cfg, fake, registry.New(16), store, nil)
	fake.SetHandler(facade)

	return NewServer(logger, cfg, facade, nil), facade, fake
}

func doRequest(t *testing.T, server *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}

	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestMakeCallEndpoint(t *testing.T) {
	server, _, _ := newTestServer(t)

	rec := doRequest(t, server, http.MethodPost, "/api/makeCall", makeCallRequest{
		Targets: []platform.Identity{platform.User("alice"), platform.Phone("+15551234567")},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp makeCallResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.NotEmpty(t, resp.CallID)

	listRec := doRequest(t, server, http.MethodGet, "/api/calls", nil)
	require.Equal(t, http.StatusOK, listRec.Code)

	var listing struct {
		Count int               `json:"count"`
		Calls []app.SessionInfo `json:"calls"`
	}
	require.NoError(t, json.NewDecoder(listRec.Body).Decode(&listing))
	assert.Equal(t, 1, listing.Count)
	assert.Equal(t, resp.CallID, listing.Calls[0].CallID)
}

func TestMakeCallValidation(t *testing.T) {
	server, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/makeCall", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, server, http.MethodPost, "/api/makeCall", makeCallRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, server, http.MethodPost, "/api/makeCall", makeCallRequest{
		Targets: []platform.Identity{{Kind: "user"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecordingEndpoints(t *testing.T) {
	server, facade, fake := newTestServer(t)

	callID, err := facade.MakeCall(context.Background(), []platform.Identity{platform.User("alice")})
	require.NoError(t, err)
	fake.EmitLifecycle(callID, platform.StateEstablished)
	fake.EmitRoster(callID, []platform.Participant{
		{Identity: platform.User("alice"), StreamIDs: []uint32{101}},
	}, nil)

	rec := doRequest(t, server, http.MethodPost, "/api/calls/"+callID+"/recording/start", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, server, http.MethodPost, "/api/calls/"+callID+"/recording/start", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	fake.EmitFrame(callID, 101, make([]byte, 32))

	rec = doRequest(t, server, http.MethodPost, "/api/calls/"+callID+"/recording/stop", stopRecordingRequest{SpeakerKey: "alice"})
	require.Equal(t, http.StatusOK, rec.Code)

	var artifact media.Artifact
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&artifact))
	assert.Equal(t, "alice", artifact.SpeakerKey)
	assert.Equal(t, uint32(32), artifact.DataBytes)

	rec = doRequest(t, server, http.MethodPost, "/api/calls/"+callID+"/recording/stop", stopRecordingRequest{SpeakerKey: "alice"})
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)

	rec = doRequest(t, server, http.MethodGet, "/api/recordings/alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio/wav", rec.Header().Get("Content-Type"))
	assert.Len(t, rec.Body.Bytes(), 32+44)

	rec = doRequest(t, server, http.MethodGet, "/api/recordings/nobody", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecordingEndpointsUnknownCall(t *testing.T) {
	server, _, _ := newTestServer(t)

	rec := doRequest(t, server, http.MethodPost, "/api/calls/no-such-call/recording/start", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, server, http.MethodPost, "/api/calls/no-such-call/recording/stop", stopRecordingRequest{SpeakerKey: "alice"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHangupEndpoint(t *testing.T) {
	server, facade, fake := newTestServer(t)

	callID, err := facade.MakeCall(context.Background(), []platform.Identity{platform.User("alice")})
	require.NoError(t, err)
	fake.EmitLifecycle(callID, platform.StateEstablished)

	rec := doRequest(t, server, http.MethodDelete, "/api/calls/"+callID, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, server, http.MethodDelete, "/api/calls/"+callID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAddParticipantEndpoint(t *testing.T) {
	server, facade, fake := newTestServer(t)

	callID, err := facade.MakeCall(context.Background(), []platform.Identity{platform.User("alice")})
	require.NoError(t, err)
	fake.EmitLifecycle(callID, platform.StateEstablished)

	rec := doRequest(t, server, http.MethodPost, "/api/calls/"+callID+"/participants", addParticipantRequest{
		Target: platform.Phone("+15557654321"),
	})
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = doRequest(t, server, http.MethodPost, "/api/calls/"+callID+"/participants", addParticipantRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(t, server, http.MethodPost, "/api/calls/no-such-call/participants", addParticipantRequest{
		Target: platform.User("carol"),
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	server, _, _ := newTestServer(t)

	rec := doRequest(t, server, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var health HealthStatus
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&health))
	assert.Equal(t, "healthy", health.Status)
	assert.Contains(t, health.Checks, "sessions")
	assert.Contains(t, health.Checks, "storage")

	rec = doRequest(t, server, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, server, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, server, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var status map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, "ok", status["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	server, _, _ := newTestServer(t)

	rec := doRequest(t, server, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}
