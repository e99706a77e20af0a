package app

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"

	"callrec-server/pkg/config"
	"callrec-server/pkg/errors"
	"callrec-server/pkg/media"
	"callrec-server/pkg/platform"
	"callrec-server/pkg/registry"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

type fakeNotifier struct {
	mu        sync.Mutex
	published []media.Artifact
}

func (n *fakeNotifier) IsConnected() bool { return true }

func (n *fakeNotifier) PublishRecordingArtifact(callID string, artifact *media.Artifact) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.published = append(n.published, *artifact)
	return nil
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.published)
}

func newTestFacade(t *testing.T, maxCalls int) (*Facade, *platform.FakePlatform, *fakeNotifier) {
	t.Helper()
	logger := testLogger()

	cfg := &config.Configuration{
		RecordingDir:       t.TempDir(),
		SampleRate:         16000,
		Channels:           1,
		PlatformSourceID:   "recorder",
		MaxConcurrentCalls: maxCalls,
	}

	store, err := media.NewArtifactStore(logger, cfg.RecordingDir)
	if err != nil {
		t.Fatalf("NewArtifactStore failed: %v", err)
	}

	fake := platform.NewFakePlatform(logger)
	notifier := &fakeNotifier{}
	facade := NewFacade(logger, cfg, fake, registry.New(16), store, notifier)
	fake.SetHandler(facade)
	return facade, fake, notifier
}

func TestFacadeCallRecordingRoundTrip(t *testing.T) {
	facade, fake, notifier := newTestFacade(t, 10)
	ctx := context.Background()

	callID, err := facade.MakeCall(ctx, []platform.Identity{platform.User("alice"), platform.User("bob")})
	if err != nil {
		t.Fatalf("MakeCall failed: %v", err)
	}

	fake.EmitLifecycle(callID, platform.StateEstablished)
	fake.EmitRoster(callID, []platform.Participant{
		{Identity: platform.User("alice"), StreamIDs: []uint32{101}},
		{Identity: platform.User("bob"), StreamIDs: []uint32{102}},
	}, nil)

	if err := facade.StartRecording(callID); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}

	fake.EmitFrame(callID, 101, make([]byte, 10))
	fake.EmitFrame(callID, 102, make([]byte, 20))
	fake.EmitFrame(callID, 101, make([]byte, 30))

	artifact, err := facade.StopRecording(callID, "alice")
	if err != nil {
		t.Fatalf("StopRecording failed: %v", err)
	}
	if artifact.DataBytes != 40 {
		t.Errorf("DataBytes = %d, want 40", artifact.DataBytes)
	}
	if notifier.count() != 1 {
		t.Errorf("Notifier saw %d artifacts, want 1", notifier.count())
	}

	// Artifacts are fetchable while the call is still up and after it ends.
	stored, err := facade.FetchArtifact("alice")
	if err != nil {
		t.Fatalf("FetchArtifact failed: %v", err)
	}
	stored.Content.Close()
	if stored.DataBytes != 40 {
		t.Errorf("Stored DataBytes = %d, want 40", stored.DataBytes)
	}

	if err := facade.Hangup(ctx, callID); err != nil {
		t.Fatalf("Hangup failed: %v", err)
	}

	if err := facade.StartRecording(callID); !errors.IsErrorType(err, errors.ErrSessionNotFound) {
		t.Errorf("Expected session-not-found after hangup, got %v", err)
	}

	stored, err = facade.FetchArtifact("bob")
	if err != nil {
		t.Fatalf("FetchArtifact after hangup failed: %v", err)
	}
	stored.Content.Close()
	if stored.DataBytes != 20 {
		t.Errorf("Stored DataBytes = %d, want 20", stored.DataBytes)
	}
}

func TestFacadeMakeCallValidation(t *testing.T) {
	facade, _, _ := newTestFacade(t, 10)

	if _, err := facade.MakeCall(context.Background(), nil); err == nil {
		t.Error("Expected an error for a call with no targets")
	}
}

func TestFacadeConcurrentCallLimit(t *testing.T) {
	facade, _, _ := newTestFacade(t, 1)
	ctx := context.Background()

	if _, err := facade.MakeCall(ctx, []platform.Identity{platform.User("alice")}); err != nil {
		t.Fatalf("First call failed: %v", err)
	}

	_, err := facade.MakeCall(ctx, []platform.Identity{platform.User("bob")})
	if err == nil {
		t.Fatal("Expected capacity error on second call")
	}
	if errors.GetErrorCode(err) != "CAPACITY_EXCEEDED" {
		t.Errorf("Error code = %q, want CAPACITY_EXCEEDED", errors.GetErrorCode(err))
	}
}

func TestFacadeOperationsOnUnknownCall(t *testing.T) {
	facade, _, _ := newTestFacade(t, 10)
	ctx := context.Background()

	if err := facade.AddParticipant(ctx, "no-such-call", platform.User("carol")); !errors.IsErrorType(err, errors.ErrSessionNotFound) {
		t.Errorf("AddParticipant: expected session-not-found, got %v", err)
	}
	if err := facade.Hangup(ctx, "no-such-call"); !errors.IsErrorType(err, errors.ErrSessionNotFound) {
		t.Errorf("Hangup: expected session-not-found, got %v", err)
	}
	if err := facade.StartRecording("no-such-call"); !errors.IsErrorType(err, errors.ErrSessionNotFound) {
		t.Errorf("StartRecording: expected session-not-found, got %v", err)
	}
	if _, err := facade.StopRecording("no-such-call", "alice"); !errors.IsErrorType(err, errors.ErrSessionNotFound) {
		t.Errorf("StopRecording: expected session-not-found, got %v", err)
	}
	if _, err := facade.FetchArtifact("never-recorded"); !errors.IsErrorType(err, errors.ErrArtifactNotFound) {
		t.Errorf("FetchArtifact: expected artifact-not-found, got %v", err)
	}
}

func TestFacadeAddParticipantUpdatesRoster(t *testing.T) {
	facade, fake, _ := newTestFacade(t, 10)
	ctx := context.Background()

	callID, err := facade.MakeCall(ctx, []platform.Identity{platform.User("alice")})
	if err != nil {
		t.Fatalf("MakeCall failed: %v", err)
	}
	fake.EmitLifecycle(callID, platform.StateEstablished)

	if err := facade.AddParticipant(ctx, callID, platform.Phone("+15551234567")); err != nil {
		t.Fatalf("AddParticipant failed: %v", err)
	}

	// The roster updates when the platform reports the join.
	fake.EmitRoster(callID, []platform.Participant{
		{Identity: platform.Phone("+15551234567"), StreamIDs: []uint32{201}},
	}, nil)

	sessions := facade.Sessions()
	if len(sessions) != 1 {
		t.Fatalf("Sessions = %d, want 1", len(sessions))
	}
	if sessions[0].Participants != 1 {
		t.Errorf("Participants = %d, want 1", sessions[0].Participants)
	}
}

func TestFacadeDisconnectWhileRecording(t *testing.T) {
	facade, fake, _ := newTestFacade(t, 10)
	ctx := context.Background()

	callID, err := facade.MakeCall(ctx, []platform.Identity{platform.User("alice")})
	if err != nil {
		t.Fatalf("MakeCall failed: %v", err)
	}
	fake.EmitLifecycle(callID, platform.StateEstablished)
	fake.EmitRoster(callID, []platform.Participant{
		{Identity: platform.User("alice"), StreamIDs: []uint32{101}},
	}, nil)

	if err := facade.StartRecording(callID); err != nil {
		t.Fatalf("StartRecording failed: %v", err)
	}
	fake.EmitFrame(callID, 101, make([]byte, 12))

	// The platform drops the call mid-window.
	fake.EmitLifecycle(callID, platform.StateDisconnected)

	if facade.SessionCount() != 0 {
		t.Errorf("SessionCount = %d, want 0 after disconnect", facade.SessionCount())
	}

	// The implicit stop leaves a valid artifact behind.
	stored, err := facade.FetchArtifact("alice")
	if err != nil {
		t.Fatalf("FetchArtifact after disconnect failed: %v", err)
	}
	stored.Content.Close()
	if stored.DataBytes != 12 {
		t.Errorf("Stored DataBytes = %d, want 12", stored.DataBytes)
	}
}

func TestFacadeShutdownTearsDownSessions(t *testing.T) {
	facade, fake, _ := newTestFacade(t, 10)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		callID, err := facade.MakeCall(ctx, []platform.Identity{platform.User("alice")})
		if err != nil {
			t.Fatalf("MakeCall failed: %v", err)
		}
		fake.EmitLifecycle(callID, platform.StateEstablished)
	}

	if facade.SessionCount() != 3 {
		t.Fatalf("SessionCount = %d, want 3", facade.SessionCount())
	}

	facade.Shutdown(context.Background())

	if facade.SessionCount() != 0 {
		t.Errorf("SessionCount = %d, want 0 after shutdown", facade.SessionCount())
	}
}
