package media

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"callrec-server/pkg/errors"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestSinkSetAppendAndCloseWindow(t *testing.T) {
	dir := t.TempDir()
	sinks := NewSinkSet(testLogger(), dir, 16000, 1)

	for _, size := range []int{10, 20, 30} {
		if err := sinks.Append("user-42", make([]byte, size)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	artifact, err := sinks.CloseWindow("user-42")
	if err != nil {
		t.Fatalf("close window: %v", err)
	}

	if artifact.SpeakerKey != "user-42" {
		t.Errorf("expected speaker key user-42, got %s", artifact.SpeakerKey)
	}
	if artifact.DataBytes != 60 {
		t.Errorf("expected 60 data bytes, got %d", artifact.DataBytes)
	}

	info, err := os.Stat(artifact.Path)
	if err != nil {
		t.Fatalf("stat artifact: %v", err)
	}
	if info.Size() != 60+wavHeaderSize {
		t.Errorf("expected %d byte file, got %d", 60+wavHeaderSize, info.Size())
	}
}

func TestSinkSetSeparatesSpeakers(t *testing.T) {
	dir := t.TempDir()
	sinks := NewSinkSet(testLogger(), dir, 16000, 1)

	// Interleaved frames within one delivery batch must not cross sinks.
	if err := sinks.Append("alice", []byte{1, 1}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := sinks.Append("bob", []byte{2, 2, 2}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := sinks.Append("alice", []byte{1, 1}); err != nil {
		t.Fatalf("append: %v", err)
	}

	keys := sinks.OpenKeys()
	if len(keys) != 2 || keys[0] != "alice" || keys[1] != "bob" {
		t.Fatalf("unexpected open keys: %v", keys)
	}
	if total := sinks.TotalBytes(); total != 7 {
		t.Fatalf("expected 7 total bytes, got %d", total)
	}

	if _, err := sinks.CloseWindow("alice"); err != nil {
		t.Fatalf("close window: %v", err)
	}

	_, aliceData := readWAVSizes(t, filepath.Join(dir, ArtifactFileName("alice")))
	_, bobData := readWAVSizes(t, filepath.Join(dir, ArtifactFileName("bob")))
	if aliceData != 4 {
		t.Errorf("expected 4 alice bytes, got %d", aliceData)
	}
	if bobData != 3 {
		t.Errorf("expected 3 bob bytes, got %d", bobData)
	}
}

func TestSinkSetCloseWindowUnknownKey(t *testing.T) {
	dir := t.TempDir()
	sinks := NewSinkSet(testLogger(), dir, 16000, 1)

	if err := sinks.Append("alice", []byte{1}); err != nil {
		t.Fatalf("append: %v", err)
	}

	// The requested speaker never spoke; the window still closes.
	_, err := sinks.CloseWindow("silent-speaker")
	if !errors.IsErrorType(err, errors.ErrArtifactNotFound) {
		t.Fatalf("expected ErrArtifactNotFound, got %v", err)
	}

	if err := sinks.Append("alice", []byte{2}); err == nil {
		t.Error("expected append after window close to fail")
	}
}

func TestSinkSetAbort(t *testing.T) {
	dir := t.TempDir()
	sinks := NewSinkSet(testLogger(), dir, 16000, 1)

	if err := sinks.Append("alice", []byte{1, 2, 3}); err != nil {
		t.Fatalf("append: %v", err)
	}

	sinks.Abort()

	// The artifact survives teardown with correct sizes.
	_, dataSize := readWAVSizes(t, filepath.Join(dir, ArtifactFileName("alice")))
	if dataSize != 3 {
		t.Errorf("expected 3 data bytes after abort, got %d", dataSize)
	}

	if err := sinks.Append("alice", []byte{4}); err == nil {
		t.Error("expected append after abort to fail")
	}
}

func TestArtifactStoreFetch(t *testing.T) {
	dir := t.TempDir()
	store, err := NewArtifactStore(testLogger(), dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	sinks := NewSinkSet(testLogger(), dir, 16000, 1)
	if err := sinks.Append("user-42", make([]byte, 100)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := sinks.CloseWindow("user-42"); err != nil {
		t.Fatalf("close window: %v", err)
	}

	artifact, err := store.Fetch("user-42")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	defer artifact.Content.Close()

	if artifact.DataBytes != 100 {
		t.Errorf("expected 100 data bytes, got %d", artifact.DataBytes)
	}

	_, err = store.Fetch("nobody")
	if !errors.IsErrorType(err, errors.ErrArtifactNotFound) {
		t.Fatalf("expected ErrArtifactNotFound, got %v", err)
	}
}

func TestArtifactFileNameSanitizes(t *testing.T) {
	tests := []struct {
		key      string
		expected string
	}{
		{"user-42", "audio_user-42.wav"},
		{"p2p-call-1", "audio_p2p-call-1.wav"},
		{"+15551234567", "audio__15551234567.wav"},
		{"../evil", "audio_.._evil.wav"},
	}

	for _, tt := range tests {
		if got := ArtifactFileName(tt.key); got != tt.expected {
			t.Errorf("ArtifactFileName(%q) = %q, expected %q", tt.key, got, tt.expected)
		}
	}
}
