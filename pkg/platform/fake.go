package platform

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// FakePlatform is an in-process stand-in for the telephony platform. It
// backs local development runs when no event feed is configured, and lets
// tests drive lifecycle, roster and frame events deterministically through
// the Emit methods.
type FakePlatform struct {
	logger *logrus.Logger

	mu      sync.RWMutex
	handler EventHandler
	calls   map[string]bool
	subs    map[string]FrameSink
}

// NewFakePlatform creates a fake platform with no live calls.
func NewFakePlatform(logger *logrus.Logger) *FakePlatform {
	return &FakePlatform{
		logger: logger,
		calls:  make(map[string]bool),
		subs:   make(map[string]FrameSink),
	}
}

// SetHandler wires the event consumer. Must be called before events are emitted.
func (f *FakePlatform) SetHandler(handler EventHandler) {
	f.mu.Lock()
	f.handler = handler
	f.mu.Unlock()
}

// PlaceCall implements Client. The caller drives subsequent lifecycle
// events explicitly via EmitLifecycle.
func (f *FakePlatform) PlaceCall(ctx context.Context, source Identity, targets []Identity) (string, error) {
	if len(targets) == 0 {
		return "", fmt.Errorf("place call requires at least one target")
	}

	callID := uuid.NewString()

	f.mu.Lock()
	f.calls[callID] = true
	f.mu.Unlock()

	f.logger.WithFields(logrus.Fields{
		"call_id": callID,
		"source":  source.SpeakerKey(),
		"targets": len(targets),
	}).Debug("Fake platform placed call")

	return callID, nil
}

// AddParticipant implements Client.
func (f *FakePlatform) AddParticipant(ctx context.Context, callID string, target Identity) error {
	f.mu.RLock()
	live := f.calls[callID]
	f.mu.RUnlock()

	if !live {
		return fmt.Errorf("no such call on platform: %s", callID)
	}
	return nil
}

// Hangup implements Client. The platform confirms the hangup by reporting
// the terminal lifecycle transition.
func (f *FakePlatform) Hangup(ctx context.Context, callID string) error {
	f.mu.Lock()
	if !f.calls[callID] {
		f.mu.Unlock()
		return fmt.Errorf("no such call on platform: %s", callID)
	}
	delete(f.calls, callID)
	f.mu.Unlock()

	f.EmitLifecycle(callID, StateDisconnected)
	return nil
}

// SubscribeFrames implements Client.
func (f *FakePlatform) SubscribeFrames(callID string, sink FrameSink) (Subscription, error) {
	f.mu.Lock()
	f.subs[callID] = sink
	f.mu.Unlock()

	return &fakeSubscription{platform: f, callID: callID}, nil
}

// EmitLifecycle delivers a lifecycle event to the handler.
func (f *FakePlatform) EmitLifecycle(callID string, state CallState) {
	f.mu.RLock()
	handler := f.handler
	f.mu.RUnlock()

	if handler != nil {
		handler.HandleLifecycle(LifecycleEvent{CallID: callID, State: state})
	}
}

// EmitRoster delivers a roster event to the handler.
func (f *FakePlatform) EmitRoster(callID string, added, removed []Participant) {
	f.mu.RLock()
	handler := f.handler
	f.mu.RUnlock()

	if handler != nil {
		handler.HandleRoster(RosterEvent{CallID: callID, Added: added, Removed: removed})
	}
}

// EmitFrame delivers an audio frame to the call's subscription, if any.
// The read lock is held through the callback so Cancel blocks until
// in-flight delivery finishes.
func (f *FakePlatform) EmitFrame(callID string, streamID uint32, payload []byte) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	sink, ok := f.subs[callID]
	if !ok {
		return
	}
	sink.OnFrameReceived(streamID, payload)
}

// Subscribed reports whether a call currently has frame delivery attached.
func (f *FakePlatform) Subscribed(callID string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.subs[callID]
	return ok
}

type fakeSubscription struct {
	platform *FakePlatform
	callID   string
	once     sync.Once
}

func (s *fakeSubscription) Cancel() {
	s.once.Do(func() {
		s.platform.mu.Lock()
		delete(s.platform.subs, s.callID)
		s.platform.mu.Unlock()
	})
}
