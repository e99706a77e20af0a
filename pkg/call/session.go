package call

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"callrec-server/pkg/errors"
	"callrec-server/pkg/media"
	"callrec-server/pkg/metrics"
	"callrec-server/pkg/platform"
)

// SinkFactory creates a fresh sink set for one recording window.
type SinkFactory func() *media.SinkSet

// TeardownFunc is invoked exactly once when a session reaches its terminal
// state, after all session resources have been released.
type TeardownFunc func(callID string, reason string)

// Session holds the live state of one call: its lifecycle, the current
// roster and, while a recording window is open, the per-speaker sinks and
// the frame subscription feeding them.
type Session struct {
	logger      *logrus.Logger
	client      platform.Client
	sinkFactory SinkFactory
	onTeardown  TeardownFunc

	id        string
	createdAt time.Time

	mu             sync.Mutex
	state          platform.CallState
	roster         []platform.Participant
	recording      bool
	recordingSince time.Time
	sinks          *media.SinkSet
	sub            platform.Subscription
	torn           bool
}

// NewSession creates a session in the connecting state. onTeardown may be
// nil when the caller handles removal itself.
func NewSession(logger *logrus.Logger, client platform.Client, sinkFactory SinkFactory, callID string, onTeardown TeardownFunc) *Session {
	return &Session{
		logger:      logger,
		client:      client,
		sinkFactory: sinkFactory,
		onTeardown:  onTeardown,
		id:          callID,
		createdAt:   time.Now(),
		state:       platform.StateConnecting,
	}
}

// ID returns the call id this session was registered under.
func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() platform.CallState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RecordingActive reports whether a recording window is currently open.
func (s *Session) RecordingActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}

// CreatedAt returns when the session was created.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// Roster returns a snapshot of the current participant list.
func (s *Session) Roster() []platform.Participant {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]platform.Participant, len(s.roster))
	copy(out, s.roster)
	return out
}

var stateRank = map[platform.CallState]int{
	platform.StateConnecting:   0,
	platform.StateEstablished:  1,
	platform.StateDisconnected: 2,
}

// OnLifecycleChanged applies a platform lifecycle notification. State only
// moves forward; a stale regression is logged and dropped. Disconnected is
// terminal and triggers a full synchronous teardown.
func (s *Session) OnLifecycleChanged(state platform.CallState) {
	s.mu.Lock()
	if stateRank[state] <= stateRank[s.state] && state != s.state {
		s.logger.WithFields(logrus.Fields{
			"call_id":  s.id,
			"current":  s.state,
			"received": state,
		}).Warn("Ignoring backward lifecycle transition")
		s.mu.Unlock()
		return
	}

	s.state = state
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"call_id": s.id,
		"state":   state,
	}).Info("Call lifecycle changed")

	if state == platform.StateDisconnected {
		s.Teardown("disconnected")
	}
}

// OnRosterChanged merges a roster delta. Added entries replace any existing
// entry with the same identity so stream id reassignments take effect.
func (s *Session) OnRosterChanged(added, removed []platform.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range removed {
		for i, existing := range s.roster {
			if existing.Identity == p.Identity {
				s.roster = append(s.roster[:i], s.roster[i+1:]...)
				break
			}
		}
	}

	for _, p := range added {
		replaced := false
		for i, existing := range s.roster {
			if existing.Identity == p.Identity {
				s.roster[i] = p
				replaced = true
				break
			}
		}
		if !replaced {
			s.roster = append(s.roster, p)
		}
	}

	s.logger.WithFields(logrus.Fields{
		"call_id": s.id,
		"added":   len(added),
		"removed": len(removed),
		"roster":  len(s.roster),
	}).Debug("Roster updated")
}

// StartRecording opens a recording window: it allocates a fresh sink set
// and subscribes to the call's media frames. Only one window may be open
// at a time.
func (s *Session) StartRecording() error {
	s.mu.Lock()
	if s.torn || s.state == platform.StateDisconnected {
		s.mu.Unlock()
		return errors.Wrap(errors.ErrSessionTermed, "cannot start recording").WithField("call_id", s.id)
	}
	if s.recording {
		s.mu.Unlock()
		return errors.Wrap(errors.ErrAlreadyRecording, "recording window already open").WithField("call_id", s.id).WithCode("ALREADY_RECORDING")
	}
	s.recording = true
	s.recordingSince = time.Now()
	s.sinks = s.sinkFactory()
	s.mu.Unlock()

	// Subscribe outside the session lock: frame delivery takes the
	// session lock and must never wait on a subscribe in progress.
	sub, err := s.client.SubscribeFrames(s.id, s)

	s.mu.Lock()
	if err != nil {
		sinks := s.sinks
		s.recording = false
		s.sinks = nil
		s.mu.Unlock()
		if sinks != nil {
			sinks.Abort()
		}
		return errors.Wrap(err, "failed to subscribe to media frames").WithField("call_id", s.id)
	}
	if !s.recording {
		// Torn down while subscribing.
		s.mu.Unlock()
		sub.Cancel()
		return errors.Wrap(errors.ErrSessionTermed, "session ended during recording start").WithField("call_id", s.id)
	}
	s.sub = sub
	s.mu.Unlock()

	metrics.RecordWindowStarted()
	s.logger.WithField("call_id", s.id).Info("Recording window opened")
	return nil
}

// StopRecording closes the recording window and finalizes every sink it
// opened, then returns the artifact captured for the requested speaker key.
func (s *Session) StopRecording(speakerKey string) (*media.Artifact, error) {
	s.mu.Lock()
	if !s.recording {
		s.mu.Unlock()
		return nil, errors.Wrap(errors.ErrNotRecording, "no recording window open").WithField("call_id", s.id).WithCode("NOT_RECORDING")
	}
	sub := s.sub
	sinks := s.sinks
	since := s.recordingSince
	s.recording = false
	s.sub = nil
	s.sinks = nil
	s.mu.Unlock()

	// Cancel before closing the sinks so no frame can race a finalized
	// file. Cancel blocks until any in-flight delivery has returned.
	if sub != nil {
		sub.Cancel()
	}

	artifact, err := sinks.CloseWindow(speakerKey)
	metrics.RecordWindowStopped(time.Since(since))
	s.logger.WithFields(logrus.Fields{
		"call_id":     s.id,
		"speaker_key": speakerKey,
		"duration":    time.Since(since).Round(time.Millisecond),
	}).Info("Recording window closed")

	if err != nil {
		return nil, err
	}
	return artifact, nil
}

// OnFrameReceived routes one media frame to the sink for the speaker it
// belongs to. Frames outside a recording window are discarded. A frame is
// never dropped for resolution reasons: misses and ambiguities fall back
// to the call's unknown-speaker sink.
func (s *Session) OnFrameReceived(streamID uint32, payload []byte) {
	done := metrics.ObserveFrameRouting()
	defer done()

	s.mu.Lock()
	if !s.recording || s.sinks == nil {
		s.mu.Unlock()
		return
	}
	sinks := s.sinks
	key := s.speakerKeyLocked(streamID)
	s.mu.Unlock()

	// Append outside the session lock; the sink set serializes its own
	// writes and frames for one call arrive in order.
	if err := sinks.Append(key, payload); err != nil {
		s.logger.WithFields(logrus.Fields{
			"call_id":     s.id,
			"speaker_key": key,
			"error":       err,
		}).Error("Failed to append media frame")
		return
	}
	metrics.RecordFrameRouted(s.id, key, len(payload))
}

func (s *Session) speakerKeyLocked(streamID uint32) string {
	if streamID == 0 {
		// Two-party calls carry no stream tags; all audio lands in a
		// single call-scoped artifact.
		return "p2p-" + s.id
	}

	identity, err := ResolveStream(s.roster, streamID)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"call_id":   s.id,
			"stream_id": streamID,
			"error":     err,
		}).Error("Ambiguous stream ownership, routing to unknown sink")
		metrics.RecordResolutionMiss(s.id, "ambiguous")
		return s.unknownKey()
	}
	if !identity.Resolved() {
		metrics.RecordResolutionMiss(s.id, "unmatched")
		return s.unknownKey()
	}
	return identity.SpeakerKey()
}

func (s *Session) unknownKey() string {
	return "unknown-" + s.id
}

// Teardown releases everything the session holds: the frame subscription,
// any open sinks (discarded, not returned) and finally the registry entry
// via the teardown callback. It is idempotent and safe to call from any
// goroutine; when it returns, no further frame will be processed.
func (s *Session) Teardown(reason string) {
	s.mu.Lock()
	if s.torn {
		s.mu.Unlock()
		return
	}
	s.torn = true
	s.state = platform.StateDisconnected
	sub := s.sub
	sinks := s.sinks
	wasRecording := s.recording
	s.recording = false
	s.sub = nil
	s.sinks = nil
	s.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
	if sinks != nil {
		sinks.Abort()
	}

	if wasRecording {
		s.logger.WithField("call_id", s.id).Warn("Call ended with recording window still open")
	}

	metrics.RecordSessionRemoved(reason, time.Since(s.createdAt))
	s.logger.WithFields(logrus.Fields{
		"call_id": s.id,
		"reason":  reason,
	}).Info("Session torn down")

	if s.onTeardown != nil {
		s.onTeardown(s.id, reason)
	}
}
