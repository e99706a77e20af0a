package app

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"callrec-server/pkg/call"
	"callrec-server/pkg/config"
	"callrec-server/pkg/errors"
	"callrec-server/pkg/media"
	"callrec-server/pkg/metrics"
	"callrec-server/pkg/platform"
	"callrec-server/pkg/registry"
)

// Notifier publishes finished-recording notifications. It is optional;
// a nil notifier disables publishing.
type Notifier interface {
	IsConnected() bool
	PublishRecordingArtifact(callID string, artifact *media.Artifact) error
}

// SessionInfo is a read-only snapshot of one live session.
type SessionInfo struct {
	CallID       string    `json:"call_id"`
	State        string    `json:"state"`
	Recording    bool      `json:"recording"`
	Participants int       `json:"participants"`
	CreatedAt    time.Time `json:"created_at"`
}

// Facade is the single entry point for everything callers do with calls:
// placing them, steering their roster, opening and closing recording
// windows and fetching finished artifacts. It also receives the platform's
// lifecycle and roster events and routes them to the owning session.
type Facade struct {
	logger   *logrus.Logger
	cfg      *config.Configuration
	client   platform.Client
	registry *registry.Registry
	store    *media.ArtifactStore
	notifier Notifier
}

// NewFacade wires the facade. The caller is responsible for registering
// it as the platform's event handler.
func NewFacade(logger *logrus.Logger, cfg *config.Configuration, client platform.Client, reg *registry.Registry, store *media.ArtifactStore, notifier Notifier) *Facade {
	return &Facade{
		logger:   logger,
		cfg:      cfg,
		client:   client,
		registry: reg,
		store:    store,
		notifier: notifier,
	}
}

func (f *Facade) newSinkSet() *media.SinkSet {
	return media.NewSinkSet(f.logger, f.store.Dir(), f.cfg.SampleRate, f.cfg.Channels)
}

// MakeCall places an outbound call to the given targets and registers a
// session for it. The returned call id is the handle for every further
// operation on the call.
func (f *Facade) MakeCall(ctx context.Context, targets []platform.Identity) (string, error) {
	if len(targets) == 0 {
		return "", errors.Wrap(errors.ErrInvalidInput, "at least one target is required").WithCode("INVALID_INPUT")
	}
	if f.cfg.MaxConcurrentCalls > 0 && f.registry.Count() >= f.cfg.MaxConcurrentCalls {
		return "", errors.Wrap(errors.ErrUnavailable, "maximum concurrent calls reached").
			WithField("limit", f.cfg.MaxConcurrentCalls).
			WithCode("CAPACITY_EXCEEDED")
	}

	source := platform.Application(f.cfg.PlatformSourceID)
	callID, err := f.client.PlaceCall(ctx, source, targets)
	if err != nil {
		return "", errors.Wrap(err, "failed to place call")
	}

	session := call.NewSession(f.logger, f.client, f.newSinkSet, callID, f.onSessionTeardown)
	if err := f.registry.Register(callID, session); err != nil {
		// The platform accepted the call but we cannot track it.
		if hangupErr := f.client.Hangup(ctx, callID); hangupErr != nil {
			f.logger.WithFields(logrus.Fields{
				"call_id": callID,
				"error":   hangupErr,
			}).Error("Failed to hang up untracked call")
		}
		return "", err
	}

	metrics.RecordSessionCreated()
	f.logger.WithFields(logrus.Fields{
		"call_id": callID,
		"targets": len(targets),
	}).Info("Call placed")
	return callID, nil
}

// AddParticipant invites another identity into an existing call. The
// roster itself updates when the platform reports the join.
func (f *Facade) AddParticipant(ctx context.Context, callID string, target platform.Identity) error {
	if _, err := f.registry.Lookup(callID); err != nil {
		return err
	}
	if err := f.client.AddParticipant(ctx, callID, target); err != nil {
		return errors.Wrap(err, "failed to add participant").WithField("call_id", callID)
	}

	f.logger.WithFields(logrus.Fields{
		"call_id": callID,
		"target":  target.SpeakerKey(),
	}).Info("Participant invited")
	return nil
}

// Hangup asks the platform to end the call. Session teardown happens when
// the disconnect notification arrives.
func (f *Facade) Hangup(ctx context.Context, callID string) error {
	if _, err := f.registry.Lookup(callID); err != nil {
		return err
	}
	if err := f.client.Hangup(ctx, callID); err != nil {
		return errors.Wrap(err, "failed to hang up call").WithField("call_id", callID)
	}

	f.logger.WithField("call_id", callID).Info("Hangup requested")
	return nil
}

// StartRecording opens the call's recording window.
func (f *Facade) StartRecording(callID string) error {
	session, err := f.registry.Lookup(callID)
	if err != nil {
		return err
	}
	return session.StartRecording()
}

// StopRecording closes the call's recording window and returns the
// artifact captured for the requested speaker key. When a notifier is
// configured the finished artifact is announced on the queue.
func (f *Facade) StopRecording(callID, speakerKey string) (*media.Artifact, error) {
	session, err := f.registry.Lookup(callID)
	if err != nil {
		return nil, err
	}

	artifact, err := session.StopRecording(speakerKey)
	if err != nil {
		return nil, err
	}

	if f.notifier != nil && f.notifier.IsConnected() {
		if pubErr := f.notifier.PublishRecordingArtifact(callID, artifact); pubErr != nil {
			f.logger.WithFields(logrus.Fields{
				"call_id": callID,
				"error":   pubErr,
			}).Error("Failed to publish recording notification")
		}
	}
	return artifact, nil
}

// FetchArtifact opens a finished recording by speaker key. Artifacts
// outlive their sessions; this works after the call has ended.
func (f *Facade) FetchArtifact(speakerKey string) (*media.StoredArtifact, error) {
	return f.store.Fetch(speakerKey)
}

// Sessions returns a snapshot of every live session.
func (f *Facade) Sessions() []SessionInfo {
	var infos []SessionInfo
	f.registry.Range(func(callID string, s *call.Session) bool {
		infos = append(infos, SessionInfo{
			CallID:       callID,
			State:        string(s.State()),
			Recording:    s.RecordingActive(),
			Participants: len(s.Roster()),
			CreatedAt:    s.CreatedAt(),
		})
		return true
	})
	return infos
}

// SessionCount returns the number of live sessions.
func (f *Facade) SessionCount() int {
	return f.registry.Count()
}

// HandleLifecycle routes a platform lifecycle event to the owning session.
func (f *Facade) HandleLifecycle(event platform.LifecycleEvent) {
	session, err := f.registry.Lookup(event.CallID)
	if err != nil {
		f.logger.WithFields(logrus.Fields{
			"call_id": event.CallID,
			"state":   event.State,
		}).Warn("Lifecycle event for unknown call")
		return
	}
	session.OnLifecycleChanged(event.State)
}

// HandleRoster routes a platform roster event to the owning session.
func (f *Facade) HandleRoster(event platform.RosterEvent) {
	session, err := f.registry.Lookup(event.CallID)
	if err != nil {
		f.logger.WithField("call_id", event.CallID).Warn("Roster event for unknown call")
		return
	}
	session.OnRosterChanged(event.Added, event.Removed)
}

func (f *Facade) onSessionTeardown(callID, reason string) {
	if _, err := f.registry.Remove(callID); err != nil {
		f.logger.WithField("call_id", callID).Debug("Session already removed from registry")
	}
}

// Shutdown tears down every live session. Open recording windows are
// closed without returning artifacts; the files on disk stay valid.
func (f *Facade) Shutdown(ctx context.Context) {
	var sessions []*call.Session
	f.registry.Range(func(callID string, s *call.Session) bool {
		sessions = append(sessions, s)
		return true
	})

	for _, s := range sessions {
		select {
		case <-ctx.Done():
			f.logger.Warn("Shutdown deadline reached with sessions remaining")
			return
		default:
		}
		s.Teardown("shutdown")
	}

	if len(sessions) > 0 {
		f.logger.WithField("sessions", len(sessions)).Info("All sessions torn down")
	}
}
