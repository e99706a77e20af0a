package media

import (
	"path/filepath"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"callrec-server/pkg/errors"
	"callrec-server/pkg/metrics"
)

// Artifact describes one completed per-speaker recording.
type Artifact struct {
	SpeakerKey string `json:"speaker_key"`
	Path       string `json:"path"`
	DataBytes  uint32 `json:"data_bytes"`
}

// SinkSet owns the open audio sinks for one recording window of one call.
// A sink is opened on the first frame for its speaker key and stays open
// until the window closes, so all frames for that key land in one artifact.
type SinkSet struct {
	logger     *logrus.Logger
	dir        string
	sampleRate int
	channels   int

	mu     sync.Mutex
	sinks  map[string]*WAVWriter
	closed bool
}

// NewSinkSet creates a sink set writing WAV artifacts into dir.
func NewSinkSet(logger *logrus.Logger, dir string, sampleRate, channels int) *SinkSet {
	return &SinkSet{
		logger:     logger,
		dir:        dir,
		sampleRate: sampleRate,
		channels:   channels,
		sinks:      make(map[string]*WAVWriter),
	}
}

// Append writes payload to the sink for the given speaker key, opening the
// sink on first use. A failed open or write is retried once; persistent
// failure is reported as a sink write failure.
func (s *SinkSet) Append(key string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.Wrap(errors.ErrSinkWrite, "append after window closed").WithField("speaker_key", key)
	}

	writer, ok := s.sinks[key]
	if !ok {
		var err error
		writer, err = s.openLocked(key)
		if err != nil {
			metrics.RecordSinkRetry()
			writer, err = s.openLocked(key)
			if err != nil {
				metrics.RecordSinkError()
				return errors.Wrap(errors.ErrSinkWrite, "open sink").WithField("speaker_key", key).WithField("cause", err.Error())
			}
		}
		s.sinks[key] = writer
		metrics.SetSinksOpen(len(s.sinks))
	}

	if _, err := writer.Write(payload); err != nil {
		metrics.RecordSinkRetry()
		if _, err = writer.Write(payload); err != nil {
			metrics.RecordSinkError()
			return errors.Wrap(errors.ErrSinkWrite, "append samples").WithField("speaker_key", key).WithField("cause", err.Error())
		}
	}

	metrics.RecordSinkWrite(key, len(payload))
	return nil
}

func (s *SinkSet) openLocked(key string) (*WAVWriter, error) {
	path := filepath.Join(s.dir, ArtifactFileName(key))
	writer, err := OpenWAVFile(path, s.sampleRate, s.channels)
	if err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"speaker_key": key,
		"path":        path,
	}).Debug("Opened audio sink")
	return writer, nil
}

// OpenKeys returns the speaker keys with an open sink, sorted for stable output.
func (s *SinkSet) OpenKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.sinks))
	for key := range s.sinks {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// CloseWindow finalizes every open sink and returns the artifact for the
// requested speaker key. If no sink was ever opened for that key the window
// is still closed and an artifact-not-found error is returned.
func (s *SinkSet) CloseWindow(key string) (*Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var requested *Artifact
	for k, writer := range s.sinks {
		size := writer.BytesWritten()
		if err := writer.Finalize(); err != nil {
			s.logger.WithError(err).WithField("speaker_key", k).Warn("Failed to finalize audio sink")
		}
		if k == key {
			requested = &Artifact{
				SpeakerKey: k,
				Path:       filepath.Join(s.dir, ArtifactFileName(k)),
				DataBytes:  size,
			}
		}
	}

	s.sinks = make(map[string]*WAVWriter)
	s.closed = true
	metrics.SetSinksOpen(0)

	if requested == nil {
		return nil, errors.NewArtifactNotFound(key)
	}
	return requested, nil
}

// Abort finalizes and releases every open sink without returning an
// artifact. Used on call teardown, where a disconnect is an implicit stop.
func (s *SinkSet) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, writer := range s.sinks {
		if err := writer.Finalize(); err != nil {
			s.logger.WithError(err).WithField("speaker_key", k).Warn("Failed to finalize audio sink on teardown")
		}
	}
	s.sinks = make(map[string]*WAVWriter)
	s.closed = true
	metrics.SetSinksOpen(0)
}

// TotalBytes returns the sum of sample bytes across all open sinks.
func (s *SinkSet) TotalBytes() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total uint32
	for _, writer := range s.sinks {
		total += writer.BytesWritten()
	}
	return total
}
