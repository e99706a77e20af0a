package media

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"callrec-server/pkg/errors"
)

// ArtifactFileName derives the deterministic on-disk name for a speaker key.
// Peer-to-peer and unknown sentinel keys already carry the call id, so the
// name alone is enough to retrieve an artifact without the call session.
func ArtifactFileName(speakerKey string) string {
	return fmt.Sprintf("audio_%s.wav", sanitizeKey(speakerKey))
}

func sanitizeKey(key string) string {
	var b strings.Builder
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}

// StoredArtifact is a readable handle over a finalized recording.
type StoredArtifact struct {
	SpeakerKey string
	Path       string
	DataBytes  uint32
	Content    io.ReadCloser
}

// TotalBytes returns the full on-disk size, container header included.
func (a *StoredArtifact) TotalBytes() int64 {
	return int64(a.DataBytes) + wavHeaderSize
}

// ArtifactStore retrieves persisted recording artifacts by speaker key.
// Artifacts outlive the recording window and the call session that wrote them.
type ArtifactStore struct {
	logger *logrus.Logger
	dir    string
}

// NewArtifactStore creates the store, ensuring the recording directory exists.
func NewArtifactStore(logger *logrus.Logger, dir string) (*ArtifactStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create recording directory").WithField("dir", dir)
	}
	return &ArtifactStore{logger: logger, dir: dir}, nil
}

// Dir returns the directory artifacts are written into.
func (st *ArtifactStore) Dir() string {
	return st.dir
}

// Path returns the destination path for a speaker key.
func (st *ArtifactStore) Path(speakerKey string) string {
	return filepath.Join(st.dir, ArtifactFileName(speakerKey))
}

// Fetch opens the artifact for a speaker key. The caller owns the returned
// content reader and must close it.
func (st *ArtifactStore) Fetch(speakerKey string) (*StoredArtifact, error) {
	path := st.Path(speakerKey)

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewArtifactNotFound(speakerKey)
		}
		return nil, errors.Wrap(err, "open artifact").WithField("speaker_key", speakerKey)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, errors.Wrap(err, "stat artifact").WithField("speaker_key", speakerKey)
	}

	if info.Size() < wavHeaderSize {
		file.Close()
		return nil, errors.NewArtifactNotFound(speakerKey).WithField("reason", "incomplete container")
	}

	return &StoredArtifact{
		SpeakerKey: speakerKey,
		Path:       path,
		DataBytes:  uint32(info.Size() - wavHeaderSize),
		Content:    file,
	}, nil
}

// Remove deletes the artifact for a speaker key, tolerating absence.
func (st *ArtifactStore) Remove(speakerKey string) error {
	if err := os.Remove(st.Path(speakerKey)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove artifact").WithField("speaker_key", speakerKey)
	}
	return nil
}
