package media

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
)

const wavHeaderSize = 44

// WAVWriter handles writing PCM samples into a WAV container.
// The header sizes are patched after every write, so a reader opening the
// file mid-recording still sees a structurally valid container.
type WAVWriter struct {
	file          *os.File
	sampleRate    int
	channels      int
	bytesWritten  uint32
	headerWritten bool
	finalized     bool
	mu            sync.Mutex
}

// NewWAVWriter creates a WAV writer and writes an initial header.
func NewWAVWriter(file *os.File, sampleRate, channels int) (*WAVWriter, error) {
	if file == nil {
		return nil, fmt.Errorf("nil file provided for WAV writer")
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	if channels <= 0 {
		channels = 1
	}

	writer := &WAVWriter{
		file:       file,
		sampleRate: sampleRate,
		channels:   channels,
	}

	if err := writer.writeHeader(); err != nil {
		return nil, err
	}
	return writer, nil
}

// OpenWAVFile opens (or creates) a WAV file at path for appending. If the
// file already holds a container from an earlier open in the same recording
// window, existing samples are preserved and new writes append after them.
func OpenWAVFile(path string, sampleRate, channels int) (*WAVWriter, error) {
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, err
	}

	// Fresh or truncated file: write a new header.
	if info.Size() < wavHeaderSize {
		writer, err := NewWAVWriter(file, sampleRate, channels)
		if err != nil {
			file.Close()
			return nil, err
		}
		return writer, nil
	}

	// Existing container: keep its samples and resume appending.
	writer := &WAVWriter{
		file:          file,
		sampleRate:    sampleRate,
		channels:      channels,
		bytesWritten:  uint32(info.Size() - wavHeaderSize),
		headerWritten: true,
	}
	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		file.Close()
		return nil, err
	}
	return writer, nil
}

// Write appends PCM samples to the WAV file and patches the header sizes.
func (w *WAVWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.finalized {
		return 0, fmt.Errorf("write to finalized WAV file")
	}

	if !w.headerWritten {
		if err := w.writeHeaderLocked(); err != nil {
			return 0, err
		}
	}

	n, err := w.file.Write(p)
	w.bytesWritten += uint32(n)
	if err != nil {
		return n, err
	}

	// Keep the container valid after every append, not just at finalize.
	return n, w.updateSizesLocked()
}

// BytesWritten returns the number of sample bytes written so far.
func (w *WAVWriter) BytesWritten() uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.bytesWritten
}

// Finalize updates the WAV header with the final data sizes and closes the file.
func (w *WAVWriter) Finalize() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.finalized {
		return nil
	}

	if !w.headerWritten {
		if err := w.writeHeaderLocked(); err != nil {
			return err
		}
	}

	if err := w.updateSizesLocked(); err != nil {
		return err
	}

	w.finalized = true
	return w.file.Close()
}

// Close releases the file handle without marking the artifact complete.
// The header is already size-correct from the last write.
func (w *WAVWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.finalized {
		return nil
	}
	w.finalized = true
	return w.file.Close()
}

func (w *WAVWriter) writeHeader() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeHeaderLocked()
}

func (w *WAVWriter) writeHeaderLocked() error {
	header := make([]byte, wavHeaderSize)

	// ChunkID "RIFF"
	copy(header[0:], []byte("RIFF"))
	// ChunkSize (patched on every write)
	binary.LittleEndian.PutUint32(header[4:], 36)
	// Format "WAVE"
	copy(header[8:], []byte("WAVE"))
	// Subchunk1ID "fmt "
	copy(header[12:], []byte("fmt "))
	// Subchunk1Size (16 for PCM)
	binary.LittleEndian.PutUint32(header[16:], 16)
	// AudioFormat (1 = PCM)
	binary.LittleEndian.PutUint16(header[20:], 1)
	// NumChannels
	binary.LittleEndian.PutUint16(header[22:], uint16(w.channels))
	// SampleRate
	binary.LittleEndian.PutUint32(header[24:], uint32(w.sampleRate))
	// ByteRate = SampleRate * NumChannels * BitsPerSample/8 (16-bit samples)
	byteRate := uint32(w.sampleRate * w.channels * 2)
	binary.LittleEndian.PutUint32(header[28:], byteRate)
	// BlockAlign = NumChannels * BitsPerSample/8
	blockAlign := uint16(w.channels * 2)
	binary.LittleEndian.PutUint16(header[32:], blockAlign)
	// BitsPerSample = 16
	binary.LittleEndian.PutUint16(header[34:], 16)
	// Subchunk2ID "data"
	copy(header[36:], []byte("data"))
	// Subchunk2Size (patched on every write)
	binary.LittleEndian.PutUint32(header[40:], 0)

	if _, err := w.file.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if _, err := w.file.Write(header); err != nil {
		return err
	}
	if _, err := w.file.Seek(0, io.SeekEnd); err != nil {
		return err
	}

	w.headerWritten = true
	return nil
}

func (w *WAVWriter) updateSizesLocked() error {
	// Update ChunkSize and Subchunk2Size
	if _, err := w.file.Seek(4, io.SeekStart); err != nil {
		return err
	}
	fileSize := w.bytesWritten + 36
	if err := binary.Write(w.file, binary.LittleEndian, fileSize); err != nil {
		return err
	}
	if _, err := w.file.Seek(40, io.SeekStart); err != nil {
		return err
	}
	if err := binary.Write(w.file, binary.LittleEndian, w.bytesWritten); err != nil {
		return err
	}
	if _, err := w.file.Seek(0, io.SeekEnd); err != nil {
		return err
	}
	return nil
}
