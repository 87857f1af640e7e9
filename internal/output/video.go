package output

import (
	"errors"
	"sync"

	"gocv.io/x/gocv"
)

// VideoWriter receives annotated frames in order.
type VideoWriter interface {
	Write(frame gocv.Mat) error
	Close() error
}

// VideoWriterFactory opens a VideoWriter for path.
type VideoWriterFactory func(path, codec string, fps float64, width, height int) (VideoWriter, error)

// OpenVideoFile opens a gocv video writer.
func OpenVideoFile(path, codec string, fps float64, width, height int) (VideoWriter, error) {
	w, err := gocv.VideoWriterFile(path, codec, fps, width, height, true)
	if err != nil {
		return nil, err
	}
	if !w.IsOpened() {
		w.Close()
		return nil, errors.New("video writer did not open")
	}
	return w, nil
}

// MemoryVideos is a VideoWriterFactory that keeps frame counts in memory, for tests.
type MemoryVideos struct {
	mu      sync.Mutex
	writers map[string]*MemoryVideoWriter
}

// NewMemoryVideos creates an empty MemoryVideos.
func NewMemoryVideos() *MemoryVideos {
	return &MemoryVideos{writers: make(map[string]*MemoryVideoWriter)}
}

// Factory returns the VideoWriterFactory.
func (m *MemoryVideos) Factory() VideoWriterFactory {
	return func(path, codec string, fps float64, width, height int) (VideoWriter, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		w := &MemoryVideoWriter{Path: path, Codec: codec, FPS: fps, Width: width, Height: height}
		m.writers[path] = w
		return w, nil
	}
}

// Get returns the writer opened for path, or for the partial file that
// became path, or nil.
func (m *MemoryVideos) Get(path string) *MemoryVideoWriter {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.writers[path]; ok {
		return w
	}
	return m.writers[PartialPath(path)]
}

// MemoryVideoWriter counts the frames written to it.
type MemoryVideoWriter struct {
	Path   string
	Codec  string
	FPS    float64
	Width  int
	Height int

	mu     sync.Mutex
	frames int
	closed bool
}

func (w *MemoryVideoWriter) Write(frame gocv.Mat) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.New("write after close")
	}
	w.frames++
	return nil
}

func (w *MemoryVideoWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

// Frames returns the number of frames written.
func (w *MemoryVideoWriter) Frames() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames
}

// Closed reports whether Close was called.
func (w *MemoryVideoWriter) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}
