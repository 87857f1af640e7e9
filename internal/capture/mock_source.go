package capture

import (
	"sync"

	"gocv.io/x/gocv"

	"github.com/nzbri/movid/internal/fault"
)

// MockSource plays back pre-built frames for testing.
// Frames whose index is listed as failing are reported as decode errors.
type MockSource struct {
	frames  []*gocv.Mat
	meta    Metadata
	failing map[int]bool
	index   int
	mu      sync.Mutex
	closed  bool
}

// NewMockSource creates a source over frames at fps. failing lists 1-based
// frame indices that fail to decode.
func NewMockSource(frames []*gocv.Mat, fps float64, failing ...int) *MockSource {
	meta := Metadata{FPS: fps, FrameCount: len(frames)}
	if len(frames) > 0 && frames[0] != nil {
		meta.Width = frames[0].Cols()
		meta.Height = frames[0].Rows()
	}

	f := make(map[int]bool, len(failing))
	for _, i := range failing {
		f[i] = true
	}

	return &MockSource{frames: frames, meta: meta, failing: f}
}

// SetFrameCount overrides the reported frame count, e.g. 0 for unknown.
func (s *MockSource) SetFrameCount(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.meta.FrameCount = n
}

func (s *MockSource) Metadata() Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.meta
}

func (s *MockSource) ReadFrame() (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.index >= len(s.frames) {
		return Frame{}, ErrEndOfStream
	}

	s.index++
	if s.failing[s.index] {
		return Frame{Index: s.index}, fault.Decode("mock frame", nil)
	}

	// Clone the frame so the original isn't modified
	mat := s.frames[s.index-1].Clone()
	return Frame{
		Index:       s.index,
		TimestampMs: FallbackTimestamp(s.index, s.meta.FPS),
		Mat:         &mat,
	}, nil
}

func (s *MockSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called.
func (s *MockSource) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
