// Package capture reads video frames using GoCV (OpenCV).
package capture

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"gocv.io/x/gocv"

	"github.com/nzbri/movid/internal/fault"
)

// MaxConsecutiveFailures is the number of unreadable frames in a row after
// which the rest of the stream is treated as ended.
const MaxConsecutiveFailures = 25

// ErrEndOfStream is returned by ReadFrame when no frames remain.
var ErrEndOfStream = errors.New("end of stream")

// Metadata describes a video stream as reported by the container.
type Metadata struct {
	FPS        float64 // rounded to 3 decimals
	FrameCount int     // 0 when unknown
	Width      int
	Height     int
}

// Frame is one decoded frame. The caller owns Mat and must close it.
type Frame struct {
	Index       int // 1-based position in the stream
	TimestampMs int64
	Mat         *gocv.Mat
}

// Source yields the frames of one video in order.
//
// ReadFrame returns ErrEndOfStream when the stream is exhausted. A frame that
// cannot be decoded yields an error wrapping fault.ErrDecode together with a
// Frame carrying only its Index; reading may continue after it.
type Source interface {
	Metadata() Metadata
	ReadFrame() (Frame, error)
	Close() error
}

// Opener opens a Source for a video path.
type Opener func(path string) (Source, error)

// fileSource reads frames from a video file.
type fileSource struct {
	capture  *gocv.VideoCapture
	meta     Metadata
	mu       sync.Mutex
	index    int
	failures int
	closed   bool
}

// OpenFile opens a video file. It fails with fault.ErrDecode when the file
// cannot be opened as a video.
func OpenFile(path string) (Source, error) {
	capture, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fault.Decode(fmt.Sprintf("open %s", path), err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fault.Decode(fmt.Sprintf("open %s", path), nil)
	}

	meta := Metadata{
		FPS:        RoundFPS(capture.Get(gocv.VideoCaptureFPS)),
		FrameCount: int(capture.Get(gocv.VideoCaptureFrameCount)),
		Width:      int(capture.Get(gocv.VideoCaptureFrameWidth)),
		Height:     int(capture.Get(gocv.VideoCaptureFrameHeight)),
	}
	if meta.FrameCount < 0 {
		meta.FrameCount = 0
	}

	return &fileSource{capture: capture, meta: meta}, nil
}

func (s *fileSource) Metadata() Metadata {
	return s.meta
}

// ReadFrame reads the next frame.
// The caller is responsible for closing the returned Mat.
func (s *fileSource) ReadFrame() (Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Frame{}, ErrEndOfStream
	}

	mat := gocv.NewMat()
	if ok := s.capture.Read(&mat); !ok || mat.Empty() {
		mat.Close()
		// Past the declared length, or too many failures in a row: the stream is over.
		if s.meta.FrameCount == 0 || s.index >= s.meta.FrameCount || s.failures >= MaxConsecutiveFailures {
			return Frame{}, ErrEndOfStream
		}
		s.index++
		s.failures++
		return Frame{Index: s.index}, fault.Decode(fmt.Sprintf("frame %d", s.index), nil)
	}

	s.index++
	s.failures = 0
	ts := int64(s.capture.Get(gocv.VideoCapturePosMsec))
	if ts <= 0 && s.index > 1 {
		ts = FallbackTimestamp(s.index, s.meta.FPS)
	}

	return Frame{Index: s.index, TimestampMs: ts, Mat: &mat}, nil
}

// Close releases the capture.
func (s *fileSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.capture.Close()
}

// RoundFPS rounds a frame rate to 3 decimals.
func RoundFPS(fps float64) float64 {
	if fps <= 0 || math.IsNaN(fps) || math.IsInf(fps, 0) {
		return 0
	}
	return math.Round(fps*1000) / 1000
}

// FallbackTimestamp derives a timestamp from the frame index when the
// container reports none.
func FallbackTimestamp(index int, fps float64) int64 {
	if fps <= 0 || index <= 1 {
		return 0
	}
	return int64(float64(index-1) * 1000 / fps)
}
