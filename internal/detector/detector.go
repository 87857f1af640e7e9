// Package detector wraps the landmark detectors used for each tracker kind.
//
// Detection itself is delegated to an external landmarker; this package owns
// configuration, fail-fast validation of model assets, and the per-video
// lifetime of detector instances.
package detector

import (
	"errors"

	"gocv.io/x/gocv"

	"github.com/nzbri/movid/internal/landmark"
)

// ErrServiceStopped is returned by Detect once the detector can no longer
// serve frames. Every later frame of the video would fail the same way.
var ErrServiceStopped = errors.New("landmarker service stopped")

// Detector finds landmark entities of one kind in video frames.
//
// A Detector carries temporal smoothing state across the frames of a single
// video. It must be fed frames in order with increasing timestamps, and must
// not be shared between goroutines or reused for another video.
type Detector interface {
	// Kind returns the tracker kind this detector reports.
	Kind() landmark.Kind

	// Detect analyzes a BGR frame and returns the detected entities.
	// Returns an empty slice when nothing is detected.
	Detect(frame *gocv.Mat, timestampMs int64) ([]landmark.Entity, error)

	// Start readies the detector for the first frame of a video, discarding
	// any earlier state. It fails when the detector cannot serve frames.
	Start() error

	// Close releases any resources held by the detector.
	Close() error
}

// Options holds model options shared by all trackers.
type Options struct {
	// MaxHands is the maximum number of hands to detect (default: 2).
	MaxHands int

	// MaxFaces is the maximum number of faces to detect (default: 1).
	MaxFaces int

	// MinConfidence is the minimum detection confidence threshold (0.0-1.0).
	MinConfidence float64

	// MinPresenceConf is the minimum landmark presence threshold (0.0-1.0).
	MinPresenceConf float64

	// MinTrackingConf is the minimum tracking confidence threshold (0.0-1.0).
	MinTrackingConf float64
}

// DefaultOptions returns Options with the landmarker defaults.
func DefaultOptions() Options {
	return Options{
		MaxHands:        2,
		MaxFaces:        1,
		MinConfidence:   0.5,
		MinPresenceConf: 0.5,
		MinTrackingConf: 0.5,
	}
}

// MaxEntities returns the entity limit that applies to kind.
func (o Options) MaxEntities(kind landmark.Kind) int {
	if kind == landmark.Face {
		return o.MaxFaces
	}
	return o.MaxHands
}
