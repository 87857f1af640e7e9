package detector

import (
	"sync"

	"gocv.io/x/gocv"

	"github.com/nzbri/movid/internal/landmark"
)

// ScriptFunc decides what a MockDetector returns for a frame timestamp.
type ScriptFunc func(timestampMs int64) ([]landmark.Entity, error)

// MockDetector is a test implementation of the Detector interface.
// It allows tests to control the detection results per frame.
type MockDetector struct {
	mu       sync.Mutex
	kind     landmark.Kind
	entities []landmark.Entity
	err      error
	script   ScriptFunc
	startErr error
	calls    []int64
	starts   int
	closed   bool
}

// NewMockDetector creates a new MockDetector for kind.
func NewMockDetector(kind landmark.Kind) *MockDetector {
	return &MockDetector{kind: kind}
}

// SetEntities sets the entities returned by Detect for every frame.
func (m *MockDetector) SetEntities(entities []landmark.Entity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities = entities
}

// SetError sets the error that will be returned by Detect.
func (m *MockDetector) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// SetStartError sets the error that will be returned by Start.
func (m *MockDetector) SetStartError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startErr = err
}

// SetScript makes Detect answer per timestamp. It takes precedence over
// SetEntities and SetError.
func (m *MockDetector) SetScript(fn ScriptFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = fn
}

// Kind returns the configured tracker kind.
func (m *MockDetector) Kind() landmark.Kind {
	return m.kind
}

// Detect records the timestamp and returns the scripted result.
func (m *MockDetector) Detect(frame *gocv.Mat, timestampMs int64) ([]landmark.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, timestampMs)
	if m.script != nil {
		return m.script(timestampMs)
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.entities, nil
}

// Start counts starts and clears the recorded calls.
func (m *MockDetector) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts++
	m.calls = nil
	return m.startErr
}

// Close marks the detector closed.
func (m *MockDetector) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Calls returns the timestamps passed to Detect since the last Start.
func (m *MockDetector) Calls() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.calls...)
}

// Starts returns how many times Start was called.
func (m *MockDetector) Starts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.starts
}

// Closed reports whether Close was called.
func (m *MockDetector) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// MockFactory returns a Factory that creates MockDetectors and remembers them,
// so tests can inspect the detectors created for each video.
type MockFactory struct {
	mu        sync.Mutex
	script    map[landmark.Kind]ScriptFunc
	startErrs map[landmark.Kind]error
	created   []*MockDetector
}

// NewMockFactory creates a MockFactory. Kinds without a script detect nothing.
func NewMockFactory(scripts map[landmark.Kind]ScriptFunc) *MockFactory {
	return &MockFactory{script: scripts}
}

// FailStart makes every detector of kind created from now on fail to start.
func (f *MockFactory) FailStart(kind landmark.Kind, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErrs == nil {
		f.startErrs = make(map[landmark.Kind]error)
	}
	f.startErrs[kind] = err
}

// Factory returns the function passed to NewSet.
func (f *MockFactory) Factory() Factory {
	return func(spec Spec) (Detector, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		d := NewMockDetector(spec.Kind)
		if fn, ok := f.script[spec.Kind]; ok {
			d.SetScript(fn)
		}
		f.created = append(f.created, d)
		return d, nil
	}
}

// Created returns every detector created so far, in creation order.
func (f *MockFactory) Created() []*MockDetector {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*MockDetector(nil), f.created...)
}

// ThumbsUpHand returns a right hand with the thumb extended upward while
// the other fingers are curled.
func ThumbsUpHand() landmark.Entity {
	var p [landmark.NumHandLandmarks]landmark.Point

	p[landmark.Wrist] = landmark.Point{X: 0.5, Y: 0.8, Z: 0.0}

	// Thumb extended upward (Y decreases going up)
	p[landmark.ThumbCMC] = landmark.Point{X: 0.55, Y: 0.75, Z: 0.0}
	p[landmark.ThumbMCP] = landmark.Point{X: 0.58, Y: 0.65, Z: 0.0}
	p[landmark.ThumbIP] = landmark.Point{X: 0.58, Y: 0.50, Z: 0.0}
	p[landmark.ThumbTip] = landmark.Point{X: 0.58, Y: 0.35, Z: 0.0}

	p[landmark.IndexMCP] = landmark.Point{X: 0.55, Y: 0.70, Z: -0.02}
	p[landmark.IndexPIP] = landmark.Point{X: 0.55, Y: 0.68, Z: -0.05}
	p[landmark.IndexDIP] = landmark.Point{X: 0.52, Y: 0.70, Z: -0.04}
	p[landmark.IndexTip] = landmark.Point{X: 0.50, Y: 0.72, Z: -0.02}

	p[landmark.MiddleMCP] = landmark.Point{X: 0.50, Y: 0.68, Z: -0.02}
	p[landmark.MiddlePIP] = landmark.Point{X: 0.50, Y: 0.66, Z: -0.05}
	p[landmark.MiddleDIP] = landmark.Point{X: 0.47, Y: 0.68, Z: -0.04}
	p[landmark.MiddleTip] = landmark.Point{X: 0.45, Y: 0.70, Z: -0.02}

	p[landmark.RingMCP] = landmark.Point{X: 0.45, Y: 0.70, Z: -0.02}
	p[landmark.RingPIP] = landmark.Point{X: 0.45, Y: 0.68, Z: -0.05}
	p[landmark.RingDIP] = landmark.Point{X: 0.42, Y: 0.70, Z: -0.04}
	p[landmark.RingTip] = landmark.Point{X: 0.40, Y: 0.72, Z: -0.02}

	p[landmark.PinkyMCP] = landmark.Point{X: 0.40, Y: 0.72, Z: -0.02}
	p[landmark.PinkyPIP] = landmark.Point{X: 0.40, Y: 0.70, Z: -0.05}
	p[landmark.PinkyDIP] = landmark.Point{X: 0.37, Y: 0.72, Z: -0.04}
	p[landmark.PinkyTip] = landmark.Point{X: 0.35, Y: 0.74, Z: -0.02}

	return handEntity("Right", p)
}

// OpenPalmHand returns a right hand with all fingers extended.
func OpenPalmHand() landmark.Entity {
	var p [landmark.NumHandLandmarks]landmark.Point

	p[landmark.Wrist] = landmark.Point{X: 0.5, Y: 0.8, Z: 0.0}

	p[landmark.ThumbCMC] = landmark.Point{X: 0.55, Y: 0.75, Z: 0.02}
	p[landmark.ThumbMCP] = landmark.Point{X: 0.62, Y: 0.70, Z: 0.03}
	p[landmark.ThumbIP] = landmark.Point{X: 0.68, Y: 0.65, Z: 0.03}
	p[landmark.ThumbTip] = landmark.Point{X: 0.73, Y: 0.60, Z: 0.03}

	p[landmark.IndexMCP] = landmark.Point{X: 0.55, Y: 0.68, Z: 0.0}
	p[landmark.IndexPIP] = landmark.Point{X: 0.57, Y: 0.55, Z: 0.0}
	p[landmark.IndexDIP] = landmark.Point{X: 0.58, Y: 0.45, Z: 0.0}
	p[landmark.IndexTip] = landmark.Point{X: 0.58, Y: 0.35, Z: 0.0}

	p[landmark.MiddleMCP] = landmark.Point{X: 0.50, Y: 0.66, Z: 0.0}
	p[landmark.MiddlePIP] = landmark.Point{X: 0.50, Y: 0.52, Z: 0.0}
	p[landmark.MiddleDIP] = landmark.Point{X: 0.50, Y: 0.40, Z: 0.0}
	p[landmark.MiddleTip] = landmark.Point{X: 0.50, Y: 0.28, Z: 0.0}

	p[landmark.RingMCP] = landmark.Point{X: 0.45, Y: 0.68, Z: 0.0}
	p[landmark.RingPIP] = landmark.Point{X: 0.43, Y: 0.55, Z: 0.0}
	p[landmark.RingDIP] = landmark.Point{X: 0.42, Y: 0.45, Z: 0.0}
	p[landmark.RingTip] = landmark.Point{X: 0.42, Y: 0.35, Z: 0.0}

	p[landmark.PinkyMCP] = landmark.Point{X: 0.40, Y: 0.70, Z: 0.0}
	p[landmark.PinkyPIP] = landmark.Point{X: 0.37, Y: 0.60, Z: 0.0}
	p[landmark.PinkyDIP] = landmark.Point{X: 0.35, Y: 0.50, Z: 0.0}
	p[landmark.PinkyTip] = landmark.Point{X: 0.34, Y: 0.42, Z: 0.0}

	return handEntity("Right", p)
}

// FaceMesh returns a face entity with every point on a small grid around the
// frame centre.
func FaceMesh() landmark.Entity {
	points := make([]landmark.Point, landmark.NumFaceLandmarks)
	for i := range points {
		points[i] = landmark.Point{
			X: 0.4 + float64(i%22)*0.01,
			Y: 0.3 + float64(i/22)*0.01,
		}
	}
	return landmark.Entity{Label: "Face", Score: 0.99, Image: points}
}

// handEntity builds an entity whose world coordinates are the image points
// re-centred on the wrist, in metres at a nominal hand size.
func handEntity(label string, image [landmark.NumHandLandmarks]landmark.Point) landmark.Entity {
	world := make([]landmark.Point, landmark.NumHandLandmarks)
	wrist := image[landmark.Wrist]
	for i, p := range image {
		world[i] = landmark.Point{
			X: (p.X - wrist.X) * 0.2,
			Y: (p.Y - wrist.Y) * 0.2,
			Z: (p.Z - wrist.Z) * 0.2,
		}
	}
	return landmark.Entity{
		Label: label,
		Score: 0.95,
		Image: append([]landmark.Point(nil), image[:]...),
		World: world,
	}
}
