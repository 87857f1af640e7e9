package detector

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/nzbri/movid/internal/fault"
	"github.com/nzbri/movid/internal/landmark"
)

// ModelFiles maps each tracker kind to its model asset name inside the model folder.
var ModelFiles = map[landmark.Kind]string{
	landmark.Hands:    "hand_landmarker.task",
	landmark.Face:     "face_landmarker.task",
	landmark.Pose:     "pose_landmarker.task",
	landmark.Holistic: "holistic_landmarker.task",
}

// Spec is the read-only configuration of one tracker, shared by every video of a run.
type Spec struct {
	Kind      landmark.Kind
	ModelPath string
	Schema    landmark.Schema
	Options   Options
}

// NewSpecs resolves the requested tracker names against the model folder.
// It fails with fault.ErrConfiguration before any video is touched when a kind
// is unknown, not implemented, or its model asset is missing.
func NewSpecs(kinds []string, modelFolder string, opts Options) ([]Spec, error) {
	if len(kinds) == 0 {
		return nil, fault.Configuration("at least one tracker kind is required")
	}

	specs := make([]Spec, 0, len(kinds))
	seen := make(map[landmark.Kind]bool, len(kinds))
	for _, name := range kinds {
		kind, err := landmark.ParseKind(name)
		if err != nil {
			return nil, fault.Configuration("%v", err)
		}
		if seen[kind] {
			continue
		}
		seen[kind] = true

		schema, ok := landmark.SchemaFor(kind)
		if !ok {
			return nil, fault.Configuration("tracker kind %q is not implemented", kind)
		}

		modelPath := filepath.Join(modelFolder, ModelFiles[kind])
		info, err := os.Stat(modelPath)
		if err != nil {
			return nil, fault.Configuration("model asset for %q: %v", kind, err)
		}
		if info.IsDir() {
			return nil, fault.Configuration("model asset for %q is a directory: %s", kind, modelPath)
		}

		specs = append(specs, Spec{
			Kind:      kind,
			ModelPath: modelPath,
			Schema:    schema,
			Options:   opts,
		})
	}

	return specs, nil
}

// Features joins the tracker kinds with "-", used as a suffix on output names
// so that runs with different tracker combinations do not overwrite each other.
func Features(specs []Spec) string {
	names := make([]string, len(specs))
	for i, spec := range specs {
		names[i] = string(spec.Kind)
	}
	return strings.Join(names, "-")
}

// Factory creates a fresh detector for a spec.
type Factory func(spec Spec) (Detector, error)

// Set holds the tracker specs of a run and creates per-video sessions.
type Set struct {
	specs   []Spec
	factory Factory
}

// NewSet creates a Set. A nil factory uses NewMediaPipeDetector.
func NewSet(specs []Spec, factory Factory) *Set {
	if factory == nil {
		factory = func(spec Spec) (Detector, error) {
			d, err := NewMediaPipeDetector(spec, MediaPipeConfig{})
			if err != nil {
				return nil, err
			}
			return d, nil
		}
	}
	return &Set{specs: specs, factory: factory}
}

// Specs returns the tracker specs in configured order.
func (s *Set) Specs() []Spec {
	return s.specs
}

// Open creates and starts one new detector per spec for the exclusive use of
// one video. A detector that fails to start closes the whole session.
func (s *Set) Open() (*Session, error) {
	session := &Session{
		detectors: make([]Detector, 0, len(s.specs)),
		schemas:   make([]landmark.Schema, 0, len(s.specs)),
	}
	for _, spec := range s.specs {
		d, err := s.factory(spec)
		if err != nil {
			session.Close()
			return nil, fmt.Errorf("create %s detector: %w", spec.Kind, err)
		}
		session.detectors = append(session.detectors, d)
		session.schemas = append(session.schemas, spec.Schema)
		if err := d.Start(); err != nil {
			session.Close()
			return nil, fmt.Errorf("start %s detector: %w", spec.Kind, err)
		}
	}
	return session, nil
}

// Check opens and closes one session, so that trackers which cannot start are
// reported before any video is processed.
func (s *Set) Check() error {
	session, err := s.Open()
	if err != nil {
		return err
	}
	return session.Close()
}

// Session is the set of detectors owned by one video's processing.
type Session struct {
	detectors []Detector
	schemas   []landmark.Schema
	closed    bool
}

// Len returns the number of active trackers.
func (s *Session) Len() int {
	return len(s.detectors)
}

// Tracker returns the i-th detector and its schema.
func (s *Session) Tracker(i int) (Detector, landmark.Schema) {
	return s.detectors[i], s.schemas[i]
}

// Close releases every detector in the session.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	var errs []error
	for _, d := range s.detectors {
		if err := d.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s detector: %w", d.Kind(), err))
		}
	}
	return errors.Join(errs...)
}
