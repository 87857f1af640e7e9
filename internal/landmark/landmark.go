// Package landmark defines tracker kinds, their fixed landmark schemas and the
// per-frame records produced by the extraction pipeline.
package landmark

import (
	"fmt"
	"strings"
)

// Kind is the category of anatomical structure a tracker detects.
type Kind string

const (
	// Hands tracks up to two hands with 21 landmarks each.
	Hands Kind = "hands"
	// Face tracks the face mesh with 478 landmarks (irises included).
	Face Kind = "face"
	// Pose is reserved. Requesting it is a configuration error.
	Pose Kind = "pose"
	// Holistic is reserved. Requesting it is a configuration error.
	Holistic Kind = "holistic"
)

// ParseKind converts a tracker name to a Kind. Unknown names are rejected;
// reserved kinds parse successfully but report Implemented() == false.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case Hands, Face, Pose, Holistic:
		return k, nil
	default:
		return "", fmt.Errorf("unknown tracker kind %q", s)
	}
}

// Implemented reports whether a detector exists for the kind.
func (k Kind) Implemented() bool {
	_, ok := schemas[k]
	return ok
}

func (k Kind) String() string {
	return string(k)
}

// Space selects which coordinate set of an entity is exported to the table.
type Space int

const (
	// ImageSpace holds x, y normalized to [0,1] by frame width and height, z relative depth.
	ImageSpace Space = iota
	// WorldSpace holds metric coordinates centred on the entity.
	WorldSpace
)

// Schema is the static description of one tracker kind's landmarks.
// Names and their order never change, so table columns line up across videos.
type Schema struct {
	Kind        Kind
	Names       []string
	Connections [][2]int
	// Visibility is true when the detector reports a per-point visibility score.
	Visibility bool
	Export     Space
}

// Len returns the number of landmarks per entity.
func (s Schema) Len() int {
	return len(s.Names)
}

var schemas = map[Kind]Schema{
	Hands: {
		Kind:        Hands,
		Names:       HandNames[:],
		Connections: HandConnections,
		Export:      WorldSpace,
	},
	Face: {
		Kind:        Face,
		Names:       faceNames(),
		Connections: FaceOvalConnections,
		Export:      ImageSpace,
	},
}

// SchemaFor returns the schema of an implemented kind.
func SchemaFor(k Kind) (Schema, bool) {
	s, ok := schemas[k]
	return s, ok
}

// Point is a single landmark position.
type Point struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Visibility float64 `json:"visibility,omitempty"`
}

// Entity is one detected hand, face, etc. in a single frame, as reported by a detector.
// Image holds normalized image coordinates used for drawing; World, when present,
// holds metric coordinates.
type Entity struct {
	Label string  `json:"label"` // "Left"/"Right" for hands, passed through uncorrected
	Score float64 `json:"score"`
	Image []Point `json:"image"`
	World []Point `json:"world,omitempty"`
}

// Validate checks that the entity carries exactly the schema's number of points.
func (e Entity) Validate(s Schema) error {
	if len(e.Image) != s.Len() {
		return fmt.Errorf("%s entity has %d image landmarks, schema requires %d", s.Kind, len(e.Image), s.Len())
	}
	if len(e.World) != 0 && len(e.World) != s.Len() {
		return fmt.Errorf("%s entity has %d world landmarks, schema requires %d", s.Kind, len(e.World), s.Len())
	}
	return nil
}

// ExportPoints returns the coordinates written to the table for this entity.
// World coordinates are used when the schema asks for them and the detector supplied them.
func (e Entity) ExportPoints(s Schema) []Point {
	if s.Export == WorldSpace && len(e.World) == s.Len() {
		return e.World
	}
	return e.Image
}

// Detection is one entity of one tracker kind within a frame, in export coordinates.
type Detection struct {
	Kind   Kind
	Index  int // entity index within this kind for this frame
	Label  string
	Score  float64
	Points []Point
}

// FrameRecord merges the detections of every active tracker for one frame.
type FrameRecord struct {
	Frame       int   // 1-based frame index
	TimestampMs int64 // source timestamp
	Detections  []Detection
}

// Rows returns the number of table rows this record produces.
func (r FrameRecord) Rows() int {
	n := 0
	for _, d := range r.Detections {
		n += len(d.Points)
	}
	return n
}
