package detector

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gocv.io/x/gocv"

	"github.com/nzbri/movid/internal/fault"
	"github.com/nzbri/movid/internal/landmark"
)

// writeModels creates empty model assets for kinds in a temp folder.
func writeModels(t *testing.T, kinds ...landmark.Kind) string {
	t.Helper()
	dir := t.TempDir()
	for _, k := range kinds {
		if err := os.WriteFile(filepath.Join(dir, ModelFiles[k]), []byte("model"), 0644); err != nil {
			t.Fatalf("write model: %v", err)
		}
	}
	return dir
}

func TestNewSpecs(t *testing.T) {
	models := writeModels(t, landmark.Hands, landmark.Face, landmark.Pose)
	if err := os.Mkdir(filepath.Join(models, "sub"), 0755); err != nil {
		t.Fatal(err)
	}

	t.Run("hands and face", func(t *testing.T) {
		specs, err := NewSpecs([]string{"hands", "Face"}, models, DefaultOptions())
		if err != nil {
			t.Fatalf("NewSpecs() error = %v", err)
		}
		if len(specs) != 2 {
			t.Fatalf("got %d specs, want 2", len(specs))
		}
		if specs[0].Kind != landmark.Hands || specs[1].Kind != landmark.Face {
			t.Errorf("kinds = %s, %s", specs[0].Kind, specs[1].Kind)
		}
		if specs[0].Schema.Len() != landmark.NumHandLandmarks {
			t.Errorf("hand schema len = %d", specs[0].Schema.Len())
		}
		if got := Features(specs); got != "hands-face" {
			t.Errorf("Features() = %q, want hands-face", got)
		}
	})

	t.Run("duplicates collapse", func(t *testing.T) {
		specs, err := NewSpecs([]string{"hands", "hands"}, models, DefaultOptions())
		if err != nil || len(specs) != 1 {
			t.Fatalf("NewSpecs() = %d specs, %v", len(specs), err)
		}
	})

	errCases := []struct {
		name   string
		kinds  []string
		folder string
	}{
		{name: "empty", kinds: nil, folder: models},
		{name: "unknown kind", kinds: []string{"feet"}, folder: models},
		{name: "reserved kind", kinds: []string{"pose"}, folder: models},
		{name: "missing model", kinds: []string{"hands"}, folder: t.TempDir()},
		{name: "missing folder", kinds: []string{"face"}, folder: filepath.Join(models, "nope")},
	}
	for _, tt := range errCases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSpecs(tt.kinds, tt.folder, DefaultOptions())
			if !errors.Is(err, fault.ErrConfiguration) {
				t.Fatalf("NewSpecs() error = %v, want ErrConfiguration", err)
			}
		})
	}

	t.Run("model is a directory", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.Mkdir(filepath.Join(dir, ModelFiles[landmark.Hands]), 0755); err != nil {
			t.Fatal(err)
		}
		_, err := NewSpecs([]string{"hands"}, dir, DefaultOptions())
		if !errors.Is(err, fault.ErrConfiguration) {
			t.Fatalf("NewSpecs() error = %v, want ErrConfiguration", err)
		}
	})
}

func TestSet_OpenCreatesFreshDetectors(t *testing.T) {
	models := writeModels(t, landmark.Hands, landmark.Face)
	specs, err := NewSpecs([]string{"hands", "face"}, models, DefaultOptions())
	if err != nil {
		t.Fatalf("NewSpecs() error = %v", err)
	}

	factory := NewMockFactory(nil)
	set := NewSet(specs, factory.Factory())

	first, err := set.Open()
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	second, err := set.Open()
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	if first.Len() != 2 || second.Len() != 2 {
		t.Fatalf("session sizes = %d, %d", first.Len(), second.Len())
	}
	d1, s1 := first.Tracker(0)
	d2, _ := second.Tracker(0)
	if d1 == d2 {
		t.Error("sessions share a detector instance")
	}
	if s1.Kind != landmark.Hands {
		t.Errorf("first tracker schema = %s", s1.Kind)
	}

	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	created := factory.Created()
	if len(created) != 4 {
		t.Fatalf("created %d detectors, want 4", len(created))
	}
	if !created[0].Closed() || !created[1].Closed() {
		t.Error("first session detectors not closed")
	}
	if created[2].Closed() || created[3].Closed() {
		t.Error("second session detectors closed early")
	}
}

func TestSet_OpenClosesPartialSession(t *testing.T) {
	models := writeModels(t, landmark.Hands, landmark.Face)
	specs, _ := NewSpecs([]string{"hands", "face"}, models, DefaultOptions())

	var made []*MockDetector
	set := NewSet(specs, func(spec Spec) (Detector, error) {
		if spec.Kind == landmark.Face {
			return nil, errors.New("boom")
		}
		d := NewMockDetector(spec.Kind)
		made = append(made, d)
		return d, nil
	})

	if _, err := set.Open(); err == nil {
		t.Fatal("Open() succeeded, want error")
	}
	if len(made) != 1 || !made[0].Closed() {
		t.Error("hand detector of failed session was not closed")
	}
}

func TestSet_OpenStartsDetectors(t *testing.T) {
	models := writeModels(t, landmark.Hands, landmark.Face)
	specs, _ := NewSpecs([]string{"hands", "face"}, models, DefaultOptions())

	factory := NewMockFactory(nil)
	set := NewSet(specs, factory.Factory())

	session, err := set.Open()
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer session.Close()
	for i, d := range factory.Created() {
		if d.Starts() != 1 {
			t.Errorf("detector %d started %d times, want 1", i, d.Starts())
		}
	}

	factory.FailStart(landmark.Face, errors.New("model load failed"))
	if _, err := set.Open(); err == nil {
		t.Fatal("Open() succeeded with a face tracker that cannot start")
	}
	if err := set.Check(); err == nil {
		t.Error("Check() succeeded with a face tracker that cannot start")
	}

	created := factory.Created()
	for _, d := range created[2:] {
		if !d.Closed() {
			t.Errorf("%s detector of failed session not closed", d.Kind())
		}
	}
}

func TestMockDetector(t *testing.T) {
	d := NewMockDetector(landmark.Hands)
	d.SetEntities([]landmark.Entity{ThumbsUpHand()})

	got, err := d.Detect(nil, 0)
	if err != nil || len(got) != 1 {
		t.Fatalf("Detect() = %d entities, %v", len(got), err)
	}
	schema, _ := landmark.SchemaFor(landmark.Hands)
	if err := got[0].Validate(schema); err != nil {
		t.Errorf("ThumbsUpHand invalid: %v", err)
	}

	d.SetScript(func(ts int64) ([]landmark.Entity, error) {
		if ts == 40 {
			return nil, errors.New("tracking lost")
		}
		return nil, nil
	})
	if _, err := d.Detect(nil, 40); err == nil {
		t.Error("scripted error not returned")
	}
	if calls := d.Calls(); len(calls) != 2 || calls[1] != 40 {
		t.Errorf("Calls() = %v", calls)
	}

	if err := d.Start(); err != nil {
		t.Fatal(err)
	}
	if d.Starts() != 1 || len(d.Calls()) != 0 {
		t.Errorf("Start did not clear state: starts=%d calls=%v", d.Starts(), d.Calls())
	}

	d.SetStartError(errors.New("no model"))
	if err := d.Start(); err == nil {
		t.Error("Start() succeeded, want scripted error")
	}
}

func TestSampleEntitiesMatchSchemas(t *testing.T) {
	hands, _ := landmark.SchemaFor(landmark.Hands)
	face, _ := landmark.SchemaFor(landmark.Face)

	tests := []struct {
		name   string
		entity landmark.Entity
		schema landmark.Schema
	}{
		{name: "thumbs up", entity: ThumbsUpHand(), schema: hands},
		{name: "open palm", entity: OpenPalmHand(), schema: hands},
		{name: "face mesh", entity: FaceMesh(), schema: face},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.entity.Validate(tt.schema); err != nil {
				t.Fatal(err)
			}
		})
	}

	palm := OpenPalmHand()
	if w := palm.ExportPoints(hands)[landmark.Wrist]; w.X != 0 || w.Y != 0 || w.Z != 0 {
		t.Errorf("world wrist = %+v, want origin", w)
	}
}

func TestDecodeResponse(t *testing.T) {
	hands, _ := landmark.SchemaFor(landmark.Hands)

	t.Run("valid", func(t *testing.T) {
		line := mustResponse(t, []landmark.Entity{OpenPalmHand(), ThumbsUpHand()})
		got, err := decodeResponse(line, hands)
		if err != nil {
			t.Fatalf("decodeResponse() error = %v", err)
		}
		if len(got) != 2 || got[0].Label != "Right" {
			t.Fatalf("got %+v", got)
		}
		if len(got[1].World) != landmark.NumHandLandmarks {
			t.Errorf("world points = %d", len(got[1].World))
		}
	})

	t.Run("no entities", func(t *testing.T) {
		got, err := decodeResponse([]byte(`{"entities":[]}`+"\n"), hands)
		if err != nil || len(got) != 0 {
			t.Fatalf("decodeResponse() = %v, %v", got, err)
		}
	})

	bad := []struct {
		name string
		line string
	}{
		{name: "malformed", line: "{not json\n"},
		{name: "service error", line: `{"error":"model load failed"}` + "\n"},
		{name: "wrong point count", line: `{"entities":[{"label":"Left","image":[{"x":0.1,"y":0.2}]}]}` + "\n"},
	}
	for _, tt := range bad {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := decodeResponse([]byte(tt.line), hands); err == nil {
				t.Fatal("decodeResponse() succeeded, want error")
			}
		})
	}
}

func mustResponse(t *testing.T, entities []landmark.Entity) []byte {
	t.Helper()
	data, err := json.Marshal(map[string]any{"entities": entities})
	if err != nil {
		t.Fatal(err)
	}
	return append(data, '\n')
}

// TestHelperLandmarkerService is not a real test. It acts as the landmarker
// service when the test binary is started by MediaPipeDetector.
func TestHelperLandmarkerService(t *testing.T) {
	if os.Getenv("MOVID_WANT_HELPER_SERVICE") != "1" {
		return
	}
	defer os.Exit(0)

	mode := os.Getenv("MOVID_HELPER_SERVICE_MODE")
	switch mode {
	case "fail":
		fmt.Fprintln(os.Stdout, `{"error":"model load failed"}`)
		return
	case "exit":
		return
	}
	fmt.Fprintln(os.Stdout, `{"ready":true}`)

	in := bufio.NewReader(os.Stdin)
	header := make([]byte, 20)
	for {
		if _, err := io.ReadFull(in, header); err != nil {
			return
		}
		ts := int64(binary.BigEndian.Uint64(header[0:8]))
		w := binary.BigEndian.Uint32(header[8:12])
		h := binary.BigEndian.Uint32(header[12:16])
		c := binary.BigEndian.Uint32(header[16:20])
		if _, err := io.CopyN(io.Discard, in, int64(w*h*c)); err != nil {
			return
		}
		if mode == "crash" {
			return
		}

		var entities []landmark.Entity
		if ts >= 100 {
			entities = []landmark.Entity{OpenPalmHand()}
		}
		data, _ := json.Marshal(map[string]any{"entities": entities})
		fmt.Fprintf(os.Stdout, "%s\n", data)
	}
}

func TestMediaPipeDetector_Protocol(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a subprocess")
	}
	t.Setenv("MOVID_WANT_HELPER_SERVICE", "1")

	models := writeModels(t, landmark.Hands)
	specs, err := NewSpecs([]string{"hands"}, models, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}

	d, err := NewMediaPipeDetector(specs[0], MediaPipeConfig{
		Command: []string{os.Args[0], "-test.run=TestHelperLandmarkerService", "--"},
		Stderr:  io.Discard,
	})
	if err != nil {
		t.Fatalf("NewMediaPipeDetector() error = %v", err)
	}
	defer d.Close()

	frame := gocv.NewMatWithSize(24, 32, gocv.MatTypeCV8UC3)
	defer frame.Close()

	got, err := d.Detect(&frame, 0)
	if err != nil {
		t.Fatalf("Detect(0) error = %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Detect(0) = %d entities, want 0", len(got))
	}

	got, err = d.Detect(&frame, 100)
	if err != nil {
		t.Fatalf("Detect(100) error = %v", err)
	}
	if len(got) != 1 || len(got[0].Image) != landmark.NumHandLandmarks {
		t.Fatalf("Detect(100) = %+v", got)
	}

	if _, err := d.Detect(&frame, 100); err == nil {
		t.Error("repeated timestamp accepted")
	}

	if err := d.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := d.Detect(&frame, 0); err != nil {
		t.Fatalf("Detect after Start error = %v", err)
	}
}

func helperDetector(t *testing.T, mode string) *MediaPipeDetector {
	t.Helper()
	t.Setenv("MOVID_WANT_HELPER_SERVICE", "1")
	t.Setenv("MOVID_HELPER_SERVICE_MODE", mode)

	models := writeModels(t, landmark.Hands)
	specs, err := NewSpecs([]string{"hands"}, models, DefaultOptions())
	if err != nil {
		t.Fatal(err)
	}
	d, err := NewMediaPipeDetector(specs[0], MediaPipeConfig{
		Command:      []string{os.Args[0], "-test.run=TestHelperLandmarkerService", "--"},
		Stderr:       io.Discard,
		StartTimeout: 10 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewMediaPipeDetector() error = %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestMediaPipeDetector_StartFailure(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a subprocess")
	}

	tests := []struct {
		name string
		mode string
	}{
		{name: "model load error", mode: "fail"},
		{name: "exits before handshake", mode: "exit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := helperDetector(t, tt.mode)
			if err := d.Start(); err == nil {
				t.Fatal("Start() succeeded, want error")
			}

			frame := gocv.NewMatWithSize(24, 32, gocv.MatTypeCV8UC3)
			defer frame.Close()
			if _, err := d.Detect(&frame, 0); !errors.Is(err, ErrServiceStopped) {
				t.Errorf("Detect after failed Start error = %v, want ErrServiceStopped", err)
			}
		})
	}
}

func TestMediaPipeDetector_ServiceDies(t *testing.T) {
	if testing.Short() {
		t.Skip("starts a subprocess")
	}
	d := helperDetector(t, "crash")
	if err := d.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	frame := gocv.NewMatWithSize(24, 32, gocv.MatTypeCV8UC3)
	defer frame.Close()

	if _, err := d.Detect(&frame, 0); !errors.Is(err, ErrServiceStopped) {
		t.Fatalf("Detect(0) error = %v, want ErrServiceStopped", err)
	}
	if _, err := d.Detect(&frame, 40); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("Detect(40) error = %v, want ErrServiceStopped", err)
	}

	t.Setenv("MOVID_HELPER_SERVICE_MODE", "")
	if err := d.Start(); err != nil {
		t.Fatalf("restart error = %v", err)
	}
	if _, err := d.Detect(&frame, 0); err != nil {
		t.Errorf("Detect after restart error = %v", err)
	}
}
