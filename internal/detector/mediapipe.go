package detector

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"gocv.io/x/gocv"

	"github.com/nzbri/movid/internal/landmark"
)

// ServiceScript is the landmarker service started for each detector.
const ServiceScript = "landmarker_service.py"

// MediaPipeConfig controls how the landmarker service is launched.
type MediaPipeConfig struct {
	// Command overrides the interpreter and script, e.g. ["python3", "svc.py"].
	// When empty the service script and a virtualenv interpreter are searched for.
	Command []string

	// Stderr receives the service's diagnostics. Defaults to os.Stderr.
	Stderr io.Writer

	// StartTimeout bounds the wait for the service to load its model.
	// Defaults to DefaultStartTimeout.
	StartTimeout time.Duration
}

// DefaultStartTimeout is the default wait for the service handshake.
const DefaultStartTimeout = 2 * time.Minute

// MediaPipeDetector implements Detector using a MediaPipe landmarker subprocess.
//
// Once its model is loaded the service writes {"ready": true}. Each frame is
// then sent as a fixed header (timestamp int64, width, height and channels as
// uint32, all big-endian) followed by the raw BGR bytes, and the service
// answers with one JSON line per frame.
type MediaPipeDetector struct {
	spec    Spec
	config  MediaPipeConfig
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Reader
	mu      sync.Mutex
	started bool
	stopped error // set when the service died; cleared by Start
	lastTS  int64
}

// NewMediaPipeDetector creates a detector for spec. The service process is
// started by Start, or lazily on first detection.
func NewMediaPipeDetector(spec Spec, config MediaPipeConfig) (*MediaPipeDetector, error) {
	if len(config.Command) == 0 {
		cmd, err := ServiceCommand()
		if err != nil {
			return nil, err
		}
		config.Command = cmd
	}
	if config.Stderr == nil {
		config.Stderr = os.Stderr
	}
	if config.StartTimeout <= 0 {
		config.StartTimeout = DefaultStartTimeout
	}

	return &MediaPipeDetector{
		spec:   spec,
		config: config,
		lastTS: -1,
	}, nil
}

// Kind returns the tracker kind.
func (d *MediaPipeDetector) Kind() landmark.Kind {
	return d.spec.Kind
}

// Detect analyzes a frame and returns the detected entities.
func (d *MediaPipeDetector) Detect(frame *gocv.Mat, timestampMs int64) ([]landmark.Entity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if frame == nil || frame.Empty() {
		return nil, errors.New("empty frame")
	}
	if timestampMs <= d.lastTS {
		return nil, fmt.Errorf("timestamp %d is not after %d", timestampMs, d.lastTS)
	}
	if d.stopped != nil {
		return nil, fmt.Errorf("%w: %w", ErrServiceStopped, d.stopped)
	}

	if err := d.ensureStarted(); err != nil {
		return nil, d.fail(err)
	}

	header := make([]byte, 20)
	binary.BigEndian.PutUint64(header[0:8], uint64(timestampMs))
	binary.BigEndian.PutUint32(header[8:12], uint32(frame.Cols()))
	binary.BigEndian.PutUint32(header[12:16], uint32(frame.Rows()))
	binary.BigEndian.PutUint32(header[16:20], uint32(frame.Channels()))

	if _, err := d.stdin.Write(header); err != nil {
		return nil, d.fail(fmt.Errorf("write header: %w", err))
	}
	if _, err := d.stdin.Write(frame.ToBytes()); err != nil {
		return nil, d.fail(fmt.Errorf("write frame: %w", err))
	}

	line, err := d.stdout.ReadBytes('\n')
	if err != nil {
		return nil, d.fail(fmt.Errorf("read response: %w", err))
	}
	d.lastTS = timestampMs

	return decodeResponse(line, d.spec.Schema)
}

// Start launches a fresh service and waits for its handshake, so that a
// service that cannot load its model fails here rather than on every frame.
func (d *MediaPipeDetector) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	// The previous process may have exited with an error; it no longer matters.
	_ = d.shutdown()
	d.lastTS = -1
	d.stopped = nil

	if err := d.ensureStarted(); err != nil {
		d.stopped = err
		return err
	}
	return nil
}

// Close shuts down the service process.
func (d *MediaPipeDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shutdown()
}

// serviceArgs passes the model asset and options to the service.
func (d *MediaPipeDetector) serviceArgs() []string {
	opts := d.spec.Options
	return []string{
		"--kind", string(d.spec.Kind),
		"--model", d.spec.ModelPath,
		"--max-entities", strconv.Itoa(opts.MaxEntities(d.spec.Kind)),
		"--min-detection-confidence", strconv.FormatFloat(opts.MinConfidence, 'f', -1, 64),
		"--min-presence-confidence", strconv.FormatFloat(opts.MinPresenceConf, 'f', -1, 64),
		"--min-tracking-confidence", strconv.FormatFloat(opts.MinTrackingConf, 'f', -1, 64),
	}
}

func (d *MediaPipeDetector) ensureStarted() error {
	if d.started {
		return nil
	}

	args := append(append([]string{}, d.config.Command[1:]...), d.serviceArgs()...)
	d.cmd = exec.Command(d.config.Command[0], args...)

	stdin, err := d.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout, err := d.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}

	d.cmd.Stderr = d.config.Stderr

	if err := d.cmd.Start(); err != nil {
		return fmt.Errorf("start landmarker service: %w", err)
	}

	d.stdin = stdin
	d.stdout = bufio.NewReader(stdout)
	d.started = true

	if err := d.awaitReady(); err != nil {
		d.kill()
		return fmt.Errorf("landmarker service not ready: %w", err)
	}
	return nil
}

// awaitReady reads the handshake line, giving up after StartTimeout.
func (d *MediaPipeDetector) awaitReady() error {
	type result struct {
		line []byte
		err  error
	}
	out := d.stdout
	ch := make(chan result, 1)
	go func() {
		line, err := out.ReadBytes('\n')
		ch <- result{line, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return fmt.Errorf("read handshake: %w", r.err)
		}
		return decodeReady(r.line)
	case <-time.After(d.config.StartTimeout):
		return fmt.Errorf("no handshake within %s", d.config.StartTimeout)
	}
}

// fail stops a broken service and makes every later Detect fail fast.
func (d *MediaPipeDetector) fail(err error) error {
	d.kill()
	d.stopped = err
	return fmt.Errorf("%w: %w", ErrServiceStopped, err)
}

// kill terminates the service without waiting for it to drain its input.
func (d *MediaPipeDetector) kill() {
	if !d.started {
		return
	}
	if d.stdin != nil {
		d.stdin.Close()
	}
	if d.cmd.Process != nil {
		_ = d.cmd.Process.Kill()
	}
	_ = d.cmd.Wait()
	d.started = false
	d.cmd = nil
	d.stdin = nil
	d.stdout = nil
}

func (d *MediaPipeDetector) shutdown() error {
	if !d.started {
		return nil
	}

	if d.stdin != nil {
		d.stdin.Close()
	}

	err := d.cmd.Wait()
	d.started = false
	d.cmd = nil
	d.stdin = nil
	d.stdout = nil

	return err
}

// ServiceCommand locates the landmarker service script and the interpreter to
// run it with, preferring a virtualenv over python3 on PATH.
func ServiceCommand() ([]string, error) {
	scriptPath := findServiceScript()
	if scriptPath == "" {
		return nil, fmt.Errorf("%s not found", ServiceScript)
	}
	pythonPath := findVenvPython()
	if pythonPath == "" {
		pythonPath = "python3"
	}
	return []string{pythonPath, scriptPath}, nil
}

func findServiceScript() string {
	execPath, err := os.Executable()
	var execDir string
	if err == nil {
		execDir = filepath.Dir(execPath)
	}

	candidates := []string{
		filepath.Join("scripts", ServiceScript),
		filepath.Join("..", "scripts", ServiceScript),
		filepath.Join(execDir, "scripts", ServiceScript),
		filepath.Join(os.Getenv("HOME"), ".movid", "scripts", ServiceScript),
	}

	return firstExisting(candidates)
}

// findVenvPython looks for a Python interpreter in a virtual environment
// next to the working directory, the executable, or ~/.movid.
func findVenvPython() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}
	execDir := filepath.Dir(execPath)

	candidates := []string{
		"venv/bin/python",
		"../venv/bin/python",
		"../../venv/bin/python",
		filepath.Join(execDir, "venv/bin/python"),
		filepath.Join(os.Getenv("HOME"), ".movid/venv/bin/python"),
	}

	return firstExisting(candidates)
}

func firstExisting(candidates []string) string {
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			absPath, err := filepath.Abs(path)
			if err == nil {
				return absPath
			}
			return path
		}
	}
	return ""
}

// jsonResponse is one line written by the landmarker service.
type jsonResponse struct {
	Entities []jsonEntity `json:"entities"`
	Error    string       `json:"error,omitempty"`
}

type jsonEntity struct {
	Label string      `json:"label"`
	Score float64     `json:"score"`
	Image []jsonPoint `json:"image"`
	World []jsonPoint `json:"world,omitempty"`
}

type jsonPoint struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Z          float64 `json:"z"`
	Visibility float64 `json:"visibility,omitempty"`
}

type jsonReady struct {
	Ready bool   `json:"ready"`
	Error string `json:"error,omitempty"`
}

func decodeReady(line []byte) error {
	var resp jsonReady
	if err := json.Unmarshal(line, &resp); err != nil {
		return fmt.Errorf("parse handshake: %w", err)
	}
	if resp.Error != "" {
		return fmt.Errorf("landmarker: %s", resp.Error)
	}
	if !resp.Ready {
		return fmt.Errorf("unexpected handshake %q", bytes.TrimSpace(line))
	}
	return nil
}

func decodeResponse(line []byte, schema landmark.Schema) ([]landmark.Entity, error) {
	var resp jsonResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("landmarker: %s", resp.Error)
	}

	entities := make([]landmark.Entity, 0, len(resp.Entities))
	for i, e := range resp.Entities {
		entity := e.toEntity()
		if err := entity.Validate(schema); err != nil {
			return nil, fmt.Errorf("entity %d: %w", i, err)
		}
		entities = append(entities, entity)
	}
	return entities, nil
}

func (e jsonEntity) toEntity() landmark.Entity {
	return landmark.Entity{
		Label: e.Label,
		Score: e.Score,
		Image: toPoints(e.Image),
		World: toPoints(e.World),
	}
}

func toPoints(in []jsonPoint) []landmark.Point {
	if len(in) == 0 {
		return nil
	}
	out := make([]landmark.Point, len(in))
	for i, p := range in {
		out[i] = landmark.Point{X: p.X, Y: p.Y, Z: p.Z, Visibility: p.Visibility}
	}
	return out
}
