// Package output persists the artifacts of one processed video: the annotated
// video, a thumbnail and the compressed landmark table.
package output

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/nzbri/movid/internal/capture"
	"github.com/nzbri/movid/internal/catalog"
	"github.com/nzbri/movid/internal/fault"
	"github.com/nzbri/movid/internal/frameproc"
)

// Defaults for the artifact encodings.
const (
	DefaultCodec       = "mp4v"
	DefaultVideoExt    = ".mp4"
	DefaultJPEGQuality = 85
	DefaultFPS         = 30
)

// Config holds the output folders and encodings.
type Config struct {
	VideoFolder     string
	ThumbnailFolder string // defaults to VideoFolder
	DataFolder      string

	// Features is appended to every artifact name, e.g. "hands-face".
	Features string

	Codec       string
	VideoExt    string
	JPEGQuality int
}

// ImageWriter writes a JPEG image.
type ImageWriter func(path string, img gocv.Mat, quality int) error

// WriteJPEG writes img with gocv at the given quality.
func WriteJPEG(path string, img gocv.Mat, quality int) error {
	if !gocv.IMWriteWithParams(path, img, []int{int(gocv.IMWriteJpegQuality), quality}) {
		return errors.New("imwrite failed")
	}
	return nil
}

// Artifacts names the files produced for one video.
type Artifacts struct {
	Video          string
	Thumbnail      string
	Table          string
	Frames         int // frames written to Video
	Rows           int // data rows written to Table
	ThumbnailFrame int // source frame index used for Thumbnail, 0 if none
}

// Option configures a Writer.
type Option func(*Writer)

// WithVideoWriterFactory replaces the gocv video writer.
func WithVideoWriterFactory(f VideoWriterFactory) Option {
	return func(w *Writer) { w.newVideo = f }
}

// WithImageWriter replaces the gocv JPEG writer.
func WithImageWriter(f ImageWriter) Option {
	return func(w *Writer) { w.writeImage = f }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Writer) { w.logger = l }
}

// Writer creates per-video output sessions. It is safe for concurrent use as
// long as each video has a distinct OutputName.
type Writer struct {
	cfg        Config
	newVideo   VideoWriterFactory
	writeImage ImageWriter
	logger     *zap.Logger
}

// NewWriter creates a Writer. Folders are checked per video by Begin.
func NewWriter(cfg Config, opts ...Option) *Writer {
	if cfg.ThumbnailFolder == "" {
		cfg.ThumbnailFolder = cfg.VideoFolder
	}
	if cfg.Codec == "" {
		cfg.Codec = DefaultCodec
	}
	if cfg.VideoExt == "" {
		cfg.VideoExt = DefaultVideoExt
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = DefaultJPEGQuality
	}

	w := &Writer{
		cfg:        cfg,
		newVideo:   OpenVideoFile,
		writeImage: WriteJPEG,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Paths returns the artifact paths for a video.
func (w *Writer) Paths(video catalog.Descriptor) Artifacts {
	base := video.OutputName
	if base == "" {
		base = video.Stem
	}
	if w.cfg.Features != "" {
		base += "_" + w.cfg.Features
	}
	return Artifacts{
		Video:     filepath.Join(w.cfg.VideoFolder, base+"_labelled"+w.cfg.VideoExt),
		Thumbnail: filepath.Join(w.cfg.ThumbnailFolder, base+"_labelled.jpg"),
		Table:     filepath.Join(w.cfg.DataFolder, base+".csv.gz"),
	}
}

// CheckFolders verifies that every output folder exists and is writable.
func (w *Writer) CheckFolders() error {
	for _, dir := range []string{w.cfg.VideoFolder, w.cfg.ThumbnailFolder, w.cfg.DataFolder} {
		if err := checkWritable(dir); err != nil {
			return err
		}
	}
	return nil
}

// Begin starts the output of one video. meta provides the source frame rate,
// frame size and frame count used for the thumbnail position.
func (w *Writer) Begin(video catalog.Descriptor, meta capture.Metadata) (*Session, error) {
	if err := w.CheckFolders(); err != nil {
		return nil, err
	}

	paths := w.Paths(video)
	tmp, err := os.CreateTemp(w.cfg.DataFolder, "."+filepath.Base(paths.Table)+"-*.tmp")
	if err != nil {
		return nil, fault.Write("create table", err)
	}
	table, err := newTableWriter(tmp, video)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fault.Write("write table header", err)
	}

	thumbAt := 1
	if meta.FrameCount > 0 {
		thumbAt = (meta.FrameCount + 1) / 2
	}

	return &Session{
		writer:    w,
		video:     video,
		meta:      meta,
		artifacts: paths,
		table:     table,
		tmpPath:   tmp.Name(),
		thumbAt:   thumbAt,
		logger:    w.logger.With(zap.String("video", video.Filename)),
	}, nil
}

// PartialPath is where an artifact is written until its video completes.
// It keeps the extension so encoders pick the same container.
func PartialPath(final string) string {
	dir, name := filepath.Split(final)
	ext := filepath.Ext(name)
	return filepath.Join(dir, "."+strings.TrimSuffix(name, ext)+".partial"+ext)
}

// Session writes the artifacts of one video. It implements frameproc.Sink.
// Every artifact is written to a partial file and replaces the previous
// run's file only when Close succeeds.
type Session struct {
	writer    *Writer
	video     catalog.Descriptor
	meta      capture.Metadata
	artifacts Artifacts
	table     *tableWriter
	tmpPath   string
	partials  []string // partial video and thumbnail files created so far
	thumbAt   int
	out       VideoWriter
	last      gocv.Mat
	lastIndex int
	hasLast   bool
	done      bool
	logger    *zap.Logger
}

var _ frameproc.Sink = (*Session)(nil)

// WriteFrame appends the annotated frame to the video, writes the thumbnail
// when the frame is the first at or past the midpoint, and appends the
// frame's landmark rows to the table.
func (s *Session) WriteFrame(f frameproc.Frame) error {
	if s.done {
		return fault.Write("session closed", nil)
	}
	if f.Annotated == nil || f.Annotated.Empty() {
		return fault.Write(fmt.Sprintf("frame %d has no image", f.Index), nil)
	}

	if s.out == nil {
		if err := s.openVideo(*f.Annotated); err != nil {
			return err
		}
	}
	if err := s.out.Write(*f.Annotated); err != nil {
		return fault.Write("write video frame", err)
	}
	s.artifacts.Frames++

	if s.artifacts.ThumbnailFrame == 0 {
		if f.Index >= s.thumbAt {
			if err := s.writeThumbnail(*f.Annotated, f.Index); err != nil {
				return err
			}
		} else {
			s.keepLast(*f.Annotated, f.Index)
		}
	}

	if err := s.table.writeRecord(f.Record); err != nil {
		return fault.Write("write table rows", err)
	}
	return nil
}

// Close finalizes every artifact. Existing files are replaced only once all
// artifacts are complete.
func (s *Session) Close() (Artifacts, error) {
	if s.done {
		return s.artifacts, nil
	}
	s.done = true
	defer s.releaseLast()

	var errs []error
	if s.artifacts.ThumbnailFrame == 0 && s.hasLast {
		// Frames past the midpoint were lost; fall back to the last written frame.
		if err := s.writeThumbnail(s.last, s.lastIndex); err != nil {
			errs = append(errs, err)
		}
	}

	if s.out != nil {
		if err := s.out.Close(); err != nil {
			errs = append(errs, fault.Write("close video", err))
		}
	}

	s.artifacts.Rows = s.table.rows
	if err := s.table.close(); err != nil {
		errs = append(errs, fault.Write("close table", err))
	}
	if len(errs) == 0 {
		for _, path := range s.partials {
			if err := os.Rename(PartialPath(path), path); err != nil {
				errs = append(errs, fault.Write("replace "+path, err))
			}
		}
	}
	if len(errs) == 0 {
		if err := os.Rename(s.tmpPath, s.artifacts.Table); err != nil {
			errs = append(errs, fault.Write("replace table", err))
		}
	}
	if len(errs) > 0 {
		s.removePartials()
		return s.artifacts, errors.Join(errs...)
	}

	s.logger.Debug("artifacts written",
		zap.String("video_out", s.artifacts.Video),
		zap.String("table", s.artifacts.Table),
		zap.Int("rows", s.artifacts.Rows))
	return s.artifacts, nil
}

// Abort releases the session without publishing any artifact. Files from an
// earlier run are left in place.
func (s *Session) Abort() {
	if s.done {
		return
	}
	s.done = true
	s.releaseLast()
	if s.out != nil {
		s.out.Close()
	}
	s.table.close()
	s.removePartials()
}

// createPartial creates the partial file for an artifact, so that it exists
// even when the encoder writes nothing.
func (s *Session) createPartial(final string) (string, error) {
	path := PartialPath(final)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return "", err
	}
	f.Close()
	s.partials = append(s.partials, final)
	return path, nil
}

func (s *Session) removePartials() {
	for _, path := range s.partials {
		os.Remove(PartialPath(path))
	}
	os.Remove(s.tmpPath)
}

func (s *Session) openVideo(first gocv.Mat) error {
	width, height := s.meta.Width, s.meta.Height
	if width <= 0 || height <= 0 {
		width, height = first.Cols(), first.Rows()
	}
	fps := s.meta.FPS
	if fps <= 0 {
		fps = DefaultFPS
	}

	path, err := s.createPartial(s.artifacts.Video)
	if err != nil {
		return fault.Write("open "+s.artifacts.Video, err)
	}
	out, err := s.writer.newVideo(path, s.writer.cfg.Codec, fps, width, height)
	if err != nil {
		return fault.Write("open "+s.artifacts.Video, err)
	}
	s.out = out
	return nil
}

func (s *Session) writeThumbnail(img gocv.Mat, index int) error {
	path, err := s.createPartial(s.artifacts.Thumbnail)
	if err != nil {
		return fault.Write("write thumbnail "+s.artifacts.Thumbnail, err)
	}
	if err := s.writer.writeImage(path, img, s.writer.cfg.JPEGQuality); err != nil {
		return fault.Write("write thumbnail "+s.artifacts.Thumbnail, err)
	}
	s.artifacts.ThumbnailFrame = index
	s.releaseLast()
	return nil
}

func (s *Session) keepLast(img gocv.Mat, index int) {
	s.releaseLast()
	s.last = img.Clone()
	s.lastIndex = index
	s.hasLast = true
}

func (s *Session) releaseLast() {
	if s.hasLast {
		s.last.Close()
		s.hasLast = false
	}
}

func checkWritable(dir string) error {
	if dir == "" {
		return fault.Write("output folder not configured", nil)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return fault.Write("output folder "+dir, err)
	}
	if !info.IsDir() {
		return fault.Write("output folder "+dir+" is not a directory", nil)
	}
	probe, err := os.CreateTemp(dir, ".movid-probe-*")
	if err != nil {
		return fault.Write("output folder "+dir+" is not writable", err)
	}
	probe.Close()
	os.Remove(probe.Name())
	return nil
}
