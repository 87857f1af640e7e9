// Package config loads movid settings from defaults, a TOML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"

	"github.com/nzbri/movid/internal/app"
	"github.com/nzbri/movid/internal/archive"
	"github.com/nzbri/movid/internal/detector"
	"github.com/nzbri/movid/internal/fault"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "MOVID_"

// FileName is the config file looked up in the working directory.
const FileName = "movid.toml"

// Config holds every movid setting. Field tags name the TOML key and the
// environment variable (after EnvPrefix).
type Config struct {
	InputFolder       string   `toml:"input_folder" env:"INPUT_FOLDER"`
	SpecificVideos    []string `toml:"specific_videos" env:"SPECIFIC_VIDEOS"`
	VideoSuffix       string   `toml:"video_suffix" env:"VIDEO_SUFFIX"`
	TaskTypes         []string `toml:"task_types" env:"TASK_TYPES"`
	Track             []string `toml:"track" env:"TRACK"`
	ModelFolder       string   `toml:"model_folder" env:"MODEL_FOLDER"`
	VideoOutputFolder string   `toml:"video_output_folder" env:"VIDEO_OUTPUT_FOLDER"`
	ThumbnailFolder   string   `toml:"thumbnail_folder" env:"THUMBNAIL_FOLDER"`
	DataOutputFolder  string   `toml:"data_output_folder" env:"DATA_OUTPUT_FOLDER"`

	Workers       int    `toml:"workers" env:"WORKERS"`
	SkipProcessed bool   `toml:"skip_processed" env:"SKIP_PROCESSED"`
	Codec         string `toml:"codec" env:"CODEC"`
	JPEGQuality   int    `toml:"jpeg_quality" env:"JPEG_QUALITY"`

	// LandmarkerCommand overrides the interpreter and script of the landmarker service.
	LandmarkerCommand []string `toml:"landmarker_command" env:"LANDMARKER_COMMAND"`

	Detector Detector `toml:"detector" envPrefix:"DETECTOR_"`
	Log      Log      `toml:"log" envPrefix:"LOG_"`
	Archive  Archive  `toml:"archive" envPrefix:"ARCHIVE_"`

	DBPath       string `toml:"db_path" env:"DB_PATH"`
	ServerAddr   string `toml:"server_addr" env:"SERVER_ADDR"`
	OTLPEndpoint string `toml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
}

// Detector holds the landmarker options.
type Detector struct {
	MaxHands               int     `toml:"max_hands" env:"MAX_HANDS"`
	MaxFaces               int     `toml:"max_faces" env:"MAX_FACES"`
	MinDetectionConfidence float64 `toml:"min_detection_confidence" env:"MIN_DETECTION_CONFIDENCE"`
	MinPresenceConfidence  float64 `toml:"min_presence_confidence" env:"MIN_PRESENCE_CONFIDENCE"`
	MinTrackingConfidence  float64 `toml:"min_tracking_confidence" env:"MIN_TRACKING_CONFIDENCE"`
}

// Log selects the log level and encoding.
type Log struct {
	Level  string `toml:"level" env:"LEVEL"`
	Format string `toml:"format" env:"FORMAT"`
}

// Archive configures the optional artifact upload. An empty endpoint disables it.
type Archive struct {
	Endpoint  string `toml:"endpoint" env:"ENDPOINT"`
	AccessKey string `toml:"access_key" env:"ACCESS_KEY"`
	SecretKey string `toml:"secret_key" env:"SECRET_KEY"`
	UseSSL    bool   `toml:"use_ssl" env:"USE_SSL"`
	Bucket    string `toml:"bucket" env:"BUCKET"`
	Prefix    string `toml:"prefix" env:"PREFIX"`
}

// Default returns the built-in settings. Folders are relative to the working directory.
func Default() *Config {
	opts := detector.DefaultOptions()
	return &Config{
		InputFolder:       "videos",
		VideoSuffix:       ".MOV",
		TaskTypes:         []string{"fta", "hoc"},
		Track:             []string{"hands"},
		ModelFolder:       "models",
		VideoOutputFolder: "annotated_videos",
		DataOutputFolder:  "landmark_data",
		Workers:           1,
		Detector: Detector{
			MaxHands:               opts.MaxHands,
			MaxFaces:               opts.MaxFaces,
			MinDetectionConfidence: opts.MinConfidence,
			MinPresenceConfidence:  opts.MinPresenceConf,
			MinTrackingConfidence:  opts.MinTrackingConf,
		},
		Log:        Log{Level: "info", Format: "console"},
		Archive:    Archive{Bucket: "movid"},
		DBPath:     defaultDBPath(),
		ServerAddr: ":8080",
	}
}

// Load builds the configuration from defaults, then the TOML file, then the
// environment. An explicit path must exist; otherwise the user config file and
// ./movid.toml are tried in turn and skipped when absent.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = FilePath()
	} else if _, err := os.Stat(path); err != nil {
		return nil, fault.Configuration("config file: %v", err)
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fault.Configuration("parse %s: %v", path, err)
		}
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fault.Configuration("environment: %v", err)
	}

	cfg.expandPaths()
	return cfg, nil
}

// FilePath returns the first existing config file: $XDG_CONFIG_HOME/movid/config.toml
// (or ~/.config/movid/config.toml), then ./movid.toml. It returns "" when none exists.
func FilePath() string {
	var candidates []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		candidates = append(candidates, filepath.Join(xdg, "movid", "config.toml"))
	} else if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "movid", "config.toml"))
	}
	candidates = append(candidates, FileName)

	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() {
			return c
		}
	}
	return ""
}

// DetectorOptions converts the detector section.
func (c *Config) DetectorOptions() detector.Options {
	return detector.Options{
		MaxHands:        c.Detector.MaxHands,
		MaxFaces:        c.Detector.MaxFaces,
		MinConfidence:   c.Detector.MinDetectionConfidence,
		MinPresenceConf: c.Detector.MinPresenceConfidence,
		MinTrackingConf: c.Detector.MinTrackingConfidence,
	}
}

// AppConfig converts to the processor configuration. Validation happens in app.New.
func (c *Config) AppConfig() app.Config {
	return app.Config{
		InputFolder:       c.InputFolder,
		SpecificVideos:    c.SpecificVideos,
		VideoSuffix:       c.VideoSuffix,
		TaskTypes:         c.TaskTypes,
		Track:             c.Track,
		ModelFolder:       c.ModelFolder,
		VideoOutputFolder: c.VideoOutputFolder,
		ThumbnailFolder:   c.ThumbnailFolder,
		DataOutputFolder:  c.DataOutputFolder,
		Workers:           c.Workers,
		SkipProcessed:     c.SkipProcessed,
		Detector:          c.DetectorOptions(),
		Codec:             c.Codec,
		JPEGQuality:       c.JPEGQuality,
	}
}

// ArchiveConfig returns the archive settings, or false when archiving is disabled.
func (c *Config) ArchiveConfig() (archive.Config, bool) {
	if c.Archive.Endpoint == "" {
		return archive.Config{}, false
	}
	return archive.Config{
		Endpoint:  c.Archive.Endpoint,
		AccessKey: c.Archive.AccessKey,
		SecretKey: c.Archive.SecretKey,
		UseSSL:    c.Archive.UseSSL,
		Bucket:    c.Archive.Bucket,
		Prefix:    c.Archive.Prefix,
	}, true
}

// OutputFolders lists the folders a run writes to.
func (c *Config) OutputFolders() []string {
	folders := []string{c.VideoOutputFolder, c.DataOutputFolder}
	if c.ThumbnailFolder != "" {
		folders = append(folders, c.ThumbnailFolder)
	}
	return folders
}

// MakeOutputFolders creates every output folder.
func (c *Config) MakeOutputFolders() error {
	var errs []error
	for _, dir := range c.OutputFolders() {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			errs = append(errs, fmt.Errorf("create %s: %w", dir, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) expandPaths() {
	for _, p := range []*string{
		&c.InputFolder, &c.ModelFolder, &c.VideoOutputFolder,
		&c.ThumbnailFolder, &c.DataOutputFolder, &c.DBPath,
	} {
		*p = ExpandTilde(*p)
	}
}

// ExpandTilde replaces a leading "~/" with the home directory.
func ExpandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

func defaultDBPath() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".movid", "movid.db")
	}
	return filepath.Join(".", "movid.db")
}
