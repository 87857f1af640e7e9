// Package catalog discovers the video recordings to process under an input folder.
package catalog

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/nzbri/movid/internal/fault"
)

// Options configures a Catalog.
type Options struct {
	// Root is the folder searched recursively for videos.
	Root string
	// Suffix is the required filename ending, matched case-sensitively (e.g. ".MOV").
	Suffix string
	// TaskCodes keep only files whose name contains one of them, case-insensitively.
	TaskCodes []string
	// Specific, when non-empty, lists file names (or sub-paths) relative to Root.
	// Task-code filtering is bypassed for them.
	Specific []string
}

// Catalog produces the ordered list of videos for a run.
type Catalog struct {
	opts Options
}

// Entry is one catalog result: a descriptor, or the discovery error for a named video.
type Entry struct {
	Video Descriptor
	Err   error
}

// Stats summarizes the last scan, mirroring the preflight line "N videos found, M selected".
type Stats struct {
	Found    int
	Selected int
	Specific bool
}

// New validates the options. It fails with fault.ErrConfiguration when the root is
// missing or when neither specific videos nor task codes are given.
func New(opts Options) (*Catalog, error) {
	if opts.Root == "" {
		return nil, fault.Configuration("input video folder is required")
	}
	info, err := os.Stat(opts.Root)
	if err != nil {
		return nil, fault.Configuration("input video folder %q: %v", opts.Root, err)
	}
	if !info.IsDir() {
		return nil, fault.Configuration("input video folder %q is not a directory", opts.Root)
	}

	opts.TaskCodes = nonEmpty(opts.TaskCodes)
	opts.Specific = nonEmpty(opts.Specific)

	if len(opts.Specific) == 0 {
		if len(opts.TaskCodes) == 0 {
			return nil, fault.Configuration("at least one task code is required when no specific videos are given")
		}
		if opts.Suffix == "" {
			return nil, fault.Configuration("video suffix is required")
		}
	}

	return &Catalog{opts: opts}, nil
}

// Scan returns the videos to process in a deterministic order: the order of
// Options.Specific when given, otherwise lexical walk order.
func (c *Catalog) Scan() ([]Entry, Stats, error) {
	var (
		entries []Entry
		stats   Stats
		err     error
	)
	if len(c.opts.Specific) > 0 {
		entries, err = c.resolveSpecific()
		stats = Stats{Found: len(entries), Selected: len(entries), Specific: true}
	} else {
		entries, stats, err = c.walk()
	}
	if err != nil {
		return nil, Stats{}, err
	}

	assignOutputNames(entries)
	return entries, stats, nil
}

func (c *Catalog) walk() ([]Entry, Stats, error) {
	var (
		entries []Entry
		found   int
	)
	err := filepath.WalkDir(c.opts.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), c.opts.Suffix) {
			return nil
		}
		found++

		task, ok := MatchTask(d.Name(), c.opts.TaskCodes)
		if !ok {
			return nil
		}
		desc, err := c.describe(path, task)
		if err != nil {
			return err
		}
		entries = append(entries, Entry{Video: desc})
		return nil
	})
	if err != nil {
		return nil, Stats{}, fault.Configuration("scan %q: %v", c.opts.Root, err)
	}

	return entries, Stats{Found: found, Selected: len(entries)}, nil
}

func (c *Catalog) resolveSpecific() ([]Entry, error) {
	entries := make([]Entry, 0, len(c.opts.Specific))
	for _, name := range c.opts.Specific {
		path, err := c.resolve(name)
		if err != nil {
			entries = append(entries, Entry{
				Video: Descriptor{Path: filepath.Join(c.opts.Root, name), Filename: filepath.Base(name), Stem: stem(filepath.Base(name))},
				Err:   err,
			})
			continue
		}
		task, _ := MatchTask(filepath.Base(path), c.opts.TaskCodes)
		desc, err := c.describe(path, task)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Video: desc})
	}
	return entries, nil
}

// errFound stops the walk at the first match.
var errFound = errors.New("found")

// resolve looks for name directly under Root first, then anywhere below it.
// The first match in lexical walk order wins. Names that are absolute or
// climb out of Root are rejected.
func (c *Catalog) resolve(name string) (string, error) {
	if !filepath.IsLocal(name) {
		return "", fault.Discovery("video %q is not a path inside %q", name, c.opts.Root)
	}
	direct := filepath.Join(c.opts.Root, name)
	if info, err := os.Stat(direct); err == nil && !info.IsDir() {
		return direct, nil
	}

	base := filepath.Base(name)
	var match string
	err := filepath.WalkDir(c.opts.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == base {
			match = path
			return errFound
		}
		return nil
	})
	if err != nil && !errors.Is(err, errFound) {
		return "", fault.Discovery("resolve %q: %v", name, err)
	}
	if match == "" {
		return "", fault.Discovery("video %q not found under %q", name, c.opts.Root)
	}
	return match, nil
}

func (c *Catalog) describe(path, task string) (Descriptor, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Descriptor{}, err
	}
	group := "."
	if rel, err := filepath.Rel(c.opts.Root, filepath.Dir(path)); err == nil {
		group = filepath.ToSlash(rel)
	}

	filename := filepath.Base(path)
	return Descriptor{
		Path:     abs,
		Filename: filename,
		Stem:     stem(filename),
		Task:     task,
		Group:    group,
		Name:     ParseFilename(filename),
	}, nil
}

// MatchTask returns the first code (in configured order) contained in filename,
// compared case-insensitively. It applies no other rule: "fta_c" matches "fta".
func MatchTask(filename string, codes []string) (string, bool) {
	lower := strings.ToLower(filename)
	for _, code := range codes {
		if code != "" && strings.Contains(lower, strings.ToLower(code)) {
			return code, true
		}
	}
	return "", false
}

func nonEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
