package catalog

import (
	"path/filepath"
	"strconv"
	"strings"
)

// NotParsed marks filename fields that could not be derived.
const NotParsed = "not parsed"

// Descriptor identifies one input video. It is immutable once discovered.
type Descriptor struct {
	Path     string   // absolute path
	Filename string   // base name with extension
	Stem     string   // base name without extension
	Task     string   // matched task code, empty when none matched
	Group    string   // directory relative to the input root, "." for the root itself
	Name     NameInfo // fields parsed from the filename

	// OutputName is the base used for artifact names. It equals Stem unless
	// another video in the same run shares the stem.
	OutputName string
}

// NameInfo holds the fields of a "<date>_<subject>_<task>_..." filename.
type NameInfo struct {
	Date    string
	Subject string
	Task    string
}

// ParseFilename splits a recording name into date, subject and task.
// Names with fewer than three underscore-separated parts keep the whole
// filename as the subject.
func ParseFilename(filename string) NameInfo {
	parts := strings.Split(filename, "_")
	if len(parts) < 3 {
		return NameInfo{Date: NotParsed, Subject: filename, Task: NotParsed}
	}
	return NameInfo{
		Date:    parts[0],
		Subject: strings.ToUpper(parts[1]),
		Task:    strings.ToUpper(stem(parts[2])),
	}
}

func stem(filename string) string {
	return strings.TrimSuffix(filename, filepath.Ext(filename))
}

// assignOutputNames gives every entry a unique artifact base name. The first
// video with a stem keeps it; later ones are prefixed with their group.
func assignOutputNames(entries []Entry) {
	seen := make(map[string]bool, len(entries))
	for i := range entries {
		v := &entries[i].Video
		name := v.Stem
		if seen[name] && v.Group != "" && v.Group != "." {
			name = strings.ReplaceAll(v.Group, "/", "-") + "_" + v.Stem
		}
		for n := 2; seen[name]; n++ {
			name = v.Stem + "_" + strconv.Itoa(n)
		}
		seen[name] = true
		v.OutputName = name
	}
}
