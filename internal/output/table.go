package output

import (
	"compress/gzip"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/nzbri/movid/internal/catalog"
	"github.com/nzbri/movid/internal/landmark"
)

// Columns is the fixed header of the landmark table. Each row is one landmark
// of one entity in one frame.
var Columns = []string{
	"video", "subject", "date", "task",
	"frame", "time_stamp",
	"detector_type", "entity", "side", "score",
	"landmark", "x", "y", "z", "visibility",
}

// tableWriter streams rows as gzip-compressed CSV.
type tableWriter struct {
	file  *os.File
	gz    *gzip.Writer
	csv   *csv.Writer
	video catalog.Descriptor
	rows  int
}

func newTableWriter(file *os.File, video catalog.Descriptor) (*tableWriter, error) {
	gz := gzip.NewWriter(file)
	gz.Name = video.OutputName + ".csv"

	t := &tableWriter{file: file, gz: gz, csv: csv.NewWriter(gz), video: video}
	if err := t.csv.Write(Columns); err != nil {
		return nil, err
	}
	return t, nil
}

// writeRecord appends one row per landmark of every detection in rec.
func (t *tableWriter) writeRecord(rec landmark.FrameRecord) error {
	for _, d := range rec.Detections {
		schema, ok := landmark.SchemaFor(d.Kind)
		if !ok {
			return fmt.Errorf("no schema for %s", d.Kind)
		}
		if len(d.Points) != schema.Len() {
			return fmt.Errorf("%s detection has %d points, schema requires %d", d.Kind, len(d.Points), schema.Len())
		}

		side := ""
		if d.Kind == landmark.Hands {
			side = d.Label
		}

		for i, p := range d.Points {
			visibility := ""
			if schema.Visibility {
				visibility = formatFloat(p.Visibility)
			}
			row := []string{
				t.video.Filename,
				t.video.Name.Subject,
				t.video.Name.Date,
				t.video.Name.Task,
				strconv.Itoa(rec.Frame),
				strconv.FormatInt(rec.TimestampMs, 10),
				string(d.Kind),
				strconv.Itoa(d.Index),
				side,
				formatFloat(d.Score),
				schema.Names[i],
				formatFloat(p.X),
				formatFloat(p.Y),
				formatFloat(p.Z),
				visibility,
			}
			if err := t.csv.Write(row); err != nil {
				return err
			}
			t.rows++
		}
	}
	return nil
}

// close flushes all buffered data and closes the file.
func (t *tableWriter) close() error {
	t.csv.Flush()
	if err := t.csv.Error(); err != nil {
		t.gz.Close()
		t.file.Close()
		return err
	}
	if err := t.gz.Close(); err != nil {
		t.file.Close()
		return err
	}
	if err := t.file.Sync(); err != nil {
		t.file.Close()
		return err
	}
	return t.file.Close()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// ReadTable decompresses and parses a landmark table, returning all rows
// including the header.
func ReadTable(r io.Reader) ([][]string, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, err
	}
	defer gz.Close()
	return csv.NewReader(gz).ReadAll()
}
