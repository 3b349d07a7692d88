package report

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// NoDataMarker replaces the data rows of an empty report.
const NoDataMarker = "No data available"

// Artifact is a report attachment on disk. Remove must be called once the
// delivery attempt is over.
type Artifact struct {
	Path     string
	Filename string
	Rows     int
	dir      string
}

// Remove deletes the artifact and its private directory. Safe on nil and
// safe to call twice.
func (a *Artifact) Remove() error {
	if a == nil || a.dir == "" {
		return nil
	}
	err := os.RemoveAll(a.dir)
	a.dir = ""
	return err
}

type Exporter struct {
	Dir string // parent of the per-run directories; empty means os.TempDir()
	Now func() time.Time
}

func NewExporter(dir string) *Exporter {
	return &Exporter{Dir: dir, Now: time.Now}
}

// Export writes rows as CSV with every field quoted. Each artifact gets its
// own directory so concurrent runs never share a path.
func (e *Exporter) Export(reportName string, rows Rows) (*Artifact, error) {
	if e.Dir != "" {
		if err := os.MkdirAll(e.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create export directory: %w", err)
		}
	}
	dir, err := os.MkdirTemp(e.Dir, "report-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}
	artifact := &Artifact{
		Filename: fmt.Sprintf("%s-%s.csv", slug(reportName), e.Now().Format("20060102-150405")),
		Rows:     rows.Len(),
		dir:      dir,
	}
	artifact.Path = filepath.Join(dir, artifact.Filename)

	if err := writeCSV(artifact.Path, rows); err != nil {
		artifact.Remove()
		return nil, err
	}
	return artifact, nil
}

func writeCSV(path string, rows Rows) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create artifact: %w", err)
	}
	w := bufio.NewWriter(f)

	header := rows.Columns
	if len(header) == 0 {
		header = []string{"Result"}
	}
	writeRecord(w, header)
	if rows.Len() == 0 {
		writeRecord(w, []string{NoDataMarker})
	}
	for _, rec := range rows.Records {
		fields := make([]string, len(rec))
		for i, v := range rec {
			fields[i] = stringify(v)
		}
		writeRecord(w, fields)
	}

	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("failed to write artifact: %w", err)
	}
	return f.Close()
}

func writeRecord(w *bufio.Writer, fields []string) {
	for i, field := range fields {
		if i > 0 {
			w.WriteByte(',')
		}
		w.WriteByte('"')
		w.WriteString(strings.ReplaceAll(field, `"`, `""`))
		w.WriteByte('"')
	}
	w.WriteString("\r\n")
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339)
	case *time.Time:
		if val == nil {
			return ""
		}
		return val.Format(time.RFC3339)
	default:
		return fmt.Sprint(val)
	}
}

var nonSlug = regexp.MustCompile(`[^a-z0-9]+`)

func slug(name string) string {
	s := strings.Trim(nonSlug.ReplaceAllString(strings.ToLower(name), "-"), "-")
	if s == "" {
		return "report"
	}
	return s
}
