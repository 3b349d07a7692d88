package report

import (
	"bytes"
	"fmt"
	"text/template"
	"time"

	"github.com/reportcast/internal/models"
)

const bodyTemplate = `{{.Frequency}} report: {{.Name}}
{{if .Description}}
{{.Description}}
{{end}}
Generated at: {{.GeneratedAt.Format "2006-01-02 15:04 MST"}}
{{if .Rows}}Rows: {{.Rows}}. The full result set is attached as {{.Filename}}.{{else}}The report returned no data for this period.{{end}}

This message was sent automatically by a scheduled report delivery.
`

type bodyData struct {
	Name        string
	Description string
	Frequency   string
	GeneratedAt time.Time
	Rows        int
	Filename    string
}

// Generator composes the subject and body of a report email.
type Generator struct {
	tmpl *template.Template
}

func NewGenerator() *Generator {
	return &Generator{tmpl: template.Must(template.New("body").Parse(bodyTemplate))}
}

// Subject is derived from the report name and the schedule's frequency.
func (g *Generator) Subject(def *models.ReportDefinition, freq models.Frequency) string {
	return fmt.Sprintf("%s - %s report", def.Name, freq.Label())
}

func (g *Generator) Body(def *models.ReportDefinition, freq models.Frequency, artifact *Artifact, now time.Time) (string, error) {
	data := bodyData{
		Name:        def.Name,
		Description: def.Description,
		Frequency:   freq.Label(),
		GeneratedAt: now,
	}
	if artifact != nil {
		data.Rows = artifact.Rows
		data.Filename = artifact.Filename
	}

	var buf bytes.Buffer
	if err := g.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.String(), nil
}
