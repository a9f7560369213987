package email

import (
	"bytes"
	"embed"
	"fmt"
	"sort"
	"text/template"
	"time"
)

//go:embed templates/*.tmpl
var embeddedTemplates embed.FS

// Template names
const (
	TemplateReport = "report"
	TemplateTest   = "test"
)

// ReportData contains all data available to email templates
type ReportData struct {
	RunID         string
	Date          string
	Report        string
	DeliveryError string
}

// Rendered is a rendered email ready to send
type Rendered struct {
	Subject string
	Body    string
}

// Engine handles email template rendering
type Engine struct {
	templates map[string]*template.Template
}

// NewEngine parses the embedded templates.
func NewEngine() (*Engine, error) {
	e := &Engine{
		templates: make(map[string]*template.Template),
	}

	for _, name := range []string{TemplateReport, TemplateTest} {
		content, err := embeddedTemplates.ReadFile("templates/" + name + ".tmpl")
		if err != nil {
			return nil, fmt.Errorf("failed to read embedded template %s: %w", name, err)
		}

		tmpl, err := template.New(name).Parse(string(content))
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", name, err)
		}

		e.templates[name] = tmpl
	}

	return e, nil
}

// Render executes a template. The first output line is the subject, the
// rest is the body.
func (e *Engine) Render(templateName string, data ReportData) (*Rendered, error) {
	tmpl, ok := e.templates[templateName]
	if !ok {
		return nil, fmt.Errorf("unknown template: %s", templateName)
	}
	if data.Date == "" {
		data.Date = time.Now().Format("02.01.2006 15:04")
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render template: %w", err)
	}

	subject, body, _ := bytes.Cut(buf.Bytes(), []byte("\n"))
	return &Rendered{
		Subject: string(bytes.TrimSpace(subject)),
		Body:    string(bytes.TrimLeft(body, "\n")),
	}, nil
}

// AvailableTemplates returns the list of available template names
func (e *Engine) AvailableTemplates() []string {
	templates := make([]string, 0, len(e.templates))
	for name := range e.templates {
		templates = append(templates, name)
	}
	sort.Strings(templates)
	return templates
}
