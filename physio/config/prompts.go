package config

import (
	_ "embed"
	"fmt"
	"os"
	"strings"
	"text/template"
	"time"

	"physio/physio/types"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultPrompts []byte

// Prompts is the YAML prompt catalogue used by the completion gateway and clients.
type Prompts struct {
	DefaultSystemPrompt string `yaml:"default_system_prompt"`
	PatientContext      string `yaml:"patient_context"`
	TitlePlaceholder    string `yaml:"title_placeholder"`
	Greeting            string `yaml:"greeting"`

	// Errors is shown to the patient when a turn fails.
	Errors types.ErrorCopy `yaml:"errors"`

	patientTmpl *template.Template
	titleTmpl   *template.Template
}

// LoadPrompts parses the catalogue at path, falling back to the embedded defaults
// for an empty path and for any key the file leaves blank.
func LoadPrompts(path string) (*Prompts, error) {
	p := &Prompts{}
	if err := yaml.Unmarshal(defaultPrompts, p); err != nil {
		return nil, fmt.Errorf("parse embedded prompts: %w", err)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read prompts file: %w", err)
		}
		var override Prompts
		if err := yaml.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("parse prompts file %s: %w", path, err)
		}
		p.merge(override)
	}
	return p, p.compile()
}

func (p *Prompts) merge(o Prompts) {
	if o.DefaultSystemPrompt != "" {
		p.DefaultSystemPrompt = o.DefaultSystemPrompt
	}
	if o.PatientContext != "" {
		p.PatientContext = o.PatientContext
	}
	if o.TitlePlaceholder != "" {
		p.TitlePlaceholder = o.TitlePlaceholder
	}
	if o.Greeting != "" {
		p.Greeting = o.Greeting
	}
	p.Errors = o.Errors.Or(p.Errors)
}

func (p *Prompts) compile() error {
	var err error
	if p.patientTmpl, err = template.New("patient_context").Parse(p.PatientContext); err != nil {
		return fmt.Errorf("patient_context template: %w", err)
	}
	if p.titleTmpl, err = template.New("title_placeholder").Parse(p.TitlePlaceholder); err != nil {
		return fmt.Errorf("title_placeholder template: %w", err)
	}
	return nil
}

// RenderPatientContext renders the patient block appended to the system prompt.
func (p *Prompts) RenderPatientContext(pc types.PatientContext) (string, error) {
	var sb strings.Builder
	if err := p.patientTmpl.Execute(&sb, pc); err != nil {
		return "", err
	}
	return strings.TrimSpace(sb.String()), nil
}

// Title returns the placeholder title for a conversation started at t.
func (p *Prompts) Title(t time.Time) string {
	var sb strings.Builder
	if err := p.titleTmpl.Execute(&sb, struct{ Date string }{t.Format("02/01/2006")}); err != nil {
		return "Conversación " + t.Format("02/01/2006")
	}
	return sb.String()
}
