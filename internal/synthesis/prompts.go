package synthesis

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultPromptsYAML []byte

// promptFile is the YAML layout of a prompt set. Empty fields keep the
// built-in text.
type promptFile struct {
	System    string `yaml:"system"`
	Decompose string `yaml:"decompose"`
	Summarize string `yaml:"summarize"`
	Quiz      string `yaml:"quiz"`
}

// Prompts holds the parsed prompt templates.
type Prompts struct {
	System    string
	decompose *template.Template
	summarize *template.Template
	quiz      *template.Template
}

// DefaultPrompts returns the built-in prompt set.
func DefaultPrompts() *Prompts {
	p, err := parsePrompts(defaultPromptsYAML, nil)
	if err != nil {
		panic(fmt.Sprintf("built-in prompts are invalid: %v", err))
	}
	return p
}

// LoadPrompts overlays the YAML file at path on the built-in prompts. An empty
// path returns the built-in set.
func LoadPrompts(path string) (*Prompts, error) {
	if path == "" {
		return DefaultPrompts(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading prompts: %w", err)
	}

	p, err := parsePrompts(defaultPromptsYAML, data)
	if err != nil {
		return nil, fmt.Errorf("loading prompts from %s: %w", path, err)
	}
	slog.Info("prompts loaded", "path", path)
	return p, nil
}

func parsePrompts(base, overlay []byte) (*Prompts, error) {
	var pf promptFile
	if err := yaml.Unmarshal(base, &pf); err != nil {
		return nil, err
	}
	if overlay != nil {
		var over promptFile
		if err := yaml.Unmarshal(overlay, &over); err != nil {
			return nil, err
		}
		merge(&pf.System, over.System)
		merge(&pf.Decompose, over.Decompose)
		merge(&pf.Summarize, over.Summarize)
		merge(&pf.Quiz, over.Quiz)
	}

	p := &Prompts{System: strings.TrimSpace(pf.System)}
	var err error
	if p.decompose, err = template.New("decompose").Option("missingkey=error").Parse(pf.Decompose); err != nil {
		return nil, err
	}
	if p.summarize, err = template.New("summarize").Option("missingkey=error").Parse(pf.Summarize); err != nil {
		return nil, err
	}
	if p.quiz, err = template.New("quiz").Option("missingkey=error").Parse(pf.Quiz); err != nil {
		return nil, err
	}
	return p, nil
}

func merge(dst *string, v string) {
	if strings.TrimSpace(v) != "" {
		*dst = v
	}
}

func render(t *template.Template, data any) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", t.Name(), err)
	}
	return b.String(), nil
}
