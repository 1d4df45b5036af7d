package prompt

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/anyhui/aleeai-prompt/internal/domain"
	"github.com/anyhui/aleeai-prompt/internal/domain/models"
)

// PlaceholderPrompt is the placeholder bound to the stage input.
const PlaceholderPrompt = "prompt"

const schemaURL = "https://github.com/anyhui/aleeai-prompt/templates.schema.json"

//go:embed templates/default.json templates/templates.schema.json
var templateFS embed.FS

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

// Template is the system and user message pair for one stage.
type Template struct {
	System string `json:"system"`
	User   string `json:"user"`
}

// Render substitutes values into both messages.
func (t Template) Render(values map[string]string) (system, user string) {
	return Substitute(t.System, values), Substitute(t.User, values)
}

// Templates is the stage templates document.
type Templates struct {
	Analysis      Template `json:"analysis"`
	Suggestions   Template `json:"suggestions"`
	Decomposition Template `json:"decomposition"`
}

// For returns the template of a stage.
func (t *Templates) For(stage models.StageName) (Template, error) {
	switch stage {
	case models.StageAnalysis:
		return t.Analysis, nil
	case models.StageSuggestions:
		return t.Suggestions, nil
	case models.StageDecomposition:
		return t.Decomposition, nil
	}
	return Template{}, domain.NewDomainError(domain.ErrInvalidInput, fmt.Sprintf("unknown stage %q", stage))
}

// DefaultTemplates returns the embedded templates.
func DefaultTemplates() (*Templates, error) {
	raw, err := templateFS.ReadFile("templates/default.json")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded templates: %w", err)
	}
	return ParseTemplates(raw)
}

// LoadTemplates reads a templates document from path. An empty path selects
// the embedded defaults.
func LoadTemplates(path string) (*Templates, error) {
	if path == "" {
		return DefaultTemplates()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, domain.ConfigurationError(fmt.Sprintf("failed to read templates file %s: %v", path, err))
	}
	return ParseTemplates(raw)
}

// ParseTemplates validates raw against the templates schema and decodes it.
func ParseTemplates(raw []byte) (*Templates, error) {
	s, err := templatesSchema()
	if err != nil {
		return nil, err
	}

	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, domain.ConfigurationError(fmt.Sprintf("templates document is not valid JSON: %v", err))
	}
	if err := s.Validate(payload); err != nil {
		return nil, domain.ConfigurationError(fmt.Sprintf("templates document is invalid: %v", err))
	}

	var t Templates
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, domain.ConfigurationError(fmt.Sprintf("failed to decode templates: %v", err))
	}
	return &t, nil
}

func templatesSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		raw, err := templateFS.ReadFile("templates/templates.schema.json")
		if err != nil {
			schemaErr = fmt.Errorf("failed to read templates schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, bytes.NewReader(raw)); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, schemaErr = compiler.Compile(schemaURL)
		if schemaErr != nil {
			schemaErr = fmt.Errorf("compile schema: %w", schemaErr)
		}
	})
	return schema, schemaErr
}

// Substitute replaces every {{name}} in text with values[name] in a single
// left-to-right pass. Names are case-sensitive and replacement text is never
// scanned again, so a value containing a placeholder is inserted verbatim.
func Substitute(text string, values map[string]string) string {
	if len(values) == 0 {
		return text
	}
	pairs := make([]string, 0, len(values)*2)
	for name, value := range values {
		pairs = append(pairs, "{{"+name+"}}", value)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}
