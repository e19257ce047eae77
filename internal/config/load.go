package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

//go:embed schema.cue
var schemaSource string

var (
	schemaOnce  sync.Once
	schemaCtx   *cue.Context
	schemaValue cue.Value
	schemaErr   error
)

// runtimeSchema compiles the embedded schema once and returns #Runtime.
func runtimeSchema() (*cue.Context, cue.Value, error) {
	schemaOnce.Do(func() {
		schemaCtx = cuecontext.New()
		v := schemaCtx.CompileString(schemaSource, cue.Filename("schema.cue"))
		if err := v.Err(); err != nil {
			schemaErr = fmt.Errorf("compile runtime schema: %w", err)
			return
		}
		schemaValue = v.LookupPath(cue.ParsePath("#Runtime"))
	})
	return schemaCtx, schemaValue, schemaErr
}

// ValidationError reports an option file that does not satisfy the schema.
type ValidationError struct {
	Path    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// ValidateRuntime checks a decoded option document against #Runtime.
func ValidateRuntime(doc map[string]any) error {
	ctx, schema, err := runtimeSchema()
	if err != nil {
		return err
	}
	v := ctx.Encode(doc)
	if err := v.Err(); err != nil {
		return &ValidationError{Message: err.Error()}
	}
	if err := schema.Unify(v).Validate(cue.Concrete(true)); err != nil {
		errs := cueerrors.Errors(err)
		if len(errs) == 0 {
			return &ValidationError{Message: err.Error()}
		}
		first := errs[0]
		return &ValidationError{
			Path:    strings.Join(first.Path(), "."),
			Message: first.Error(),
		}
	}
	return nil
}

// ParseRuntime decodes and validates option bytes. format is one of
// "yaml", "json" or "jsonc".
func ParseRuntime(data []byte, format string) (*RuntimeInput, error) {
	switch format {
	case "jsonc":
		data = jsonc.ToJSON(data)
	case "json", "yaml":
	default:
		return nil, fmt.Errorf("unsupported option format %q", format)
	}

	// JSON is a subset of YAML, so one decoder serves all three formats.
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse runtime options: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	if err := ValidateRuntime(doc); err != nil {
		return nil, fmt.Errorf("validate runtime options: %w", err)
	}

	var in RuntimeInput
	if err := yaml.Unmarshal(data, &in); err != nil {
		return nil, fmt.Errorf("decode runtime options: %w", err)
	}
	return &in, nil
}

// LoadRuntimeFile reads an option file, choosing the format by extension.
func LoadRuntimeFile(path string) (*RuntimeInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read runtime options: %w", err)
	}
	return ParseRuntime(data, FormatOf(path))
}

// FormatOf maps a file extension to a document format. Unknown extensions
// are read as YAML.
func FormatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "json"
	case ".jsonc":
		return "jsonc"
	default:
		return "yaml"
	}
}
