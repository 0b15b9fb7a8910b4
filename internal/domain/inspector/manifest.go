package inspector

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/goccy/go-yaml"
	"github.com/pelletier/go-toml/v2"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/GriffinCanCode/addonhost/backend/internal/shared/types"
)

//go:embed schema/manifest.schema.json
var schemaBytes []byte

var (
	compiledSchema *jsonschema.Schema
	compileOnce    sync.Once
	compileErr     error
	printer        = message.NewPrinter(language.English)
)

// ManifestNames are the accepted manifest file names, in lookup order
var ManifestNames = []string{
	"manifest.json",
	"manifest.yaml",
	"manifest.yml",
	"manifest.toml",
}

func isManifestName(name string) bool {
	for _, n := range ManifestNames {
		if name == n {
			return true
		}
	}
	return false
}

func getSchema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaBytes))
		if err != nil {
			compileErr = fmt.Errorf("unmarshaling schema JSON: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("manifest.schema.json", doc); err != nil {
			compileErr = fmt.Errorf("adding schema resource: %w", err)
			return
		}
		compiledSchema, compileErr = c.Compile("manifest.schema.json")
		if compileErr != nil {
			compileErr = fmt.Errorf("compiling schema: %w", compileErr)
		}
	})
	return compiledSchema, compileErr
}

// decodeManifest parses a manifest file of any supported format, validates
// it against the embedded schema and returns the typed manifest
func decodeManifest(name string, data []byte) (*types.AddonManifest, error) {
	var raw interface{}
	var err error
	switch path.Ext(name) {
	case ".json":
		err = sonic.Unmarshal(data, &raw)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &raw)
	case ".toml":
		err = toml.Unmarshal(data, &raw)
	default:
		return nil, types.NewPackageError(types.Malformed, "unknown manifest format "+name, nil)
	}
	if err != nil {
		return nil, types.NewPackageError(types.InvalidManifest, "cannot parse "+name, err)
	}

	// Round-trip through JSON so every format validates and decodes identically
	canonical, err := sonic.Marshal(normalize(raw))
	if err != nil {
		return nil, types.NewPackageError(types.InvalidManifest, "cannot encode "+name, err)
	}

	if issues, err := validateSchema(canonical); err != nil {
		return nil, err
	} else if len(issues) > 0 {
		return nil, &types.PackageError{
			Kind:   types.InvalidManifest,
			Reason: "schema violation in " + name,
			Issues: issues,
		}
	}

	var manifest types.AddonManifest
	if err := sonic.Unmarshal(canonical, &manifest); err != nil {
		return nil, types.NewPackageError(types.InvalidManifest, "cannot decode "+name, err)
	}
	return &manifest, nil
}

func validateSchema(doc []byte) ([]string, error) {
	schema, err := getSchema()
	if err != nil {
		return nil, fmt.Errorf("loading manifest schema: %w", err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(doc))
	if err != nil {
		return nil, types.NewPackageError(types.InvalidManifest, "manifest is not a JSON document", err)
	}
	err = schema.Validate(inst)
	if err == nil {
		return nil, nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return nil, fmt.Errorf("unexpected validation error: %w", err)
	}
	var issues []string
	collectIssues(ve, &issues)
	if len(issues) == 0 {
		issues = append(issues, ve.Error())
	}
	return issues, nil
}

// collectIssues flattens the validation error tree into leaf messages
func collectIssues(ve *jsonschema.ValidationError, issues *[]string) {
	if len(ve.Causes) > 0 {
		for _, cause := range ve.Causes {
			collectIssues(cause, issues)
		}
		return
	}
	if ve.ErrorKind == nil {
		return
	}
	loc := "/" + strings.Join(ve.InstanceLocation, "/")
	*issues = append(*issues, loc+": "+ve.ErrorKind.LocalizedString(printer))
}

// normalize converts decoder-specific maps into JSON-compatible values
func normalize(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		m := make(map[string]interface{}, len(val))
		for k, v := range val {
			m[k] = normalize(v)
		}
		return m
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(val))
		for k, v := range val {
			m[fmt.Sprint(k)] = normalize(v)
		}
		return m
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, v := range val {
			out[i] = normalize(v)
		}
		return out
	case []map[string]interface{}:
		out := make([]interface{}, len(val))
		for i, v := range val {
			out[i] = normalize(v)
		}
		return out
	default:
		return v
	}
}
