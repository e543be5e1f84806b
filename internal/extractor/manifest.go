package extractor

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/Codehive-Inc/BIMigrator-Cognos-sub002/internal/graph"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

const manifestSchemaURL = "manifest.schema.json"

//go:embed schemas/manifest.schema.json
var manifestSchemaJSON []byte

var (
	manifestSchemaOnce sync.Once
	manifestSchema     *jsonschema.Schema
	manifestSchemaErr  error
)

func compiledManifestSchema() (*jsonschema.Schema, error) {
	manifestSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(manifestSchemaURL, bytes.NewReader(manifestSchemaJSON)); err != nil {
			manifestSchemaErr = err
			return
		}
		manifestSchema, manifestSchemaErr = compiler.Compile(manifestSchemaURL)
	})
	return manifestSchema, manifestSchemaErr
}

// LoadManifest reads and validates a calculation manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}
	return ParseManifest(data)
}

// ParseManifest validates raw JSON against the manifest schema and decodes it.
func ParseManifest(data []byte) (*Manifest, error) {
	schema, err := compiledManifestSchema()
	if err != nil {
		return nil, fmt.Errorf("failed to compile manifest schema: %w", err)
	}

	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("manifest is not valid JSON: %w", err)
	}
	if err := schema.Validate(raw); err != nil {
		return nil, fmt.Errorf("manifest failed schema validation: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	return &m, nil
}

// ToNode converts a manifest entry into a fresh pending graph node.
func (s CalculationSpec) ToNode() *graph.Node {
	caption := strings.TrimSpace(s.Caption)
	if caption == "" {
		caption = s.ID
	}
	n := graph.NewNode(s.ID, caption, s.Table, s.Expression)
	n.DataType = strings.ToLower(strings.TrimSpace(s.DataType))
	n.Usage = graph.Usage(s.Usage)
	n.SourceKind, _ = graph.ParseSourceKind(s.SourceKind)
	if len(s.OutputSchema) > 0 {
		n.OutputSchema = append([]string(nil), s.OutputSchema...)
	}
	if s.Materialized != nil {
		n.Materialized = *s.Materialized
	}
	return n
}

// BuildGraph creates the dependency graph for every calculation in the
// manifest and links references with ex.
func (m *Manifest) BuildGraph(ex *Extractor) (*graph.Graph, error) {
	g := graph.NewGraph()
	for _, cs := range m.Calculations {
		if err := g.AddNode(cs.ToNode()); err != nil {
			return nil, err
		}
	}
	g.LinkReferences(ex)
	return g, nil
}
