package resilience

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"strings"
	"text/template"

	"github.com/Codehive-Inc/BIMigrator-Cognos-sub002/internal/graph"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Artifact is the final, post-wrapping target expression for one calculation.
type Artifact struct {
	TargetExpression string  `json:"targetExpression"`
	TemplateUsed     string  `json:"templateUsed,omitempty"`
	Confidence       float64 `json:"confidence"`
	Validation       Result  `json:"validation"`
	Wrapped          bool    `json:"wrapped"`
}

type templateData struct {
	Acquisition string
	Columns     string
}

// Wrapper rewrites non-compliant acquisition queries using per-source templates.
type Wrapper struct {
	templates map[graph.SourceKind]*template.Template
}

func templateFile(kind graph.SourceKind) string {
	switch kind {
	case graph.SourceKindRelational:
		return "relational.tmpl"
	case graph.SourceKindFlatFile:
		return "flatfile.tmpl"
	case graph.SourceKindWebAPI:
		return "webapi.tmpl"
	default:
		return ""
	}
}

// NewWrapper loads the built-in templates.
func NewWrapper() (*Wrapper, error) {
	return NewWrapperFS(nil)
}

// NewWrapperFS loads templates from override, falling back to the built-in
// template for every source kind override does not provide.
func NewWrapperFS(override fs.FS) (*Wrapper, error) {
	w := &Wrapper{templates: make(map[graph.SourceKind]*template.Template)}
	for _, kind := range []graph.SourceKind{graph.SourceKindRelational, graph.SourceKindFlatFile, graph.SourceKindWebAPI} {
		name := templateFile(kind)
		var src fs.FS = templateFS
		path := "templates/" + name
		if override != nil {
			if _, err := fs.Stat(override, name); err == nil {
				src, path = override, name
			}
		}
		tmpl, err := template.ParseFS(src, path)
		if err != nil {
			return nil, fmt.Errorf("parse resilience template %s: %w", name, err)
		}
		w.templates[kind] = tmpl
	}
	return w, nil
}

func (w *Wrapper) template(nodeID string, kind graph.SourceKind) (*template.Template, error) {
	tmpl, ok := w.templates[kind]
	if !ok {
		return nil, &graph.ValidationTemplateMissingError{NodeID: nodeID, Kind: kind}
	}
	return tmpl, nil
}

func render(tmpl *template.Template, data templateData) (string, error) {
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}

// Skeleton renders the template for kind with a placeholder acquisition, for
// translators that are asked to produce resilient output themselves.
func (w *Wrapper) Skeleton(kind graph.SourceKind, schema []string) (string, error) {
	tmpl, err := w.template("", kind)
	if err != nil {
		return "", err
	}
	return render(tmpl, templateData{Acquisition: "<acquisition>", Columns: RenderColumns(schema)})
}

// Wrap returns expr unchanged when it is already compliant or performs no
// acquisition. Otherwise the acquisition (the bare call, or the whole
// expression in parentheses) is placed into the template for kind.
func (w *Wrapper) Wrap(nodeID, expr string, schema []string, kind graph.SourceKind) (*Artifact, error) {
	v := Validate(expr, schema)
	if v.IsCompliant {
		return &Artifact{TargetExpression: expr, Validation: v}, nil
	}

	tmpl, err := w.template(nodeID, kind)
	if err != nil {
		return nil, err
	}

	acquisition := strings.TrimSpace(expr)
	if !isBareCall(acquisition) {
		// the newline ends a trailing line comment before the closing paren
		acquisition = "(" + acquisition + "\n)"
	}
	rendered, err := render(tmpl, templateData{Acquisition: acquisition, Columns: RenderColumns(schema)})
	if err != nil {
		return nil, fmt.Errorf("render resilience template for %s: %w", nodeID, err)
	}
	if rendered == expr {
		return &Artifact{TargetExpression: expr, Validation: v}, nil
	}

	after := Validate(rendered, schema)
	if !after.HasSchemaPreservingFallback {
		actual, _ := fallbackColumns(rendered)
		return nil, &graph.SchemaMismatchError{NodeID: nodeID, Declared: schema, Actual: actual}
	}
	if !after.IsCompliant {
		return nil, fmt.Errorf("wrapped query for %s is still not resilient: %+v", nodeID, after)
	}

	return &Artifact{
		TargetExpression: rendered,
		TemplateUsed:     strings.TrimSuffix(tmpl.Name(), ".tmpl"),
		Validation:       after,
		Wrapped:          true,
	}, nil
}
