package mdadapter

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"
)

const (
	tmplNameExport  = "EXPORT"
	tmplNameExports = "EXPORTS"
)

// ExportLink is everything the page shows about one export.
type ExportLink struct {
	Category string
	Title    string
	URL      string
	Records  int64
	Zip      bool
}

type ExportResolver interface {
	GetExport(category string, zip bool) (*ExportLink, bool)
	GetExports() []*ExportLink
}

type ExportDirectiveRenderer struct {
	r    ExportResolver
	tmpl *template.Template
}

func NewExportDirectiveRenderer(r ExportResolver, tmpl *template.Template) renderer.NodeRenderer {
	return &ExportDirectiveRenderer{r: r, tmpl: tmpl}
}

func (r *ExportDirectiveRenderer) RegisterFuncs(reg renderer.NodeRendererFuncRegisterer) {
	reg.Register(KindExportDirective, r.renderExportDirective)
}

func (r *ExportDirectiveRenderer) renderExportDirective(w util.BufWriter, source []byte, n ast.Node, entering bool) (ast.WalkStatus, error) {
	if !entering {
		return ast.WalkContinue, nil
	}

	directive, ok := n.(*ExportDirective)
	if !ok {
		return ast.WalkStop, fmt.Errorf("unexpected node %T, expected *ExportDirective", n)
	}

	if directive.AllExports {
		data, err := r.renderTemplate(tmplNameExports, r.r.GetExports())
		if err != nil {
			return ast.WalkStop, err
		}

		_, _ = w.Write(data)

		return ast.WalkContinue, nil
	}

	link, exists := r.r.GetExport(directive.Category, directive.Zip)
	if !exists {
		return ast.WalkStop, fmt.Errorf("unknown export %q", directive.Category)
	}

	if directive.Title != "" {
		l := *link
		l.Title = directive.Title
		link = &l
	}

	data, err := r.renderTemplate(tmplNameExport, link)
	if err != nil {
		return ast.WalkStop, err
	}

	_, _ = w.Write(data)

	return ast.WalkContinue, nil
}

func (r *ExportDirectiveRenderer) renderTemplate(name string, data any) ([]byte, error) {
	tmpl := r.tmpl.Lookup(name)
	if tmpl == nil {
		return nil, fmt.Errorf("template with name %s must be defined", name)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("cannot execute template %s: %w", name, err)
	}

	return buf.Bytes(), nil
}
