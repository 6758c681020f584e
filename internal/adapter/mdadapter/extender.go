package mdadapter

import (
	"html/template"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer"
	"github.com/yuin/goldmark/util"
)

type ExportsExtension struct {
	r    ExportResolver
	tmpl *template.Template
}

func NewExportsExtension(r ExportResolver, tmpl *template.Template) goldmark.Extender {
	return &ExportsExtension{r: r, tmpl: tmpl}
}

func (e *ExportsExtension) Extend(m goldmark.Markdown) {
	m.Parser().AddOptions(
		parser.WithInlineParsers(
			util.Prioritized(NewExportDirectiveParser(), 199),
		),
	)
	m.Renderer().AddOptions(
		renderer.WithNodeRenderers(
			util.Prioritized(NewExportDirectiveRenderer(e.r, e.tmpl), 199),
		),
	)
}
