package mdadapter

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/renderer/html"
	"go.abhg.dev/goldmark/frontmatter"
)

//go:embed templates/exports.html
var templatesFS embed.FS

type Frontmatter struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
}

// Page is a rendered markdown document.
type Page struct {
	Frontmatter
	ContentHTML template.HTML
}

type pageRenderer struct {
	tmpl *template.Template
}

func NewPageRenderer() (*pageRenderer, error) {
	tmpl, err := template.ParseFS(templatesFS, "templates/exports.html")
	if err != nil {
		return nil, fmt.Errorf("cannot parse export templates: %w", err)
	}

	return &pageRenderer{tmpl: tmpl}, nil
}

// Render converts src to HTML. Export directives are resolved against links.
func (r *pageRenderer) Render(src []byte, links []*ExportLink) (*Page, error) {
	md := goldmark.New(
		goldmark.WithExtensions(
			&frontmatter.Extender{},
			NewExportsExtension(newLinkResolver(links), r.tmpl),
		),
		goldmark.WithRendererOptions(
			html.WithHardWraps(),
			html.WithXHTML(),
		),
	)

	pc := parser.NewContext()

	var buf bytes.Buffer
	if err := md.Convert(src, &buf, parser.WithContext(pc)); err != nil {
		return nil, fmt.Errorf("cannot convert markdown: %w", err)
	}

	page := &Page{
		ContentHTML: template.HTML(buf.String()),
	}

	if fm := frontmatter.Get(pc); fm != nil {
		if err := fm.Decode(&page.Frontmatter); err != nil {
			return nil, fmt.Errorf("cannot decode frontmatter: %w", err)
		}
	}

	return page, nil
}

type linkResolver struct {
	links []*ExportLink
}

func newLinkResolver(links []*ExportLink) *linkResolver {
	return &linkResolver{links: links}
}

func (r *linkResolver) GetExport(category string, zip bool) (*ExportLink, bool) {
	for _, link := range r.links {
		if link.Category == category && link.Zip == zip {
			return link, true
		}
	}

	return nil, false
}

func (r *linkResolver) GetExports() []*ExportLink {
	return r.links
}
