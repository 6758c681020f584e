package page

import (
	"bytes"
	"context"
	"crypto/sha1"
	"embed"
	"encoding/hex"
	"fmt"
	"html/template"
	"log/slog"
	"time"

	"github.com/jgivc/emogoexport/internal/adapter/mdadapter"
	"github.com/jgivc/emogoexport/internal/entity"
	"github.com/patrickmn/go-cache"
)

const (
	serviceName = "page"

	indexPageKey = "index"
)

var (
	//go:embed templates/index.md templates/layout.html
	templatesFS embed.FS
)

type RecordCounter interface {
	Count(ctx context.Context, category entity.Category) (int64, error)
}

type PageRenderer interface {
	Render(src []byte, links []*mdadapter.ExportLink) (*mdadapter.Page, error)
}

// Page is a ready to serve HTML document.
type Page struct {
	Content string
	ETag    string
}

type pageService struct {
	counter  RecordCounter
	renderer PageRenderer
	layout   *template.Template
	source   []byte
	cache    *cache.Cache
	log      *slog.Logger
}

func NewPageService(counter RecordCounter, renderer PageRenderer, ttl time.Duration, log *slog.Logger) (*pageService, error) {
	source, err := templatesFS.ReadFile("templates/index.md")
	if err != nil {
		return nil, fmt.Errorf("cannot read index page: %w", err)
	}

	layout, err := template.ParseFS(templatesFS, "templates/layout.html")
	if err != nil {
		return nil, fmt.Errorf("cannot parse page layout: %w", err)
	}

	return &pageService{
		counter:  counter,
		renderer: renderer,
		layout:   layout,
		source:   source,
		cache:    cache.New(ttl, 2*ttl),
		log:      log.With(slog.String("service", serviceName)),
	}, nil
}

// GetIndexPage renders the export index with the current record counts. The
// result is cached for the configured ttl.
func (p *pageService) GetIndexPage(ctx context.Context) (*Page, error) {
	if cached, found := p.cache.Get(indexPageKey); found {
		return cached.(*Page), nil
	}

	links := make([]*mdadapter.ExportLink, 0, len(entity.Categories())+1)
	for _, category := range entity.Categories() {
		n, err := p.counter.Count(ctx, category)
		if err != nil {
			p.log.Error("Cannot count records", slog.String("category", category.String()), slog.Any("error", err))

			return nil, fmt.Errorf("cannot count %s records: %w", category, err)
		}

		links = append(links, &mdadapter.ExportLink{
			Category: category.String(),
			Title:    category.String(),
			URL:      "/export/" + category.String(),
			Records:  n,
		})

		if category == entity.CategoryVlogs {
			links = append(links, &mdadapter.ExportLink{
				Category: category.String(),
				Title:    category.String() + " media",
				URL:      "/export/" + category.String() + "/zip",
				Records:  n,
				Zip:      true,
			})
		}
	}

	rendered, err := p.renderer.Render(p.source, links)
	if err != nil {
		p.log.Error("Cannot render index page", slog.Any("error", err))

		return nil, fmt.Errorf("cannot render index page: %w", err)
	}

	var buf bytes.Buffer
	if err := p.layout.Execute(&buf, rendered); err != nil {
		return nil, fmt.Errorf("cannot build index page: %w", err)
	}

	content := buf.String()
	page := &Page{
		Content: content,
		ETag:    etag(content),
	}

	p.cache.SetDefault(indexPageKey, page)

	return page, nil
}

func etag(content string) string {
	sum := sha1.Sum([]byte(content))

	return hex.EncodeToString(sum[:])
}
