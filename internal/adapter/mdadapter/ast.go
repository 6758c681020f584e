package mdadapter

import (
	"github.com/yuin/goldmark/ast"
)

var KindExportDirective = ast.NewNodeKind("ExportDirective")

// ExportDirective is a [[category]] link to an export.
type ExportDirective struct {
	ast.BaseInline
	Category   string
	Title      string
	Zip        bool
	AllExports bool
}

func (n *ExportDirective) Kind() ast.NodeKind {
	return KindExportDirective
}

func (n *ExportDirective) Dump(source []byte, level int) {
	ast.DumpHelper(n, source, level, map[string]string{
		"Category": n.Category,
		"Title":    n.Title,
	}, nil)
}
