package mdadapter

import (
	"bytes"

	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
)

var (
	startSeq   = []byte{'[', '['}
	endSeq     = []byte{']', ']'}
	titleSeq   = []byte{'|'}
	zipSeq     = []byte(":zip")
	allExports = []byte("EXPORTS")
)

/*
 * [[vlogs]]              - JSON export of a category
 * [[vlogs|Video clips]]  - with a title
 * [[vlogs:zip]]          - media bundle
 * [[EXPORTS]]            - every export
 */
type ExportDirectiveParser struct{}

func NewExportDirectiveParser() parser.InlineParser {
	return &ExportDirectiveParser{}
}

func (s *ExportDirectiveParser) Trigger() []byte {
	return startSeq
}

func (s *ExportDirectiveParser) Parse(parent ast.Node, block text.Reader, pc parser.Context) ast.Node {
	b, _ := block.PeekLine()
	if !bytes.HasPrefix(b, startSeq) {
		return nil
	}

	end := bytes.Index(b, endSeq)
	if end < len(startSeq) {
		return nil
	}

	line := bytes.TrimSpace(b[len(startSeq):end])
	if len(line) == 0 {
		return nil
	}

	block.Advance(end + len(endSeq))

	if bytes.Equal(line, allExports) {
		return &ExportDirective{AllExports: true}
	}

	directive := &ExportDirective{}
	if idx := bytes.Index(line, titleSeq); idx > 0 {
		directive.Title = string(bytes.TrimSpace(line[idx+1:]))
		line = bytes.TrimSpace(line[:idx])
	}

	if bytes.HasSuffix(line, zipSeq) {
		directive.Zip = true
		line = bytes.TrimSuffix(line, zipSeq)
	}

	directive.Category = string(line)

	return directive
}
