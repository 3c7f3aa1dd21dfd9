package lark

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var markdown = goldmark.New()

// FlattenMarkdown renders markdown as plain text for chat surfaces that do
// not support it: headings and paragraphs become lines, list items keep a
// "- " marker, code blocks keep their lines verbatim, emphasis and links
// collapse to their text.
func FlattenMarkdown(input string) string {
	source := []byte(input)
	doc := markdown.Parser().Parse(text.NewReader(source))

	var lines []string
	var current strings.Builder
	flush := func() {
		if trimmed := strings.TrimSpace(current.String()); trimmed != "" {
			lines = append(lines, trimmed)
		}
		current.Reset()
	}

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				current.Write(node.Segment.Value(source))
				if node.SoftLineBreak() || node.HardLineBreak() {
					current.WriteString("\n")
				}
			}
		case *ast.AutoLink:
			if entering {
				current.Write(node.URL(source))
			}
			return ast.WalkSkipChildren, nil
		case *ast.ListItem:
			if entering {
				current.WriteString("- ")
			}
		case *ast.Paragraph, *ast.Heading, *ast.TextBlock:
			if !entering {
				flush()
			}
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if entering {
				flush()
				segments := n.Lines()
				for i := 0; i < segments.Len(); i++ {
					segment := segments.At(i)
					lines = append(lines, strings.TrimRight(string(segment.Value(source)), "\n"))
				}
			}
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	flush()
	return strings.Join(lines, "\n")
}
