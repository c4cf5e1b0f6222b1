// ABOUTME: Converts model Markdown output into Slack mrkdwn
// ABOUTME: Walks goldmark's AST so bold, headings, lists, links, and code map to Slack syntax

package mrkdwn

import (
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

var md = goldmark.New(goldmark.WithExtensions(extension.Strikethrough, extension.Linkify))

var escaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

const listIndent = "    "

// Render converts Markdown to mrkdwn. Text that is not Markdown passes
// through with Slack's control characters escaped.
func Render(markdown string) string {
	src := []byte(markdown)
	doc := md.Parser().Parse(text.NewReader(src))

	r := &renderer{src: src}
	var blocks []string
	for c := doc.FirstChild(); c != nil; c = c.NextSibling() {
		if s := r.block(c, 0); s != "" {
			blocks = append(blocks, s)
		}
	}
	return strings.Join(blocks, "\n\n")
}

type renderer struct {
	src []byte
}

func (r *renderer) block(n ast.Node, depth int) string {
	switch n := n.(type) {
	case *ast.Heading:
		if s := strings.TrimSpace(r.inlines(n)); s != "" {
			return "*" + s + "*"
		}
		return ""
	case *ast.Paragraph, *ast.TextBlock:
		return strings.TrimRight(r.inlines(n), "\n")
	case *ast.List:
		return r.list(n, depth)
	case *ast.FencedCodeBlock:
		return "```\n" + r.lines(n) + "```"
	case *ast.CodeBlock:
		return "```\n" + r.lines(n) + "```"
	case *ast.Blockquote:
		var parts []string
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			parts = append(parts, r.block(c, depth))
		}
		lines := strings.Split(strings.Join(parts, "\n"), "\n")
		for i, l := range lines {
			lines[i] = "> " + l
		}
		return strings.Join(lines, "\n")
	case *ast.ThematicBreak:
		return "---"
	case *ast.HTMLBlock:
		return strings.TrimRight(r.lines(n), "\n")
	default:
		return r.inlines(n)
	}
}

func (r *renderer) list(n *ast.List, depth int) string {
	indent := strings.Repeat(listIndent, depth)
	num := n.Start
	if num == 0 {
		num = 1
	}

	var out []string
	for item := n.FirstChild(); item != nil; item = item.NextSibling() {
		marker := "•"
		if n.IsOrdered() {
			marker = strconv.Itoa(num) + "."
			num++
		}

		line := indent + marker + " "
		for c := item.FirstChild(); c != nil; c = c.NextSibling() {
			sub, isList := c.(*ast.List)
			switch {
			case isList:
				line += "\n" + r.list(sub, depth+1)
			case c == item.FirstChild():
				line += r.block(c, depth)
			default:
				line += "\n" + indent + listIndent + r.block(c, depth)
			}
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func (r *renderer) lines(n ast.Node) string {
	var b strings.Builder
	segs := n.Lines()
	for i := 0; i < segs.Len(); i++ {
		seg := segs.At(i)
		b.Write(seg.Value(r.src))
	}
	return b.String()
}

func (r *renderer) inlines(n ast.Node) string {
	var b strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		r.inline(&b, c)
	}
	return b.String()
}

func (r *renderer) inline(b *strings.Builder, n ast.Node) {
	switch n := n.(type) {
	case *ast.Text:
		b.WriteString(escaper.Replace(string(n.Segment.Value(r.src))))
		if n.HardLineBreak() || n.SoftLineBreak() {
			b.WriteByte('\n')
		}
	case *ast.String:
		b.WriteString(escaper.Replace(string(n.Value)))
	case *ast.CodeSpan:
		b.WriteString("`" + r.inlines(n) + "`")
	case *ast.Emphasis:
		mark := "_"
		if n.Level >= 2 {
			mark = "*"
		}
		b.WriteString(mark + r.inlines(n) + mark)
	case *east.Strikethrough:
		b.WriteString("~" + r.inlines(n) + "~")
	case *ast.Link:
		b.WriteString(link(string(n.Destination), r.inlines(n)))
	case *ast.Image:
		b.WriteString(link(string(n.Destination), r.inlines(n)))
	case *ast.AutoLink:
		b.WriteString(link(string(n.URL(r.src)), ""))
	case *ast.RawHTML:
		for i := 0; i < n.Segments.Len(); i++ {
			seg := n.Segments.At(i)
			b.WriteString(escaper.Replace(string(seg.Value(r.src))))
		}
	default:
		b.WriteString(r.inlines(n))
	}
}

func link(dest, label string) string {
	if label == "" || label == dest {
		return "<" + dest + ">"
	}
	return "<" + dest + "|" + label + ">"
}
