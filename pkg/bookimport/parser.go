// Package bookimport splits plain text, PDF and EPUB books into chapters.
package bookimport

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

// Chapter is one parsed chapter; Order starts at 1.
type Chapter struct {
	Order   int
	Name    string
	Content string
}

var ErrNoChapters = errors.New("no chapter text found")

// minSectionRunes skips EPUB cover, nav and copyright pages.
const minSectionRunes = 200

var headingRe = regexp.MustCompile(`(?i)^\s*(chapter|ch\.)\s+([0-9]+|[ivxlcdm]+|` + numberWords + `)\b[\s:.\-]*(.*)$`)

const numberWords = `(?:one|two|three|four|five|six|seven|eight|nine|ten|eleven|twelve|thirteen|fourteen|fifteen|sixteen|seventeen|eighteen|nineteen|twenty|thirty|forty|fifty)(?:-[a-z]+)?`

// ParseFile picks a parser from the file extension.
func ParseFile(path string) ([]Chapter, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return parsePDF(path)
	case ".epub":
		return parseEPUB(path)
	default:
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read file: %w", err)
		}
		return SplitText(string(data))
	}
}

// SplitText cuts text at "Chapter N" style heading lines. Text before the
// first heading is dropped when headings exist; a book without headings
// becomes a single chapter.
func SplitText(text string) ([]Chapter, error) {
	text = normalizeText(text)
	if text == "" {
		return nil, ErrNoChapters
	}
	var (
		chapters []Chapter
		current  *Chapter
		body     strings.Builder
	)
	flush := func() {
		if current == nil {
			return
		}
		current.Content = strings.TrimSpace(body.String())
		if current.Content != "" {
			current.Order = len(chapters) + 1
			chapters = append(chapters, *current)
		}
		body.Reset()
	}
	for _, line := range strings.Split(text, "\n") {
		if m := headingRe.FindStringSubmatch(line); m != nil && len(line) < 120 {
			flush()
			name := strings.TrimSpace(m[3])
			if name == "" {
				name = strings.TrimSpace(line)
			}
			current = &Chapter{Name: name}
			continue
		}
		if current != nil {
			body.WriteString(line)
			body.WriteByte('\n')
		}
	}
	flush()
	if len(chapters) == 0 {
		return []Chapter{{Order: 1, Name: "Full text", Content: text}}, nil
	}
	return chapters, nil
}

func parsePDF(path string) ([]Chapter, error) {
	file, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer file.Close()
	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		b.WriteString(text)
		b.WriteByte('\n')
	}
	return SplitText(b.String())
}

// parseEPUB treats every sufficiently long XHTML document as a chapter, in
// archive path order.
func parseEPUB(path string) ([]Chapter, error) {
	reader, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open epub: %w", err)
	}
	defer reader.Close()

	files := make([]*zip.File, 0, len(reader.File))
	for _, f := range reader.File {
		name := strings.ToLower(f.Name)
		if strings.HasSuffix(name, ".xhtml") || strings.HasSuffix(name, ".html") || strings.HasSuffix(name, ".htm") {
			files = append(files, f)
		}
	}
	sort.SliceStable(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	var chapters []Chapter
	for _, f := range files {
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("read epub file: %w", err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read epub content: %w", err)
		}
		doc, err := html.Parse(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("parse epub html: %w", err)
		}
		text := normalizeText(extractText(doc))
		if len([]rune(text)) < minSectionRunes {
			continue
		}
		name := heading(doc)
		if name == "" {
			name = strings.TrimSuffix(filepath.Base(f.Name), filepath.Ext(f.Name))
		}
		chapters = append(chapters, Chapter{Order: len(chapters) + 1, Name: name, Content: text})
	}
	if len(chapters) == 0 {
		return nil, ErrNoChapters
	}
	return chapters, nil
}

// normalizeText strips control and invisible characters and collapses runs
// of spaces, keeping line breaks.
func normalizeText(text string) string {
	text = strings.ToValidUTF8(text, "")
	text = strings.NewReplacer("\r\n", "\n", "\r", "\n", "\x00", " ", "\uFEFF", "", "\u200B", "", "\u00AD", "", "\u00A0", " ").Replace(text)
	lines := strings.Split(text, "\n")
	out := lines[:0]
	blank := false
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

func extractText(n *html.Node) string {
	var buf strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		switch node.Type {
		case html.TextNode:
			buf.WriteString(node.Data)
		case html.ElementNode:
			if node.Data == "script" || node.Data == "style" || node.Data == "head" {
				return
			}
		}
		for child := node.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
		if node.Type == html.ElementNode {
			switch node.Data {
			case "p", "br", "div", "li", "h1", "h2", "h3":
				buf.WriteString("\n")
			}
		}
	}
	walk(n)
	return buf.String()
}

// heading returns the text of the first h1 or h2.
func heading(n *html.Node) string {
	if n.Type == html.ElementNode && (n.Data == "h1" || n.Data == "h2") {
		return strings.Join(strings.Fields(extractText(n)), " ")
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if h := heading(c); h != "" {
			return h
		}
	}
	return ""
}
