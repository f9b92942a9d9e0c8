// Package document loads résumé files as plain text.
package document

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

var (
	ErrNotFound = errors.New("document not found")
	ErrCorrupt  = errors.New("document is corrupt or unreadable")
)

// Metadata is what the file says about itself. Plain text files only carry a
// page count of one.
type Metadata struct {
	Author    string
	Subject   string
	Title     string
	PageCount int
}

type Document struct {
	path string
	text string
	meta Metadata
}

func (d *Document) Path() string       { return d.path }
func (d *Document) Text() string       { return d.text }
func (d *Document) Metadata() Metadata { return d.meta }

// Load reads a PDF or a UTF-8 text file. The file type is taken from the
// extension.
func Load(path string) (*Document, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrCorrupt, path)
	}

	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		return loadPDF(path)
	}
	return loadText(path)
}

func loadText(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: %s is not valid UTF-8", ErrCorrupt, path)
	}

	text := strings.ReplaceAll(string(data), "\r\n", "\n")
	text = strings.TrimPrefix(text, "\ufeff")

	return &Document{
		path: path,
		text: text,
		meta: Metadata{Title: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)), PageCount: 1},
	}, nil
}

// loadPDF extracts text row by row so that headings stay on their own lines.
// The PDF parser panics on some malformed files; that is reported as ErrCorrupt.
func loadPDF(path string) (doc *Document, err error) {
	defer func() {
		if r := recover(); r != nil {
			doc = nil
			err = fmt.Errorf("%w: %s: %v", ErrCorrupt, path, r)
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	defer f.Close()

	pages := make([]string, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}

		rows, err := page.GetTextByRow()
		if err != nil {
			return nil, fmt.Errorf("%w: %s page %d: %v", ErrCorrupt, path, i, err)
		}

		lines := make([]string, 0, len(rows))
		for _, row := range rows {
			lines = append(lines, joinRow(row.Content))
		}
		pages = append(pages, strings.Join(lines, "\n"))
	}

	info := r.Trailer().Key("Info")
	return &Document{
		path: path,
		text: strings.Join(pages, "\n"),
		meta: Metadata{
			Author:    strings.TrimSpace(info.Key("Author").Text()),
			Subject:   strings.TrimSpace(info.Key("Subject").Text()),
			Title:     strings.TrimSpace(info.Key("Title").Text()),
			PageCount: r.NumPage(),
		},
	}, nil
}

// joinRow glues text runs of one row, adding a space where there is a
// visible gap between them.
func joinRow(runs []pdf.Text) string {
	var b strings.Builder
	for i, run := range runs {
		if i > 0 {
			prev := runs[i-1]
			gap := run.X - (prev.X + prev.W)
			if gap > prev.FontSize*0.15 && !strings.HasSuffix(prev.S, " ") && !strings.HasPrefix(run.S, " ") {
				b.WriteByte(' ')
			}
		}
		b.WriteString(run.S)
	}
	return strings.TrimRight(b.String(), " ")
}
