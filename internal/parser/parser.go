package parser

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"
	"github.com/tealeg/xlsx"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"

	"rag-apps/internal/apperr"
	"rag-apps/internal/config"
	"rag-apps/internal/models"
)

// Supported file extensions.
const (
	ExtPDF  = ".pdf"
	ExtDOCX = ".docx"
	ExtXLSX = ".xlsx"
	ExtMD   = ".md"
	ExtTXT  = ".txt"
)

// Loader turns local files and uploads into documents.
type Loader struct {
	maxDocuments int
	maxFileBytes int64
}

func NewLoader(cfg config.LoaderConfig) *Loader {
	return &Loader{maxDocuments: cfg.MaxDocuments, maxFileBytes: cfg.MaxFileBytes}
}

// LoadFiles loads every path in order and caps the total at max_documents.
func (l *Loader) LoadFiles(paths ...string) ([]models.Document, error) {
	var docs []models.Document
	for _, p := range paths {
		d, err := l.LoadFile(p)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d...)
	}
	return l.limit(docs), nil
}

// LoadFile parses one file according to its extension. PDFs yield one
// document per page and spreadsheets one per sheet.
func (l *Loader) LoadFile(path string) ([]models.Document, error) {
	const op = "parser.LoadFile"
	f, err := os.Open(path)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInputInvalid, op, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInputInvalid, op, err)
	}
	if err := l.checkSize(op, path, stat.Size()); err != nil {
		return nil, err
	}
	// the full path keeps record ids apart for files sharing a base name
	source, err := filepath.Abs(path)
	if err != nil {
		source = filepath.Clean(path)
	}
	docs, err := parse(op, source, f, stat.Size(), false)
	if err != nil {
		return nil, err
	}
	for _, d := range docs {
		d.Metadata[models.MetaName] = filepath.Base(path)
	}
	log.Debug().Str("file", path).Int("documents", len(docs)).Msg("Loaded file")
	return l.limit(docs), nil
}

// LoadUpload parses an uploaded file into a single document carrying name,
// type, size and any extra metadata.
func (l *Loader) LoadUpload(name string, r io.ReaderAt, size int64, extra map[string]string) (models.Document, error) {
	const op = "parser.LoadUpload"
	if err := l.checkSize(op, name, size); err != nil {
		return models.Document{}, err
	}
	docs, err := parse(op, name, r, size, true)
	if err != nil {
		return models.Document{}, err
	}
	doc := docs[0]
	doc.Metadata[models.MetaName] = name
	doc.Metadata[models.MetaType] = mimeType(name)
	doc.Metadata[models.MetaSize] = strconv.FormatInt(size, 10)
	for k, v := range extra {
		doc.Metadata[k] = v
	}
	return doc, nil
}

func (l *Loader) checkSize(op, name string, size int64) error {
	if size == 0 {
		return apperr.New(apperr.KindInputInvalid, op, "%s is empty", name)
	}
	if l.maxFileBytes > 0 && size > l.maxFileBytes {
		return apperr.New(apperr.KindInputInvalid, op, "%s is %d bytes, limit is %d", name, size, l.maxFileBytes)
	}
	return nil
}

func (l *Loader) limit(docs []models.Document) []models.Document {
	if l.maxDocuments > 0 && len(docs) > l.maxDocuments {
		log.Debug().Int("loaded", len(docs)).Int("kept", l.maxDocuments).Msg("Capping documents")
		return docs[:l.maxDocuments]
	}
	return docs
}

func mimeType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ExtPDF:
		return "application/pdf"
	case ExtDOCX:
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case ExtXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ExtMD:
		return "text/markdown"
	default:
		return "text/plain"
	}
}

// parse dispatches on the extension of source. With merge set every part
// is joined into one document.
func parse(op, source string, r io.ReaderAt, size int64, merge bool) ([]models.Document, error) {
	var (
		parts []part
		err   error
	)
	ext := strings.ToLower(filepath.Ext(source))
	switch ext {
	case ExtPDF:
		parts, err = parsePDF(r, size)
	case ExtDOCX:
		parts, err = parseDOCX(r, size)
	case ExtXLSX:
		parts, err = parseXLSX(r, size)
	case ExtMD, ExtTXT:
		var data []byte
		data, err = io.ReadAll(io.NewSectionReader(r, 0, size))
		if err == nil {
			content := string(data)
			if ext == ExtMD {
				content = MarkdownToText(data)
			}
			parts = []part{{text: content}}
		}
	default:
		return nil, apperr.New(apperr.KindInputInvalid, op, "unsupported file format: %q", ext)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInputInvalid, op, fmt.Errorf("parse %s: %w", source, err))
	}

	var docs []models.Document
	for _, p := range parts {
		if strings.TrimSpace(p.text) == "" {
			continue
		}
		meta := map[string]string{models.MetaSource: source}
		if p.page > 0 && !merge {
			meta[models.MetaPage] = strconv.Itoa(p.page)
		}
		if p.sheet != "" && !merge {
			meta[models.MetaSheet] = p.sheet
		}
		docs = append(docs, models.Document{Content: p.text, Metadata: meta})
	}
	if len(docs) == 0 {
		return nil, apperr.New(apperr.KindInputInvalid, op, "%s contains no extractable text", source)
	}
	if merge && len(docs) > 1 {
		texts := make([]string, len(docs))
		for i, d := range docs {
			texts[i] = d.Content
		}
		docs = []models.Document{{Content: strings.Join(texts, "\n"), Metadata: docs[0].Metadata}}
	}
	return docs, nil
}

type part struct {
	text  string
	page  int
	sheet string
}

func parsePDF(r io.ReaderAt, size int64) (parts []part, err error) {
	// the pdf package panics on some malformed content streams
	defer func() {
		if rec := recover(); rec != nil {
			parts, err = nil, fmt.Errorf("malformed pdf: %v", rec)
		}
	}()
	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return nil, err
	}
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		parts = append(parts, part{text: pageText, page: i})
	}
	return parts, nil
}

func parseDOCX(r io.ReaderAt, size int64) ([]part, error) {
	d, err := docx.ReadDocxFromMemory(r, size)
	if err != nil {
		return nil, err
	}
	defer d.Close()
	content, err := extractTextFromXML(d.Editable().GetContent())
	if err != nil {
		return nil, err
	}
	return []part{{text: content}}, nil
}

// extractTextFromXML keeps the w:t runs of a WordprocessingML body, one
// line per paragraph.
func extractTextFromXML(content string) (string, error) {
	dec := xml.NewDecoder(strings.NewReader(content))
	var b strings.Builder
	inText := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				b.WriteByte('\t')
			case "br":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				b.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return strings.TrimSpace(b.String()), nil
}

func parseXLSX(r io.ReaderAt, size int64) ([]part, error) {
	data, err := io.ReadAll(io.NewSectionReader(r, 0, size))
	if err != nil {
		return nil, err
	}
	f, err := xlsx.OpenBinary(data)
	if err != nil {
		return nil, err
	}
	var parts []part
	for i, sheet := range f.Sheets {
		var text strings.Builder
		text.WriteString(fmt.Sprintf("## Sheet: %s\n", sheet.Name))
		rows := 0
		for _, row := range sheet.Rows {
			if row == nil {
				continue
			}
			cells := make([]string, len(row.Cells))
			for j, cell := range row.Cells {
				cells[j] = cell.String()
			}
			if strings.TrimSpace(strings.Join(cells, "")) == "" {
				continue
			}
			text.WriteString(strings.Join(cells, "\t"))
			text.WriteString("\n")
			rows++
		}
		if rows == 0 {
			continue
		}
		parts = append(parts, part{text: text.String(), page: i + 1, sheet: sheet.Name})
	}
	return parts, nil
}

var md = goldmark.New(goldmark.WithExtensions(extension.GFM))

// MarkdownToText strips markdown syntax, keeping the visible text with one
// line per block.
func MarkdownToText(src []byte) string {
	doc := md.Parser().Parse(text.NewReader(src))
	var buf bytes.Buffer
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			if n.Type() == ast.TypeBlock && n.Kind() != ast.KindDocument && buf.Len() > 0 && !bytes.HasSuffix(buf.Bytes(), []byte("\n")) {
				buf.WriteByte('\n')
			}
			return ast.WalkContinue, nil
		}
		switch t := n.(type) {
		case *ast.Text:
			buf.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				buf.WriteByte('\n')
			}
		case *ast.String:
			buf.Write(t.Value)
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			lines := n.Lines()
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				buf.Write(seg.Value(src))
			}
			return ast.WalkSkipChildren, nil
		case *ast.AutoLink:
			buf.Write(t.URL(src))
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(buf.String())
}
