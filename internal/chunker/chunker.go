package chunker

import (
	"iter"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/textsplitter"

	"rag-apps/internal/apperr"
	"rag-apps/internal/config"
	"rag-apps/internal/models"
)

type Strategy string

const (
	// Window cuts fixed windows of Size runes stepping by Size-Overlap.
	Window Strategy = "window"
	// Whitespace moves each cut back to the last whitespace in the final
	// tenth of the window, falling back to a hard cut.
	Whitespace Strategy = "whitespace"
	// Recursive delegates to langchaingo's recursive character splitter.
	Recursive Strategy = "recursive"
)

// Span is one piece of text with its rune offsets in the source.
type Span struct {
	Text  string
	Start int
	End   int
}

type Splitter struct {
	size     int
	overlap  int
	strategy Strategy
}

func New(size, overlap int, strategy Strategy) (*Splitter, error) {
	if size <= 0 {
		return nil, apperr.New(apperr.KindInputInvalid, "chunker.New", "chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, apperr.New(apperr.KindInputInvalid, "chunker.New", "chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	switch strategy {
	case Window, Whitespace, Recursive:
	case "":
		strategy = Window
	default:
		return nil, apperr.New(apperr.KindInputInvalid, "chunker.New", "unknown splitter %q", strategy)
	}
	return &Splitter{size: size, overlap: overlap, strategy: strategy}, nil
}

func NewFromConfig(cfg config.RAGConfig) (*Splitter, error) {
	return New(cfg.ChunkSize, cfg.ChunkOverlap, Strategy(cfg.Splitter))
}

func (s *Splitter) Size() int    { return s.size }
func (s *Splitter) Overlap() int { return s.overlap }

// Split returns a lazy sequence over text. Nothing is computed until the
// sequence is ranged over, and every range starts from the beginning.
func (s *Splitter) Split(text string) iter.Seq[Span] {
	if s.strategy == Recursive {
		return s.recursive(text)
	}
	return s.windows(text)
}

// SplitDocuments chunks every document in order, carrying the document
// metadata plus a 1-based chunk id.
func (s *Splitter) SplitDocuments(docs []models.Document) iter.Seq[models.Chunk] {
	return func(yield func(models.Chunk) bool) {
		for di, doc := range docs {
			id := 0
			for span := range s.Split(doc.Content) {
				id++
				meta := make(map[string]string, len(doc.Metadata)+1)
				for k, v := range doc.Metadata {
					meta[k] = v
				}
				meta[models.MetaChunkID] = strconv.Itoa(id)
				chunk := models.Chunk{
					Content:       span.Text,
					Metadata:      meta,
					DocumentIndex: di,
					ChunkID:       id,
					Start:         span.Start,
					End:           span.End,
				}
				if !yield(chunk) {
					return
				}
			}
		}
	}
}

func (s *Splitter) windows(text string) iter.Seq[Span] {
	return func(yield func(Span) bool) {
		runes := []rune(text)
		n := len(runes)
		start := 0
		for start < n {
			end := min(start+s.size, n)
			if end < n && s.strategy == Whitespace {
				end = s.breakPoint(runes, start, end)
			}
			if !yield(Span{Text: string(runes[start:end]), Start: start, End: end}) {
				return
			}
			if end == n {
				return
			}
			start = end - s.overlap
		}
	}
}

// breakPoint looks for whitespace within the last 10% of the window. The
// next window must still start after this one, otherwise the hard cut stays.
func (s *Splitter) breakPoint(runes []rune, start, end int) int {
	lookBack := max(s.size/10, 1)
	for i := end - 1; i >= end-lookBack && i > start; i-- {
		if unicode.IsSpace(runes[i]) {
			if cut := i + 1; cut-s.overlap > start {
				return cut
			}
			break
		}
	}
	return end
}

func (s *Splitter) recursive(text string) iter.Seq[Span] {
	return func(yield func(Span) bool) {
		if text == "" {
			return
		}
		sp := textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(s.size),
			textsplitter.WithChunkOverlap(s.overlap),
		)
		parts, err := sp.SplitText(text)
		if err != nil {
			log.Error().Err(err).Msg("Recursive split failed")
			return
		}
		cursor := 0
		for _, part := range parts {
			start := -1
			if idx := strings.Index(text[cursor:], part); idx >= 0 {
				b := cursor + idx
				start = utf8.RuneCountInString(text[:b])
				cursor = b + 1
			}
			for span := range s.hardSplit(part, start) {
				if !yield(span) {
					return
				}
			}
		}
	}
}

// hardSplit cuts a recursive part that has no separator short enough to
// fit into fixed windows. start is the part's rune offset, or -1 when
// unknown.
func (s *Splitter) hardSplit(part string, start int) iter.Seq[Span] {
	return func(yield func(Span) bool) {
		runes := []rune(part)
		if len(runes) <= s.size {
			end := -1
			if start >= 0 {
				end = start + len(runes)
			}
			yield(Span{Text: part, Start: start, End: end})
			return
		}
		step := s.size - s.overlap
		for from := 0; ; from += step {
			to := min(from+s.size, len(runes))
			span := Span{Text: string(runes[from:to]), Start: -1, End: -1}
			if start >= 0 {
				span.Start, span.End = start+from, start+to
			}
			if !yield(span) || to == len(runes) {
				return
			}
		}
	}
}

// Reassemble rebuilds the source text from consecutive spans by dropping
// the part of each span already covered by its predecessor.
func Reassemble(spans []Span) string {
	var b strings.Builder
	covered := 0
	for _, sp := range spans {
		runes := []rune(sp.Text)
		skip := covered - sp.Start
		if skip < 0 {
			skip = 0
		}
		if skip < len(runes) {
			b.WriteString(string(runes[skip:]))
		}
		covered = max(covered, sp.End)
	}
	return b.String()
}

// ExpectedWindows is the chunk count of the fixed window strategy.
func ExpectedWindows(length, size, overlap int) int {
	switch {
	case length == 0:
		return 0
	case length <= size:
		return 1
	}
	step := size - overlap
	return (length - overlap + step - 1) / step
}
