package chunker

import (
	"errors"
	"math/rand"
	"slices"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-apps/internal/apperr"
	"rag-apps/internal/models"
)

func mustSplitter(t *testing.T, size, overlap int, strategy Strategy) *Splitter {
	t.Helper()
	s, err := New(size, overlap, strategy)
	require.NoError(t, err)
	return s
}

func randomText(r *rand.Rand, n int) string {
	alphabet := []rune("abcdefghij klmnopé\nqrstuvwxyz ")
	out := make([]rune, n)
	for i := range out {
		out[i] = alphabet[r.Intn(len(alphabet))]
	}
	return string(out)
}

func TestWindowExample(t *testing.T) {
	s := mustSplitter(t, 1000, 50, Window)
	text := strings.Repeat("x", 2600)

	spans := slices.Collect(s.Split(text))
	require.Len(t, spans, 3)

	assert.Equal(t, Span{Text: text[:1000], Start: 0, End: 1000}, spans[0])
	assert.Equal(t, 950, spans[1].Start)
	assert.Equal(t, 1950, spans[1].End)
	assert.Equal(t, 1900, spans[2].Start)
	assert.Equal(t, 2600, spans[2].End)
	assert.Len(t, spans[2].Text, 700)
	assert.Equal(t, 3, ExpectedWindows(2600, 1000, 50))
}

func TestEdgeCases(t *testing.T) {
	s := mustSplitter(t, 10, 2, Window)

	assert.Empty(t, slices.Collect(s.Split("")))

	short := slices.Collect(s.Split("hello"))
	require.Len(t, short, 1)
	assert.Equal(t, "hello", short[0].Text)

	exact := slices.Collect(s.Split("0123456789"))
	require.Len(t, exact, 1)
}

func TestWindowProperties(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	params := [][2]int{{10, 0}, {10, 3}, {7, 6}, {100, 20}, {1000, 50}, {1000, 200}}
	for _, p := range params {
		size, overlap := p[0], p[1]
		s := mustSplitter(t, size, overlap, Window)
		for _, n := range []int{0, 1, size - 1, size, size + 1, 3*size + 5, 2600} {
			if n < 0 {
				continue
			}
			text := randomText(r, n)
			spans := slices.Collect(s.Split(text))

			assert.Equal(t, ExpectedWindows(n, size, overlap), len(spans), "size=%d overlap=%d n=%d", size, overlap, n)
			assert.Equal(t, text, Reassemble(spans), "size=%d overlap=%d n=%d", size, overlap, n)
			for i, sp := range spans {
				assert.LessOrEqual(t, utf8.RuneCountInString(sp.Text), size)
				if i > 0 {
					assert.Equal(t, overlap, spans[i-1].End-sp.Start, "overlap between %d and %d", i-1, i)
				}
			}
		}
	}
}

func TestWhitespaceStrategy(t *testing.T) {
	r := rand.New(rand.NewSource(11))
	s := mustSplitter(t, 100, 20, Whitespace)
	text := randomText(r, 1234)

	spans := slices.Collect(s.Split(text))
	require.NotEmpty(t, spans)
	assert.Equal(t, text, Reassemble(spans))

	runes := []rune(text)
	for i, sp := range spans {
		assert.LessOrEqual(t, sp.End-sp.Start, 100)
		if i > 0 {
			assert.Equal(t, 20, spans[i-1].End-sp.Start)
		}
		if sp.End < len(runes) && sp.End-sp.Start < 100 {
			assert.Contains(t, " \n", string(runes[sp.End-1]), "soft cut must land after whitespace")
		}
	}
}

func TestWhitespaceFallsBackToHardCut(t *testing.T) {
	s := mustSplitter(t, 10, 2, Whitespace)
	spans := slices.Collect(s.Split(strings.Repeat("a", 25)))
	require.Len(t, spans, ExpectedWindows(25, 10, 2))
	assert.Equal(t, 10, spans[0].End)
}

func TestSplitIsRestartableAndLazy(t *testing.T) {
	s := mustSplitter(t, 5, 1, Window)
	seq := s.Split("abcdefghijklmnop")

	first := slices.Collect(seq)
	second := slices.Collect(seq)
	assert.Equal(t, first, second)

	seen := 0
	for range seq {
		seen++
		if seen == 2 {
			break
		}
	}
	assert.Equal(t, 2, seen)
}

func TestMultibyteTextIsMeasuredInRunes(t *testing.T) {
	s := mustSplitter(t, 4, 1, Window)
	spans := slices.Collect(s.Split("héllo wörld"))
	for _, sp := range spans {
		assert.True(t, utf8.ValidString(sp.Text))
		assert.LessOrEqual(t, utf8.RuneCountInString(sp.Text), 4)
	}
	assert.Equal(t, "héllo wörld", Reassemble(spans))
}

func TestNewRejectsInvalidParameters(t *testing.T) {
	cases := []struct {
		size, overlap int
		strategy      Strategy
	}{
		{0, 0, Window},
		{-5, 0, Window},
		{10, 10, Window},
		{10, -1, Window},
		{10, 2, "semantic"},
	}
	for _, tc := range cases {
		_, err := New(tc.size, tc.overlap, tc.strategy)
		require.Error(t, err)
		assert.True(t, errors.Is(err, apperr.ErrInputInvalid))
	}
}

func TestSplitDocumentsCarriesMetadata(t *testing.T) {
	s := mustSplitter(t, 10, 0, Window)
	docs := []models.Document{
		{Content: strings.Repeat("a", 15), Metadata: map[string]string{models.MetaSource: "a.pdf", models.MetaPage: "1"}},
		{Content: "short", Metadata: map[string]string{models.MetaSource: "b.pdf"}},
	}
	chunks := slices.Collect(s.SplitDocuments(docs))
	require.Len(t, chunks, 3)

	assert.Equal(t, "a.pdf-1-1", chunks[0].RecordID())
	assert.Equal(t, "a.pdf-1-2", chunks[1].RecordID())
	assert.Equal(t, "2", chunks[1].Metadata[models.MetaChunkID])
	assert.Equal(t, 1, chunks[2].DocumentIndex)
	assert.Equal(t, "b.pdf-1", chunks[2].RecordID())
	_, leaked := docs[0].Metadata[models.MetaChunkID]
	assert.False(t, leaked)
}

func TestRecursiveStrategy(t *testing.T) {
	s := mustSplitter(t, 50, 10, Recursive)
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 10)

	spans := slices.Collect(s.Split(text))
	require.NotEmpty(t, spans)
	for _, sp := range spans {
		assert.LessOrEqual(t, utf8.RuneCountInString(sp.Text), 50)
		assert.GreaterOrEqual(t, sp.Start, 0)
	}
	assert.Empty(t, slices.Collect(s.Split("")))
}

func TestRecursiveStrategyCutsLongRuns(t *testing.T) {
	s := mustSplitter(t, 50, 10, Recursive)
	run := strings.Repeat("x", 130)
	text := "short words here " + run + " tail"
	runes := []rune(text)

	spans := slices.Collect(s.Split(text))
	var covered strings.Builder
	for _, sp := range spans {
		assert.LessOrEqual(t, utf8.RuneCountInString(sp.Text), 50)
		if sp.Start >= 0 {
			assert.Equal(t, string(runes[sp.Start:sp.End]), sp.Text)
		}
		covered.WriteString(sp.Text)
	}
	assert.GreaterOrEqual(t, strings.Count(covered.String(), "x"), 130)
}
