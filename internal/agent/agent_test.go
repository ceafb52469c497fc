package agent

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"rag-apps/internal/fakes"
)

const salesCSV = "region,amount\nnorth,10\nsouth,25\neast,7\n"

type delegateFunc func(ctx context.Context, t *Table, q string) (string, error)

func (f delegateFunc) Analyze(ctx context.Context, t *Table, q string) (string, error) { return f(ctx, t, q) }

func TestReadTableCSV(t *testing.T) {
	tbl, err := ReadTable("sales.csv", strings.NewReader(salesCSV))
	require.NoError(t, err)
	assert.Equal(t, []string{"region", "amount"}, tbl.Header)
	assert.Len(t, tbl.Rows, 3)

	out, err := tbl.CSV()
	require.NoError(t, err)
	assert.Equal(t, salesCSV, out)
}

func TestReadTableXLSX(t *testing.T) {
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]any{"region", "amount"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]any{"north", 10}))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)

	tbl, err := ReadTable("sales.xlsx", bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, []string{"region", "amount"}, tbl.Header)
	assert.Equal(t, [][]string{{"north", "10"}}, tbl.Rows)
}

func TestReadTableRejectsEmptyAndUnknown(t *testing.T) {
	_, err := ReadTable("empty.csv", strings.NewReader("region,amount\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is empty")

	_, err = ReadTable("notes.pdf", strings.NewReader("x"))
	require.Error(t, err)
}

func TestQueryUsesLLMDelegate(t *testing.T) {
	gen := &fakes.Generator{Reply: "south has the highest amount (25)"}
	tbl, err := ReadTable("sales.csv", strings.NewReader(salesCSV))
	require.NoError(t, err)

	out := NewTableAgent(NewLLMDelegate(gen), 0).Query(context.Background(), tbl, "which region sold most?")

	assert.Equal(t, "**Query Result:**\nsouth has the highest amount (25)", out)
	assert.Contains(t, gen.LastPrompt(), "south,25")
	assert.Contains(t, gen.LastPrompt(), "Question: which region sold most?")
}

func TestQueryTruncatesWithNotice(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("n\n")
	for i := range 12 {
		fmt.Fprintf(&sb, "%d\n", i)
	}
	tbl, err := ReadTable("big.csv", strings.NewReader(sb.String()))
	require.NoError(t, err)

	var seen int
	d := delegateFunc(func(_ context.Context, t *Table, _ string) (string, error) {
		seen = len(t.Rows)
		return "ok", nil
	})
	out := NewTableAgent(d, 10).Query(context.Background(), tbl, "count rows")

	assert.Equal(t, 10, seen)
	assert.Equal(t, "Table has more than 10 rows. Only the first 10 rows are processed.\n\n**Query Result:**\nok", out)
	assert.Len(t, tbl.Rows, 12, "caller's table is not cut")
}

func TestQueryCatchesDelegateFailures(t *testing.T) {
	tbl, err := ReadTable("sales.csv", strings.NewReader(salesCSV))
	require.NoError(t, err)
	ctx := context.Background()

	failing := delegateFunc(func(context.Context, *Table, string) (string, error) {
		return "", errors.New("column amnt not found")
	})
	out := NewTableAgent(failing, 0).Query(ctx, tbl, "sum amnt")
	assert.Contains(t, out, "Error processing query: column amnt not found")

	panicking := delegateFunc(func(context.Context, *Table, string) (string, error) {
		panic("index out of range")
	})
	assert.NotPanics(t, func() {
		out = NewTableAgent(panicking, 0).Query(ctx, tbl, "sum")
	})
	assert.Contains(t, out, "Error processing query: panic: index out of range")
}

func TestQueryRejectsEmptyInput(t *testing.T) {
	a := NewTableAgent(NewLLMDelegate(&fakes.Generator{}), 0)
	assert.Contains(t, a.Query(context.Background(), &Table{Header: []string{"a"}}, "q"), "Invalid input")

	tbl, err := ReadTable("sales.csv", strings.NewReader(salesCSV))
	require.NoError(t, err)
	assert.Contains(t, a.Query(context.Background(), tbl, "  "), "please enter a query")
}
