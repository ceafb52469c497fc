package agent

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"rag-apps/internal/apperr"
)

// Table is a header row plus data rows, all cells as text.
type Table struct {
	Name   string
	Header []string
	Rows   [][]string
}

// ReadTable loads a .csv or .xlsx table. For workbooks the first sheet is used.
func ReadTable(name string, r io.Reader) (*Table, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", "":
		return readCSV(name, r)
	case ".xlsx":
		return readXLSX(name, r)
	default:
		return nil, apperr.New(apperr.KindInputInvalid, "agent.ReadTable", "unsupported table type %q", filepath.Ext(name))
	}
}

func readCSV(name string, r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInputInvalid, "agent.ReadTable", err)
	}
	return newTable(name, records)
}

func readXLSX(name string, r io.Reader) (*Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInputInvalid, "agent.ReadTable", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, apperr.New(apperr.KindInputInvalid, "agent.ReadTable", "workbook %s has no sheets", name)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInputInvalid, "agent.ReadTable", err)
	}
	return newTable(name, rows)
}

func newTable(name string, records [][]string) (*Table, error) {
	if len(records) < 2 {
		return nil, apperr.New(apperr.KindInputInvalid, "agent.ReadTable", "the uploaded table %s is empty", name)
	}
	return &Table{Name: name, Header: records[0], Rows: records[1:]}, nil
}

// Head returns a table holding the first n rows and reports whether
// anything was dropped. t itself is left as is.
func (t *Table) Head(n int) (*Table, bool) {
	if n <= 0 || len(t.Rows) <= n {
		return t, false
	}
	return &Table{Name: t.Name, Header: t.Header, Rows: t.Rows[:n:n]}, true
}

// CSV renders the table back to CSV text.
func (t *Table) CSV() (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(t.Header); err != nil {
		return "", err
	}
	if err := w.WriteAll(t.Rows); err != nil {
		return "", err
	}
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("render table: %w", err)
	}
	return buf.String(), nil
}
