package connector

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// CSV reader errors
var (
	ErrEmptyFile       = errors.New("csv: file is empty")
	ErrInvalidEncoding = errors.New("csv: file is not valid UTF-8")
	ErrMissingHeader   = errors.New("csv: missing header row")
)

// csvRow is one data row keyed by header
type csvRow struct {
	Line int
	Data map[string]string
}

// empty reports whether every cell is blank
func (r csvRow) empty() bool {
	for _, v := range r.Data {
		if v != "" {
			return false
		}
	}
	return true
}

// readCSV parses a whole export. A UTF-8 BOM is stripped, cells are
// trimmed and rows may be ragged. Blank rows are skipped.
func readCSV(r io.Reader, delimiter rune) ([]string, []csvRow, error) {
	br := bufio.NewReader(r)

	if bom, err := br.Peek(3); err == nil && bom[0] == 0xEF && bom[1] == 0xBB && bom[2] == 0xBF {
		_, _ = br.Discard(3)
	}
	head, err := br.Peek(4096)
	if err != nil && err != io.EOF && !errors.Is(err, bufio.ErrBufferFull) {
		return nil, nil, fmt.Errorf("csv: read: %w", err)
	}
	if len(head) == 0 {
		return nil, nil, ErrEmptyFile
	}
	if !utf8.Valid(trimPartialRune(head)) {
		return nil, nil, ErrInvalidEncoding
	}

	reader := csv.NewReader(br)
	reader.Comma = delimiter
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil, ErrMissingHeader
	}
	if err != nil {
		return nil, nil, fmt.Errorf("csv: header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var rows []csvRow
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, nil, fmt.Errorf("csv: row %d: %w", line, err)
		}
		row := csvRow{Line: line, Data: make(map[string]string, len(header))}
		for i, h := range header {
			if i < len(record) {
				row.Data[h] = strings.TrimSpace(record[i])
			} else {
				row.Data[h] = ""
			}
		}
		if !row.empty() {
			rows = append(rows, row)
		}
	}
	return header, rows, nil
}

// trimPartialRune drops a multi-byte rune cut off by the peek window
func trimPartialRune(b []byte) []byte {
	for i := 0; i < utf8.UTFMax && len(b) > 0; i++ {
		r, size := utf8.DecodeLastRune(b)
		if r != utf8.RuneError || size != 1 {
			break
		}
		b = b[:len(b)-1]
	}
	return b
}
