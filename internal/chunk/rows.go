package chunk

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/upload-engine/chunkup/internal/retry"
)

// rowSource yields one parsed row at a time. Next returns io.EOF (and a nil
// row) once the source is exhausted.
type rowSource interface {
	Next() ([]string, error)
}

// newRowSource picks a row parser for mimeType: incremental CSV parsing for
// text/csv, newline-split single-column rows for any other text/* type, and
// a first-worksheet parse for the two Excel MIME types the spec names.
// Anything else is a ValidationError — lines mode requires a row format.
func newRowSource(src Source, mimeType string) (rowSource, error) {
	sr := io.NewSectionReader(src, 0, src.Size())

	switch {
	case mimeType == "text/csv":
		return newCSVRowSource(sr), nil
	case mimeType == "application/vnd.ms-excel" || mimeType == "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return newExcelRowSource(sr)
	case strings.HasPrefix(mimeType, "text/"):
		return newTextRowSource(sr), nil
	default:
		return nil, &retry.ValidationError{Message: fmt.Sprintf("chunk: %q has no lines-mode row parser", mimeType)}
	}
}

// csvRowSource incrementally parses CSV records without buffering the
// whole file, using encoding/csv's own row-at-a-time Read.
type csvRowSource struct {
	r *csv.Reader
}

func newCSVRowSource(r io.Reader) *csvRowSource {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = false

	return &csvRowSource{r: cr}
}

func (s *csvRowSource) Next() ([]string, error) {
	record, err := s.r.Read()
	if err == io.EOF {
		return nil, io.EOF
	}

	if err != nil {
		return nil, fmt.Errorf("csv: %w", err)
	}

	return record, nil
}

// textRowSource treats each newline-delimited line as a single-column row.
type textRowSource struct {
	scanner *bufio.Scanner
	done    bool
}

func newTextRowSource(r io.Reader) *textRowSource {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	return &textRowSource{scanner: scanner}
}

func (s *textRowSource) Next() ([]string, error) {
	if s.done {
		return nil, io.EOF
	}

	if !s.scanner.Scan() {
		s.done = true

		if err := s.scanner.Err(); err != nil {
			return nil, fmt.Errorf("text: %w", err)
		}

		return nil, io.EOF
	}

	return []string{s.scanner.Text()}, nil
}

// excelRowSource serves rows from a fully-parsed first worksheet. Excel's
// zip-of-XML structure doesn't lend itself to incremental row-at-a-time
// parsing without its own streaming SAX layer, so the worksheet is parsed
// once up front and served from a slice.
type excelRowSource struct {
	rows []row
	pos  int
}

func newExcelRowSource(r io.ReaderAt) (*excelRowSource, error) {
	size, err := readerAtSize(r)
	if err != nil {
		return nil, err
	}

	rows, err := parseFirstWorksheet(r, size)
	if err != nil {
		return nil, err
	}

	return &excelRowSource{rows: rows}, nil
}

func (s *excelRowSource) Next() ([]string, error) {
	if s.pos >= len(s.rows) {
		return nil, io.EOF
	}

	r := s.rows[s.pos]
	s.pos++

	return r.cells, nil
}

// readerAtSize recovers the size of the SectionReader excel parsing needs
// for zip.NewReader, which requires an io.ReaderAt plus explicit size.
func readerAtSize(r io.ReaderAt) (int64, error) {
	sr, ok := r.(*io.SectionReader)
	if !ok {
		return 0, &retry.ValidationError{Message: "chunk: excel parsing requires a section reader"}
	}

	return sr.Size(), nil
}
