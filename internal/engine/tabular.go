package engine

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"
)

// Row is one input record keyed by header name
type Row map[string]string

// Tabular parse errors
var (
	ErrUnterminatedQuote = errors.New("quoted field is not terminated")
	ErrTextAfterQuote    = errors.New("unexpected text after closing quote")
)

// ParseTabularData reads comma separated input with a header row. Quoted
// fields may contain commas, newlines and doubled quotes, and may be padded
// with whitespace outside the quotes. Cells are trimmed after quote stripping;
// short rows simply lack the trailing keys.
func ParseTabularData(r io.Reader) ([]Row, error) {
	reader := newRecordReader(r)

	var header []string
	for {
		record, err := reader.read()
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read header row: %w", err)
		}
		if !blankRecord(record) {
			header = record
			break
		}
	}

	columns := make([]string, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		columns[i] = strings.TrimSpace(h)
	}

	var rows []Row
	for {
		record, err := reader.read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read row %d: %w", len(rows)+1, err)
		}

		row := make(Row, len(record))
		empty := true
		for i, cell := range record {
			if i >= len(columns) || columns[i] == "" {
				continue
			}
			value := strings.TrimSpace(cell)
			if value != "" {
				empty = false
			}
			row[columns[i]] = value
		}
		if empty {
			continue
		}
		rows = append(rows, row)
	}

	return rows, nil
}

func blankRecord(record []string) bool {
	for _, cell := range record {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

type fieldState int

const (
	fieldStart fieldState = iota
	inUnquoted
	inQuoted
	quoteInQuoted // a quote seen inside a quoted field: doubled or closing
	afterQuoted
)

// recordReader splits RFC 4180 records. A quote inside an unquoted field is
// kept as a literal; after a closing quote only whitespace may precede the
// next separator.
type recordReader struct {
	r    *bufio.Reader
	line int
}

func newRecordReader(r io.Reader) *recordReader {
	return &recordReader{r: bufio.NewReader(r)}
}

// read returns the next record, or io.EOF when the input is exhausted
func (p *recordReader) read() ([]string, error) {
	var (
		fields  []string
		field   strings.Builder
		state   = fieldStart
		started bool
	)
	startLine := p.line + 1

	endField := func() {
		fields = append(fields, field.String())
		field.Reset()
		state = fieldStart
	}

	for {
		c, _, err := p.r.ReadRune()
		if errors.Is(err, io.EOF) {
			if state == inQuoted {
				return nil, fmt.Errorf("line %d: %w", startLine, ErrUnterminatedQuote)
			}
			if !started {
				return nil, io.EOF
			}
			endField()
			return fields, nil
		}
		if err != nil {
			return nil, err
		}
		started = true

		if c == '\n' {
			p.line++
		}
		// CRLF ends a record the same way LF does
		if c == '\r' && state != inQuoted && p.peekNewline() {
			continue
		}

		switch state {
		case fieldStart:
			switch {
			case c == '"':
				// leading whitespace before the opening quote is dropped
				field.Reset()
				state = inQuoted
			case c == ',':
				endField()
			case c == '\n':
				endField()
				return fields, nil
			default:
				field.WriteRune(c)
				if !unicode.IsSpace(c) {
					state = inUnquoted
				}
			}

		case inUnquoted:
			switch c {
			case ',':
				endField()
			case '\n':
				endField()
				return fields, nil
			default:
				field.WriteRune(c)
			}

		case inQuoted:
			if c == '"' {
				state = quoteInQuoted
			} else {
				field.WriteRune(c)
			}

		case quoteInQuoted:
			switch {
			case c == '"':
				field.WriteRune('"')
				state = inQuoted
			case c == ',':
				endField()
			case c == '\n':
				endField()
				return fields, nil
			case unicode.IsSpace(c):
				state = afterQuoted
			default:
				return nil, fmt.Errorf("line %d: %w: %q", p.line+1, ErrTextAfterQuote, c)
			}

		case afterQuoted:
			switch {
			case c == ',':
				endField()
			case c == '\n':
				endField()
				return fields, nil
			case unicode.IsSpace(c):
			default:
				return nil, fmt.Errorf("line %d: %w: %q", p.line+1, ErrTextAfterQuote, c)
			}
		}
	}
}

func (p *recordReader) peekNewline() bool {
	next, err := p.r.Peek(1)
	return err == nil && next[0] == '\n'
}

// Column aliases, in lookup order
var (
	promptColumns   = []string{"prompt", "Prompt", "PROMPT", "question", "Question", "input", "Input"}
	expectedColumns = []string{"expected_response", "expected", "Expected", "ExpectedResponse", "expected_output", "answer", "Answer"}
	idColumns       = []string{"id", "ID"}
)

// lookup returns the first non-empty value among the aliases
func (r Row) lookup(aliases []string) string {
	for _, name := range aliases {
		if v, ok := r[name]; ok && v != "" {
			return v
		}
	}
	return ""
}
