// Package input reads the list of product ids to download.
package input

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ligustah/dsfetch/internal/transfer"
)

// IDColumn is the CSV column holding product ids, as exported by the
// catalogue search.
const IDColumn = "Id"

// ErrNoIdentifiers is wrapped by InputError when nothing was supplied.
var ErrNoIdentifiers = errors.New("no identifiers supplied")

// InputError reports malformed input. Line is 1-based and zero when the
// problem is not tied to a line.
type InputError struct {
	Source string
	Line   int
	Reason string
	Err    error
}

func (e *InputError) Error() string {
	var b strings.Builder
	b.WriteString("input: ")
	if e.Source != "" {
		b.WriteString(e.Source)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d", e.Line)
		}
		b.WriteString(": ")
	} else if e.Line > 0 {
		fmt.Fprintf(&b, "line %d: ", e.Line)
	}
	b.WriteString(e.Reason)
	if e.Err != nil && e.Err.Error() != e.Reason {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *InputError) Unwrap() error { return e.Err }

// ReadFile reads ids from path. Files ending in .csv are parsed as CSV,
// anything else as a plain list.
func ReadFile(path string) ([]transfer.Item, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &InputError{Source: path, Reason: "open", Err: err}
	}
	defer f.Close()

	var items []transfer.Item
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		items, err = ReadCSV(f)
	} else {
		items, err = ReadList(f)
	}

	var ie *InputError
	if errors.As(err, &ie) && ie.Source == "" {
		ie.Source = path
	}
	return items, err
}

// ReadCSV reads the Id column of a CSV document with a header row.
func ReadCSV(r io.Reader) ([]transfer.Item, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, &InputError{Reason: ErrNoIdentifiers.Error(), Err: ErrNoIdentifiers}
	}
	if err != nil {
		return nil, &InputError{Line: 1, Reason: "parse header", Err: err}
	}

	col := -1
	for i, name := range header {
		if strings.TrimPrefix(strings.TrimSpace(name), "\ufeff") == IDColumn {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, &InputError{Line: 1, Reason: fmt.Sprintf("no %q column", IDColumn)}
	}

	var items []transfer.Item
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			ie := &InputError{Reason: "parse record", Err: err}
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				ie.Line = pe.Line
			}
			return nil, ie
		}
		line, _ := cr.FieldPos(0)
		if col >= len(record) {
			return nil, &InputError{Line: line, Reason: fmt.Sprintf("missing %q field", IDColumn)}
		}
		items = append(items, transfer.Item{ID: strings.TrimSpace(record[col])})
	}

	return items, Validate(items)
}

// ReadList reads one id per line. Blank lines and lines starting with #
// are skipped.
func ReadList(r io.Reader) ([]transfer.Item, error) {
	var items []transfer.Item
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		items = append(items, transfer.Item{ID: line})
	}
	if err := sc.Err(); err != nil {
		return nil, &InputError{Reason: "read list", Err: err}
	}
	return items, Validate(items)
}

// FromArgs turns command line arguments into items.
func FromArgs(args []string) ([]transfer.Item, error) {
	items := make([]transfer.Item, 0, len(args))
	for _, a := range args {
		items = append(items, transfer.Item{ID: strings.TrimSpace(a)})
	}
	return items, Validate(items)
}

// Validate checks that items is non-empty and every id is usable as part
// of a file name. Line numbers in errors are 1-based item positions.
func Validate(items []transfer.Item) error {
	if len(items) == 0 {
		return &InputError{Reason: ErrNoIdentifiers.Error(), Err: ErrNoIdentifiers}
	}
	for i, it := range items {
		if err := transfer.ValidateID(it.ID); err != nil {
			return &InputError{Line: i + 1, Reason: fmt.Sprintf("invalid id %q", it.ID), Err: err}
		}
	}
	return nil
}
