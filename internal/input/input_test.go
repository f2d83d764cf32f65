package input

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestReadCSV(t *testing.T) {
	doc := "Name,Id,Online\n" +
		"S2A_1,aaa-111,True\n" +
		"S2A_2,\"bbb-222\",True\n"

	items, err := ReadCSV(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(items) != 2 || items[0].ID != "aaa-111" || items[1].ID != "bbb-222" {
		t.Errorf("items = %+v", items)
	}
}

func TestReadCSVByteOrderMark(t *testing.T) {
	items, err := ReadCSV(strings.NewReader("\ufeffId\nx\n"))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(items) != 1 || items[0].ID != "x" {
		t.Errorf("items = %+v", items)
	}
}

func TestReadCSVErrors(t *testing.T) {
	tests := []struct {
		name     string
		doc      string
		wantLine int
		noIDs    bool
	}{
		{name: "empty document", doc: "", noIDs: true},
		{name: "header only", doc: "Id\n", noIDs: true},
		{name: "missing column", doc: "Name,Online\nx,True\n", wantLine: 1},
		{name: "short record", doc: "Name,Id\nonly-name\n", wantLine: 2},
		{name: "blank id", doc: "Id\nok\n\"  \"\n", wantLine: 2},
		{name: "path in id", doc: "Id\n../etc\n", wantLine: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(tt.doc))
			var ie *InputError
			if !errors.As(err, &ie) {
				t.Fatalf("error = %v, want *InputError", err)
			}
			if tt.noIDs {
				if !errors.Is(err, ErrNoIdentifiers) {
					t.Errorf("error = %v, want ErrNoIdentifiers", err)
				}
				return
			}
			if ie.Line != tt.wantLine {
				t.Errorf("Line = %d, want %d (%v)", ie.Line, tt.wantLine, err)
			}
		})
	}
}

func TestReadList(t *testing.T) {
	doc := "# products for tile 32UPU\n\nA\n  B  \n#C\nD\n"
	items, err := ReadList(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("ReadList: %v", err)
	}
	var got []string
	for _, it := range items {
		got = append(got, it.ID)
	}
	if strings.Join(got, ",") != "A,B,D" {
		t.Errorf("ids = %v, want [A B D]", got)
	}
}

func TestFromArgs(t *testing.T) {
	if _, err := FromArgs(nil); !errors.Is(err, ErrNoIdentifiers) {
		t.Errorf("FromArgs(nil) error = %v, want ErrNoIdentifiers", err)
	}
	items, err := FromArgs([]string{"A", "B"})
	if err != nil || len(items) != 2 {
		t.Errorf("FromArgs = %v, %v", items, err)
	}
	_, err = FromArgs([]string{"A", "a/b"})
	var ie *InputError
	if !errors.As(err, &ie) || ie.Line != 2 {
		t.Errorf("FromArgs error = %v, want InputError on line 2", err)
	}
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "products.CSV")
	listPath := filepath.Join(dir, "products.txt")
	if err := os.WriteFile(csvPath, []byte("Id\nA\nB\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(listPath, []byte("Id\nA\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	items, err := ReadFile(csvPath)
	if err != nil || len(items) != 2 {
		t.Errorf("ReadFile(csv) = %v, %v", items, err)
	}

	// Plain lists have no header, so "Id" is an id like any other.
	items, err = ReadFile(listPath)
	if err != nil || len(items) != 2 || items[0].ID != "Id" {
		t.Errorf("ReadFile(list) = %v, %v", items, err)
	}

	_, err = ReadFile(filepath.Join(dir, "missing.csv"))
	var ie *InputError
	if !errors.As(err, &ie) || ie.Source == "" || !errors.Is(err, os.ErrNotExist) {
		t.Errorf("ReadFile(missing) error = %v", err)
	}
}
