package transfer

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// PartSuffix marks files that are still being downloaded.
const PartSuffix = ".part"

// Layout maps object ids to file names inside Dir.
//
//	{dir}/product_{id}.zip        finished, only ever created by rename
//	{dir}/product_{id}.zip.part   in progress, appended to across attempts
type Layout struct {
	Dir string
}

// FinalPath returns where the finished object for id lives.
func (l Layout) FinalPath(id string) string {
	return filepath.Join(l.Dir, FinalName(id))
}

// PartPath returns the in-progress file for id.
func (l Layout) PartPath(id string) string {
	return l.FinalPath(id) + PartSuffix
}

// IDFromName is the inverse of FinalName. It also accepts part file
// names and reports which kind of name it was given.
func IDFromName(name string) (id string, part bool, ok bool) {
	if strings.HasSuffix(name, PartSuffix) {
		name = strings.TrimSuffix(name, PartSuffix)
		part = true
	}
	if !strings.HasPrefix(name, "product_") || !strings.HasSuffix(name, ".zip") {
		return "", false, false
	}
	id = strings.TrimSuffix(strings.TrimPrefix(name, "product_"), ".zip")
	return id, part, id != ""
}

// FinalName returns the base name of the finished file for id.
func FinalName(id string) string {
	return "product_" + id + ".zip"
}

// ValidateID rejects ids that would escape the output directory.
func ValidateID(id string) error {
	switch {
	case strings.TrimSpace(id) == "":
		return errors.New("empty id")
	case strings.ContainsAny(id, `/\`), id == "." || id == "..", strings.ContainsRune(id, 0):
		return errors.New("id contains path characters")
	}
	return nil
}

// State is what the output directory holds for one id.
type State int

const (
	Missing State = iota
	Partial
	Complete
	// Conflict means both a final and a part file exist. The next
	// download attempt removes the part file.
	Conflict
)

func (s State) String() string {
	switch s {
	case Missing:
		return "missing"
	case Partial:
		return "partial"
	case Complete:
		return "complete"
	case Conflict:
		return "conflict"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Entry describes the files for one id.
type Entry struct {
	ID        string
	State     State
	PartSize  int64
	FinalSize int64
}

// Inspect reports the state of id.
func (l Layout) Inspect(id string) (Entry, error) {
	e := Entry{ID: id}

	final, err := os.Stat(l.FinalPath(id))
	switch {
	case err == nil:
		e.FinalSize = final.Size()
	case !errors.Is(err, fs.ErrNotExist):
		return e, err
	}
	part, err := os.Stat(l.PartPath(id))
	switch {
	case err == nil:
		e.PartSize = part.Size()
	case !errors.Is(err, fs.ErrNotExist):
		return e, err
	}

	switch {
	case final != nil && part != nil:
		e.State = Conflict
	case final != nil:
		e.State = Complete
	case part != nil:
		e.State = Partial
	}
	return e, nil
}

// Scan returns an entry for every id with a file in Dir, sorted by id.
func (l Layout) Scan() ([]Entry, error) {
	dir := l.Dir
	if dir == "" {
		dir = "."
	}
	des, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var ids []string
	for _, de := range des {
		if !de.Type().IsRegular() {
			continue
		}
		id, _, ok := IDFromName(de.Name())
		if !ok || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	sort.Strings(ids)

	entries := make([]Entry, 0, len(ids))
	for _, id := range ids {
		e, err := l.Inspect(id)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// RemovePart deletes the part file for id, if any.
func (l Layout) RemovePart(id string) error {
	err := os.Remove(l.PartPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
