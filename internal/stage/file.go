package stage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/ocsync/internal/feed"
	"github.com/JakeFAU/ocsync/internal/store"
)

// File stages partitions as JSON documents under a directory so that fetch
// processes and the merging process can share them.
type File struct {
	dir string
}

// NewFile creates dir when missing.
func NewFile(dir string) (*File, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("stage dir is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create stage dir: %w", err)
	}
	return &File{dir: dir}, nil
}

type document struct {
	Cycle     string        `json:"cycle"`
	Partition string        `json:"partition"`
	Entities  []feed.Entity `json:"entities"`
}

func (f *File) path(cycle string, p feed.Partition) string {
	name := fmt.Sprintf("%s_%s_%d.json", strings.NewReplacer(":", "", "-", "").Replace(cycle), p.Sort, p.Category)
	return filepath.Join(f.dir, name)
}

// Put writes the partition to a temp file and renames it into place, so a
// reader never sees a partial document.
func (f *File) Put(ctx context.Context, cycle string, p feed.Partition, entities []feed.Entity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(document{Cycle: cycle, Partition: p.String(), Entities: entities})
	if err != nil {
		return fmt.Errorf("encode stage %s: %w", p, err)
	}
	tmp, err := os.CreateTemp(f.dir, ".stage-*")
	if err != nil {
		return fmt.Errorf("create stage temp: %w", err)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck
	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return fmt.Errorf("write stage %s: %w", p, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close stage %s: %w", p, err)
	}
	if err := os.Rename(tmp.Name(), f.path(cycle, p)); err != nil {
		return fmt.Errorf("publish stage %s: %w", p, err)
	}
	return nil
}

// Take reads and removes the staged partition.
func (f *File) Take(ctx context.Context, cycle string, p feed.Partition) ([]feed.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := f.path(cycle, p)
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("stage %s@%s: %w", p, cycle, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read stage %s: %w", p, err)
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode stage %s: %w", p, err)
	}
	if doc.Cycle != cycle || doc.Partition != p.String() {
		return nil, fmt.Errorf("stage %s: document holds %s@%s", p, doc.Partition, doc.Cycle)
	}
	if err := os.Remove(path); err != nil {
		return nil, fmt.Errorf("remove stage %s: %w", p, err)
	}
	return doc.Entities, nil
}
