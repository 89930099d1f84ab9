package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/repochat/pkg/models"
)

// dirLayout is the timestamp suffix of upload directories. It avoids ':' so
// directory names stay portable; Repository.Timestamp uses RFC 3339.
const dirLayout = "20060102T150405.000000000Z"

var (
	ErrInvalidName     = errors.New("invalid repository name")
	ErrInvalidFilename = errors.New("invalid file name")
)

// Uploads is the on-disk area holding one directory per indexed upload,
// named <name>_<timestamp>.
type Uploads struct {
	Root string
	Now  func() time.Time
}

func NewUploads(root string) *Uploads {
	return &Uploads{Root: root, Now: time.Now}
}

// Save writes the uploaded file into a fresh directory and returns its entry.
// On failure nothing is left on disk.
func (u *Uploads) Save(name, filename string, r io.Reader) (Entry, error) {
	if err := validateName(name); err != nil {
		return Entry{}, err
	}
	base := filepath.Base(filepath.Clean("/" + filepath.ToSlash(filename)))
	if base == "/" || base == "." || base == "" {
		return Entry{}, ErrInvalidFilename
	}

	now := u.Now().UTC()
	id := name + "_" + now.Format(dirLayout)
	dir := filepath.Join(u.Root, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Entry{}, fmt.Errorf("create repository directory: %w", err)
	}

	if err := writeFile(filepath.Join(dir, base), r); err != nil {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			log.Warn().Err(rmErr).Str("dir", dir).Msg("failed to remove partial upload")
		}
		return Entry{}, err
	}

	return Entry{
		ID:  id,
		Dir: dir,
		Repository: models.Repository{
			Name:      name,
			Path:      base,
			Timestamp: now.Format(time.RFC3339Nano),
		},
	}, nil
}

func writeFile(path string, r io.Reader) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create upload: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return fmt.Errorf("write upload: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close upload: %w", err)
	}
	return nil
}

// Remove deletes the directory of an upload that could not be registered.
func (u *Uploads) Remove(e Entry) error {
	if e.Dir == "" || filepath.Dir(filepath.Clean(e.Dir)) != filepath.Clean(u.Root) {
		return fmt.Errorf("%s is not an upload directory", e.Dir)
	}
	return os.RemoveAll(e.Dir)
}

// Scan recovers entries from the upload directories under Root, oldest first.
// Directories that do not follow the <name>_<timestamp> pattern are skipped.
func (u *Uploads) Scan() ([]Entry, error) {
	if _, err := os.Stat(u.Root); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	dirents, err := godirwalk.ReadDirents(u.Root, nil)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", u.Root, err)
	}

	type stamped struct {
		at    time.Time
		entry Entry
	}
	var found []stamped
	for _, de := range dirents {
		if !de.IsDir() {
			continue
		}
		id := de.Name()
		i := strings.LastIndex(id, "_")
		if i <= 0 {
			log.Debug().Str("dir", id).Msg("skipping unrecognised upload directory")
			continue
		}
		at, err := time.Parse(dirLayout, id[i+1:])
		if err != nil {
			log.Debug().Str("dir", id).Msg("skipping upload directory without timestamp")
			continue
		}
		dir := filepath.Join(u.Root, id)
		found = append(found, stamped{at: at, entry: Entry{
			ID:  id,
			Dir: dir,
			Repository: models.Repository{
				Name:      id[:i],
				Path:      firstFile(dir),
				Timestamp: at.UTC().Format(time.RFC3339Nano),
			},
		}})
	}

	sort.SliceStable(found, func(i, j int) bool { return found[i].at.Before(found[j].at) })
	out := make([]Entry, 0, len(found))
	for _, s := range found {
		out = append(out, s.entry)
	}
	return out, nil
}

func firstFile(dir string) string {
	names, err := godirwalk.ReadDirnames(dir, nil)
	if err != nil {
		return ""
	}
	sort.Strings(names)
	for _, n := range names {
		if fi, err := os.Stat(filepath.Join(dir, n)); err == nil && fi.Mode().IsRegular() {
			return n
		}
	}
	return ""
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" ||
		strings.ContainsAny(name, `/\`) ||
		name == "." || name == ".." {
		return ErrInvalidName
	}
	return nil
}
