// Package storage resolves attachment references. A reference is either a
// file name inside the files directory or an "s3://bucket/key" object.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ignite/ses-bulk-sender/internal/pkg/logger"
)

const s3Scheme = "s3://"

// MaxAttachmentSize bounds a single attachment.
const MaxAttachmentSize int64 = 10 << 20

var (
	ErrNotFound      = errors.New("storage: file not found")
	ErrAccessDenied  = errors.New("storage: access denied")
	ErrInvalidName   = errors.New("storage: invalid file name")
	ErrInvalidRef    = errors.New("storage: invalid attachment reference")
	ErrTooLarge      = errors.New("storage: file exceeds size limit")
	ErrS3Unavailable = errors.New("storage: s3 attachments are not configured")
)

// FileInfo describes a stored attachment.
type FileInfo struct {
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Files serves attachments from a local directory and, when an S3 client is
// set, from S3.
type Files struct {
	dir     string
	s3      ObjectGetter
	maxSize int64
}

// NewFiles creates the attachment store rooted at dir. s3 may be nil.
func NewFiles(dir string, s3 ObjectGetter) *Files {
	return &Files{dir: dir, s3: s3, maxSize: MaxAttachmentSize}
}

// Dir returns the files directory.
func (f *Files) Dir() string { return f.dir }

// Load resolves ref to its file name and contents.
func (f *Files) Load(ctx context.Context, ref string) (string, []byte, error) {
	if strings.HasPrefix(ref, s3Scheme) {
		return f.loadS3(ctx, ref)
	}

	p, err := f.localPath(ref)
	if err != nil {
		return "", nil, err
	}
	fh, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if err != nil {
		return "", nil, err
	}
	defer fh.Close()

	data, err := readLimited(fh, f.maxSize)
	if err != nil {
		return "", nil, fmt.Errorf("reading %s: %w", ref, err)
	}
	return filepath.Base(p), data, nil
}

// Exists reports whether ref can be resolved without downloading it. S3
// references are assumed to exist.
func (f *Files) Exists(ref string) bool {
	if strings.HasPrefix(ref, s3Scheme) {
		_, _, err := parseS3Ref(ref)
		return err == nil && f.s3 != nil
	}
	p, err := f.localPath(ref)
	if err != nil {
		return false
	}
	st, err := os.Stat(p)
	return err == nil && st.Mode().IsRegular()
}

// List returns the regular files in the files directory sorted by name.
func (f *Files) List() ([]FileInfo, error) {
	entries, err := os.ReadDir(f.dir)
	if errors.Is(err, os.ErrNotExist) {
		return []FileInfo{}, nil
	}
	if err != nil {
		return nil, err
	}

	out := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, FileInfo{Name: e.Name(), Size: info.Size(), ModifiedAt: info.ModTime().UTC()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Save writes r to name inside the files directory, replacing any existing
// file. The write is atomic.
func (f *Files) Save(name string, r io.Reader) (*FileInfo, error) {
	p, err := f.localPath(name)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(f.dir, ".upload-*")
	if err != nil {
		return nil, err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, io.LimitReader(r, f.maxSize+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return nil, err
	}
	if n > f.maxSize {
		return nil, ErrTooLarge
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return nil, err
	}

	logger.Info("storage: saved attachment", "name", name, "size", n)
	return &FileInfo{Name: filepath.Base(p), Size: n, ModifiedAt: time.Now().UTC()}, nil
}

// localPath confines name to the files directory.
func (f *Files) localPath(name string) (string, error) {
	if name == "" || !filepath.IsLocal(name) || filepath.Base(name) != name || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(f.dir, name), nil
}
