package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"syscall"
	"time"
)

// LocalScheme prefixes artifact URIs when no public base URL is configured
const LocalScheme = "artifact"

// ErrInvalidFilename is returned for names that could escape the job directory
var ErrInvalidFilename = errors.New("invalid artifact filename")

// ErrArtifactNotFound is returned when the requested artifact does not exist
var ErrArtifactNotFound = errors.New("artifact not found")

// isMissing treats a path whose parent is not a directory like a missing file
func isMissing(err error) bool {
	return errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR)
}

// Info describes a stored artifact
type Info struct {
	Size         int64
	LastModified time.Time
}

// ArtifactStore keeps job result blobs under <root>/<jobID>/<filename>
type ArtifactStore struct {
	root       string
	publicBase string
}

// Option customizes an ArtifactStore during construction
type Option func(*ArtifactStore)

// WithPublicBase makes the store produce externally addressable URLs
func WithPublicBase(base string) Option {
	return func(s *ArtifactStore) {
		s.publicBase = strings.TrimRight(base, "/")
	}
}

// NewArtifactStore creates a store rooted at dir
func NewArtifactStore(dir string, opts ...Option) *ArtifactStore {
	s := &ArtifactStore{root: dir}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidateFilename rejects empty, absolute, or traversing names. Filenames are
// a single path element.
func ValidateFilename(name string) error {
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidFilename, name)
	}
	if filepath.IsAbs(name) || path.IsAbs(name) || strings.HasPrefix(name, `\`) {
		return fmt.Errorf("%w: %q is absolute", ErrInvalidFilename, name)
	}
	for _, segment := range strings.FieldsFunc(name, func(r rune) bool { return r == '/' || r == '\\' }) {
		if segment == ".." {
			return fmt.Errorf("%w: %q contains a parent segment", ErrInvalidFilename, name)
		}
	}
	if strings.ContainsAny(name, `/\`) || strings.ContainsRune(name, 0) {
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidFilename, name)
	}
	return nil
}

// resolve maps (jobID, filename) to a path inside the root
func (s *ArtifactStore) resolve(jobID, filename string) (string, error) {
	if err := ValidateFilename(jobID); err != nil {
		return "", fmt.Errorf("invalid job id: %w", err)
	}
	if err := ValidateFilename(filename); err != nil {
		return "", err
	}
	return filepath.Join(s.root, jobID, filename), nil
}

// Write stores data and returns the artifact URI. The job directory is
// created on first write.
func (s *ArtifactStore) Write(jobID, filename string, data []byte) (string, error) {
	p, err := s.resolve(jobID, filename)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create artifact dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filename+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close artifact: %w", err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		return "", fmt.Errorf("failed to commit artifact: %w", err)
	}

	return s.URIFor(jobID, filename), nil
}

// Read returns the stored bytes
func (s *ArtifactStore) Read(jobID, filename string) ([]byte, error) {
	p, err := s.resolve(jobID, filename)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if isMissing(err) {
		return nil, ErrArtifactNotFound
	}
	return data, err
}

// Open returns a reader over the stored artifact for streaming
func (s *ArtifactStore) Open(jobID, filename string) (*os.File, error) {
	p, err := s.resolve(jobID, filename)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if isMissing(err) {
		return nil, ErrArtifactNotFound
	}
	return f, err
}

// Remove deletes a stored artifact and its job directory once empty. Removing
// a missing artifact is not an error.
func (s *ArtifactStore) Remove(jobID, filename string) error {
	p, err := s.resolve(jobID, filename)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !isMissing(err) {
		return fmt.Errorf("failed to remove artifact: %w", err)
	}
	// Fails while other files remain, which is fine
	_ = os.Remove(filepath.Dir(p))
	return nil
}

// Exists reports whether the artifact is present
func (s *ArtifactStore) Exists(jobID, filename string) (bool, error) {
	_, err := s.Stat(jobID, filename)
	if errors.Is(err, ErrArtifactNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Stat returns size and modification time
func (s *ArtifactStore) Stat(jobID, filename string) (Info, error) {
	p, err := s.resolve(jobID, filename)
	if err != nil {
		return Info{}, err
	}
	fi, err := os.Stat(p)
	if isMissing(err) {
		return Info{}, ErrArtifactNotFound
	}
	if err != nil {
		return Info{}, err
	}
	if fi.IsDir() {
		return Info{}, ErrArtifactNotFound
	}
	return Info{Size: fi.Size(), LastModified: fi.ModTime()}, nil
}

// URIFor builds the URI an artifact has (or would have) without touching disk
func (s *ArtifactStore) URIFor(jobID, filename string) string {
	escaped := url.PathEscape(jobID) + "/" + url.PathEscape(filename)
	if s.publicBase != "" {
		return s.publicBase + "/" + escaped
	}
	return LocalScheme + "://" + escaped
}

// ResolveFilenameFromURI extracts and validates the filename of an artifact URI
func ResolveFilenameFromURI(uri string) (string, bool) {
	if uri == "" {
		return "", false
	}
	u, err := url.Parse(uri)
	if err != nil {
		return "", false
	}

	raw := u.EscapedPath()
	if u.Scheme == LocalScheme && raw == "" {
		return "", false
	}
	idx := strings.LastIndex(raw, "/")
	if idx < 0 || idx == len(raw)-1 {
		return "", false
	}

	name, err := url.PathUnescape(raw[idx+1:])
	if err != nil {
		return "", false
	}
	if ValidateFilename(name) != nil {
		return "", false
	}
	return name, true
}
