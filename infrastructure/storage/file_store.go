// Package storage keeps uploaded score documents on local disk under
// content-addressed names.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/infrastructure/score"
	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/domain"
	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/ports"
)

// DefaultMaxBytes is the upload ceiling used when none is configured.
const DefaultMaxBytes = 10 << 20

// refPattern matches the names Save produces and nothing else, so a ref
// can never escape the store directory.
var refPattern = regexp.MustCompile(`^[0-9a-f]{64}(\.[a-z0-9]{1,8})?$`)

var allowedExt = map[string]bool{".json": true}

// FileStore is a ports.DocumentStore backed by a directory. Documents are
// validated on Save and written atomically, so Load only fails on I/O
// problems or corruption.
type FileStore struct {
	dir      string
	maxBytes int64
	logger   *zap.Logger
	now      func() time.Time
}

var _ ports.DocumentStore = (*FileStore)(nil)

// Option configures a FileStore.
type Option func(*FileStore)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *FileStore) { s.now = now }
}

// NewFileStore creates the directory if needed. A non-positive maxBytes
// selects DefaultMaxBytes.
func NewFileStore(dir string, maxBytes int64, logger *zap.Logger, opts ...Option) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("%w: storage directory is required", domain.ErrInvalidConfiguration)
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	s := &FileStore{dir: dir, maxBytes: maxBytes, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// MaxBytes returns the upload ceiling.
func (s *FileStore) MaxBytes() int64 { return s.maxBytes }

// Save validates data as a score and stores it under the hex sha256 of its
// bytes plus the lower-cased extension of name. Identical bytes map to the
// same ref and are written once.
func (s *FileStore) Save(ctx context.Context, name string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if int64(len(data)) > s.maxBytes {
		return "", fmt.Errorf("%w: %d bytes exceeds the %d byte limit", domain.ErrPayloadTooLarge, len(data), s.maxBytes)
	}

	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		ext = ".json"
	}
	if !allowedExt[ext] {
		verr := domain.NewValidationError("document")
		verr.AddError(fmt.Sprintf("unsupported file type %q", ext))
		return "", verr
	}
	if _, err := score.Parse(data); err != nil {
		verr := domain.NewValidationError("document")
		verr.AddError(err.Error())
		return "", verr
	}

	sum := sha256.Sum256(data)
	ref := hex.EncodeToString(sum[:]) + ext
	path := filepath.Join(s.dir, ref)

	if _, err := os.Stat(path); err == nil {
		return ref, nil
	}

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", domain.NewStorageError("save", ref, err)
	}
	tmpPath := tmp.Name()
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if err := errors.Join(werr, cerr); err != nil {
		os.Remove(tmpPath)
		return "", domain.NewStorageError("save", ref, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return "", domain.NewStorageError("save", ref, err)
	}

	s.logger.Debug("document stored", zap.String("ref", ref), zap.Int("bytes", len(data)))
	return ref, nil
}

// Stat reports the size and storage time of ref.
func (s *FileStore) Stat(ctx context.Context, ref string) (ports.DocumentInfo, error) {
	if err := ctx.Err(); err != nil {
		return ports.DocumentInfo{}, err
	}
	path, err := s.path(ref)
	if err != nil {
		return ports.DocumentInfo{}, err
	}
	fi, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ports.DocumentInfo{}, fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, ref)
		}
		return ports.DocumentInfo{}, domain.NewStorageError("stat", ref, err)
	}
	return ports.DocumentInfo{Ref: ref, Size: fi.Size(), StoredAt: fi.ModTime()}, nil
}

// Load reads and parses ref.
func (s *FileStore) Load(ctx context.Context, ref string) (ports.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.path(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, ref)
		}
		return nil, domain.NewStorageError("load", ref, err)
	}
	doc, err := score.Parse(data)
	if err != nil {
		return nil, domain.NewStorageError("load", ref, err)
	}
	return doc, nil
}

// Sweep deletes documents stored more than ttl ago and returns how many it
// removed. Temporary files from interrupted saves are removed too.
func (s *FileStore) Sweep(ttl time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, domain.NewStorageError("sweep", s.dir, err)
	}
	cutoff := s.now().Add(-ttl)
	var (
		removed int
		errs    []error
	)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || (!refPattern.MatchString(name) && !strings.HasPrefix(name, ".upload-")) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("swept stored documents", zap.Int("removed", removed), zap.Duration("ttl", ttl))
	}
	if err := errors.Join(errs...); err != nil {
		return removed, domain.NewStorageError("sweep", s.dir, err)
	}
	return removed, nil
}

// RunSweeper calls Sweep every interval until ctx is done.
func (s *FileStore) RunSweeper(ctx context.Context, interval, ttl time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := s.Sweep(ttl); err != nil {
				s.logger.Warn("document sweep failed", zap.Error(err))
			}
		}
	}
}

func (s *FileStore) path(ref string) (string, error) {
	if !refPattern.MatchString(ref) {
		return "", fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, ref)
	}
	return filepath.Join(s.dir, ref), nil
}
