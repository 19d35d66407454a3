package crp

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// Store persists enrollments.
type Store interface {
	Save(ctx context.Context, e *Enrollment) error
	Load(ctx context.Context, id string) (*Enrollment, error)
	List(ctx context.Context) ([]string, error)
	// MarkUsed flags the pairs at the given indices as spent.
	MarkUsed(ctx context.Context, id string, idx []int) error
	// Claim atomically picks the first n unused pairs of id, marks them
	// used and returns their indices and records. Concurrent claims never
	// return the same pair. ErrExhausted when fewer than n remain.
	Claim(ctx context.Context, id string, n int) ([]int, []Record, error)
	Close() error
}

// FileStore keeps one indented JSON document per device in a directory.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create store dir")
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", errors.Errorf("crp: invalid device id %q", id)
	}
	return filepath.Join(s.dir, id+".json"), nil
}

func (s *FileStore) Save(_ context.Context, e *Enrollment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(e)
}

// write stores e through a temporary file so readers never see a partial
// document. Caller holds s.mu.
func (s *FileStore) write(e *Enrollment) error {
	p, err := s.path(e.DeviceID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal enrollment")
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.Wrap(err, "write enrollment")
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrap(err, "write enrollment")
	}
	return nil
}

func (s *FileStore) Load(_ context.Context, id string) (*Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(id)
}

func (s *FileStore) read(id string) (*Enrollment, error) {
	p, err := s.path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrapf(ErrNotFound, "%s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "read enrollment")
	}
	var e Enrollment
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, errors.Wrap(err, "unmarshal enrollment")
	}
	return &e, nil
}

func (s *FileStore) List(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(matches))
	for _, m := range matches {
		ids = append(ids, strings.TrimSuffix(filepath.Base(m), ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *FileStore) MarkUsed(_ context.Context, id string, idx []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.read(id)
	if err != nil {
		return err
	}
	for _, i := range idx {
		if i < 0 || i >= len(e.CRPs) {
			return errors.Errorf("crp: pair index %d out of range", i)
		}
		e.CRPs[i].Used = true
	}
	return s.write(e)
}

func (s *FileStore) Claim(_ context.Context, id string, n int) ([]int, []Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, err := s.read(id)
	if err != nil {
		return nil, nil, err
	}
	unused := e.Unused()
	if len(unused) < n {
		return nil, nil, errors.Wrapf(ErrExhausted, "%d left, %d requested", len(unused), n)
	}
	picked := unused[:n]
	recs := make([]Record, n)
	for i, idx := range picked {
		e.CRPs[idx].Used = true
		recs[i] = e.CRPs[idx]
	}
	if err := s.write(e); err != nil {
		return nil, nil, err
	}
	return picked, recs, nil
}

func (s *FileStore) Close() error { return nil }
