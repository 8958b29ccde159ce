package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FSStore keeps objects under a root directory. Writes go through a temp
// file and rename so readers never observe a partial object.
type FSStore struct {
	root string
}

func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

func (s *FSStore) Put(_ context.Context, key string, data []byte) error {
	dst := s.path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".put-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

func (s *FSStore) Get(_ context.Context, key string) ([]byte, error) {
	return os.ReadFile(s.path(key))
}

func (s *FSStore) Merge(ctx context.Context, finalKey string, partKeys []string) error {
	if len(partKeys) == 0 {
		return fmt.Errorf("merge of zero parts")
	}
	var merged []byte
	for _, k := range partKeys {
		part, err := s.Get(ctx, k)
		if err != nil {
			return fmt.Errorf("read part %s: %w", k, err)
		}
		merged = append(merged, part...)
	}
	return s.Put(ctx, finalKey, merged)
}

func (s *FSStore) URL(key string) string {
	return "file://" + s.path(key)
}
