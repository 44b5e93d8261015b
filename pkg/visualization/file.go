package visualization

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// fileStore is the on-disk layout: a flat keyed collection.
type fileStore struct {
	Version        int                       `json:"version"`
	Visualizations map[string]*Visualization `json:"visualizations"`
}

// FileRepository keeps every Visualization in one JSON file. The file is
// read in full on open and rewritten on every mutation.
type FileRepository struct {
	path  string
	mu    sync.RWMutex
	store fileStore
}

// OpenFileRepository loads path, starting empty when it does not exist yet.
func OpenFileRepository(path string) (*FileRepository, error) {
	r := &FileRepository{
		path:  path,
		store: fileStore{Version: 1, Visualizations: map[string]*Visualization{}},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("load visualization store: %w", err)
	}
	if len(data) == 0 {
		return r, nil
	}
	if err := json.Unmarshal(data, &r.store); err != nil {
		return nil, fmt.Errorf("parse visualization store: %w", err)
	}
	if r.store.Visualizations == nil {
		r.store.Visualizations = map[string]*Visualization{}
	}
	return r, nil
}

// Path returns the backing file.
func (r *FileRepository) Path() string { return r.path }

func (r *FileRepository) Get(_ context.Context, contentID string) (*Visualization, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.store.Visualizations[contentID]
	if !ok {
		return nil, ErrNotFound
	}
	return v.Clone(), nil
}

func (r *FileRepository) Upsert(ctx context.Context, v *Visualization) error {
	if v == nil || v.ContentID == "" {
		return fmt.Errorf("upsert visualization: content id is required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, existed := r.store.Visualizations[v.ContentID]
	r.store.Visualizations[v.ContentID] = v.Clone()
	if err := r.saveLocked(); err != nil {
		if existed {
			r.store.Visualizations[v.ContentID] = prev
		} else {
			delete(r.store.Visualizations, v.ContentID)
		}
		return err
	}
	return nil
}

func (r *FileRepository) List(_ context.Context, limit int) ([]*Visualization, error) {
	r.mu.RLock()
	items := make([]*Visualization, 0, len(r.store.Visualizations))
	for _, v := range r.store.Visualizations {
		items = append(items, v.Clone())
	}
	r.mu.RUnlock()

	sortRecent(items)
	return applyLimit(items, limit), nil
}

// saveLocked writes through a temp file so a crash never leaves a truncated
// store behind.
func (r *FileRepository) saveLocked() error {
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("save visualization store: %w", err)
	}
	data, err := json.MarshalIndent(r.store, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal visualization store: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(r.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("save visualization store: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("save visualization store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("save visualization store: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("save visualization store: %w", err)
	}
	return nil
}

var _ Repository = (*FileRepository)(nil)
