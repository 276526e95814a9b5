package prefs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// FileStore persists preferences as a single JSON document. Every mutation
// is written through before it returns.
type FileStore struct {
	path   string
	mu     sync.RWMutex
	values map[string]string
}

type fileStoreData struct {
	Version string            `json:"version"`
	Values  map[string]string `json:"values"`
}

// NewFileStore opens the store at path, loading existing values if the file exists
func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{
		path:   path,
		values: make(map[string]string),
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create prefs directory: %w", err)
	}

	if err := fs.load(); err != nil {
		return nil, err
	}

	return fs, nil
}

func (fs *FileStore) GetString(_ context.Context, key string) (string, bool, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	v, ok := fs.values[key]
	return v, ok, nil
}

func (fs *FileStore) SetString(_ context.Context, key, value string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	prev, existed := fs.values[key]
	fs.values[key] = value
	if err := fs.save(); err != nil {
		if existed {
			fs.values[key] = prev
		} else {
			delete(fs.values, key)
		}
		return err
	}
	return nil
}

func (fs *FileStore) GetBool(ctx context.Context, key string) (bool, error) {
	v, ok, err := fs.GetString(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	return parseBool(v), nil
}

func (fs *FileStore) SetBool(ctx context.Context, key string, value bool) error {
	return fs.SetString(ctx, key, strconv.FormatBool(value))
}

func (fs *FileStore) Remove(_ context.Context, key string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	prev, existed := fs.values[key]
	if !existed {
		return nil
	}
	delete(fs.values, key)
	if err := fs.save(); err != nil {
		fs.values[key] = prev
		return err
	}
	return nil
}

// load reads the document from disk; a missing file is an empty store
func (fs *FileStore) load() error {
	data, err := os.ReadFile(fs.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read prefs file: %w", err)
	}

	var doc fileStoreData
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse prefs file %s: %w", fs.path, err)
	}

	for k, v := range doc.Values {
		fs.values[k] = v
	}
	return nil
}

// save writes the document atomically. Caller holds fs.mu.
func (fs *FileStore) save() error {
	data, err := json.MarshalIndent(fileStoreData{Version: "1", Values: fs.values}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal prefs: %w", err)
	}

	tmp := fs.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write prefs file: %w", err)
	}
	if err := os.Rename(tmp, fs.path); err != nil {
		return fmt.Errorf("failed to replace prefs file: %w", err)
	}
	return nil
}
