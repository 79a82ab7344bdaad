package filestore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"
	"sync"
)

// Memory is a Backend held in process memory. Intended for tests.
type Memory struct {
	mu    sync.RWMutex
	files map[string][]byte
}

// NewMemory returns an empty memory backend.
func NewMemory() *Memory {
	return &Memory{files: make(map[string][]byte)}
}

// Put replaces the content of name.
func (m *Memory) Put(name, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[name] = []byte(content)
}

// Contents returns the content of name, or "" if it does not exist.
func (m *Memory) Contents(name string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return string(m.files[name])
}

// Exists reports whether name has been written.
func (m *Memory) Exists(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.files[name]
	return ok
}

// Names returns the names of every file, sorted.
func (m *Memory) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.files))
	for name := range m.files {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (m *Memory) OpenRead(_ context.Context, name string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.files[name]
	if !ok {
		return nil, fmt.Errorf("%s not found", name)
	}
	return io.NopCloser(bytes.NewReader(append([]byte(nil), b...))), nil
}

func (m *Memory) OpenWrite(_ context.Context, name string, appending bool) (io.WriteCloser, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing := m.files[name]
	if !appending {
		existing = nil
	}
	m.files[name] = append([]byte(nil), existing...)
	return &memoryFile{m: m, name: name}, len(existing) > 0, nil
}

// memoryFile writes through to the backend on every call so that contents
// are visible before Close.
type memoryFile struct {
	m    *Memory
	name string
}

func (f *memoryFile) Write(p []byte) (int, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	f.m.files[f.name] = append(f.m.files[f.name], p...)
	return len(p), nil
}

func (f *memoryFile) Close() error { return nil }
