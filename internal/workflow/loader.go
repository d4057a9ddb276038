package workflow

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
)

// Loader loads and caches workflow definitions from a directory of
// *.yaml / *.yml files. Task names without a file resolve to the
// generic single-agent definition.
type Loader struct {
	dir    string
	cache  map[string]*Definition
	mu     sync.RWMutex
	loaded bool
}

// NewLoader creates a Loader for dir. An empty dir loads nothing.
func NewLoader(dir string) *Loader {
	return &Loader{dir: dir, cache: make(map[string]*Definition)}
}

// Load reads every definition in the directory. A missing directory is
// not an error.
func (l *Loader) Load() (map[string]*Definition, error) {
	l.mu.RLock()
	if l.loaded {
		defer l.mu.RUnlock()
		return maps.Clone(l.cache), nil
	}
	l.mu.RUnlock()

	defs, err := l.loadDirectory()
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.cache = defs
	l.loaded = true
	l.mu.Unlock()
	return maps.Clone(defs), nil
}

// LoadFile loads a single definition file, bypassing the cache.
func (l *Loader) LoadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}
	def, err := ParseDefinition(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse workflow file %s: %w", path, err)
	}
	def.FilePath = path
	return def, nil
}

// Reload clears the cache and loads again.
func (l *Loader) Reload() (map[string]*Definition, error) {
	l.mu.Lock()
	l.cache = make(map[string]*Definition)
	l.loaded = false
	l.mu.Unlock()
	return l.Load()
}

// Get returns the definition for a task name, or the generic definition.
func (l *Loader) Get(name string) (*Definition, error) {
	if _, err := l.Load(); err != nil {
		return nil, err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	if def, ok := l.cache[name]; ok {
		return def, nil
	}
	return GenericDefinition(name), nil
}

// List returns the names of loaded definitions, sorted.
func (l *Loader) List() ([]string, error) {
	defs, err := l.Load()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

func (l *Loader) loadDirectory() (map[string]*Definition, error) {
	defs := make(map[string]*Definition)
	if l.dir == "" {
		return defs, nil
	}
	if _, err := os.Stat(l.dir); os.IsNotExist(err) {
		return defs, nil
	}

	err := filepath.WalkDir(l.dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		def, err := l.LoadFile(path)
		if err != nil {
			return err
		}
		if prev, ok := defs[def.Name]; ok {
			return fmt.Errorf("workflow %q defined twice: %s and %s", def.Name, prev.FilePath, path)
		}
		defs[def.Name] = def
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load workflows: %w", err)
	}
	return defs, nil
}
