// Package project maintains the registry of projects the daemon may run
// agents against. Projects are identified by absolute filesystem path
// with an optional short name unique across the registry.
package project

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/c360studio/overseer/statefile"
)

// Project is one registered working tree.
type Project struct {
	Path        string     `json:"path"`
	Name        string     `json:"name,omitempty"`
	Registered  time.Time  `json:"registered"`
	LastSession *time.Time `json:"lastSession"`
}

// document is the on-disk shape.
type document struct {
	Projects []Project `json:"projects"`
}

// Registry is the durable project set.
type Registry struct {
	stateFile string
	lock      *statefile.Lock
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// WithClock overrides the registry's time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New creates a registry persisting to stateFile.
func New(stateFile string, opts ...Option) *Registry {
	r := &Registry{
		stateFile: stateFile,
		lock:      statefile.NewLock(stateFile),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds a project. The path must be absolute; the short name,
// when given, must be unique across the registry. Re-registering an
// already known path is an error.
func (r *Registry) Register(path, name string) error {
	if !filepath.IsAbs(path) {
		return fmt.Errorf("project path must be absolute: %s", path)
	}
	path = filepath.Clean(path)
	return r.lock.WithLock(func() error {
		var doc document
		if _, err := statefile.ReadJSON(r.stateFile, &doc); err != nil {
			return err
		}
		for _, p := range doc.Projects {
			if p.Path == path {
				return fmt.Errorf("project already registered: %s", path)
			}
			if name != "" && p.Name == name {
				return fmt.Errorf("project name already in use: %s", name)
			}
		}
		doc.Projects = append(doc.Projects, Project{
			Path:       path,
			Name:       name,
			Registered: r.now(),
		})
		return statefile.WriteJSON(r.stateFile, &doc)
	})
}

// Unregister removes a project by short name or path.
func (r *Registry) Unregister(ref string) error {
	return r.lock.WithLock(func() error {
		var doc document
		if _, err := statefile.ReadJSON(r.stateFile, &doc); err != nil {
			return err
		}
		for i, p := range doc.Projects {
			if matches(p, ref) {
				doc.Projects = append(doc.Projects[:i], doc.Projects[i+1:]...)
				return statefile.WriteJSON(r.stateFile, &doc)
			}
		}
		return fmt.Errorf("project not registered: %s", ref)
	})
}

// List returns all registered projects in registration order.
func (r *Registry) List() ([]Project, error) {
	var doc document
	if _, err := statefile.ReadJSON(r.stateFile, &doc); err != nil {
		return nil, err
	}
	return doc.Projects, nil
}

// Get returns the project matching ref (short name or path).
func (r *Registry) Get(ref string) (*Project, error) {
	projects, err := r.List()
	if err != nil {
		return nil, err
	}
	for _, p := range projects {
		if matches(p, ref) {
			return &p, nil
		}
	}
	return nil, fmt.Errorf("project not registered: %s", ref)
}

// Resolve maps a short name to its absolute path. Unresolved references
// pass through unchanged so callers can accept raw paths.
func (r *Registry) Resolve(ref string) string {
	if p, err := r.Get(ref); err == nil {
		return p.Path
	}
	return ref
}

// TouchSession stamps a project's lastSession timestamp.
func (r *Registry) TouchSession(path string) error {
	return r.lock.WithLock(func() error {
		var doc document
		if _, err := statefile.ReadJSON(r.stateFile, &doc); err != nil {
			return err
		}
		for i := range doc.Projects {
			if doc.Projects[i].Path == path {
				now := r.now()
				doc.Projects[i].LastSession = &now
				return statefile.WriteJSON(r.stateFile, &doc)
			}
		}
		return fmt.Errorf("project not registered: %s", path)
	})
}

func matches(p Project, ref string) bool {
	return (p.Name != "" && p.Name == ref) || p.Path == filepath.Clean(ref)
}
