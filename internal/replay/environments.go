package replay

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"

	"github.com/usestring/trafficlab/internal/logging"
	"github.com/usestring/trafficlab/pkg/types"
)

// environmentsFile is the TOML layout of an environments file:
//
//	[environments.staging]
//	base_url = "https://staging.example.com"
//	[environments.staging.headers]
//	X-Env = "staging"
type environmentsFile struct {
	Environments map[string]types.Environment `toml:"environments"`
}

// Environments is the named target mapping used by replay. It is safe for
// concurrent use and can be reloaded from its file while replays run.
type Environments struct {
	mu     sync.RWMutex
	envs   map[string]types.Environment
	path   string
	logger *slog.Logger
}

// NewEnvironments creates an in-memory mapping.
func NewEnvironments(envs ...types.Environment) *Environments {
	e := &Environments{
		envs:   make(map[string]types.Environment, len(envs)),
		logger: logging.Component("replay.env"),
	}
	for _, env := range envs {
		e.envs[strings.ToLower(env.Name)] = normalizeEnv(env.Name, env)
	}
	return e
}

// LoadEnvironments reads the mapping from a TOML file.
func LoadEnvironments(path string) (*Environments, error) {
	e := NewEnvironments()
	e.path = path
	if err := e.Reload(); err != nil {
		return nil, err
	}
	return e, nil
}

// Reload re-reads the backing file. On error the current mapping is kept.
func (e *Environments) Reload() error {
	if e.path == "" {
		return nil
	}
	var f environmentsFile
	if _, err := toml.DecodeFile(e.path, &f); err != nil {
		return fmt.Errorf("decoding environments %s: %w", e.path, err)
	}
	envs := make(map[string]types.Environment, len(f.Environments))
	for name, env := range f.Environments {
		env = normalizeEnv(name, env)
		if _, err := parseBaseURL(env.BaseURL); err != nil {
			return fmt.Errorf("environment %q: %w", name, err)
		}
		envs[strings.ToLower(name)] = env
	}

	e.mu.Lock()
	e.envs = envs
	e.mu.Unlock()
	e.logger.Info("environments loaded", "path", e.path, "count", len(envs))
	return nil
}

// Lookup returns the environment with the given name (case-insensitive).
func (e *Environments) Lookup(name string) (types.Environment, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	env, ok := e.envs[strings.ToLower(name)]
	return env, ok
}

// Set adds or replaces an environment in memory.
func (e *Environments) Set(env types.Environment) error {
	if _, err := parseBaseURL(env.BaseURL); err != nil {
		return fmt.Errorf("environment %q: %w", env.Name, err)
	}
	e.mu.Lock()
	e.envs[strings.ToLower(env.Name)] = normalizeEnv(env.Name, env)
	e.mu.Unlock()
	return nil
}

// List returns every environment sorted by name.
func (e *Environments) List() []types.Environment {
	e.mu.RLock()
	out := make([]types.Environment, 0, len(e.envs))
	for _, env := range e.envs {
		out = append(out, env)
	}
	e.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Watch reloads the file whenever it changes until ctx is done. The
// directory is watched so editors that replace the file are handled.
func (e *Environments) Watch(ctx context.Context, debounce time.Duration) error {
	if e.path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating environments watcher: %w", err)
	}
	abs, err := filepath.Abs(e.path)
	if err != nil {
		w.Close()
		return err
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}
	e.logger.Debug("watching environments", "path", abs)

	go func() {
		defer w.Close()
		var pending <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != abs {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				// Editors write in bursts; reload once they settle.
				pending = time.After(debounce)
			case <-pending:
				pending = nil
				if err := e.Reload(); err != nil {
					e.logger.Warn("environments reload failed, keeping previous mapping", "error", err)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				e.logger.Warn("environments watcher error", "error", err)
			}
		}
	}()
	return nil
}

func normalizeEnv(name string, env types.Environment) types.Environment {
	env.Name = strings.ToLower(name)
	env.BaseURL = strings.TrimSpace(env.BaseURL)
	if env.Headers == nil {
		env.Headers = map[string]string{}
	}
	return env
}

func parseBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid base_url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base_url %q: scheme and host required", raw)
	}
	return u, nil
}
