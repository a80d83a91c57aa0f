package template

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/utilitrack/invoice-pipeline/constants"
	"github.com/utilitrack/invoice-pipeline/internal/common"
)

// Registry holds compiled templates keyed by (provider, service_type).
// Lookups are read-mostly; Replace swaps a fresh map so in-flight lookups
// of other templates never observe a partial update.
type Registry struct {
	logger *slog.Logger

	mu         sync.RWMutex
	byKey      map[string]*Template
	byProvider map[string][]*Template
}

// NewRegistry returns an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:     logger,
		byKey:      make(map[string]*Template),
		byProvider: make(map[string][]*Template),
	}
}

func regKey(provider string, st constants.ServiceType) string {
	return strings.ToLower(strings.TrimSpace(provider)) + "|" + strings.ToLower(string(st))
}

// LoadDir parses every *.json template in dir. Any malformed template fails
// the whole load; a template that cannot be validated must never become
// selectable.
func (r *Registry) LoadDir(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read templates dir: %w", err)
	}

	var (
		loaded []*Template
		errs   []error
	)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Name(), err))
			continue
		}
		t, err := Parse(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Name(), err))
			continue
		}
		loaded = append(loaded, t)
		r.logger.Info("loaded template",
			"file", e.Name(), "provider", t.Provider,
			"service_type", t.ServiceType, "fields", len(t.Fields))
	}
	if len(errs) > 0 {
		return 0, errors.Join(errs...)
	}
	if len(loaded) == 0 {
		return 0, fmt.Errorf("no templates found in %s", dir)
	}

	byKey := make(map[string]*Template, len(loaded))
	byProvider := make(map[string][]*Template)
	for _, t := range loaded {
		k := regKey(t.Provider, t.ServiceType)
		if _, dup := byKey[k]; dup {
			return 0, fmt.Errorf("duplicate template for provider %q service %q", t.Provider, t.ServiceType)
		}
		byKey[k] = t
		p := strings.ToLower(strings.TrimSpace(t.Provider))
		byProvider[p] = append(byProvider[p], t)
	}

	r.mu.Lock()
	r.byKey = byKey
	r.byProvider = byProvider
	r.mu.Unlock()

	r.logger.Info("template registry loaded", "templates", len(loaded))
	return len(loaded), nil
}

// Lookup finds the template for a provider hint, optionally narrowed by
// service type. A hint matching no template (or an ambiguous hint without a
// service type) is ErrNoTemplateFound.
func (r *Registry) Lookup(provider string, st constants.ServiceType) (*Template, error) {
	p := strings.ToLower(strings.TrimSpace(provider))
	if p == "" {
		return nil, fmt.Errorf("%w: empty provider hint", common.ErrNoTemplateFound)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if st != "" {
		if t, ok := r.byKey[regKey(provider, st)]; ok {
			return t, nil
		}
		return nil, fmt.Errorf("%w: provider %q service %q", common.ErrNoTemplateFound, provider, st)
	}

	switch candidates := r.byProvider[p]; len(candidates) {
	case 0:
		return nil, fmt.Errorf("%w: provider %q", common.ErrNoTemplateFound, provider)
	case 1:
		return candidates[0], nil
	default:
		return nil, fmt.Errorf("%w: provider %q has %d templates, service type hint required",
			common.ErrNoTemplateFound, provider, len(candidates))
	}
}

// Replace hot-swaps a single template copy-on-update. In-flight lookups of
// other templates keep reading the old map until the swap completes.
func (r *Registry) Replace(t *Template) {
	r.mu.Lock()
	defer r.mu.Unlock()

	byKey := make(map[string]*Template, len(r.byKey)+1)
	for k, v := range r.byKey {
		byKey[k] = v
	}
	byKey[regKey(t.Provider, t.ServiceType)] = t

	byProvider := make(map[string][]*Template, len(byKey))
	for _, v := range byKey {
		p := strings.ToLower(strings.TrimSpace(v.Provider))
		byProvider[p] = append(byProvider[p], v)
	}

	r.byKey = byKey
	r.byProvider = byProvider
	r.logger.Info("template replaced", "provider", t.Provider, "service_type", t.ServiceType, "version", t.Version)
}

// Providers lists providers with at least one template, sorted.
func (r *Registry) Providers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	var out []string
	for _, t := range r.byKey {
		if _, ok := seen[t.Provider]; ok {
			continue
		}
		seen[t.Provider] = struct{}{}
		out = append(out, t.Provider)
	}
	sort.Strings(out)
	return out
}

// Templates returns a snapshot of all loaded templates.
func (r *Registry) Templates() []*Template {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Template, 0, len(r.byKey))
	for _, t := range r.byKey {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].ServiceType < out[j].ServiceType
	})
	return out
}
