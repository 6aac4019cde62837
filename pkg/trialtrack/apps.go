package trialtrack

import (
	"fmt"
	"strings"
)

// AppSet is an immutable lookup structure over the configured applications.
// Build it once at startup and pass it explicitly; there is no global app table.
type AppSet struct {
	apps   []App
	bySlug map[string]*App
}

// NewAppSet validates the configured apps and builds the lookup set.
// Declared order is preserved and matters for product identifier matching.
func NewAppSet(apps []App) (*AppSet, error) {
	if len(apps) == 0 {
		return nil, fmt.Errorf("at least one app is required")
	}

	s := &AppSet{
		apps:   make([]App, len(apps)),
		bySlug: make(map[string]*App, len(apps)),
	}
	copy(s.apps, apps)

	for i := range s.apps {
		app := &s.apps[i]
		if strings.TrimSpace(app.Slug) == "" {
			return nil, fmt.Errorf("app %d: slug is required", i)
		}
		if _, ok := s.bySlug[app.Slug]; ok {
			return nil, fmt.Errorf("duplicate app slug %q", app.Slug)
		}
		s.bySlug[app.Slug] = app
	}

	return s, nil
}

// Apps returns the configured apps in declared order.
func (s *AppSet) Apps() []App {
	out := make([]App, len(s.apps))
	copy(out, s.apps)
	return out
}

// Get returns the app with the given slug, or nil.
func (s *AppSet) Get(slug string) *App {
	return s.bySlug[slug]
}

// Resolve maps a routing hint and/or product identifier to a configured app.
// An exact slug match on the hint takes precedence. Otherwise the product
// identifier is lower-cased and tested for containment of each app's
// identifier strings, in declared order. Returns nil when nothing matches.
func (s *AppSet) Resolve(hint, productID string) *App {
	if app, ok := s.bySlug[strings.TrimSpace(hint)]; ok {
		return app
	}

	product := strings.ToLower(strings.TrimSpace(productID))
	if product == "" {
		return nil
	}

	for i := range s.apps {
		app := &s.apps[i]
		for _, ident := range app.Identifiers {
			ident = strings.ToLower(strings.TrimSpace(ident))
			if ident != "" && strings.Contains(product, ident) {
				return app
			}
		}
	}

	return nil
}
