package session

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/shehryarbajwa/browserfarm/internal/driver"
	"github.com/shehryarbajwa/browserfarm/internal/faults"
)

// PageKey identifies a page by its context key and page key
type PageKey struct {
	Context string
	Page    string
}

// Registry memoizes context and page handles for one attached driver session.
// It is owned by a single run and is not safe for concurrent use.
type Registry struct {
	session  driver.Session
	contexts map[string]driver.Context
	pages    map[PageKey]driver.Page
	log      logrus.FieldLogger
}

// NewRegistry creates an empty, unbound registry
func NewRegistry(log logrus.FieldLogger) *Registry {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Registry{
		contexts: make(map[string]driver.Context),
		pages:    make(map[PageKey]driver.Page),
		log:      log,
	}
}

// Bind attaches the registry to a driver session
func (r *Registry) Bind(s driver.Session) {
	r.session = s
}

// Unbind detaches the registry. Existing entries stay readable but every
// get-or-create call fails with ErrNotAttached.
func (r *Registry) Unbind() {
	r.session = nil
}

// Attached reports whether a session is bound
func (r *Registry) Attached() bool {
	return r.session != nil
}

// GetContext returns the context registered under key, creating it on first use
func (r *Registry) GetContext(ctx context.Context, key string) (driver.Context, error) {
	if r.session == nil {
		return nil, faults.New(faults.ErrNotAttached, "get context "+key, nil)
	}
	if bc, ok := r.contexts[key]; ok {
		return bc, nil
	}

	bc, err := r.session.NewContext(ctx)
	if err != nil {
		return nil, faults.New(faults.ErrDriver, "new context "+key, err)
	}
	r.contexts[key] = bc
	r.log.WithFields(logrus.Fields{"context": key, "handle": bc.ID()}).Debug("context created")
	return bc, nil
}

// GetPage returns the page registered under (contextKey, pageKey), focusing it,
// or opens a new page in the resolved context.
func (r *Registry) GetPage(ctx context.Context, contextKey, pageKey string) (driver.Page, error) {
	if r.session == nil {
		return nil, faults.New(faults.ErrNotAttached, "get page "+contextKey+"/"+pageKey, nil)
	}
	bc, err := r.GetContext(ctx, contextKey)
	if err != nil {
		return nil, err
	}

	key := PageKey{Context: contextKey, Page: pageKey}
	if p, ok := r.pages[key]; ok {
		if err := r.session.Focus(ctx, p); err != nil {
			return nil, faults.New(faults.ErrDriver, "focus page "+contextKey+"/"+pageKey, err)
		}
		return p, nil
	}

	p, err := r.session.NewPage(ctx, bc)
	if err != nil {
		return nil, faults.New(faults.ErrDriver, "new page "+contextKey+"/"+pageKey, err)
	}
	r.pages[key] = p
	r.log.WithFields(logrus.Fields{"context": contextKey, "page": pageKey, "handle": p.ID()}).Debug("page created")
	return p, nil
}

// AdoptContext registers an already-open context under key without touching
// the driver. It reports false when key is already taken.
func (r *Registry) AdoptContext(key string, bc driver.Context) bool {
	if _, ok := r.contexts[key]; ok {
		return false
	}
	r.contexts[key] = bc
	r.log.WithFields(logrus.Fields{"context": key, "handle": bc.ID()}).Debug("context adopted")
	return true
}

// Lookup returns a registered page without any side effect
func (r *Registry) Lookup(key PageKey) (driver.Page, bool) {
	p, ok := r.pages[key]
	return p, ok
}

// ContextKeys returns the registered context keys in sorted order
func (r *Registry) ContextKeys() []string {
	keys := make([]string, 0, len(r.contexts))
	for k := range r.contexts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// PageKeys returns the registered page keys sorted by context then page
func (r *Registry) PageKeys() []PageKey {
	keys := make([]PageKey, 0, len(r.pages))
	for k := range r.pages {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Context != keys[j].Context {
			return keys[i].Context < keys[j].Context
		}
		return keys[i].Page < keys[j].Page
	})
	return keys
}
