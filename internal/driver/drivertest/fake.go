// Package drivertest provides an in-memory driver that records every call,
// for tests of the registry, the coordinator and the run pipeline.
package drivertest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shehryarbajwa/browserfarm/internal/driver"
)

// Call names recorded by the fake.
const (
	CallAttach     = "attach"
	CallNewContext = "new_context"
	CallNewPage    = "new_page"
	CallContexts   = "contexts"
	CallFocus      = "focus"
	CallInitScript = "init_script"
	CallQuit       = "quit"
	CallNavigate   = "navigate"
	CallFill       = "fill"
	CallClick      = "click"
	CallCount      = "count"
)

// Call is one recorded driver invocation.
type Call struct {
	Name string
	Arg  string
}

// Journal is an ordered call log. Several fakes (and farm stubs) may share one
// so tests can assert cross-component ordering.
type Journal struct {
	mu    sync.Mutex
	calls []Call
}

// Record appends a call.
func (j *Journal) Record(name, arg string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls = append(j.calls, Call{Name: name, Arg: arg})
}

// Calls returns a copy of the log.
func (j *Journal) Calls() []Call {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Call, len(j.calls))
	copy(out, j.calls)
	return out
}

// Count returns how many calls named name were recorded.
func (j *Journal) Count(name string) int {
	n := 0
	for _, c := range j.Calls() {
		if c.Name == name {
			n++
		}
	}
	return n
}

// Names returns the recorded call names in order.
func (j *Journal) Names() []string {
	calls := j.Calls()
	names := make([]string, len(calls))
	for i, c := range calls {
		names[i] = c.Name
	}
	return names
}

// Driver is a scriptable fake driver.
type Driver struct {
	Journal *Journal

	// Existing is the number of contexts already open when a session attaches.
	Existing int

	AttachErr     error
	NewContextErr error
	NewPageErr    error
	ContextsErr   error
	QuitErr       error
	InitScriptErr error

	// FillErr and ClickErr fail interactions on specific selectors.
	FillErr  map[string]error
	ClickErr map[string]error
	// CountFn answers Count; nil reports zero matches.
	CountFn func(selector string, call int) int

	mu       sync.Mutex
	sessions []*Session
}

// New returns a fake driver with a fresh journal.
func New() *Driver {
	return &Driver{Journal: &Journal{}}
}

func (d *Driver) Name() string { return "fake" }

// Attach records the endpoint and returns a new session.
func (d *Driver) Attach(ctx context.Context, ep driver.Endpoint) (driver.Session, error) {
	d.journal().Record(CallAttach, ep.Address())
	if d.AttachErr != nil {
		return nil, d.AttachErr
	}
	s := &Session{driver: d, Endpoint: ep}
	for i := 0; i < d.Existing; i++ {
		s.contexts = append(s.contexts, &Context{id: fmt.Sprintf("existing-%d", i+1)})
	}
	d.mu.Lock()
	d.sessions = append(d.sessions, s)
	d.mu.Unlock()
	return s, nil
}

// Sessions returns the sessions attached so far.
func (d *Driver) Sessions() []*Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Session(nil), d.sessions...)
}

func (d *Driver) journal() *Journal {
	if d.Journal == nil {
		d.Journal = &Journal{}
	}
	return d.Journal
}

// Session is a fake attached session.
type Session struct {
	driver   *Driver
	Endpoint driver.Endpoint
	Scripts  []string
	Quitted  bool

	mu       sync.Mutex
	contexts []*Context
	pages    []*Page
	seq      int
	counts   map[string]int
}

func (s *Session) NewContext(ctx context.Context) (driver.Context, error) {
	s.driver.journal().Record(CallNewContext, "")
	if s.driver.NewContextErr != nil {
		return nil, s.driver.NewContextErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	c := &Context{id: fmt.Sprintf("ctx-%d", s.seq)}
	s.contexts = append(s.contexts, c)
	return c, nil
}

func (s *Session) NewPage(ctx context.Context, bc driver.Context) (driver.Page, error) {
	s.driver.journal().Record(CallNewPage, bc.ID())
	if s.driver.NewPageErr != nil {
		return nil, s.driver.NewPageErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	p := &Page{id: fmt.Sprintf("page-%d", s.seq), ContextID: bc.ID(), session: s}
	s.pages = append(s.pages, p)
	return p, nil
}

func (s *Session) Contexts(ctx context.Context) ([]driver.Context, error) {
	s.driver.journal().Record(CallContexts, "")
	if s.driver.ContextsErr != nil {
		return nil, s.driver.ContextsErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]driver.Context, len(s.contexts))
	for i, c := range s.contexts {
		out[i] = c
	}
	return out, nil
}

func (s *Session) Focus(ctx context.Context, p driver.Page) error {
	s.driver.journal().Record(CallFocus, p.ID())
	return nil
}

func (s *Session) AddInitScript(ctx context.Context, script string) error {
	s.driver.journal().Record(CallInitScript, script)
	if s.driver.InitScriptErr != nil {
		return s.driver.InitScriptErr
	}
	s.Scripts = append(s.Scripts, script)
	return nil
}

func (s *Session) Quit(ctx context.Context) error {
	s.driver.journal().Record(CallQuit, "")
	s.Quitted = true
	return s.driver.QuitErr
}

// Pages returns the pages opened through the session.
func (s *Session) Pages() []*Page {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Page(nil), s.pages...)
}

// Context is a fake context handle.
type Context struct{ id string }

func (c *Context) ID() string { return c.id }

// Page is a fake page handle.
type Page struct {
	id        string
	ContextID string
	URL       string
	Values    map[string]string
	session   *Session
}

func (p *Page) ID() string { return p.id }

func (p *Page) Navigate(ctx context.Context, url string) error {
	p.session.driver.journal().Record(CallNavigate, url)
	p.URL = url
	return nil
}

func (p *Page) Fill(ctx context.Context, selector, value string) error {
	p.session.driver.journal().Record(CallFill, selector)
	if err := p.session.driver.FillErr[selector]; err != nil {
		return err
	}
	if p.Values == nil {
		p.Values = make(map[string]string)
	}
	p.Values[selector] = value
	return nil
}

func (p *Page) Click(ctx context.Context, selector string) error {
	p.session.driver.journal().Record(CallClick, selector)
	return p.session.driver.ClickErr[selector]
}

func (p *Page) Count(ctx context.Context, selector string) (int, error) {
	p.session.driver.journal().Record(CallCount, selector)
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s := p.session
	s.mu.Lock()
	if s.counts == nil {
		s.counts = make(map[string]int)
	}
	s.counts[selector]++
	n := s.counts[selector]
	s.mu.Unlock()
	if p.session.driver.CountFn == nil {
		return 0, nil
	}
	return p.session.driver.CountFn(selector, n), nil
}

// ErrBoom is a generic driver failure for tests.
var ErrBoom = errors.New("boom")
