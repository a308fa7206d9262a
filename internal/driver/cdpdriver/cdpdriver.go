// Package cdpdriver attaches to a running browser over the DevTools protocol
// with chromedp. Contexts are CDP browser contexts and pages are page targets.
package cdpdriver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/shehryarbajwa/browserfarm/internal/driver"
)

// Name is the driver name used in configuration.
const Name = "cdp"

// Options configure the CDP driver
type Options struct {
	// DefaultTimeout applies to calls whose context has no deadline.
	DefaultTimeout time.Duration
}

// Driver implements driver.Driver
type Driver struct {
	opts Options
}

// New returns a CDP driver
func New(opts Options) *Driver {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 30 * time.Second
	}
	return &Driver{opts: opts}
}

func (d *Driver) Name() string { return Name }

// Attach connects to the browser at ep without opening a tab. Listing the
// targets is enough to establish the browser connection.
func (d *Driver) Attach(ctx context.Context, ep driver.Endpoint) (driver.Session, error) {
	allocCtx, allocCancel := chromedp.NewRemoteAllocator(context.Background(), ep.WebSocketURL())
	rootCtx, _ := chromedp.NewContext(allocCtx)

	err := d.establish(ctx, rootCtx, allocCancel, func(ctx context.Context) error {
		_, err := chromedp.Targets(ctx)
		return err
	})
	if err != nil {
		allocCancel()
		return nil, fmt.Errorf("connect %s: %w", ep.WebSocketURL(), err)
	}

	return &Session{
		driver:      d,
		rootCtx:     rootCtx,
		allocCancel: allocCancel,
		contexts:    make(map[cdp.BrowserContextID]*Context),
	}, nil
}

// establish runs the first call on a chromedp context. The connection that
// call opens lives as long as the context it runs under, so it runs under
// base while ctx only bounds the wait.
func (d *Driver) establish(ctx, base context.Context, cancelBase context.CancelFunc, fn func(context.Context) error) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.opts.DefaultTimeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() { done <- fn(base) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		cancelBase()
		<-done
		return ctx.Err()
	}
}

// bind derives a context from base that is also cancelled when ctx ends or
// the default timeout passes. Cancelling it aborts the current action only.
func (d *Driver) bind(ctx, base context.Context) (context.Context, context.CancelFunc) {
	timeout := d.opts.DefaultTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	child, cancel := context.WithTimeout(base, timeout)
	stopAfter := context.AfterFunc(ctx, cancel)
	return child, func() {
		stopAfter()
		cancel()
	}
}

// Session is an attached CDP browser connection
type Session struct {
	driver      *Driver
	rootCtx     context.Context
	allocCancel context.CancelFunc

	mu       sync.Mutex
	contexts map[cdp.BrowserContextID]*Context
	pages    []*Page
	scripts  []string
}

// browserCtx runs CDP commands against the browser rather than a tab.
func (s *Session) browserCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	bound, stop := s.driver.bind(ctx, s.rootCtx)
	return cdp.WithExecutor(bound, chromedp.FromContext(s.rootCtx).Browser), stop
}

func (s *Session) wrap(id cdp.BrowserContextID, isDefault bool) *Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.contexts[id]; ok {
		return c
	}
	c := &Context{id: id, isDefault: isDefault}
	s.contexts[id] = c
	return c
}

// Contexts lists browser contexts that hold at least one page, in target
// order, followed by empty contexts created elsewhere.
func (s *Session) Contexts(ctx context.Context) ([]driver.Context, error) {
	bctx, stop := s.browserCtx(ctx)
	defer stop()

	infos, err := target.GetTargets().Do(bctx)
	if err != nil {
		return nil, fmt.Errorf("get targets: %w", err)
	}
	created, err := target.GetBrowserContexts().Do(bctx)
	if err != nil {
		return nil, fmt.Errorf("get browser contexts: %w", err)
	}
	nonDefault := make(map[cdp.BrowserContextID]bool, len(created))
	for _, id := range created {
		nonDefault[id] = true
	}

	var out []driver.Context
	seen := make(map[cdp.BrowserContextID]bool)
	for _, info := range infos {
		if info.Type != "page" || seen[info.BrowserContextID] {
			continue
		}
		seen[info.BrowserContextID] = true
		out = append(out, s.wrap(info.BrowserContextID, !nonDefault[info.BrowserContextID]))
	}
	for _, id := range created {
		if !seen[id] {
			seen[id] = true
			out = append(out, s.wrap(id, false))
		}
	}
	return out, nil
}

func (s *Session) NewContext(ctx context.Context) (driver.Context, error) {
	bctx, stop := s.browserCtx(ctx)
	defer stop()

	id, err := target.CreateBrowserContext().Do(bctx)
	if err != nil {
		return nil, fmt.Errorf("create browser context: %w", err)
	}
	return s.wrap(id, false), nil
}

func (s *Session) NewPage(ctx context.Context, c driver.Context) (driver.Page, error) {
	cc, ok := c.(*Context)
	if !ok {
		return nil, fmt.Errorf("context %s does not belong to this driver", c.ID())
	}

	bctx, stop := s.browserCtx(ctx)
	create := target.CreateTarget("about:blank")
	if !cc.isDefault {
		create = create.WithBrowserContextID(cc.id)
	}
	targetID, err := create.Do(bctx)
	stop()
	if err != nil {
		return nil, fmt.Errorf("create target in %s: %w", cc.ID(), err)
	}

	tabCtx, tabCancel := chromedp.NewContext(s.rootCtx, chromedp.WithTargetID(targetID))
	p := &Page{id: targetID, ctx: tabCtx, cancel: tabCancel, session: s}

	s.mu.Lock()
	scripts := append([]string(nil), s.scripts...)
	s.mu.Unlock()

	err = s.driver.establish(ctx, tabCtx, tabCancel, func(ctx context.Context) error {
		return chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			for _, script := range scripts {
				if _, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx); err != nil {
					return err
				}
			}
			return nil
		}))
	})
	if err != nil {
		tabCancel()
		return nil, fmt.Errorf("attach page %s: %w", targetID, err)
	}

	s.mu.Lock()
	s.pages = append(s.pages, p)
	s.mu.Unlock()
	return p, nil
}

func (s *Session) Focus(ctx context.Context, p driver.Page) error {
	cp, ok := p.(*Page)
	if !ok {
		return fmt.Errorf("page %s does not belong to this driver", p.ID())
	}
	bctx, stop := s.browserCtx(ctx)
	defer stop()
	if err := target.ActivateTarget(cp.id).Do(bctx); err != nil {
		return fmt.Errorf("activate %s: %w", cp.id, err)
	}
	return nil
}

// AddInitScript registers script on every page opened through this session
// and remembers it for pages opened later.
func (s *Session) AddInitScript(ctx context.Context, script string) error {
	s.mu.Lock()
	s.scripts = append(s.scripts, script)
	pages := append([]*Page(nil), s.pages...)
	s.mu.Unlock()

	for _, p := range pages {
		err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(script).Do(ctx)
			return err
		}))
		if err != nil {
			return fmt.Errorf("add init script to %s: %w", p.id, err)
		}
	}
	return nil
}

// Quit drops the websocket connection. The remote browser keeps running.
func (s *Session) Quit(ctx context.Context) error {
	s.allocCancel()
	return nil
}

// Context is a CDP browser context
type Context struct {
	id        cdp.BrowserContextID
	isDefault bool
}

func (c *Context) ID() string {
	if c.id == "" {
		return "default"
	}
	return string(c.id)
}

// Page is a page target with its own chromedp context
type Page struct {
	id      target.ID
	ctx     context.Context
	cancel  context.CancelFunc
	session *Session
}

func (p *Page) ID() string { return string(p.id) }

func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	bound, stop := p.session.driver.bind(ctx, p.ctx)
	defer stop()
	return chromedp.Run(bound, actions...)
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := p.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// Fill replaces the value of the first element matching selector (CSS or XPath).
func (p *Page) Fill(ctx context.Context, selector, value string) error {
	err := p.run(ctx,
		chromedp.Clear(selector, chromedp.BySearch),
		chromedp.SendKeys(selector, value, chromedp.BySearch),
	)
	if err != nil {
		return fmt.Errorf("fill %s: %w", selector, err)
	}
	return nil
}

func (p *Page) Click(ctx context.Context, selector string) error {
	if err := p.run(ctx, chromedp.Click(selector, chromedp.BySearch)); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

// Count returns how many elements match selector without waiting for any.
func (p *Page) Count(ctx context.Context, selector string) (int, error) {
	var n int
	if err := p.run(ctx, chromedp.Evaluate(countExpression(selector), &n)); err != nil {
		return 0, fmt.Errorf("count %s: %w", selector, err)
	}
	return n, nil
}

// countExpression builds a JS expression counting CSS or XPath matches.
func countExpression(selector string) string {
	lit, _ := json.Marshal(selector)
	if isXPath(selector) {
		return fmt.Sprintf("document.evaluate(%s, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null).snapshotLength", lit)
	}
	return fmt.Sprintf("document.querySelectorAll(%s).length", lit)
}

func isXPath(selector string) bool {
	return strings.HasPrefix(selector, "/") || strings.HasPrefix(selector, "(") || strings.HasPrefix(selector, "./")
}
