// Package pwdriver attaches to a running browser over CDP with Playwright.
package pwdriver

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/shehryarbajwa/browserfarm/internal/driver"
)

// Name is the driver name used in configuration.
const Name = "playwright"

// Options configure the Playwright driver
type Options struct {
	// DriverDirectory holds the Playwright node driver. Empty uses the
	// library's cache directory.
	DriverDirectory string
	// DefaultTimeout applies to calls whose context has no deadline.
	DefaultTimeout time.Duration
	Verbose        bool
}

// Driver implements driver.Driver
type Driver struct {
	opts Options
}

// New returns a Playwright driver
func New(opts Options) *Driver {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 30 * time.Second
	}
	return &Driver{opts: opts}
}

func (d *Driver) Name() string { return Name }

// Attach starts the Playwright driver process and connects to ep over CDP.
// Browsers are never downloaded: the farm owns the browser binary.
func (d *Driver) Attach(ctx context.Context, ep driver.Endpoint) (driver.Session, error) {
	runOpts := &playwright.RunOptions{
		DriverDirectory:     d.driverDirectory(ep),
		SkipInstallBrowsers: true,
		Verbose:             d.opts.Verbose,
		Stdout:              io.Discard,
		Stderr:              io.Discard,
	}

	pw, err := playwright.Run(runOpts)
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}

	timeout := d.timeoutMS(ctx)
	browser, err := pw.Chromium.ConnectOverCDP(ep.HTTPURL(), playwright.BrowserTypeConnectOverCDPOptions{
		Timeout: &timeout,
	})
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("connect over cdp %s: %w", ep.HTTPURL(), err)
	}

	return &Session{
		driver:   d,
		pw:       pw,
		browser:  browser,
		contexts: make(map[playwright.BrowserContext]*Context),
	}, nil
}

// driverDirectory picks where the Playwright driver lives. The farm usually
// reports a chromedriver executable as the driver path, which Playwright
// cannot use; it only wins when it is an installed Playwright driver.
func (d *Driver) driverDirectory(ep driver.Endpoint) string {
	if ep.DriverPath != "" {
		if info, err := os.Stat(filepath.Join(ep.DriverPath, "package", "cli.js")); err == nil && !info.IsDir() {
			return ep.DriverPath
		}
	}
	return d.opts.DriverDirectory
}

// timeoutMS converts the context deadline to Playwright's millisecond timeout.
func (d *Driver) timeoutMS(ctx context.Context) float64 {
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left > 0 {
			return float64(left.Milliseconds())
		}
		return 1
	}
	return float64(d.opts.DefaultTimeout.Milliseconds())
}

// Session is an attached Playwright browser
type Session struct {
	driver  *Driver
	pw      *playwright.Playwright
	browser playwright.Browser

	mu       sync.Mutex
	seq      int
	contexts map[playwright.BrowserContext]*Context
	scripts  []string
}

// wrap returns the stable handle for bc, registering it on first sight.
func (s *Session) wrap(bc playwright.BrowserContext) (*Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.contexts[bc]; ok {
		return c, false
	}
	s.seq++
	c := &Context{id: "context-" + strconv.Itoa(s.seq), bc: bc}
	s.contexts[bc] = c
	return c, true
}

func (s *Session) Contexts(ctx context.Context) ([]driver.Context, error) {
	var out []driver.Context
	for _, bc := range s.browser.Contexts() {
		c, _ := s.wrap(bc)
		out = append(out, c)
	}
	return out, nil
}

func (s *Session) NewContext(ctx context.Context) (driver.Context, error) {
	bc, err := s.browser.NewContext()
	if err != nil {
		return nil, fmt.Errorf("new browser context: %w", err)
	}
	c, _ := s.wrap(bc)

	s.mu.Lock()
	scripts := append([]string(nil), s.scripts...)
	s.mu.Unlock()
	for _, script := range scripts {
		if err := addScript(bc, script); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (s *Session) NewPage(ctx context.Context, c driver.Context) (driver.Page, error) {
	pc, ok := c.(*Context)
	if !ok {
		return nil, fmt.Errorf("context %s does not belong to this driver", c.ID())
	}
	p, err := pc.bc.NewPage()
	if err != nil {
		return nil, fmt.Errorf("new page in %s: %w", pc.id, err)
	}

	s.mu.Lock()
	s.seq++
	id := "page-" + strconv.Itoa(s.seq)
	s.mu.Unlock()
	return &Page{id: id, page: p, session: s}, nil
}

func (s *Session) Focus(ctx context.Context, p driver.Page) error {
	pp, ok := p.(*Page)
	if !ok {
		return fmt.Errorf("page %s does not belong to this driver", p.ID())
	}
	return pp.page.BringToFront()
}

// AddInitScript registers script on every open context and on contexts
// created later through this session.
func (s *Session) AddInitScript(ctx context.Context, script string) error {
	s.mu.Lock()
	s.scripts = append(s.scripts, script)
	s.mu.Unlock()

	for _, bc := range s.browser.Contexts() {
		if err := addScript(bc, script); err != nil {
			return err
		}
	}
	return nil
}

// Quit disconnects from the browser and stops the driver process. The remote
// browser keeps running.
func (s *Session) Quit(ctx context.Context) error {
	var firstErr error
	if err := s.browser.Close(); err != nil {
		firstErr = fmt.Errorf("close browser connection: %w", err)
	}
	if err := s.pw.Stop(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("stop playwright: %w", err)
	}
	return firstErr
}

func addScript(bc playwright.BrowserContext, script string) error {
	if err := bc.AddInitScript(playwright.Script{Content: playwright.String(script)}); err != nil {
		return fmt.Errorf("add init script: %w", err)
	}
	return nil
}

// Context wraps a Playwright browser context
type Context struct {
	id string
	bc playwright.BrowserContext
}

func (c *Context) ID() string { return c.id }

// Page wraps a Playwright page
type Page struct {
	id      string
	page    playwright.Page
	session *Session
}

func (p *Page) ID() string { return p.id }

func (p *Page) Navigate(ctx context.Context, url string) error {
	timeout := p.session.driver.timeoutMS(ctx)
	if _, err := p.page.Goto(url, playwright.PageGotoOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("goto %s: %w", url, err)
	}
	return nil
}

func (p *Page) Fill(ctx context.Context, selector, value string) error {
	timeout := p.session.driver.timeoutMS(ctx)
	if err := p.page.Locator(selector).Fill(value, playwright.LocatorFillOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("fill %s: %w", selector, err)
	}
	return nil
}

func (p *Page) Click(ctx context.Context, selector string) error {
	timeout := p.session.driver.timeoutMS(ctx)
	if err := p.page.Locator(selector).Click(playwright.LocatorClickOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

func (p *Page) Count(ctx context.Context, selector string) (int, error) {
	n, err := p.page.Locator(selector).Count()
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", selector, err)
	}
	return n, nil
}
