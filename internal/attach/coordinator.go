// Package attach bridges a launched environment to a live driver session and
// bootstraps the registry's default context and page.
package attach

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/shehryarbajwa/browserfarm/internal/driver"
	"github.com/shehryarbajwa/browserfarm/internal/faults"
	"github.com/shehryarbajwa/browserfarm/internal/session"
)

// Registry keys for the bootstrap entries.
const (
	DefaultContext = "default"
	MainPage       = "main"
)

// State is the coordinator lifecycle state
type State int

const (
	Unattached State = iota
	Attached
	Detached
)

func (s State) String() string {
	switch s {
	case Unattached:
		return "unattached"
	case Attached:
		return "attached"
	case Detached:
		return "detached"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Outcome tells which bootstrap branch ran
type Outcome int

const (
	// Adopted means the process already had a context and it was reused.
	Adopted Outcome = iota + 1
	// Created means no context existed and a fresh one was made.
	Created
)

func (o Outcome) String() string {
	switch o {
	case Adopted:
		return "adopted"
	case Created:
		return "created"
	}
	return "unknown"
}

// Result is the outcome of AdoptOrCreateDefault
type Result struct {
	Outcome Outcome
	Context driver.Context
	Page    driver.Page
}

// Coordinator owns the driver session of one run
type Coordinator struct {
	driver   driver.Driver
	registry *session.Registry
	log      logrus.FieldLogger

	state    State
	session  driver.Session
	endpoint driver.Endpoint
	result   *Result
}

// New creates an unattached coordinator
func New(d driver.Driver, registry *session.Registry, log logrus.FieldLogger) *Coordinator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Coordinator{
		driver:   d,
		registry: registry,
		log:      log,
	}
}

// State returns the current lifecycle state
func (c *Coordinator) State() State { return c.state }

// Registry returns the registry the coordinator populates
func (c *Coordinator) Registry() *session.Registry { return c.registry }

// Endpoint returns the endpoint of the last successful attach
func (c *Coordinator) Endpoint() driver.Endpoint { return c.endpoint }

// Attach connects the driver to ep. On failure the coordinator stays unattached.
func (c *Coordinator) Attach(ctx context.Context, ep driver.Endpoint) error {
	if c.state != Unattached {
		return fmt.Errorf("attach: coordinator is %s", c.state)
	}
	if ep.Port <= 0 {
		return faults.New(faults.ErrAttach, "attach "+ep.Address(), fmt.Errorf("invalid port %d", ep.Port))
	}

	s, err := c.driver.Attach(ctx, ep)
	if err != nil {
		return faults.New(faults.ErrAttach, "attach "+ep.Address(), err)
	}

	c.session = s
	c.endpoint = ep
	c.state = Attached
	c.registry.Bind(s)
	c.log.WithFields(logrus.Fields{"endpoint": ep.Address(), "driver": c.driver.Name()}).Info("driver attached")
	return nil
}

// AdoptOrCreateDefault registers the "default" context and "main" page. An
// already-open context is adopted and gets one new page; otherwise both are
// created through the registry. A "default" key registered beforehand wins
// over the open context and is reported as Created. Later calls return the
// first result.
func (c *Coordinator) AdoptOrCreateDefault(ctx context.Context) (Result, error) {
	if c.state != Attached {
		return Result{}, faults.New(faults.ErrNotAttached, "adopt or create default", nil)
	}
	if c.result != nil {
		return *c.result, nil
	}

	existing, err := c.session.Contexts(ctx)
	if err != nil {
		return Result{}, faults.New(faults.ErrDriver, "list contexts", err)
	}

	outcome := Created
	if len(existing) > 0 {
		if c.registry.AdoptContext(DefaultContext, existing[0]) {
			outcome = Adopted
		} else {
			c.log.WithField("context", existing[0].ID()).Warn("default context already registered, not adopting")
		}
	}

	bc, err := c.registry.GetContext(ctx, DefaultContext)
	if err != nil {
		return Result{}, err
	}
	page, err := c.registry.GetPage(ctx, DefaultContext, MainPage)
	if err != nil {
		return Result{}, err
	}

	c.result = &Result{Outcome: outcome, Context: bc, Page: page}
	c.log.WithFields(logrus.Fields{
		"outcome":  outcome.String(),
		"existing": len(existing),
		"context":  bc.ID(),
		"page":     page.ID(),
	}).Info("default context ready")
	return *c.result, nil
}

// InjectOnNewDocumentScript registers script to run on every new document
func (c *Coordinator) InjectOnNewDocumentScript(ctx context.Context, script string) error {
	if c.state != Attached {
		return faults.New(faults.ErrNotAttached, "inject script", nil)
	}
	if err := c.session.AddInitScript(ctx, script); err != nil {
		return faults.New(faults.ErrDriver, "inject script", err)
	}
	return nil
}

// Detach releases the local driver without stopping the remote process. The
// coordinator ends up detached even when Quit fails.
func (c *Coordinator) Detach(ctx context.Context) error {
	if c.state != Attached {
		return nil
	}
	c.state = Detached
	c.registry.Unbind()

	if err := c.session.Quit(ctx); err != nil {
		return faults.New(faults.ErrDriver, "quit driver", err)
	}
	c.log.WithField("endpoint", c.endpoint.Address()).Info("driver detached")
	return nil
}
