// Package driver is the boundary between the run pipeline and a concrete
// CDP-capable automation engine. A Session is attached fresh for every run and
// never pooled.
package driver

import (
	"context"
	"fmt"
	"net"
	"strconv"
)

// Endpoint is the remote-debugging address of a launched environment.
type Endpoint struct {
	Host string
	Port int
	// DriverPath is an optional local driver binary or directory reported by the farm.
	DriverPath string
}

// Address returns host:port.
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// HTTPURL returns the http:// form of the endpoint.
func (e Endpoint) HTTPURL() string {
	return fmt.Sprintf("http://%s", e.Address())
}

// WebSocketURL returns the ws:// form of the endpoint.
func (e Endpoint) WebSocketURL() string {
	return fmt.Sprintf("ws://%s", e.Address())
}

// Driver attaches to a remote-debugging endpoint.
type Driver interface {
	Name() string
	Attach(ctx context.Context, ep Endpoint) (Session, error)
}

// Session is an attached driver connection to one browser process.
type Session interface {
	// NewContext creates a fresh isolated browser context.
	NewContext(ctx context.Context) (Context, error)
	// NewPage opens a new tab inside bc.
	NewPage(ctx context.Context, bc Context) (Page, error)
	// Contexts lists the contexts currently open in the process.
	Contexts(ctx context.Context) ([]Context, error)
	// Focus brings p to the foreground.
	Focus(ctx context.Context, p Page) error
	// AddInitScript runs script on every new document in the session.
	AddInitScript(ctx context.Context, script string) error
	// Quit releases the local connection. It does not stop the remote process.
	Quit(ctx context.Context) error
}

// Context is a browser context handle.
type Context interface {
	ID() string
}

// Page is a tab handle. Selectors may be CSS or XPath.
type Page interface {
	ID() string
	Navigate(ctx context.Context, url string) error
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	// Count returns how many elements currently match selector without waiting.
	Count(ctx context.Context, selector string) (int, error)
}
