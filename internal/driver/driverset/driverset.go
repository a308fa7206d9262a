// Package driverset selects a driver implementation by name.
package driverset

import (
	"fmt"
	"time"

	"github.com/shehryarbajwa/browserfarm/internal/driver"
	"github.com/shehryarbajwa/browserfarm/internal/driver/cdpdriver"
	"github.com/shehryarbajwa/browserfarm/internal/driver/pwdriver"
)

// Options are shared by all drivers
type Options struct {
	ActionTimeout       time.Duration
	PlaywrightDriverDir string
}

// Names lists the supported drivers
func Names() []string {
	return []string{pwdriver.Name, cdpdriver.Name}
}

// New returns the driver called name
func New(name string, opts Options) (driver.Driver, error) {
	switch name {
	case pwdriver.Name:
		return pwdriver.New(pwdriver.Options{
			DriverDirectory: opts.PlaywrightDriverDir,
			DefaultTimeout:  opts.ActionTimeout,
		}), nil
	case cdpdriver.Name:
		return cdpdriver.New(cdpdriver.Options{DefaultTimeout: opts.ActionTimeout}), nil
	}
	return nil, fmt.Errorf("unknown driver %q (want one of %v)", name, Names())
}
