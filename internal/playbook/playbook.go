// Package playbook describes a run declaratively: which environment to use,
// what to inject, where to go and which actions to perform.
package playbook

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shehryarbajwa/browserfarm/internal/run"
	"github.com/shehryarbajwa/browserfarm/internal/wait"
	"github.com/shehryarbajwa/browserfarm/pkg/models"
)

// Action types.
const (
	ActionNavigate = "navigate"
	ActionFill     = "fill"
	ActionClick    = "click"
	ActionWait     = "wait"
	ActionWaitFor  = "wait_for"
)

// StealthScript masks the most common automation fingerprints.
const StealthScript = `
Object.defineProperty(navigator, 'webdriver', {
    get: () => undefined
});
Object.defineProperty(navigator, 'plugins', {
    get: () => [1, 2, 3, 4, 5]
});
Object.defineProperty(navigator, 'languages', {
    get: () => ['zh-CN', 'zh', 'en']
});
`

// Playbook is one run definition
type Playbook struct {
	Name        string      `yaml:"name" json:"name"`
	Environment Environment `yaml:"environment" json:"environment"`
	// Driver overrides the configured driver ("playwright" or "cdp").
	Driver      string     `yaml:"driver,omitempty" json:"driver,omitempty"`
	URL         string     `yaml:"url,omitempty" json:"url,omitempty"`
	Stealth     bool       `yaml:"stealth,omitempty" json:"stealth,omitempty"`
	InitScripts []string   `yaml:"init_scripts,omitempty" json:"init_scripts,omitempty"`
	Challenge   *Challenge `yaml:"challenge,omitempty" json:"challenge,omitempty"`
	Actions     []Action   `yaml:"actions,omitempty" json:"actions,omitempty"`
}

// Environment selects or creates the farm environment
type Environment struct {
	ID          string                           `yaml:"id,omitempty" json:"id,omitempty"`
	Create      *models.CreateEnvironmentRequest `yaml:"create,omitempty" json:"create,omitempty"`
	DeleteAfter bool                             `yaml:"delete_after,omitempty" json:"delete_after,omitempty"`
}

// Challenge configures the anti-bot interstitial wait after the first navigation
type Challenge struct {
	Selectors []string `yaml:"selectors,omitempty" json:"selectors,omitempty"`
	// Settle is slept before the first check; omitted uses the default
	// and "0s" disables it.
	Settle      *time.Duration `yaml:"settle,omitempty" json:"settle,omitempty"`
	Interval    time.Duration  `yaml:"interval,omitempty" json:"interval,omitempty"`
	MaxAttempts int            `yaml:"max_attempts,omitempty" json:"max_attempts,omitempty"`
}

// Action is one page interaction. Context and Page pick a registry page and
// default to the bootstrap "default"/"main" pair.
type Action struct {
	Type     string        `yaml:"type" json:"type"`
	Context  string        `yaml:"context,omitempty" json:"context,omitempty"`
	Page     string        `yaml:"page,omitempty" json:"page,omitempty"`
	Selector string        `yaml:"selector,omitempty" json:"selector,omitempty"`
	Value    string        `yaml:"value,omitempty" json:"value,omitempty"`
	URL      string        `yaml:"url,omitempty" json:"url,omitempty"`
	Duration time.Duration `yaml:"duration,omitempty" json:"duration,omitempty"`
	Timeout  time.Duration `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// Parse decodes a playbook. JSON documents are accepted as YAML.
func Parse(data []byte) (*Playbook, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var pb Playbook
	if err := dec.Decode(&pb); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("playbook: empty document")
		}
		return nil, fmt.Errorf("playbook: %w", err)
	}
	if err := pb.Validate(); err != nil {
		return nil, err
	}
	return &pb, nil
}

// Load reads and parses a playbook file
func Load(path string) (*Playbook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("playbook: %w", err)
	}
	return Parse(data)
}

// Validate checks that the playbook can be executed
func (p *Playbook) Validate() error {
	env := p.Environment
	switch {
	case env.ID == "" && env.Create == nil:
		return errors.New("playbook: environment needs an id or create block")
	case env.ID != "" && env.Create != nil:
		return errors.New("playbook: environment id and create are mutually exclusive")
	case env.Create != nil && env.Create.Name == "":
		return errors.New("playbook: environment.create.name is required")
	case env.DeleteAfter && env.Create == nil:
		return errors.New("playbook: delete_after only applies to created environments")
	}

	if p.Challenge != nil && p.URL == "" {
		return errors.New("playbook: challenge requires url")
	}

	for i, a := range p.Actions {
		if err := a.validate(); err != nil {
			return fmt.Errorf("playbook: action %d: %w", i, err)
		}
	}
	return nil
}

func (a Action) validate() error {
	switch a.Type {
	case ActionNavigate:
		if a.URL == "" {
			return errors.New("navigate requires url")
		}
	case ActionFill:
		if a.Selector == "" {
			return errors.New("fill requires selector")
		}
	case ActionClick, ActionWaitFor:
		if a.Selector == "" {
			return fmt.Errorf("%s requires selector", a.Type)
		}
	case ActionWait:
		if a.Duration <= 0 {
			return errors.New("wait requires a positive duration")
		}
	case "":
		return errors.New("type is required")
	default:
		return fmt.Errorf("unknown type %q", a.Type)
	}
	return nil
}

// Scripts returns the init scripts to inject, stealth first
func (p *Playbook) Scripts() []string {
	var scripts []string
	if p.Stealth {
		scripts = append(scripts, StealthScript)
	}
	return append(scripts, p.InitScripts...)
}

// RunSpec converts the playbook into a runner spec
func (p *Playbook) RunSpec(host, driverPath string) run.Spec {
	return run.Spec{
		EnvironmentID: p.Environment.ID,
		Create:        p.Environment.Create,
		DeleteAfter:   p.Environment.DeleteAfter,
		Host:          host,
		DriverPath:    driverPath,
		InitScripts:   p.Scripts(),
	}
}

// challengeConfig merges the playbook's overrides into the default wait.
func (c *Challenge) challengeConfig() wait.Challenge {
	ch := wait.DefaultChallenge()
	if len(c.Selectors) > 0 {
		ch.Selectors = c.Selectors
	}
	if c.Settle != nil {
		ch.Settle = *c.Settle
	}
	if c.Interval > 0 {
		ch.Policy.Interval = c.Interval
	}
	if c.MaxAttempts > 0 {
		ch.Policy.MaxAttempts = c.MaxAttempts
	}
	return ch
}
