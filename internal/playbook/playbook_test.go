package playbook

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shehryarbajwa/browserfarm/internal/attach"
	"github.com/shehryarbajwa/browserfarm/internal/driver"
	"github.com/shehryarbajwa/browserfarm/internal/driver/drivertest"
	"github.com/shehryarbajwa/browserfarm/internal/faults"
	"github.com/shehryarbajwa/browserfarm/internal/run"
	"github.com/shehryarbajwa/browserfarm/internal/session"
	"github.com/shehryarbajwa/browserfarm/pkg/models"
)

const claimForm = `
name: claim
environment:
  create:
    name: claim-bot
    group: qa
    options:
      homepage:
        mode: 1
        value: https://example.com
  delete_after: true
driver: cdp
url: https://example.com/en/Claim
stealth: true
init_scripts:
  - "window.__farm = true"
challenge:
  settle: 45s
actions:
  - type: fill
    selector: "#name"
    value: Jane
  - type: click
    selector: "//button[text()='Submit']"
  - type: wait
    duration: 2s
  - type: navigate
    context: side
    page: docs
    url: https://example.com/docs
`

func TestParseYAML(t *testing.T) {
	pb, err := Parse([]byte(claimForm))
	require.NoError(t, err)

	assert.Equal(t, "claim", pb.Name)
	assert.Equal(t, "cdp", pb.Driver)
	require.NotNil(t, pb.Environment.Create)
	assert.Equal(t, "claim-bot", pb.Environment.Create.Name)
	assert.Contains(t, pb.Environment.Create.Options, "homepage")
	assert.True(t, pb.Environment.DeleteAfter)
	require.NotNil(t, pb.Challenge)
	require.NotNil(t, pb.Challenge.Settle)
	assert.Equal(t, 45*time.Second, *pb.Challenge.Settle)
	require.Len(t, pb.Actions, 4)
	assert.Equal(t, 2*time.Second, pb.Actions[2].Duration)
	assert.Equal(t, "side", pb.Actions[3].Context)
}

func TestParseJSON(t *testing.T) {
	pb, err := Parse([]byte(`{"environment":{"id":"42"},"url":"https://example.com","actions":[{"type":"click","selector":"#go"}]}`))
	require.NoError(t, err)
	assert.Equal(t, "42", pb.Environment.ID)
	assert.Equal(t, ActionClick, pb.Actions[0].Type)
}

func TestParseRejects(t *testing.T) {
	for name, doc := range map[string]string{
		"empty":            ``,
		"no environment":   `url: https://example.com`,
		"both":             "environment:\n  id: \"1\"\n  create:\n    name: x\n",
		"create no name":   "environment:\n  create:\n    group: qa\n",
		"delete existing":  "environment:\n  id: \"1\"\n  delete_after: true\n",
		"unknown field":    "environment:\n  id: \"1\"\nheadless: true\n",
		"unknown action":   "environment:\n  id: \"1\"\nactions:\n  - type: hover\n    selector: a\n",
		"fill no selector": "environment:\n  id: \"1\"\nactions:\n  - type: fill\n    value: x\n",
		"wait no duration": "environment:\n  id: \"1\"\nactions:\n  - type: wait\n",
		"challenge no url": "environment:\n  id: \"1\"\nchallenge: {}\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pb.yaml")
	require.NoError(t, os.WriteFile(path, []byte(claimForm), 0o600))

	pb, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "claim", pb.Name)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRunSpec(t *testing.T) {
	pb, err := Parse([]byte(claimForm))
	require.NoError(t, err)

	spec := pb.RunSpec("10.0.0.5", "/opt/driver")
	assert.Equal(t, "10.0.0.5", spec.Host)
	assert.Equal(t, "/opt/driver", spec.DriverPath)
	assert.True(t, spec.DeleteAfter)
	require.Len(t, spec.InitScripts, 2)
	assert.Equal(t, StealthScript, spec.InitScripts[0])
	assert.Equal(t, "window.__farm = true", spec.InitScripts[1])
}

func TestStealthScriptOverrides(t *testing.T) {
	assert.Contains(t, StealthScript, "'webdriver'")
	assert.Contains(t, StealthScript, "[1, 2, 3, 4, 5]")
	assert.Contains(t, StealthScript, "['zh-CN', 'zh', 'en']")
}

func noSettle() *time.Duration {
	var d time.Duration
	return &d
}

func TestChallengeSettleDefaults(t *testing.T) {
	pb, err := Parse([]byte("environment:\n  id: \"1\"\nurl: https://example.com\nchallenge:\n  max_attempts: 3\n"))
	require.NoError(t, err)
	ch := pb.Challenge.challengeConfig()
	assert.Equal(t, 30*time.Second, ch.Settle)
	assert.Equal(t, 3, ch.Policy.MaxAttempts)

	pb, err = Parse([]byte("environment:\n  id: \"1\"\nurl: https://example.com\nchallenge:\n  settle: 0s\n"))
	require.NoError(t, err)
	assert.Zero(t, pb.Challenge.challengeConfig().Settle)
}

// attached returns an input backed by the fake driver after bootstrap.
func attached(t *testing.T, d *drivertest.Driver) (run.Input, *[]models.ActionResult) {
	t.Helper()
	reg := session.NewRegistry(nil)
	c := attach.New(d, reg, nil)
	require.NoError(t, c.Attach(context.Background(), driver.Endpoint{Host: "localhost", Port: 9222}))
	res, err := c.AdoptOrCreateDefault(context.Background())
	require.NoError(t, err)

	var results []models.ActionResult
	return run.Input{
		Registry: reg,
		Result:   res,
		Record:   func(a models.ActionResult) { results = append(results, a) },
	}, &results
}

func TestInteractionBestEffort(t *testing.T) {
	d := drivertest.New()
	d.FillErr = map[string]error{"#missing": errors.New("no such element")}
	in, results := attached(t, d)

	pb := &Playbook{
		Environment: Environment{ID: "42"},
		URL:         "https://example.com",
		Actions: []Action{
			{Type: ActionFill, Selector: "#missing", Value: "x"},
			{Type: ActionFill, Selector: "#email", Value: "a@b.c"},
			{Type: ActionClick, Selector: "#submit"},
		},
	}
	err := pb.Interaction(nil, time.Second)(context.Background(), in)
	require.NoError(t, err)

	require.Len(t, *results, 4)
	assert.Equal(t, recordOpen, (*results)[0].Type)
	assert.Equal(t, models.StepFailed, (*results)[1].Status)
	assert.Contains(t, (*results)[1].Error, "no such element")
	assert.Equal(t, models.StepSucceeded, (*results)[2].Status)
	assert.Equal(t, models.StepSucceeded, (*results)[3].Status)

	main := in.Result.Page.(*drivertest.Page)
	assert.Equal(t, "https://example.com", main.URL)
	assert.Equal(t, "a@b.c", main.Values["#email"])
	assert.Equal(t, 1, d.Journal.Count(drivertest.CallClick))
}

func TestInteractionOpensOtherPages(t *testing.T) {
	d := drivertest.New()
	in, _ := attached(t, d)

	pb := &Playbook{
		Environment: Environment{ID: "42"},
		Actions: []Action{
			{Type: ActionNavigate, Context: "side", Page: "docs", URL: "https://example.com/docs"},
			{Type: ActionNavigate, Context: "side", Page: "docs", URL: "https://example.com/faq"},
		},
	}
	require.NoError(t, pb.Interaction(nil, time.Second)(context.Background(), in))

	p, ok := in.Registry.Lookup(session.PageKey{Context: "side", Page: "docs"})
	require.True(t, ok)
	assert.Equal(t, "https://example.com/faq", p.(*drivertest.Page).URL)
	// One context for bootstrap, one for "side"; the second navigate reuses the page.
	assert.Equal(t, 2, d.Journal.Count(drivertest.CallNewContext))
	assert.Equal(t, 2, d.Journal.Count(drivertest.CallNewPage))
	assert.Equal(t, 1, d.Journal.Count(drivertest.CallFocus))
}

func TestInteractionChallenge(t *testing.T) {
	d := drivertest.New()
	d.CountFn = func(sel string, call int) int {
		if sel == "#challenge-form" && call <= 2 {
			return 1
		}
		return 0
	}
	in, results := attached(t, d)

	pb := &Playbook{
		Environment: Environment{ID: "42"},
		URL:         "https://example.com",
		Challenge:   &Challenge{Settle: noSettle(), Interval: time.Millisecond, MaxAttempts: 5},
	}
	require.NoError(t, pb.Interaction(nil, time.Second)(context.Background(), in))

	require.Len(t, *results, 2)
	assert.Equal(t, recordChallenge, (*results)[1].Type)
	assert.Equal(t, "cleared", (*results)[1].Target)
	assert.Equal(t, models.StepSucceeded, (*results)[1].Status)
}

func TestInteractionChallengeTimeoutContinues(t *testing.T) {
	d := drivertest.New()
	d.CountFn = func(string, int) int { return 1 }
	in, results := attached(t, d)

	pb := &Playbook{
		Environment: Environment{ID: "42"},
		URL:         "https://example.com",
		Challenge:   &Challenge{Settle: noSettle(), Interval: time.Millisecond, MaxAttempts: 2},
		Actions:     []Action{{Type: ActionClick, Selector: "#go"}},
	}
	require.NoError(t, pb.Interaction(nil, time.Second)(context.Background(), in))

	require.Len(t, *results, 3)
	assert.Equal(t, models.StepFailed, (*results)[1].Status)
	assert.Contains(t, (*results)[1].Error, faults.ErrTimeout.Error())
	assert.Equal(t, models.StepSucceeded, (*results)[2].Status)
}

func TestInteractionWaitFor(t *testing.T) {
	d := drivertest.New()
	d.CountFn = func(sel string, call int) int { return 1 }
	in, results := attached(t, d)

	pb := &Playbook{
		Environment: Environment{ID: "42"},
		Actions:     []Action{{Type: ActionWaitFor, Selector: "#kw", Timeout: 10 * time.Second}},
	}
	require.NoError(t, pb.Interaction(nil, time.Second)(context.Background(), in))
	assert.Equal(t, models.StepSucceeded, (*results)[0].Status)
	assert.Equal(t, "#kw", (*results)[0].Target)
}

func TestInteractionWaitForTimesOut(t *testing.T) {
	d := drivertest.New()
	in, results := attached(t, d)

	pb := &Playbook{
		Environment: Environment{ID: "42"},
		Actions:     []Action{{Type: ActionWaitFor, Selector: "#kw", Timeout: time.Millisecond}},
	}
	require.NoError(t, pb.Interaction(nil, time.Second)(context.Background(), in))
	assert.Equal(t, models.StepFailed, (*results)[0].Status)
}

func TestInteractionStopsWhenCancelled(t *testing.T) {
	d := drivertest.New()
	in, results := attached(t, d)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pb := &Playbook{
		Environment: Environment{ID: "42"},
		Actions:     []Action{{Type: ActionClick, Selector: "#a"}, {Type: ActionClick, Selector: "#b"}},
	}
	err := pb.Interaction(nil, time.Second)(ctx, in)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, *results)
	assert.Zero(t, d.Journal.Count(drivertest.CallClick))
}
