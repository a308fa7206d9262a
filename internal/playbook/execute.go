package playbook

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shehryarbajwa/browserfarm/internal/attach"
	"github.com/shehryarbajwa/browserfarm/internal/driver"
	"github.com/shehryarbajwa/browserfarm/internal/faults"
	"github.com/shehryarbajwa/browserfarm/internal/run"
	"github.com/shehryarbajwa/browserfarm/internal/wait"
	"github.com/shehryarbajwa/browserfarm/pkg/models"
)

// Pseudo action types recorded for the entry navigation and challenge wait.
const (
	recordOpen      = "open"
	recordChallenge = "challenge"
)

const waitForInterval = 500 * time.Millisecond

// Interaction returns the run interaction for p. Opening the entry URL is
// fatal on failure; the challenge wait and every listed action are
// best-effort: failures are recorded and the next action still runs.
func (p *Playbook) Interaction(log logrus.FieldLogger, actionTimeout time.Duration) run.Interaction {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if actionTimeout <= 0 {
		actionTimeout = 30 * time.Second
	}
	return func(ctx context.Context, in run.Input) error {
		ex := &executor{pb: p, log: log, timeout: actionTimeout, in: in}
		return ex.execute(ctx)
	}
}

type executor struct {
	pb      *Playbook
	log     logrus.FieldLogger
	timeout time.Duration
	in      run.Input
}

func (ex *executor) record(typ, target string, err error) {
	res := models.ActionResult{Type: typ, Target: target, Status: models.StepSucceeded}
	if err != nil {
		res.Status = models.StepFailed
		res.Error = err.Error()
	}
	if ex.in.Record != nil {
		ex.in.Record(res)
	}
}

func (ex *executor) execute(ctx context.Context) error {
	main := ex.in.Result.Page

	if url := ex.pb.URL; url != "" {
		err := ex.bounded(ctx, func(ctx context.Context) error { return main.Navigate(ctx, url) })
		if err != nil {
			err = faults.New(faults.ErrDriver, "open "+url, err)
			ex.record(recordOpen, url, err)
			return err
		}
		ex.record(recordOpen, url, nil)

		if ex.pb.Challenge != nil {
			seen, err := wait.ChallengeCleared(ctx, main, ex.pb.Challenge.challengeConfig(), ex.log)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			target := "absent"
			if seen {
				target = "cleared"
			}
			if err != nil {
				target = "present"
				ex.log.WithError(err).Warn("challenge did not clear, continuing")
			}
			ex.record(recordChallenge, target, err)
		}
	}

	for i, a := range ex.pb.Actions {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := ex.do(ctx, a)
		if err != nil {
			ex.log.WithFields(logrus.Fields{"index": i, "action": a.Type}).WithError(err).Warn("action failed, continuing")
		}
		ex.record(a.Type, a.target(), err)
	}
	return ctx.Err()
}

func (ex *executor) do(ctx context.Context, a Action) error {
	if a.Type == ActionWait {
		return wait.Sleep(ctx, a.Duration)
	}

	page, err := ex.page(ctx, a)
	if err != nil {
		return err
	}

	switch a.Type {
	case ActionNavigate:
		return ex.bounded(ctx, func(ctx context.Context) error { return page.Navigate(ctx, a.URL) })
	case ActionFill:
		return ex.bounded(ctx, func(ctx context.Context) error { return page.Fill(ctx, a.Selector, a.Value) })
	case ActionClick:
		return ex.bounded(ctx, func(ctx context.Context) error { return page.Click(ctx, a.Selector) })
	case ActionWaitFor:
		timeout := a.Timeout
		if timeout <= 0 {
			timeout = ex.timeout
		}
		attempts := int(timeout / waitForInterval)
		if attempts < 1 {
			attempts = 1
		}
		return wait.Poll(ctx, "wait for "+a.Selector, wait.Policy{Interval: waitForInterval, MaxAttempts: attempts},
			func(ctx context.Context, _ int) (bool, error) {
				n, err := page.Count(ctx, a.Selector)
				return n > 0, err
			})
	}
	return nil
}

// page resolves the action's target through the registry, opening it on first use.
func (ex *executor) page(ctx context.Context, a Action) (driver.Page, error) {
	contextKey, pageKey := a.Context, a.Page
	if contextKey == "" {
		contextKey = attach.DefaultContext
	}
	if pageKey == "" {
		pageKey = attach.MainPage
	}
	return ex.in.Registry.GetPage(ctx, contextKey, pageKey)
}

func (ex *executor) bounded(ctx context.Context, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, ex.timeout)
	defer cancel()
	return fn(ctx)
}

func (a Action) target() string {
	if a.Type == ActionNavigate {
		return a.URL
	}
	if a.Type == ActionWait {
		return a.Duration.String()
	}
	return a.Selector
}
