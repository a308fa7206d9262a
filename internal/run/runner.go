// Package run sequences one farm environment through launch, attach, use,
// detach and stop, and tracks concurrent runs for the control API.
package run

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shehryarbajwa/browserfarm/internal/attach"
	"github.com/shehryarbajwa/browserfarm/internal/driver"
	"github.com/shehryarbajwa/browserfarm/internal/faults"
	"github.com/shehryarbajwa/browserfarm/internal/session"
	"github.com/shehryarbajwa/browserfarm/pkg/models"
)

// Lifecycle is the subset of the farm client a run needs
type Lifecycle interface {
	CreateEnvironment(ctx context.Context, req models.CreateEnvironmentRequest) (*models.Environment, error)
	Launch(ctx context.Context, id string) (*models.LaunchInfo, error)
	Stop(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
}

// Spec describes which environment a run uses and how to attach to it
type Spec struct {
	// EnvironmentID selects an existing environment. Ignored when Create is set.
	EnvironmentID string
	Create        *models.CreateEnvironmentRequest
	// DeleteAfter removes an environment this run created once it is stopped.
	DeleteAfter bool
	// Host is where the debugging port is reachable; defaults to localhost.
	Host string
	// DriverPath overrides the driver path returned by launch.
	DriverPath  string
	InitScripts []string
}

// Input is what an interaction works with
type Input struct {
	Registry *session.Registry
	Result   attach.Result
	// Record appends an action outcome to the run report.
	Record func(models.ActionResult)
}

// Interaction is caller-supplied logic that runs against the populated registry
type Interaction func(ctx context.Context, in Input) error

// Observer receives a snapshot of the report after every step change
type Observer func(models.RunReport)

// Runner executes runs against one farm with one driver
type Runner struct {
	farm           Lifecycle
	driver         driver.Driver
	log            logrus.FieldLogger
	observer       Observer
	cleanupTimeout time.Duration
}

// Option configures a Runner
type Option func(*Runner)

// WithObserver reports step progress to fn
func WithObserver(fn Observer) Option {
	return func(r *Runner) { r.observer = fn }
}

// WithCleanupTimeout bounds detach, stop and delete
func WithCleanupTimeout(d time.Duration) Option {
	return func(r *Runner) { r.cleanupTimeout = d }
}

// NewRunner creates a runner
func NewRunner(farm Lifecycle, d driver.Driver, log logrus.FieldLogger, opts ...Option) *Runner {
	if log == nil {
		log = logrus.StandardLogger()
	}
	r := &Runner{
		farm:           farm,
		driver:         d,
		log:            log,
		cleanupTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// state is what a run has acquired so far; teardown releases exactly that.
type state struct {
	rec      *recorder
	coord    *attach.Coordinator
	envID    string
	launched bool
	created  bool
}

// Run executes spec. The returned error is the first fatal failure (create,
// launch, attach, script injection, bootstrap or interaction); teardown
// failures are recorded in the report but never returned.
func (r *Runner) Run(ctx context.Context, spec Spec, interact Interaction) (*models.RunReport, error) {
	report := &models.RunReport{Steps: []models.Step{}}
	log := r.log
	st := &state{
		rec:   &recorder{report: report, log: log, observe: r.observer},
		coord: attach.New(r.driver, session.NewRegistry(log), log),
	}

	err := func() error {
		defer r.teardown(ctx, st, spec)
		return r.execute(ctx, st, spec, interact)
	}()

	if err != nil {
		report.Error = err.Error()
		if kind := faults.KindOf(err); kind != nil {
			report.ErrorKind = kind.Error()
		}
		st.rec.notify()
	}
	return report, err
}

func (r *Runner) execute(ctx context.Context, st *state, spec Spec, interact Interaction) error {
	rec := st.rec

	st.envID = spec.EnvironmentID
	if spec.Create != nil {
		step := rec.begin(models.StepCreate)
		env, err := r.farm.CreateEnvironment(ctx, *spec.Create)
		if err != nil {
			rec.fail(step, err)
			return fmt.Errorf("create environment: %w", err)
		}
		st.envID = env.ID
		st.created = true
		rec.succeed(step, "id="+env.ID)
	}
	if st.envID == "" {
		return errors.New("run: environment id is required")
	}
	rec.report.EnvironmentID = st.envID
	rec.log = rec.log.WithField("env_id", st.envID)

	step := rec.begin(models.StepLaunch)
	info, err := r.farm.Launch(ctx, st.envID)
	if err != nil {
		// A success response without a port may still have started the browser.
		st.launched = errors.Is(err, faults.ErrMissingPort)
		rec.fail(step, err)
		return fmt.Errorf("launch environment %s: %w", st.envID, err)
	}
	st.launched = true
	rec.report.Port = info.Port
	rec.succeed(step, fmt.Sprintf("port=%d", info.Port))

	ep := driver.Endpoint{Host: spec.Host, Port: info.Port, DriverPath: info.DriverPath}
	if ep.Host == "" {
		ep.Host = "localhost"
	}
	if spec.DriverPath != "" {
		ep.DriverPath = spec.DriverPath
	}

	step = rec.begin(models.StepAttach)
	if err := st.coord.Attach(ctx, ep); err != nil {
		rec.fail(step, err)
		return err
	}
	rec.succeed(step, ep.Address())

	if len(spec.InitScripts) > 0 {
		step = rec.begin(models.StepScripts)
		for i, script := range spec.InitScripts {
			if err := st.coord.InjectOnNewDocumentScript(ctx, script); err != nil {
				rec.fail(step, err)
				return fmt.Errorf("init script %d: %w", i, err)
			}
		}
		rec.succeed(step, fmt.Sprintf("%d script(s)", len(spec.InitScripts)))
	}

	step = rec.begin(models.StepAdopt)
	res, err := st.coord.AdoptOrCreateDefault(ctx)
	if err != nil {
		rec.fail(step, err)
		return err
	}
	rec.report.Outcome = res.Outcome.String()
	rec.succeed(step, res.Outcome.String())

	if interact == nil {
		rec.skip(models.StepInteract, "no interaction")
		return nil
	}
	step = rec.begin(models.StepInteract)
	in := Input{Registry: st.coord.Registry(), Result: res, Record: rec.action}
	if err := interact(ctx, in); err != nil {
		rec.fail(step, err)
		return fmt.Errorf("interaction: %w", err)
	}
	rec.succeed(step, "")
	return nil
}

// teardown detaches the driver, then stops the environment, then deletes it
// when asked to. Each step runs regardless of the others' outcome; an
// environment this run created is deleted even when launch failed.
func (r *Runner) teardown(ctx context.Context, st *state, spec Spec) {
	rec := st.rec
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cleanupTimeout)
	defer cancel()

	if st.coord.State() == attach.Attached {
		step := rec.begin(models.StepDetach)
		if err := st.coord.Detach(cleanupCtx); err != nil {
			rec.fail(step, err)
		} else {
			rec.succeed(step, "")
		}
	} else if st.launched {
		rec.skip(models.StepDetach, "driver not attached")
	}

	if st.launched {
		step := rec.begin(models.StepStop)
		if err := r.farm.Stop(cleanupCtx, st.envID); err != nil {
			rec.fail(step, err)
		} else {
			rec.succeed(step, "")
		}
	}

	if st.created && spec.DeleteAfter {
		step := rec.begin(models.StepDelete)
		if err := r.farm.Delete(cleanupCtx, st.envID); err != nil {
			rec.fail(step, err)
		} else {
			rec.succeed(step, "")
		}
	}
}
