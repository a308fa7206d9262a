package run

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/shehryarbajwa/browserfarm/pkg/models"
)

// recorder appends step status to a report and logs every transition.
type recorder struct {
	report  *models.RunReport
	log     logrus.FieldLogger
	observe Observer
}

var now = time.Now

func (r *recorder) begin(name string) int {
	r.report.Steps = append(r.report.Steps, models.Step{
		Name:      name,
		Status:    models.StepAttempted,
		StartedAt: now(),
	})
	r.log.WithField("step", name).Info("attempted")
	r.notify()
	return len(r.report.Steps) - 1
}

func (r *recorder) succeed(idx int, detail string) {
	s := &r.report.Steps[idx]
	s.Status = models.StepSucceeded
	s.Detail = detail
	s.FinishedAt = now()
	entry := r.log.WithField("step", s.Name)
	if detail != "" {
		entry = entry.WithField("detail", detail)
	}
	entry.Info("succeeded")
	r.notify()
}

func (r *recorder) fail(idx int, err error) {
	s := &r.report.Steps[idx]
	s.Status = models.StepFailed
	s.Error = err.Error()
	s.FinishedAt = now()
	r.log.WithField("step", s.Name).WithError(err).Error("failed")
	r.notify()
}

func (r *recorder) skip(name, reason string) {
	t := now()
	r.report.Steps = append(r.report.Steps, models.Step{
		Name:       name,
		Status:     models.StepSkipped,
		Detail:     reason,
		StartedAt:  t,
		FinishedAt: t,
	})
	r.log.WithFields(logrus.Fields{"step": name, "reason": reason}).Info("skipped")
	r.notify()
}

func (r *recorder) action(a models.ActionResult) {
	a.Index = len(r.report.Actions)
	r.report.Actions = append(r.report.Actions, a)
	entry := r.log.WithFields(logrus.Fields{"action": a.Type, "index": a.Index, "status": a.Status})
	if a.Target != "" {
		entry = entry.WithField("target", a.Target)
	}
	if a.Error != "" {
		entry.Warn(a.Error)
	} else {
		entry.Debug("action done")
	}
	r.notify()
}

func (r *recorder) notify() {
	if r.observe == nil {
		return
	}
	snapshot := *r.report
	snapshot.Steps = append([]models.Step(nil), r.report.Steps...)
	snapshot.Actions = append([]models.ActionResult(nil), r.report.Actions...)
	r.observe(snapshot)
}
