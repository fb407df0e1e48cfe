// Package notify delivers board change notices to downstream consumers.
package notify

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

// Notifier consumes change notices.
type Notifier interface {
	Notify(ctx context.Context, n domain.ChangeNotice) error
}

type target struct {
	name string
	n    Notifier
}

// Fanout delivers each notice to every registered target. A failing target
// does not stop delivery to the others.
type Fanout struct {
	targets []target
	log     *log.Logger
}

// NewFanout creates an empty Fanout.
func NewFanout(logger *log.Logger) *Fanout {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Fanout{log: logger}
}

// Add registers a named target.
func (f *Fanout) Add(name string, n Notifier) *Fanout {
	f.targets = append(f.targets, target{name: name, n: n})
	return f
}

// Len returns the number of targets.
func (f *Fanout) Len() int { return len(f.targets) }

// Notify returns the joined errors of all failing targets.
func (f *Fanout) Notify(ctx context.Context, n domain.ChangeNotice) error {
	var errs []error
	for _, t := range f.targets {
		if err := t.n.Notify(ctx, n); err != nil {
			f.log.WithFields(log.Fields{"target": t.name, "board": n.BoardID, "notice": n.ID}).WithError(err).Warn("notify.target.failed")
			errs = append(errs, fmt.Errorf("%s: %w", t.name, err))
		}
	}
	return errors.Join(errs...)
}
