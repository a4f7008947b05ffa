package analysis

import (
	"context"

	"github.com/teranos/dmypyls/errors"
	"github.com/teranos/dmypyls/logger"
	"github.com/teranos/dmypyls/position"
	"github.com/teranos/dmypyls/worker"
	"go.uber.org/zap"
)

// Worker is the part of worker.Supervisor the dispatcher needs.
type Worker interface {
	Submit(cmd worker.Command) (<-chan worker.Result, error)
	Builder() *worker.CommandBuilder
}

// Dispatcher turns analysis requests into worker commands.
type Dispatcher struct {
	worker Worker
	logger *zap.SugaredLogger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(w Worker, log *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{worker: w, logger: log}
}

// Check type-checks path. The result is only logged.
func (d *Dispatcher) Check(path string) error {
	if _, err := d.worker.Submit(d.worker.Builder().Check(path)); err != nil {
		return errors.Wrapf(err, "check %s", path)
	}
	d.logger.Debugw("check dispatched", logger.FieldPath, path)
	return nil
}

// Recheck re-checks the workspace. The result is only logged.
func (d *Dispatcher) Recheck() error {
	if _, err := d.worker.Submit(d.worker.Builder().Recheck()); err != nil {
		return errors.Wrap(err, "recheck")
	}
	d.logger.Debugw("recheck dispatched")
	return nil
}

// SuggestDefinition asks the worker for callsites at pos and waits for the
// output. ctx only bounds the wait: the command itself runs to completion.
func (d *Dispatcher) SuggestDefinition(ctx context.Context, path string, pos position.ToolPosition) (worker.Result, error) {
	ch, err := d.worker.Submit(d.worker.Builder().Suggest(path, pos))
	if err != nil {
		return worker.Result{}, errors.Wrapf(err, "suggest %s", path)
	}

	select {
	case res := <-ch:
		return res, nil
	case <-ctx.Done():
		return worker.Result{}, errors.Wrapf(ctx.Err(), "waiting for suggest %s", path)
	}
}
