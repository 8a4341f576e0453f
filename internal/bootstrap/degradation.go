package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Stage is one step of the startup sequence (providers, workspace, tools,
// memory, mcp, subagents, channels, gateway, ...). A Fatal stage aborts the
// whole boot on error; a non-fatal stage increments the degradation level
// and lets the process come up with that subsystem missing.
type Stage struct {
	Name  string
	Fatal bool
	Run   func(ctx context.Context) error
}

// shutdownStep is a named teardown action run in reverse registration
// order, each bounded by the controller's shutdown timeout.
type shutdownStep struct {
	name string
	fn   func(ctx context.Context) error
}

// Controller runs the bootstrap sequence and tracks how many non-fatal
// stages failed, so the rest of the runtime (status RPC, health endpoint,
// logs) can report that it's running in a degraded mode rather than
// silently pretending everything came up clean.
type Controller struct {
	degradationLevel int32
	stages           []Stage
	shutdown         []shutdownStep
}

// NewController returns an empty controller. Call AddStage to build up the
// boot sequence before calling Boot.
func NewController() *Controller {
	return &Controller{}
}

// AddStage appends a stage to the boot sequence, run in the order added.
func (c *Controller) AddStage(name string, fatal bool, run func(ctx context.Context) error) {
	c.stages = append(c.stages, Stage{Name: name, Fatal: fatal, Run: run})
}

// RegisterShutdown records a teardown action to run, in reverse order of
// registration, when Shutdown is called. Stages typically register their
// own teardown immediately after a successful Run.
func (c *Controller) RegisterShutdown(name string, fn func(ctx context.Context) error) {
	c.shutdown = append(c.shutdown, shutdownStep{name: name, fn: fn})
}

// DegradationLevel returns how many non-fatal stages failed during Boot.
// Zero means every stage came up clean.
func (c *Controller) DegradationLevel() int32 {
	return atomic.LoadInt32(&c.degradationLevel)
}

// Boot runs every registered stage in order. A fatal stage's error aborts
// the whole boot and is returned to the caller. A non-fatal stage's error
// is logged, bumps the degradation level, and boot continues — the runtime
// comes up with that subsystem absent rather than not coming up at all.
func (c *Controller) Boot(ctx context.Context) error {
	for _, stage := range c.stages {
		if err := stage.Run(ctx); err != nil {
			if stage.Fatal {
				return fmt.Errorf("bootstrap stage %q failed: %w", stage.Name, err)
			}
			atomic.AddInt32(&c.degradationLevel, 1)
			slog.Warn("bootstrap.stage.degraded", "stage", stage.Name, "error", err)
			continue
		}
		slog.Debug("bootstrap.stage.ok", "stage", stage.Name)
	}
	if level := c.DegradationLevel(); level > 0 {
		slog.Warn("bootstrap.degraded", "level", level)
	}
	return nil
}

// Shutdown runs every registered teardown action in reverse order, each
// bounded by perStepTimeout so one wedged subsystem can't hang the whole
// process exit.
func (c *Controller) Shutdown(ctx context.Context, perStepTimeout time.Duration) {
	for i := len(c.shutdown) - 1; i >= 0; i-- {
		step := c.shutdown[i]
		stepCtx, cancel := context.WithTimeout(ctx, perStepTimeout)
		if err := step.fn(stepCtx); err != nil {
			slog.Warn("bootstrap.shutdown.error", "step", step.name, "error", err)
		} else {
			slog.Debug("bootstrap.shutdown.ok", "step", step.name)
		}
		cancel()
	}
}
