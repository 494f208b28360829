// Package service implements the scoped stop/guaranteed-restart of the
// printer daemon (design note 9.1). Go has no destructor/RAII equivalent,
// so the scope is modeled explicitly: Run takes a callable representing
// the protected operation and wraps it with stop/start, recovering a panic
// from the callable, honoring cancellation, and always attempting the
// restart — logging but never propagating restart failures.
//
// Grounded on the teacher's DeviceSession.cancelLocked/disconnectLocked in
// internal/server/server.go, which already pairs "cancel the active
// operation" with "release the resource" around every exit path of an HTTP
// handler; Controller.Run generalizes that pairing into its own guaranteed-exit
// primitive driven by an external service manager instead of an in-process
// handle.
package service

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"time"

	"github.com/yanceya/kalico-flash/internal/kferrors"
)

const (
	stopStartTimeout  = 30 * time.Second
	privilegeCeiling  = 5 * time.Second
)

// Controller stops and starts the printer daemon via the host service
// manager, escalating privilege non-interactively.
type Controller struct {
	serviceName  string
	serviceCmd   string // e.g. "systemctl"
	privilegeCmd string // e.g. "sudo"
}

// New returns a Controller for serviceName (e.g. "klipper") driven through
// systemctl under sudo -n.
func New(serviceName string) *Controller {
	return &Controller{serviceName: serviceName, serviceCmd: "systemctl", privilegeCmd: "sudo"}
}

// CheckPrivilege runs the privilege tool non-interactively with a trivial
// operation and a <=5s ceiling. A failure is not fatal by itself: the
// caller decides whether to warn and proceed (service calls will then
// prompt or fail) or to abort.
func (c *Controller) CheckPrivilege(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, privilegeCeiling)
	defer cancel()
	cmd := exec.CommandContext(ctx, c.privilegeCmd, "-n", "true")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("service: privilege probe: %w: %v", kferrors.ErrInsufficientPrivilege, err)
	}
	return nil
}

func (c *Controller) control(ctx context.Context, verb string) error {
	ctx, cancel := context.WithTimeout(ctx, stopStartTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, c.privilegeCmd, "-n", c.serviceCmd, verb, c.serviceName)
	return cmd.Run()
}

func (c *Controller) stop(ctx context.Context) error {
	if err := c.control(ctx, "stop"); err != nil {
		return fmt.Errorf("service: stop %s: %w: %v", c.serviceName, kferrors.ErrServiceStopFailed, err)
	}
	return nil
}

func (c *Controller) start(ctx context.Context) error {
	// Restart is attempted on a fresh, uncancellable context (design note
	// 9.5): it must execute even if the caller's ctx was already
	// cancelled.
	return c.control(context.Background(), "start")
}

// Run stops the service, invokes fn, and guarantees the service is started
// again on every exit path: fn returning an error, fn panicking, or ctx
// being cancelled mid-operation. Stop failure is fatal (the scope never
// yields, fn is never called). Start failure is logged, never returned,
// so it cannot mask the real outcome of fn.
func (c *Controller) Run(ctx context.Context, fn func(context.Context) error) (err error) {
	if stopErr := c.stop(ctx); stopErr != nil {
		return stopErr
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("service: protected operation panicked: %v", r)
		}
		if startErr := c.start(context.Background()); startErr != nil {
			log.Printf("service: restart of %s failed (original outcome preserved): %v", c.serviceName, startErr)
		}
	}()

	err = fn(ctx)
	return err
}
