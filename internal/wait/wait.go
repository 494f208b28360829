// Package wait implements the stagger delay used between batch flashes,
// with an optional "press any key to skip" escape hatch. Grounded on the teacher's ui/keypress_nonwindows.go
// (StartKeyEvents/DrainKeys, built on eiannone/keyboard.Open/GetKey/Close);
// Skippable reuses that same open/read-loop/close shape, but only to
// shorten a wait, never to drive a menu.
package wait

import (
	"context"
	"time"

	"github.com/eiannone/keyboard"
)

// Skippable blocks for d, or until ctx is cancelled, or until a keypress is
// detected -- whichever comes first. Keyboard-open failures (e.g. no TTY,
// as in CI or when stdin is redirected) degrade silently to a plain timed
// wait, since the skip is a UX nicety, never a correctness requirement.
func Skippable(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	if err := keyboard.Open(); err != nil {
		return plainWait(ctx, d)
	}
	defer keyboard.Close()

	keyPressed := make(chan struct{}, 1)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			_, _, err := keyboard.GetKey()
			if err != nil {
				return
			}
			select {
			case keyPressed <- struct{}{}:
			default:
			}
			select {
			case <-stop:
				return
			default:
			}
		}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	case <-keyPressed:
		return nil
	}
}

func plainWait(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
