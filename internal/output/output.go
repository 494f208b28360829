// Package output defines the Sink capability interface the orchestrator
// takes as a parameter instead of calling a concrete UI directly (design
// note 9.3): phase labels, info/success/warning, error-with-recovery,
// prompts, confirms, and a divider. internal/tui implements it for real
// terminal use; Null implements it for tests and headless batch runs.
package output

import (
	"fmt"

	"github.com/yanceya/kalico-flash/internal/kferrors"
)

// Sink is the capability interface the core takes as a parameter. Every
// method must be safe to call from the single orchestration goroutine;
// nothing here is expected to be called concurrently.
type Sink interface {
	// Phase announces entry into a named pipeline phase (e.g. "Discovery",
	// "Build", "Flash").
	Phase(name string)
	Info(format string, args ...interface{})
	Success(format string, args ...interface{})
	Warning(format string, args ...interface{})
	// ErrorWithRecovery reports a failure headline plus the recovery steps
	// looked up via kferrors.RecoveryForErr (or a generic message if no
	// template matches).
	ErrorWithRecovery(err error, recovery kferrors.Recovery)
	// Prompt asks a free-text question and returns the trimmed response.
	Prompt(question string) string
	// Confirm asks a yes/no question; defaultYes is returned on a bare
	// Enter.
	Confirm(question string, defaultYes bool) bool
	// ConfirmTyped requires the user to type back `mustType` exactly to
	// proceed -- used for the single-device hardware-MCU-mismatch override
	// (SPEC_FULL.md §6), a deliberately higher bar than a bare y/n.
	ConfirmTyped(question, mustType string) bool
	// PickFromList presents names (with keys shown alongside) and returns the
	// chosen index, or an error if nothing was chosen. Backs the interactive
	// "select a device by number" path (spec.md §4.8's Discovery phase).
	PickFromList(names, keys []string) (int, error)
	Divider()
}

// Null is a no-op Sink: Info/Success/Warning/ErrorWithRecovery/Divider do
// nothing, Prompt returns "", Confirm/ConfirmTyped return their safest
// default (false) so tests never block on terminal input or accidentally
// proceed past a safety gate.
type Null struct{}

func (Null) Phase(string)                              {}
func (Null) Info(string, ...interface{})               {}
func (Null) Success(string, ...interface{})            {}
func (Null) Warning(string, ...interface{})            {}
func (Null) ErrorWithRecovery(error, kferrors.Recovery) {}
func (Null) Prompt(string) string                      { return "" }
func (Null) Confirm(string, bool) bool                 { return false }
func (Null) ConfirmTyped(string, string) bool          { return false }
func (Null) Divider()                                  {}

func (Null) PickFromList(names, keys []string) (int, error) {
	return -1, fmt.Errorf("output: no interactive picker available")
}
