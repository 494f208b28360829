// Package kferrors is the domain error taxonomy for kalico-flash.
//
// Following the teacher's style (internal/server and modern/* in the
// teacher repo return plain fmt.Errorf-wrapped errors rather than a custom
// error type), each kind here is a sentinel created with errors.New, and
// call sites wrap it with fmt.Errorf("...: %w", kind) so errors.Is still
// matches across the wrap. This keeps every propagation site a one-line
// %w-wrap instead of a bespoke struct, the same shape as
// internal/server/device.go's openBars.
package kferrors

import "errors"

// Registry errors.
var (
	ErrRegistryCorrupt = errors.New("registry: corrupt file")
	ErrRegistryIO      = errors.New("registry: io error")
	ErrDuplicateKey    = errors.New("registry: duplicate key")
	ErrKeyCollision    = errors.New("registry: key collision")
	ErrUnknownKey      = errors.New("registry: unknown key")
	ErrEmptySlug       = errors.New("registry: name yields an empty slug")
)

// Discovery errors.
var (
	ErrScanDirUnavailable = errors.New("discovery: scan directory inaccessible")
)

// Device errors.
var (
	ErrNotRegistered  = errors.New("device: not registered")
	ErrNotConnected   = errors.New("device: not connected")
	ErrAmbiguousMatch = errors.New("device: ambiguous match")
)

// Config cache errors.
var (
	ErrNoCachedConfig    = errors.New("config: no cached config")
	ErrConfigMCUMismatch = errors.New("config: mcu mismatch")
	ErrUnparseableConfig = errors.New("config: unparseable")
)

// Build errors.
var (
	ErrEditorFailed    = errors.New("build: editor failed")
	ErrCleanFailed     = errors.New("build: clean failed")
	ErrCompileFailed   = errors.New("build: compile failed")
	ErrCompileTimedOut = errors.New("build: compile timed out")
	ErrArtifactMissing = errors.New("build: artifact not produced")
)

// Service errors.
var (
	ErrServiceStopFailed     = errors.New("service: stop failed")
	ErrInsufficientPrivilege = errors.New("service: insufficient privilege")
)

// Flash errors.
var (
	ErrAllMethodsFailed     = errors.New("flash: all methods failed")
	ErrVerificationTimedOut = errors.New("flash: post-flash verification timed out")
	ErrDeviceDisappeared    = errors.New("flash: device disappeared mid-flash")
)

// Safety errors.
var (
	ErrPrinterBusy          = errors.New("safety: printer busy")
	ErrMoonrakerUnreachable = errors.New("safety: moonraker unreachable")
	ErrHardwareMCUMismatch  = errors.New("safety: hardware mcu mismatch")
)

// ErrCancelled marks a run the user declined at a confirmation prompt.
// cmd/kalico-flash maps it, like context.Canceled, to the cancellation exit
// code rather than the ordinary failure code.
var ErrCancelled = errors.New("cancelled by user")

// Recovery is a short user-facing recovery template: headline, likely
// cause, and 1-5 ordered steps. Kept as a central table (design §7) so
// messaging is consistent regardless of which phase produced the error.
type Recovery struct {
	Headline string
	Cause    string
	Steps    []string
}

// recoveryTable maps each sentinel to its recovery template. RecoveryFor
// looks a sentinel up directly; RecoveryForErr matches wrapped errors via
// errors.Is.
var recoveryTable = map[error]Recovery{
	ErrRegistryCorrupt: {
		Headline: "Device registry file is corrupt",
		Cause:    "The registry JSON file could not be parsed, possibly from an interrupted write.",
		Steps: []string{
			"Check the file for obvious corruption (truncation, partial JSON).",
			"Restore from a backup if one exists.",
			"If no backup exists, delete the file to start a fresh empty registry.",
		},
	},
	ErrDuplicateKey: {
		Headline: "Device key already registered",
		Cause:    "Another entry already uses this key.",
		Steps:    []string{"Choose a different key, or edit the existing entry instead."},
	},
	ErrEmptySlug: {
		Headline: "Device name produces an empty key",
		Cause:    "The name contains no characters that survive slugification (letters, digits, hyphens).",
		Steps:    []string{"Choose a name with at least one letter or digit, or set the registry key explicitly."},
	},
	ErrNotConnected: {
		Headline: "Device not connected",
		Cause:    "No USB device matching this entry's serial pattern is currently present.",
		Steps: []string{
			"Check the USB cable and that the board is powered.",
			"Re-run discovery once the board is plugged in.",
		},
	},
	ErrAmbiguousMatch: {
		Headline: "Multiple USB devices match this entry",
		Cause:    "The entry's serial_pattern matched more than one connected device.",
		Steps: []string{
			"Disconnect all but the intended board.",
			"Tighten serial_pattern to uniquely identify the board.",
		},
	},
	ErrNoCachedConfig: {
		Headline: "No cached build config for this device",
		Cause:    "This device has never been configured, or its cache was cleared.",
		Steps:    []string{"Run the interactive config editor once to create a cached config."},
	},
	ErrConfigMCUMismatch: {
		Headline: "Cached config does not match the registered MCU family",
		Cause:    "The device's registry entry and its cached build config disagree about the MCU family.",
		Steps: []string{
			"Re-run menuconfig and select the correct MCU family for this board.",
			"Verify the registry entry's mcu field is correct.",
		},
	},
	ErrCompileFailed: {
		Headline: "Firmware compile failed",
		Cause:    "The Klipper build produced a non-zero exit status.",
		Steps: []string{
			"Inspect the captured compiler output tail.",
			"Re-run menuconfig to confirm the selected board/MCU settings.",
		},
	},
	ErrCompileTimedOut: {
		Headline: "Firmware compile timed out",
		Cause:    "The compile step did not finish within the configured ceiling.",
		Steps:    []string{"Re-run on an less-loaded host, or increase the timeout."},
	},
	ErrServiceStopFailed: {
		Headline: "Could not stop the printer service",
		Cause:    "The service manager refused or failed the stop request.",
		Steps: []string{
			"Check `systemctl status klipper` (or your service manager's equivalent).",
			"Verify passwordless privilege is configured for the service control command.",
		},
	},
	ErrInsufficientPrivilege: {
		Headline: "No passwordless privilege to control the printer service",
		Cause:    "The privilege escalation probe failed or would prompt interactively.",
		Steps: []string{
			"Configure a passwordless sudo rule for the service control command.",
			"Or run this tool as a user already permitted to control the service.",
		},
	},
	ErrAllMethodsFailed: {
		Headline: "Flashing failed with every available method",
		Cause:    "Both the preferred method and its fallback (if enabled) failed.",
		Steps: []string{
			"Check the USB connection and that the board is in a flashable state.",
			"Try putting the board in bootloader mode manually and re-running.",
		},
	},
	ErrVerificationTimedOut: {
		Headline: "Device did not reappear after flashing",
		Cause:    "The flash step reported success but no matching Klipper device re-enumerated in time.",
		Steps: []string{
			"Check the USB connection; some boards need a manual reset after flashing.",
			"Re-run discovery manually to see whether the device is present under a different identity.",
		},
	},
	ErrPrinterBusy: {
		Headline: "Printer is currently busy",
		Cause:    "Moonraker reports an active or paused print.",
		Steps:    []string{"Wait for the print to finish or cancel it from the printer's own UI first."},
	},
	ErrMoonrakerUnreachable: {
		Headline: "Moonraker is unreachable",
		Cause:    "The print-status preflight check could not contact the local Moonraker instance.",
		Steps: []string{
			"Confirm Moonraker/Klipper services are running.",
			"Proceed only if you are certain no print is in progress.",
		},
	},
	ErrHardwareMCUMismatch: {
		Headline: "Connected board does not match the registered MCU family",
		Cause:    "The MCU family extracted from the live USB device disagrees with the registry entry.",
		Steps: []string{
			"Confirm you selected the correct registry entry for this physical board.",
			"If this is intentional (board replaced with a compatible one), update the registry entry.",
		},
	},
}

// RecoveryFor looks up the recovery template for the sentinel `target`
// itself; a wrapped error is not unwrapped (use RecoveryForErr for that).
// Returns false if target has no entry.
func RecoveryFor(target error) (Recovery, bool) {
	r, ok := recoveryTable[target]
	return r, ok
}

// RecoveryForErr walks recoveryTable's sentinels with errors.Is against an
// arbitrary (possibly wrapped) err, returning the first match. Used by
// output sinks that only have the final wrapped error from a pipeline
// phase, not the sentinel itself.
func RecoveryForErr(err error) (Recovery, bool) {
	for sentinel, r := range recoveryTable {
		if errors.Is(err, sentinel) {
			return r, true
		}
	}
	return Recovery{}, false
}
