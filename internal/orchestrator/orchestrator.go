// Package orchestrator implements the two pipelines described in spec.md
// §4.8-4.9: the single-device state machine (Discovery -> Safety -> Version
// -> Config -> Build -> Flash -> Verify -> Done) and the five-stage batch
// "flash-all" coordinator. Grounded on the teacher's modern/flash.go, which
// already sequences "stop whatever owns the line -> run the protected
// operation -> always restore" with per-stage progress callbacks; here that
// shape is lifted from a single serial flash into a multi-phase pipeline
// spanning several subsystems.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/yanceya/kalico-flash/internal/build"
	"github.com/yanceya/kalico-flash/internal/configcache"
	"github.com/yanceya/kalico-flash/internal/discovery"
	"github.com/yanceya/kalico-flash/internal/flasher"
	"github.com/yanceya/kalico-flash/internal/kferrors"
	"github.com/yanceya/kalico-flash/internal/moonraker"
	"github.com/yanceya/kalico-flash/internal/output"
	"github.com/yanceya/kalico-flash/internal/registry"
	"github.com/yanceya/kalico-flash/internal/service"
	"github.com/yanceya/kalico-flash/internal/statusfeed"
	"github.com/yanceya/kalico-flash/internal/types"
)

// Orchestrator wires every leaf package together. The registry, config
// cache, output sink and GlobalConfig come from the caller (cmd/kalico-flash's
// main); New builds the remaining collaborators from that GlobalConfig.
// There is no package-level singleton, matching design note 9.2.
type Orchestrator struct {
	Registry    *registry.Registry
	Discovery   *discovery.Discovery
	ConfigCache *configcache.Cache
	Build       *build.Driver
	Service     *service.Controller
	Flasher     *flasher.Flasher
	Moonraker   *moonraker.Client
	Output      output.Sink
	Global      types.GlobalConfig
	// Status optionally mirrors phase transitions and device results onto a
	// websocket dashboard (SPEC_FULL.md §5). Left nil by default; set by the
	// caller when -status-addr is configured.
	Status *statusfeed.Hub
}

// New builds an Orchestrator from a loaded GlobalConfig, constructing each
// leaf collaborator from the config's paths.
func New(global types.GlobalConfig, reg *registry.Registry, cache *configcache.Cache, sink output.Sink) *Orchestrator {
	disc := discovery.New(discovery.DefaultByIDDir)
	return &Orchestrator{
		Registry:    reg,
		Discovery:   disc,
		ConfigCache: cache,
		Build:       build.New(global.KlipperDir),
		Service:     service.New("klipper"),
		Flasher:     flasher.New(global.KlipperDir, global.KatapultDir, disc),
		Moonraker:   moonraker.New(),
		Output:      sink,
		Global:      global,
	}
}

// phase announces a pipeline phase to the output sink and, if a status
// dashboard is attached, mirrors it onto every connected websocket client.
func (o *Orchestrator) phase(name string) {
	o.Output.Phase(name)
	if o.Status != nil {
		o.Status.PhaseTransition(name)
	}
}

// broadcastResult mirrors a completed device's result onto the status
// dashboard, if attached. A no-op when Status is nil.
func (o *Orchestrator) broadcastResult(result types.BatchDeviceResult) {
	if o.Status != nil {
		o.Status.DeviceResult(result)
	}
}

// connectedEntry pairs a registry entry with the single USB device that
// currently matches its serial_pattern.
type connectedEntry struct {
	entry types.DeviceEntry
	usb   types.DiscoveredDevice
}

// connectedRegisteredDevices scans the bus once and returns every
// non-excluded, flashable registry entry that currently has exactly one
// matching USB device. Entries with zero or multiple matches are omitted
// here; batch candidate filtering reports those cases explicitly.
func (o *Orchestrator) connectedRegisteredDevices() ([]connectedEntry, error) {
	devices, err := o.Discovery.Scan()
	if err != nil {
		return nil, err
	}
	entries, err := o.Registry.List()
	if err != nil {
		return nil, err
	}

	var out []connectedEntry
	for _, e := range entries {
		if e.Excluded || !e.Flashable {
			continue
		}
		matches := discovery.MatchAll(e.SerialPattern, devices)
		if len(matches) == 1 {
			out = append(out, connectedEntry{entry: e, usb: matches[0]})
		}
	}
	return out, nil
}

// preflight checks that the external tools a flash would need actually
// exist: the Klipper tree and its Makefile always, plus the Katapult flash
// tool when katapult is among methods. The make-toolchain flash path has no
// check beyond the Makefile.
func (o *Orchestrator) preflight(methods ...types.FlashMethod) error {
	if _, err := os.Stat(o.Global.KlipperDir); err != nil {
		return fmt.Errorf("orchestrator: klipper_dir %s: %w", o.Global.KlipperDir, kferrors.ErrArtifactMissing)
	}
	if _, err := os.Stat(filepath.Join(o.Global.KlipperDir, "Makefile")); err != nil {
		return fmt.Errorf("orchestrator: no Makefile in %s: %w", o.Global.KlipperDir, kferrors.ErrArtifactMissing)
	}
	for _, m := range methods {
		if m == types.FlashMethodKatapult {
			tool := filepath.Join(o.Global.KatapultDir, "scripts", "flashtool.py")
			if _, err := os.Stat(tool); err != nil {
				return fmt.Errorf("orchestrator: katapult flash tool missing at %s: %w", tool, kferrors.ErrArtifactMissing)
			}
		}
	}
	return nil
}

// moonrakerGate implements spec.md §4.8's Moonraker gate: busy aborts,
// unreachable warns and requires confirmation, anything else proceeds.
// batch reports the same way but is never interactive -- an unreachable
// Moonraker only warns, it never blocks a batch run (spec.md §4.9 stage 1
// runs this gate once for the whole batch).
func (o *Orchestrator) moonrakerGate(ctx context.Context, interactive bool) error {
	status := o.Moonraker.GetPrintStatus(ctx)
	if status == nil {
		o.Output.Warning("Moonraker is unreachable; cannot confirm the printer is idle.")
		if interactive {
			if !o.Output.Confirm("Proceed without a Moonraker print-status check?", false) {
				return fmt.Errorf("orchestrator: %w", kferrors.ErrCancelled)
			}
		}
		return nil
	}
	if status.State == types.PrintStatePrinting || status.State == types.PrintStatePaused {
		return fmt.Errorf("orchestrator: printer is %s (%s, %.0f%%): %w",
			status.State, status.Filename, status.Progress*100, kferrors.ErrPrinterBusy)
	}
	return nil
}

// reportVersions implements spec.md §4.8's Version phase: informational
// only, never blocks, but warns when the target's reported MCU firmware
// differs from the host version.
func (o *Orchestrator) reportVersions(ctx context.Context, target types.DeviceEntry) {
	host := o.Moonraker.GetHostVersion(o.Global.KlipperDir)
	if host != "" {
		o.Output.Info("host firmware version: %s", host)
	}
	mcuVersions := o.Moonraker.GetMCUVersions(ctx)
	if mcuVersions == nil {
		return
	}
	for name, version := range mcuVersions {
		marker := ""
		if name == "mcu" || name == target.Key {
			marker = " (target)"
		}
		o.Output.Info("%s: %s%s", name, version, marker)
		if host != "" && version != host {
			o.Output.Warning("%s firmware (%s) differs from host version (%s)", name, version, host)
		}
	}
}

// prepareConfig implements spec.md §4.8's Config phase: load any cached
// config into the build tree, optionally run the interactive editor, save
// the tree's config back to the cache, then validate its MCU family against
// the registry entry.
func (o *Orchestrator) prepareConfig(ctx context.Context, entry types.DeviceEntry) error {
	workspace := o.Global.KlipperDir
	hadCache := o.ConfigCache.HasCached(entry.Key)
	if hadCache {
		if err := o.ConfigCache.LoadIntoWorkspace(entry.Key, workspace); err != nil {
			return err
		}
	}

	if !o.Global.SkipMenuconfig || !hadCache {
		if err := o.Build.EditConfig(ctx, workspace); err != nil {
			return err
		}
	}

	if err := o.ConfigCache.SaveFromWorkspace(entry.Key, workspace); err != nil {
		return err
	}

	data, err := os.ReadFile(filepath.Join(workspace, ".config"))
	if err != nil {
		return fmt.Errorf("orchestrator: read saved config: %w", err)
	}
	parsed, ok := configcache.ParseMCU(string(data))
	if !ok {
		return fmt.Errorf("orchestrator: %w", kferrors.ErrUnparseableConfig)
	}
	if !configcache.ValidateMCU(entry.MCU, parsed) {
		return fmt.Errorf("orchestrator: config mcu %q vs registry mcu %q: %w", parsed, entry.MCU, kferrors.ErrConfigMCUMismatch)
	}
	return nil
}

// runBuild implements spec.md §4.8's Build phase: clean then compile,
// returning the tail of captured output on failure.
func (o *Orchestrator) runBuild(ctx context.Context, quiet bool) (types.BuildResult, error) {
	workspace := o.Global.KlipperDir
	if res, err := o.Build.Clean(ctx, workspace); err != nil {
		return res, err
	}
	res, err := o.Build.Compile(ctx, workspace, quiet)
	if err != nil {
		return res, err
	}
	size, err := o.Build.LocateArtifact(o.Build.ArtifactPath())
	if err != nil {
		return res, err
	}
	res.FirmwarePath = o.Build.ArtifactPath()
	res.FirmwareSizeBytes = size
	return res, nil
}

// methodFor resolves the effective flash method for an entry: its own
// override if set, else the global default.
func methodFor(entry types.DeviceEntry, global types.GlobalConfig) types.FlashMethod {
	if entry.FlashMethod != nil {
		return *entry.FlashMethod
	}
	return global.DefaultFlashMethod
}

// runFlash implements spec.md §4.8's Flash phase: enter the service scope,
// flash, verify re-enumeration, and exit the scope -- restart is guaranteed
// by service.Controller.Run regardless of outcome.
func (o *Orchestrator) runFlash(ctx context.Context, entry types.DeviceEntry, usb types.DiscoveredDevice, firmwarePath string) (types.FlashResult, bool, error) {
	method := methodFor(entry, o.Global)
	pattern := discovery.GeneratePattern(usb.Filename)

	var result types.FlashResult
	var verified bool
	err := o.Service.Run(ctx, func(ctx context.Context) error {
		result = o.Flasher.Flash(ctx, usb.Path, firmwarePath, method, o.Global.AllowFlashFallback)
		if !result.Success {
			return fmt.Errorf("orchestrator: %s", result.ErrorMessage)
		}
		dev, verifyErr := o.Flasher.VerifyReenumeration(ctx, pattern)
		if verifyErr != nil {
			return verifyErr
		}
		verified = true
		result.SerialBanner = flasher.ProbeSerialBanner(dev.Path)
		return nil
	})
	return result, verified, err
}
