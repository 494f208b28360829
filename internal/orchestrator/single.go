package orchestrator

import (
	"context"
	"fmt"

	"github.com/yanceya/kalico-flash/internal/configcache"
	"github.com/yanceya/kalico-flash/internal/discovery"
	"github.com/yanceya/kalico-flash/internal/kferrors"
	"github.com/yanceya/kalico-flash/internal/types"
)

// TargetSelector picks the single device the interactive pipeline acts on,
// per spec.md §4.8's Discovery phase: an explicit key, an interactive
// number among connected registered devices, or (when neither is set)
// single-candidate auto-select with confirmation.
type TargetSelector struct {
	Key         string
	Interactive bool
}

// SelectTarget resolves a TargetSelector to a concrete registry entry and
// its currently-matched USB device. An empty connected set is a
// user-visible error (ErrNotConnected).
func (o *Orchestrator) SelectTarget(sel TargetSelector) (types.DeviceEntry, types.DiscoveredDevice, error) {
	connected, err := o.connectedRegisteredDevices()
	if err != nil {
		return types.DeviceEntry{}, types.DiscoveredDevice{}, err
	}
	if len(connected) == 0 {
		return types.DeviceEntry{}, types.DiscoveredDevice{}, fmt.Errorf("orchestrator: no registered devices currently connected: %w", kferrors.ErrNotConnected)
	}

	if sel.Key != "" {
		for _, c := range connected {
			if c.entry.Key == sel.Key {
				return c.entry, c.usb, nil
			}
		}
		return types.DeviceEntry{}, types.DiscoveredDevice{}, fmt.Errorf("orchestrator: %s: %w", sel.Key, kferrors.ErrNotConnected)
	}

	if len(connected) == 1 {
		c := connected[0]
		if !o.Output.Confirm(fmt.Sprintf("Only one connected registered device found: %s. Use it?", c.entry.Name), true) {
			return types.DeviceEntry{}, types.DiscoveredDevice{}, fmt.Errorf("orchestrator: %w", kferrors.ErrCancelled)
		}
		return c.entry, c.usb, nil
	}

	if !sel.Interactive {
		return types.DeviceEntry{}, types.DiscoveredDevice{}, fmt.Errorf("orchestrator: multiple devices connected, no target specified: %w", kferrors.ErrAmbiguousMatch)
	}

	names := make([]string, len(connected))
	keys := make([]string, len(connected))
	for i, c := range connected {
		names[i] = c.entry.Name
		keys[i] = c.entry.Key
	}
	idx, err := o.Output.PickFromList(names, keys)
	if err != nil || idx < 0 || idx >= len(connected) {
		return types.DeviceEntry{}, types.DiscoveredDevice{}, fmt.Errorf("orchestrator: device selection: %w", kferrors.ErrAmbiguousMatch)
	}
	c := connected[idx]
	return c.entry, c.usb, nil
}

// FlashOne drives the single-device pipeline of spec.md §4.8:
// Discovery -> Safety -> Moonraker gate -> Version -> Config -> Build ->
// Flash -> Verify -> Done. Each phase's failure aborts the remaining
// phases and returns immediately; if the service scope was entered,
// restart is still guaranteed by service.Controller.Run.
func (o *Orchestrator) FlashOne(ctx context.Context, sel TargetSelector) (types.BatchDeviceResult, error) {
	entry, usb, err := o.SelectTarget(sel)
	if err != nil {
		return types.BatchDeviceResult{}, err
	}
	o.phase("Discovery")
	o.Output.Success("target: %s (%s)", entry.Name, entry.Key)

	o.phase("Safety")
	if err := o.safetyCheck(entry, usb, true); err != nil {
		return types.BatchDeviceResult{Entry: entry}, err
	}
	if err := o.preflight(methodFor(entry, o.Global)); err != nil {
		return types.BatchDeviceResult{Entry: entry}, err
	}

	o.phase("Moonraker gate")
	if err := o.moonrakerGate(ctx, true); err != nil {
		return types.BatchDeviceResult{Entry: entry}, err
	}

	o.phase("Version")
	o.reportVersions(ctx, entry)

	o.phase("Config")
	if err := o.prepareConfig(ctx, entry); err != nil {
		return types.BatchDeviceResult{Entry: entry}, err
	}

	o.phase("Build")
	buildResult, err := o.runBuild(ctx, false)
	if err != nil {
		o.Output.ErrorWithRecovery(err, recoveryOrGeneric(err))
		result := types.BatchDeviceResult{Entry: entry, Build: &buildResult}
		o.broadcastResult(result)
		return result, err
	}
	o.Output.Success("build complete: %s (%d bytes)", buildResult.FirmwarePath, buildResult.FirmwareSizeBytes)

	o.phase("Flash")
	flashResult, verified, err := o.runFlash(ctx, entry, usb, buildResult.FirmwarePath)
	result := types.BatchDeviceResult{Entry: entry, Build: &buildResult, Flash: &flashResult, Verified: verified}
	if err != nil {
		o.Output.ErrorWithRecovery(err, recoveryOrGeneric(err))
		o.broadcastResult(result)
		return result, err
	}

	o.phase("Done")
	o.Output.Success("%s flashed and verified via %s in %.1fs", entry.Name, flashResult.MethodUsed, flashResult.ElapsedSeconds)
	o.broadcastResult(result)
	return result, nil
}

// safetyCheck cross-validates the live USB device's extracted MCU family
// against the registry entry (spec.md §4.8's Safety phase). allowOverride
// permits a typed confirmation to proceed past a mismatch -- only ever true
// in the interactive single-device pipeline, never in batch mode.
func (o *Orchestrator) safetyCheck(entry types.DeviceEntry, usb types.DiscoveredDevice, allowOverride bool) error {
	hwMCU, ok := discovery.ExtractMCU(usb.Filename)
	if !ok {
		return nil // best-effort; absent extraction is treated as a pass
	}
	if configcache.ValidateMCU(entry.MCU, hwMCU) {
		return nil
	}
	if allowOverride {
		if o.Output.ConfirmTyped(
			fmt.Sprintf("Connected board reports MCU family %q, registry entry %q expects %q. Type the device key to override", hwMCU, entry.Key, entry.MCU),
			entry.Key,
		) {
			return nil
		}
	}
	return fmt.Errorf("orchestrator: live mcu %q vs registry mcu %q: %w", hwMCU, entry.MCU, kferrors.ErrHardwareMCUMismatch)
}

func recoveryOrGeneric(err error) kferrors.Recovery {
	if r, ok := kferrors.RecoveryForErr(err); ok {
		return r
	}
	return kferrors.Recovery{
		Headline: "Operation failed",
		Cause:    err.Error(),
	}
}
