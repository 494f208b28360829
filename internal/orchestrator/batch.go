package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/yanceya/kalico-flash/internal/configcache"
	"github.com/yanceya/kalico-flash/internal/discovery"
	"github.com/yanceya/kalico-flash/internal/flasher"
	"github.com/yanceya/kalico-flash/internal/kferrors"
	"github.com/yanceya/kalico-flash/internal/types"
	"github.com/yanceya/kalico-flash/internal/wait"
)

// BatchResult is the outcome of a full flash-all run.
type BatchResult struct {
	Skipped []types.Skip
	Devices []types.BatchDeviceResult
}

// FlashAll drives the five-stage batch pipeline of spec.md §4.9:
// Validation -> Candidate filtering -> Version check -> Build stage ->
// Flash stage. Every stage fully precedes the next; the service scope is
// entered once for the whole flash stage, not once per device.
func (o *Orchestrator) FlashAll(ctx context.Context) (BatchResult, error) {
	// Stage 1: Validation.
	o.phase("Validation")
	if err := o.preflight(types.FlashMethodKatapult, types.FlashMethodMakeFlash); err != nil {
		return BatchResult{}, err
	}
	if err := o.moonrakerGate(ctx, false); err != nil {
		return BatchResult{}, err
	}
	entries, err := o.Registry.List()
	if err != nil {
		return BatchResult{}, err
	}

	// Stage 2: Candidate filtering.
	o.phase("Candidate filtering")
	candidates, skipped, err := o.filterCandidates(entries)
	if err != nil {
		return BatchResult{}, err
	}
	for _, s := range skipped {
		o.Output.Warning("skipping %s: %s", s.EntryKey, s.Reason)
	}
	if len(candidates) == 0 {
		return BatchResult{Skipped: skipped}, fmt.Errorf("orchestrator: no flashable candidates remain: %w", kferrors.ErrNotConnected)
	}

	// Stage 3: Version check.
	o.phase("Version check")
	host := o.Moonraker.GetHostVersion(o.Global.KlipperDir)
	mcuVersions := o.Moonraker.GetMCUVersions(ctx)
	if host != "" {
		o.Output.Info("host firmware version: %s", host)
	}
	for _, c := range candidates {
		if mcuVersions == nil || host == "" {
			continue
		}
		if v, ok := mcuVersions[c.Entry.Key]; ok && v != host {
			o.Output.Warning("%s firmware (%s) differs from host version (%s)", c.Entry.Name, v, host)
		}
	}

	// Stage 4: Build stage.
	o.phase("Build stage")
	results := make([]types.BatchDeviceResult, 0, len(candidates))
	built := make([]types.FlashCandidate, 0, len(candidates))
	for _, c := range candidates {
		res, buildErr := o.buildCandidate(ctx, c)
		if buildErr != nil {
			o.Output.Warning("%s build failed: %v", c.Entry.Name, buildErr)
			results = append(results, res)
			o.broadcastResult(res)
			continue
		}
		built = append(built, c)
		results = append(results, res)
		o.broadcastResult(res)
	}

	// Stage 5: Flash stage -- single service scope for the whole batch.
	o.phase("Flash stage")
	if len(built) > 0 {
		runErr := o.Service.Run(ctx, func(ctx context.Context) error {
			return o.flashBuilt(ctx, built, results)
		})
		if runErr != nil {
			return BatchResult{Skipped: skipped, Devices: results}, runErr
		}
	}

	summarize(o.Output, results)
	return BatchResult{Skipped: skipped, Devices: results}, nil
}

// filterCandidates implements spec.md §4.9 stage 2's six-check filter,
// accumulating a used-paths set so no physical device is targeted by two
// registry entries.
func (o *Orchestrator) filterCandidates(entries []types.DeviceEntry) ([]types.FlashCandidate, []types.Skip, error) {
	devices, err := o.Discovery.Scan()
	if err != nil {
		return nil, nil, err
	}

	var candidates []types.FlashCandidate
	var skipped []types.Skip
	usedPaths := make(map[string]struct{})

	for _, e := range entries {
		if e.Excluded {
			skipped = append(skipped, types.Skip{EntryKey: e.Key, Reason: types.SkipExcluded})
			continue
		}
		if !e.Flashable {
			skipped = append(skipped, types.Skip{EntryKey: e.Key, Reason: types.SkipBlocked})
			continue
		}

		matches := discovery.MatchAll(e.SerialPattern, devices)
		switch {
		case len(matches) == 0:
			skipped = append(skipped, types.Skip{EntryKey: e.Key, Reason: types.SkipNotConnected})
			continue
		case len(matches) >= 2:
			skipped = append(skipped, types.Skip{EntryKey: e.Key, Reason: types.SkipDuplicatePattern})
			continue
		}
		usb := matches[0]

		if _, used := usedPaths[usb.Path]; used {
			skipped = append(skipped, types.Skip{EntryKey: e.Key, Reason: types.SkipDuplicateUSBPath})
			continue
		}

		if !o.ConfigCache.HasCached(e.Key) {
			skipped = append(skipped, types.Skip{EntryKey: e.Key, Reason: types.SkipNoCachedConfig})
			continue
		}
		cachedMCU, mcuOK := o.readCachedMCU(e.Key)
		if !mcuOK || !configcache.ValidateMCU(e.MCU, cachedMCU) {
			skipped = append(skipped, types.Skip{EntryKey: e.Key, Reason: types.SkipConfigMCUMismatch})
			continue
		}

		if hwMCU, ok := discovery.ExtractMCU(usb.Filename); ok && !configcache.ValidateMCU(e.MCU, hwMCU) {
			skipped = append(skipped, types.Skip{EntryKey: e.Key, Reason: types.SkipHardwareMCUMismatch})
			continue
		}

		usedPaths[usb.Path] = struct{}{}
		candidates = append(candidates, types.FlashCandidate{Entry: e, USB: usb})
	}

	return candidates, skipped, nil
}

func (o *Orchestrator) readCachedMCU(deviceKey string) (string, bool) {
	data, err := os.ReadFile(filepath.Join(o.ConfigCache.PathFor(deviceKey), ".config"))
	if err != nil {
		return "", false
	}
	return configcache.ParseMCU(string(data))
}

// buildCandidate loads the candidate's cached config into the shared build
// tree, builds quietly, then copies the resulting artifact into a private
// per-device temp directory -- the build tree is a single shared resource
// (spec.md §4.9 stage 4), so the next candidate's build would otherwise
// overwrite this one's firmware before the flash stage gets to it.
func (o *Orchestrator) buildCandidate(ctx context.Context, c types.FlashCandidate) (types.BatchDeviceResult, error) {
	workspace := o.Global.KlipperDir
	if err := o.ConfigCache.LoadIntoWorkspace(c.Entry.Key, workspace); err != nil {
		return types.BatchDeviceResult{Entry: c.Entry}, err
	}
	res, err := o.runBuild(ctx, true)
	if err != nil {
		return types.BatchDeviceResult{Entry: c.Entry, Build: &res}, err
	}

	privatePath, err := stashArtifact(c.Entry.Key, res.FirmwarePath)
	if err != nil {
		res.Success = false
		res.ErrorMessage = err.Error()
		return types.BatchDeviceResult{Entry: c.Entry, Build: &res}, err
	}
	res.FirmwarePath = privatePath
	return types.BatchDeviceResult{Entry: c.Entry, Build: &res}, nil
}

// stashArtifact copies a just-built firmware image into a private per-device
// temp directory so it survives subsequent candidates' builds in the same
// shared tree.
func stashArtifact(deviceKey, artifactPath string) (string, error) {
	dir, err := os.MkdirTemp("", "kalico-flash-"+deviceKey+"-")
	if err != nil {
		return "", fmt.Errorf("orchestrator: stash artifact: %w", err)
	}
	dst := filepath.Join(dir, filepath.Base(artifactPath))
	if err := copyArtifact(artifactPath, dst); err != nil {
		return "", fmt.Errorf("orchestrator: stash artifact: %w", err)
	}
	return dst, nil
}

func copyArtifact(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

// flashBuilt runs inside the single batch-wide service scope: each
// successfully built candidate is flashed and verified in turn, waiting
// global.StaggerDelaySeconds between devices. One device's failure does not
// abort the remaining devices (continue-on-failure, spec.md §4.9 stage 5).
func (o *Orchestrator) flashBuilt(ctx context.Context, built []types.FlashCandidate, results []types.BatchDeviceResult) error {
	stagger := time.Duration(o.Global.StaggerDelaySeconds) * time.Second

	for i, c := range built {
		idx := indexByKey(results, c.Entry.Key)
		var firmwarePath string
		if idx >= 0 && results[idx].Build != nil {
			firmwarePath = results[idx].Build.FirmwarePath
		}
		flashResult, verified, err := o.flashOneWithinScope(ctx, c, firmwarePath)
		if idx >= 0 {
			results[idx].Flash = &flashResult
			results[idx].Verified = verified
			o.broadcastResult(results[idx])
		}
		if err != nil {
			o.Output.Warning("%s flash failed: %v", c.Entry.Name, err)
		} else {
			o.Output.Success("%s flashed and verified via %s", c.Entry.Name, flashResult.MethodUsed)
		}

		if i < len(built)-1 {
			if waitErr := wait.Skippable(ctx, stagger); waitErr != nil {
				return waitErr
			}
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

// flashOneWithinScope flashes and verifies a single candidate. It is called
// from inside the batch-wide service scope, so it must not itself stop or
// start the service -- that already happened once for the whole batch.
func (o *Orchestrator) flashOneWithinScope(ctx context.Context, c types.FlashCandidate, firmwarePath string) (types.FlashResult, bool, error) {
	if _, err := o.Build.LocateArtifact(firmwarePath); err != nil {
		return types.FlashResult{}, false, err
	}
	method := methodFor(c.Entry, o.Global)
	pattern := discovery.GeneratePattern(c.USB.Filename)

	result := o.Flasher.Flash(ctx, c.USB.Path, firmwarePath, method, o.Global.AllowFlashFallback)
	if !result.Success {
		return result, false, fmt.Errorf("orchestrator: %s", result.ErrorMessage)
	}
	dev, verifyErr := o.Flasher.VerifyReenumeration(ctx, pattern)
	if verifyErr != nil {
		return result, false, verifyErr
	}
	result.SerialBanner = flasher.ProbeSerialBanner(dev.Path)
	return result, true, nil
}

func indexByKey(results []types.BatchDeviceResult, key string) int {
	for i, r := range results {
		if r.Entry.Key == key {
			return i
		}
	}
	return -1
}
