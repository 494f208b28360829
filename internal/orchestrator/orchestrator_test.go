package orchestrator

import (
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yanceya/kalico-flash/internal/configcache"
	"github.com/yanceya/kalico-flash/internal/discovery"
	"github.com/yanceya/kalico-flash/internal/output"
	"github.com/yanceya/kalico-flash/internal/registry"
	"github.com/yanceya/kalico-flash/internal/statusfeed"
	"github.com/yanceya/kalico-flash/internal/types"
)

func newTestOrchestrator(t *testing.T, byIDDir string) *Orchestrator {
	t.Helper()
	regPath := filepath.Join(t.TempDir(), "registry.json")
	global := types.GlobalConfig{
		KlipperDir:         t.TempDir(),
		KatapultDir:        t.TempDir(),
		DefaultFlashMethod: types.FlashMethodKatapult,
	}
	o := New(global, registry.New(regPath), configcache.New(t.TempDir()), output.Null{})
	o.Discovery = discovery.New(byIDDir)
	return o
}

func TestMethodForPrefersEntryOverride(t *testing.T) {
	m := types.FlashMethodMakeFlash
	entry := types.DeviceEntry{FlashMethod: &m}
	global := types.GlobalConfig{DefaultFlashMethod: types.FlashMethodKatapult}
	if got := methodFor(entry, global); got != types.FlashMethodMakeFlash {
		t.Fatalf("methodFor = %v, want %v", got, types.FlashMethodMakeFlash)
	}
}

func TestMethodForFallsBackToGlobalDefault(t *testing.T) {
	entry := types.DeviceEntry{}
	global := types.GlobalConfig{DefaultFlashMethod: types.FlashMethodKatapult}
	if got := methodFor(entry, global); got != types.FlashMethodKatapult {
		t.Fatalf("methodFor = %v, want %v", got, types.FlashMethodKatapult)
	}
}

func TestElapsedStatsMeanStdDev(t *testing.T) {
	results := []types.BatchDeviceResult{
		{Build: &types.BuildResult{ElapsedSeconds: 10}},
		{Build: &types.BuildResult{ElapsedSeconds: 20}},
		{Build: nil},
	}
	mean, _, ok := elapsedStats(results, func(r types.BatchDeviceResult) (float64, bool) {
		if r.Build == nil {
			return 0, false
		}
		return r.Build.ElapsedSeconds, true
	})
	if !ok || mean != 15 {
		t.Fatalf("elapsedStats mean = %v, ok=%v, want 15", mean, ok)
	}
}

func TestElapsedStatsNoSamples(t *testing.T) {
	_, _, ok := elapsedStats(nil, func(types.BatchDeviceResult) (float64, bool) { return 0, false })
	if ok {
		t.Fatal("expected ok=false with zero samples")
	}
}

func TestTailTruncatesLongOutput(t *testing.T) {
	long := make([]byte, 5000)
	for i := range long {
		long[i] = 'x'
	}
	got := tail(string(long))
	if len(got) != 2000 {
		t.Fatalf("tail length = %d, want 2000", len(got))
	}
}

func TestTailShortOutputUnchanged(t *testing.T) {
	if got := tail("short"); got != "short" {
		t.Fatalf("tail(%q) = %q", "short", got)
	}
}

func TestFilterCandidatesSkipReasons(t *testing.T) {
	byID := t.TempDir()
	writeDevFile(t, byID, "usb-Klipper_stm32h723xx_AAA-if00")
	writeDevFile(t, byID, "usb-Klipper_stm32h743xx_BBB-if00")
	writeDevFile(t, byID, "usb-Klipper_rp2040_CCC-if00")
	writeDevFile(t, byID, "usb-Klipper_rp2040_CCC-if01") // second match for dup-pattern entry

	o := newTestOrchestrator(t, byID)

	mCached := "stm32h723"
	writeCachedConfig(t, o, "connected", mCached)

	entries := []types.DeviceEntry{
		{Key: "connected", Name: "Connected", MCU: "stm32h723", SerialPattern: "usb-Klipper_stm32h723xx_AAA*", Flashable: true},
		{Key: "not-connected", Name: "Absent", MCU: "stm32h743", SerialPattern: "usb-Klipper_stm32h743xx_ZZZ*", Flashable: true},
		{Key: "dup-pattern", Name: "Dup", MCU: "rp2040", SerialPattern: "usb-Klipper_rp2040_CCC*", Flashable: true},
		{Key: "no-cache", Name: "NoCache", MCU: "stm32h743", SerialPattern: "usb-Klipper_stm32h743xx_BBB*", Flashable: true},
		{Key: "excluded", Name: "Excluded", MCU: "stm32h723", SerialPattern: "usb-Klipper_stm32h723xx_AAA*", Flashable: true, Excluded: true},
		{Key: "blocked", Name: "Blocked", MCU: "stm32h723", SerialPattern: "usb-Klipper_stm32h723xx_AAA*", Flashable: false},
	}

	candidates, skipped, err := o.filterCandidates(entries)
	if err != nil {
		t.Fatalf("filterCandidates: %v", err)
	}
	if len(candidates) != 1 || candidates[0].Entry.Key != "connected" {
		t.Fatalf("candidates = %+v, want exactly [connected]", candidates)
	}

	reasons := map[string]types.SkipReason{}
	for _, s := range skipped {
		reasons[s.EntryKey] = s.Reason
	}
	want := map[string]types.SkipReason{
		"not-connected": types.SkipNotConnected,
		"dup-pattern":   types.SkipDuplicatePattern,
		"no-cache":      types.SkipNoCachedConfig,
		"excluded":      types.SkipExcluded,
		"blocked":       types.SkipBlocked,
	}
	for key, want := range want {
		if got := reasons[key]; got != want {
			t.Errorf("skip reason for %s = %q, want %q", key, got, want)
		}
	}
}

func TestFilterCandidatesDuplicateUSBPath(t *testing.T) {
	byID := t.TempDir()
	writeDevFile(t, byID, "usb-Klipper_stm32h723xx_AAA-if00")
	o := newTestOrchestrator(t, byID)
	writeCachedConfig(t, o, "first", "stm32h723")
	writeCachedConfig(t, o, "second", "stm32h723")

	entries := []types.DeviceEntry{
		{Key: "first", Name: "First", MCU: "stm32h723", SerialPattern: "usb-Klipper_stm32h723xx_AAA*", Flashable: true},
		{Key: "second", Name: "Second", MCU: "stm32h723", SerialPattern: "usb-Klipper_stm32h723xx_AAA*", Flashable: true},
	}

	candidates, skipped, err := o.filterCandidates(entries)
	if err != nil {
		t.Fatalf("filterCandidates: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("candidates = %+v, want exactly one winner", candidates)
	}
	if len(skipped) != 1 || skipped[0].Reason != types.SkipDuplicateUSBPath {
		t.Fatalf("skipped = %+v, want one duplicate_usb_path", skipped)
	}
}

func TestPhaseBroadcastsToStatusHub(t *testing.T) {
	o := newTestOrchestrator(t, t.TempDir())
	hub := statusfeed.NewHub()
	o.Status = hub
	srv := httptest.NewServer(hub)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	time.Sleep(50 * time.Millisecond)
	o.phase("Build")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg statusfeed.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if msg.Type != "phase" || msg.Data != "Build" {
		t.Fatalf("got %+v, want phase/Build", msg)
	}
}

func TestBroadcastResultNoopWithoutStatusHub(t *testing.T) {
	o := newTestOrchestrator(t, t.TempDir())
	// o.Status is nil; this must not panic.
	o.broadcastResult(types.BatchDeviceResult{Entry: types.DeviceEntry{Key: "x"}})
}

func TestSelectTargetInteractivePicksFromList(t *testing.T) {
	byID := t.TempDir()
	writeDevFile(t, byID, "usb-Klipper_stm32h723xx_AAA-if00")
	writeDevFile(t, byID, "usb-Klipper_rp2040_BBB-if00")
	o := newTestOrchestrator(t, byID)
	o.Output = pickerSink{index: 1}

	if err := o.Registry.Add(types.DeviceEntry{Key: "first", Name: "First", MCU: "stm32h723", SerialPattern: "usb-Klipper_stm32h723xx_AAA*", Flashable: true}); err != nil {
		t.Fatal(err)
	}
	if err := o.Registry.Add(types.DeviceEntry{Key: "second", Name: "Second", MCU: "rp2040", SerialPattern: "usb-Klipper_rp2040_BBB*", Flashable: true}); err != nil {
		t.Fatal(err)
	}

	entry, _, err := o.SelectTarget(TargetSelector{Interactive: true})
	if err != nil {
		t.Fatalf("SelectTarget: %v", err)
	}
	if entry.Key != "first" && entry.Key != "second" {
		t.Fatalf("unexpected entry %+v", entry)
	}
}

// pickerSink is a minimal output.Sink stub that returns a fixed PickFromList
// index, used to exercise SelectTarget's interactive branch without a real
// terminal.
type pickerSink struct {
	output.Null
	index int
}

func (p pickerSink) PickFromList(names, keys []string) (int, error) {
	if p.index < 0 || p.index >= len(names) {
		return -1, errors.New("pick index out of range")
	}
	return p.index, nil
}

func writeDevFile(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
		t.Fatal(err)
	}
}

func writeCachedConfig(t *testing.T, o *Orchestrator, deviceKey, mcu string) {
	t.Helper()
	dir := o.ConfigCache.PathFor(deviceKey)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	content := "CONFIG_MCU=\"" + mcu + "\"\n"
	if err := os.WriteFile(filepath.Join(dir, ".config"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
