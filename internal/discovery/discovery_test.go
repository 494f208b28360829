package discovery

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/yanceya/kalico-flash/internal/types"
)

func TestExtractMCU(t *testing.T) {
	testCases := []struct {
		filename string
		wantMCU  string
		wantOK   bool
	}{
		{"usb-Klipper_stm32h723xx_29001A001151313531383332-if00", "stm32h723", true},
		{"usb-katapult_rp2040_E6616407E3396027-if00", "rp2040", true},
		{"usb-Klipper_stm32f411xe_3400370017-if00", "stm32f411", true},
		{"usb-Klipper_lpc1768_ABCDEF-if00", "lpc1768", true},
		{"usb-Beacon_eddy_current_sensor-if00", "", false},
		{"", "", false},
		{"not-a-usb-device", "", false},
		{"usb-klipper_rp2040_abcdef-if00", "rp2040", true},
	}

	for _, c := range testCases {
		mcu, ok := ExtractMCU(c.filename)
		if ok != c.wantOK {
			t.Errorf("ExtractMCU(%q) ok = %v, want %v", c.filename, ok, c.wantOK)
			continue
		}
		if mcu != c.wantMCU {
			t.Errorf("ExtractMCU(%q) = %q, want %q", c.filename, mcu, c.wantMCU)
		}
	}
}

func TestGeneratePatternMatchesItself(t *testing.T) {
	filenames := []string{
		"usb-Klipper_stm32h723xx_29001A001151313531383332-if00",
		"usb-katapult_rp2040_E6616407E3396027-if00",
		"usb-Klipper_lpc1768_ABCDEF",
	}
	for _, f := range filenames {
		pattern := GeneratePattern(f)
		ok, err := filepath.Match(pattern, f)
		if err != nil {
			t.Fatalf("Match(%q, %q): %v", pattern, f, err)
		}
		if !ok {
			t.Errorf("GeneratePattern(%q) = %q does not match itself", f, pattern)
		}
	}
}

func TestIsSupported(t *testing.T) {
	testCases := []struct {
		filename string
		want     bool
	}{
		{"usb-Klipper_stm32h723xx_ABC-if00", true},
		{"usb-katapult_rp2040_ABC-if00", true},
		{"usb-Beacon_eddy_current-if00", false},
		{"", false},
	}
	for _, c := range testCases {
		if got := IsSupported(c.filename); got != c.want {
			t.Errorf("IsSupported(%q) = %v, want %v", c.filename, got, c.want)
		}
	}
}

func TestScanMissingDirReturnsEmpty(t *testing.T) {
	d := New(filepath.Join(t.TempDir(), "never-existed"))
	devices, err := d.Scan()
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(devices) != 0 {
		t.Fatalf("expected no devices, got %v", devices)
	}
}

func TestScanSortedByFilename(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"usb-Klipper_b-if00", "usb-Klipper_a-if00"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	d := New(dir)
	devices, err := d.Scan()
	if err != nil {
		t.Fatal(err)
	}
	if len(devices) != 2 || devices[0].Filename != "usb-Klipper_a-if00" || devices[1].Filename != "usb-Klipper_b-if00" {
		t.Fatalf("unexpected scan order: %+v", devices)
	}
}

func TestMatchAllCaseSensitive(t *testing.T) {
	devices := []types.DiscoveredDevice{
		{Filename: "usb-Klipper_stm32h723xx_ABC-if00"},
		{Filename: "usb-klipper_stm32h723xx_ABC-if00"},
	}
	got := MatchAll("usb-Klipper_stm32h723xx_ABC*", devices)
	if len(got) != 1 {
		t.Fatalf("expected exactly one case-sensitive match, got %d", len(got))
	}
}
