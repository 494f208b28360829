package configcache

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/yanceya/kalico-flash/internal/kferrors"
)

func TestValidateMCU(t *testing.T) {
	testCases := []struct {
		expected, actual string
		want             bool
	}{
		{"stm32h723", "stm32h723xx", true},
		{"stm32h723xx", "stm32h723", true},
		{"stm32h723", "stm32f411", false},
		{"rp2040", "stm32h723", false},
		{"rp2040", "rp2040", true},
		{"", "rp2040", false},
		{"rp2040", "", false},
	}
	for _, c := range testCases {
		if got := ValidateMCU(c.expected, c.actual); got != c.want {
			t.Errorf("ValidateMCU(%q, %q) = %v, want %v", c.expected, c.actual, got, c.want)
		}
	}
}

func TestParseMCUPrefersDedicatedKey(t *testing.T) {
	text := "CONFIG_BOARD_DIRECTORY=\"stm32\"\nCONFIG_MCU=\"stm32h723xx\"\n"
	mcu, ok := ParseMCU(text)
	if !ok || mcu != "stm32h723xx" {
		t.Fatalf("ParseMCU = %q, %v; want stm32h723xx, true", mcu, ok)
	}
}

func TestParseMCUFallsBackToBoardDirectory(t *testing.T) {
	text := "# generated\nCONFIG_BOARD_DIRECTORY=\"rp2040\"\n"
	mcu, ok := ParseMCU(text)
	if !ok || mcu != "rp2040" {
		t.Fatalf("ParseMCU = %q, %v; want rp2040, true", mcu, ok)
	}
}

func TestParseMCUUnrecognized(t *testing.T) {
	if _, ok := ParseMCU("CONFIG_SOMETHING=1\n"); ok {
		t.Fatal("expected no MCU parsed from unrelated config")
	}
}

func TestLoadIntoWorkspaceNoCached(t *testing.T) {
	c := New(t.TempDir())
	err := c.LoadIntoWorkspace("missing-device", t.TempDir())
	if !errors.Is(err, kferrors.ErrNoCachedConfig) {
		t.Fatalf("expected ErrNoCachedConfig, got %v", err)
	}
}

func TestSaveThenLoadRoundTrip(t *testing.T) {
	root := t.TempDir()
	c := New(root)
	workspace := t.TempDir()

	want := []byte("CONFIG_MCU=\"stm32h723xx\"\n")
	if err := os.WriteFile(filepath.Join(workspace, configFilename), want, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := c.SaveFromWorkspace("octopus", workspace); err != nil {
		t.Fatalf("SaveFromWorkspace: %v", err)
	}
	if !c.HasCached("octopus") {
		t.Fatal("expected HasCached true after save")
	}

	workspace2 := t.TempDir()
	if err := c.LoadIntoWorkspace("octopus", workspace2); err != nil {
		t.Fatalf("LoadIntoWorkspace: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(workspace2, configFilename))
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(want) {
		t.Fatalf("round-trip mismatch: got %q, want %q", got, want)
	}
}

func TestMoveDeviceDirRelocatesCache(t *testing.T) {
	root := t.TempDir()
	c := New(root)
	workspace := t.TempDir()
	if err := os.WriteFile(filepath.Join(workspace, configFilename), []byte("CONFIG_MCU=\"rp2040\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := c.SaveFromWorkspace("old-key", workspace); err != nil {
		t.Fatal(err)
	}
	if err := c.MoveDeviceDir("old-key", "new-key"); err != nil {
		t.Fatalf("MoveDeviceDir: %v", err)
	}
	if c.HasCached("old-key") {
		t.Fatal("old key cache should be gone")
	}
	if !c.HasCached("new-key") {
		t.Fatal("new key cache should exist")
	}
}

func TestMoveDeviceDirNoopWhenNothingCached(t *testing.T) {
	c := New(t.TempDir())
	if err := c.MoveDeviceDir("never-cached", "also-never"); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
}
