package flasher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/yanceya/kalico-flash/internal/discovery"
)

func TestIsKlipperIdentity(t *testing.T) {
	testCases := []struct {
		filename string
		want     bool
	}{
		{"usb-Klipper_stm32h723xx_ABC-if00", true},
		{"usb-klipper_rp2040_ABC-if00", true},
		{"usb-katapult_rp2040_ABC-if00", false},
		{"usb-Beacon_sensor-if00", false},
	}
	for _, c := range testCases {
		if got := isKlipperIdentity(c.filename); got != c.want {
			t.Errorf("isKlipperIdentity(%q) = %v, want %v", c.filename, got, c.want)
		}
	}
}

func TestVerifyReenumerationSucceedsOnceDeviceAppears(t *testing.T) {
	dir := t.TempDir()
	disc := discovery.New(dir)
	f := New(t.TempDir(), t.TempDir(), disc)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = os.WriteFile(filepath.Join(dir, "usb-Klipper_stm32h723xx_ABC-if00"), nil, 0o644)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	dev, err := f.VerifyReenumeration(ctx, "usb-Klipper_stm32h723xx_ABC*")
	if err != nil {
		t.Fatalf("VerifyReenumeration: %v", err)
	}
	if dev.Filename != "usb-Klipper_stm32h723xx_ABC-if00" {
		t.Fatalf("unexpected device: %+v", dev)
	}
}

func TestVerifyReenumerationIgnoresKatapultIdentity(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "usb-katapult_stm32h723xx_ABC-if00"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	disc := discovery.New(dir)
	f := New(t.TempDir(), t.TempDir(), disc)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := f.VerifyReenumeration(ctx, "usb-katapult_stm32h723xx_ABC*")
	if err == nil {
		t.Fatal("expected timeout/cancellation since only the Katapult (bootloader) identity is present")
	}
}

func TestVerifyReenumerationTimesOut(t *testing.T) {
	dir := t.TempDir()
	disc := discovery.New(dir)
	f := New(t.TempDir(), t.TempDir(), disc)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := f.VerifyReenumeration(ctx, "usb-Klipper_never_appears*")
	if err == nil {
		t.Fatal("expected an error when the device never appears")
	}
}
