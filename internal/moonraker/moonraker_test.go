package moonraker

import (
	"context"
	"testing"

	"github.com/yanceya/kalico-flash/internal/types"
)

func TestNormalizeState(t *testing.T) {
	testCases := []struct {
		raw  string
		want types.PrintState
	}{
		{"printing", types.PrintStatePrinting},
		{"Paused", types.PrintStatePaused},
		{"", types.PrintStateUnknown},
		{"garbage", types.PrintStateUnknown},
		{"standby", types.PrintStateStandby},
	}
	for _, c := range testCases {
		if got := normalizeState(c.raw); got != c.want {
			t.Errorf("normalizeState(%q) = %q, want %q", c.raw, got, c.want)
		}
	}
}

func TestGetPrintStatusUnreachableReturnsNil(t *testing.T) {
	c := New()
	// baseURL is fixed at localhost:7125; nothing listens there in the test
	// sandbox, so this exercises the graceful-degradation path for real.
	status := c.GetPrintStatus(context.Background())
	if status != nil {
		t.Fatalf("expected nil status against an unreachable endpoint, got %+v", status)
	}
}

func TestGetMCUVersionsUnreachableReturnsNil(t *testing.T) {
	c := New()
	versions := c.GetMCUVersions(context.Background())
	if versions != nil {
		t.Fatalf("expected nil versions against an unreachable endpoint, got %+v", versions)
	}
}

func TestGetHostVersionBadDirReturnsEmpty(t *testing.T) {
	c := New()
	if v := c.GetHostVersion("/nonexistent/klipper/dir"); v != "" {
		t.Fatalf("expected empty version for a non-git directory, got %q", v)
	}
}
