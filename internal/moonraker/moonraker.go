// Package moonraker is a read-only HTTP client for the printer daemon's
// sidecar. The host is fixed (not user-configurable) to avoid a class of
// misconfiguration bugs. Grounded on the teacher's internal/server handlers
// (internal/server/server.go), which decode JSON defensively and always
// answer with a structured response rather than panicking on a missing
// field; Client mirrors that tolerance in the opposite direction, as an
// HTTP client rather than a server.
package moonraker

import (
	"context"
	"encoding/json"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/yanceya/kalico-flash/internal/types"
)

const (
	baseURL = "http://localhost:7125"
	timeout = 5 * time.Second
)

// Client queries Moonraker. All methods degrade gracefully: any error
// (connection refused, timeout, non-2xx, malformed payload) yields an
// absent result, never an error return — the orchestrator decides what to
// do with absence.
type Client struct {
	httpClient *http.Client
}

// New returns a Client with a 5-second timeout on every call.
func New() *Client {
	return &Client{httpClient: &http.Client{Timeout: timeout}}
}

type printerObjectsResponse struct {
	Result struct {
		Status struct {
			PrintStats struct {
				State    string  `json:"state"`
				Filename string  `json:"filename"`
				Progress float64 `json:"progress"`
			} `json:"print_stats"`
			VirtualSDCard struct {
				Progress float64 `json:"progress"`
			} `json:"virtual_sdcard"`
		} `json:"status"`
	} `json:"result"`
}

// GetPrintStatus queries printer-objects for print_stats and
// virtual_sdcard. Returns nil on any error.
func (c *Client) GetPrintStatus(ctx context.Context) *types.PrintStatus {
	url := baseURL + "/printer/objects/query?print_stats&virtual_sdcard"
	var resp printerObjectsResponse
	if !c.getJSON(ctx, url, &resp) {
		return nil
	}

	state := normalizeState(resp.Result.Status.PrintStats.State)
	progress := resp.Result.Status.PrintStats.Progress
	if progress == 0 {
		progress = resp.Result.Status.VirtualSDCard.Progress
	}
	return &types.PrintStatus{
		State:    state,
		Filename: resp.Result.Status.PrintStats.Filename,
		Progress: progress,
	}
}

func normalizeState(raw string) types.PrintState {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(types.PrintStateStandby):
		return types.PrintStateStandby
	case string(types.PrintStatePrinting):
		return types.PrintStatePrinting
	case string(types.PrintStatePaused):
		return types.PrintStatePaused
	case string(types.PrintStateComplete):
		return types.PrintStateComplete
	case string(types.PrintStateError):
		return types.PrintStateError
	case string(types.PrintStateCancelled):
		return types.PrintStateCancelled
	default:
		return types.PrintStateUnknown
	}
}

type mcuObjectsResponse struct {
	Result struct {
		Status map[string]struct {
			MCUVersion string `json:"mcu_version"`
		} `json:"status"`
	} `json:"result"`
}

// GetMCUVersions queries every printer_objects/list entry beginning with
// "mcu" and returns their reported firmware version strings, keyed by
// object name (e.g. "mcu", "mcu ebb"). Returns nil on any error.
func (c *Client) GetMCUVersions(ctx context.Context) map[string]string {
	names := c.listMCUObjectNames(ctx)
	if names == nil {
		return nil
	}
	if len(names) == 0 {
		return map[string]string{}
	}

	query := strings.Join(names, "&")
	url := baseURL + "/printer/objects/query?" + query
	var resp mcuObjectsResponse
	if !c.getJSON(ctx, url, &resp) {
		return nil
	}

	out := make(map[string]string, len(resp.Result.Status))
	for name, obj := range resp.Result.Status {
		if obj.MCUVersion != "" {
			out[name] = obj.MCUVersion
		}
	}
	return out
}

type objectListResponse struct {
	Result struct {
		Objects []string `json:"objects"`
	} `json:"result"`
}

func (c *Client) listMCUObjectNames(ctx context.Context) []string {
	var resp objectListResponse
	if !c.getJSON(ctx, baseURL+"/printer/objects/list", &resp) {
		return nil
	}
	var names []string
	for _, obj := range resp.Result.Objects {
		if obj == "mcu" || strings.HasPrefix(obj, "mcu ") {
			names = append(names, obj)
		}
	}
	return names
}

// GetHostVersion shells to the version-control tool in the Klipper tree to
// derive the host firmware version. This path exists even when the daemon
// itself is down, since it never talks to Moonraker. Returns "" on error.
func (c *Client) GetHostVersion(klipperDir string) string {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, "git", "-C", klipperDir, "describe", "--always", "--tags", "--long", "--dirty")
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

func (c *Client) getJSON(ctx context.Context, url string, v interface{}) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return false
	}
	return true
}
