// Package discovery enumerates USB serial devices by the stable
// usb-serial-by-id directory, matches registry patterns against them, and
// extracts MCU family tokens from their filenames. Grounded on the
// teacher's serial/port.go AutoDetectPort/TestPort pair (enumerate
// candidate device paths, probe each) generalized from an active serial
// probe to a pure filesystem+filename scan, since kalico-flash never needs
// to open the line itself to discover a board.
package discovery

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/yanceya/kalico-flash/internal/kferrors"
	"github.com/yanceya/kalico-flash/internal/types"
)

// DefaultByIDDir is the conventional Linux location for stable USB serial
// device symlinks.
const DefaultByIDDir = "/dev/serial/by-id"

const (
	klipperMarker  = "usb-klipper_"
	katapultMarker = "usb-katapult_"
)

// Discovery scans a single USB-serial-by-id directory.
type Discovery struct {
	byIDDir string
}

// New returns a Discovery bound to dir (typically DefaultByIDDir).
func New(dir string) *Discovery {
	return &Discovery{byIDDir: dir}
}

// Scan enumerates entries of the USB-serial-by-id directory, sorted by
// filename. A directory that has never existed (no device ever connected)
// yields an empty list, not an error.
func (d *Discovery) Scan() ([]types.DiscoveredDevice, error) {
	entries, err := os.ReadDir(d.byIDDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("discovery: read %s: %w", d.byIDDir, kferrors.ErrScanDirUnavailable)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)

	out := make([]types.DiscoveredDevice, 0, len(names))
	for _, name := range names {
		out = append(out, types.DiscoveredDevice{
			Path:     filepath.Join(d.byIDDir, name),
			Filename: name,
		})
	}
	return out, nil
}

// MatchAll returns the subset of devices whose filename case-sensitively
// matches the glob pattern.
func MatchAll(pattern string, devices []types.DiscoveredDevice) []types.DiscoveredDevice {
	var out []types.DiscoveredDevice
	for _, dev := range devices {
		if ok, _ := filepath.Match(pattern, dev.Filename); ok {
			out = append(out, dev)
		}
	}
	return out
}

// mcuGrammar matches usb-<marker>_<family><variant>_<serial>... where
// marker is Klipper or katapult (case-insensitive), family+variant is a
// token with an optional trailing x-prefixed variant suffix
// (stm32h723xx -> stm32h723), followed by an underscore and the rest of
// the filename.
var mcuGrammar = regexp.MustCompile(`(?i)^usb-(?:klipper|katapult)_([a-z0-9]+?)(x[a-z0-9]*)?_.+$`)

// ExtractMCU parses the MCU family token out of a USB device filename.
// Returns ("", false) for any shape the grammar doesn't recognize,
// including the empty string.
func ExtractMCU(filename string) (string, bool) {
	m := mcuGrammar.FindStringSubmatch(filename)
	if m == nil {
		return "", false
	}
	family := strings.ToLower(m[1])
	if family == "" {
		return "", false
	}
	return family, true
}

// ifaceSuffix matches a trailing Klipper/Katapult interface-number suffix,
// e.g. "-if00".
var ifaceSuffix = regexp.MustCompile(`-if\d+$`)

// GeneratePattern strips the interface suffix (if present) and appends a
// trailing wildcard, producing a glob that always matches filename itself.
func GeneratePattern(filename string) string {
	base := ifaceSuffix.ReplaceAllString(filename, "")
	return base + "*"
}

// IsSupported reports whether filename begins with the Klipper or Katapult
// marker prefix. Unsupported devices may be shown as "blocked" but must
// never be offered for flashing or registration.
func IsSupported(filename string) bool {
	lower := strings.ToLower(filename)
	return strings.HasPrefix(lower, klipperMarker) || strings.HasPrefix(lower, katapultMarker)
}
