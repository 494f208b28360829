// Package configcache owns the per-device build-config cache directory
// tree. Grounded on the teacher's modern/config.go (LoadParameters /
// PersistParameters / CalibratedPath), generalized from a single flat
// config file to a per-device directory keyed by the registry key, and on
// modern/save.go's atomic-via-temp-file write for SaveFromWorkspace.
package configcache

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/yanceya/kalico-flash/internal/kferrors"
)

const configFilename = ".config"

// Cache owns the config_root directory tree exclusively.
type Cache struct {
	root string
}

// New returns a Cache rooted at root (typically the XDG-derived
// kalico-flash/configs directory).
func New(root string) *Cache {
	return &Cache{root: root}
}

// DefaultRoot returns ${XDG_CONFIG_HOME or $HOME/.config}/kalico-flash/configs.
func DefaultRoot() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "kalico-flash", "configs"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("configcache: resolve home dir: %w", err)
	}
	return filepath.Join(home, ".config", "kalico-flash", "configs"), nil
}

// PathFor returns <config_root>/<device_key>/.
func (c *Cache) PathFor(deviceKey string) string {
	return filepath.Join(c.root, deviceKey)
}

func (c *Cache) configFile(deviceKey string) string {
	return filepath.Join(c.PathFor(deviceKey), configFilename)
}

// HasCached reports whether a cached config exists for deviceKey.
func (c *Cache) HasCached(deviceKey string) bool {
	_, err := os.Stat(c.configFile(deviceKey))
	return err == nil
}

// LoadIntoWorkspace copies the cached config into buildWorkspace/.config.
// Fails with ErrNoCachedConfig if none exists.
func (c *Cache) LoadIntoWorkspace(deviceKey, buildWorkspace string) error {
	if !c.HasCached(deviceKey) {
		return fmt.Errorf("configcache: %s: %w", deviceKey, kferrors.ErrNoCachedConfig)
	}
	return copyFile(c.configFile(deviceKey), filepath.Join(buildWorkspace, configFilename))
}

// SaveFromWorkspace copies buildWorkspace/.config back into the cache,
// atomically via a temp-file rename within the device's cache directory.
func (c *Cache) SaveFromWorkspace(deviceKey, buildWorkspace string) error {
	dir := c.PathFor(deviceKey)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("configcache: mkdir %s: %w", dir, err)
	}

	src := filepath.Join(buildWorkspace, configFilename)
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("configcache: read workspace config: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("configcache: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("configcache: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("configcache: fsync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("configcache: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, c.configFile(deviceKey)); err != nil {
		return fmt.Errorf("configcache: rename into place: %w", err)
	}
	cleanup = false
	return nil
}

// MoveDeviceDir relocates the cache directory for a renamed registry key.
// Called by registry.Update's moveCache hook before the registry save, per
// spec.md §4.1's key-rename semantics.
func (c *Cache) MoveDeviceDir(oldKey, newKey string) error {
	oldDir := c.PathFor(oldKey)
	if _, err := os.Stat(oldDir); os.IsNotExist(err) {
		return nil // nothing cached for the old key; nothing to move
	}
	newDir := c.PathFor(newKey)
	if err := os.MkdirAll(filepath.Dir(newDir), 0o755); err != nil {
		return fmt.Errorf("configcache: mkdir %s: %w", filepath.Dir(newDir), err)
	}
	return os.Rename(oldDir, newDir)
}

// configMCUKeys are the build-config keys, in priority order, that name the
// MCU family: the dedicated MCU selector first, falling back to the board
// directory key if the MCU key is absent.
var configMCUKeys = []string{
	"CONFIG_MCU",
	"CONFIG_BOARD_DIRECTORY",
}

// ParseMCU extracts the MCU family from build-config text (a
// `make menuconfig`-style KEY="value" / KEY=value line format) by looking
// for CONFIG_MCU, falling back to CONFIG_BOARD_DIRECTORY.
func ParseMCU(configText string) (string, bool) {
	values := make(map[string]string, 2)
	scanner := bufio.NewScanner(strings.NewReader(configText))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"`)
		values[key] = value
	}

	for _, key := range configMCUKeys {
		if v, ok := values[key]; ok && v != "" {
			return strings.ToLower(v), true
		}
	}
	return "", false
}

// ValidateMCU is a bidirectional prefix match: true iff expected is a
// prefix of actual, or actual is a prefix of expected. This reconciles the
// registry's family token (e.g. "stm32h723") against the build config's
// more specific part number with variant (e.g. "stm32h723xx"), in either
// order. An empty value on either side never matches. It is the hinge of
// the wrong-firmware-to-wrong-board safety property.
func ValidateMCU(expected, actual string) bool {
	if expected == "" || actual == "" {
		return false
	}
	return strings.HasPrefix(actual, expected) || strings.HasPrefix(expected, actual)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("configcache: open %s: %w", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("configcache: mkdir %s: %w", filepath.Dir(dst), err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("configcache: create %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("configcache: copy %s -> %s: %w", src, dst, err)
	}
	return out.Sync()
}
