// Package registry owns the on-disk device catalog: atomic load/save and
// the add/update/remove/list operations that mutate it. Grounded on the
// teacher's internal/server/store.go (in-memory map + mutex), generalized
// here to a durable, atomically-written JSON file per spec.md §4.1.
package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/yanceya/kalico-flash/internal/kferrors"
	"github.com/yanceya/kalico-flash/internal/types"
)

// Registry owns the on-disk catalog file exclusively; all mutation must go
// through it.
type Registry struct {
	path string
}

// New returns a Registry bound to the catalog file at path. The file is not
// touched until Load or Save is called.
func New(path string) *Registry {
	return &Registry{path: path}
}

// jsonDevice is the on-disk form of a types.DeviceEntry: the same fields
// minus Key, which is the entry's map key in jsonFile.Devices.
type jsonDevice struct {
	Name          string             `json:"name"`
	MCU           string             `json:"mcu"`
	SerialPattern string             `json:"serial_pattern"`
	FlashMethod   *types.FlashMethod `json:"flash_method"`
	Flashable     bool               `json:"flashable"`
	Excluded      bool               `json:"excluded,omitempty"`
}

type jsonFile struct {
	Global  types.GlobalConfig    `json:"global"`
	Devices map[string]jsonDevice `json:"devices"`
}

// Load returns the current catalog. A missing file yields an empty default
// (not an error); a malformed file fails with ErrRegistryCorrupt.
func (r *Registry) Load() (types.RegistryData, error) {
	b, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return types.RegistryData{Devices: map[string]types.DeviceEntry{}}, nil
	}
	if err != nil {
		return types.RegistryData{}, fmt.Errorf("registry: read %s: %w", r.path, kferrors.ErrRegistryIO)
	}

	var jf jsonFile
	if err := json.Unmarshal(b, &jf); err != nil {
		return types.RegistryData{}, fmt.Errorf("registry: parse %s: %w", r.path, kferrors.ErrRegistryCorrupt)
	}

	devices := make(map[string]types.DeviceEntry, len(jf.Devices))
	for key, jd := range jf.Devices {
		devices[key] = types.DeviceEntry{
			Key:           key,
			Name:          jd.Name,
			MCU:           jd.MCU,
			SerialPattern: jd.SerialPattern,
			FlashMethod:   jd.FlashMethod,
			Flashable:     jd.Flashable,
			Excluded:      jd.Excluded,
		}
	}
	return types.RegistryData{Global: jf.Global, Devices: devices}, nil
}

// Save atomically persists data: write to a temp file in the same
// directory, fsync, then rename over the target. On any failure before the
// rename the temp file is removed, so the target is always either the
// prior contents or the complete new contents.
func (r *Registry) Save(data types.RegistryData) error {
	jf := jsonFile{Global: data.Global, Devices: make(map[string]jsonDevice, len(data.Devices))}
	keys := make([]string, 0, len(data.Devices))
	for k, d := range data.Devices {
		jf.Devices[k] = jsonDevice{
			Name:          d.Name,
			MCU:           d.MCU,
			SerialPattern: d.SerialPattern,
			FlashMethod:   d.FlashMethod,
			Flashable:     d.Flashable,
			Excluded:      d.Excluded,
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	buf, err := marshalStableKeyOrder(jf, keys)
	if err != nil {
		return fmt.Errorf("registry: marshal: %w", kferrors.ErrRegistryIO)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("registry: mkdir %s: %w", dir, kferrors.ErrRegistryIO)
	}

	tmp, err := os.CreateTemp(dir, ".registry-*.tmp")
	if err != nil {
		return fmt.Errorf("registry: create temp file: %w", kferrors.ErrRegistryIO)
	}
	tmpPath := tmp.Name()
	cleanupTemp := true
	defer func() {
		if cleanupTemp {
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(buf); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("registry: write temp file: %w", kferrors.ErrRegistryIO)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("registry: fsync temp file: %w", kferrors.ErrRegistryIO)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("registry: close temp file: %w", kferrors.ErrRegistryIO)
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		return fmt.Errorf("registry: rename into place: %w", kferrors.ErrRegistryIO)
	}
	cleanupTemp = false
	return nil
}

// marshalStableKeyOrder produces deterministic JSON: two-space indent,
// sorted device keys, trailing newline. encoding/json already sorts map
// keys alphabetically when marshaling a map[string]T, so this mainly
// documents that guarantee and adds the trailing newline spec.md requires.
func marshalStableKeyOrder(jf jsonFile, _ []string) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(jf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Add inserts a new entry, failing if its key already exists.
func (r *Registry) Add(entry types.DeviceEntry) error {
	data, err := r.Load()
	if err != nil {
		return err
	}
	if _, exists := data.Devices[entry.Key]; exists {
		return fmt.Errorf("registry: add %s: %w", entry.Key, kferrors.ErrDuplicateKey)
	}
	data.Devices[entry.Key] = entry
	return r.Save(data)
}

// Update renames/replaces an entry in a single load-delete-insert-save
// cycle, never two saves. moveCache (if non-nil) is invoked with
// (oldKey, newKey) before the save so the caller (the config cache) can
// relocate its per-device directory; if moveCache returns an error no save
// occurs, per spec.md §4.1's key-rename semantics.
func (r *Registry) Update(oldKey string, newEntry types.DeviceEntry, moveCache func(oldKey, newKey string) error) error {
	data, err := r.Load()
	if err != nil {
		return err
	}
	if _, exists := data.Devices[oldKey]; !exists {
		return fmt.Errorf("registry: update %s: %w", oldKey, kferrors.ErrUnknownKey)
	}
	if newEntry.Key != oldKey {
		if _, collides := data.Devices[newEntry.Key]; collides {
			return fmt.Errorf("registry: rename %s -> %s: %w", oldKey, newEntry.Key, kferrors.ErrKeyCollision)
		}
	}

	if moveCache != nil && newEntry.Key != oldKey {
		if err := moveCache(oldKey, newEntry.Key); err != nil {
			return fmt.Errorf("registry: move cached config for rename %s -> %s: %w", oldKey, newEntry.Key, err)
		}
	}

	delete(data.Devices, oldKey)
	data.Devices[newEntry.Key] = newEntry
	return r.Save(data)
}

// Remove deletes the entry with the given key, reporting whether it existed.
func (r *Registry) Remove(key string) (bool, error) {
	data, err := r.Load()
	if err != nil {
		return false, err
	}
	if _, exists := data.Devices[key]; !exists {
		return false, nil
	}
	delete(data.Devices, key)
	return true, r.Save(data)
}

// Get returns the entry for key, if present.
func (r *Registry) Get(key string) (types.DeviceEntry, bool, error) {
	data, err := r.Load()
	if err != nil {
		return types.DeviceEntry{}, false, err
	}
	e, ok := data.Devices[key]
	return e, ok, nil
}

// List returns all entries ordered by key.
func (r *Registry) List() ([]types.DeviceEntry, error) {
	data, err := r.Load()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(data.Devices))
	for k := range data.Devices {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]types.DeviceEntry, 0, len(keys))
	for _, k := range keys {
		out = append(out, data.Devices[k])
	}
	return out, nil
}
