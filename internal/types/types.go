// Package types holds the value types shared across kalico-flash's
// components: the device registry schema, USB discovery results, and the
// result types each pipeline phase produces.
package types

// FlashMethod selects which flashing path to use for a device.
type FlashMethod string

const (
	FlashMethodDefault   FlashMethod = "default"
	FlashMethodKatapult  FlashMethod = "katapult"
	FlashMethodMakeFlash FlashMethod = "make_flash"
)

// DeviceEntry is a registered board.
type DeviceEntry struct {
	Key           string       `json:"-"`
	Name          string       `json:"name"`
	MCU           string       `json:"mcu"`
	SerialPattern string       `json:"serial_pattern"`
	FlashMethod   *FlashMethod `json:"flash_method"`
	Flashable     bool         `json:"flashable"`
	Excluded      bool         `json:"excluded,omitempty"`
}

// GlobalConfig carries process-wide defaults. It is loaded once in the
// orchestrator's setup phase and passed explicitly from there on — never a
// package-level singleton.
type GlobalConfig struct {
	KlipperDir          string      `json:"klipper_dir"`
	KatapultDir         string      `json:"katapult_dir"`
	DefaultFlashMethod  FlashMethod `json:"default_flash_method"`
	AllowFlashFallback  bool        `json:"allow_flash_fallback"`
	StaggerDelaySeconds int         `json:"stagger_delay_seconds"`
	ReturnDelaySeconds  int         `json:"return_delay_seconds"`
	SkipMenuconfig      bool        `json:"skip_menuconfig"`
}

// RegistryData is the full on-disk catalog.
type RegistryData struct {
	Global  GlobalConfig           `json:"global"`
	Devices map[string]DeviceEntry `json:"devices"`
}

// DiscoveredDevice is a single USB-serial-by-id entry. Produced fresh on
// every scan; never cached across operations.
type DiscoveredDevice struct {
	Path     string
	Filename string
}

// FlashCandidate pairs a registry entry with the USB device the batch
// orchestrator resolved it to.
type FlashCandidate struct {
	Entry DeviceEntry
	USB   DiscoveredDevice
}

// SkipReason enumerates why the batch candidate filter excluded an entry.
type SkipReason string

const (
	SkipNotConnected        SkipReason = "not_connected"
	SkipDuplicatePattern    SkipReason = "duplicate_pattern_matches"
	SkipDuplicateUSBPath    SkipReason = "duplicate_usb_path"
	SkipBlocked             SkipReason = "blocked"
	SkipNoCachedConfig      SkipReason = "no_cached_config"
	SkipConfigMCUMismatch   SkipReason = "config_mcu_mismatch"
	SkipHardwareMCUMismatch SkipReason = "hardware_mcu_mismatch"
	SkipExcluded            SkipReason = "excluded"
)

// Skip records one skipped registry entry with its reason.
type Skip struct {
	EntryKey string
	Reason   SkipReason
}

// BuildResult is the outcome of the build driver's clean+compile sequence.
type BuildResult struct {
	Success           bool
	FirmwarePath      string
	FirmwareSizeBytes int64
	ElapsedSeconds    float64
	ErrorMessage      string
	ErrorOutput       string
}

// FlashResult is the outcome of the dual-method flasher.
type FlashResult struct {
	Success        bool
	MethodUsed     FlashMethod
	ElapsedSeconds float64
	ErrorMessage   string
	// SerialBanner is the advisory post-flash banner probe result (empty if
	// none was seen or the probe was skipped); it never affects Success.
	SerialBanner string
}

// BatchDeviceResult is one row of the batch flash-all summary.
type BatchDeviceResult struct {
	Entry      DeviceEntry
	Build      *BuildResult
	Flash      *FlashResult
	Verified   bool
	SkipReason *SkipReason
}

// PrintState is Moonraker's reported printer state.
type PrintState string

const (
	PrintStateStandby   PrintState = "standby"
	PrintStatePrinting  PrintState = "printing"
	PrintStatePaused    PrintState = "paused"
	PrintStateComplete  PrintState = "complete"
	PrintStateError     PrintState = "error"
	PrintStateCancelled PrintState = "cancelled"
	PrintStateUnknown   PrintState = "unknown"
)

// PrintStatus is Moonraker's reported print job status.
type PrintStatus struct {
	State    PrintState
	Filename string
	Progress float64
}
