package storcert

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Settings are the tunables of a certification run. They are built once at
// start up, by DefaultSettings or LoadSettings, and passed to the components
// that need them.
type Settings struct {
	// DiskDataTest is the path of the block test tool.
	DiskDataTest string `yaml:"diskdatatest"`

	// Multipathd is the path of the multipath daemon query tool.
	Multipathd string `yaml:"multipathd"`

	// ScsiID is the path of the scsi_id udev helper.
	ScsiID string `yaml:"scsi_id"`

	// SampleTime bounds the sample run used to estimate a full disk test.
	SampleTime time.Duration `yaml:"sample_time"`

	// ControlPathLimit is the longest a control path write-through may take.
	ControlPathLimit time.Duration `yaml:"control_path_limit"`

	// SampleMiB is how much data is written to time device throughput.
	SampleMiB uint64 `yaml:"sample_mib"`

	// MaxVDISize caps the size of the control path test disk.
	MaxVDISize uint64 `yaml:"max_vdi_size"`

	// PathWait bounds the wait for a device path to appear.
	PathWait time.Duration `yaml:"path_wait"`

	// ConfigCacheTTL is how long a multipathd config dump is reused.
	ConfigCacheTTL time.Duration `yaml:"config_cache_ttl"`

	// MultipathDefaults is the device configuration multipathd applies when
	// no device section overrides it.
	MultipathDefaults map[string]string `yaml:"multipath_defaults"`
}

// DefaultMultipathDefaults returns the documented multipath defaults.
func DefaultMultipathDefaults() map[string]string {
	return map[string]string{
		"udev_dir":             "/dev",
		"polling_interval":     "5",
		"selector":             "round-robin 0",
		"path_grouping_policy": "failover",
		"getuid_callout":       "/usr/lib/udev/scsi_id --whitelisted --replace-whitespace /dev/%n",
		"prio_callout":         "none",
		"path_checker":         "readsector0",
		"rr_min_io":            "1000",
		"rr_weight":            "uniform",
		"failback":             "manual",
		"no_path_retry":        "fail",
		"user_friendly_names":  "no",
		"bindings_file":        "/var/lib/multipath/bindings",
	}
}

// DefaultSettings returns the settings used when no settings file is given.
func DefaultSettings() Settings {
	return Settings{
		DiskDataTest:      "/opt/xensource/debug/XenCert/diskdatatest",
		Multipathd:        "/usr/sbin/multipathd",
		ScsiID:            "/usr/lib/udev/scsi_id",
		SampleTime:        15 * time.Second,
		ControlPathLimit:  18000 * time.Second,
		SampleMiB:         512,
		MaxVDISize:        Gibibyte,
		PathWait:          15 * time.Second,
		ConfigCacheTTL:    5 * time.Minute,
		MultipathDefaults: DefaultMultipathDefaults(),
	}
}

// ParseSettings reads yaml settings over the defaults. Keys missing from the
// document keep their default; multipath_defaults entries are merged key by
// key.
func ParseSettings(content []byte) (Settings, error) {
	s := DefaultSettings()
	defaults := s.MultipathDefaults
	s.MultipathDefaults = nil

	if err := yaml.Unmarshal(content, &s); err != nil {
		return DefaultSettings(), errors.Wrap(err, "failed to parse settings")
	}

	for k, v := range s.MultipathDefaults {
		defaults[k] = v
	}

	s.MultipathDefaults = defaults

	if s.SampleTime <= 0 || s.ControlPathLimit <= 0 {
		return DefaultSettings(), errors.New("sample_time and control_path_limit must be positive")
	}

	return s, nil
}

// LoadSettings reads settings from the yaml file at path. An empty path
// returns DefaultSettings.
func LoadSettings(path string) (Settings, error) {
	if path == "" {
		return DefaultSettings(), nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return DefaultSettings(), errors.Wrapf(err, "failed to read settings %s", path)
	}

	return ParseSettings(content)
}
