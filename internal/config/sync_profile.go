package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// SyncProfile tunes the background sync pipeline. Durations use Go syntax
// ("5s", "2m").
type SyncProfile struct {
	DebounceInterval       time.Duration `yaml:"debounce_interval"`
	MaxSyncInterval        time.Duration `yaml:"max_sync_interval"`
	MinTimeBetweenSyncs    time.Duration `yaml:"min_time_between_syncs"`
	MaxPendingChanges      int           `yaml:"max_pending_changes"`
	ActivePlayersThreshold int           `yaml:"active_players_threshold"`
	AutoSaveAfter          time.Duration `yaml:"auto_save_after"`
	TickInterval           time.Duration `yaml:"tick_interval"`
	AutoSyncEnabled        bool          `yaml:"auto_sync_enabled"`
	ManualSyncOnly         bool          `yaml:"manual_sync_only"`
}

func DefaultSyncProfile() SyncProfile {
	return SyncProfile{
		DebounceInterval:       5 * time.Second,
		MaxSyncInterval:        30 * time.Second,
		MinTimeBetweenSyncs:    10 * time.Second,
		MaxPendingChanges:      5,
		ActivePlayersThreshold: 1,
		AutoSaveAfter:          300 * time.Second,
		TickInterval:           time.Second,
		AutoSyncEnabled:        true,
	}
}

// LoadSyncProfile overlays the YAML file at path onto the defaults.
// A missing file is not an error.
func LoadSyncProfile(path string) (SyncProfile, error) {
	profile := DefaultSyncProfile()
	if path == "" {
		return profile, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return profile, nil
	}
	if err != nil {
		return SyncProfile{}, fmt.Errorf("read sync profile: %w", err)
	}

	if err := yaml.Unmarshal(data, &profile); err != nil {
		return SyncProfile{}, fmt.Errorf("parse sync profile: %w", err)
	}
	if err := profile.Validate(); err != nil {
		return SyncProfile{}, fmt.Errorf("sync profile %s: %w", path, err)
	}
	return profile, nil
}

func (p SyncProfile) Validate() error {
	switch {
	case p.DebounceInterval <= 0:
		return errors.New("debounce_interval must be positive")
	case p.MaxSyncInterval < p.DebounceInterval:
		return errors.New("max_sync_interval must not be shorter than debounce_interval")
	case p.MinTimeBetweenSyncs < 0:
		return errors.New("min_time_between_syncs must not be negative")
	case p.MaxPendingChanges < 1:
		return errors.New("max_pending_changes must be at least 1")
	case p.ActivePlayersThreshold < 0:
		return errors.New("active_players_threshold must not be negative")
	case p.AutoSaveAfter <= 0:
		return errors.New("auto_save_after must be positive")
	case p.TickInterval <= 0:
		return errors.New("tick_interval must be positive")
	}
	return nil
}
