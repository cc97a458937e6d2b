package config

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// State is the persisted JSON state shared with the desktop shell:
// credentials for silent re-login plus notification settings.
type State struct {
	Username      string `json:"username"`
	Password      string `json:"password"`
	NotifyEnabled bool   `json:"notify_enabled"`
	ServerChanKey string `json:"serverchan_key"`
	BatchCode     string `json:"batch_code,omitempty"`
}

// LoadState reads the state file. A missing file returns an empty state
// without error so first runs can prompt for credentials.
func LoadState(path string) (State, error) {
	var st State
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("read state file: %w", err)
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("parse state file: %w", err)
	}
	return st, nil
}

// SaveState writes the state file with owner-only permissions; it holds
// the student's password.
func SaveState(path string, st State) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	return nil
}

// monitorFlag is the tiny JSON document the external watchdog polls to
// decide whether the monitor should be running.
type monitorFlag struct {
	Active bool `json:"active"`
}

// WriteMonitorFlag records whether monitoring is active.
func WriteMonitorFlag(path string, active bool) error {
	data, err := json.Marshal(monitorFlag{Active: active})
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write monitor flag: %w", err)
	}
	return nil
}

// ReadMonitorFlag reports the persisted monitor-active flag. A missing
// file reads as inactive.
func ReadMonitorFlag(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read monitor flag: %w", err)
	}
	var f monitorFlag
	if err := json.Unmarshal(data, &f); err != nil {
		return false, fmt.Errorf("parse monitor flag: %w", err)
	}
	return f.Active, nil
}

// WishlistTarget is one entry of the YAML wishlist seed file.
type WishlistTarget struct {
	TeachingClassID string `yaml:"teaching_class_id"`
	CourseNumber    string `yaml:"course_number"`
	CourseName      string `yaml:"course_name"`
	Teacher         string `yaml:"teacher,omitempty"`
	Type            string `yaml:"type"` // recommend, major, public, sport, or a raw server code
	TimePlace       string `yaml:"time_place,omitempty"`
}

type wishlistFile struct {
	Targets []WishlistTarget `yaml:"targets"`
}

// LoadWishlist reads the YAML wishlist seed. A missing file returns an
// empty list: targets can also arrive through the shell at runtime.
func LoadWishlist(path string) ([]WishlistTarget, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read wishlist file: %w", err)
	}
	var f wishlistFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse wishlist file: %w", err)
	}
	for i, t := range f.Targets {
		if t.TeachingClassID == "" {
			return nil, fmt.Errorf("wishlist target %d missing teaching_class_id", i)
		}
	}
	return f.Targets, nil
}
