package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// defaultConfigPath is the config file used when --config is not given.
const defaultConfigPath = "ignition.toml"

// ConfigManager wraps the loaded configuration and a mutex for concurrent access.
// When modifying configuration, always go through Update so the change is
// persisted.
type ConfigManager struct {
	path   string
	mu     sync.RWMutex
	cfg    Config
	loaded bool
}

// NewConfigManager manages the config file at path.  The format follows the
// extension: .toml, .yaml/.yml or .json.
func NewConfigManager(path string) *ConfigManager {
	if path == "" {
		path = defaultConfigPath
	}
	return &ConfigManager{path: path}
}

// Path returns the managed file path.
func (cm *ConfigManager) Path() string { return cm.path }

// defaultConfig mirrors the wiring of the original Pi build.  The default
// unlock password ("1234") and admin account (admin/admin) must be changed
// after installation.
func defaultConfig() (Config, error) {
	pw, err := hashPassword("1234")
	if err != nil {
		return Config{}, err
	}
	admin, err := hashPassword("admin")
	if err != nil {
		return Config{}, err
	}
	return Config{
		PasswordHash:     pw,
		MaxAttempts:      DefaultMaxAttempts,
		LockDurationSecs: int(DefaultLockDuration.Seconds()),
		RelayHoldMS:      int(DefaultRelayHold.Milliseconds()),
		ShortBuzzMS:      int(DefaultShortBuzz.Milliseconds()),
		LongBuzzMS:       int(DefaultLongBuzz.Milliseconds()),
		DebounceMS:       int(DefaultDebounce.Milliseconds()),
		FaceService: FaceServiceConfig{
			URL:         "http://192.168.14.20:5000",
			TimeoutSecs: 10,
		},
		Pins: PinConfig{
			FaceTrigger: "GPIO10",
			Reset:       "GPIO9",
			Shutdown:    "GPIO11",
			Relay:       "GPIO16",
			Buzzer:      "GPIO20",
		},
		Log: LogConfig{Level: "info", Format: "text", EventFile: "events.log"},
		Admin: AdminConfig{
			Users: []User{{Username: "admin", PasswordHash: admin, Admin: true}},
		},
		Alerts: []AlertConfig{{Type: "log"}},
	}, nil
}

// Load reads configuration from disk.  If the file does not exist, a default
// configuration is created and persisted.  Environment overrides are applied
// after reading and the result is validated.
func (cm *ConfigManager) Load() error {
	cm.mu.Lock()
	if cm.loaded {
		cm.mu.Unlock()
		return nil
	}
	data, err := os.ReadFile(cm.path)
	if err != nil {
		if !os.IsNotExist(err) {
			cm.mu.Unlock()
			return fmt.Errorf("unable to read config: %w", err)
		}
		cfg, err := defaultConfig()
		if err != nil {
			cm.mu.Unlock()
			return fmt.Errorf("build default config: %w", err)
		}
		cm.cfg = cfg
		cm.loaded = true
		// Release the write lock before saving: Save acquires a read lock on
		// the same mutex.
		cm.mu.Unlock()
		if err := cm.Save(); err != nil {
			return err
		}
		return cm.finishLoad()
	}
	defaults, err := defaultConfig()
	if err != nil {
		cm.mu.Unlock()
		return fmt.Errorf("build default config: %w", err)
	}
	cfg := defaults
	cfg.Admin.Users = nil
	cfg.Alerts = nil
	cfg.PasswordHash = ""
	if err := decodeConfig(cm.path, data, &cfg); err != nil {
		cm.mu.Unlock()
		return fmt.Errorf("invalid %s: %w", filepath.Base(cm.path), err)
	}
	cm.cfg = cfg
	cm.loaded = true
	cm.mu.Unlock()
	return cm.finishLoad()
}

// finishLoad hashes a clear-text password if one was supplied, applies
// environment overrides and validates.
func (cm *ConfigManager) finishLoad() error {
	cm.mu.RLock()
	plain := cm.cfg.Password
	cm.mu.RUnlock()
	if plain != "" {
		hash, err := hashPassword(plain)
		if err != nil {
			return err
		}
		err = cm.Update(func(c *Config) error {
			c.PasswordHash = hash
			c.Password = ""
			return nil
		})
		if err != nil {
			return fmt.Errorf("store password hash: %w", err)
		}
	}
	cm.mu.Lock()
	applyEnv(&cm.cfg)
	err := cm.cfg.Validate()
	cm.mu.Unlock()
	return err
}

// applyEnv overlays IGNITION_* environment variables.  Overrides are not
// written back to disk unless another change triggers a Save.
func applyEnv(c *Config) {
	if v := os.Getenv("IGNITION_FACE_URL"); v != "" {
		c.FaceService.URL = v
	}
	if v := os.Getenv("IGNITION_PASSWORD_HASH"); v != "" {
		c.PasswordHash = v
	}
	if v := os.Getenv("IGNITION_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// Validate reports the first configuration problem found.
func (c Config) Validate() error {
	switch {
	case c.PasswordHash == "":
		return errors.New("password_hash is required")
	case c.MaxAttempts < 1:
		return errors.New("max_attempts must be at least 1")
	case c.LockDurationSecs <= 0:
		return errors.New("lock_duration_secs must be positive")
	case c.RelayHoldMS <= 0 || c.ShortBuzzMS <= 0 || c.LongBuzzMS <= 0:
		return errors.New("relay_hold_ms, short_buzz_ms and long_buzz_ms must be positive")
	case c.DebounceMS < 0:
		return errors.New("debounce_ms must not be negative")
	case strings.TrimSpace(c.FaceService.URL) == "":
		return errors.New("face_service.url is required")
	case c.FaceService.TimeoutSecs <= 0:
		return errors.New("face_service.timeout_secs must be positive")
	}
	seen := map[string]string{}
	for role, name := range map[string]string{
		"face_trigger": c.Pins.FaceTrigger,
		"reset":        c.Pins.Reset,
		"shutdown":     c.Pins.Shutdown,
		"relay":        c.Pins.Relay,
		"buzzer":       c.Pins.Buzzer,
	} {
		if name == "" {
			return fmt.Errorf("pins.%s is required", role)
		}
		if other, dup := seen[name]; dup {
			return fmt.Errorf("pin %s assigned to both %s and %s", name, other, role)
		}
		seen[name] = role
	}
	return nil
}

func decodeConfig(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Unmarshal(data, cfg)
	case ".json":
		return json.Unmarshal(data, cfg)
	default:
		_, err := toml.Decode(string(data), cfg)
		return err
	}
}

func encodeConfig(path string, cfg Config) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Marshal(cfg)
	case ".json":
		return json.MarshalIndent(cfg, "", "  ")
	default:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
}

// Save writes the configuration to disk atomically.
func (cm *ConfigManager) Save() error {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	out, err := encodeConfig(cm.path, cm.cfg)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(cm.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmpPath := cm.path + ".tmp"
	if err := os.WriteFile(tmpPath, out, 0600); err != nil {
		return err
	}
	return os.Rename(tmpPath, cm.path)
}

// Get returns a copy of the current configuration.  Callers must treat the
// returned Config as immutable.
func (cm *ConfigManager) Get() Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.cfg
}

// Update applies a user supplied function to modify the configuration.  It
// holds the write lock, calls the supplied function with a pointer to the
// internal config, and then persists the change.  The updater must not
// capture the pointer beyond the scope of the function.
func (cm *ConfigManager) Update(fn func(*Config) error) error {
	cm.mu.Lock()
	if err := fn(&cm.cfg); err != nil {
		cm.mu.Unlock()
		return err
	}
	// Release the lock before saving to avoid deadlock: Save acquires a read
	// lock on the same mutex.
	cm.mu.Unlock()
	return cm.Save()
}

// FindUser returns an admin API user and its index by username.  If not
// found, index will be -1.
func (cm *ConfigManager) FindUser(username string) (User, int) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	for i, u := range cm.cfg.Admin.Users {
		if u.Username == username {
			return u, i
		}
	}
	return User{}, -1
}

// Authenticate checks whether the provided username and password are valid.  It
// returns the user object if authentication succeeds.
func (cm *ConfigManager) Authenticate(username, password string) (User, error) {
	user, _ := cm.FindUser(username)
	if user.Username == "" {
		return User{}, errors.New("invalid credentials")
	}
	if err := checkPasswordHash(password, user.PasswordHash); err != nil {
		return User{}, errors.New("invalid credentials")
	}
	return user, nil
}
