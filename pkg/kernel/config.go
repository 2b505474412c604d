package kernel

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the kernel's boot-time configuration record. It doubles
// as the shape persisted for the shell's appearance settings.
type Config struct {
	// Shell/terminal appearance.
	Theme      string `yaml:"theme,omitempty"`
	FontFamily string `yaml:"fontFamily,omitempty"`
	Cursor     string `yaml:"cursor,omitempty"`
	Bell       bool   `yaml:"bell"`

	// Boot identity and environment.
	Hostname string `yaml:"hostname,omitempty"`
	Shell    string `yaml:"shell,omitempty"`
	Editor   string `yaml:"editor,omitempty"`
	Path     string `yaml:"path,omitempty"`

	LogLevel string `yaml:"logLevel,omitempty"`
	LogFile  string `yaml:"logFile,omitempty"`

	// WebAuthn relying-party identity for passkey login.
	RPID      string   `yaml:"rpID,omitempty"`
	RPOrigins []string `yaml:"rpOrigins,omitempty"`

	// Default isolation level applied to externally-resolved
	// executables.
	Isolation string `yaml:"isolation,omitempty"`

	// SessionDBPath is where the SQLite-backed session store lives on
	// the host; any $HOME in it is replaced by the host home directory.
	SessionDBPath string `yaml:"sessionDBPath,omitempty"`
}

// defaultConfig returns the merge floor every loaded config starts
// from.
func defaultConfig() Config {
	return Config{
		Theme:         "default",
		Cursor:        "block",
		Bell:          true,
		Hostname:      "webos",
		Shell:         "/bin/sh",
		Editor:        "vim",
		Path:          "$HOME/bin:/bin:/usr/bin:/usr/local/bin:/usr/local/sbin:/usr/sbin:/sbin",
		LogLevel:      "info",
		RPID:          "localhost",
		RPOrigins:     []string{"http://localhost:8080"},
		Isolation:     "standard",
		SessionDBPath: "$HOME/.webos/sessions.db",
	}
}

// LoadConfig reads path (typically $HOME/.webos/config.yaml), merging
// any present fields over the defaults. A missing file is not an
// error; it yields pure defaults.
func LoadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	var onDisk Config
	if err := yaml.Unmarshal(data, &onDisk); err != nil {
		return cfg, err
	}
	mergeConfig(&cfg, onDisk)
	return cfg, nil
}

// mergeConfig overlays any non-zero field of onDisk onto base.
func mergeConfig(base *Config, onDisk Config) {
	if onDisk.Theme != "" {
		base.Theme = onDisk.Theme
	}
	if onDisk.FontFamily != "" {
		base.FontFamily = onDisk.FontFamily
	}
	if onDisk.Cursor != "" {
		base.Cursor = onDisk.Cursor
	}
	base.Bell = onDisk.Bell || base.Bell
	if onDisk.Hostname != "" {
		base.Hostname = onDisk.Hostname
	}
	if onDisk.Shell != "" {
		base.Shell = onDisk.Shell
	}
	if onDisk.Editor != "" {
		base.Editor = onDisk.Editor
	}
	if onDisk.Path != "" {
		base.Path = onDisk.Path
	}
	if onDisk.LogLevel != "" {
		base.LogLevel = onDisk.LogLevel
	}
	if onDisk.LogFile != "" {
		base.LogFile = onDisk.LogFile
	}
	if onDisk.RPID != "" {
		base.RPID = onDisk.RPID
	}
	if len(onDisk.RPOrigins) > 0 {
		base.RPOrigins = onDisk.RPOrigins
	}
	if onDisk.Isolation != "" {
		base.Isolation = onDisk.Isolation
	}
	if onDisk.SessionDBPath != "" {
		base.SessionDBPath = onDisk.SessionDBPath
	}
}

// Save writes cfg to path as YAML, creating parent directories as
// needed.
func Save(path string, cfg Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
