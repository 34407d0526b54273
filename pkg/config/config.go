// Package config loads the backend configuration from a YAML file with
// environment variable substitution.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigPath names the environment variable that overrides config file
// discovery.
const EnvConfigPath = "MQADMIN_CONFIG"

// Duration wraps time.Duration so YAML values can use "5s" / "1h" syntax.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("config: duration must be a string like \"5s\": %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("config: parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// DiscoveryOrder lists config file names tried in the working directory when
// no path is given.
var DiscoveryOrder = []string{"mqadmin.yaml", "mqadmin.yml"}

// ServerConfig is the HTTP API surface.
type ServerConfig struct {
	Listen      string   `yaml:"listen"`
	CORSOrigins []string `yaml:"cors_origins"`

	// RateLimitPerMinute caps stats requests per client IP. Zero uses the
	// default; negative disables limiting.
	RateLimitPerMinute int `yaml:"rate_limit_per_minute"`

	// TrustProxyHeaders enables X-Forwarded-For / X-Real-IP for client
	// identification. Only set behind a trusted reverse proxy.
	TrustProxyHeaders bool `yaml:"trust_proxy_headers"`
}

// AuthConfig is bearer-token verification.
type AuthConfig struct {
	Secret   string   `yaml:"secret"`
	Issuer   string   `yaml:"issuer"`
	TokenTTL Duration `yaml:"token_ttl"`
}

// BrokerConfig is the managed Mosquitto connection.
type BrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	ClientID string `yaml:"client_id"`
}

// StorageConfig is the statistics store.
type StorageConfig struct {
	// Backend selects "sqlite" or "file".
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`

	RetentionDays   int      `yaml:"retention_days"`
	CacheTTL        Duration `yaml:"cache_ttl"`
	SnapshotTimeout Duration `yaml:"snapshot_timeout"`
}

// DynsecConfig is the mosquitto_ctrl control plane.
type DynsecConfig struct {
	Binary        string   `yaml:"binary"`
	AdminUsername string   `yaml:"admin_username"`
	AdminPassword string   `yaml:"admin_password"`
	Timeout       Duration `yaml:"timeout"`
}

// FilesConfig locates the broker files this backend edits.
type FilesConfig struct {
	MosquittoConf   string `yaml:"mosquitto_conf"`
	ConfBackupDir   string `yaml:"conf_backup_dir"`
	DynsecJSON      string `yaml:"dynsec_json"`
	DynsecBackupDir string `yaml:"dynsec_backup_dir"`
	PasswdFile      string `yaml:"passwd_file"`
	PasswdBackupDir string `yaml:"passwd_backup_dir"`
	MosquittoLog    string `yaml:"mosquitto_log"`
}

// LogConfig is process logging plus the audit trail.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`

	// AuditOutput is "" (disabled), "stdout", or a file path.
	AuditOutput string `yaml:"audit_output"`
}

// Config is the full backend configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Auth    AuthConfig    `yaml:"auth"`
	Broker  BrokerConfig  `yaml:"broker"`
	Storage StorageConfig `yaml:"storage"`
	Dynsec  DynsecConfig  `yaml:"dynsec"`
	Files   FilesConfig   `yaml:"files"`
	Log     LogConfig     `yaml:"log"`
}

// Default returns the configuration used when no file overrides a value.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Listen:             ":8000",
			RateLimitPerMinute: 30,
		},
		Auth: AuthConfig{
			TokenTTL: Duration(time.Hour),
		},
		Broker: BrokerConfig{
			Host:     "localhost",
			Port:     1883,
			ClientID: "mqadmin-monitor",
		},
		Storage: StorageConfig{
			Backend:         "sqlite",
			Path:            "/var/lib/mqadmin/stats.db",
			RetentionDays:   7,
			CacheTTL:        Duration(5 * time.Second),
			SnapshotTimeout: Duration(10 * time.Second),
		},
		Dynsec: DynsecConfig{
			Binary:  "mosquitto_ctrl",
			Timeout: Duration(15 * time.Second),
		},
		Files: FilesConfig{
			MosquittoConf:   "/etc/mosquitto/mosquitto.conf",
			ConfBackupDir:   "/tmp/mosquitto_backups",
			DynsecJSON:      "/var/lib/mosquitto/dynamic-security.json",
			DynsecBackupDir: "/tmp/dynsec_backups",
			PasswdFile:      "/etc/mosquitto/mosquitto_passwd",
			PasswdBackupDir: "/tmp/passwd_backups",
			MosquittoLog:    "/var/log/mosquitto/mosquitto.log",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks the configuration for values that cannot work.
func (c Config) Validate() error {
	if c.Auth.Secret == "" {
		return fmt.Errorf("config: auth.secret is required")
	}
	if c.Storage.Backend != "sqlite" && c.Storage.Backend != "file" {
		return fmt.Errorf("config: storage.backend must be sqlite or file, got %q", c.Storage.Backend)
	}
	if c.Broker.Port <= 0 || c.Broker.Port > 65535 {
		return fmt.Errorf("config: broker.port %d out of range", c.Broker.Port)
	}
	if c.Storage.RetentionDays <= 0 {
		return fmt.Errorf("config: storage.retention_days must be positive")
	}
	return nil
}

// Load reads the configuration at path on top of the defaults. An empty path
// triggers discovery: the MQADMIN_CONFIG environment variable, then the
// working directory.
func Load(path string) (Config, error) {
	if path == "" {
		discovered, err := discover()
		if err != nil {
			return Config{}, err
		}
		path = discovered
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes raw YAML on top of the defaults, expanding ${VAR} and
// ${VAR:-default} references first.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	expanded := ExpandEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func discover() (string, error) {
	if envPath := os.Getenv(EnvConfigPath); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath, nil
		}
		return "", fmt.Errorf("config: %s points to non-existent file %s", EnvConfigPath, envPath)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("config: get working directory: %w", err)
	}
	for _, name := range DiscoveryOrder {
		path := filepath.Join(cwd, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("config: no config file found; set %s or pass --config", EnvConfigPath)
}

// envVarPattern matches ${VAR_NAME} or ${VAR_NAME:-default}.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnvVars substitutes environment variable references in input.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		submatch := envVarPattern.FindStringSubmatch(match)
		if len(submatch) < 2 {
			return match
		}
		if val := os.Getenv(submatch[1]); val != "" {
			return val
		}
		if len(submatch) >= 3 {
			return submatch[2]
		}
		return ""
	})
}
