// Package brokerconf edits the managed Mosquitto instance's configuration
// files: mosquitto.conf, the dynamic-security JSON store, and the password
// file. Every write takes a timestamped backup first and lands via an atomic
// rename.
package brokerconf

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ReservedPorts are listener ports owned by the system deployment. They can
// stay in the configuration but cannot be introduced or re-added by callers.
var ReservedPorts = []int{1900, 8080}

// DefaultConf is the factory mosquitto.conf the reset operation restores.
const DefaultConf = `# MQTT listener on port 1900
listener 1900
per_listener_settings false
allow_anonymous false

# HTTP listener for Dynamic Security Plugin on port 8080
listener 8080
password_file /etc/mosquitto/mosquitto_passwd
# Dynamic Security Plugin configuration
plugin /usr/lib/mosquitto_dynamic_security.so
plugin_opt_config_file /var/lib/mosquitto/dynamic-security.json
log_dest file /var/log/mosquitto/mosquitto.log
log_type all
log_timestamp true
persistence true
persistence_location /var/lib/mosquitto/
persistence_file mosquitto.db
`

// Listener is one listener block from mosquitto.conf.
type Listener struct {
	Port                int    `json:"port"`
	BindAddress         string `json:"bind_address,omitempty"`
	PerListenerSettings bool   `json:"per_listener_settings"`
	MaxConnections      int    `json:"max_connections"`
}

// Conf is a parsed mosquitto.conf: global key/value settings plus listener
// blocks. Comment lines and plugin wiring survive a round trip through
// Settings, with listener-scoped keys pulled into their Listener.
type Conf struct {
	Settings  map[string]string `json:"config"`
	Listeners []Listener        `json:"listeners"`
}

// ParseConf reads mosquitto.conf syntax. Blank lines and comments are
// dropped; `listener` opens a block and the listener-scoped keys that follow
// attach to it.
func ParseConf(r io.Reader) (Conf, error) {
	conf := Conf{Settings: map[string]string{}}
	var current *Listener

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		switch {
		case strings.HasPrefix(line, "listener "):
			if current != nil {
				conf.Listeners = append(conf.Listeners, *current)
			}
			parts := strings.Fields(line)
			port, err := strconv.Atoi(parts[1])
			if err != nil {
				return Conf{}, fmt.Errorf("brokerconf: bad listener port %q", parts[1])
			}
			current = &Listener{Port: port, MaxConnections: -1}
			if len(parts) > 2 {
				current.BindAddress = parts[2]
			}
		case current != nil && strings.HasPrefix(line, "per_listener_settings "):
			_, value, _ := strings.Cut(line, " ")
			current.PerListenerSettings = strings.EqualFold(strings.TrimSpace(value), "true")
		case current != nil && strings.HasPrefix(line, "max_connections "):
			_, value, _ := strings.Cut(line, " ")
			n, err := strconv.Atoi(strings.TrimSpace(value))
			if err != nil {
				return Conf{}, fmt.Errorf("brokerconf: bad max_connections %q", value)
			}
			current.MaxConnections = n
		default:
			if key, value, found := strings.Cut(line, " "); found {
				conf.Settings[key] = strings.TrimSpace(value)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return Conf{}, fmt.Errorf("brokerconf: read conf: %w", err)
	}
	if current != nil {
		conf.Listeners = append(conf.Listeners, *current)
	}
	return conf, nil
}

// Generate renders conf back into mosquitto.conf syntax. Plugin directives
// are emitted as their own block after the global settings so the dynamic
// security wiring stays visually grouped.
func Generate(conf Conf, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Mosquitto Broker Configuration\n# Generated on %s\n\n",
		now.Format("2006-01-02 15:04:05"))

	keys := make([]string, 0, len(conf.Settings))
	for key := range conf.Settings {
		if key == "plugin" || key == "plugin_opt_config_file" {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(&b, "%s %s\n", key, conf.Settings[key])
	}

	if plugin, ok := conf.Settings["plugin"]; ok {
		fmt.Fprintf(&b, "\n# Dynamic Security Plugin configuration\nplugin %s\n", plugin)
		if optFile, ok := conf.Settings["plugin_opt_config_file"]; ok {
			fmt.Fprintf(&b, "plugin_opt_config_file %s\n", optFile)
		}
	}

	for _, l := range conf.Listeners {
		if l.BindAddress != "" {
			fmt.Fprintf(&b, "\nlistener %d %s\n", l.Port, l.BindAddress)
		} else {
			fmt.Fprintf(&b, "\nlistener %d\n", l.Port)
		}
		fmt.Fprintf(&b, "per_listener_settings %t\n", l.PerListenerSettings)
		if l.MaxConnections != -1 {
			fmt.Fprintf(&b, "max_connections %d\n", l.MaxConnections)
		}
	}
	return b.String()
}

// ErrInvalidListeners is wrapped by every listener validation failure.
var ErrInvalidListeners = errors.New("brokerconf: invalid listeners")

// ErrListenerNotFound is returned by RemoveListener for unknown ports.
var ErrListenerNotFound = errors.New("brokerconf: listener not found")

// ValidateListeners checks a proposed listener set against the current one.
// Duplicate ports are rejected, and a reserved port may only appear if it is
// already present in the current configuration.
func ValidateListeners(current, proposed []Listener) error {
	seen := map[int]bool{}
	for _, l := range proposed {
		if seen[l.Port] {
			return fmt.Errorf("%w: duplicate port %d", ErrInvalidListeners, l.Port)
		}
		seen[l.Port] = true
	}

	existing := map[int]bool{}
	for _, l := range current {
		existing[l.Port] = true
	}
	for _, reserved := range ReservedPorts {
		if seen[reserved] && !existing[reserved] {
			return fmt.Errorf("%w: port %d is reserved", ErrInvalidListeners, reserved)
		}
	}
	return nil
}

// ConfManager loads and rewrites mosquitto.conf.
type ConfManager struct {
	path      string
	backupDir string
	log       *slog.Logger
	now       func() time.Time
}

// NewConfManager creates a manager for the conf file at path, keeping
// backups under backupDir.
func NewConfManager(path, backupDir string, log *slog.Logger) (*ConfManager, error) {
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return nil, fmt.Errorf("brokerconf: create backup dir: %w", err)
	}
	return &ConfManager{path: path, backupDir: backupDir, log: log, now: time.Now}, nil
}

// Load parses the current configuration file.
func (m *ConfManager) Load() (Conf, error) {
	f, err := os.Open(m.path)
	if err != nil {
		return Conf{}, fmt.Errorf("brokerconf: open %s: %w", m.path, err)
	}
	defer f.Close()
	return ParseConf(f)
}

// Save validates the listener set against the current file, takes a backup,
// and rewrites the configuration.
func (m *ConfManager) Save(conf Conf) error {
	current, err := m.Load()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		m.log.Warn("could not parse current conf for validation", "error", err)
	}
	if err := ValidateListeners(current.Listeners, conf.Listeners); err != nil {
		return err
	}
	return m.writeWithBackup(Generate(conf, m.now()))
}

// Reset restores the factory default configuration.
func (m *ConfManager) Reset() error {
	return m.writeWithBackup(DefaultConf)
}

// RemoveListener deletes the listener on port and rewrites the file.
func (m *ConfManager) RemoveListener(port int) error {
	conf, err := m.Load()
	if err != nil {
		return err
	}

	kept := conf.Listeners[:0]
	found := false
	for _, l := range conf.Listeners {
		if l.Port == port {
			found = true
			continue
		}
		kept = append(kept, l)
	}
	if !found {
		return fmt.Errorf("%w: port %d", ErrListenerNotFound, port)
	}
	conf.Listeners = kept
	return m.writeWithBackup(Generate(conf, m.now()))
}

func (m *ConfManager) writeWithBackup(content string) error {
	if err := backupFile(m.path, m.backupDir, "mosquitto.conf", m.now(), m.log); err != nil {
		return err
	}
	return atomicWrite(m.path, []byte(content), 0o644)
}

// backupFile copies src into backupDir with a timestamp suffix. A missing
// source file is not an error; there is simply nothing to back up.
func backupFile(src, backupDir, name string, now time.Time, log *slog.Logger) error {
	data, err := os.ReadFile(src)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("brokerconf: read %s for backup: %w", src, err)
	}

	backupPath := filepath.Join(backupDir,
		fmt.Sprintf("%s.bak.%s", name, now.Format("20060102_150405")))
	if err := os.WriteFile(backupPath, data, 0o644); err != nil {
		return fmt.Errorf("brokerconf: write backup %s: %w", backupPath, err)
	}
	log.Info("created backup", "path", backupPath)
	return nil
}

// atomicWrite writes data next to path and renames it into place.
func atomicWrite(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("brokerconf: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("brokerconf: write temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return fmt.Errorf("brokerconf: chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("brokerconf: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("brokerconf: rename into place: %w", err)
	}
	return nil
}
