// Package brokerlog turns Mosquitto's connection log lines into client
// session events for the management API.
package brokerlog

import (
	"log/slog"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event retention. The monitor keeps the most recent maxEvents in memory;
// Events returns at most eventsPageSize of them, newest first.
const (
	maxEvents      = 1000
	eventsPageSize = 100
)

// Event types and statuses as the UI expects them.
const (
	EventConnected    = "Client Connection"
	EventDisconnected = "Client Disconnection"

	StatusSuccess = "success"
	StatusWarning = "warning"
)

// Event is one parsed client session transition.
type Event struct {
	ID            string `json:"id"`
	Timestamp     string `json:"timestamp"`
	EventType     string `json:"event_type"`
	ClientID      string `json:"client_id"`
	Details       string `json:"details"`
	Status        string `json:"status"`
	ProtocolLevel string `json:"protocol_level"`
	CleanSession  bool   `json:"clean_session"`
	KeepAlive     int    `json:"keep_alive"`
	Username      string `json:"username"`
	IPAddress     string `json:"ip_address"`
	Port          int    `json:"port"`
}

// Mosquitto log line shapes. Lines start with a unix timestamp; the connect
// line carries protocol level, clean-session flag, keepalive, and username.
var (
	connectPattern = regexp.MustCompile(
		`^(\d+): New client connected from (\d+\.\d+\.\d+\.\d+):(\d+) as (\S+) \(p(\d+), c(\d+), k(\d+), u'([^']+)'\)`)
	disconnectPattern = regexp.MustCompile(`^(\d+): Client (\S+) disconnected`)
)

func protocolVersion(level string) string {
	switch level {
	case "3":
		return "3.1"
	case "4":
		return "3.1.1"
	case "5":
		return "5.0"
	default:
		return "unknown"
	}
}

// Monitor accumulates session events from log lines. The currently
// connected set is keyed by client ID so a disconnect can be attributed to
// the matching connect.
type Monitor struct {
	log *slog.Logger

	mu        sync.Mutex
	connected map[string]Event
	events    []Event
}

// NewMonitor creates an empty monitor.
func NewMonitor(log *slog.Logger) *Monitor {
	return &Monitor{log: log, connected: make(map[string]Event)}
}

// ProcessLine parses one log line. Lines that are not connection events are
// ignored; a disconnect without a recorded connect is dropped since the
// session details it would report are unknown.
func (m *Monitor) ProcessLine(line string) (Event, bool) {
	if match := connectPattern.FindStringSubmatch(line); match != nil {
		return m.recordConnect(match), true
	}
	if match := disconnectPattern.FindStringSubmatch(line); match != nil {
		return m.recordDisconnect(match)
	}
	return Event{}, false
}

func (m *Monitor) recordConnect(match []string) Event {
	keepAlive, _ := strconv.Atoi(match[7])
	port, _ := strconv.Atoi(match[3])

	event := Event{
		ID:            uuid.New().String(),
		Timestamp:     unixStamp(match[1]),
		EventType:     EventConnected,
		ClientID:      match[4],
		Details:       "Connected from " + match[2] + ":" + match[3],
		Status:        StatusSuccess,
		ProtocolLevel: "MQTT v" + protocolVersion(match[5]),
		CleanSession:  match[6] == "1",
		KeepAlive:     keepAlive,
		Username:      match[8],
		IPAddress:     match[2],
		Port:          port,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected[event.ClientID] = event
	m.append(event)
	return event
}

func (m *Monitor) recordDisconnect(match []string) (Event, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	clientID := match[2]
	connectEvent, ok := m.connected[clientID]
	if !ok {
		m.log.Debug("disconnect for unknown client", "client_id", clientID)
		return Event{}, false
	}

	event := connectEvent
	event.ID = uuid.New().String()
	event.Timestamp = unixStamp(match[1])
	event.EventType = EventDisconnected
	event.Details = "Disconnected from " + connectEvent.IPAddress + ":" + strconv.Itoa(connectEvent.Port)
	event.Status = StatusWarning

	delete(m.connected, clientID)
	m.append(event)
	return event, true
}

// append caps the in-memory history at maxEvents, dropping the oldest.
// Callers hold the mutex.
func (m *Monitor) append(event Event) {
	m.events = append(m.events, event)
	if len(m.events) > maxEvents {
		m.events = m.events[len(m.events)-maxEvents:]
	}
}

// Events returns the most recent events, newest first.
func (m *Monitor) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.events)
	if n > eventsPageSize {
		n = eventsPageSize
	}
	out := make([]Event, 0, n)
	for i := len(m.events) - 1; i >= len(m.events)-n; i-- {
		out = append(out, m.events[i])
	}
	return out
}

// ConnectedClients returns the connect event of every client currently
// believed to be connected.
func (m *Monitor) ConnectedClients() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Event, 0, len(m.connected))
	for _, event := range m.connected {
		out = append(out, event)
	}
	return out
}

func unixStamp(seconds string) string {
	ts, err := strconv.ParseInt(seconds, 10, 64)
	if err != nil {
		return ""
	}
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}
