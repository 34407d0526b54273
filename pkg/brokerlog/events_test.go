package brokerlog

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bunkerm/mqadmin/pkg/logging"
)

const (
	connectLine    = "1756440000: New client connected from 10.0.0.5:49152 as sensor-1 (p5, c1, k60, u'alice')"
	disconnectLine = "1756440100: Client sensor-1 disconnected"
)

func newMonitor() *Monitor {
	return NewMonitor(logging.Nop())
}

func TestProcessLineConnect(t *testing.T) {
	m := newMonitor()

	event, ok := m.ProcessLine(connectLine)
	require.True(t, ok)

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, "2025-08-29T04:00:00Z", event.Timestamp)
	assert.Equal(t, EventConnected, event.EventType)
	assert.Equal(t, "sensor-1", event.ClientID)
	assert.Equal(t, "Connected from 10.0.0.5:49152", event.Details)
	assert.Equal(t, StatusSuccess, event.Status)
	assert.Equal(t, "MQTT v5.0", event.ProtocolLevel)
	assert.True(t, event.CleanSession)
	assert.Equal(t, 60, event.KeepAlive)
	assert.Equal(t, "alice", event.Username)
	assert.Equal(t, "10.0.0.5", event.IPAddress)
	assert.Equal(t, 49152, event.Port)
}

func TestProcessLineDisconnect(t *testing.T) {
	m := newMonitor()

	_, ok := m.ProcessLine(connectLine)
	require.True(t, ok)

	event, ok := m.ProcessLine(disconnectLine)
	require.True(t, ok)

	assert.Equal(t, EventDisconnected, event.EventType)
	assert.Equal(t, StatusWarning, event.Status)
	assert.Equal(t, "Disconnected from 10.0.0.5:49152", event.Details)
	assert.Equal(t, "sensor-1", event.ClientID)
	assert.Equal(t, "alice", event.Username)
	assert.Empty(t, m.ConnectedClients())
}

func TestProcessLineDisconnectUnknownClient(t *testing.T) {
	m := newMonitor()

	_, ok := m.ProcessLine(disconnectLine)
	assert.False(t, ok)
	assert.Empty(t, m.Events())
}

func TestProcessLineIgnoresOtherLines(t *testing.T) {
	m := newMonitor()

	_, ok := m.ProcessLine("1756440000: mosquitto version 2.0.18 starting")
	assert.False(t, ok)

	_, ok = m.ProcessLine("1756440000: Sending PINGRESP to sensor-1")
	assert.False(t, ok)
}

func TestProtocolVersions(t *testing.T) {
	m := newMonitor()

	cases := map[string]string{
		"3": "MQTT v3.1",
		"4": "MQTT v3.1.1",
		"5": "MQTT v5.0",
		"9": "MQTT vunknown",
	}
	for level, want := range cases {
		line := fmt.Sprintf(
			"1756440000: New client connected from 10.0.0.5:49152 as c-%s (p%s, c0, k30, u'bob')",
			level, level)
		event, ok := m.ProcessLine(line)
		require.True(t, ok, "level %s", level)
		assert.Equal(t, want, event.ProtocolLevel)
		assert.False(t, event.CleanSession)
	}
}

func TestEventsNewestFirstCapped(t *testing.T) {
	m := newMonitor()

	for i := 0; i < 150; i++ {
		line := fmt.Sprintf(
			"%d: New client connected from 10.0.0.5:49152 as client-%d (p4, c1, k30, u'bob')",
			1756440000+i, i)
		_, ok := m.ProcessLine(line)
		require.True(t, ok)
	}

	events := m.Events()
	require.Len(t, events, 100)
	assert.Equal(t, "client-149", events[0].ClientID)
	assert.Equal(t, "client-50", events[99].ClientID)
}

func TestEventHistoryBounded(t *testing.T) {
	m := newMonitor()

	for i := 0; i < maxEvents+50; i++ {
		line := fmt.Sprintf(
			"%d: New client connected from 10.0.0.5:49152 as client-%d (p4, c1, k30, u'bob')",
			1756440000+i, i)
		m.ProcessLine(line)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	assert.Len(t, m.events, maxEvents)
}

func TestConnectedClients(t *testing.T) {
	m := newMonitor()

	m.ProcessLine("1756440000: New client connected from 10.0.0.5:49152 as a (p4, c1, k30, u'alice')")
	m.ProcessLine("1756440001: New client connected from 10.0.0.6:49153 as b (p4, c1, k30, u'bob')")
	m.ProcessLine("1756440002: Client a disconnected")

	clients := m.ConnectedClients()
	require.Len(t, clients, 1)
	assert.Equal(t, "b", clients[0].ClientID)
}
