package broker

import (
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bunkerm/mqadmin/pkg/logging"
)

// recordingSink captures everything a subscriber feeds it.
type recordingSink struct {
	mu               sync.Mutex
	messagesSent     int64
	subscriptions    int64
	retainedMessages int64
	connectedClients int64
	bytesReceived15  float64
	bytesSent15      float64
	connected        bool
	userMessages     int
}

func (r *recordingSink) SetMessagesSent(v int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messagesSent = v
}

func (r *recordingSink) SetSubscriptions(v int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscriptions = v
}

func (r *recordingSink) SetRetainedMessages(v int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retainedMessages = v
}

func (r *recordingSink) SetConnectedClients(v int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connectedClients = v
}

func (r *recordingSink) SetBytesReceived15Min(v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bytesReceived15 = v
}

func (r *recordingSink) SetBytesSent15Min(v float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bytesSent15 = v
}

func (r *recordingSink) SetConnected(connected bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = connected
}

func (r *recordingSink) ObserveUserMessage() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.userMessages++
}

func (r *recordingSink) snapshot() recordingSink {
	r.mu.Lock()
	defer r.mu.Unlock()
	return recordingSink{
		messagesSent:     r.messagesSent,
		subscriptions:    r.subscriptions,
		retainedMessages: r.retainedMessages,
		connectedClients: r.connectedClients,
		bytesReceived15:  r.bytesReceived15,
		bytesSent15:      r.bytesSent15,
		connected:        r.connected,
		userMessages:     r.userMessages,
	}
}

func newTestSubscriber(sink Sink) *Subscriber {
	return NewSubscriber(Config{Host: "localhost", Port: 1883}, sink, logging.Nop())
}

func TestHandleRoutesMonitoredGauges(t *testing.T) {
	sink := &recordingSink{}
	s := newTestSubscriber(sink)

	s.handle("$SYS/broker/messages/sent", []byte("12345"))
	s.handle("$SYS/broker/subscriptions/count", []byte("42"))
	s.handle("$SYS/broker/retained messages/count", []byte("7"))
	s.handle("$SYS/broker/clients/connected", []byte("9"))
	s.handle("$SYS/broker/load/bytes/received/15min", []byte("1234.56"))
	s.handle("$SYS/broker/load/bytes/sent/15min", []byte("789.01"))

	got := sink.snapshot()
	assert.Equal(t, int64(12345), got.messagesSent)
	assert.Equal(t, int64(42), got.subscriptions)
	assert.Equal(t, int64(7), got.retainedMessages)
	assert.Equal(t, int64(9), got.connectedClients)
	assert.Equal(t, 1234.56, got.bytesReceived15)
	assert.Equal(t, 789.01, got.bytesSent15)
	assert.Equal(t, 0, got.userMessages)
}

func TestHandleCountsUserMessagesOnly(t *testing.T) {
	sink := &recordingSink{}
	s := newTestSubscriber(sink)

	s.handle("sensors/temp", []byte("21.5"))
	s.handle("devices/door/state", []byte("open"))
	s.handle("$SYS/broker/uptime", []byte("100 seconds"))
	s.handle("$SYS/broker/version", []byte("mosquitto 2.0.18"))

	got := sink.snapshot()
	assert.Equal(t, 2, got.userMessages)
}

func TestHandleDropsMalformedGaugePayloads(t *testing.T) {
	sink := &recordingSink{}
	s := newTestSubscriber(sink)

	s.handle("$SYS/broker/messages/sent", []byte("not a number"))
	s.handle("$SYS/broker/load/bytes/sent/15min", []byte(""))

	got := sink.snapshot()
	assert.Equal(t, int64(0), got.messagesSent)
	assert.Equal(t, 0.0, got.bytesSent15)
	// A bad gauge payload never counts as user traffic either.
	assert.Equal(t, 0, got.userMessages)
}

func TestHandleTrimsWhitespace(t *testing.T) {
	sink := &recordingSink{}
	s := newTestSubscriber(sink)

	s.handle("$SYS/broker/clients/connected", []byte(" 15\n"))
	assert.Equal(t, int64(15), sink.snapshot().connectedClients)
}

func getFreePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()
	return port
}

// startTestBroker runs an embedded MQTT broker for subscriber tests.
func startTestBroker(t *testing.T, port int) *mochi.Server {
	t.Helper()

	server := mochi.New(&mochi.Options{InlineClient: true})
	require.NoError(t, server.AddHook(new(auth.AllowHook), nil))

	listener := listeners.NewTCP(listeners.Config{
		ID:      "t1",
		Address: fmt.Sprintf("127.0.0.1:%d", port),
	})
	require.NoError(t, server.AddListener(listener))

	go func() {
		if err := server.Serve(); err != nil {
			t.Logf("broker serve: %v", err)
		}
	}()
	t.Cleanup(func() { server.Close() })

	time.Sleep(100 * time.Millisecond)
	return server
}

func TestSubscriberIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	port := getFreePort(t)
	server := startTestBroker(t, port)

	sink := &recordingSink{}
	sub := NewSubscriber(Config{Host: "127.0.0.1", Port: port}, sink, logging.Nop())
	require.NoError(t, sub.Start(context.Background()))
	defer sub.Stop()

	assert.Eventually(t, func() bool {
		return sink.snapshot().connected
	}, 5*time.Second, 50*time.Millisecond)

	// Inject gauge readings server-side; clients cannot publish to $SYS.
	require.NoError(t, server.Publish("$SYS/broker/clients/connected", []byte("6"), false, 0))
	require.NoError(t, server.Publish("$SYS/broker/subscriptions/count", []byte("11"), false, 0))
	require.NoError(t, server.Publish("sensors/temp", []byte("20.1"), false, 0))

	assert.Eventually(t, func() bool {
		got := sink.snapshot()
		return got.connectedClients == 6 && got.subscriptions == 11 && got.userMessages >= 1
	}, 5*time.Second, 50*time.Millisecond)
}

func TestSubscriberStartFailsWhenBrokerDown(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	port := getFreePort(t)
	sink := &recordingSink{}
	sub := NewSubscriber(Config{
		Host:           "127.0.0.1",
		Port:           port,
		ConnectTimeout: time.Second,
	}, sink, logging.Nop())

	err := sub.Start(context.Background())
	require.Error(t, err)
	assert.False(t, sink.snapshot().connected)
}
