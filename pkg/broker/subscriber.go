// Package broker maintains the telemetry subscription to the managed
// Mosquitto instance. It feeds broker $SYS gauges and observed message
// counts into a sink, normally the stats aggregator.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/bunkerm/mqadmin/pkg/metrics"
)

// Monitored $SYS topics published by Mosquitto.
const (
	topicMessagesSent     = "$SYS/broker/messages/sent"
	topicSubscriptions    = "$SYS/broker/subscriptions/count"
	topicRetainedMessages = "$SYS/broker/retained messages/count"
	topicClientsConnected = "$SYS/broker/clients/connected"
	topicBytesReceived15  = "$SYS/broker/load/bytes/received/15min"
	topicBytesSent15      = "$SYS/broker/load/bytes/sent/15min"
)

// sysPrefix marks broker-internal topics, which never count as user traffic.
const sysPrefix = "$SYS/"

// Sink receives telemetry readings. Implementations must be safe for
// concurrent use; paho delivers messages from its own goroutines.
type Sink interface {
	SetMessagesSent(v int64)
	SetSubscriptions(v int64)
	SetRetainedMessages(v int64)
	SetConnectedClients(v int64)
	SetBytesReceived15Min(v float64)
	SetBytesSent15Min(v float64)
	SetConnected(connected bool)
	ObserveUserMessage()
}

// Config holds broker connection settings.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	ClientID string

	// ConnectTimeout bounds the initial connect. Zero means 10s.
	ConnectTimeout time.Duration
}

// Addr returns the host:port the subscriber dials.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Subscriber is a paho MQTT client subscribed to the broker's $SYS tree and
// the full topic space. Reconnection is delegated to paho; the sink's
// connected flag tracks the session state through the lost/restore handlers.
type Subscriber struct {
	cfg    Config
	sink   Sink
	log    *slog.Logger
	client mqtt.Client
}

// NewSubscriber creates a subscriber feeding sink. It does not connect;
// call Start.
func NewSubscriber(cfg Config, sink Sink, log *slog.Logger) *Subscriber {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "mqadmin-monitor"
	}
	return &Subscriber{cfg: cfg, sink: sink, log: log}
}

// Start connects to the broker and establishes both subscriptions. The
// initial connect failure is returned; later drops are handled by paho's
// auto-reconnect and surfaced through the sink's connected flag.
func (s *Subscriber) Start(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s", s.cfg.Addr())).
		SetClientID(s.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(s.cfg.ConnectTimeout).
		SetOrderMatters(false)

	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}

	opts.SetOnConnectHandler(func(c mqtt.Client) {
		s.log.Info("broker connected", "addr", s.cfg.Addr())
		s.sink.SetConnected(true)
		metrics.TelemetryConnected.Set(1)
		s.subscribe(c)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.log.Warn("broker connection lost", "addr", s.cfg.Addr(), "error", err)
		s.sink.SetConnected(false)
		metrics.TelemetryConnected.Set(0)
	})

	s.client = mqtt.NewClient(opts)

	token := s.client.Connect()
	select {
	case <-ctx.Done():
		s.sink.SetConnected(false)
		return fmt.Errorf("broker: connect to %s: %w", s.cfg.Addr(), ctx.Err())
	case <-time.After(s.cfg.ConnectTimeout):
		s.sink.SetConnected(false)
		return fmt.Errorf("broker: connect to %s: timeout after %s", s.cfg.Addr(), s.cfg.ConnectTimeout)
	case <-token.Done():
	}
	if err := token.Error(); err != nil {
		s.sink.SetConnected(false)
		return fmt.Errorf("broker: connect to %s: %w", s.cfg.Addr(), err)
	}
	return nil
}

// subscribe sets up both subscriptions. The $SYS tree is not matched by the
// # wildcard, so two subscriptions are required.
func (s *Subscriber) subscribe(c mqtt.Client) {
	handler := func(_ mqtt.Client, msg mqtt.Message) {
		s.handle(msg.Topic(), msg.Payload())
	}
	for _, filter := range []string{"$SYS/broker/#", "#"} {
		if token := c.Subscribe(filter, 0, handler); token.Wait() && token.Error() != nil {
			s.log.Error("subscribe failed", "filter", filter, "error", token.Error())
		}
	}
}

// Stop disconnects from the broker.
func (s *Subscriber) Stop() {
	if s.client != nil && s.client.IsConnected() {
		s.client.Disconnect(250)
	}
	s.sink.SetConnected(false)
}

// Connected reports whether the client session is currently up.
func (s *Subscriber) Connected() bool {
	return s.client != nil && s.client.IsConnectionOpen()
}

// handle routes one message: monitored $SYS gauges update the sink, other
// $SYS topics are ignored, and everything else counts as user traffic.
// Malformed gauge payloads are logged and dropped.
func (s *Subscriber) handle(topic string, payload []byte) {
	switch topic {
	case topicMessagesSent:
		if v, ok := s.parseInt(topic, payload); ok {
			s.sink.SetMessagesSent(v)
			metrics.TelemetryUpdatesTotal.WithLabelValues("messages_sent").Inc()
		}
	case topicSubscriptions:
		if v, ok := s.parseInt(topic, payload); ok {
			s.sink.SetSubscriptions(v)
			metrics.TelemetryUpdatesTotal.WithLabelValues("subscriptions").Inc()
		}
	case topicRetainedMessages:
		if v, ok := s.parseInt(topic, payload); ok {
			s.sink.SetRetainedMessages(v)
			metrics.TelemetryUpdatesTotal.WithLabelValues("retained_messages").Inc()
		}
	case topicClientsConnected:
		if v, ok := s.parseInt(topic, payload); ok {
			s.sink.SetConnectedClients(v)
			metrics.TelemetryUpdatesTotal.WithLabelValues("connected_clients").Inc()
		}
	case topicBytesReceived15:
		if v, ok := s.parseFloat(topic, payload); ok {
			s.sink.SetBytesReceived15Min(v)
			metrics.TelemetryUpdatesTotal.WithLabelValues("bytes_received_15min").Inc()
		}
	case topicBytesSent15:
		if v, ok := s.parseFloat(topic, payload); ok {
			s.sink.SetBytesSent15Min(v)
			metrics.TelemetryUpdatesTotal.WithLabelValues("bytes_sent_15min").Inc()
		}
	default:
		if !strings.HasPrefix(topic, sysPrefix) {
			s.sink.ObserveUserMessage()
			metrics.TelemetryUserMessages.Inc()
		}
	}
}

func (s *Subscriber) parseInt(topic string, payload []byte) (int64, bool) {
	v, err := strconv.ParseInt(strings.TrimSpace(string(payload)), 10, 64)
	if err != nil {
		s.log.Warn("unparseable gauge payload", "topic", topic, "payload", string(payload))
		return 0, false
	}
	return v, true
}

func (s *Subscriber) parseFloat(topic string, payload []byte) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(string(payload)), 64)
	if err != nil {
		s.log.Warn("unparseable gauge payload", "topic", topic, "payload", string(payload))
		return 0, false
	}
	return v, true
}
