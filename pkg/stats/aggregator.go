package stats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bunkerm/mqadmin/pkg/metrics"
)

// Aggregator timing and display constants.
const (
	// historySize is the length of the rolling per-minute histories.
	historySize = 15

	// sampleFlushInterval is how often the 15-minute byte-rate gauges are
	// appended to the store as a new ByteRateSample.
	sampleFlushInterval = 180 * time.Second

	// rateUpdateInterval is how often the published-per-minute rate is
	// recomputed from the cumulative messages-sent counter.
	rateUpdateInterval = 60 * time.Second

	// countFlushInterval is how often coalesced user-message observations
	// are written through to the daily count.
	countFlushInterval = 5 * time.Second

	// DefaultSnapshotTimeout bounds snapshot generation.
	DefaultSnapshotTimeout = 10 * time.Second

	// DefaultCacheTTL is the snapshot cache freshness window.
	DefaultCacheTTL = 5 * time.Second

	// adminClients and adminSubscriptions are subtracted from the raw
	// broker-reported counts before display. The monitor's own connection
	// holds one client slot and two subscriptions ($SYS/# and #); this is a
	// display-layer correction, not a broker-side fact.
	adminClients       = 1
	adminSubscriptions = 2

	// maxUpdateTimestamps bounds the per-gauge update timestamp lists
	// returned when timestamps are requested.
	maxUpdateTimestamps = 50
)

// ErrSnapshotTimeout is returned when snapshot generation exceeds its budget.
var ErrSnapshotTimeout = errors.New("stats: snapshot generation timed out")

// ByteSeries is the byte-rate time series shaped for API responses.
type ByteSeries struct {
	Timestamps    []string  `json:"timestamps"`
	BytesReceived []float64 `json:"bytes_received"`
	BytesSent     []float64 `json:"bytes_sent"`
}

// DailySeries is the daily message count series shaped for API responses.
type DailySeries struct {
	Dates      []string `json:"dates"`
	Counts     []int64  `json:"counts"`
	Timestamps []string `json:"timestamps,omitempty"`
}

// Snapshot is a point-in-time aggregation of live gauges and the persisted
// series. It is derived, never persisted.
type Snapshot struct {
	TotalConnectedClients  int64       `json:"total_connected_clients"`
	TotalMessagesReceived  string      `json:"total_messages_received"`
	TotalSubscriptions     int64       `json:"total_subscriptions"`
	RetainedMessages       int64       `json:"retained_messages"`
	MessagesHistory        []int64     `json:"messages_history"`
	PublishedHistory       []int64     `json:"published_history"`
	ByteStats              ByteSeries  `json:"bytes_stats"`
	DailyMessageStats      DailySeries `json:"daily_message_stats"`
	MQTTConnected          bool        `json:"mqtt_connected"`
	ConnectionError        string      `json:"connection_error,omitempty"`
	ProcessingTime         float64     `json:"processing_time"`
	StatsTimestamp         string      `json:"stats_timestamp,omitempty"`
	MessageTimestamps      []string    `json:"message_stats_timestamps,omitempty"`
	SubscriptionTimestamps []string    `json:"subscription_stats_timestamps,omitempty"`
	ClientTimestamps       []string    `json:"client_stats_timestamps,omitempty"`
	RetainedTimestamps     []string    `json:"retained_stats_timestamps,omitempty"`
}

// gauges holds the live broker telemetry values. All access goes through the
// aggregator's mutex.
type gauges struct {
	messagesSent     int64
	subscriptions    int64
	retainedMessages int64
	connectedClients int64
	bytesReceived15  float64
	bytesSent15      float64
}

// AggregatorOptions configures an Aggregator.
type AggregatorOptions struct {
	// SnapshotTimeout overrides DefaultSnapshotTimeout.
	SnapshotTimeout time.Duration

	// CacheTTL overrides DefaultCacheTTL.
	CacheTTL time.Duration

	// BrokerAddr appears in the connection diagnostic when the broker is
	// unreachable.
	BrokerAddr string
}

// Aggregator maintains live counters fed by the telemetry subscriber and
// produces consistent snapshots on demand. Counter writes and snapshot copies
// go through one mutex; the lock is never held across store or cache I/O.
type Aggregator struct {
	store Store
	cache *Cache[Snapshot]
	log   *slog.Logger

	mu           sync.Mutex
	g            gauges
	connected    bool
	pendingCount int64
	minuteCount  int64
	lastSent     int64
	haveLastSent bool

	messagesHistory  []int64
	publishedHistory []int64

	messageStamps      []string
	subscriptionStamps []string
	clientStamps       []string
	retainedStamps     []string

	snapshotTimeout time.Duration
	cacheTTL        time.Duration
	brokerAddr      string
	now             func() time.Time
}

// NewAggregator creates an aggregator writing through to store.
func NewAggregator(store Store, log *slog.Logger, opts AggregatorOptions) *Aggregator {
	timeout := opts.SnapshotTimeout
	if timeout <= 0 {
		timeout = DefaultSnapshotTimeout
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	a := &Aggregator{
		store:            store,
		cache:            NewCache[Snapshot](DefaultCacheCapacity),
		log:              log,
		messagesHistory:  make([]int64, historySize),
		publishedHistory: make([]int64, historySize),
		snapshotTimeout:  timeout,
		cacheTTL:         ttl,
		brokerAddr:       opts.BrokerAddr,
		now:              time.Now,
	}
	return a
}

// SetMessagesSent records the broker's cumulative messages-sent counter.
func (a *Aggregator) SetMessagesSent(v int64) {
	a.mu.Lock()
	a.g.messagesSent = v
	a.mu.Unlock()
}

// SetSubscriptions records the broker's subscription count gauge.
func (a *Aggregator) SetSubscriptions(v int64) {
	a.mu.Lock()
	if a.g.subscriptions != v {
		a.subscriptionStamps = appendStamp(a.subscriptionStamps, a.now())
	}
	a.g.subscriptions = v
	a.mu.Unlock()
}

// SetRetainedMessages records the broker's retained message count gauge.
func (a *Aggregator) SetRetainedMessages(v int64) {
	a.mu.Lock()
	if a.g.retainedMessages != v {
		a.retainedStamps = appendStamp(a.retainedStamps, a.now())
	}
	a.g.retainedMessages = v
	a.mu.Unlock()
}

// SetConnectedClients records the broker's connected client count gauge.
func (a *Aggregator) SetConnectedClients(v int64) {
	a.mu.Lock()
	if a.g.connectedClients != v {
		a.clientStamps = appendStamp(a.clientStamps, a.now())
	}
	a.g.connectedClients = v
	a.mu.Unlock()
}

// SetBytesReceived15Min records the broker's 15-minute received byte rate.
func (a *Aggregator) SetBytesReceived15Min(v float64) {
	a.mu.Lock()
	a.g.bytesReceived15 = v
	a.mu.Unlock()
}

// SetBytesSent15Min records the broker's 15-minute sent byte rate.
func (a *Aggregator) SetBytesSent15Min(v float64) {
	a.mu.Lock()
	a.g.bytesSent15 = v
	a.mu.Unlock()
}

// SetConnected records whether the telemetry subscriber currently has a
// broker connection.
func (a *Aggregator) SetConnected(connected bool) {
	a.mu.Lock()
	a.connected = connected
	a.mu.Unlock()
}

// ObserveUserMessage counts one observed non-system message. Observations are
// coalesced and written through to the daily count on the flush interval, so
// no count is lost under concurrent delivery.
func (a *Aggregator) ObserveUserMessage() {
	a.mu.Lock()
	a.pendingCount++
	a.minuteCount++
	a.messageStamps = appendStamp(a.messageStamps, a.now())
	a.mu.Unlock()
}

func appendStamp(stamps []string, t time.Time) []string {
	stamps = append(stamps, t.UTC().Format(time.RFC3339))
	if len(stamps) > 2*maxUpdateTimestamps {
		stamps = stamps[len(stamps)-maxUpdateTimestamps:]
	}
	return stamps
}

// Run drives the periodic work: rate recomputation, byte-sample flushes, and
// daily-count write-through. It blocks until ctx is cancelled; a final count
// flush runs on the way out.
func (a *Aggregator) Run(ctx context.Context) {
	rateTicker := time.NewTicker(rateUpdateInterval)
	defer rateTicker.Stop()
	sampleTicker := time.NewTicker(sampleFlushInterval)
	defer sampleTicker.Stop()
	countTicker := time.NewTicker(countFlushInterval)
	defer countTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.FlushCounts()
			return
		case <-rateTicker.C:
			a.updateRates()
		case <-sampleTicker.C:
			a.flushByteSample()
		case <-countTicker.C:
			a.FlushCounts()
		}
	}
}

// updateRates recomputes the per-minute histories from the cumulative
// messages-sent counter. A negative difference means the broker counter was
// reset; the rate clamps to zero rather than going negative.
func (a *Aggregator) updateRates() {
	a.mu.Lock()
	defer a.mu.Unlock()

	sent := a.g.messagesSent
	var published int64
	if a.haveLastSent {
		published = sent - a.lastSent
		if published < 0 {
			published = 0
		}
	}
	a.lastSent = sent
	a.haveLastSent = true

	a.publishedHistory = append(a.publishedHistory[1:], published)
	a.messagesHistory = append(a.messagesHistory[1:], a.minuteCount)
	a.minuteCount = 0
}

// flushByteSample appends the current 15-minute byte gauges to the store.
func (a *Aggregator) flushByteSample() {
	a.mu.Lock()
	received := a.g.bytesReceived15
	sent := a.g.bytesSent15
	a.mu.Unlock()

	if err := a.store.AppendByteSample(received, sent); err != nil {
		a.log.Error("appending byte sample failed", "error", err)
		metrics.StoreOperationsTotal.WithLabelValues("append_byte_sample", metrics.OutcomeError).Inc()
		return
	}
	metrics.StoreOperationsTotal.WithLabelValues("append_byte_sample", metrics.OutcomeOK).Inc()
}

// FlushCounts writes any coalesced message observations through to the daily
// count. On failure the pending count is restored so observations are not
// lost; the next flush retries.
func (a *Aggregator) FlushCounts() {
	a.mu.Lock()
	pending := a.pendingCount
	a.pendingCount = 0
	a.mu.Unlock()

	if pending == 0 {
		return
	}
	if err := a.store.IncrementDailyCount(pending); err != nil {
		a.log.Error("incrementing daily count failed", "pending", pending, "error", err)
		metrics.StoreOperationsTotal.WithLabelValues("increment_daily_count", metrics.OutcomeError).Inc()
		a.mu.Lock()
		a.pendingCount += pending
		a.mu.Unlock()
		return
	}
	metrics.StoreOperationsTotal.WithLabelValues("increment_daily_count", metrics.OutcomeOK).Inc()
}

// Snapshot produces a point-in-time statistics snapshot, served from the
// read cache when fresh. Generation is bounded by the snapshot timeout and
// aborts early if ctx is cancelled; counters are only read, never mutated,
// so abandonment is always safe.
func (a *Aggregator) Snapshot(ctx context.Context, includeTimestamps bool) (Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, a.snapshotTimeout)
	defer cancel()

	start := a.now()

	type result struct {
		snap Snapshot
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		snap, err := a.cache.GetOrCompute(
			fmt.Sprintf("stats_%t", includeTimestamps),
			a.cacheTTL,
			func() (Snapshot, error) { return a.buildSnapshot(includeTimestamps), nil },
		)
		ch <- result{snap, err}
	}()

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Snapshot{}, ErrSnapshotTimeout
		}
		return Snapshot{}, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return Snapshot{}, r.err
		}
		r.snap.ProcessingTime = roundSeconds(a.now().Sub(start))
		return r.snap, nil
	}
}

// buildSnapshot copies gauge state under the lock, then performs store reads
// with the lock released so slow storage never blocks the subscriber.
func (a *Aggregator) buildSnapshot(includeTimestamps bool) Snapshot {
	a.mu.Lock()
	g := a.g
	connected := a.connected
	pending := a.pendingCount
	messagesHistory := append([]int64(nil), a.messagesHistory...)
	publishedHistory := append([]int64(nil), a.publishedHistory...)
	messageStamps := lastN(a.messageStamps, maxUpdateTimestamps)
	subscriptionStamps := lastN(a.subscriptionStamps, maxUpdateTimestamps)
	clientStamps := lastN(a.clientStamps, maxUpdateTimestamps)
	retainedStamps := lastN(a.retainedStamps, maxUpdateTimestamps)
	a.mu.Unlock()

	samples, err := a.store.ByteSamples()
	if err != nil {
		a.log.Error("reading byte samples failed, serving empty series", "error", err)
		samples = nil
	}
	counts, err := a.store.DailyCounts()
	if err != nil {
		a.log.Error("reading daily counts failed, serving empty series", "error", err)
		counts = nil
	}

	var total int64 = pending
	daily := DailySeries{Dates: []string{}, Counts: []int64{}}
	for _, dc := range counts {
		total += dc.Count
		daily.Dates = append(daily.Dates, dc.Date)
		daily.Counts = append(daily.Counts, dc.Count)
	}

	byteStats := ByteSeries{
		Timestamps:    []string{},
		BytesReceived: []float64{},
		BytesSent:     []float64{},
	}
	for _, sample := range samples {
		byteStats.Timestamps = append(byteStats.Timestamps, sample.Timestamp.Format(time.RFC3339))
		byteStats.BytesReceived = append(byteStats.BytesReceived, sample.BytesReceived)
		byteStats.BytesSent = append(byteStats.BytesSent, sample.BytesSent)
	}

	snap := Snapshot{
		TotalConnectedClients: floorZero(g.connectedClients - adminClients),
		TotalMessagesReceived: FormatCount(total),
		TotalSubscriptions:    floorZero(g.subscriptions - adminSubscriptions),
		RetainedMessages:      g.retainedMessages,
		MessagesHistory:       messagesHistory,
		PublishedHistory:      publishedHistory,
		ByteStats:             byteStats,
		DailyMessageStats:     daily,
		MQTTConnected:         connected,
	}
	if !connected {
		snap.ConnectionError = fmt.Sprintf(
			"MQTT broker connection failed. Check if Mosquitto is running on %s", a.brokerAddr)
	}

	if includeTimestamps {
		snap.StatsTimestamp = a.now().UTC().Format(time.RFC3339)
		snap.MessageTimestamps = messageStamps
		snap.SubscriptionTimestamps = subscriptionStamps
		snap.ClientTimestamps = clientStamps
		snap.RetainedTimestamps = retainedStamps
		snap.DailyMessageStats.Timestamps = endOfDayStamps(daily.Dates)
	}

	return snap
}

// endOfDayStamps derives a 23:59:59 UTC timestamp for each date, mirroring
// what the dashboard plots on the daily chart.
func endOfDayStamps(dates []string) []string {
	if len(dates) == 0 || len(dates) > 20 {
		return nil
	}
	out := make([]string, 0, len(dates))
	for _, date := range dates {
		day, err := time.ParseInLocation(DateFormat, date, time.UTC)
		if err != nil {
			continue
		}
		out = append(out, day.Add(24*time.Hour-time.Second).Format(time.RFC3339))
	}
	return out
}

func lastN(s []string, n int) []string {
	if len(s) > n {
		s = s[len(s)-n:]
	}
	return append([]string(nil), s...)
}

func floorZero(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

func roundSeconds(d time.Duration) float64 {
	return float64(d.Milliseconds()) / 1000.0
}
