// Package stats implements the broker statistics subsystem: durable storage
// for byte-rate samples and daily message counts, rolling retention windows,
// a short-TTL read cache, and the aggregator that combines live $SYS gauges
// with the persisted series into API snapshots.
package stats
