package telemetry

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName = "github.com/wolfeidau/leaguesync"
)

// Metrics holds all the OpenTelemetry metric instruments
type Metrics struct {
	// Token metrics
	TokenMintsTotal           metric.Int64Counter
	TokenMintErrorsTotal      metric.Int64Counter
	TokenRefreshFailuresTotal metric.Int64Counter

	// Connection metrics
	ConnectionsBuiltTotal    metric.Int64Counter
	ConnectionsTornDownTotal metric.Int64Counter
	ConnectionInitFailures   metric.Int64Counter

	// Snapshot metrics
	SnapshotFetchesTotal      metric.Int64Counter
	SnapshotFetchErrorsTotal  metric.Int64Counter
	SnapshotFetchDuration     metric.Float64Histogram
	SnapshotTokenRetriesTotal metric.Int64Counter

	// Push metrics
	ChangeEventsAppliedTotal metric.Int64Counter
	ChangeEventsDroppedTotal metric.Int64Counter
	ActiveSubscriptions      metric.Int64UpDownCounter
	ChannelReconnectsTotal   metric.Int64Counter

	// Write metrics
	MutationsTotal       metric.Int64Counter
	MutationErrorsTotal  metric.Int64Counter
	MutationDurationMsec metric.Float64Histogram
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = initMetrics()
	})
	return metrics
}

// initMetrics creates and registers all metric instruments
func initMetrics() *Metrics {
	meter := otel.GetMeterProvider().Meter(meterName)

	m := &Metrics{}

	m.TokenMintsTotal, _ = meter.Int64Counter(
		"leaguesync.token.mints.total",
		metric.WithDescription("Total number of tokens minted"),
		metric.WithUnit("{token}"),
	)

	m.TokenMintErrorsTotal, _ = meter.Int64Counter(
		"leaguesync.token.mint_errors.total",
		metric.WithDescription("Total number of failed token mints"),
		metric.WithUnit("{error}"),
	)

	m.TokenRefreshFailuresTotal, _ = meter.Int64Counter(
		"leaguesync.token.refresh_failures.total",
		metric.WithDescription("Total number of background refresh ticks that failed"),
		metric.WithUnit("{error}"),
	)

	m.ConnectionsBuiltTotal, _ = meter.Int64Counter(
		"leaguesync.connections.built.total",
		metric.WithDescription("Total number of backend connections built"),
		metric.WithUnit("{connection}"),
	)

	m.ConnectionsTornDownTotal, _ = meter.Int64Counter(
		"leaguesync.connections.torn_down.total",
		metric.WithDescription("Total number of backend connections torn down"),
		metric.WithUnit("{connection}"),
	)

	m.ConnectionInitFailures, _ = meter.Int64Counter(
		"leaguesync.connections.init_failures.total",
		metric.WithDescription("Total number of connection initialisation failures"),
		metric.WithUnit("{error}"),
	)

	m.SnapshotFetchesTotal, _ = meter.Int64Counter(
		"leaguesync.snapshot.fetches.total",
		metric.WithDescription("Total number of snapshot pull queries"),
		metric.WithUnit("{query}"),
	)

	m.SnapshotFetchErrorsTotal, _ = meter.Int64Counter(
		"leaguesync.snapshot.fetch_errors.total",
		metric.WithDescription("Total number of failed snapshot pull queries"),
		metric.WithUnit("{error}"),
	)

	m.SnapshotFetchDuration, _ = meter.Float64Histogram(
		"leaguesync.snapshot.fetch.duration",
		metric.WithDescription("Duration of snapshot pull queries"),
		metric.WithUnit("ms"),
	)

	m.SnapshotTokenRetriesTotal, _ = meter.Int64Counter(
		"leaguesync.snapshot.token_retries.total",
		metric.WithDescription("Total number of pulls retried after an expired token"),
		metric.WithUnit("{retry}"),
	)

	m.ChangeEventsAppliedTotal, _ = meter.Int64Counter(
		"leaguesync.changes.applied.total",
		metric.WithDescription("Total number of change events merged into snapshots"),
		metric.WithUnit("{event}"),
	)

	m.ChangeEventsDroppedTotal, _ = meter.Int64Counter(
		"leaguesync.changes.dropped.total",
		metric.WithDescription("Total number of change events dropped (malformed or slow consumer)"),
		metric.WithUnit("{event}"),
	)

	m.ActiveSubscriptions, _ = meter.Int64UpDownCounter(
		"leaguesync.subscriptions.active",
		metric.WithDescription("Number of active push subscriptions"),
		metric.WithUnit("{subscription}"),
	)

	m.ChannelReconnectsTotal, _ = meter.Int64Counter(
		"leaguesync.channel.reconnects.total",
		metric.WithDescription("Total number of push channel reconnects"),
		metric.WithUnit("{reconnect}"),
	)

	m.MutationsTotal, _ = meter.Int64Counter(
		"leaguesync.mutations.total",
		metric.WithDescription("Total number of write requests"),
		metric.WithUnit("{request}"),
	)

	m.MutationErrorsTotal, _ = meter.Int64Counter(
		"leaguesync.mutations.errors.total",
		metric.WithDescription("Total number of failed write requests"),
		metric.WithUnit("{error}"),
	)

	m.MutationDurationMsec, _ = meter.Float64Histogram(
		"leaguesync.mutations.duration",
		metric.WithDescription("Duration of write requests"),
		metric.WithUnit("ms"),
	)

	return m
}
