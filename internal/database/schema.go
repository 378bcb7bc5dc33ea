package database

// SQL schemas for the ClickHouse event log

const (
	// DeviceEventsTableSQL creates the device_events table
	DeviceEventsTableSQL = `
		CREATE TABLE IF NOT EXISTS device_events (
			timestamp DateTime64(3),
			device_id String,
			event_type LowCardinality(String),
			kind LowCardinality(String),
			source LowCardinality(String),
			detail String,
			seq UInt64
		) ENGINE = MergeTree()
		ORDER BY (device_id, timestamp, seq)
		PARTITION BY toYYYYMM(timestamp)
	`

	// CommandDeliveriesViewSQL counts delivered commands per device and day
	CommandDeliveriesViewSQL = `
		CREATE MATERIALIZED VIEW IF NOT EXISTS command_deliveries_daily
		ENGINE = SummingMergeTree()
		ORDER BY (device_id, day, kind)
		AS SELECT
			device_id,
			toDate(timestamp) AS day,
			kind,
			count() AS deliveries
		FROM device_events
		WHERE event_type = 'command_delivered'
		GROUP BY device_id, day, kind
	`
)

// AllTables returns all table creation SQL statements in dependency order
func AllTables() []string {
	return []string{
		DeviceEventsTableSQL,
		CommandDeliveriesViewSQL,
	}
}
