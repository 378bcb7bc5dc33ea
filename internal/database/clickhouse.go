package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"power-backend/internal/models"
)

const pingTimeout = 10 * time.Second

// ClickHouseDB is the append-only device event log
type ClickHouseDB struct {
	conn driver.Conn
}

// NewClickHouseDB connects and pings. Call InitSchema before writing events.
func NewClickHouseDB(addr, database, username, password string) (*ClickHouseDB, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	log.Printf("Connected to ClickHouse at %s", addr)
	return &ClickHouseDB{conn: conn}, nil
}

// InitSchema creates the necessary tables if they don't exist
func (db *ClickHouseDB) InitSchema(ctx context.Context) error {
	for _, tableSQL := range AllTables() {
		if err := db.conn.Exec(ctx, tableSQL); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	log.Println("Database schema initialized successfully")
	return nil
}

// Name identifies the sink in logs and metrics
func (db *ClickHouseDB) Name() string { return "clickhouse" }

// WriteEvent appends one device event to the log
func (db *ClickHouseDB) WriteEvent(ctx context.Context, ev *models.DeviceEvent) error {
	query := `
		INSERT INTO device_events (timestamp, device_id, event_type, kind, source, detail, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	if err := db.conn.Exec(ctx, query, eventArgs(ev)...); err != nil {
		return fmt.Errorf("failed to insert device event: %w", err)
	}
	return nil
}

// Close closes the ClickHouse connection
func (db *ClickHouseDB) Close() error {
	if db.conn != nil {
		if err := db.conn.Close(); err != nil {
			return fmt.Errorf("failed to close ClickHouse connection: %w", err)
		}
		log.Println("ClickHouse connection closed")
	}
	return nil
}

// eventArgs flattens an event into device_events column order
func eventArgs(ev *models.DeviceEvent) []any {
	return []any{
		ev.Timestamp,
		ev.DeviceID,
		string(ev.Type),
		string(ev.Kind),
		ev.Source,
		ev.Detail,
		ev.Seq,
	}
}
