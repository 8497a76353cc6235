// Package postgres persists bridge events.
package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/AaronLay10/SentientBridge/internal/config"
)

// EventRow represents an event stored in Postgres.
type EventRow struct {
	EventID   int64                  `json:"event_id"`
	Timestamp time.Time              `json:"ts"`
	Level     string                 `json:"level"`
	Event     string                 `json:"event"`
	Message   *string                `json:"msg,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	BridgeID  string                 `json:"bridge_id"`
	RunID     *string                `json:"run_id,omitempty"`
}

// ConnConfig holds libpq connection parameters.
type ConnConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// ConnConfigFromEnv reads the standard PG* variables. PGPASSWORD may be
// given through PGPASSWORD_FILE.
func ConnConfigFromEnv() (ConnConfig, error) {
	password, err := config.ResolveSecret("PGPASSWORD")
	if err != nil {
		return ConnConfig{}, err
	}
	return ConnConfig{
		Host:     getEnv("PGHOST", "127.0.0.1"),
		Port:     getEnv("PGPORT", "5432"),
		User:     getEnv("PGUSER", "sentient"),
		Password: password,
		DBName:   getEnv("PGDATABASE", "sentient"),
		SSLMode:  getEnv("PGSSLMODE", "disable"),
	}, nil
}

// String returns the keyword/value connection string.
func (c ConnConfig) String() string {
	parts := []string{
		"host=" + quote(c.Host),
		"port=" + quote(c.Port),
		"user=" + quote(c.User),
	}
	if c.Password != "" {
		parts = append(parts, "password="+quote(c.Password))
	}
	parts = append(parts, "dbname="+quote(c.DBName), "sslmode="+quote(c.SSLMode))
	return strings.Join(parts, " ")
}

// quote escapes a libpq connection string value.
func quote(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// Client stores events for one bridge. It satisfies events.Sink.
type Client struct {
	db       *sql.DB
	bridgeID string
}

// New connects using the PG* environment and makes sure the table exists.
// Callers treat an error as "run without persistence".
func New(bridgeID string) (*Client, error) {
	cc, err := ConnConfigFromEnv()
	if err != nil {
		return nil, err
	}
	return Open(cc, bridgeID)
}

func Open(cc ConnConfig, bridgeID string) (*Client, error) {
	db, err := sql.Open("postgres", cc.String())
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	client := &Client{
		db:       db,
		bridgeID: bridgeID,
	}

	if err := client.createTable(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bridge_events table: %w", err)
	}

	return client, nil
}

func (c *Client) createTable() error {
	query := `
		CREATE TABLE IF NOT EXISTS bridge_events (
			event_id  BIGSERIAL PRIMARY KEY,
			ts        TIMESTAMPTZ NOT NULL,
			level     TEXT NOT NULL,
			event     TEXT NOT NULL,
			msg       TEXT,
			fields    JSONB,
			bridge_id TEXT NOT NULL,
			run_id    TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_bridge_events_ts ON bridge_events(ts DESC);
		CREATE INDEX IF NOT EXISTS idx_bridge_events_run ON bridge_events(bridge_id, run_id);
	`
	_, err := c.db.Exec(query)
	return err
}

// Append inserts an event into the database.
func (c *Client) Append(ts time.Time, level, event, msg string, fields map[string]interface{}, runID string) error {
	var fieldsJSON []byte
	var err error
	if fields != nil {
		fieldsJSON, err = json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("failed to marshal fields: %w", err)
		}
	}

	query := `
		INSERT INTO bridge_events (ts, level, event, msg, fields, bridge_id, run_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = c.db.Exec(query, ts, level, event, nullString(msg), fieldsJSON, c.bridgeID, nullString(runID))
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// clampLimit bounds a query limit to [1, 10000], defaulting to 200.
func clampLimit(limit int) int {
	if limit <= 0 {
		return 200
	}
	if limit > 10000 {
		return 10000
	}
	return limit
}

// Query returns the most recent events of this bridge, newest first. A
// non-empty runID restricts the result to one run.
func (c *Client) Query(runID string, limit int) ([]EventRow, error) {
	query := `
		SELECT event_id, ts, level, event, msg, fields, bridge_id, run_id
		FROM bridge_events
		WHERE bridge_id = $1 AND ($2 = '' OR run_id = $2)
		ORDER BY ts DESC
		LIMIT $3
	`
	rows, err := c.db.Query(query, c.bridgeID, runID, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		var fieldsJSON []byte
		var msg, run sql.NullString

		if err := rows.Scan(&e.EventID, &e.Timestamp, &e.Level, &e.Event, &msg, &fieldsJSON, &e.BridgeID, &run); err != nil {
			return nil, err
		}

		if msg.Valid {
			e.Message = &msg.String
		}
		if run.Valid {
			e.RunID = &run.String
		}
		if len(fieldsJSON) > 0 {
			if err := json.Unmarshal(fieldsJSON, &e.Fields); err != nil {
				return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
			}
		}

		events = append(events, e)
	}

	return events, rows.Err()
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
