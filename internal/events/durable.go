package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/marketgate/marketgate/internal/domain"
)

// RedisLog persists events to a capacity-bounded redis stream. Entries are
// flat string-keyed field maps; consumers resume with the stream entry id.
type RedisLog struct {
	client    redis.Cmdable
	streamKey string
	maxLen    int64
}

// NewRedisLog creates a redis-stream-backed durable log
func NewRedisLog(client redis.Cmdable, streamKey string, maxLen int64) *RedisLog {
	if streamKey == "" {
		streamKey = "marketgate:events"
	}
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &RedisLog{client: client, streamKey: streamKey, maxLen: maxLen}
}

func (l *RedisLog) Append(ctx context.Context, event *Event) error {
	values := map[string]interface{}{
		"event_id":    event.ID,
		"type":        string(event.Type),
		"severity":    string(event.Severity),
		"description": event.Description,
		"watchdog":    event.WatchdogName,
		"timestamp":   event.Timestamp.Format(time.RFC3339Nano),
	}
	if event.Asset != nil {
		values["symbol"] = event.Asset.Symbol
		values["asset_type"] = string(event.Asset.Type)
	}
	if len(event.Data) > 0 {
		raw, err := json.Marshal(event.Data)
		if err == nil {
			values["data"] = string(raw)
		}
	}

	err := l.client.XAdd(ctx, &redis.XAddArgs{
		Stream: l.streamKey,
		MaxLen: l.maxLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		return fmt.Errorf("xadd %s: %w", l.streamKey, err)
	}
	return nil
}

func (l *RedisLog) Read(ctx context.Context, startID string, count int) ([]*Event, error) {
	if startID == "" {
		startID = "-"
	}
	if count <= 0 {
		count = 100
	}

	msgs, err := l.client.XRangeN(ctx, l.streamKey, startID, "+", int64(count)).Result()
	if err != nil {
		return nil, fmt.Errorf("xrange %s: %w", l.streamKey, err)
	}

	out := make([]*Event, 0, len(msgs))
	for _, msg := range msgs {
		event := eventFromFields(msg.Values)
		event.Metadata = map[string]string{"stream_id": msg.ID}
		out = append(out, event)
	}
	return out, nil
}

func (l *RedisLog) Close() error { return nil }

func eventFromFields(values map[string]interface{}) *Event {
	str := func(key string) string {
		if v, ok := values[key].(string); ok {
			return v
		}
		return ""
	}

	event := &Event{
		ID:           str("event_id"),
		Type:         Type(str("type")),
		Severity:     Severity(str("severity")),
		Description:  str("description"),
		WatchdogName: str("watchdog"),
	}
	if ts, err := time.Parse(time.RFC3339Nano, str("timestamp")); err == nil {
		event.Timestamp = ts
	}
	if symbol := str("symbol"); symbol != "" {
		asset := domain.Asset{Symbol: symbol, Type: domain.AssetType(str("asset_type"))}
		event.Asset = &asset
	}
	if raw := str("data"); raw != "" {
		var data map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &data); err == nil {
			event.Data = data
		}
	}
	return event
}

// PostgresLog persists events to a postgres table for installs without
// redis. Same contract: append-only, capacity-bounded, resume by id.
type PostgresLog struct {
	db     *sqlx.DB
	maxLen int64
}

const eventLogSchema = `
CREATE TABLE IF NOT EXISTS event_log (
	seq         BIGSERIAL PRIMARY KEY,
	event_id    TEXT NOT NULL,
	type        TEXT NOT NULL,
	severity    TEXT NOT NULL,
	symbol      TEXT,
	asset_type  TEXT,
	description TEXT NOT NULL,
	watchdog    TEXT,
	data        JSONB,
	ts          TIMESTAMPTZ NOT NULL
)`

// NewPostgresLog creates a postgres-backed durable log and ensures its table
func NewPostgresLog(db *sqlx.DB, maxLen int64) (*PostgresLog, error) {
	if maxLen <= 0 {
		maxLen = 10000
	}
	if _, err := db.Exec(eventLogSchema); err != nil {
		return nil, fmt.Errorf("event_log schema: %w", err)
	}
	return &PostgresLog{db: db, maxLen: maxLen}, nil
}

func (l *PostgresLog) Append(ctx context.Context, event *Event) error {
	var symbol, assetType *string
	if event.Asset != nil {
		symbol = &event.Asset.Symbol
		at := string(event.Asset.Type)
		assetType = &at
	}
	data, err := json.Marshal(event.Data)
	if err != nil {
		data = []byte("{}")
	}

	_, err = l.db.ExecContext(ctx,
		`INSERT INTO event_log (event_id, type, severity, symbol, asset_type, description, watchdog, data, ts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		event.ID, string(event.Type), string(event.Severity), symbol, assetType,
		event.Description, event.WatchdogName, data, event.Timestamp)
	if err != nil {
		return fmt.Errorf("event_log insert: %w", err)
	}

	// Trim beyond capacity; cheap because seq is the primary key
	_, err = l.db.ExecContext(ctx,
		`DELETE FROM event_log WHERE seq <= (SELECT MAX(seq) FROM event_log) - $1`, l.maxLen)
	if err != nil {
		return fmt.Errorf("event_log trim: %w", err)
	}
	return nil
}

func (l *PostgresLog) Read(ctx context.Context, startID string, count int) ([]*Event, error) {
	if count <= 0 {
		count = 100
	}
	startSeq := int64(0)
	if startID != "" && startID != "-" {
		if _, err := fmt.Sscanf(startID, "%d", &startSeq); err != nil {
			return nil, fmt.Errorf("invalid start id %q: %w", startID, err)
		}
	}

	rows, err := l.db.QueryxContext(ctx,
		`SELECT seq, event_id, type, severity, symbol, asset_type, description, watchdog, data, ts
		 FROM event_log WHERE seq >= $1 ORDER BY seq ASC LIMIT $2`, startSeq, count)
	if err != nil {
		return nil, fmt.Errorf("event_log read: %w", err)
	}
	defer rows.Close()

	var out []*Event
	for rows.Next() {
		var (
			seq               int64
			symbol, assetType *string
			data              []byte
			event             Event
			typ, sev          string
		)
		if err := rows.Scan(&seq, &event.ID, &typ, &sev, &symbol, &assetType,
			&event.Description, &event.WatchdogName, &data, &event.Timestamp); err != nil {
			return nil, fmt.Errorf("event_log scan: %w", err)
		}
		event.Type = Type(typ)
		event.Severity = Severity(sev)
		if symbol != nil {
			asset := domain.Asset{Symbol: *symbol}
			if assetType != nil {
				asset.Type = domain.AssetType(*assetType)
			}
			event.Asset = &asset
		}
		if len(data) > 0 {
			_ = json.Unmarshal(data, &event.Data)
		}
		event.Metadata = map[string]string{"stream_id": fmt.Sprint(seq)}
		out = append(out, &event)
	}
	return out, rows.Err()
}

func (l *PostgresLog) Close() error { return l.db.Close() }
