package history

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// SqliteSink persists every appended Entry into a sqlite table so the
// audit trail survives a daemon restart, grounded on the teacher's
// sqlite-backed sync journal pattern. Register it with Log.Subscribe; it
// is not itself the ring buffer — Log remains the source of truth for the
// in-memory snapshot and level filtering.
type SqliteSink struct {
	db *sqlx.DB
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp TEXT NOT NULL,
	relative_path TEXT NOT NULL,
	source TEXT NOT NULL,
	type TEXT NOT NULL,
	status TEXT NOT NULL,
	level INTEGER NOT NULL,
	message TEXT NOT NULL
);
`

// NewSqliteSink creates the history table if needed and returns a sink
// ready to be subscribed to a Log.
func NewSqliteSink(db *sqlx.DB) (*SqliteSink, error) {
	if _, err := db.Exec(createTableSQL); err != nil {
		return nil, fmt.Errorf("history: create table: %w", err)
	}
	return &SqliteSink{db: db}, nil
}

// Listener returns the Listener function to pass to Log.Subscribe.
func (s *SqliteSink) Listener() Listener {
	return func(e Entry) {
		_, _ = s.db.NamedExec(
			`INSERT INTO history (timestamp, relative_path, source, type, status, level, message)
			 VALUES (:timestamp, :relative_path, :source, :type, :status, :level, :message)`,
			map[string]any{
				"timestamp":     e.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"),
				"relative_path": e.RelativePath,
				"source":        string(e.Source),
				"type":          string(e.Type),
				"status":        string(e.Status),
				"level":         int(e.Level),
				"message":       e.Message,
			},
		)
	}
}

// Tail returns up to limit most-recent rows, newest first, read back from
// sqlite rather than the in-memory ring — useful after a restart, before
// the in-memory Log has been repopulated.
func (s *SqliteSink) Tail(limit int) ([]Entry, error) {
	rows, err := s.db.Query(
		`SELECT timestamp, relative_path, source, type, status, level, message
		 FROM history ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var ts, source, typ, status, message string
		var level int
		if err := rows.Scan(&ts, &e.RelativePath, &source, &typ, &status, &level, &message); err != nil {
			return nil, err
		}
		if t, err := time.Parse("2006-01-02T15:04:05.000Z07:00", ts); err == nil {
			e.Timestamp = t
		}
		e.Source = Source(source)
		e.Type = OpType(typ)
		e.Status = Status(status)
		e.Level = Level(level)
		e.Message = message
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarshalEntries is a small helper used by the status server to render a
// tail of history entries as JSON without exposing the sqlite rows type.
func MarshalEntries(entries []Entry) ([]byte, error) {
	return json.Marshal(entries)
}
