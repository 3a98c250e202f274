package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS history (
	user_id   INTEGER,
	query     TEXT,
	response  TEXT,
	timestamp TEXT
);
CREATE INDEX IF NOT EXISTS idx_history_user_ts ON history(user_id, timestamp);
`

// SQLiteStore 基于 SQLite 的持久化存储，整个进程共用一个连接
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite 打开（或创建）数据库文件并建表。传 ":memory:" 使用内存库
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create history dir: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping history db: %w", err)
	}

	// 单连接串行写入，避免 "database is locked"；每次写入只持有很短时间
	db.SetMaxOpenConns(1)

	pragmas := []string{"PRAGMA busy_timeout = 5000"}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create history table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Append(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO history (user_id, query, response, timestamp) VALUES (?, ?, ?, ?)`,
		e.UserID, e.Query, e.Answer, FormatTimestamp(e.Timestamp))
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

// Recent 同一秒内的记录按写入顺序倒序
func (s *SQLiteStore) Recent(ctx context.Context, userID int64, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT query, response, timestamp FROM history
		 WHERE user_id = ?
		 ORDER BY timestamp DESC, rowid DESC
		 LIMIT ?`,
		userID, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e := Entry{UserID: userID}
		var ts string
		if err := rows.Scan(&e.Query, &e.Answer, &ts); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		if e.Timestamp, err = ParseTimestamp(ts); err != nil {
			return nil, fmt.Errorf("parse timestamp %q: %w", ts, err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return entries, nil
}

func (s *SQLiteStore) Clear(ctx context.Context, userID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM history WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete history: %w", err)
	}
	return nil
}

// Count 该用户的记录数
func (s *SQLiteStore) Count(ctx context.Context, userID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM history WHERE user_id = ?`, userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count history: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
