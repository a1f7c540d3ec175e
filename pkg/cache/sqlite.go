package cache

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ilkoid/condsched/pkg/cond"
	"github.com/ilkoid/condsched/pkg/utils"
)

// SQLite - кэш в локальной базе, переживающий перезапуск.
//
// Сегменты лежат бинарными блобами в формате cond-кодека. Испорченный
// блоб не фатален: строка удаляется, ключ считается промахом. При
// maxRows > 0 после вставки вытесняются самые старые строки.
//
// Thread-safe: параллельный доступ сериализует database/sql.
type SQLite struct {
	db      *sql.DB
	maxRows int
}

var _ CondCache = (*SQLite)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS conds (
    key        TEXT PRIMARY KEY,
    created_at INTEGER NOT NULL,
    payload    BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS conds_created_at ON conds(created_at);
`

// NewSQLite открывает или создает базу кэша по пути path.
func NewSQLite(path string, maxRows int) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite cache requires a path")
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening cache db %s: %w", path, err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing cache schema: %w", err)
	}
	utils.Info("sqlite cond cache ready", "path", path, "max_rows", maxRows)
	return &SQLite{db: db, maxRows: maxRows}, nil
}

func (c *SQLite) Get(key string) ([]cond.Segment, bool) {
	var payload []byte
	err := c.db.QueryRow(`SELECT payload FROM conds WHERE key = ?`, key).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, false
	}
	if err != nil {
		utils.Warn("cache read failed, treating as miss", "error", err)
		return nil, false
	}
	segs, err := cond.DecodeSegments(payload)
	if err != nil {
		utils.Warn("cache row is corrupted, dropping it", "key_len", len(key), "error", err)
		if _, derr := c.db.Exec(`DELETE FROM conds WHERE key = ?`, key); derr != nil {
			utils.Warn("dropping corrupted cache row failed", "error", derr)
		}
		return nil, false
	}
	return segs, true
}

func (c *SQLite) Put(key string, segs []cond.Segment) {
	payload := cond.EncodeSegments(segs)
	_, err := c.db.Exec(
		`INSERT OR REPLACE INTO conds(key, created_at, payload) VALUES(?, ?, ?)`,
		key, time.Now().UnixNano(), payload,
	)
	if err != nil {
		utils.Warn("cache write failed", "error", err)
		return
	}
	if c.maxRows > 0 {
		c.evict()
	}
}

// evict удаляет строки сверх лимита, начиная с самых старых.
func (c *SQLite) evict() {
	res, err := c.db.Exec(
		`DELETE FROM conds WHERE key NOT IN
		   (SELECT key FROM conds ORDER BY created_at DESC, key DESC LIMIT ?)`,
		c.maxRows,
	)
	if err != nil {
		utils.Warn("cache eviction failed", "error", err)
		return
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		utils.Debug("evicted old cache rows", "rows", n)
	}
}

func (c *SQLite) Len() int {
	var n int
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM conds`).Scan(&n); err != nil {
		utils.Warn("cache count failed", "error", err)
		return 0
	}
	return n
}

func (c *SQLite) Close() error {
	return c.db.Close()
}
