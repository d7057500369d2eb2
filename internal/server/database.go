package server

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	_ "modernc.org/sqlite"
)

// InitDB opens the backend database at dbPath and brings its schema up to
// date. ":memory:" is accepted for tests.
func InitDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and writes ordered.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return db, nil
}

func migrate(db *sql.DB) error {
	// chats.agent_id is deliberately not a foreign key: deleting an agent
	// leaves its chats in place.
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		platform TEXT NOT NULL CHECK(platform IN ('n8n','make')),
		webhook_url TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS chats (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		chat_id TEXT NOT NULL REFERENCES chats(id) ON DELETE CASCADE,
		content TEXT NOT NULL,
		sender TEXT NOT NULL CHECK(sender IN ('user','agent')),
		attachments TEXT NOT NULL DEFAULT '[]',
		agent_id TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS subscriptions (
		id TEXT PRIMARY KEY,
		plan TEXT NOT NULL CHECK(plan IN ('none','core','yearly')),
		status TEXT NOT NULL CHECK(status IN ('active','inactive')),
		amount INTEGER NOT NULL DEFAULT 0,
		interval TEXT NOT NULL DEFAULT '',
		start_date DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS api_keys (
		id TEXT PRIMARY KEY,
		key_hash TEXT NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		last_used_at DATETIME
	);

	CREATE INDEX IF NOT EXISTS idx_chats_created ON chats(created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_messages_chat ON messages(chat_id);
	`
	_, err := db.Exec(schema)
	return err
}

// EnsureAPIKey stores the bcrypt hash of key unless an existing hash already
// matches it.
func EnsureAPIKey(db *sql.DB, key string) error {
	rows, err := db.Query("SELECT key_hash FROM api_keys")
	if err != nil {
		return fmt.Errorf("query api keys: %w", err)
	}
	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			rows.Close()
			return fmt.Errorf("scan api key: %w", err)
		}
		hashes = append(hashes, h)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("query api keys: %w", err)
	}

	for _, h := range hashes {
		if bcrypt.CompareHashAndPassword([]byte(h), []byte(key)) == nil {
			return nil
		}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash api key: %w", err)
	}
	if _, err := db.Exec("INSERT INTO api_keys (id, key_hash, created_at) VALUES (?, ?, ?)",
		uuid.New().String(), string(hash), time.Now().UTC()); err != nil {
		return fmt.Errorf("store api key: %w", err)
	}
	return nil
}

// Seed fills an empty database with the demo agents and chat.
func Seed(db *sql.DB) error {
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM agents").Scan(&n); err != nil {
		return fmt.Errorf("count agents: %w", err)
	}
	if n > 0 {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin seed: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	agents := []struct {
		id, name, description, platform string
		active                          bool
	}{
		{"chef-agent", "Chef Agent", "Culinary expert and recipe assistant", "n8n", true},
		{"data-analyst", "Data Analyst", "Data analysis and visualization expert", "make", true},
		{"content-writer", "Content Writer", "Creative writing and content creation", "n8n", true},
		{"code-assistant", "Code Assistant", "Programming and development helper", "make", false},
	}
	for _, a := range agents {
		if _, err := tx.Exec(
			`INSERT INTO agents (id, name, description, platform, webhook_url, active, created_at) VALUES (?, ?, ?, ?, '', ?, ?)`,
			a.id, a.name, a.description, a.platform, boolInt(a.active), now,
		); err != nil {
			return fmt.Errorf("seed agent %s: %w", a.id, err)
		}
	}
	if _, err := tx.Exec(`INSERT INTO chats (id, name, agent_id, created_at) VALUES ('general-chat', 'General Chat', 'chef-agent', ?)`, now); err != nil {
		return fmt.Errorf("seed chat: %w", err)
	}
	if _, err := tx.Exec(
		`INSERT INTO messages (id, chat_id, content, sender, created_at) VALUES ('welcome-msg', 'general-chat', 'Hello! How can I help you today?', 'agent', ?)`,
		now,
	); err != nil {
		return fmt.Errorf("seed message: %w", err)
	}
	return tx.Commit()
}
