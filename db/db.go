package db

import (
	"database/sql"
	"errors"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"lnmsg/models"
)

var ErrNoRows = errors.New("no rows found")

// DB is the durable history of every peer, message and file. It is safe
// for concurrent use by all connection workers.
type DB struct {
	conn *sql.DB
}

func New(path string) (*DB, error) {
	conn, err := sql.Open("sqlite3", path+"?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	// one writer at a time; SQLite serialises them anyway
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			client_id INTEGER NOT NULL,
			type TEXT NOT NULL CHECK(type IN ('received', 'sent')),
			sender TEXT NOT NULL,
			message TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			read INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS files (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			client_id INTEGER NOT NULL,
			filename TEXT NOT NULL,
			mimetype TEXT,
			size INTEGER NOT NULL,
			type TEXT NOT NULL CHECK(type IN ('received', 'sent')),
			sender TEXT NOT NULL,
			file_path TEXT,
			timestamp TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS client_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			client_id INTEGER UNIQUE NOT NULL,
			username TEXT NOT NULL,
			address TEXT,
			first_seen TEXT NOT NULL,
			last_seen TEXT NOT NULL,
			message_count INTEGER NOT NULL DEFAULT 0,
			file_count INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_client_id ON messages(client_id, id)`,
		`CREATE INDEX IF NOT EXISTS idx_timestamp ON messages(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_file_client_id ON files(client_id, id)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return err
		}
	}

	return db.migrate()
}

// migrate adds columns introduced after the first schema.
func (db *DB) migrate() error {
	columns := []struct{ table, column, def string }{
		{"client_history", "status", "TEXT NOT NULL DEFAULT ''"},
		{"client_history", "avatar", "TEXT NOT NULL DEFAULT ''"},
		{"files", "digest", "TEXT NOT NULL DEFAULT ''"},
	}
	for _, c := range columns {
		if db.columnExists(c.table, c.column) {
			continue
		}
		// SQLite doesn't support parameters in ALTER TABLE
		if _, err := db.conn.Exec("ALTER TABLE " + c.table + " ADD COLUMN " + c.column + " " + c.def); err != nil {
			return err
		}
	}
	return nil
}

func (db *DB) columnExists(table, column string) bool {
	query := "SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?"
	var count int
	err := db.conn.QueryRow(query, table, column).Scan(&count)
	if err != nil {
		return false
	}
	return count > 0
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Peer methods

// TouchPeer records that a peer is connected under username, creating its
// history row on first contact.
func (db *DB) TouchPeer(id int64, username, address string) error {
	now := formatTime(time.Now())
	_, err := db.conn.Exec(`
		INSERT INTO client_history (client_id, username, address, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(client_id) DO UPDATE SET username = excluded.username, last_seen = excluded.last_seen`,
		id, username, address, now, now,
	)
	return err
}

// UpdatePeerPresence stores the latest status and avatar a peer announced.
func (db *DB) UpdatePeerPresence(id int64, status, avatar string) error {
	_, err := db.conn.Exec(
		"UPDATE client_history SET status = ?, avatar = ?, last_seen = ? WHERE client_id = ?",
		status, avatar, formatTime(time.Now()), id,
	)
	return err
}

const peerColumns = `client_id, username, COALESCE(address, ''), status, avatar,
	first_seen, last_seen, message_count, file_count`

func scanPeer(row interface{ Scan(...any) error }) (models.Peer, error) {
	var p models.Peer
	var first, last string
	err := row.Scan(&p.ID, &p.Username, &p.Address, &p.Status, &p.Avatar,
		&first, &last, &p.MessageCount, &p.FileCount)
	if err != nil {
		return p, err
	}
	p.FirstSeen = parseTime(first)
	p.LastSeen = parseTime(last)
	return p, nil
}

func (db *DB) Peer(id int64) (*models.Peer, error) {
	p, err := scanPeer(db.conn.QueryRow("SELECT "+peerColumns+" FROM client_history WHERE client_id = ?", id))
	if err == sql.ErrNoRows {
		return nil, ErrNoRows
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Peers lists every known peer, most recently seen first.
func (db *DB) Peers() ([]models.Peer, error) {
	rows, err := db.conn.Query("SELECT " + peerColumns + " FROM client_history ORDER BY last_seen DESC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var peers []models.Peer
	for rows.Next() {
		p, err := scanPeer(rows)
		if err != nil {
			return nil, err
		}
		peers = append(peers, p)
	}
	return peers, rows.Err()
}

// MaxPeerID returns the highest session id ever stored, or 0.
func (db *DB) MaxPeerID() (int64, error) {
	var id int64
	err := db.conn.QueryRow(`SELECT MAX(id) FROM (
		SELECT COALESCE(MAX(client_id), 0) AS id FROM client_history
		UNION ALL SELECT COALESCE(MAX(client_id), 0) FROM messages
		UNION ALL SELECT COALESCE(MAX(client_id), 0) FROM files)`).Scan(&id)
	return id, err
}

// Message methods

// SaveMessage appends m to the history of session id and bumps the peer's
// message counter in the same transaction.
func (db *DB) SaveMessage(id int64, m models.Message) (int64, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO messages (client_id, type, sender, message, timestamp, read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, string(m.Direction), m.Sender, m.Body, formatTime(m.Timestamp), m.Read, formatTime(time.Now()),
	)
	if err != nil {
		return 0, err
	}
	if _, err := tx.Exec("UPDATE client_history SET message_count = message_count + 1 WHERE client_id = ?", id); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Messages returns the history of session id in insertion order.
func (db *DB) Messages(id int64) ([]models.Message, error) {
	rows, err := db.conn.Query(`
		SELECT id, type, sender, message, timestamp, read
		FROM messages
		WHERE client_id = ?
		ORDER BY id ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		m := models.Message{SessionID: id}
		var direction, ts string
		if err := rows.Scan(&m.ID, &direction, &m.Sender, &m.Body, &ts, &m.Read); err != nil {
			return nil, err
		}
		m.Direction = models.Direction(direction)
		m.Timestamp = parseTime(ts)
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// MarkMessagesRead marks every received message of session id as read and
// returns how many changed.
func (db *DB) MarkMessagesRead(id int64) (int64, error) {
	res, err := db.conn.Exec(
		"UPDATE messages SET read = 1 WHERE client_id = ? AND type = 'received' AND read = 0", id,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteOldMessages removes messages stored more than days ago.
func (db *DB) DeleteOldMessages(days int) (int64, error) {
	cutoff := formatTime(time.Now().AddDate(0, 0, -days))
	res, err := db.conn.Exec("DELETE FROM messages WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// File methods

func (db *DB) SaveFile(id int64, f models.FileTransfer) (int64, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO files (client_id, filename, mimetype, size, type, sender, file_path, digest, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, f.Filename, f.Mimetype, f.Size, string(f.Direction), f.Sender, f.StoredPath, f.Digest, formatTime(f.Timestamp),
	)
	if err != nil {
		return 0, err
	}
	if _, err := tx.Exec("UPDATE client_history SET file_count = file_count + 1 WHERE client_id = ?", id); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (db *DB) Files(id int64) ([]models.FileTransfer, error) {
	rows, err := db.conn.Query(`
		SELECT id, filename, COALESCE(mimetype, ''), size, type, sender, COALESCE(file_path, ''), digest, timestamp
		FROM files
		WHERE client_id = ?
		ORDER BY id ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var files []models.FileTransfer
	for rows.Next() {
		f := models.FileTransfer{SessionID: id}
		var direction, ts string
		if err := rows.Scan(&f.ID, &f.Filename, &f.Mimetype, &f.Size, &direction, &f.Sender, &f.StoredPath, &f.Digest, &ts); err != nil {
			return nil, err
		}
		f.Direction = models.Direction(direction)
		f.Timestamp = parseTime(ts)
		files = append(files, f)
	}
	return files, rows.Err()
}

// Export gathers the peer record, messages and files of session id.
func (db *DB) Export(id int64) (*models.Export, error) {
	peer, err := db.Peer(id)
	if err != nil && err != ErrNoRows {
		return nil, err
	}
	messages, err := db.Messages(id)
	if err != nil {
		return nil, err
	}
	files, err := db.Files(id)
	if err != nil {
		return nil, err
	}
	return &models.Export{Peer: peer, Messages: messages, Files: files}, nil
}
