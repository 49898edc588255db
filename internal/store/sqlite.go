package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"go.uber.org/zap"
)

var (
	// ErrDuplicateIdentity is returned when a username or email is already taken.
	ErrDuplicateIdentity = errors.New("username or email already exists")
	// ErrNotFound is returned when a chat or user does not exist or is not owned by the caller.
	ErrNotFound = errors.New("not found")
	// ErrIndexOutOfRange is returned when a message index falls outside the chat's message list.
	ErrIndexOutOfRange = errors.New("message index out of range")
)

type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewSQLiteStore(dataSourceName string, logger *zap.Logger) (*SQLiteStore, error) {
	// Connection-scoped options go in the DSN so every connection the pool
	// opens gets them, not just the first. Foreign keys drive the
	// user -> chats -> messages cascade; immediate transactions make
	// concurrent writers wait on the lock instead of failing the upgrade.
	sep := "?"
	if strings.Contains(dataSourceName, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite3", dataSourceName+sep+"_foreign_keys=on&_txlock=immediate&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db, logger: logger}
	if err = store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	logger.Info("sqlite store initialized", zap.String("path", dataSourceName))
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS users (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        username TEXT UNIQUE,
        email TEXT UNIQUE,
        display_name TEXT,
        password_hash TEXT,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP
    );

    CREATE TABLE IF NOT EXISTS chats (
        id TEXT PRIMARY KEY, -- UUID
        user_id INTEGER NOT NULL,
        title TEXT,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        FOREIGN KEY (user_id) REFERENCES users (id) ON DELETE CASCADE
    );

    CREATE TABLE IF NOT EXISTS messages (
        id TEXT PRIMARY KEY, -- UUID
        chat_id TEXT NOT NULL,
        seq INTEGER NOT NULL,
        sender TEXT NOT NULL CHECK (sender IN ('user', 'assistant')),
        text TEXT NOT NULL,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        UNIQUE (chat_id, seq),
        FOREIGN KEY (chat_id) REFERENCES chats (id) ON DELETE CASCADE
    );

    CREATE INDEX IF NOT EXISTS idx_chats_user_id ON chats (user_id);
    CREATE INDEX IF NOT EXISTS idx_messages_chat_seq ON messages (chat_id, seq);
    `
	_, err := s.db.Exec(schema)
	return err
}

// User methods

func scanUser(row *sql.Row) (*User, error) {
	var user User
	var username, email, displayName, passwordHash sql.NullString
	err := row.Scan(&user.ID, &username, &email, &displayName, &passwordHash, &user.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // User not found
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	if username.Valid {
		user.Username = &username.String
	}
	if email.Valid {
		user.Email = &email.String
	}
	if displayName.Valid {
		user.DisplayName = &displayName.String
	}
	if passwordHash.Valid {
		user.PasswordHash = &passwordHash.String
	}
	return &user, nil
}

const userColumns = "id, username, email, display_name, password_hash, created_at"

func (s *SQLiteStore) GetUserByID(id int64) (*User, error) {
	return scanUser(s.db.QueryRow("SELECT "+userColumns+" FROM users WHERE id = ?", id))
}

// GetUserByIdentifier resolves a login identifier against username first,
// then email.
func (s *SQLiteStore) GetUserByIdentifier(identifier string) (*User, error) {
	user, err := scanUser(s.db.QueryRow("SELECT "+userColumns+" FROM users WHERE username = ?", identifier))
	if err != nil || user != nil {
		return user, err
	}
	return scanUser(s.db.QueryRow("SELECT "+userColumns+" FROM users WHERE email = ?", identifier))
}

func (s *SQLiteStore) GetUserByEmail(email string) (*User, error) {
	return scanUser(s.db.QueryRow("SELECT "+userColumns+" FROM users WHERE email = ?", email))
}

// CreateLocalUser inserts a password-backed account. At least one of
// username/email must be non-nil; both are unique when set.
func (s *SQLiteStore) CreateLocalUser(username, email *string, passwordHash string) (*User, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var n int
	err = tx.QueryRow(
		"SELECT COUNT(*) FROM users WHERE (username IS NOT NULL AND username = ?) OR (email IS NOT NULL AND email = ?)",
		username, email,
	).Scan(&n)
	if err != nil {
		return nil, fmt.Errorf("failed to check for existing identity: %w", err)
	}
	if n > 0 {
		return nil, ErrDuplicateIdentity
	}

	res, err := tx.Exec(
		"INSERT INTO users (username, email, password_hash) VALUES (?, ?, ?)",
		username, email, passwordHash,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert user: %w", err)
	}
	id, _ := res.LastInsertId()
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit user insert: %w", err)
	}
	return s.GetUserByID(id)
}

// CreateOAuthUser is idempotent: if the email is already registered the
// existing user is returned, whether local or OAuth-created.
func (s *SQLiteStore) CreateOAuthUser(email, displayName string) (*User, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	existing, err := scanUser(tx.QueryRow("SELECT "+userColumns+" FROM users WHERE email = ?", email))
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	res, err := tx.Exec(
		"INSERT INTO users (email, display_name, password_hash) VALUES (?, ?, NULL)",
		email, displayName,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert oauth user: %w", err)
	}
	id, _ := res.LastInsertId()
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit oauth user insert: %w", err)
	}
	return s.GetUserByID(id)
}

func (s *SQLiteStore) UpdatePasswordHash(userID int64, passwordHash string) error {
	res, err := s.db.Exec("UPDATE users SET password_hash = ? WHERE id = ?", passwordHash, userID)
	if err != nil {
		return fmt.Errorf("failed to update password hash: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteUser removes the user; chats and messages go with it via the
// cascading foreign keys.
func (s *SQLiteStore) DeleteUser(userID int64) error {
	res, err := s.db.Exec("DELETE FROM users WHERE id = ?", userID)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Chat methods

func (s *SQLiteStore) CreateChat(userID int64) (*Chat, error) {
	chatID := uuid.NewString()
	now := time.Now()
	_, err := s.db.Exec(
		"INSERT INTO chats (id, user_id, title, created_at) VALUES (?, ?, NULL, ?)",
		chatID, userID, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert chat: %w", err)
	}
	return &Chat{ID: chatID, UserID: userID, Messages: []Message{}, CreatedAt: now}, nil
}

// GetChatsByUserID returns all chats owned by the user, newest first, each
// with its full message list in append order. No pagination.
func (s *SQLiteStore) GetChatsByUserID(userID int64) ([]Chat, error) {
	rows, err := s.db.Query(
		"SELECT id, user_id, title, created_at FROM chats WHERE user_id = ? ORDER BY created_at DESC",
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query chats: %w", err)
	}
	defer rows.Close()

	var chats []Chat
	for rows.Next() {
		var chat Chat
		var title sql.NullString
		if err := rows.Scan(&chat.ID, &chat.UserID, &title, &chat.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat row: %w", err)
		}
		if title.Valid {
			chat.Title = &title.String
		}
		chat.Messages = []Message{}
		chats = append(chats, chat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate chat rows: %w", err)
	}

	for i := range chats {
		messages, err := s.getMessagesByChatID(chats[i].ID)
		if err != nil {
			return nil, err
		}
		chats[i].Messages = messages
	}
	return chats, nil
}

func (s *SQLiteStore) getMessagesByChatID(chatID string) ([]Message, error) {
	rows, err := s.db.Query(
		"SELECT id, chat_id, seq, sender, text, created_at FROM messages WHERE chat_id = ? ORDER BY seq ASC",
		chatID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		var msg Message
		if err := rows.Scan(&msg.ID, &msg.ChatID, &msg.Seq, &msg.Sender, &msg.Text, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// ownedChatTx loads the chat inside tx and confirms ownership.
// Returns ErrNotFound for both an absent chat and one owned by someone else.
func ownedChatTx(tx *sql.Tx, chatID string, userID int64) (title sql.NullString, err error) {
	err = tx.QueryRow("SELECT title FROM chats WHERE id = ? AND user_id = ?", chatID, userID).Scan(&title)
	if err == sql.ErrNoRows {
		return title, ErrNotFound
	}
	if err != nil {
		return title, fmt.Errorf("failed to verify chat ownership: %w", err)
	}
	return title, nil
}

// AppendMessage adds a message at the end of the chat's sequence. When the
// chat still has no title and titleIfUnset is non-nil, the title is set in
// the same transaction. The whole read-modify-write runs atomically so
// concurrent appends against the same chat cannot lose updates.
func (s *SQLiteStore) AppendMessage(chatID string, userID int64, sender, text string, titleIfUnset *string) (*Message, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	title, err := ownedChatTx(tx, chatID, userID)
	if err != nil {
		return nil, err
	}

	var nextSeq int64
	err = tx.QueryRow("SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE chat_id = ?", chatID).Scan(&nextSeq)
	if err != nil {
		return nil, fmt.Errorf("failed to compute next message seq: %w", err)
	}

	msg := Message{
		ID:        uuid.NewString(),
		ChatID:    chatID,
		Seq:       nextSeq,
		Sender:    sender,
		Text:      text,
		CreatedAt: time.Now(),
	}
	_, err = tx.Exec(
		"INSERT INTO messages (id, chat_id, seq, sender, text, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		msg.ID, msg.ChatID, msg.Seq, msg.Sender, msg.Text, msg.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	if !title.Valid && titleIfUnset != nil {
		if _, err = tx.Exec("UPDATE chats SET title = ? WHERE id = ?", *titleIfUnset, chatID); err != nil {
			return nil, fmt.Errorf("failed to set chat title: %w", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit message append: %w", err)
	}
	return &msg, nil
}

// messageIDAtIndexTx resolves a position in the chat's current sequence to
// a stable message id. Positions are only meaningful relative to the
// sequence as it exists inside this transaction.
func messageIDAtIndexTx(tx *sql.Tx, chatID string, index int) (string, error) {
	if index < 0 {
		return "", ErrIndexOutOfRange
	}
	var id string
	err := tx.QueryRow(
		"SELECT id FROM messages WHERE chat_id = ? ORDER BY seq ASC LIMIT 1 OFFSET ?",
		chatID, index,
	).Scan(&id)
	if err == sql.ErrNoRows {
		return "", ErrIndexOutOfRange
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve message index: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) EditMessage(chatID string, userID int64, index int, newText string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err = ownedChatTx(tx, chatID, userID); err != nil {
		return err
	}
	id, err := messageIDAtIndexTx(tx, chatID, index)
	if err != nil {
		return err
	}
	if _, err = tx.Exec("UPDATE messages SET text = ? WHERE id = ?", newText, id); err != nil {
		return fmt.Errorf("failed to update message: %w", err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) DeleteMessage(chatID string, userID int64, index int) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err = ownedChatTx(tx, chatID, userID); err != nil {
		return err
	}
	id, err := messageIDAtIndexTx(tx, chatID, index)
	if err != nil {
		return err
	}
	if _, err = tx.Exec("DELETE FROM messages WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return tx.Commit()
}
