package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/channelchat-server/internal/store"
)

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite store and applies the schema.
// dbPath is the path to the SQLite database file.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, Migrate)
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply schema or seed data.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with single connection; it also keeps :memory: databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func toUnix(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromUnix(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

// ==== UserStore implementation ====

const userColumns = `id, username, password_hash, display_name, avatar, is_admin, is_banned, created_at, last_login_at`

// CreateUser inserts a user.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *store.User) error {
	return insertUser(ctx, s.db, user)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertUser(ctx context.Context, db execer, user *store.User) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO users (id, username, password_hash, display_name, avatar, is_admin, is_banned, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		user.ID, user.Username, user.PasswordHash, user.DisplayName, user.Avatar,
		user.IsAdmin, user.IsBanned, toUnix(user.CreatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert user: %w", store.ErrConflict)
		}
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// RedeemAndCreateUser consumes an activation code and creates the user in one transaction.
func (s *SQLiteStore) RedeemAndCreateUser(ctx context.Context, user *store.User, code string, now time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	if err := consumeCode(ctx, tx, code, now); err != nil {
		return err
	}
	if err := insertUser(ctx, tx, user); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*store.User, error) {
	var user store.User
	var createdAt int64
	var lastLogin sql.NullInt64
	if err := row.Scan(
		&user.ID,
		&user.Username,
		&user.PasswordHash,
		&user.DisplayName,
		&user.Avatar,
		&user.IsAdmin,
		&user.IsBanned,
		&createdAt,
		&lastLogin,
	); err != nil {
		return nil, err
	}
	user.CreatedAt = fromUnix(createdAt)
	if lastLogin.Valid {
		t := fromUnix(lastLogin.Int64)
		user.LastLoginAt = &t
	}
	return &user, nil
}

// GetUserByID retrieves a user by ID.
func (s *SQLiteStore) GetUserByID(ctx context.Context, id string) (*store.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`
	user, err := scanUser(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username.
func (s *SQLiteStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE username = ?`
	user, err := scanUser(s.db.QueryRowContext(ctx, query, username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", username, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return user, nil
}

// SetUserBanned flips the ban flag.
func (s *SQLiteStore) SetUserBanned(ctx context.Context, id string, banned bool) error {
	result, err := s.db.ExecContext(ctx, `UPDATE users SET is_banned = ? WHERE id = ?`, banned, id)
	if err != nil {
		return fmt.Errorf("update user ban: %w", err)
	}
	return requireAffected(result, "user "+id)
}

// TouchLastLogin records a successful login.
func (s *SQLiteStore) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `UPDATE users SET last_login_at = ? WHERE id = ?`, toUnix(at), id)
	if err != nil {
		return fmt.Errorf("update last login: %w", err)
	}
	return requireAffected(result, "user "+id)
}

func requireAffected(result sql.Result, what string) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	return nil
}

// ==== ChannelStore implementation ====

const channelColumns = `c.channel_id, c.name, c.description, c.is_public, c.is_active, c.is_banned, c.creator_id, c.created_at`

// CreateChannel inserts a channel with its creator as the first member.
func (s *SQLiteStore) CreateChannel(ctx context.Context, ch *store.Channel) error {
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	query := `
		INSERT INTO channels (channel_id, name, description, is_public, is_active, is_banned, creator_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, query,
		ch.ChannelID, ch.Name, ch.Description, ch.IsPublic, ch.IsActive, ch.IsBanned, ch.CreatorID, toUnix(ch.CreatedAt),
	); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert channel: %w", store.ErrConflict)
		}
		return fmt.Errorf("insert channel: %w", err)
	}

	memberQuery := `INSERT OR IGNORE INTO channel_members (channel_id, user_id, joined_at) VALUES (?, ?, ?)`
	if _, err := tx.ExecContext(ctx, memberQuery, ch.ChannelID, ch.CreatorID, toUnix(ch.CreatedAt)); err != nil {
		return fmt.Errorf("add creator to members: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	ch.Members = []string{ch.CreatorID}
	return nil
}

func scanChannel(row rowScanner) (*store.Channel, error) {
	var ch store.Channel
	var createdAt int64
	if err := row.Scan(
		&ch.ChannelID,
		&ch.Name,
		&ch.Description,
		&ch.IsPublic,
		&ch.IsActive,
		&ch.IsBanned,
		&ch.CreatorID,
		&createdAt,
	); err != nil {
		return nil, err
	}
	ch.CreatedAt = fromUnix(createdAt)
	return &ch, nil
}

// GetChannel retrieves a channel and its member list by channel ID.
func (s *SQLiteStore) GetChannel(ctx context.Context, channelID string) (*store.Channel, error) {
	query := `SELECT ` + channelColumns + ` FROM channels c WHERE c.channel_id = ?`
	ch, err := scanChannel(s.db.QueryRowContext(ctx, query, channelID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("channel %s: %w", channelID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query channel: %w", err)
	}

	members, err := s.listMembers(ctx, ch.ChannelID)
	if err != nil {
		return nil, err
	}
	ch.Members = members
	return ch, nil
}

func (s *SQLiteStore) listMembers(ctx context.Context, channelID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM channel_members
		WHERE channel_id = ?
		ORDER BY joined_at ASC
	`, channelID)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	members := make([]string, 0)
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, userID)
	}
	return members, rows.Err()
}

const summarySelect = `
	SELECT ` + channelColumns + `,
		(SELECT COUNT(*) FROM channel_members m WHERE m.channel_id = c.channel_id),
		(SELECT COUNT(*) FROM messages g WHERE g.channel_id = c.channel_id)
	FROM channels c
`

func scanSummaries(rows *sql.Rows) ([]*store.ChannelSummary, error) {
	summaries := make([]*store.ChannelSummary, 0)
	for rows.Next() {
		var sum store.ChannelSummary
		var createdAt int64
		if err := rows.Scan(
			&sum.ChannelID,
			&sum.Name,
			&sum.Description,
			&sum.IsPublic,
			&sum.IsActive,
			&sum.IsBanned,
			&sum.CreatorID,
			&createdAt,
			&sum.MemberCount,
			&sum.MessagesCount,
		); err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		sum.CreatedAt = fromUnix(createdAt)
		summaries = append(summaries, &sum)
	}
	return summaries, rows.Err()
}

// ListPublicChannels returns non-banned public channels matching search, newest first.
func (s *SQLiteStore) ListPublicChannels(ctx context.Context, search string, offset, limit int) ([]*store.ChannelSummary, int, error) {
	where := `WHERE c.is_public = 1 AND c.is_banned = 0`
	args := []any{}
	if search = strings.TrimSpace(search); search != "" {
		where += ` AND (c.name LIKE ? OR c.channel_id LIKE ? OR c.description LIKE ?)`
		pattern := "%" + search + "%"
		args = append(args, pattern, pattern, pattern)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM channels c `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count channels: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		summarySelect+where+` ORDER BY c.created_at DESC LIMIT ? OFFSET ?`,
		append(args, limit, offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("query channels: %w", err)
	}
	defer rows.Close()

	summaries, err := scanSummaries(rows)
	if err != nil {
		return nil, 0, err
	}
	return summaries, total, nil
}

// ListUserChannels returns channels userID is a member of.
func (s *SQLiteStore) ListUserChannels(ctx context.Context, userID string) ([]*store.ChannelSummary, error) {
	rows, err := s.db.QueryContext(ctx, summarySelect+`
		WHERE c.channel_id IN (SELECT channel_id FROM channel_members WHERE user_id = ?)
		ORDER BY c.created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query user channels: %w", err)
	}
	defer rows.Close()

	return scanSummaries(rows)
}

// CountChannelsByCreator returns how many channels userID created.
func (s *SQLiteStore) CountChannelsByCreator(ctx context.Context, userID string) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM channels WHERE creator_id = ?`, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count channels: %w", err)
	}
	return count, nil
}

// AddMember adds userID to the channel's member set.
func (s *SQLiteStore) AddMember(ctx context.Context, channelID, userID string) error {
	query := `
		INSERT OR IGNORE INTO channel_members (channel_id, user_id, joined_at)
		VALUES (?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, channelID, userID, toUnix(time.Now())); err != nil {
		return fmt.Errorf("insert channel member: %w", err)
	}
	return nil
}

// RemoveMember removes userID from the channel's member set.
func (s *SQLiteStore) RemoveMember(ctx context.Context, channelID, userID string) error {
	query := `
		DELETE FROM channel_members
		WHERE channel_id = ? AND user_id = ?
	`
	if _, err := s.db.ExecContext(ctx, query, channelID, userID); err != nil {
		return fmt.Errorf("delete channel member: %w", err)
	}
	return nil
}

// IsMember checks persisted membership.
func (s *SQLiteStore) IsMember(ctx context.Context, channelID, userID string) (bool, error) {
	query := `
		SELECT 1 FROM channel_members
		WHERE channel_id = ? AND user_id = ?
	`
	var exists int
	err := s.db.QueryRowContext(ctx, query, channelID, userID).Scan(&exists)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("query membership: %w", err)
	}
	return true, nil
}

// SetChannelBanned flips the ban flag.
func (s *SQLiteStore) SetChannelBanned(ctx context.Context, channelID string, banned bool) error {
	result, err := s.db.ExecContext(ctx, `UPDATE channels SET is_banned = ? WHERE channel_id = ?`, banned, channelID)
	if err != nil {
		return fmt.Errorf("update channel ban: %w", err)
	}
	return requireAffected(result, "channel "+channelID)
}

// SetChannelActive flips the active flag.
func (s *SQLiteStore) SetChannelActive(ctx context.Context, channelID string, active bool) error {
	result, err := s.db.ExecContext(ctx, `UPDATE channels SET is_active = ? WHERE channel_id = ?`, active, channelID)
	if err != nil {
		return fmt.Errorf("update channel active: %w", err)
	}
	return requireAffected(result, "channel "+channelID)
}

// DeleteChannel removes the channel, its members and its log.
func (s *SQLiteStore) DeleteChannel(ctx context.Context, channelID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE channel_id = ?`, channelID); err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM channel_members WHERE channel_id = ?`, channelID); err != nil {
		return fmt.Errorf("delete members: %w", err)
	}
	result, err := tx.ExecContext(ctx, `DELETE FROM channels WHERE channel_id = ?`, channelID)
	if err != nil {
		return fmt.Errorf("delete channel: %w", err)
	}
	if err := requireAffected(result, "channel "+channelID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ==== Message log ====

// AppendMessage appends msg to the channel's log and sets msg.ID.
func (s *SQLiteStore) AppendMessage(ctx context.Context, channelID string, msg *store.Message) error {
	query := `
		INSERT INTO messages (channel_id, author_user_id, username, content, timestamp, is_system)
		SELECT channel_id, ?, ?, ?, ?, ? FROM channels WHERE channel_id = ?
	`
	result, err := s.db.ExecContext(ctx, query,
		msg.AuthorUserID, msg.Username, msg.Content, toUnix(msg.Timestamp), msg.IsSystem, channelID,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if err := requireAffected(result, "channel "+channelID); err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}

	msg.ID = id
	msg.ChannelID = channelID
	return nil
}

// ListMessages returns up to limit messages older than before (if set), in chronological order.
func (s *SQLiteStore) ListMessages(ctx context.Context, channelID string, limit int, before *time.Time) ([]*store.Message, error) {
	query := `
		SELECT id, channel_id, author_user_id, username, content, timestamp, is_system
		FROM messages
		WHERE channel_id = ?
	`
	args := []any{channelID}
	if before != nil {
		query += ` AND timestamp < ?`
		args = append(args, toUnix(*before))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	messages := make([]*store.Message, 0)
	for rows.Next() {
		var msg store.Message
		var author sql.NullString
		var ts int64
		if err := rows.Scan(&msg.ID, &msg.ChannelID, &author, &msg.Username, &msg.Content, &ts, &msg.IsSystem); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if author.Valid {
			msg.AuthorUserID = &author.String
		}
		msg.Timestamp = fromUnix(ts)
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to get chronological order
	for i := range len(messages) / 2 {
		messages[i], messages[len(messages)-1-i] = messages[len(messages)-1-i], messages[i]
	}

	return messages, nil
}

// CountMessages returns the size of the channel's log.
func (s *SQLiteStore) CountMessages(ctx context.Context, channelID string) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE channel_id = ?`, channelID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}

// CleanMessages deletes non-system messages older than cutoff.
func (s *SQLiteStore) CleanMessages(ctx context.Context, channelID string, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM messages
		WHERE channel_id = ? AND timestamp < ? AND is_system = 0
	`, channelID, toUnix(cutoff))
	if err != nil {
		return 0, fmt.Errorf("delete messages: %w", err)
	}
	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return int(removed), nil
}

// ==== ActivationCodeStore implementation ====

// CreateActivationCode inserts a new unused code.
func (s *SQLiteStore) CreateActivationCode(ctx context.Context, code *store.ActivationCode) error {
	if code.CreatedAt.IsZero() {
		code.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activation_codes (code, is_used, created_by, created_at)
		VALUES (?, 0, ?, ?)
	`, code.Code, code.CreatedBy, toUnix(code.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert activation code: %w", store.ErrConflict)
		}
		return fmt.Errorf("insert activation code: %w", err)
	}
	return nil
}

// ConsumeActivationCode marks an unused, unexpired code as used.
func (s *SQLiteStore) ConsumeActivationCode(ctx context.Context, code string, now time.Time) error {
	return consumeCode(ctx, s.db, code, now)
}

func consumeCode(ctx context.Context, db execer, code string, now time.Time) error {
	result, err := db.ExecContext(ctx, `
		UPDATE activation_codes SET is_used = 1
		WHERE code = ? AND is_used = 0 AND created_at > ?
	`, code, toUnix(now.Add(-store.ActivationCodeTTL)))
	if err != nil {
		return fmt.Errorf("consume activation code: %w", err)
	}
	return requireAffected(result, "activation code")
}

// ListActivationCodes returns all codes, newest first.
func (s *SQLiteStore) ListActivationCodes(ctx context.Context) ([]*store.ActivationCode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT code, is_used, created_by, created_at
		FROM activation_codes
		ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("query activation codes: %w", err)
	}
	defer rows.Close()

	codes := make([]*store.ActivationCode, 0)
	for rows.Next() {
		var code store.ActivationCode
		var createdAt int64
		if err := rows.Scan(&code.Code, &code.IsUsed, &code.CreatedBy, &createdAt); err != nil {
			return nil, fmt.Errorf("scan activation code: %w", err)
		}
		code.CreatedAt = fromUnix(createdAt)
		codes = append(codes, &code)
	}
	return codes, rows.Err()
}
