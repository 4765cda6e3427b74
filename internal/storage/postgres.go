package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/xaenox/vailentin/internal/models"
	"go.uber.org/zap"
)

//go:embed migrations.sql
var migrations embed.FS

type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
	UseInMemory bool
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
}

type PostgresStorage struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewPostgresStorage(config DatabaseConfig, logger *zap.Logger) (*PostgresStorage, error) {
	return OpenPostgres(config.DSN(), logger)
}

// OpenPostgres connects using a libpq connection string or URL and applies the schema.
func OpenPostgres(dsn string, logger *zap.Logger) (*PostgresStorage, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	storage := &PostgresStorage{db: db, logger: logger}

	// Initialize database schema
	if err := storage.initializeSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing database schema: %w", err)
	}

	return storage, nil
}

func (s *PostgresStorage) initializeSchema() error {
	// Read migrations file
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %w", err)
	}

	// Execute migrations
	if _, err := s.db.Exec(string(migrationSQL)); err != nil {
		return fmt.Errorf("error executing migrations: %w", err)
	}

	s.logger.Info("Database schema ready")
	return nil
}

// inTx runs fn inside a transaction, rolling back on any error.
func (s *PostgresStorage) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapErr(op, err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("Rollback failed", zap.String("op", op), zap.Error(rbErr))
		}
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return wrapErr(op, err)
	}
	if err := tx.Commit(); err != nil {
		return wrapErr(op, err)
	}
	return nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Chats

const chatColumns = `chat_id, title, chat_type, is_silent, is_disabled, smart_mode,
	response_probability, importance_threshold, last_summary_timestamp, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChat(row rowScanner) (*models.Chat, error) {
	chat := &models.Chat{}
	var chatType string
	var lastSummary sql.NullTime
	err := row.Scan(
		&chat.ID,
		&chat.Title,
		&chatType,
		&chat.IsSilent,
		&chat.IsDisabled,
		&chat.SmartMode,
		&chat.ResponseProbability,
		&chat.ImportanceThreshold,
		&lastSummary,
		&chat.CreatedAt,
		&chat.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	chat.Type, _ = models.ParseChatType(chatType)
	if lastSummary.Valid {
		t := lastSummary.Time
		chat.LastSummaryAt = &t
	}
	return chat, nil
}

func (s *PostgresStorage) GetChat(ctx context.Context, chatID int64) (*models.Chat, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+chatColumns+` FROM chats WHERE chat_id = $1`, chatID)
	chat, err := scanChat(row)
	if err != nil {
		if err = notFound(err); err == ErrNotFound {
			return nil, err
		}
		return nil, wrapErr("get chat", err)
	}
	return chat, nil
}

func (s *PostgresStorage) EnsureChat(ctx context.Context, chat *models.Chat) (*models.Chat, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO chats (chat_id, title, chat_type, is_silent, is_disabled, smart_mode,
			response_probability, importance_threshold)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (chat_id) DO NOTHING`,
		chat.ID,
		chat.Title,
		string(chat.Type),
		chat.IsSilent,
		chat.IsDisabled,
		chat.SmartMode,
		chat.ResponseProbability,
		chat.ImportanceThreshold,
	)
	if err != nil {
		return nil, wrapErr("ensure chat", err)
	}
	return s.GetChat(ctx, chat.ID)
}

func (s *PostgresStorage) ListChats(ctx context.Context) ([]*models.Chat, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+chatColumns+` FROM chats ORDER BY chat_id`)
	if err != nil {
		return nil, wrapErr("list chats", err)
	}
	defer rows.Close()

	var chats []*models.Chat
	for rows.Next() {
		chat, err := scanChat(rows)
		if err != nil {
			return nil, wrapErr("scan chat", err)
		}
		chats = append(chats, chat)
	}
	return chats, wrapErr("list chats", rows.Err())
}

func (s *PostgresStorage) UpdateChatSettings(ctx context.Context, chat *models.Chat) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE chats
		SET title = $2, chat_type = $3, is_silent = $4, is_disabled = $5, smart_mode = $6,
			response_probability = $7, updated_at = NOW()
		WHERE chat_id = $1`,
		chat.ID,
		chat.Title,
		string(chat.Type),
		chat.IsSilent,
		chat.IsDisabled,
		chat.SmartMode,
		chat.ResponseProbability,
	)
	if err != nil {
		return wrapErr("update chat settings", err)
	}
	return requireRow(res)
}

func (s *PostgresStorage) ModifyChatSettings(ctx context.Context, chatID int64, change func(*models.Chat)) (*models.Chat, *models.Chat, error) {
	var before, after *models.Chat
	err := s.inTx(ctx, "modify chat settings", func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx, `SELECT `+chatColumns+` FROM chats WHERE chat_id = $1 FOR UPDATE`, chatID)
		current, err := scanChat(row)
		if err != nil {
			return notFound(err)
		}
		before = current
		next := *current
		change(&next)
		after = &next
		return tx.QueryRowContext(ctx, `
			UPDATE chats
			SET title = $2, chat_type = $3, is_silent = $4, is_disabled = $5, smart_mode = $6,
				response_probability = $7, updated_at = NOW()
			WHERE chat_id = $1
			RETURNING updated_at`,
			chatID,
			next.Title,
			string(next.Type),
			next.IsSilent,
			next.IsDisabled,
			next.SmartMode,
			next.ResponseProbability,
		).Scan(&after.UpdatedAt)
	})
	if err != nil {
		return nil, nil, err
	}
	after.ImportanceThreshold = before.ImportanceThreshold
	return before, after, nil
}

func (s *PostgresStorage) SetImportanceThreshold(ctx context.Context, chatID int64, threshold float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE chats SET importance_threshold = $2, updated_at = NOW() WHERE chat_id = $1`,
		chatID, threshold)
	if err != nil {
		return wrapErr("set importance threshold", err)
	}
	return requireRow(res)
}

func (s *PostgresStorage) AdjustImportanceThreshold(ctx context.Context, chatID int64, adjust func(float64) float64) (float64, float64, error) {
	var before, after float64
	err := s.inTx(ctx, "adjust importance threshold", func(tx *sql.Tx) error {
		row := tx.QueryRowContext(ctx,
			`SELECT importance_threshold FROM chats WHERE chat_id = $1 FOR UPDATE`, chatID)
		if err := row.Scan(&before); err != nil {
			return notFound(err)
		}
		after = adjust(before)
		if after == before {
			return nil
		}
		_, err := tx.ExecContext(ctx,
			`UPDATE chats SET importance_threshold = $2, updated_at = NOW() WHERE chat_id = $1`,
			chatID, after)
		return err
	})
	return before, after, err
}

func (s *PostgresStorage) TouchSummary(ctx context.Context, chatID int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE chats SET last_summary_timestamp = $2 WHERE chat_id = $1`, chatID, at)
	if err != nil {
		return wrapErr("touch summary", err)
	}
	return requireRow(res)
}

func (s *PostgresStorage) DeleteChat(ctx context.Context, chatID int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chats WHERE chat_id = $1`, chatID)
	return wrapErr("delete chat", err)
}

// Threads

const threadColumns = `id, chat_id, topic, is_active, created_at, updated_at`

func scanThread(row rowScanner) (*models.Thread, error) {
	thread := &models.Thread{}
	err := row.Scan(
		&thread.ID,
		&thread.ChatID,
		&thread.Topic,
		&thread.IsActive,
		&thread.CreatedAt,
		&thread.UpdatedAt,
	)
	return thread, err
}

func (s *PostgresStorage) queryThreads(ctx context.Context, op, query string, args ...any) ([]*models.Thread, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	defer rows.Close()

	var threads []*models.Thread
	for rows.Next() {
		thread, err := scanThread(rows)
		if err != nil {
			return nil, wrapErr(op, err)
		}
		threads = append(threads, thread)
	}
	return threads, wrapErr(op, rows.Err())
}

func (s *PostgresStorage) GetThread(ctx context.Context, id uuid.UUID) (*models.Thread, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+threadColumns+` FROM message_threads WHERE id = $1`, id)
	thread, err := scanThread(row)
	if err != nil {
		if err = notFound(err); err == ErrNotFound {
			return nil, err
		}
		return nil, wrapErr("get thread", err)
	}
	return thread, nil
}

func (s *PostgresStorage) ActiveThreads(ctx context.Context, chatID int64) ([]*models.Thread, error) {
	return s.queryThreads(ctx, "active threads",
		`SELECT `+threadColumns+` FROM message_threads
		WHERE chat_id = $1 AND is_active
		ORDER BY created_at DESC, id DESC`, chatID)
}

func (s *PostgresStorage) ChatThreads(ctx context.Context, chatID int64, limit int) ([]*models.Thread, error) {
	return s.queryThreads(ctx, "chat threads",
		`SELECT `+threadColumns+` FROM message_threads
		WHERE chat_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, chatID, sql.NullInt64{Int64: int64(limit), Valid: limit > 0})
}

func (s *PostgresStorage) RotateThread(ctx context.Context, thread *models.Thread) error {
	now := time.Now().UTC()
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = now
	}
	thread.UpdatedAt = now
	thread.IsActive = true

	return s.inTx(ctx, "rotate thread", func(tx *sql.Tx) error {
		// Lock the chat row so concurrent rotations for one chat queue up.
		var locked int64
		row := tx.QueryRowContext(ctx, `SELECT chat_id FROM chats WHERE chat_id = $1 FOR UPDATE`, thread.ChatID)
		if err := row.Scan(&locked); err != nil {
			return fmt.Errorf("chat %d: %w", thread.ChatID, notFound(err))
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE message_threads SET is_active = FALSE, updated_at = $2
			WHERE chat_id = $1 AND is_active`, thread.ChatID, now); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO message_threads (id, chat_id, topic, is_active, created_at, updated_at)
			VALUES ($1, $2, $3, TRUE, $4, $5)`,
			thread.ID, thread.ChatID, thread.Topic, thread.CreatedAt, thread.UpdatedAt)
		return err
	})
}

func (s *PostgresStorage) DeactivateThread(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE message_threads SET is_active = FALSE, updated_at = NOW() WHERE id = $1 AND is_active`, id)
	return wrapErr("deactivate thread", err)
}

func (s *PostgresStorage) LinkThreads(ctx context.Context, a, b uuid.UUID) error {
	if a == b {
		return nil
	}
	return s.inTx(ctx, "link threads", func(tx *sql.Tx) error {
		for _, pair := range [][2]uuid.UUID{{a, b}, {b, a}} {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO thread_relations (thread_id, related_thread_id)
				VALUES ($1, $2) ON CONFLICT DO NOTHING`, pair[0], pair[1]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStorage) RelatedThreads(ctx context.Context, id uuid.UUID) ([]*models.Thread, error) {
	return s.queryThreads(ctx, "related threads", `
		SELECT t.id, t.chat_id, t.topic, t.is_active, t.created_at, t.updated_at
		FROM thread_relations r
		JOIN message_threads t ON t.id = r.related_thread_id
		WHERE r.thread_id = $1
		ORDER BY t.created_at DESC`, id)
}

// Messages

const messageColumns = `id, chat_id, thread_id, message_id, user_id, text, from_bot, was_responded, created_at`

func scanMessage(row rowScanner) (*models.Message, error) {
	msg := &models.Message{}
	err := row.Scan(
		&msg.ID,
		&msg.ChatID,
		&msg.ThreadID,
		&msg.TransportID,
		&msg.SenderID,
		&msg.Text,
		&msg.FromBot,
		&msg.WasResponded,
		&msg.CreatedAt,
	)
	return msg, err
}

func (s *PostgresStorage) queryMessages(ctx context.Context, op, query string, args ...any) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	defer rows.Close()

	var msgs []*models.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, wrapErr(op, err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, wrapErr(op, rows.Err())
}

func (s *PostgresStorage) SaveMessage(ctx context.Context, msg *models.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO messages (chat_id, thread_id, message_id, user_id, text, from_bot, was_responded, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		msg.ChatID,
		msg.ThreadID,
		msg.TransportID,
		msg.SenderID,
		msg.Text,
		msg.FromBot,
		msg.WasResponded,
		msg.CreatedAt,
	).Scan(&msg.ID)
	return wrapErr("save message", err)
}

func (s *PostgresStorage) AssignThread(ctx context.Context, messageID int64, threadID uuid.UUID) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET thread_id = $2 WHERE id = $1 AND thread_id IS NULL`, messageID, threadID)
	return wrapErr("assign thread", err)
}

func (s *PostgresStorage) MarkResponded(ctx context.Context, messageID int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE messages SET was_responded = TRUE WHERE id = $1`, messageID)
	if err != nil {
		return wrapErr("mark responded", err)
	}
	return requireRow(res)
}

func (s *PostgresStorage) MessageByTransportID(ctx context.Context, chatID int64, transportID int) (*models.Message, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE chat_id = $1 AND message_id = $2
		ORDER BY id DESC
		LIMIT 1`, chatID, transportID)
	msg, err := scanMessage(row)
	if err != nil {
		if err = notFound(err); err == ErrNotFound {
			return nil, err
		}
		return nil, wrapErr("message by transport id", err)
	}
	return msg, nil
}

func (s *PostgresStorage) RecentThreadMessages(ctx context.Context, threadID uuid.UUID, limit int) ([]*models.Message, error) {
	msgs, err := s.queryMessages(ctx, "recent thread messages", `
		SELECT `+messageColumns+` FROM messages
		WHERE thread_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`, threadID, sql.NullInt64{Int64: int64(limit), Valid: limit > 0})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *PostgresStorage) CountThreadMessages(ctx context.Context, threadID uuid.UUID) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE thread_id = $1`, threadID).Scan(&count)
	return count, wrapErr("count thread messages", err)
}

func (s *PostgresStorage) MessagesSince(ctx context.Context, chatID int64, since time.Time) ([]*models.Message, error) {
	return s.queryMessages(ctx, "messages since", `
		SELECT `+messageColumns+` FROM messages
		WHERE chat_id = $1 AND created_at >= $2
		ORDER BY created_at, id`, chatID, since)
}

func (s *PostgresStorage) ResponseWindow(ctx context.Context, chatID int64, since time.Time) (int, int, error) {
	var total, responded int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE was_responded)
		FROM messages
		WHERE chat_id = $1 AND created_at >= $2 AND NOT from_bot`, chatID, since).Scan(&total, &responded)
	return total, responded, wrapErr("response window", err)
}

// Tags

func (s *PostgresStorage) GetOrCreateTag(ctx context.Context, name string) (*models.Tag, error) {
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO tags (id, name) VALUES ($1, $2)
		ON CONFLICT ((LOWER(name))) DO NOTHING`, uuid.New(), name); err != nil {
		return nil, wrapErr("create tag", err)
	}

	tag := &models.Tag{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, is_system, created_at
		FROM tags WHERE LOWER(name) = LOWER($1)`, name).Scan(
		&tag.ID,
		&tag.Name,
		&tag.Description,
		&tag.IsSystem,
		&tag.CreatedAt,
	)
	if err != nil {
		return nil, wrapErr("get tag", err)
	}
	return tag, nil
}

func (s *PostgresStorage) AttachTag(ctx context.Context, mt *models.MessageTag) error {
	if mt.ID == uuid.Nil {
		mt.ID = uuid.New()
	}
	if mt.CreatedAt.IsZero() {
		mt.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO message_tags (id, message_id, tag_id, is_auto, confidence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (message_id, tag_id) DO NOTHING`,
		mt.ID, mt.MessageID, mt.TagID, mt.IsAuto, mt.Confidence, mt.CreatedAt)
	return wrapErr("attach tag", err)
}

func (s *PostgresStorage) DetachTag(ctx context.Context, messageID int64, name string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM message_tags mt
		USING tags t
		WHERE mt.tag_id = t.id AND mt.message_id = $1 AND LOWER(t.name) = LOWER($2)`,
		messageID, name)
	if err != nil {
		return false, wrapErr("detach tag", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrapErr("detach tag", err)
	}
	return n > 0, nil
}

func (s *PostgresStorage) MessageTags(ctx context.Context, messageID int64) ([]*models.Tag, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.name, t.description, t.is_system, t.created_at
		FROM message_tags mt
		JOIN tags t ON t.id = mt.tag_id
		WHERE mt.message_id = $1
		ORDER BY t.name`, messageID)
	if err != nil {
		return nil, wrapErr("message tags", err)
	}
	defer rows.Close()

	var tags []*models.Tag
	for rows.Next() {
		tag := &models.Tag{}
		if err := rows.Scan(&tag.ID, &tag.Name, &tag.Description, &tag.IsSystem, &tag.CreatedAt); err != nil {
			return nil, wrapErr("scan tag", err)
		}
		tags = append(tags, tag)
	}
	return tags, wrapErr("message tags", rows.Err())
}

// Contexts

func (s *PostgresStorage) GetThreadContext(ctx context.Context, threadID uuid.UUID) (*models.ThreadContext, error) {
	tc := &models.ThreadContext{}
	err := s.db.QueryRowContext(ctx, `
		SELECT id, thread_id, context_summary, importance_score, message_count, created_at, updated_at
		FROM message_contexts WHERE thread_id = $1`, threadID).Scan(
		&tc.ID,
		&tc.ThreadID,
		&tc.Summary,
		&tc.ImportanceScore,
		&tc.MessageCount,
		&tc.CreatedAt,
		&tc.UpdatedAt,
	)
	if err != nil {
		if err = notFound(err); err == ErrNotFound {
			return nil, err
		}
		return nil, wrapErr("get thread context", err)
	}
	return tc, nil
}

func (s *PostgresStorage) UpsertContextSummary(ctx context.Context, threadID uuid.UUID, summary string, messageCount int) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO message_contexts (id, thread_id, context_summary, message_count)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (thread_id) DO UPDATE
		SET context_summary = EXCLUDED.context_summary,
			message_count = EXCLUDED.message_count,
			updated_at = NOW()`,
		uuid.New(), threadID, summary, messageCount)
	return wrapErr("upsert context summary", err)
}

func (s *PostgresStorage) SetImportanceScore(ctx context.Context, threadID uuid.UUID, score float64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO message_contexts (id, thread_id, importance_score)
		VALUES ($1, $2, $3)
		ON CONFLICT (thread_id) DO UPDATE
		SET importance_score = EXCLUDED.importance_score, updated_at = NOW()`,
		uuid.New(), threadID, score)
	return wrapErr("set importance score", err)
}

// Stats

func (s *PostgresStorage) SaveStats(ctx context.Context, stats *models.AggregateStats) error {
	encoded := make([]string, 3)
	for i, v := range []any{stats.TopEmojis, stats.TopWords, stats.ActivityTrend} {
		b, err := json.Marshal(v)
		if err != nil {
			return wrapErr("encode stats", err)
		}
		encoded[i] = string(b)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO message_stats (chat_id, period, timestamp, message_count, user_count, avg_length,
			emoji_count, top_emojis, top_words, most_active_hour, most_active_day, activity_trend)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		stats.ChatID,
		string(stats.Period),
		stats.ComputedAt,
		stats.MessageCount,
		stats.UserCount,
		stats.AvgLength,
		stats.EmojiCount,
		encoded[0],
		encoded[1],
		stats.MostActiveHour,
		stats.MostActiveDay,
		encoded[2],
	)
	return wrapErr("save stats", err)
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}

// IsUniqueViolation reports whether err came from a PostgreSQL unique constraint.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
