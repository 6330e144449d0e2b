package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"

	"github.com/wanderlynx/whatsapp-inbox/internal/model"
)

// MySQL implements Store on a MySQL/MariaDB database. See
// migrations/schema.sql for the expected schema.
type MySQL struct {
	db *sql.DB
}

var _ Store = (*MySQL)(nil)

// NewMySQL wraps an opened database handle.
func NewMySQL(db *sql.DB) *MySQL {
	return &MySQL{db: db}
}

// Open connects to MySQL with sane pool defaults and verifies the
// connection.
func Open(ctx context.Context, dsn string) (*MySQL, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	return NewMySQL(db), nil
}

// Close closes the underlying pool.
func (s *MySQL) Close() error {
	return s.db.Close()
}

// Ping checks database reachability, for readiness probes.
func (s *MySQL) Ping() error {
	return s.db.Ping()
}

const conversationColumns = `id, contact_phone, contact_name, state, assigned_agent_id,
	last_customer_message_at, last_agent_message_at, unread_count, pinned, created_at, updated_at`

func (s *MySQL) scanConversation(row *sql.Row) (*model.Conversation, error) {
	var conv model.Conversation
	var assigned sql.NullString
	var lastCustomer, lastAgent sql.NullTime

	err := row.Scan(
		&conv.ID, &conv.ContactPhone, &conv.ContactName, &conv.State, &assigned,
		&lastCustomer, &lastAgent, &conv.UnreadCount, &conv.Pinned, &conv.CreatedAt, &conv.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation: %w", err)
	}

	conv.AssignedAgentID = assigned.String
	if lastCustomer.Valid {
		t := lastCustomer.Time
		conv.LastCustomerMessageAt = &t
	}
	if lastAgent.Valid {
		t := lastAgent.Time
		conv.LastAgentMessageAt = &t
	}
	return &conv, nil
}

func (s *MySQL) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = ?`
	return s.scanConversation(s.db.QueryRowContext(ctx, query, id))
}

func (s *MySQL) GetOrCreateConversation(ctx context.Context, phone, contactName string) (*model.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE contact_phone = ?`
	conv, err := s.scanConversation(s.db.QueryRowContext(ctx, query, phone))
	if err == nil {
		if contactName != "" && conv.ContactName == "" {
			_, _ = s.db.ExecContext(ctx,
				`UPDATE conversations SET contact_name = ? WHERE id = ?`, contactName, conv.ID)
			conv.ContactName = contactName
		}
		return conv, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := time.Now()
	conv = &model.Conversation{
		ID:           uuid.Must(uuid.NewV7()).String(),
		ContactPhone: phone,
		ContactName:  contactName,
		State:        model.StateOpen,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, contact_phone, contact_name, state, unread_count, pinned, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, FALSE, ?, ?)`,
		conv.ID, conv.ContactPhone, conv.ContactName, conv.State, conv.CreatedAt, conv.UpdatedAt,
	)
	if isDuplicateKey(err) {
		// Concurrent create for the same phone; the other writer won.
		return s.scanConversation(s.db.QueryRowContext(ctx, query, phone))
	}
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}
	return conv, nil
}

func (s *MySQL) UpdateConversation(ctx context.Context, conv *model.Conversation) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET
			contact_name = ?, state = ?, assigned_agent_id = NULLIF(?, ''),
			last_customer_message_at = ?, last_agent_message_at = ?,
			unread_count = ?, pinned = ?, updated_at = ?
		WHERE id = ?`,
		conv.ContactName, conv.State, conv.AssignedAgentID,
		nullableTime(conv.LastCustomerMessageAt), nullableTime(conv.LastAgentMessageAt),
		conv.UnreadCount, conv.Pinned, time.Now(), conv.ID,
	)
	if err != nil {
		return fmt.Errorf("update conversation: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		if _, err := s.GetConversation(ctx, conv.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *MySQL) ListConversations(ctx context.Context, f ConversationFilter) ([]model.Conversation, int, error) {
	var where []string
	var args []any
	if f.State != "" {
		where = append(where, "state = ?")
		args = append(args, f.State)
	}
	if f.AssignedAgent != "" {
		where = append(where, "assigned_agent_id = ?")
		args = append(args, f.AssignedAgent)
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count conversations: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + conversationColumns + ` FROM conversations` + clause +
		` ORDER BY pinned DESC, updated_at DESC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, append(args, limit, f.Offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var convs []model.Conversation
	for rows.Next() {
		var conv model.Conversation
		var assigned sql.NullString
		var lastCustomer, lastAgent sql.NullTime
		if err := rows.Scan(
			&conv.ID, &conv.ContactPhone, &conv.ContactName, &conv.State, &assigned,
			&lastCustomer, &lastAgent, &conv.UnreadCount, &conv.Pinned, &conv.CreatedAt, &conv.UpdatedAt,
		); err != nil {
			return nil, 0, fmt.Errorf("scan conversation: %w", err)
		}
		conv.AssignedAgentID = assigned.String
		if lastCustomer.Valid {
			t := lastCustomer.Time
			conv.LastCustomerMessageAt = &t
		}
		if lastAgent.Valid {
			t := lastAgent.Time
			conv.LastAgentMessageAt = &t
		}
		convs = append(convs, conv)
	}
	return convs, total, rows.Err()
}

func (s *MySQL) DeleteConversation(ctx context.Context, id string) error {
	// messages cascade via FK
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MySQL) InsertMessage(ctx context.Context, msg *model.Message) error {
	variables, err := marshalVariables(msg.Variables)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (
			id, conversation_id, direction, kind, body, template_name, variables,
			provider_message_id, delivery_status, failure_reason, superseded_by_id,
			agent_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?, ?, NULLIF(?, ''), NULLIF(?, ''), ?)`,
		msg.ID, msg.ConversationID, msg.Direction, msg.Kind, msg.Body, msg.TemplateName, variables,
		msg.ProviderMessageID, string(msg.DeliveryStatus), msg.FailureReason, msg.SupersededByID,
		msg.AgentID, msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

const messageColumns = `id, conversation_id, direction, kind, body, template_name, variables,
	provider_message_id, delivery_status, failure_reason, superseded_by_id, agent_id, created_at`

func scanMessage(scan func(dest ...any) error) (*model.Message, error) {
	var msg model.Message
	var variables, providerID, supersededBy, agentID sql.NullString
	var status sql.NullString

	err := scan(
		&msg.ID, &msg.ConversationID, &msg.Direction, &msg.Kind, &msg.Body, &msg.TemplateName,
		&variables, &providerID, &status, &msg.FailureReason, &supersededBy, &agentID, &msg.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}

	if variables.String != "" {
		if err := json.Unmarshal([]byte(variables.String), &msg.Variables); err != nil {
			return nil, fmt.Errorf("decode template variables: %w", err)
		}
	}
	msg.ProviderMessageID = providerID.String
	msg.SupersededByID = supersededBy.String
	msg.AgentID = agentID.String
	msg.DeliveryStatus = model.DeliveryStatus(status.String)
	return &msg, nil
}

// marshalVariables encodes template variables as a JSON array, or "" when
// there are none so the column stays NULL.
func marshalVariables(variables []string) (string, error) {
	if len(variables) == 0 {
		return "", nil
	}
	data, err := json.Marshal(variables)
	if err != nil {
		return "", fmt.Errorf("encode template variables: %w", err)
	}
	return string(data), nil
}

func (s *MySQL) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	return scanMessage(row.Scan)
}

func (s *MySQL) GetMessageByProviderID(ctx context.Context, providerID string) (*model.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE provider_message_id = ?`, providerID)
	return scanMessage(row.Scan)
}

func (s *MySQL) UpdateMessage(ctx context.Context, msg *model.Message) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE messages SET
			provider_message_id = NULLIF(?, ''), delivery_status = ?,
			failure_reason = ?, superseded_by_id = NULLIF(?, '')
		WHERE id = ?`,
		msg.ProviderMessageID, string(msg.DeliveryStatus), msg.FailureReason, msg.SupersededByID, msg.ID,
	)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		if _, err := s.GetMessage(ctx, msg.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *MySQL) ListMessages(ctx context.Context, conversationID string, limit, offset int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at ASC, id ASC
		LIMIT ? OFFSET ?`,
		conversationID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []model.Message
	for rows.Next() {
		msg, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, *msg)
	}
	return msgs, rows.Err()
}

func (s *MySQL) HasSuccess(ctx context.Context, key, eventType string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `
		SELECT 1 FROM idempotency_records
		WHERE idem_key = ? AND event_type = ? AND outcome = 'SUCCESS'
		LIMIT 1`,
		key, eventType,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check idempotency: %w", err)
	}
	return true, nil
}

func (s *MySQL) AppendRecord(ctx context.Context, rec *model.IdempotencyRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO idempotency_records (id, idem_key, event_type, outcome, detail, processed_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Key, rec.EventType, rec.Outcome, rec.Detail, rec.ProcessedAt,
	)
	if isDuplicateKey(err) {
		return ErrDuplicateSuccess
	}
	if err != nil {
		return fmt.Errorf("append ledger record: %w", err)
	}
	return nil
}

func (s *MySQL) TrimBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM idempotency_records WHERE processed_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("trim ledger: %w", err)
	}
	return res.RowsAffected()
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func isDuplicateKey(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}
