package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pailflow/pailflow/pkg/crypto"
	"github.com/pailflow/pailflow/pkg/models"
	"github.com/pailflow/pailflow/pkg/pkgerrors"
)

// PostgresAdapter implements Adapter over a pgx connection pool, applying
// field-level encryption to the sensitive-set columns (I1, I6) on every
// write and decrypting them on every read.
type PostgresAdapter struct {
	pool  *pgxpool.Pool
	field *crypto.Field
}

// NewPostgresAdapter wires a pool and a field-encryption keyer together.
func NewPostgresAdapter(pool *pgxpool.Pool, field *crypto.Field) *PostgresAdapter {
	return &PostgresAdapter{pool: pool, field: field}
}

var _ Adapter = (*PostgresAdapter)(nil)

func (p *PostgresAdapter) encrypt(s string) (string, error) {
	return p.field.Encrypt(s)
}

func (p *PostgresAdapter) decrypt(s string) (string, error) {
	return p.field.Decrypt(s)
}

func (p *PostgresAdapter) CreateWorkflowThread(ctx context.Context, t *models.WorkflowThread) error {
	encTranscript, err := p.encrypt(t.TranscriptText)
	if err != nil {
		return fmt.Errorf("persistence: encrypt transcript_text: %w", err)
	}
	encSummary, err := p.encrypt(t.CandidateSummary)
	if err != nil {
		return fmt.Errorf("persistence: encrypt candidate_summary: %w", err)
	}
	encWebhook, err := p.encrypt(t.WebhookCallbackURL)
	if err != nil {
		return fmt.Errorf("persistence: encrypt webhook_callback_url: %w", err)
	}
	encEmailTo, err := p.encrypt(t.EmailResultsTo)
	if err != nil {
		return fmt.Errorf("persistence: encrypt email_results_to: %w", err)
	}

	botConfig, err := json.Marshal(t.BotConfig)
	if err != nil {
		return fmt.Errorf("persistence: marshal bot_config: %w", err)
	}
	insights, err := json.Marshal(t.Insights)
	if err != nil {
		return fmt.Errorf("persistence: marshal insights: %w", err)
	}
	qaPairs, err := json.Marshal(t.QAPairs)
	if err != nil {
		return fmt.Errorf("persistence: marshal qa_pairs: %w", err)
	}
	usageStats, err := json.Marshal(t.UsageStats)
	if err != nil {
		return fmt.Errorf("persistence: marshal usage_stats: %w", err)
	}
	metadata, err := json.Marshal(t.Metadata)
	if err != nil {
		return fmt.Errorf("persistence: marshal metadata: %w", err)
	}

	now := time.Now()
	_, err = p.pool.Exec(ctx, `
		INSERT INTO workflow_threads (
			workflow_thread_id, room_name, room_url, bot_id, bot_config, bot_enabled,
			unkey_key_id, meeting_status, meeting_start_time, meeting_end_time,
			bot_join_time, bot_leave_time, bot_duration_s,
			transcript_text, transcript_processed, email_sent, webhook_sent,
			candidate_summary, insights, qa_pairs, webhook_callback_url, email_results_to,
			workflow_paused, waiting_for_meeting_ended, waiting_for_transcript_webhook,
			checkpoint_id, usage_stats, metadata, error, created_at, updated_at
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31
		)`,
		t.WorkflowThreadID, t.RoomName, t.RoomURL, t.BotID, botConfig, t.BotEnabled,
		t.UnkeyKeyID, string(t.MeetingStatus), t.MeetingStart, t.MeetingEnd,
		t.BotJoinTime, t.BotLeaveTime, t.BotDurationS,
		encTranscript, t.TranscriptProcessed, t.EmailSent, t.WebhookSent,
		encSummary, insights, qaPairs, encWebhook, encEmailTo,
		t.WorkflowPaused, t.WaitingForMeetingEnded, t.WaitingForTranscriptWebhook,
		t.CheckpointID, usageStats, metadata, t.Error, now, now,
	)
	if err != nil {
		var pgErr interface{ SQLState() string }
		if errors.As(err, &pgErr) && pgErr.SQLState() == "23505" {
			return pkgerrors.ErrAlreadyExists
		}
		return fmt.Errorf("persistence: insert workflow_thread: %w", err)
	}
	t.CreatedAt, t.UpdatedAt = now, now
	return nil
}

const selectThreadColumns = `
	workflow_thread_id, room_name, room_url, bot_id, bot_config, bot_enabled,
	unkey_key_id, meeting_status, meeting_start_time, meeting_end_time,
	bot_join_time, bot_leave_time, bot_duration_s,
	transcript_text, transcript_processed, email_sent, webhook_sent,
	candidate_summary, insights, qa_pairs, webhook_callback_url, email_results_to,
	workflow_paused, waiting_for_meeting_ended, waiting_for_transcript_webhook,
	checkpoint_id, usage_stats, metadata, error, created_at, updated_at`

func (p *PostgresAdapter) scanThread(row pgx.Row) (*models.WorkflowThread, error) {
	var t models.WorkflowThread
	var botConfig, insights, qaPairs, usageStats, metadata []byte
	var meetingStatus string
	var encTranscript, encSummary, encWebhook, encEmailTo string

	err := row.Scan(
		&t.WorkflowThreadID, &t.RoomName, &t.RoomURL, &t.BotID, &botConfig, &t.BotEnabled,
		&t.UnkeyKeyID, &meetingStatus, &t.MeetingStart, &t.MeetingEnd,
		&t.BotJoinTime, &t.BotLeaveTime, &t.BotDurationS,
		&encTranscript, &t.TranscriptProcessed, &t.EmailSent, &t.WebhookSent,
		&encSummary, &insights, &qaPairs, &encWebhook, &encEmailTo,
		&t.WorkflowPaused, &t.WaitingForMeetingEnded, &t.WaitingForTranscriptWebhook,
		&t.CheckpointID, &usageStats, &metadata, &t.Error, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pkgerrors.ErrNotFound
		}
		return nil, fmt.Errorf("persistence: scan workflow_thread: %w", err)
	}

	t.MeetingStatus = models.MeetingStatus(meetingStatus)

	if t.TranscriptText, err = p.decrypt(encTranscript); err != nil {
		return nil, fmt.Errorf("persistence: decrypt transcript_text: %w", err)
	}
	if t.CandidateSummary, err = p.decrypt(encSummary); err != nil {
		return nil, fmt.Errorf("persistence: decrypt candidate_summary: %w", err)
	}
	if t.WebhookCallbackURL, err = p.decrypt(encWebhook); err != nil {
		return nil, fmt.Errorf("persistence: decrypt webhook_callback_url: %w", err)
	}
	if t.EmailResultsTo, err = p.decrypt(encEmailTo); err != nil {
		return nil, fmt.Errorf("persistence: decrypt email_results_to: %w", err)
	}

	if len(botConfig) > 0 {
		if err := json.Unmarshal(botConfig, &t.BotConfig); err != nil {
			return nil, fmt.Errorf("persistence: unmarshal bot_config: %w", err)
		}
	}
	if len(insights) > 0 {
		var ins models.Insights
		if err := json.Unmarshal(insights, &ins); err != nil {
			return nil, fmt.Errorf("persistence: unmarshal insights: %w", err)
		}
		t.Insights = &ins
	}
	if len(qaPairs) > 0 {
		if err := json.Unmarshal(qaPairs, &t.QAPairs); err != nil {
			return nil, fmt.Errorf("persistence: unmarshal qa_pairs: %w", err)
		}
	}
	if len(usageStats) > 0 {
		if err := json.Unmarshal(usageStats, &t.UsageStats); err != nil {
			return nil, fmt.Errorf("persistence: unmarshal usage_stats: %w", err)
		}
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &t.Metadata); err != nil {
			return nil, fmt.Errorf("persistence: unmarshal metadata: %w", err)
		}
	}
	return &t, nil
}

func (p *PostgresAdapter) GetWorkflowThread(ctx context.Context, id string) (*models.WorkflowThread, error) {
	row := p.pool.QueryRow(ctx, "SELECT "+selectThreadColumns+" FROM workflow_threads WHERE workflow_thread_id = $1", id)
	return p.scanThread(row)
}

func (p *PostgresAdapter) FindPausedThreadByRoomName(ctx context.Context, roomName string) (*models.WorkflowThread, error) {
	row := p.pool.QueryRow(ctx, "SELECT "+selectThreadColumns+`
		FROM workflow_threads WHERE room_name = $1 AND workflow_paused
		ORDER BY updated_at DESC LIMIT 1`, roomName)
	return p.scanThread(row)
}

func (p *PostgresAdapter) UpdateWorkflowThread(ctx context.Context, t *models.WorkflowThread) error {
	encTranscript, err := p.encrypt(t.TranscriptText)
	if err != nil {
		return fmt.Errorf("persistence: encrypt transcript_text: %w", err)
	}
	encSummary, err := p.encrypt(t.CandidateSummary)
	if err != nil {
		return fmt.Errorf("persistence: encrypt candidate_summary: %w", err)
	}
	encWebhook, err := p.encrypt(t.WebhookCallbackURL)
	if err != nil {
		return fmt.Errorf("persistence: encrypt webhook_callback_url: %w", err)
	}
	encEmailTo, err := p.encrypt(t.EmailResultsTo)
	if err != nil {
		return fmt.Errorf("persistence: encrypt email_results_to: %w", err)
	}
	botConfig, err := json.Marshal(t.BotConfig)
	if err != nil {
		return fmt.Errorf("persistence: marshal bot_config: %w", err)
	}
	insights, err := json.Marshal(t.Insights)
	if err != nil {
		return fmt.Errorf("persistence: marshal insights: %w", err)
	}
	qaPairs, err := json.Marshal(t.QAPairs)
	if err != nil {
		return fmt.Errorf("persistence: marshal qa_pairs: %w", err)
	}
	usageStats, err := json.Marshal(t.UsageStats)
	if err != nil {
		return fmt.Errorf("persistence: marshal usage_stats: %w", err)
	}
	metadata, err := json.Marshal(t.Metadata)
	if err != nil {
		return fmt.Errorf("persistence: marshal metadata: %w", err)
	}

	now := time.Now()
	tag, err := p.pool.Exec(ctx, `
		UPDATE workflow_threads SET
			room_name=$2, room_url=$3, bot_id=$4, bot_config=$5, bot_enabled=$6,
			unkey_key_id=$7, meeting_status=$8, meeting_start_time=$9, meeting_end_time=$10,
			bot_join_time=$11, bot_leave_time=$12, bot_duration_s=$13,
			transcript_text=$14, transcript_processed=$15, email_sent=$16, webhook_sent=$17,
			candidate_summary=$18, insights=$19, qa_pairs=$20, webhook_callback_url=$21, email_results_to=$22,
			workflow_paused=$23, waiting_for_meeting_ended=$24, waiting_for_transcript_webhook=$25,
			checkpoint_id=$26, usage_stats=$27, metadata=$28, error=$29, updated_at=$30
		WHERE workflow_thread_id=$1`,
		t.WorkflowThreadID, t.RoomName, t.RoomURL, t.BotID, botConfig, t.BotEnabled,
		t.UnkeyKeyID, string(t.MeetingStatus), t.MeetingStart, t.MeetingEnd,
		t.BotJoinTime, t.BotLeaveTime, t.BotDurationS,
		encTranscript, t.TranscriptProcessed, t.EmailSent, t.WebhookSent,
		encSummary, insights, qaPairs, encWebhook, encEmailTo,
		t.WorkflowPaused, t.WaitingForMeetingEnded, t.WaitingForTranscriptWebhook,
		t.CheckpointID, usageStats, metadata, t.Error, now,
	)
	if err != nil {
		return fmt.Errorf("persistence: update workflow_thread: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pkgerrors.ErrNotFound
	}
	t.UpdatedAt = now
	return nil
}

func (p *PostgresAdapter) CreateBotSession(ctx context.Context, s *models.BotSession) error {
	botConfig, err := json.Marshal(s.BotConfig)
	if err != nil {
		return fmt.Errorf("persistence: marshal bot_config: %w", err)
	}
	qaPairs, err := json.Marshal(s.QAPairs)
	if err != nil {
		return fmt.Errorf("persistence: marshal qa_pairs: %w", err)
	}
	insights, err := json.Marshal(s.Insights)
	if err != nil {
		return fmt.Errorf("persistence: marshal insights: %w", err)
	}
	encTranscript, err := p.encrypt(s.TranscriptText)
	if err != nil {
		return fmt.Errorf("persistence: encrypt transcript_text: %w", err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO bot_sessions (bot_id, room_name, status, started_at, bot_config,
			transcript_text, qa_pairs, insights, error, workflow_thread_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		s.BotID, s.RoomName, string(s.Status), s.StartedAt, botConfig,
		encTranscript, qaPairs, insights, s.Error, s.WorkflowThreadID,
	)
	if err != nil {
		return fmt.Errorf("persistence: insert bot_session: %w", err)
	}
	return nil
}

func (p *PostgresAdapter) UpdateBotSession(ctx context.Context, s *models.BotSession) error {
	qaPairs, err := json.Marshal(s.QAPairs)
	if err != nil {
		return fmt.Errorf("persistence: marshal qa_pairs: %w", err)
	}
	insights, err := json.Marshal(s.Insights)
	if err != nil {
		return fmt.Errorf("persistence: marshal insights: %w", err)
	}
	encTranscript, err := p.encrypt(s.TranscriptText)
	if err != nil {
		return fmt.Errorf("persistence: encrypt transcript_text: %w", err)
	}
	tag, err := p.pool.Exec(ctx, `
		UPDATE bot_sessions SET status=$2, completed_at=$3, transcript_text=$4,
			qa_pairs=$5, insights=$6, error=$7 WHERE bot_id=$1`,
		s.BotID, string(s.Status), s.CompletedAt, encTranscript, qaPairs, insights, s.Error,
	)
	if err != nil {
		return fmt.Errorf("persistence: update bot_session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pkgerrors.ErrNotFound
	}
	return nil
}

func (p *PostgresAdapter) GetBotSession(ctx context.Context, botID string) (*models.BotSession, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT bot_id, room_name, status, started_at, completed_at, bot_config,
			transcript_text, qa_pairs, insights, error, workflow_thread_id
		FROM bot_sessions WHERE bot_id=$1`, botID)

	var s models.BotSession
	var status string
	var botConfig, qaPairs, insights []byte
	var encTranscript string
	if err := row.Scan(&s.BotID, &s.RoomName, &status, &s.StartedAt, &s.CompletedAt,
		&botConfig, &encTranscript, &qaPairs, &insights, &s.Error, &s.WorkflowThreadID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pkgerrors.ErrNotFound
		}
		return nil, fmt.Errorf("persistence: scan bot_session: %w", err)
	}
	s.Status = models.BotSessionStatus(status)
	if len(botConfig) > 0 {
		_ = json.Unmarshal(botConfig, &s.BotConfig)
	}
	if len(qaPairs) > 0 {
		_ = json.Unmarshal(qaPairs, &s.QAPairs)
	}
	if len(insights) > 0 {
		var ins models.Insights
		if err := json.Unmarshal(insights, &ins); err == nil {
			s.Insights = &ins
		}
	}
	var err error
	if s.TranscriptText, err = p.decrypt(encTranscript); err != nil {
		return nil, fmt.Errorf("persistence: decrypt transcript_text: %w", err)
	}
	return &s, nil
}

func (p *PostgresAdapter) PutCheckpoint(ctx context.Context, threadID string, state []byte) (string, error) {
	id := uuid.NewString()
	_, err := p.pool.Exec(ctx, `
		INSERT INTO checkpoints (workflow_thread_id, checkpoint_id, state) VALUES ($1,$2,$3)`,
		threadID, id, state)
	if err != nil {
		return "", fmt.Errorf("persistence: insert checkpoint: %w", err)
	}
	return id, nil
}

func (p *PostgresAdapter) GetCheckpoint(ctx context.Context, threadID, checkpointID string) ([]byte, error) {
	row := p.pool.QueryRow(ctx, `
		SELECT state FROM checkpoints WHERE workflow_thread_id=$1 AND checkpoint_id=$2`,
		threadID, checkpointID)
	var state []byte
	if err := row.Scan(&state); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pkgerrors.ErrCheckpointMissing
		}
		return nil, fmt.Errorf("persistence: scan checkpoint: %w", err)
	}
	return state, nil
}

func (p *PostgresAdapter) GetUserByUnkeyID(ctx context.Context, unkeyID string) (*models.User, error) {
	row := p.pool.QueryRow(ctx, `SELECT id, unkey_id, credit_balance FROM users WHERE unkey_id=$1`, unkeyID)
	var u models.User
	if err := row.Scan(&u.ID, &u.UnkeyID, &u.CreditBalance); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, pkgerrors.ErrNotFound
		}
		return nil, fmt.Errorf("persistence: scan user: %w", err)
	}
	return &u, nil
}

func (p *PostgresAdapter) DebitUser(ctx context.Context, userID string, amount float64) error {
	tag, err := p.pool.Exec(ctx, `UPDATE users SET credit_balance = credit_balance - $2 WHERE id=$1`, userID, amount)
	if err != nil {
		return fmt.Errorf("persistence: debit user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pkgerrors.ErrNotFound
	}
	return nil
}

func (p *PostgresAdapter) CreateUsageTransaction(ctx context.Context, tx *models.UsageTransaction) (bool, error) {
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	_, err := p.pool.Exec(ctx, `
		INSERT INTO usage_transactions (id, user_id, amount, type, duration_s, lpl_cost,
			workflow_thread_id, bot_id, room_name, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9, now())
		ON CONFLICT (workflow_thread_id) DO NOTHING`,
		tx.ID, tx.UserID, tx.Amount, tx.Type, tx.DurationS, tx.LPLCost,
		tx.Metadata.WorkflowThreadID, tx.Metadata.BotID, tx.Metadata.RoomName,
	)
	if err != nil {
		return false, fmt.Errorf("persistence: insert usage_transaction: %w", err)
	}
	// ON CONFLICT DO NOTHING doesn't tell us whether a row was inserted via
	// CommandTag alone being reliable across pgx versions, so confirm explicitly.
	has, err := p.HasUsageTransaction(ctx, tx.Metadata.WorkflowThreadID)
	if err != nil {
		return false, err
	}
	if !has {
		return false, fmt.Errorf("persistence: usage_transaction insert vanished unexpectedly")
	}
	row := p.pool.QueryRow(ctx, `SELECT id FROM usage_transactions WHERE workflow_thread_id=$1`, tx.Metadata.WorkflowThreadID)
	var insertedID string
	if err := row.Scan(&insertedID); err != nil {
		return false, fmt.Errorf("persistence: confirm usage_transaction: %w", err)
	}
	return insertedID == tx.ID, nil
}

func (p *PostgresAdapter) HasUsageTransaction(ctx context.Context, workflowThreadID string) (bool, error) {
	row := p.pool.QueryRow(ctx, `SELECT 1 FROM usage_transactions WHERE workflow_thread_id=$1`, workflowThreadID)
	var one int
	err := row.Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("persistence: check usage_transaction: %w", err)
	}
	return true, nil
}
