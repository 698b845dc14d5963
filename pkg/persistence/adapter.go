// Package persistence defines the storage boundary for PailFlow: workflow
// threads, legacy bot-session mirrors, checkpoints, users, and usage
// transactions (§3, §6 "Persistence layout").
package persistence

import (
	"context"

	"github.com/pailflow/pailflow/pkg/models"
)

// Adapter is implemented by every storage backend (Postgres, in-memory).
// All WorkflowThread reads/writes go through here so field-level encryption
// (I1) and the usage-stats/transaction invariants (I2, I5) have a single
// enforcement point.
type Adapter interface {
	// CreateWorkflowThread inserts a new thread row.
	CreateWorkflowThread(ctx context.Context, t *models.WorkflowThread) error
	// GetWorkflowThread reads one thread by id. Returns pkgerrors.ErrNotFound if absent.
	GetWorkflowThread(ctx context.Context, id string) (*models.WorkflowThread, error)
	// UpdateWorkflowThread writes back the entire row (§4.6: "write back the entire row").
	UpdateWorkflowThread(ctx context.Context, t *models.WorkflowThread) error
	// FindPausedThreadByRoomName returns the most recent paused thread for a
	// room, used when workflow_thread_id is unknown to a caller (§4.2.1, §4.3).
	FindPausedThreadByRoomName(ctx context.Context, roomName string) (*models.WorkflowThread, error)

	// CreateBotSession inserts the legacy bot-session mirror row (§3).
	CreateBotSession(ctx context.Context, s *models.BotSession) error
	// UpdateBotSession writes back a bot session's terminal state.
	UpdateBotSession(ctx context.Context, s *models.BotSession) error
	// GetBotSession reads one bot session by id.
	GetBotSession(ctx context.Context, botID string) (*models.BotSession, error)

	// PutCheckpoint serializes state for thread_id and returns a fresh checkpoint id.
	PutCheckpoint(ctx context.Context, threadID string, state []byte) (checkpointID string, err error)
	// GetCheckpoint reads back the state for (thread_id, checkpoint_id).
	GetCheckpoint(ctx context.Context, threadID, checkpointID string) ([]byte, error)

	// GetUserByUnkeyID resolves the billing identity behind an external key id.
	GetUserByUnkeyID(ctx context.Context, unkeyID string) (*models.User, error)
	// DebitUser decreases credit_balance by amount (amount is positive USD to subtract).
	// Negative resulting balances are allowed (§4.7 step 5).
	DebitUser(ctx context.Context, userID string, amount float64) error

	// CreateUsageTransaction inserts exactly one transaction per workflow
	// thread (I5); returns created=false on a duplicate-creation no-op.
	CreateUsageTransaction(ctx context.Context, tx *models.UsageTransaction) (created bool, err error)
	// HasUsageTransaction reports whether a transaction already exists for a thread.
	HasUsageTransaction(ctx context.Context, workflowThreadID string) (bool, error)
}
