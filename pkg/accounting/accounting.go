// Package accounting implements the admission check and usage-transaction
// creation described in §4.7.
package accounting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/pailflow/pailflow/pkg/models"
	"github.com/pailflow/pailflow/pkg/persistence"
	"github.com/pailflow/pailflow/pkg/pkgerrors"
	"github.com/pailflow/pailflow/pkg/pricing"
)

// MinimumBalanceUSD is the default minimum credit balance required to
// admit a new bot call (§4.7).
const MinimumBalanceUSD = 0.15

// Ledger exposes the admission check and transaction-creation operations.
type Ledger struct {
	store                persistence.Adapter
	botCallRatePerMinute float64
	minimumBalance       float64
}

// NewLedger wires a Ledger to its persistence adapter and pricing config.
func NewLedger(store persistence.Adapter, botCallRatePerMinute float64) *Ledger {
	if botCallRatePerMinute <= 0 {
		botCallRatePerMinute = pricing.DefaultBotCallRatePerMinute
	}
	return &Ledger{
		store:                store,
		botCallRatePerMinute: botCallRatePerMinute,
		minimumBalance:       MinimumBalanceUSD,
	}
}

// AdmissionCheck resolves the user behind an api-key identifier and reports
// whether their balance meets the minimum required to start a bot call.
func (l *Ledger) AdmissionCheck(ctx context.Context, unkeyKeyID string) (hasCredits bool, balance float64, err error) {
	user, err := l.store.GetUserByUnkeyID(ctx, unkeyKeyID)
	if err != nil {
		if errors.Is(err, pkgerrors.ErrNotFound) {
			return false, 0, nil
		}
		return false, 0, fmt.Errorf("accounting: lookup user: %w", err)
	}
	return user.CreditBalance >= l.minimumBalance, user.CreditBalance, nil
}

// CreateTransaction implements §4.7 transaction creation, callable from
// both the primary (bot-worker shutdown) and secondary (post-call pipeline)
// call sites. It is idempotent per I5/P3: a second call for the same
// thread is a no-op that returns created=false without error.
func (l *Ledger) CreateTransaction(ctx context.Context, thread *models.WorkflowThread) (created bool, err error) {
	if thread.UnkeyKeyID == "" {
		return false, fmt.Errorf("accounting: thread %s has no unkey_key_id", thread.WorkflowThreadID)
	}
	user, err := l.store.GetUserByUnkeyID(ctx, thread.UnkeyKeyID)
	if err != nil {
		return false, fmt.Errorf("accounting: resolve user: %w", err)
	}

	durationS := 0.0
	if thread.BotDurationS != nil {
		durationS = *thread.BotDurationS
	}
	amount := -pricing.CalculateBotCallCost(durationS, l.botCallRatePerMinute)

	tx := &models.UsageTransaction{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Amount:    amount,
		Type:      "usage_burn",
		DurationS: durationS,
		LPLCost:   thread.UsageStats.TotalCostUSD,
		Metadata: models.UsageTransactionMetadata{
			WorkflowThreadID: thread.WorkflowThreadID,
			BotID:            thread.BotID,
			RoomName:         thread.RoomName,
		},
	}

	created, err = l.store.CreateUsageTransaction(ctx, tx)
	if err != nil {
		return false, fmt.Errorf("accounting: create usage transaction: %w", err)
	}
	if !created {
		// I5: duplicate-creation attempts are idempotent no-ops.
		return false, nil
	}

	if err := l.store.DebitUser(ctx, user.ID, -amount); err != nil {
		return false, fmt.Errorf("accounting: debit user: %w", err)
	}
	if user.CreditBalance+amount < 0 {
		slog.Warn("user credit balance went negative after debit",
			"user_id", user.ID, "workflow_thread_id", thread.WorkflowThreadID,
			"resulting_balance", user.CreditBalance+amount)
	}
	return true, nil
}
