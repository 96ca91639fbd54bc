package model

import "time"

// TransactionStatus moves pending -> completed exactly once.
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "pending"
	TransactionCompleted TransactionStatus = "completed"
)

// PaymentTransaction mirrors one checkout session at the payment provider.
//
// PeriodDays is captured at checkout time so completion never has to look
// the plan up again: whatever was sold is what gets granted.
type PaymentTransaction struct {
	ID          string            `json:"id"`
	SessionID   string            `json:"session_id"`
	UserID      string            `json:"user_id"`
	PlanID      string            `json:"plan_id"`
	AmountCents int64             `json:"amount_cents"`
	Currency    string            `json:"currency"`
	PeriodDays  int               `json:"period_days"`
	Status      TransactionStatus `json:"payment_status"`
	CreatedAt   time.Time         `json:"created_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}
