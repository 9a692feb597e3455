// Package domain defines the persistence models for user profiles,
// conversation turns, invoices, payments, and token usage aggregates.
// These types are mapped with GORM and form the core data layer of the bot.
package domain

import (
	"time"
)

// Subscription tiers. A profile is always in exactly one of these states;
// Premium carries an expiry timestamp assigned at purchase time.
const (
	TierFree    = "free"
	TierPremium = "premium"
)

// Conversation roles as sent to the completion API.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Payment statuses.
const (
	PaymentPending   = "pending"
	PaymentCompleted = "completed"
	PaymentRefunded  = "refunded"
)

// UserProfile is the per-user subscription and quota record. One row per
// Telegram user, created on first contact with free/zero-counter defaults
// and never deleted.
//
// Invariant: DailyRequests counts requests within the window starting at
// LastResetDate. SubscriptionExpiry is nil for free users; a premium tier
// without an expiry is only valid transiently before purchase completes.
type UserProfile struct {
	UserID             int64      `json:"user_id"             gorm:"primaryKey;autoIncrement:false"`
	Handle             string     `json:"handle,omitempty"    gorm:"type:varchar(64)"`
	Tier               string     `json:"tier"                gorm:"type:varchar(16);not null;default:'free';check:tier IN ('free','premium')"`
	DailyRequests      int        `json:"daily_requests"      gorm:"not null;default:0"`
	LastResetDate      time.Time  `json:"last_reset_date"`
	SubscriptionExpiry *time.Time `json:"subscription_expiry,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// TableName returns the database table name for UserProfile.
func (UserProfile) TableName() string { return "user_profiles" }

// IsPremium reports whether the profile is on the premium tier.
func (p *UserProfile) IsPremium() bool { return p.Tier == TierPremium }

// ChatTurn is a single utterance in a user's conversation history.
// Append-only; read newest-first and capped to a window for prompt assembly,
// bulk-deleted when the user resets their context.
type ChatTurn struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	UserID    int64     `json:"user_id"    gorm:"not null;index:idx_user_turns,priority:1"`
	Role      string    `json:"role"       gorm:"type:varchar(16);not null;check:role IN ('system','user','assistant')"`
	Content   string    `json:"content"    gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at" gorm:"index:idx_user_turns,priority:2"`
}

// TableName returns the database table name for ChatTurn.
func (ChatTurn) TableName() string { return "chat_turns" }

// Invoice is one purchase attempt. Immutable once created; the Payload is an
// opaque correlation token looked up during pre-checkout validation.
type Invoice struct {
	ID          string    `json:"id"          gorm:"type:char(36);primaryKey"`
	UserID      int64     `json:"user_id"     gorm:"not null;index"`
	Amount      int64     `json:"amount"      gorm:"not null"` // smallest currency unit
	Currency    string    `json:"currency"    gorm:"type:varchar(8);not null"`
	Title       string    `json:"title"       gorm:"type:varchar(255);not null"`
	Description string    `json:"description" gorm:"type:text"`
	Payload     string    `json:"payload"     gorm:"type:char(36);not null;uniqueIndex"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName returns the database table name for Invoice.
func (Invoice) TableName() string { return "invoices" }

// Payment is a completed transaction referencing its invoice. Created only
// after the platform confirms checkout.
type Payment struct {
	ID        string    `json:"id"         gorm:"type:char(36);primaryKey"`
	InvoiceID string    `json:"invoice_id" gorm:"type:char(36);not null;index"`
	UserID    int64     `json:"user_id"    gorm:"not null;index"`
	Amount    int64     `json:"amount"     gorm:"not null"`
	Status    string    `json:"status"     gorm:"type:varchar(16);not null;default:'pending';check:status IN ('pending','completed','refunded')"`
	ChargeID  string    `json:"charge_id"  gorm:"type:varchar(128)"`
	CreatedAt time.Time `json:"created_at"`

	// Invoice is the purchase attempt this payment settles.
	Invoice Invoice `json:"-" gorm:"foreignKey:InvoiceID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Payment.
func (Payment) TableName() string { return "payments" }

// UsageStats is the per-user lifetime token aggregate. Incremented
// monotonically after each response; observability only, never read back
// into policy decisions.
type UsageStats struct {
	UserID       int64     `json:"user_id"       gorm:"primaryKey;autoIncrement:false"`
	InputTokens  int64     `json:"input_tokens"  gorm:"not null;default:0"`
	OutputTokens int64     `json:"output_tokens" gorm:"not null;default:0"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName returns the database table name for UsageStats.
func (UsageStats) TableName() string { return "usage_stats" }
