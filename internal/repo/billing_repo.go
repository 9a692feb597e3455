// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Invoice and
// Payment models used by the in-chat billing flow.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-telegram-llm-bot/internal/domain"
)

// CreateInvoice inserts an invoice with generated ID and payload token.
// Invoices are immutable once created.
func CreateInvoice(ctx context.Context, db *gorm.DB, userID int64, amount int64, currency, title, description string) (*domain.Invoice, error) {
	inv := &domain.Invoice{
		ID:          uuid.NewString(),
		UserID:      userID,
		Amount:      amount,
		Currency:    currency,
		Title:       title,
		Description: description,
		Payload:     uuid.NewString(),
		CreatedAt:   time.Now().UTC(),
	}
	return inv, db.WithContext(ctx).Create(inv).Error
}

// GetInvoiceByPayload looks an invoice up by its opaque correlation token,
// or ErrNotFound if no invoice carries that payload.
func GetInvoiceByPayload(ctx context.Context, db *gorm.DB, payload string) (*domain.Invoice, error) {
	var inv domain.Invoice
	if err := db.WithContext(ctx).Where("payload = ?", payload).First(&inv).Error; err != nil {
		return nil, err
	}
	return &inv, nil
}

// CreatePayment records a completed transaction against an invoice.
func CreatePayment(ctx context.Context, db *gorm.DB, invoiceID string, userID, amount int64, status, chargeID string) (*domain.Payment, error) {
	p := &domain.Payment{
		ID:        uuid.NewString(),
		InvoiceID: invoiceID,
		UserID:    userID,
		Amount:    amount,
		Status:    status,
		ChargeID:  chargeID,
		CreatedAt: time.Now().UTC(),
	}
	return p, db.WithContext(ctx).Create(p).Error
}
