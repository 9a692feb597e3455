// Package services defines the business logic for entitlements, quotas,
// conversation context, streamed responses, and billing. This file
// centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// These errors are intended for internal use by the service layer; translation
// into user-facing replies is performed at the bot handler layer. Note that a
// quota denial is deliberately NOT an error — it is a normal branch reported
// by QuotaService.Admit.
package services

import "errors"

var (
	// ErrEmptyPrompt is returned when a request carries no usable text.
	ErrEmptyPrompt = errors.New("prompt is empty")

	// ErrUnknownInvoice is returned when a checkout references a payload
	// that matches no stored invoice. The payment must not be recorded.
	ErrUnknownInvoice = errors.New("unknown invoice")
)
