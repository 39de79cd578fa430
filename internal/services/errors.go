// Package services defines the business logic for the tip bot. This file
// centralizes the validation rejection errors so services can return them
// consistently and tests can check outcomes with errors.Is.
//
// Every rejection is user-caused: it is surfaced to the user as a chat
// notice at the point of detection and never retried — the user resends a
// corrected command. Infrastructure failures (node, store) are separate and
// come wrapped from the node and repo packages.
package services

import "errors"

var (
	// ErrNotANumber is returned when an amount token does not parse as a
	// positive decimal.
	ErrNotANumber = errors.New("amount is not a number")

	// ErrBelowMinimum is returned when a tip amount is below the configured
	// per-recipient minimum.
	ErrBelowMinimum = errors.New("tip below minimum")

	// ErrUnknownRecipient is returned when a mentioned user cannot be
	// resolved in the chat's membership records. The whole command is
	// rejected; no partial fan-out happens.
	ErrUnknownRecipient = errors.New("unknown recipient")

	// ErrNoAccount is returned when the sender has no account with the bot.
	ErrNoAccount = errors.New("sender has no account")

	// ErrInsufficientFunds is returned when the sender's swept balance does
	// not cover the requested total.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrBadSyntax is returned for a withdraw command without a destination.
	ErrBadSyntax = errors.New("bad command syntax")

	// ErrInvalidAddress is returned when a withdraw destination fails the
	// ledger's address validation.
	ErrInvalidAddress = errors.New("invalid destination address")

	// ErrZeroBalance is returned when a withdraw is attempted from an
	// empty account.
	ErrZeroBalance = errors.New("zero balance")
)
