package core

import (
	"errors"
)

// Error kinds returned by auction operations. Every failure of a core operation wraps exactly
// one of these so callers can tell a transient rejection from a permanent one with errors.Is.
var (
	ErrUnauthorized            = errors.New("unauthorized")
	ErrInvalidSchedule         = errors.New("end time must be in the future")
	ErrInvalidMetadata         = errors.New("invalid auction metadata")
	ErrInvalidInput            = errors.New("invalid input")
	ErrAuctionClosed           = errors.New("auction is closed")
	ErrAuctionStillOpen        = errors.New("auction is still open")
	ErrAuctionEnded            = errors.New("auction has already ended")
	ErrAuctionAlreadyClosed    = errors.New("auction is already closed")
	ErrNoBidders               = errors.New("no bidders")
	ErrBidTooLow               = errors.New("deposit is below minimum bid")
	ErrDuplicateBid            = errors.New("bidder already has a bid on this auction")
	ErrNotBidder               = errors.New("not bidder")
	ErrAlreadyChecked          = errors.New("already checked")
	ErrNotChecked              = errors.New("bid not checked yet")
	ErrAlreadyWithdrawn        = errors.New("already withdrawn")
	ErrNoFunds                 = errors.New("no funds in vault")
	ErrWinnerAlreadyDetermined = errors.New("winner already determined")
	ErrInvalidProof            = errors.New("invalid decryption proof")
	ErrInsufficientFunds       = errors.New("insufficient funds")

	ErrAuctionNotFound  = errors.New("auction not found")
	ErrAuctionExists    = errors.New("auction already exists")
	ErrBidNotFound      = errors.New("bid not found")
	ErrDuplicateComment = errors.New("comment sequence already used")
)

var errorCodes = []struct {
	err  error
	code string
}{
	{ErrUnauthorized, "Unauthorized"},
	{ErrInvalidSchedule, "InvalidSchedule"},
	{ErrInvalidMetadata, "InvalidMetadata"},
	{ErrInvalidInput, "InvalidInput"},
	{ErrAuctionClosed, "AuctionClosed"},
	{ErrAuctionStillOpen, "AuctionStillOpen"},
	{ErrAuctionEnded, "AuctionEnded"},
	{ErrAuctionAlreadyClosed, "AuctionAlreadyClosed"},
	{ErrNoBidders, "NoBidders"},
	{ErrBidTooLow, "BidTooLow"},
	{ErrDuplicateBid, "DuplicateBid"},
	{ErrNotBidder, "NotBidder"},
	{ErrAlreadyChecked, "AlreadyChecked"},
	{ErrNotChecked, "NotChecked"},
	{ErrAlreadyWithdrawn, "AlreadyWithdrawn"},
	{ErrNoFunds, "NoFunds"},
	{ErrWinnerAlreadyDetermined, "WinnerAlreadyDetermined"},
	{ErrInvalidProof, "InvalidProof"},
	{ErrInsufficientFunds, "InsufficientFunds"},
	{ErrAuctionNotFound, "AuctionNotFound"},
	{ErrAuctionExists, "AuctionExists"},
	{ErrBidNotFound, "BidNotFound"},
	{ErrDuplicateComment, "DuplicateComment"},
}

// Code returns the stable name of the error kind wrapped by err, or "Internal" when err is not
// one of the auction error kinds.
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.code
		}
	}
	return "Internal"
}

// Retryable reports whether the same request may succeed later without changing its inputs.
func Retryable(err error) bool {
	return errors.Is(err, ErrAuctionStillOpen) || errors.Is(err, ErrNotChecked)
}
