package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/peterldowns/testy/check"
)

func TestCode(t *testing.T) {
	check.Equal(t, "", Code(nil))
	check.Equal(t, "NotBidder", Code(ErrNotBidder))
	check.Equal(t, "AuctionStillOpen", Code(fmt.Errorf("wrapped: %w", ErrAuctionStillOpen)))
	check.Equal(t, "InsufficientFunds", Code(fmt.Errorf("failed to transfer deposit: %w",
		fmt.Errorf("%w: vault empty", ErrInsufficientFunds))))
	check.Equal(t, "Internal", Code(errors.New("disk on fire")))
}

func TestRetryable(t *testing.T) {
	check.True(t, Retryable(fmt.Errorf("x: %w", ErrAuctionStillOpen)))
	check.True(t, Retryable(ErrNotChecked))
	check.False(t, Retryable(ErrAlreadyWithdrawn))
	check.False(t, Retryable(ErrInvalidProof))
	check.False(t, Retryable(nil))
}
