package core

import (
	"context"
	"errors"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func (h *testHarness) checkWin(bidder Identity) error {
	return CheckWin(context.Background(), h.env(testEnd), h.auction, h.bids[bidder], bidder)
}

func (h *testHarness) withdraw(bidder Identity) (*Withdrawal, error) {
	bid := h.bids[bidder]
	plaintext := h.cop.plaintext(bid.WinnerHandle)
	return WithdrawBid(context.Background(), h.env(testEnd), h.auction, bid, bidder,
		plaintext, fakeProof(bid.WinnerHandle, plaintext))
}

func twoBidderHarness(t *testing.T) *testHarness {
	h := newHarness(100, map[Account]Amount{AccountOf(alice): 500, AccountOf(bob): 500})
	assert.NoError(t, h.bid(alice, "150", 150))
	assert.NoError(t, h.bid(bob, "200", 200))
	assert.NoError(t, h.close())
	return h
}

func TestSettlement_WinnerAndLoser(t *testing.T) {
	h := twoBidderHarness(t)

	assert.NoError(t, h.checkWin(alice))
	assert.NoError(t, h.checkWin(bob))

	check.True(t, h.bids[alice].Checked)
	check.Equal(t, "0", string(h.cop.plaintext(h.bids[alice].WinnerHandle)))
	check.Equal(t, "1", string(h.cop.plaintext(h.bids[bob].WinnerHandle)))
	check.True(t, h.cop.isAllowed(h.bids[alice].WinnerHandle, alice))

	// Loser is refunded
	result, err := h.withdraw(alice)
	assert.NoError(t, err)
	check.False(t, result.Winner)
	check.Equal(t, Amount(150), result.Refunded)
	check.Equal(t, Amount(500), h.ledger.balances[AccountOf(alice)])

	// Winner's deposit stays in the vault
	result, err = h.withdraw(bob)
	assert.NoError(t, err)
	check.True(t, result.Winner)
	check.Equal(t, Amount(0), result.Refunded)
	check.Equal(t, Amount(300), h.ledger.balances[AccountOf(bob)])
	check.Equal(t, Amount(200), h.ledger.balances[h.auction.Vault])

	check.True(t, h.bids[alice].Withdrawn)
	check.True(t, h.bids[bob].Withdrawn)
}

func TestSettlement_TieMakesEveryTopBidderWinner(t *testing.T) {
	h := newHarness(100, map[Account]Amount{AccountOf(alice): 500, AccountOf(bob): 500})
	assert.NoError(t, h.bid(alice, "100", 100))
	assert.NoError(t, h.bid(bob, "100", 100))
	assert.NoError(t, h.close())

	assert.NoError(t, h.checkWin(alice))
	assert.NoError(t, h.checkWin(bob))
	check.Equal(t, "1", string(h.cop.plaintext(h.bids[alice].WinnerHandle)))
	check.Equal(t, "1", string(h.cop.plaintext(h.bids[bob].WinnerHandle)))
}

func TestCheckWin_Errors(t *testing.T) {
	h := newHarness(100, map[Account]Amount{AccountOf(alice): 500})
	assert.NoError(t, h.bid(alice, "150", 150))

	// Still open
	err := h.checkWin(alice)
	check.True(t, errors.Is(err, ErrAuctionStillOpen))
	check.True(t, Retryable(err))

	assert.NoError(t, h.close())

	// Someone else's bid
	err = CheckWin(context.Background(), h.env(testEnd), h.auction, h.bids[alice], bob)
	check.True(t, errors.Is(err, ErrNotBidder))

	assert.NoError(t, h.checkWin(alice))
	err = h.checkWin(alice)
	check.True(t, errors.Is(err, ErrAlreadyChecked))
}

func TestDetermineWinner(t *testing.T) {
	h := twoBidderHarness(t)
	ctx := context.Background()
	opts := DetermineWinnerOptions{ThirdParty: true}

	// Any caller, grants go to the bidder
	err := DetermineWinner(ctx, h.env(testEnd), h.auction, h.bids[alice], carol, opts)
	assert.NoError(t, err)
	winner := h.bids[alice].WinnerHandle
	check.False(t, winner.IsZero())
	check.False(t, h.bids[alice].Checked)
	check.True(t, h.cop.isAllowed(winner, alice))
	check.False(t, h.cop.isAllowed(winner, carol))
	check.Equal(t, "0", string(h.cop.plaintext(winner)))

	// Once per bid
	err = DetermineWinner(ctx, h.env(testEnd), h.auction, h.bids[alice], carol, opts)
	check.True(t, errors.Is(err, ErrWinnerAlreadyDetermined))

	// CheckWin still runs and replaces the flag
	assert.NoError(t, h.checkWin(alice))
	check.True(t, h.bids[alice].Checked)

	// CheckWin first also blocks DetermineWinner
	assert.NoError(t, h.checkWin(bob))
	err = DetermineWinner(ctx, h.env(testEnd), h.auction, h.bids[bob], carol, opts)
	check.True(t, errors.Is(err, ErrWinnerAlreadyDetermined))
}

func TestDetermineWinner_Errors(t *testing.T) {
	h := newHarness(100, map[Account]Amount{AccountOf(alice): 500})
	assert.NoError(t, h.bid(alice, "150", 150))
	ctx := context.Background()

	err := DetermineWinner(ctx, h.env(testEnd), h.auction, h.bids[alice], carol, DetermineWinnerOptions{ThirdParty: true})
	check.True(t, errors.Is(err, ErrAuctionStillOpen))

	assert.NoError(t, h.close())

	// Third-party determination disabled
	err = DetermineWinner(ctx, h.env(testEnd), h.auction, h.bids[alice], carol, DetermineWinnerOptions{})
	check.True(t, errors.Is(err, ErrUnauthorized))
	assert.NoError(t, DetermineWinner(ctx, h.env(testEnd), h.auction, h.bids[alice], alice, DetermineWinnerOptions{}))

	// Bid from another auction
	other := *h.bids[alice]
	other.AuctionID = 99
	other.WinnerHandle = Handle{}
	err = DetermineWinner(ctx, h.env(testEnd), h.auction, &other, carol, DetermineWinnerOptions{ThirdParty: true})
	check.True(t, errors.Is(err, ErrNotBidder))
}

func TestWithdrawBid_Errors(t *testing.T) {
	h := twoBidderHarness(t)
	ctx := context.Background()
	bid := h.bids[alice]

	// Not checked yet
	_, err := WithdrawBid(ctx, h.env(testEnd), h.auction, bid, alice, []byte("0"), nil)
	check.True(t, errors.Is(err, ErrNotChecked))
	check.True(t, Retryable(err))

	assert.NoError(t, h.checkWin(alice))

	// Wrong caller
	_, err = WithdrawBid(ctx, h.env(testEnd), h.auction, bid, bob, []byte("0"), fakeProof(bid.WinnerHandle, []byte("0")))
	check.True(t, errors.Is(err, ErrNotBidder))

	// Claiming a win with a proof for the real outcome fails
	_, err = WithdrawBid(ctx, h.env(testEnd), h.auction, bid, alice, []byte("1"), fakeProof(bid.WinnerHandle, []byte("0")))
	check.True(t, errors.Is(err, ErrInvalidProof))
	check.False(t, bid.Withdrawn)
	check.Equal(t, Amount(350), h.ledger.balances[AccountOf(alice)])

	// Proof bound to another handle fails
	_, err = WithdrawBid(ctx, h.env(testEnd), h.auction, bid, alice, []byte("0"), fakeProof(bid.AmountHandle, []byte("0")))
	check.True(t, errors.Is(err, ErrInvalidProof))

	_, err = h.withdraw(alice)
	assert.NoError(t, err)

	_, err = h.withdraw(alice)
	check.True(t, errors.Is(err, ErrAlreadyWithdrawn))
	check.Equal(t, Amount(500), h.ledger.balances[AccountOf(alice)])
}

func TestWithdrawBid_InsufficientVault(t *testing.T) {
	h := twoBidderHarness(t)
	assert.NoError(t, h.checkWin(alice))

	// Drain the vault out of band
	h.ledger.balances[h.auction.Vault] = 0

	_, err := h.withdraw(alice)
	check.True(t, errors.Is(err, ErrInsufficientFunds))
}

func TestWithdrawBid_ZeroDepositLoser(t *testing.T) {
	h := newHarness(0, map[Account]Amount{AccountOf(alice): 500, AccountOf(bob): 500})
	assert.NoError(t, h.bid(alice, "150", 0))
	assert.NoError(t, h.bid(bob, "200", 0))
	assert.NoError(t, h.close())
	assert.NoError(t, h.checkWin(alice))

	_, err := h.withdraw(alice)
	check.True(t, errors.Is(err, ErrNoFunds))
}

func TestParseOutcome(t *testing.T) {
	tests := []struct {
		input    []byte
		expected bool
	}{
		{nil, false},
		{[]byte{}, false},
		{[]byte("0"), false},
		{[]byte("false"), false},
		{[]byte("1"), true},
		{[]byte("true"), true},
		{[]byte{0}, false},
		{[]byte{0, 0}, false},
		{[]byte{1}, true},
		{[]byte("00"), false},
		{[]byte("yes"), true},
	}

	for _, tt := range tests {
		check.Equal(t, tt.expected, ParseOutcome(tt.input))
	}
}

func TestComputeSettlementStatus(t *testing.T) {
	h := twoBidderHarness(t)
	bids := []*Bid{h.bids[alice], h.bids[bob]}

	status := ComputeSettlementStatus(h.auction, bids)
	check.Equal(t, 2, status.Bids)
	check.Equal(t, 0, status.Checked)
	check.False(t, status.Complete)

	assert.NoError(t, h.checkWin(alice))
	assert.NoError(t, h.checkWin(bob))
	_, err := h.withdraw(alice)
	assert.NoError(t, err)

	status = ComputeSettlementStatus(h.auction, bids)
	check.Equal(t, 2, status.Determined)
	check.Equal(t, 2, status.Checked)
	check.Equal(t, 1, status.Withdrawn)
	check.False(t, status.Complete)

	_, err = h.withdraw(bob)
	assert.NoError(t, err)
	check.True(t, ComputeSettlementStatus(h.auction, bids).Complete)
}
