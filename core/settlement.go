package core

import (
	"context"
	"fmt"
	"log"
)

// CheckWin computes the bidder's own encrypted win flag (amount >= highest bid) once the
// auction is closed. Ties resolve to winner for every tied bidder.
func CheckWin(ctx context.Context, env Env, auction *Auction, bid *Bid, caller Identity) error {
	if caller != bid.Bidder {
		return fmt.Errorf("%w: %s is not the bidder", ErrNotBidder, caller)
	}
	if bid.AuctionID != auction.ID {
		return fmt.Errorf("%w: bid belongs to auction %d, not %d", ErrNotBidder, bid.AuctionID, auction.ID)
	}
	if !auction.IsClosed() {
		return fmt.Errorf("%w: auction %d", ErrAuctionStillOpen, auction.ID)
	}
	if bid.Checked {
		return fmt.Errorf("%w: bid of %s on auction %d", ErrAlreadyChecked, bid.Bidder, auction.ID)
	}

	winner, err := compareWithHighest(ctx, env.Coprocessor, auction, bid)
	if err != nil {
		return err
	}

	bid.WinnerHandle = winner
	bid.Checked = true

	log.Printf("INFO: Win status checked for %s on auction %d: handle=%s", bid.Bidder, auction.ID, winner)
	return nil
}

// DetermineWinnerOptions configure the third-party comparison path.
type DetermineWinnerOptions struct {
	// ThirdParty allows callers other than the bidder to run the comparison.
	ThirdParty bool
}

// DetermineWinner computes the same predicate as CheckWin on behalf of any caller, without
// marking the bid checked. It runs at most once per bid: a bid whose win flag was already
// computed, by either path, is rejected with ErrWinnerAlreadyDetermined.
func DetermineWinner(ctx context.Context, env Env, auction *Auction, bid *Bid, caller Identity, opts DetermineWinnerOptions) error {
	if !opts.ThirdParty && caller != bid.Bidder {
		return fmt.Errorf("%w: third-party determination is disabled", ErrUnauthorized)
	}
	if !auction.IsClosed() {
		return fmt.Errorf("%w: auction %d", ErrAuctionStillOpen, auction.ID)
	}
	if !bid.WinnerHandle.IsZero() {
		return fmt.Errorf("%w: bid of %s on auction %d", ErrWinnerAlreadyDetermined, bid.Bidder, auction.ID)
	}
	if bid.AuctionID != auction.ID {
		return fmt.Errorf("%w: bid belongs to auction %d, not %d", ErrNotBidder, bid.AuctionID, auction.ID)
	}

	winner, err := compareWithHighest(ctx, env.Coprocessor, auction, bid)
	if err != nil {
		return err
	}

	bid.WinnerHandle = winner

	log.Printf("INFO: Winner determination for %s on auction %d by %s: handle=%s",
		bid.Bidder, auction.ID, caller, winner)
	return nil
}

// compareWithHighest evaluates bid.amount >= auction.highest and grants the bidder the result.
func compareWithHighest(ctx context.Context, cop Coprocessor, auction *Auction, bid *Bid) (Handle, error) {
	if auction.HighestBid.IsZero() {
		return Handle{}, fmt.Errorf("%w: auction %d has no running maximum", ErrNoBidders, auction.ID)
	}

	winner, err := cop.GreaterOrEqual(ctx, bid.AmountHandle, auction.HighestBid)
	if err != nil {
		return Handle{}, fmt.Errorf("failed to compare bid with highest bid: %w", err)
	}
	if err := cop.Allow(ctx, winner, bid.Bidder); err != nil {
		return Handle{}, fmt.Errorf("failed to grant bidder access to win flag: %w", err)
	}
	return winner, nil
}

// Withdrawal is the settled outcome of a bid.
type Withdrawal struct {
	Winner   bool
	Refunded Amount
}

// WithdrawBid settles a checked bid from a disclosed win flag. The disclosure must be attested
// by the verifier for the stored win handle; the auction never decrypts anything itself.
// Winners leave their deposit in the vault as payment, losers get it back.
func WithdrawBid(ctx context.Context, env Env, auction *Auction, bid *Bid, caller Identity, claimedPlaintext, proof []byte) (*Withdrawal, error) {
	if caller != bid.Bidder {
		return nil, fmt.Errorf("%w: %s is not the bidder", ErrNotBidder, caller)
	}
	if bid.AuctionID != auction.ID {
		return nil, fmt.Errorf("%w: bid belongs to auction %d, not %d", ErrNotBidder, bid.AuctionID, auction.ID)
	}
	if !bid.Checked {
		return nil, fmt.Errorf("%w: bid of %s on auction %d", ErrNotChecked, bid.Bidder, auction.ID)
	}
	if bid.Withdrawn {
		return nil, fmt.Errorf("%w: bid of %s on auction %d", ErrAlreadyWithdrawn, bid.Bidder, auction.ID)
	}
	if !auction.IsClosed() {
		return nil, fmt.Errorf("%w: auction %d", ErrAuctionStillOpen, auction.ID)
	}

	valid, err := env.Verifier.VerifyDecryption(ctx, bid.WinnerHandle, claimedPlaintext, proof)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProof, err)
	}
	if !valid {
		return nil, fmt.Errorf("%w: handle %s", ErrInvalidProof, bid.WinnerHandle)
	}

	isWinner := ParseOutcome(claimedPlaintext)
	result := &Withdrawal{Winner: isWinner}

	if !isWinner {
		if bid.Deposit == 0 {
			return nil, fmt.Errorf("%w: bid of %s on auction %d", ErrNoFunds, bid.Bidder, auction.ID)
		}
		if err := env.Ledger.Transfer(ctx, auction.Vault, AccountOf(bid.Bidder), bid.Deposit); err != nil {
			return nil, fmt.Errorf("failed to refund deposit: %w", err)
		}
		result.Refunded = bid.Deposit
	}

	bid.Withdrawn = true

	if isWinner {
		log.Printf("INFO: Auction %d won by %s: deposit %s remains in vault as payment",
			auction.ID, bid.Bidder, bid.Deposit)
	} else {
		log.Printf("INFO: Refunded %s to %s from auction %d", bid.Deposit, bid.Bidder, auction.ID)
	}
	return result, nil
}

// ParseOutcome interprets a disclosed boolean plaintext.
// Empty, "0" and "false" are a loss; "1" and "true" a win; otherwise any byte other than
// 0x00 or '0' counts as a win.
func ParseOutcome(plaintext []byte) bool {
	if len(plaintext) == 0 {
		return false
	}
	switch string(plaintext) {
	case "0", "false":
		return false
	case "1", "true":
		return true
	}
	for _, b := range plaintext {
		if b != 0 && b != '0' {
			return true
		}
	}
	return false
}

// SettlementStatus summarises per-bid settlement progress of an auction.
type SettlementStatus struct {
	AuctionID  uint64 `json:"auction_id"`
	Phase      Phase  `json:"phase"`
	Bids       int    `json:"bids"`
	Determined int    `json:"determined"`
	Checked    int    `json:"checked"`
	Withdrawn  int    `json:"withdrawn"`
	Complete   bool   `json:"complete"`
}

// ComputeSettlementStatus derives settlement progress by scanning the auction's bids.
// An auction is complete once it is closed and every bid has been withdrawn.
func ComputeSettlementStatus(auction *Auction, bids []*Bid) SettlementStatus {
	status := SettlementStatus{
		AuctionID: auction.ID,
		Phase:     auction.Phase,
		Bids:      len(bids),
	}
	for _, bid := range bids {
		if !bid.WinnerHandle.IsZero() {
			status.Determined++
		}
		if bid.Checked {
			status.Checked++
		}
		if bid.Withdrawn {
			status.Withdrawn++
		}
	}
	status.Complete = auction.IsClosed() && status.Bids > 0 && status.Withdrawn == status.Bids
	return status
}
