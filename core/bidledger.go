package core

import (
	"context"
	"fmt"
	"log"
)

// PlaceBidParams describe one bid submission.
type PlaceBidParams struct {
	Bidder Identity

	// Ciphertext is the bid amount sealed for the coprocessor.
	Ciphertext []byte

	// Deposit is the plaintext collateral moved into the vault.
	Deposit Amount
}

// PlaceBid admits a bid into an open auction.
//
// existing is the bidder's current bid on the auction, or nil.
//
// Processing flow:
//  1. Move the deposit from the bidder into the auction vault
//  2. Import the sealed amount as a handle
//  3. Fold the handle into the encrypted running maximum
//  4. Count the bidder
//  5. Grant the bidder decryption rights on their own amount
//
// The auction is only mutated once every capability call succeeded; on error the host must
// discard the enclosing transaction, which also drops the staged deposit.
func PlaceBid(ctx context.Context, env Env, auction *Auction, existing *Bid, params PlaceBidParams) (*Bid, error) {
	if !auction.IsOpen() {
		return nil, fmt.Errorf("%w: auction %d", ErrAuctionClosed, auction.ID)
	}
	if !env.Now.Before(auction.EndTime) {
		return nil, fmt.Errorf("%w: auction %d", ErrAuctionEnded, auction.ID)
	}
	if params.Bidder == "" {
		return nil, fmt.Errorf("%w: missing bidder", ErrNotBidder)
	}
	if !DepositMeetsMinimum(params.Deposit, auction.MinimumBid) {
		return nil, fmt.Errorf("%w: deposit %s < minimum %s", ErrBidTooLow, params.Deposit, auction.MinimumBid)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: bidder %s on auction %d", ErrDuplicateBid, params.Bidder, auction.ID)
	}
	if len(params.Ciphertext) == 0 {
		return nil, fmt.Errorf("%w: empty bid ciphertext", ErrInvalidInput)
	}

	// Step 1: Collateral into the vault
	if err := env.Ledger.Transfer(ctx, AccountOf(params.Bidder), auction.Vault, params.Deposit); err != nil {
		return nil, fmt.Errorf("failed to transfer deposit: %w", err)
	}

	// Step 2: Sealed amount becomes a handle
	amountHandle, err := env.Coprocessor.Encrypt(ctx, params.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("failed to import bid amount: %w", err)
	}

	// Step 3: Running maximum under encryption
	highest, err := foldHighest(ctx, env.Coprocessor, auction.HighestBid, amountHandle)
	if err != nil {
		return nil, err
	}

	// Step 5 runs before the state write so a failed grant leaves the auction untouched
	if err := env.Coprocessor.Allow(ctx, amountHandle, params.Bidder); err != nil {
		return nil, fmt.Errorf("failed to grant bidder access to bid amount: %w", err)
	}

	// Step 4: Commit aggregate state
	auction.HighestBid = highest
	auction.BidderCount++

	bid := &Bid{
		AuctionID:    auction.ID,
		Bidder:       params.Bidder,
		Deposit:      params.Deposit,
		AmountHandle: amountHandle,
		PlacedAt:     env.Now,
	}

	log.Printf("INFO: Bid placed on auction %d by %s: deposit=%s handle=%s bidders=%d",
		auction.ID, params.Bidder, params.Deposit, amountHandle, auction.BidderCount)
	return bid, nil
}

// foldHighest returns the handle of max(current, candidate). The first bid is taken verbatim;
// afterwards the maximum is selected homomorphically so neither value is ever decrypted.
func foldHighest(ctx context.Context, cop Coprocessor, current, candidate Handle) (Handle, error) {
	if current.IsZero() {
		return candidate, nil
	}

	isHigher, err := cop.GreaterOrEqual(ctx, candidate, current)
	if err != nil {
		return Handle{}, fmt.Errorf("failed to compare bid with running maximum: %w", err)
	}

	highest, err := cop.Select(ctx, isHigher, candidate, current)
	if err != nil {
		return Handle{}, fmt.Errorf("failed to select running maximum: %w", err)
	}
	return highest, nil
}
