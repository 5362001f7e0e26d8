// Package service hosts auctions: it linearises operations per auction, runs each operation in
// one store transaction and supplies the core operations with their capabilities.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/cloudx-io/sealedauction/core"
	"github.com/cloudx-io/sealedauction/store"
)

// Options tune settlement behaviour.
type Options struct {
	// ThirdPartyDetermination lets any caller run DetermineWinner for a bid.
	ThirdPartyDetermination bool
}

// DefaultOptions returns the default options.
func DefaultOptions() Options {
	return Options{ThirdPartyDetermination: true}
}

// Service is the auction host.
type Service struct {
	store       store.Store
	coprocessor core.Coprocessor
	verifier    core.DecryptionVerifier
	clock       core.Clock
	opts        Options
	locks       *keyedMutex
}

// New creates a service. A nil clock uses the system clock.
func New(st store.Store, cop core.Coprocessor, verifier core.DecryptionVerifier, clock core.Clock, opts Options) *Service {
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &Service{
		store:       st,
		coprocessor: cop,
		verifier:    verifier,
		clock:       clock,
		opts:        opts,
		locks:       newKeyedMutex(),
	}
}

// update runs fn under the auction's lock inside a single store transaction.
func (s *Service) update(ctx context.Context, auctionID uint64, fn func(tx store.Tx, env core.Env) error) error {
	unlock := s.locks.Lock(auctionID)
	defer unlock()

	return s.store.Update(ctx, func(tx store.Tx) error {
		env := core.Env{
			Ledger:      tx,
			Coprocessor: s.coprocessor,
			Verifier:    s.verifier,
			Now:         s.clock.Now(),
		}
		return fn(tx, env)
	})
}

// callerBid loads the caller's own bid, mapping a missing bid to core.ErrNotBidder.
func callerBid(ctx context.Context, tx store.Tx, auctionID uint64, bidder core.Identity) (*core.Bid, error) {
	bid, err := tx.GetBid(ctx, auctionID, bidder)
	if errors.Is(err, core.ErrBidNotFound) {
		return nil, fmt.Errorf("%w: %s has no bid on auction %d", core.ErrNotBidder, bidder, auctionID)
	}
	return bid, err
}

// CreateAuction registers a new auction.
func (s *Service) CreateAuction(ctx context.Context, params core.CreateAuctionParams) (*core.Auction, error) {
	var auction *core.Auction
	err := s.update(ctx, params.ID, func(tx store.Tx, env core.Env) error {
		var err error
		auction, err = core.CreateAuction(env.Now, params)
		if err != nil {
			return err
		}
		return tx.InsertAuction(ctx, auction)
	})
	if err != nil {
		return nil, err
	}
	return auction, nil
}

// PlaceBid submits a collateralised sealed bid.
func (s *Service) PlaceBid(ctx context.Context, auctionID uint64, params core.PlaceBidParams) (*core.Bid, error) {
	var bid *core.Bid
	err := s.update(ctx, auctionID, func(tx store.Tx, env core.Env) error {
		auction, err := tx.GetAuction(ctx, auctionID)
		if err != nil {
			return err
		}

		existing, err := tx.GetBid(ctx, auctionID, params.Bidder)
		if err != nil && !errors.Is(err, core.ErrBidNotFound) {
			return err
		}

		bid, err = core.PlaceBid(ctx, env, auction, existing, params)
		if err != nil {
			return err
		}

		if err := tx.PutBid(ctx, bid); err != nil {
			return err
		}
		return tx.UpdateAuction(ctx, auction)
	})
	if err != nil {
		log.Printf("ERROR: Bid on auction %d by %s rejected: %v", auctionID, params.Bidder, err)
		return nil, err
	}
	return bid, nil
}

// CloseAuction closes an auction on behalf of its authority.
func (s *Service) CloseAuction(ctx context.Context, auctionID uint64, by core.Identity) (*core.Auction, error) {
	var auction *core.Auction
	err := s.update(ctx, auctionID, func(tx store.Tx, env core.Env) error {
		var err error
		auction, err = tx.GetAuction(ctx, auctionID)
		if err != nil {
			return err
		}
		if err := core.CloseAuction(env.Now, auction, by); err != nil {
			return err
		}
		return tx.UpdateAuction(ctx, auction)
	})
	if err != nil {
		return nil, err
	}
	return auction, nil
}

// CheckWin computes the caller's encrypted win flag.
func (s *Service) CheckWin(ctx context.Context, auctionID uint64, caller core.Identity) (*core.Bid, error) {
	var bid *core.Bid
	err := s.update(ctx, auctionID, func(tx store.Tx, env core.Env) error {
		auction, err := tx.GetAuction(ctx, auctionID)
		if err != nil {
			return err
		}
		bid, err = callerBid(ctx, tx, auctionID, caller)
		if err != nil {
			return err
		}
		if err := core.CheckWin(ctx, env, auction, bid, caller); err != nil {
			return err
		}
		return tx.PutBid(ctx, bid)
	})
	if err != nil {
		return nil, err
	}
	return bid, nil
}

// DetermineWinner computes bidder's encrypted win flag on behalf of caller.
func (s *Service) DetermineWinner(ctx context.Context, auctionID uint64, bidder, caller core.Identity) (*core.Bid, error) {
	var bid *core.Bid
	err := s.update(ctx, auctionID, func(tx store.Tx, env core.Env) error {
		auction, err := tx.GetAuction(ctx, auctionID)
		if err != nil {
			return err
		}
		bid, err = callerBid(ctx, tx, auctionID, bidder)
		if err != nil {
			return err
		}
		opts := core.DetermineWinnerOptions{ThirdParty: s.opts.ThirdPartyDetermination}
		if err := core.DetermineWinner(ctx, env, auction, bid, caller, opts); err != nil {
			return err
		}
		return tx.PutBid(ctx, bid)
	})
	if err != nil {
		return nil, err
	}
	return bid, nil
}

// WithdrawBid settles the caller's bid from a disclosed win flag and its proof.
func (s *Service) WithdrawBid(ctx context.Context, auctionID uint64, caller core.Identity, claimedPlaintext, proof []byte) (*core.Withdrawal, error) {
	var result *core.Withdrawal
	err := s.update(ctx, auctionID, func(tx store.Tx, env core.Env) error {
		auction, err := tx.GetAuction(ctx, auctionID)
		if err != nil {
			return err
		}
		bid, err := callerBid(ctx, tx, auctionID, caller)
		if err != nil {
			return err
		}
		result, err = core.WithdrawBid(ctx, env, auction, bid, caller, claimedPlaintext, proof)
		if err != nil {
			return err
		}
		return tx.PutBid(ctx, bid)
	})
	if err != nil {
		log.Printf("ERROR: Withdrawal on auction %d by %s rejected: %v", auctionID, caller, err)
		return nil, err
	}
	return result, nil
}

// AddComment appends a comment to an auction.
func (s *Service) AddComment(ctx context.Context, auctionID uint64, author core.Identity, seq uint64, text string) (*core.Comment, error) {
	var comment *core.Comment
	err := s.update(ctx, auctionID, func(tx store.Tx, env core.Env) error {
		auction, err := tx.GetAuction(ctx, auctionID)
		if err != nil {
			return err
		}
		comment, err = core.AddComment(env.Now, auction, author, seq, text)
		if err != nil {
			return err
		}
		return tx.InsertComment(ctx, comment)
	})
	if err != nil {
		return nil, err
	}
	return comment, nil
}

// GetAuction returns an auction.
func (s *Service) GetAuction(ctx context.Context, auctionID uint64) (*core.Auction, error) {
	var auction *core.Auction
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		auction, err = tx.GetAuction(ctx, auctionID)
		return err
	})
	return auction, err
}

// GetBid returns a bid.
func (s *Service) GetBid(ctx context.Context, auctionID uint64, bidder core.Identity) (*core.Bid, error) {
	var bid *core.Bid
	err := s.store.View(ctx, func(tx store.Tx) error {
		if _, err := tx.GetAuction(ctx, auctionID); err != nil {
			return err
		}
		var err error
		bid, err = tx.GetBid(ctx, auctionID, bidder)
		return err
	})
	return bid, err
}

// ListBids returns all bids of an auction.
func (s *Service) ListBids(ctx context.Context, auctionID uint64) ([]*core.Bid, error) {
	var bids []*core.Bid
	err := s.store.View(ctx, func(tx store.Tx) error {
		if _, err := tx.GetAuction(ctx, auctionID); err != nil {
			return err
		}
		var err error
		bids, err = tx.ListBids(ctx, auctionID)
		return err
	})
	return bids, err
}

// ListComments returns the comments of an auction in sequence order.
func (s *Service) ListComments(ctx context.Context, auctionID uint64) ([]*core.Comment, error) {
	var comments []*core.Comment
	err := s.store.View(ctx, func(tx store.Tx) error {
		if _, err := tx.GetAuction(ctx, auctionID); err != nil {
			return err
		}
		var err error
		comments, err = tx.ListComments(ctx, auctionID)
		return err
	})
	return comments, err
}

// SettlementStatus reports settlement progress of an auction.
func (s *Service) SettlementStatus(ctx context.Context, auctionID uint64) (*core.SettlementStatus, error) {
	var status core.SettlementStatus
	err := s.store.View(ctx, func(tx store.Tx) error {
		auction, err := tx.GetAuction(ctx, auctionID)
		if err != nil {
			return err
		}
		bids, err := tx.ListBids(ctx, auctionID)
		if err != nil {
			return err
		}
		status = core.ComputeSettlementStatus(auction, bids)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// Balance returns the ledger balance of an account.
func (s *Service) Balance(ctx context.Context, account core.Account) (core.Amount, error) {
	var balance core.Amount
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		balance, err = tx.Balance(ctx, account)
		return err
	})
	return balance, err
}

// Fund credits an account with newly issued collateral.
func (s *Service) Fund(ctx context.Context, account core.Account, amount core.Amount) (core.Amount, error) {
	var balance core.Amount
	err := s.store.Update(ctx, func(tx store.Tx) error {
		if err := tx.Credit(ctx, account, amount); err != nil {
			return err
		}
		var err error
		balance, err = tx.Balance(ctx, account)
		return err
	})
	if err != nil {
		return 0, err
	}
	log.Printf("INFO: Funded %s with %s", account, amount)
	return balance, nil
}
