// Package store persists auctions, bids and comments and holds the collateral ledger.
//
// Every auction operation runs inside exactly one Update transaction. Ledger transfers made
// through the transaction are committed together with the state changes or discarded with them.
package store

import (
	"context"
	"errors"

	"github.com/cloudx-io/sealedauction/core"
)

// ErrBalanceOverflow is returned when a credit would exceed the largest representable amount.
var ErrBalanceOverflow = errors.New("balance overflow")

// Tx is a transactional view of the store. Transfer implements core.Ledger.
type Tx interface {
	core.Ledger

	// GetAuction returns a copy of the auction, or core.ErrAuctionNotFound.
	GetAuction(ctx context.Context, id uint64) (*core.Auction, error)
	// InsertAuction stores a new auction, or fails with core.ErrAuctionExists.
	InsertAuction(ctx context.Context, auction *core.Auction) error
	// UpdateAuction overwrites an existing auction.
	UpdateAuction(ctx context.Context, auction *core.Auction) error

	// GetBid returns a copy of the bid, or core.ErrBidNotFound.
	GetBid(ctx context.Context, auctionID uint64, bidder core.Identity) (*core.Bid, error)
	// PutBid inserts or overwrites a bid.
	PutBid(ctx context.Context, bid *core.Bid) error
	// ListBids returns the bids of an auction ordered by placement time.
	ListBids(ctx context.Context, auctionID uint64) ([]*core.Bid, error)

	// InsertComment appends a comment, or fails with core.ErrDuplicateComment.
	InsertComment(ctx context.Context, comment *core.Comment) error
	// ListComments returns the comments of an auction ordered by sequence.
	ListComments(ctx context.Context, auctionID uint64) ([]*core.Comment, error)

	// Balance returns the ledger balance of an account. Unknown accounts hold zero.
	Balance(ctx context.Context, account core.Account) (core.Amount, error)
	// Credit adds newly issued funds to an account.
	Credit(ctx context.Context, account core.Account, amount core.Amount) error
}

// Store runs transactions.
type Store interface {
	// Update runs fn in a read-write transaction. If fn returns an error nothing is committed.
	Update(ctx context.Context, fn func(tx Tx) error) error
	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(tx Tx) error) error
	Close() error
}

func cloneAuction(a *core.Auction) *core.Auction {
	c := *a
	if a.Metadata.Tags != nil {
		c.Metadata.Tags = append([]string(nil), a.Metadata.Tags...)
	}
	return &c
}

func cloneBid(b *core.Bid) *core.Bid {
	c := *b
	return &c
}

func cloneComment(c *core.Comment) *core.Comment {
	cc := *c
	return &cc
}
