package core

import (
	"time"
)

// Identity is the hex-encoded ed25519 public key of a participant (authority, bidder or author).
type Identity string

// Account names a balance held by the ledger. Participant identities are their own accounts;
// auction vaults use VaultAccount.
type Account string

// AccountOf returns the ledger account owned by id.
func AccountOf(id Identity) Account {
	return Account(id)
}

// Phase is the public state of an auction.
type Phase string

const (
	// PhaseOpen accepts bids until the end time.
	PhaseOpen Phase = "open"
	// PhaseClosed is terminal. Settlement only runs in this phase.
	PhaseClosed Phase = "closed"
)

// Metadata is the free-text description attached to an auction at creation.
type Metadata struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Category    string   `json:"category"`
	ImageURL    string   `json:"image_url"`
	Tags        []string `json:"tags"`
}

// Auction is one sealed-bid auction and its aggregate encrypted state.
type Auction struct {
	ID          uint64    `json:"id"`
	Authority   Identity  `json:"authority"`
	MinimumBid  Amount    `json:"minimum_bid"`
	EndTime     time.Time `json:"end_time"`
	BidderCount uint32    `json:"bidder_count"`
	Phase       Phase     `json:"phase"`

	// HighestBid is the running maximum of all bid amounts, kept under encryption.
	// The zero handle means no bid has been placed yet.
	HighestBid Handle `json:"highest_bid"`

	Vault     Account   `json:"vault"`
	Metadata  Metadata  `json:"metadata"`
	CreatedAt time.Time `json:"created_at"`
}

// IsOpen reports whether the auction still admits bids (subject to its end time).
func (a *Auction) IsOpen() bool {
	return a.Phase == PhaseOpen
}

// IsClosed reports whether the authority has closed the auction.
func (a *Auction) IsClosed() bool {
	return a.Phase == PhaseClosed
}

// Bid is a single bidder's collateralised, encrypted bid on an auction.
// At most one Bid exists per (AuctionID, Bidder).
type Bid struct {
	AuctionID uint64   `json:"auction_id"`
	Bidder    Identity `json:"bidder"`

	// Deposit is the plaintext collateral moved into the vault. It is what settlement pays out
	// or keeps; it need not equal the encrypted amount.
	Deposit Amount `json:"deposit"`

	// AmountHandle references the confidential bid amount compared against the running maximum.
	AmountHandle Handle `json:"amount_handle"`

	// WinnerHandle references the encrypted boolean amount >= highest. Zero until computed.
	WinnerHandle Handle `json:"winner_handle"`

	Checked   bool      `json:"checked"`
	Withdrawn bool      `json:"withdrawn"`
	PlacedAt  time.Time `json:"placed_at"`
}

// Comment is an immutable annotation on an auction.
type Comment struct {
	AuctionID uint64    `json:"auction_id"`
	Sequence  uint64    `json:"sequence"`
	Author    Identity  `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}
