package core

import (
	"fmt"
	"log"
	"time"
)

// CreateAuctionParams are the caller-chosen attributes of a new auction.
type CreateAuctionParams struct {
	ID         uint64
	Authority  Identity
	MinimumBid Amount
	EndTime    time.Time
	Metadata   Metadata
}

// CreateAuction validates params and returns a new open auction with no bids.
func CreateAuction(now time.Time, params CreateAuctionParams) (*Auction, error) {
	if params.Authority == "" {
		return nil, fmt.Errorf("%w: missing authority", ErrUnauthorized)
	}
	if !params.EndTime.After(now) {
		return nil, fmt.Errorf("%w: end time %s is not after %s",
			ErrInvalidSchedule, params.EndTime.UTC().Format(time.RFC3339), now.UTC().Format(time.RFC3339))
	}
	if err := params.Metadata.Validate(); err != nil {
		return nil, err
	}

	tags := make([]string, len(params.Metadata.Tags))
	copy(tags, params.Metadata.Tags)
	metadata := params.Metadata
	metadata.Tags = tags

	auction := &Auction{
		ID:          params.ID,
		Authority:   params.Authority,
		MinimumBid:  params.MinimumBid,
		EndTime:     params.EndTime,
		BidderCount: 0,
		Phase:       PhaseOpen,
		Vault:       VaultAccount(params.ID),
		Metadata:    metadata,
		CreatedAt:   now,
	}

	log.Printf("INFO: Auction %d created: title=%q minimum_bid=%s end_time=%s",
		auction.ID, metadata.Title, auction.MinimumBid, auction.EndTime.UTC().Format(time.RFC3339))
	return auction, nil
}

// CloseAuction moves an open auction past its end time into the closed phase.
// Only the creating authority may close, and only once at least one bid exists.
func CloseAuction(now time.Time, auction *Auction, by Identity) error {
	if by != auction.Authority {
		return fmt.Errorf("%w: %s is not the authority of auction %d", ErrUnauthorized, by, auction.ID)
	}
	if auction.IsClosed() {
		return fmt.Errorf("%w: auction %d", ErrAuctionAlreadyClosed, auction.ID)
	}
	if now.Before(auction.EndTime) {
		return fmt.Errorf("%w: auction %d ends at %s", ErrAuctionStillOpen, auction.ID,
			auction.EndTime.UTC().Format(time.RFC3339))
	}
	if auction.BidderCount == 0 {
		return fmt.Errorf("%w: auction %d", ErrNoBidders, auction.ID)
	}

	auction.Phase = PhaseClosed

	log.Printf("INFO: Auction %d closed with %d bidders", auction.ID, auction.BidderCount)
	return nil
}
