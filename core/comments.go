package core

import (
	"fmt"
	"log"
	"time"
)

// MaxCommentLength bounds a comment's text in bytes.
const MaxCommentLength = 500

// AddComment validates text and builds the comment (auction, seq). Uniqueness of seq is
// enforced by the store.
func AddComment(now time.Time, auction *Auction, author Identity, seq uint64, text string) (*Comment, error) {
	if author == "" {
		return nil, fmt.Errorf("%w: missing author", ErrInvalidInput)
	}
	if len(text) == 0 {
		return nil, fmt.Errorf("%w: empty comment", ErrInvalidInput)
	}
	if len(text) > MaxCommentLength {
		return nil, fmt.Errorf("%w: comment exceeds %d bytes", ErrInvalidInput, MaxCommentLength)
	}

	comment := &Comment{
		AuctionID: auction.ID,
		Sequence:  seq,
		Author:    author,
		Text:      text,
		CreatedAt: now,
	}

	log.Printf("INFO: Comment %d added to auction %d", seq, auction.ID)
	return comment, nil
}
