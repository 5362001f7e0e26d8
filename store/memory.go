package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cloudx-io/sealedauction/core"
)

var errReadOnly = errors.New("read-only transaction")

type commentKey struct {
	auctionID uint64
	seq       uint64
}

// InMemoryStore implements Store without a database, for development and tests.
//
// Transactions stage writes in an overlay and apply them on commit. Balance changes are kept as
// deltas and re-checked at commit so concurrent transactions on different auctions never lose
// or overdraw funds.
type InMemoryStore struct {
	mu       sync.RWMutex
	auctions map[uint64]*core.Auction
	bids     map[string]*core.Bid // keyed by core.ComputeBidKey
	comments map[commentKey]*core.Comment
	balances map[core.Account]core.Amount
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		auctions: make(map[uint64]*core.Auction),
		bids:     make(map[string]*core.Bid),
		comments: make(map[commentKey]*core.Comment),
		balances: make(map[core.Account]core.Amount),
	}
}

// Update runs fn and commits its writes if it succeeds.
func (s *InMemoryStore) Update(_ context.Context, fn func(tx Tx) error) error {
	tx := newMemTx(s, false)
	if err := fn(tx); err != nil {
		return err
	}
	return s.commit(tx)
}

// View runs fn against the current state.
func (s *InMemoryStore) View(_ context.Context, fn func(tx Tx) error) error {
	return fn(newMemTx(s, true))
}

// Close is a no-op.
func (s *InMemoryStore) Close() error {
	return nil
}

func (s *InMemoryStore) commit(tx *memTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range tx.newAuctions {
		if _, exists := s.auctions[id]; exists {
			return fmt.Errorf("%w: %d", core.ErrAuctionExists, id)
		}
	}
	for key := range tx.comments {
		if _, exists := s.comments[key]; exists {
			return fmt.Errorf("%w: auction %d sequence %d", core.ErrDuplicateComment, key.auctionID, key.seq)
		}
	}

	final := make(map[core.Account]core.Amount, len(tx.deltas))
	for account, delta := range tx.deltas {
		next, err := applyDelta(s.balances[account], delta)
		if err != nil {
			return fmt.Errorf("%w: account %s", err, account)
		}
		final[account] = next
	}

	for id, auction := range tx.auctions {
		s.auctions[id] = auction
	}
	for key, bid := range tx.bids {
		s.bids[key] = bid
	}
	for key, comment := range tx.comments {
		s.comments[key] = comment
	}
	for account, balance := range final {
		s.balances[account] = balance
	}
	return nil
}

// delta is a signed balance change. Amounts are at most 64 bits so the magnitude fits in a
// uint64 together with a sign.
type delta struct {
	credit core.Amount
	debit  core.Amount
}

func applyDelta(balance core.Amount, d delta) (core.Amount, error) {
	if d.credit > ^core.Amount(0)-balance {
		return 0, ErrBalanceOverflow
	}
	balance += d.credit
	if balance < d.debit {
		return 0, core.ErrInsufficientFunds
	}
	return balance - d.debit, nil
}

var (
	_ Store = (*InMemoryStore)(nil)
	_ Tx    = (*memTx)(nil)
)

type memTx struct {
	store    *InMemoryStore
	readOnly bool

	auctions    map[uint64]*core.Auction
	newAuctions map[uint64]struct{}
	bids        map[string]*core.Bid
	comments    map[commentKey]*core.Comment
	deltas      map[core.Account]delta
}

func newMemTx(s *InMemoryStore, readOnly bool) *memTx {
	return &memTx{
		store:       s,
		readOnly:    readOnly,
		auctions:    make(map[uint64]*core.Auction),
		newAuctions: make(map[uint64]struct{}),
		bids:        make(map[string]*core.Bid),
		comments:    make(map[commentKey]*core.Comment),
		deltas:      make(map[core.Account]delta),
	}
}

func (tx *memTx) GetAuction(_ context.Context, id uint64) (*core.Auction, error) {
	if a, ok := tx.auctions[id]; ok {
		return cloneAuction(a), nil
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	a, ok := tx.store.auctions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", core.ErrAuctionNotFound, id)
	}
	return cloneAuction(a), nil
}

func (tx *memTx) InsertAuction(ctx context.Context, auction *core.Auction) error {
	if tx.readOnly {
		return errReadOnly
	}
	if _, err := tx.GetAuction(ctx, auction.ID); err == nil {
		return fmt.Errorf("%w: %d", core.ErrAuctionExists, auction.ID)
	}
	tx.auctions[auction.ID] = cloneAuction(auction)
	tx.newAuctions[auction.ID] = struct{}{}
	return nil
}

func (tx *memTx) UpdateAuction(ctx context.Context, auction *core.Auction) error {
	if tx.readOnly {
		return errReadOnly
	}
	if _, err := tx.GetAuction(ctx, auction.ID); err != nil {
		return err
	}
	tx.auctions[auction.ID] = cloneAuction(auction)
	return nil
}

func (tx *memTx) GetBid(_ context.Context, auctionID uint64, bidder core.Identity) (*core.Bid, error) {
	key := core.ComputeBidKey(auctionID, bidder)
	if b, ok := tx.bids[key]; ok {
		return cloneBid(b), nil
	}
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	b, ok := tx.store.bids[key]
	if !ok {
		return nil, fmt.Errorf("%w: auction %d bidder %s", core.ErrBidNotFound, auctionID, bidder)
	}
	return cloneBid(b), nil
}

func (tx *memTx) PutBid(_ context.Context, bid *core.Bid) error {
	if tx.readOnly {
		return errReadOnly
	}
	tx.bids[core.ComputeBidKey(bid.AuctionID, bid.Bidder)] = cloneBid(bid)
	return nil
}

func (tx *memTx) ListBids(_ context.Context, auctionID uint64) ([]*core.Bid, error) {
	merged := make(map[core.Identity]*core.Bid)

	tx.store.mu.RLock()
	for _, b := range tx.store.bids {
		if b.AuctionID == auctionID {
			merged[b.Bidder] = b
		}
	}
	tx.store.mu.RUnlock()

	for _, b := range tx.bids {
		if b.AuctionID == auctionID {
			merged[b.Bidder] = b
		}
	}

	bids := make([]*core.Bid, 0, len(merged))
	for _, b := range merged {
		bids = append(bids, cloneBid(b))
	}
	sort.Slice(bids, func(i, j int) bool {
		if !bids[i].PlacedAt.Equal(bids[j].PlacedAt) {
			return bids[i].PlacedAt.Before(bids[j].PlacedAt)
		}
		return bids[i].Bidder < bids[j].Bidder
	})
	return bids, nil
}

func (tx *memTx) InsertComment(_ context.Context, comment *core.Comment) error {
	if tx.readOnly {
		return errReadOnly
	}
	key := commentKey{comment.AuctionID, comment.Sequence}
	if _, ok := tx.comments[key]; ok {
		return fmt.Errorf("%w: auction %d sequence %d", core.ErrDuplicateComment, key.auctionID, key.seq)
	}
	tx.store.mu.RLock()
	_, exists := tx.store.comments[key]
	tx.store.mu.RUnlock()
	if exists {
		return fmt.Errorf("%w: auction %d sequence %d", core.ErrDuplicateComment, key.auctionID, key.seq)
	}
	tx.comments[key] = cloneComment(comment)
	return nil
}

func (tx *memTx) ListComments(_ context.Context, auctionID uint64) ([]*core.Comment, error) {
	var comments []*core.Comment

	tx.store.mu.RLock()
	for key, c := range tx.store.comments {
		if key.auctionID == auctionID {
			comments = append(comments, cloneComment(c))
		}
	}
	tx.store.mu.RUnlock()

	for key, c := range tx.comments {
		if key.auctionID == auctionID {
			comments = append(comments, cloneComment(c))
		}
	}

	sort.Slice(comments, func(i, j int) bool {
		return comments[i].Sequence < comments[j].Sequence
	})
	return comments, nil
}

func (tx *memTx) Balance(_ context.Context, account core.Account) (core.Amount, error) {
	tx.store.mu.RLock()
	base := tx.store.balances[account]
	tx.store.mu.RUnlock()

	return applyDelta(base, tx.deltas[account])
}

func (tx *memTx) Credit(ctx context.Context, account core.Account, amount core.Amount) error {
	if tx.readOnly {
		return errReadOnly
	}
	d := tx.deltas[account]
	d.credit += amount
	if d.credit < amount {
		return ErrBalanceOverflow
	}
	if _, err := applyDelta(tx.baseBalance(account), d); errors.Is(err, ErrBalanceOverflow) {
		return fmt.Errorf("%w: account %s", err, account)
	}
	tx.deltas[account] = d
	return nil
}

func (tx *memTx) Transfer(ctx context.Context, from, to core.Account, amount core.Amount) error {
	if tx.readOnly {
		return errReadOnly
	}
	if amount == 0 || from == to {
		return nil
	}

	balance, err := tx.Balance(ctx, from)
	if err != nil {
		return err
	}
	if balance < amount {
		return fmt.Errorf("%w: %s holds %s, needs %s", core.ErrInsufficientFunds, from, balance, amount)
	}

	d := tx.deltas[from]
	d.debit += amount
	tx.deltas[from] = d

	return tx.Credit(ctx, to, amount)
}

func (tx *memTx) baseBalance(account core.Account) core.Amount {
	tx.store.mu.RLock()
	defer tx.store.mu.RUnlock()
	return tx.store.balances[account]
}
