package core

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"
)

// fakeCoprocessor keeps plaintexts in the clear behind handles. Ciphertexts are the decimal
// amount as text.
type fakeCoprocessor struct {
	mu      sync.Mutex
	next    uint64
	values  map[Handle]*big.Int
	allowed map[Handle]map[Identity]bool

	failEncrypt bool
	failAllow   bool
	calls       int
}

func newFakeCoprocessor() *fakeCoprocessor {
	return &fakeCoprocessor{
		values:  make(map[Handle]*big.Int),
		allowed: make(map[Handle]map[Identity]bool),
	}
}

func (f *fakeCoprocessor) mint(v *big.Int) Handle {
	f.next++
	var h Handle
	binary.BigEndian.PutUint64(h[8:], f.next)
	f.values[h] = v
	return h
}

func (f *fakeCoprocessor) Encrypt(_ context.Context, ciphertext []byte) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failEncrypt {
		return Handle{}, errors.New("coprocessor unavailable")
	}
	v, ok := new(big.Int).SetString(string(ciphertext), 10)
	if !ok {
		return Handle{}, fmt.Errorf("bad ciphertext %q", ciphertext)
	}
	return f.mint(v), nil
}

func (f *fakeCoprocessor) GreaterOrEqual(_ context.Context, a, b Handle) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	va, okA := f.values[a]
	vb, okB := f.values[b]
	if !okA || !okB {
		return Handle{}, errors.New("unknown handle")
	}
	if va.Cmp(vb) >= 0 {
		return f.mint(big.NewInt(1)), nil
	}
	return f.mint(big.NewInt(0)), nil
}

func (f *fakeCoprocessor) Select(_ context.Context, cond, a, b Handle) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	vc, ok := f.values[cond]
	if !ok {
		return Handle{}, errors.New("unknown handle")
	}
	if vc.Sign() != 0 {
		return f.mint(f.values[a]), nil
	}
	return f.mint(f.values[b]), nil
}

func (f *fakeCoprocessor) Allow(_ context.Context, h Handle, viewer Identity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failAllow {
		return errors.New("acl write failed")
	}
	if f.allowed[h] == nil {
		f.allowed[h] = make(map[Identity]bool)
	}
	f.allowed[h][viewer] = true
	return nil
}

func (f *fakeCoprocessor) reveal(h Handle) *big.Int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values[h]
}

func (f *fakeCoprocessor) isAllowed(h Handle, viewer Identity) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.allowed[h][viewer]
}

// plaintext renders the handle value the way an oracle would disclose a boolean.
func (f *fakeCoprocessor) plaintext(h Handle) []byte {
	return []byte(f.reveal(h).String())
}

type fakeLedger struct {
	balances map[Account]Amount
}

func newFakeLedger(funds map[Account]Amount) *fakeLedger {
	balances := make(map[Account]Amount)
	for k, v := range funds {
		balances[k] = v
	}
	return &fakeLedger{balances: balances}
}

func (l *fakeLedger) Transfer(_ context.Context, from, to Account, amount Amount) error {
	if l.balances[from] < amount {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientFunds, from, l.balances[from], amount)
	}
	l.balances[from] -= amount
	l.balances[to] += amount
	return nil
}

// fakeVerifier accepts a proof that equals "ok:" + handle + ":" + plaintext.
type fakeVerifier struct{}

func fakeProof(h Handle, plaintext []byte) []byte {
	return []byte("ok:" + h.String() + ":" + string(plaintext))
}

func (fakeVerifier) VerifyDecryption(_ context.Context, h Handle, plaintext, proof []byte) (bool, error) {
	return bytes.Equal(proof, fakeProof(h, plaintext)), nil
}

var (
	testStart     = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	testEnd       = testStart.Add(time.Hour)
	testAuthority = Identity("authority")
	alice         = Identity("alice")
	bob           = Identity("bob")
	carol         = Identity("carol")
)

type testHarness struct {
	cop     *fakeCoprocessor
	ledger  *fakeLedger
	auction *Auction
	bids    map[Identity]*Bid
}

func newHarness(minimum Amount, funds map[Account]Amount) *testHarness {
	auction, err := CreateAuction(testStart, CreateAuctionParams{
		ID:         7,
		Authority:  testAuthority,
		MinimumBid: minimum,
		EndTime:    testEnd,
		Metadata:   Metadata{Title: "Lot 7"},
	})
	if err != nil {
		panic(err)
	}
	return &testHarness{
		cop:     newFakeCoprocessor(),
		ledger:  newFakeLedger(funds),
		auction: auction,
		bids:    make(map[Identity]*Bid),
	}
}

func (h *testHarness) env(now time.Time) Env {
	return Env{Ledger: h.ledger, Coprocessor: h.cop, Verifier: fakeVerifier{}, Now: now}
}

func (h *testHarness) bid(bidder Identity, amount string, deposit Amount) error {
	bid, err := PlaceBid(context.Background(), h.env(testStart), h.auction, h.bids[bidder], PlaceBidParams{
		Bidder:     bidder,
		Ciphertext: []byte(amount),
		Deposit:    deposit,
	})
	if err != nil {
		return err
	}
	h.bids[bidder] = bid
	return nil
}

func (h *testHarness) close() error {
	return CloseAuction(testEnd, h.auction, testAuthority)
}
