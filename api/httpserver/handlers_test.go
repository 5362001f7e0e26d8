package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cloudx-io/sealedauction/coprocessor"
	"github.com/cloudx-io/sealedauction/core"
	"github.com/cloudx-io/sealedauction/disclosure"
	"github.com/cloudx-io/sealedauction/enclaveapi"
	"github.com/cloudx-io/sealedauction/identity"
	"github.com/cloudx-io/sealedauction/service"
	"github.com/cloudx-io/sealedauction/store"
)

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testAPI struct {
	t      *testing.T
	server   *BaseServer
	engine   *coprocessor.Engine
	verifier *disclosure.Verifier
	clock    *testClock
}

func setupTestAPI(t *testing.T) *testAPI {
	t.Helper()

	engine, err := coprocessor.GenerateEngine()
	require.NoError(t, err)
	verifier, err := disclosure.NewVerifier(engine.Oracle().PublicKey())
	require.NoError(t, err)

	clock := &testClock{now: testStart}
	svc := service.New(store.NewInMemoryStore(), engine, verifier, clock, service.DefaultOptions())

	server, err := New(&HTTPServerConfig{
		ListenAddr: "127.0.0.1:0",
		Log:        slog.New(slog.NewTextHandler(io.Discard, nil)),
	}, NewAuctionHandler(svc, engine, "admin:secret"))
	require.NoError(t, err)

	return &testAPI{t: t, server: server, engine: engine, verifier: verifier, clock: clock}
}

func (a *testAPI) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	a.server.Handler().ServeHTTP(w, req)
	return w
}

func (a *testAPI) get(path string) *httptest.ResponseRecorder {
	return a.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (a *testAPI) post(path string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(a.t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return a.do(req)
}

func (a *testAPI) signedPost(kp *identity.KeyPair, path string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(a.t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	SignRequest(req, kp, raw)
	return a.do(req)
}

func (a *testAPI) fund(kp *identity.KeyPair, amount core.Amount) {
	a.t.Helper()
	raw, err := json.Marshal(FundRequest{Account: core.AccountOf(kp.Identity()), Amount: amount})
	require.NoError(a.t, err)
	req := httptest.NewRequest(http.MethodPost, "/admin/fund", bytes.NewReader(raw))
	req.SetBasicAuth("admin", "secret")
	w := a.do(req)
	require.Equal(a.t, http.StatusOK, w.Code, w.Body.String())
}

func decodeResponse[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(w.Body).Decode(&v))
	return v
}

func requireError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) ErrorResponse {
	t.Helper()
	require.Equal(t, status, w.Code, w.Body.String())
	resp := decodeResponse[ErrorResponse](t, w)
	require.Equal(t, code, resp.Error)
	return resp
}

func newKeyPair(t *testing.T) *identity.KeyPair {
	t.Helper()
	kp, err := identity.Generate()
	require.NoError(t, err)
	return kp
}

func TestAuctionAPI_FullFlow(t *testing.T) {
	api := setupTestAPI(t)
	authority := newKeyPair(t)
	alice := newKeyPair(t)
	bob := newKeyPair(t)
	api.fund(alice, 500)
	api.fund(bob, 500)

	w := api.signedPost(authority, "/auctions", CreateAuctionRequest{
		ID:         1,
		MinimumBid: 100,
		EndTime:    testStart.Add(time.Hour),
		Metadata:   core.Metadata{Title: "Painting", Tags: []string{"art"}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	auction := decodeResponse[core.Auction](t, w)
	require.Equal(t, authority.Identity(), auction.Authority)
	require.Equal(t, core.PhaseOpen, auction.Phase)

	// Bidders seal their amounts to the published coprocessor key.
	w = api.get("/coprocessor/key")
	require.Equal(t, http.StatusOK, w.Code)
	key := decodeResponse[enclaveapi.KeyResponse](t, w)
	sealKey, err := coprocessor.ParsePublicKeyPEM(key.PublicKey)
	require.NoError(t, err)
	seal := func(amount int64) []byte {
		sealed, err := coprocessor.SealAmount(big.NewInt(amount), sealKey)
		require.NoError(t, err)
		return sealed
	}

	w = api.signedPost(alice, "/auctions/1/bids", PlaceBidRequest{Ciphertext: seal(150), Deposit: 150})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = api.signedPost(bob, "/auctions/1/bids", PlaceBidRequest{Ciphertext: seal(200), Deposit: 200})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = api.signedPost(bob, "/auctions/1/bids", PlaceBidRequest{Ciphertext: seal(300), Deposit: 200})
	requireError(t, w, http.StatusConflict, "DuplicateBid")

	w = api.get("/auctions/1/bids")
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, decodeResponse[[]core.Bid](t, w), 2)

	w = api.signedPost(authority, "/auctions/1/close", struct{}{})
	resp := requireError(t, w, http.StatusConflict, "AuctionStillOpen")
	require.True(t, resp.Retryable)

	api.clock.Advance(time.Hour)
	w = api.signedPost(alice, "/auctions/1/close", struct{}{})
	requireError(t, w, http.StatusForbidden, "Unauthorized")
	w = api.signedPost(authority, "/auctions/1/close", struct{}{})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	path := func(kp *identity.KeyPair, action string) string {
		return fmt.Sprintf("/auctions/1/bids/%s/%s", kp.Identity(), action)
	}

	w = api.signedPost(bob, path(alice, "check"), struct{}{})
	requireError(t, w, http.StatusForbidden, "NotBidder")

	w = api.signedPost(alice, path(alice, "withdraw"), WithdrawRequest{Plaintext: []byte("0"), Proof: []byte("x")})
	resp = requireError(t, w, http.StatusConflict, "NotChecked")
	require.True(t, resp.Retryable)

	w = api.signedPost(alice, path(alice, "check"), struct{}{})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	aliceBid := decodeResponse[core.Bid](t, w)
	require.True(t, aliceBid.Checked)

	w = api.signedPost(bob, path(bob, "check"), struct{}{})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	bobBid := decodeResponse[core.Bid](t, w)

	decrypt := func(kp *identity.KeyPair, h core.Handle) ([]byte, []byte) {
		w := api.post("/coprocessor/decrypt", DecryptRequest{
			Handle:    h,
			Viewer:    kp.Identity(),
			Signature: kp.Sign(enclaveapi.DecryptChallenge(h)),
		})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		resp := decodeResponse[DecryptResponse](t, w)
		require.Equal(t, h, resp.Handle)
		return resp.Plaintext, resp.Proof
	}
	alicePlain, aliceProof := decrypt(alice, aliceBid.WinnerHandle)
	bobPlain, bobProof := decrypt(bob, bobBid.WinnerHandle)

	// Only the bid's owner is on the access list of its winner handle.
	w = api.post("/coprocessor/decrypt", DecryptRequest{
		Handle:    aliceBid.WinnerHandle,
		Viewer:    bob.Identity(),
		Signature: bob.Sign(enclaveapi.DecryptChallenge(aliceBid.WinnerHandle)),
	})
	requireError(t, w, http.StatusForbidden, "Unauthorized")

	w = api.signedPost(alice, path(alice, "withdraw"), WithdrawRequest{Plaintext: []byte("1"), Proof: aliceProof})
	requireError(t, w, http.StatusUnprocessableEntity, "InvalidProof")

	w = api.signedPost(alice, path(alice, "withdraw"), WithdrawRequest{Plaintext: alicePlain, Proof: aliceProof})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	withdrawal := decodeResponse[WithdrawResponse](t, w)
	require.False(t, withdrawal.Winner)
	require.Equal(t, core.Amount(150), withdrawal.Refunded)

	w = api.signedPost(bob, path(bob, "withdraw"), WithdrawRequest{Plaintext: bobPlain, Proof: bobProof})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.True(t, decodeResponse[WithdrawResponse](t, w).Winner)

	w = api.get("/accounts/" + string(alice.Identity()))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, core.Amount(500), decodeResponse[BalanceResponse](t, w).Balance)

	w = api.get("/accounts/" + string(core.VaultAccount(1)))
	require.Equal(t, core.Amount(200), decodeResponse[BalanceResponse](t, w).Balance)

	w = api.get("/auctions/1/settlement")
	require.Equal(t, http.StatusOK, w.Code)
	status := decodeResponse[core.SettlementStatus](t, w)
	require.True(t, status.Complete)
	require.Equal(t, 2, status.Withdrawn)
}

func TestAuctionAPI_Validation(t *testing.T) {
	api := setupTestAPI(t)
	authority := newKeyPair(t)
	alice := newKeyPair(t)
	api.fund(alice, 50)

	w := api.signedPost(authority, "/auctions", CreateAuctionRequest{ID: 2, EndTime: testStart.Add(-time.Minute)})
	requireError(t, w, http.StatusBadRequest, "InvalidSchedule")

	w = api.signedPost(authority, "/auctions", CreateAuctionRequest{ID: 2, MinimumBid: 10, EndTime: testStart.Add(time.Hour)})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = api.signedPost(authority, "/auctions", CreateAuctionRequest{ID: 2, EndTime: testStart.Add(time.Hour)})
	requireError(t, w, http.StatusConflict, "AuctionExists")

	w = api.signedPost(alice, "/auctions/2/bids", PlaceBidRequest{Ciphertext: []byte("sealed"), Deposit: 5})
	requireError(t, w, http.StatusBadRequest, "BidTooLow")

	w = api.signedPost(alice, "/auctions/2/bids", PlaceBidRequest{Ciphertext: []byte("sealed"), Deposit: 80})
	requireError(t, w, http.StatusPaymentRequired, "InsufficientFunds")

	w = api.signedPost(alice, "/auctions/2/bids", map[string]any{"deposit": "20", "unexpected": true})
	requireError(t, w, http.StatusBadRequest, "InvalidInput")

	w = api.signedPost(alice, "/auctions/abc/bids", PlaceBidRequest{Ciphertext: []byte("sealed"), Deposit: 20})
	requireError(t, w, http.StatusBadRequest, "InvalidInput")

	w = api.get("/auctions/99")
	requireError(t, w, http.StatusNotFound, "AuctionNotFound")

	w = api.get(fmt.Sprintf("/auctions/2/bids/%s", alice.Identity()))
	requireError(t, w, http.StatusNotFound, "BidNotFound")

	w = api.signedPost(alice, "/auctions/2/comments", CommentRequest{Sequence: 1, Text: "nice"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	w = api.signedPost(alice, "/auctions/2/comments", CommentRequest{Sequence: 1, Text: "again"})
	requireError(t, w, http.StatusConflict, "DuplicateComment")
	w = api.signedPost(alice, "/auctions/2/comments", CommentRequest{Sequence: 2, Text: ""})
	requireError(t, w, http.StatusBadRequest, "InvalidInput")

	w = api.get("/auctions/2/comments")
	require.Equal(t, http.StatusOK, w.Code)
	comments := decodeResponse[[]core.Comment](t, w)
	require.Len(t, comments, 1)
	require.Equal(t, alice.Identity(), comments[0].Author)
}

func TestAuctionAPI_Decrypt(t *testing.T) {
	api := setupTestAPI(t)
	viewer := newKeyPair(t)

	sealed, err := coprocessor.SealAmount(big.NewInt(42), api.engine.KeyManager().PublicKey)
	require.NoError(t, err)
	h, err := api.engine.Encrypt(context.Background(), sealed)
	require.NoError(t, err)
	challenge := enclaveapi.DecryptChallenge(h)

	w := api.post("/coprocessor/decrypt", DecryptRequest{Handle: h, Viewer: viewer.Identity(), Signature: viewer.Sign(challenge)})
	requireError(t, w, http.StatusForbidden, "Unauthorized")

	require.NoError(t, api.engine.Allow(context.Background(), h, viewer.Identity()))

	w = api.post("/coprocessor/decrypt", DecryptRequest{Handle: h, Viewer: viewer.Identity(), Signature: viewer.Sign([]byte("other"))})
	requireError(t, w, http.StatusForbidden, "Unauthorized")

	w = api.post("/coprocessor/decrypt", DecryptRequest{Handle: h, Viewer: "not-hex", Signature: viewer.Sign(challenge)})
	requireError(t, w, http.StatusBadRequest, "InvalidInput")

	var unknown core.Handle
	unknown[0] = 0xff
	w = api.post("/coprocessor/decrypt", DecryptRequest{
		Handle: unknown, Viewer: viewer.Identity(), Signature: viewer.Sign(enclaveapi.DecryptChallenge(unknown)),
	})
	requireError(t, w, http.StatusBadRequest, "InvalidInput")

	w = api.post("/coprocessor/decrypt", DecryptRequest{
		Handle:    h,
		Viewer:    core.Identity(strings.ToUpper(string(viewer.Identity()))),
		Signature: viewer.Sign(challenge),
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decodeResponse[DecryptResponse](t, w)
	require.Equal(t, "42", string(resp.Plaintext))

	ok, err := api.verifier.VerifyDecryption(context.Background(), h, resp.Plaintext, resp.Proof)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestAuctionAPI_DecimalAmounts(t *testing.T) {
	api := setupTestAPI(t)
	authority := newKeyPair(t)
	alice := newKeyPair(t)

	req := httptest.NewRequest(http.MethodPost, "/admin/fund",
		strings.NewReader(fmt.Sprintf(`{"account":%q,"amount":"2.5"}`, core.AccountOf(alice.Identity()))))
	req.SetBasicAuth("admin", "secret")
	w := api.do(req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Contains(t, w.Body.String(), `"balance":"2.5"`)

	w = api.signedPost(authority, "/auctions", map[string]any{
		"id":          7,
		"minimum_bid": "1.5",
		"end_time":    testStart.Add(time.Hour),
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.Contains(t, w.Body.String(), `"minimum_bid":"1.5"`)

	w = api.signedPost(alice, "/auctions/7/bids", map[string]any{"ciphertext": []byte("sealed"), "deposit": "1.25"})
	requireError(t, w, http.StatusBadRequest, "BidTooLow")

	w = api.signedPost(alice, "/auctions/7/bids", map[string]any{"ciphertext": []byte("sealed"), "deposit": 2})
	requireError(t, w, http.StatusBadRequest, "InvalidInput")

	sealed, err := coprocessor.SealAmount(big.NewInt(2), api.engine.KeyManager().PublicKey)
	require.NoError(t, err)
	w = api.signedPost(alice, "/auctions/7/bids", map[string]any{"ciphertext": sealed, "deposit": "2"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	bid := decodeResponse[core.Bid](t, w)
	amount, err := core.ParseAmount("2")
	require.NoError(t, err)
	require.Equal(t, amount, bid.Deposit)

	w = api.get("/accounts/" + string(alice.Identity()))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"balance":"0.5"`)
}

func TestAuctionAPI_BidderPathIsCaseInsensitive(t *testing.T) {
	api := setupTestAPI(t)
	authority := newKeyPair(t)
	alice := newKeyPair(t)
	api.fund(alice, 100)

	w := api.signedPost(authority, "/auctions", CreateAuctionRequest{ID: 8, MinimumBid: 10, EndTime: testStart.Add(time.Hour)})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	sealed, err := coprocessor.SealAmount(big.NewInt(50), api.engine.KeyManager().PublicKey)
	require.NoError(t, err)
	w = api.signedPost(alice, "/auctions/8/bids", PlaceBidRequest{Ciphertext: sealed, Deposit: 50})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	upper := strings.ToUpper(string(alice.Identity()))
	w = api.get("/auctions/8/bids/" + upper)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	api.clock.Advance(time.Hour)
	w = api.signedPost(authority, "/auctions/8/close", struct{}{})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = api.signedPost(alice, "/auctions/8/bids/"+upper+"/check", struct{}{})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.True(t, decodeResponse[core.Bid](t, w).Checked)
}

func TestAuctionAPI_Authentication(t *testing.T) {
	api := setupTestAPI(t)
	authority := newKeyPair(t)

	raw, err := json.Marshal(CreateAuctionRequest{ID: 3, EndTime: testStart.Add(time.Hour)})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/auctions", bytes.NewReader(raw))
	w := api.do(req)
	requireError(t, w, http.StatusUnauthorized, "Unauthenticated")

	// Signature over a different body.
	req = httptest.NewRequest(http.MethodPost, "/auctions", bytes.NewReader(raw))
	SignRequest(req, authority, []byte(`{"id":4}`))
	w = api.do(req)
	requireError(t, w, http.StatusUnauthorized, "Unauthenticated")

	// Signature for a different path.
	req = httptest.NewRequest(http.MethodPost, "/auctions", bytes.NewReader(raw))
	sig := authority.Sign(SigningPayload(http.MethodPost, "/auctions/3/close", raw))
	req.Header.Set(HeaderSigner, string(authority.Identity()))
	req.Header.Set(HeaderSignature, fmt.Sprintf("%x", sig))
	w = api.do(req)
	requireError(t, w, http.StatusUnauthorized, "Unauthenticated")

	req = httptest.NewRequest(http.MethodPost, "/auctions", bytes.NewReader(raw))
	req.Header.Set(HeaderSigner, "not-hex")
	req.Header.Set(HeaderSignature, "00")
	w = api.do(req)
	requireError(t, w, http.StatusUnauthorized, "Unauthenticated")

	w = api.signedPost(authority, "/auctions", CreateAuctionRequest{ID: 3, EndTime: testStart.Add(time.Hour)})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// Admin routes need basic auth.
	req = httptest.NewRequest(http.MethodPost, "/admin/fund", bytes.NewReader([]byte(`{"account":"a","amount":"1"}`)))
	w = api.do(req)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/admin/fund", bytes.NewReader([]byte(`{"account":"a","amount":"1"}`)))
	req.SetBasicAuth("admin", "wrong")
	w = api.do(req)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/admin/fund", bytes.NewReader([]byte(`{"account":"a","amount":"0"}`)))
	req.SetBasicAuth("admin", "secret")
	w = api.do(req)
	requireError(t, w, http.StatusBadRequest, "InvalidInput")
}

func TestAuctionAPI_NoAdminToken(t *testing.T) {
	engine, err := coprocessor.GenerateEngine()
	require.NoError(t, err)
	verifier, err := disclosure.NewVerifier(engine.Oracle().PublicKey())
	require.NoError(t, err)
	svc := service.New(store.NewInMemoryStore(), engine, verifier, nil, service.DefaultOptions())

	server, err := New(&HTTPServerConfig{Log: slog.New(slog.NewTextHandler(io.Discard, nil))},
		NewAuctionHandler(svc, engine, ""))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/admin/fund", bytes.NewReader([]byte(`{"account":"a","amount":"1"}`)))
	w := httptest.NewRecorder()
	server.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{core.ErrUnauthorized, http.StatusForbidden},
		{fmt.Errorf("wrapped: %w", core.ErrNotBidder), http.StatusForbidden},
		{core.ErrBidNotFound, http.StatusNotFound},
		{core.ErrInvalidMetadata, http.StatusBadRequest},
		{core.ErrInvalidProof, http.StatusUnprocessableEntity},
		{core.ErrNoFunds, http.StatusPaymentRequired},
		{core.ErrWinnerAlreadyDetermined, http.StatusConflict},
		{core.ErrAlreadyWithdrawn, http.StatusConflict},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		require.Equal(t, tc.status, StatusFor(tc.err), tc.err.Error())
	}
}
