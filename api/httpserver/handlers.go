package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cloudx-io/sealedauction/coprocessor"
	"github.com/cloudx-io/sealedauction/core"
	"github.com/cloudx-io/sealedauction/enclaveapi"
	"github.com/cloudx-io/sealedauction/identity"
	"github.com/cloudx-io/sealedauction/service"
)

// Coprocessor is the part of the coprocessor exposed to clients: the attested key bidders
// seal their amounts to, and plaintext release to viewers on the handle's access list.
type Coprocessor interface {
	KeyResponse() (*enclaveapi.KeyResponse, error)
	Decrypt(ctx context.Context, h core.Handle, viewer core.Identity, signature []byte) ([]byte, []byte, error)
}

// AuctionHandler serves the auction API.
type AuctionHandler struct {
	svc        *service.Service
	cop        Coprocessor
	adminToken string
}

// NewAuctionHandler creates the handler. Admin routes are only registered when adminToken
// ("user:pass") is set.
func NewAuctionHandler(svc *service.Service, cop Coprocessor, adminToken string) *AuctionHandler {
	return &AuctionHandler{svc: svc, cop: cop, adminToken: adminToken}
}

// RegisterRoutes registers the auction routes.
func (h *AuctionHandler) RegisterRoutes(r chi.Router) {
	r.Get("/coprocessor/key", h.handleCoprocessorKey)
	r.Post("/coprocessor/decrypt", h.handleDecrypt)
	r.Get("/accounts/{account}", h.handleGetBalance)

	r.Route("/auctions", func(r chi.Router) {
		r.With(requireSigner).Post("/", h.handleCreateAuction)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.handleGetAuction)
			r.Get("/bids", h.handleListBids)
			r.Get("/bids/{bidder}", h.handleGetBid)
			r.Get("/comments", h.handleListComments)
			r.Get("/settlement", h.handleSettlement)

			r.Group(func(r chi.Router) {
				r.Use(requireSigner)
				r.Post("/close", h.handleCloseAuction)
				r.Post("/bids", h.handlePlaceBid)
				r.Post("/bids/{bidder}/check", h.handleCheckWin)
				r.Post("/bids/{bidder}/determine", h.handleDetermineWinner)
				r.Post("/bids/{bidder}/withdraw", h.handleWithdrawBid)
				r.Post("/comments", h.handleAddComment)
			})
		})
	})

	if h.adminToken != "" {
		r.With(basicAuth(h.adminToken)).Post("/admin/fund", h.handleFund)
	}
}

// CreateAuctionRequest is the body of POST /auctions. The signer becomes the authority.
type CreateAuctionRequest struct {
	ID         uint64        `json:"id"`
	MinimumBid core.Amount   `json:"minimum_bid"`
	EndTime    time.Time     `json:"end_time"`
	Metadata   core.Metadata `json:"metadata"`
}

// PlaceBidRequest is the body of POST /auctions/{id}/bids. The signer is the bidder.
type PlaceBidRequest struct {
	Ciphertext []byte      `json:"ciphertext"`
	Deposit    core.Amount `json:"deposit"`
}

// DecryptRequest is the body of POST /coprocessor/decrypt. Signature is the viewer's
// signature over enclaveapi.DecryptChallenge(Handle).
type DecryptRequest struct {
	Handle    core.Handle   `json:"handle"`
	Viewer    core.Identity `json:"viewer"`
	Signature []byte        `json:"signature"`
}

// DecryptResponse carries a released plaintext and its disclosure proof.
type DecryptResponse struct {
	Handle    core.Handle `json:"handle"`
	Plaintext []byte      `json:"plaintext"`
	Proof     []byte      `json:"proof"`
}

// WithdrawRequest is the body of POST /auctions/{id}/bids/{bidder}/withdraw.
type WithdrawRequest struct {
	Plaintext []byte `json:"plaintext"`
	Proof     []byte `json:"proof"`
}

// WithdrawResponse reports a settled bid.
type WithdrawResponse struct {
	Winner   bool        `json:"winner"`
	Refunded core.Amount `json:"refunded"`
}

// CommentRequest is the body of POST /auctions/{id}/comments. The signer is the author.
type CommentRequest struct {
	Sequence uint64 `json:"sequence"`
	Text     string `json:"text"`
}

// FundRequest is the body of POST /admin/fund.
type FundRequest struct {
	Account core.Account `json:"account"`
	Amount  core.Amount  `json:"amount"`
}

// BalanceResponse reports an account balance.
type BalanceResponse struct {
	Account core.Account `json:"account"`
	Balance core.Amount  `json:"balance"`
}

func auctionID(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: auction id %q", core.ErrInvalidInput, chi.URLParam(r, "id"))
	}
	return id, nil
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", core.ErrInvalidInput, err)
	}
	return nil
}

// callerIsBidder rejects settlement calls on someone else's bid.
func callerIsBidder(r *http.Request) (core.Identity, error) {
	caller := core.Identity(strings.ToLower(string(callerFrom(r.Context()))))
	bidder := bidderParam(r)
	if caller != bidder {
		return "", fmt.Errorf("%w: %s cannot act on the bid of %s", core.ErrNotBidder, caller, bidder)
	}
	return caller, nil
}

func bidderParam(r *http.Request) core.Identity {
	return core.Identity(strings.ToLower(chi.URLParam(r, "bidder")))
}

// decryptError maps coprocessor refusals onto auction errors.
func decryptError(err error) error {
	switch {
	case errors.Is(err, coprocessor.ErrNotAllowed), errors.Is(err, identity.ErrBadSignature):
		return fmt.Errorf("%w: %v", core.ErrUnauthorized, err)
	case errors.Is(err, coprocessor.ErrUnknownHandle), errors.Is(err, coprocessor.ErrTypeMismatch):
		return fmt.Errorf("%w: %v", core.ErrInvalidInput, err)
	}
	return err
}

func (h *AuctionHandler) handleCoprocessorKey(w http.ResponseWriter, r *http.Request) {
	resp, err := h.cop.KeyResponse()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *AuctionHandler) handleDecrypt(w http.ResponseWriter, r *http.Request) {
	var req DecryptRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	viewer := core.Identity(strings.ToLower(string(req.Viewer)))
	if _, err := identity.PublicKey(viewer); err != nil {
		writeError(w, fmt.Errorf("%w: viewer: %v", core.ErrInvalidInput, err))
		return
	}

	plaintext, proof, err := h.cop.Decrypt(r.Context(), req.Handle, viewer, req.Signature)
	if err != nil {
		writeError(w, decryptError(err))
		return
	}
	writeJSON(w, http.StatusOK, DecryptResponse{Handle: req.Handle, Plaintext: plaintext, Proof: proof})
}

func (h *AuctionHandler) handleCreateAuction(w http.ResponseWriter, r *http.Request) {
	var req CreateAuctionRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	auction, err := h.svc.CreateAuction(r.Context(), core.CreateAuctionParams{
		ID:         req.ID,
		Authority:  callerFrom(r.Context()),
		MinimumBid: req.MinimumBid,
		EndTime:    req.EndTime,
		Metadata:   req.Metadata,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, auction)
}

func (h *AuctionHandler) handleGetAuction(w http.ResponseWriter, r *http.Request) {
	id, err := auctionID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	auction, err := h.svc.GetAuction(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, auction)
}

func (h *AuctionHandler) handleCloseAuction(w http.ResponseWriter, r *http.Request) {
	id, err := auctionID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	auction, err := h.svc.CloseAuction(r.Context(), id, callerFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, auction)
}

func (h *AuctionHandler) handlePlaceBid(w http.ResponseWriter, r *http.Request) {
	id, err := auctionID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req PlaceBidRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	bid, err := h.svc.PlaceBid(r.Context(), id, core.PlaceBidParams{
		Bidder:     callerFrom(r.Context()),
		Ciphertext: req.Ciphertext,
		Deposit:    req.Deposit,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bid)
}

func (h *AuctionHandler) handleListBids(w http.ResponseWriter, r *http.Request) {
	id, err := auctionID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	bids, err := h.svc.ListBids(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bids)
}

func (h *AuctionHandler) handleGetBid(w http.ResponseWriter, r *http.Request) {
	id, err := auctionID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	bid, err := h.svc.GetBid(r.Context(), id, bidderParam(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bid)
}

func (h *AuctionHandler) handleCheckWin(w http.ResponseWriter, r *http.Request) {
	id, err := auctionID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	caller, err := callerIsBidder(r)
	if err != nil {
		writeError(w, err)
		return
	}
	bid, err := h.svc.CheckWin(r.Context(), id, caller)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bid)
}

func (h *AuctionHandler) handleDetermineWinner(w http.ResponseWriter, r *http.Request) {
	id, err := auctionID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	bid, err := h.svc.DetermineWinner(r.Context(), id, bidderParam(r), callerFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bid)
}

func (h *AuctionHandler) handleWithdrawBid(w http.ResponseWriter, r *http.Request) {
	id, err := auctionID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	caller, err := callerIsBidder(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req WithdrawRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	result, err := h.svc.WithdrawBid(r.Context(), id, caller, req.Plaintext, req.Proof)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, WithdrawResponse{Winner: result.Winner, Refunded: result.Refunded})
}

func (h *AuctionHandler) handleAddComment(w http.ResponseWriter, r *http.Request) {
	id, err := auctionID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req CommentRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}

	comment, err := h.svc.AddComment(r.Context(), id, callerFrom(r.Context()), req.Sequence, req.Text)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, comment)
}

func (h *AuctionHandler) handleListComments(w http.ResponseWriter, r *http.Request) {
	id, err := auctionID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	comments, err := h.svc.ListComments(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, comments)
}

func (h *AuctionHandler) handleSettlement(w http.ResponseWriter, r *http.Request) {
	id, err := auctionID(r)
	if err != nil {
		writeError(w, err)
		return
	}
	status, err := h.svc.SettlementStatus(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *AuctionHandler) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	account := core.Account(chi.URLParam(r, "account"))
	balance, err := h.svc.Balance(r.Context(), account)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{Account: account, Balance: balance})
}

func (h *AuctionHandler) handleFund(w http.ResponseWriter, r *http.Request) {
	var req FundRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Account == "" || req.Amount == 0 {
		writeError(w, fmt.Errorf("%w: account and a positive amount are required", core.ErrInvalidInput))
		return
	}

	balance, err := h.svc.Fund(r.Context(), req.Account, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceResponse{Account: req.Account, Balance: balance})
}
