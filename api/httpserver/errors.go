package httpserver

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/cloudx-io/sealedauction/core"
)

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

var errorStatuses = []struct {
	errs   []error
	status int
}{
	{[]error{core.ErrUnauthorized, core.ErrNotBidder}, http.StatusForbidden},
	{[]error{core.ErrAuctionNotFound, core.ErrBidNotFound}, http.StatusNotFound},
	{[]error{core.ErrInvalidInput, core.ErrInvalidSchedule, core.ErrInvalidMetadata, core.ErrBidTooLow}, http.StatusBadRequest},
	{[]error{core.ErrInvalidProof}, http.StatusUnprocessableEntity},
	{[]error{core.ErrInsufficientFunds, core.ErrNoFunds}, http.StatusPaymentRequired},
	{[]error{
		core.ErrAuctionClosed, core.ErrAuctionStillOpen, core.ErrAuctionEnded, core.ErrAuctionAlreadyClosed,
		core.ErrNoBidders, core.ErrDuplicateBid, core.ErrAlreadyChecked, core.ErrNotChecked,
		core.ErrAlreadyWithdrawn, core.ErrWinnerAlreadyDetermined, core.ErrAuctionExists,
		core.ErrDuplicateComment,
	}, http.StatusConflict},
}

// StatusFor maps an auction error to its HTTP status. Unknown errors are internal.
func StatusFor(err error) int {
	for _, entry := range errorStatuses {
		for _, e := range entry.errs {
			if errors.Is(err, e) {
				return entry.status
			}
		}
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("ERROR: Failed to encode response: %v", err)
	}
}

func writeStatus(w http.ResponseWriter, status int, text string) {
	writeJSON(w, status, map[string]string{"status": text})
}

func writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		log.Printf("ERROR: Request failed: %v", err)
		message = "internal error"
	}
	writeJSON(w, status, ErrorResponse{
		Error:     core.Code(err),
		Message:   message,
		Retryable: core.Retryable(err),
	})
}

func writeRequestError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: code, Message: message})
}
