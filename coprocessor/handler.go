package coprocessor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/cloudx-io/sealedauction/enclaveapi"
	"github.com/cloudx-io/sealedauction/identity"
)

// KeyResponder answers key requests, attaching attestation where available.
type KeyResponder interface {
	KeyResponse() (*enclaveapi.KeyResponse, error)
}

// Handler serves the coprocessor wire protocol for an Engine.
// Each connection carries exactly one JSON request and one JSON response.
type Handler struct {
	engine      *Engine
	keys        KeyResponder
	readTimeout time.Duration
}

// NewHandler creates a handler. When keys is nil the engine's unattested keys are served.
func NewHandler(engine *Engine, keys KeyResponder) *Handler {
	if keys == nil {
		keys = engine
	}
	return &Handler{engine: engine, keys: keys, readTimeout: 30 * time.Second}
}

// ServeConn reads one request from conn, answers it and closes conn.
func (h *Handler) ServeConn(ctx context.Context, conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: Panic recovered in handleConnection: %v", r)
		}
		if err := conn.Close(); err != nil {
			log.Printf("ERROR: Failed to close connection: %v", err)
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(h.readTimeout))

	var req enclaveapi.CoprocessorRequest
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		log.Printf("ERROR: Failed to decode request: %v", err)
		return
	}

	log.Printf("INFO: Received request type: %s", req.Type)

	response := h.Handle(ctx, &req)

	if err := json.NewEncoder(conn).Encode(response); err != nil {
		log.Printf("ERROR: Failed to encode response: %v", err)
	}
}

// Handle dispatches a decoded request. The returned value is JSON-encoded as the response.
func (h *Handler) Handle(ctx context.Context, req *enclaveapi.CoprocessorRequest) any {
	switch req.Type {
	case enclaveapi.RequestTypePing:
		return map[string]any{
			"type":      enclaveapi.ResponseTypePong,
			"message":   "coprocessor is healthy",
			"timestamp": time.Now().Unix(),
		}

	case enclaveapi.RequestTypeKey:
		keyResp, err := h.keys.KeyResponse()
		if err != nil {
			log.Printf("ERROR: Key request failed: %v", err)
			return errorResponse(fmt.Errorf("key request failed: %w", err))
		}
		return keyResp

	case enclaveapi.RequestTypeEncrypt:
		handle, err := h.engine.Encrypt(ctx, req.Ciphertext)
		if err != nil {
			return errorResponse(err)
		}
		return &enclaveapi.CoprocessorResponse{Type: enclaveapi.ResponseTypeResult, Handle: handle}

	case enclaveapi.RequestTypeGreaterOrEqual:
		handle, err := h.engine.GreaterOrEqual(ctx, req.A, req.B)
		if err != nil {
			return errorResponse(err)
		}
		return &enclaveapi.CoprocessorResponse{Type: enclaveapi.ResponseTypeResult, Handle: handle}

	case enclaveapi.RequestTypeSelect:
		handle, err := h.engine.Select(ctx, req.Cond, req.A, req.B)
		if err != nil {
			return errorResponse(err)
		}
		return &enclaveapi.CoprocessorResponse{Type: enclaveapi.ResponseTypeResult, Handle: handle}

	case enclaveapi.RequestTypeAllow:
		if err := h.engine.Allow(ctx, req.Handle, req.Viewer); err != nil {
			return errorResponse(err)
		}
		return &enclaveapi.CoprocessorResponse{Type: enclaveapi.ResponseTypeResult, Handle: req.Handle}

	case enclaveapi.RequestTypeDecrypt:
		plaintext, proof, err := h.engine.Decrypt(ctx, req.Handle, req.Viewer, req.Signature)
		if err != nil {
			return errorResponse(err)
		}
		return &enclaveapi.CoprocessorResponse{
			Type:      enclaveapi.ResponseTypeResult,
			Handle:    req.Handle,
			Plaintext: plaintext,
			Proof:     proof,
		}

	default:
		return errorResponse(fmt.Errorf("unknown request type: %s", req.Type))
	}
}

// remoteErrors lets clients recover engine sentinels from error responses.
var remoteErrors = map[string]error{
	"unknown_handle": ErrUnknownHandle,
	"type_mismatch":  ErrTypeMismatch,
	"not_allowed":    ErrNotAllowed,
	"bad_signature":  identity.ErrBadSignature,
}

func errorCode(err error) string {
	for code, sentinel := range remoteErrors {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return ""
}

func errorResponse(err error) *enclaveapi.CoprocessorResponse {
	log.Printf("ERROR: Coprocessor request failed: %v", err)
	return &enclaveapi.CoprocessorResponse{
		Type:    enclaveapi.ResponseTypeError,
		Message: err.Error(),
		Code:    errorCode(err),
	}
}
