package httpserver

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/cloudx-io/sealedauction/core"
	"github.com/cloudx-io/sealedauction/identity"
)

const (
	// HeaderSigner carries the caller's hex ed25519 public key.
	HeaderSigner = "X-Signer"
	// HeaderSignature carries the hex signature over SigningPayload.
	HeaderSignature = "X-Signature"

	maxBodyBytes = 1 << 20
)

type callerKey struct{}

// SigningPayload returns the bytes a caller signs for a request.
func SigningPayload(method, path string, body []byte) []byte {
	payload := make([]byte, 0, len(method)+len(path)+len(body)+2)
	payload = append(payload, method...)
	payload = append(payload, '\n')
	payload = append(payload, path...)
	payload = append(payload, '\n')
	return append(payload, body...)
}

// SignRequest sets the authentication headers of req for the given body.
func SignRequest(req *http.Request, kp *identity.KeyPair, body []byte) {
	sig := kp.Sign(SigningPayload(req.Method, req.URL.Path, body))
	req.Header.Set(HeaderSigner, string(kp.Identity()))
	req.Header.Set(HeaderSignature, hex.EncodeToString(sig))
}

// requireSigner verifies the request signature and stores the caller identity in the context.
func requireSigner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		signer := core.Identity(strings.ToLower(r.Header.Get(HeaderSigner)))
		sigHex := r.Header.Get(HeaderSignature)
		if signer == "" || sigHex == "" {
			writeRequestError(w, http.StatusUnauthorized, "Unauthenticated", "missing request signature")
			return
		}
		sig, err := hex.DecodeString(sigHex)
		if err != nil {
			writeRequestError(w, http.StatusUnauthorized, "Unauthenticated", "malformed request signature")
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			writeRequestError(w, http.StatusRequestEntityTooLarge, "InvalidInput", "request body too large")
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		if err := identity.Verify(signer, SigningPayload(r.Method, r.URL.Path, body), sig); err != nil {
			writeRequestError(w, http.StatusUnauthorized, "Unauthenticated", err.Error())
			return
		}

		ctx := context.WithValue(r.Context(), callerKey{}, signer)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func callerFrom(ctx context.Context) core.Identity {
	id, _ := ctx.Value(callerKey{}).(core.Identity)
	return id
}

// basicAuth guards operator routes with a "user:pass" token.
func basicAuth(token string) func(http.Handler) http.Handler {
	wantUser, wantPass, _ := strings.Cut(token, ":")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok ||
				subtle.ConstantTimeCompare([]byte(user), []byte(wantUser)) != 1 ||
				subtle.ConstantTimeCompare([]byte(pass), []byte(wantPass)) != 1 {
				w.Header().Set("WWW-Authenticate", `Basic realm="admin"`)
				writeRequestError(w, http.StatusUnauthorized, "Unauthenticated", fmt.Sprintf("%s requires admin credentials", r.URL.Path))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
