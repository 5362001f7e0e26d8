package coprocessor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/mdlayher/vsock"

	"github.com/cloudx-io/sealedauction/core"
	"github.com/cloudx-io/sealedauction/enclaveapi"
)

// ErrRemote wraps errors reported by the remote coprocessor.
var ErrRemote = errors.New("coprocessor error")

// DialFunc opens a connection to the coprocessor.
type DialFunc func(ctx context.Context) (net.Conn, error)

// Client talks to a remote coprocessor over the wire protocol, one connection per request.
type Client struct {
	dial    DialFunc
	timeout time.Duration
}

var _ core.Coprocessor = (*Client)(nil)

// NewClient creates a client using dial to reach the coprocessor.
func NewClient(dial DialFunc, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{dial: dial, timeout: timeout}
}

// NewVsockClient creates a client for an enclave listening on vsock cid:port.
func NewVsockClient(cid, port uint32, timeout time.Duration) *Client {
	return NewClient(func(context.Context) (net.Conn, error) {
		return vsock.Dial(cid, port, nil)
	}, timeout)
}

// NewTCPClient creates a client for a coprocessor reachable over TCP, used outside enclaves.
func NewTCPClient(addr string, timeout time.Duration) *Client {
	return NewClient(func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", addr)
	}, timeout)
}

func (c *Client) roundTrip(ctx context.Context, req *enclaveapi.CoprocessorRequest, resp any) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("dial coprocessor: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return fmt.Errorf("send %s request: %w", req.Type, err)
	}
	if err := json.NewDecoder(conn).Decode(resp); err != nil {
		return fmt.Errorf("read %s response: %w", req.Type, err)
	}
	return nil
}

func (c *Client) call(ctx context.Context, req *enclaveapi.CoprocessorRequest) (*enclaveapi.CoprocessorResponse, error) {
	var resp enclaveapi.CoprocessorResponse
	if err := c.roundTrip(ctx, req, &resp); err != nil {
		return nil, err
	}
	if resp.Type == enclaveapi.ResponseTypeError {
		if sentinel, ok := remoteErrors[resp.Code]; ok {
			return nil, fmt.Errorf("%w: %w: %s", ErrRemote, sentinel, resp.Message)
		}
		return nil, fmt.Errorf("%w: %s", ErrRemote, resp.Message)
	}
	if resp.Type != enclaveapi.ResponseTypeResult {
		return nil, fmt.Errorf("unexpected response type %q", resp.Type)
	}
	return &resp, nil
}

// Ping checks that the coprocessor answers.
func (c *Client) Ping(ctx context.Context) error {
	var resp struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}
	if err := c.roundTrip(ctx, &enclaveapi.CoprocessorRequest{Type: enclaveapi.RequestTypePing}, &resp); err != nil {
		return err
	}
	if resp.Type != enclaveapi.ResponseTypePong {
		return fmt.Errorf("%w: %s", ErrRemote, resp.Message)
	}
	return nil
}

// KeyResponse fetches the coprocessor's public keys and attestation.
func (c *Client) KeyResponse() (*enclaveapi.KeyResponse, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	var resp enclaveapi.KeyResponse
	if err := c.roundTrip(ctx, &enclaveapi.CoprocessorRequest{Type: enclaveapi.RequestTypeKey}, &resp); err != nil {
		return nil, err
	}
	if resp.Type != enclaveapi.ResponseTypeKey {
		return nil, fmt.Errorf("%w: key request rejected", ErrRemote)
	}
	return &resp, nil
}

func (c *Client) Encrypt(ctx context.Context, ciphertext []byte) (core.Handle, error) {
	resp, err := c.call(ctx, &enclaveapi.CoprocessorRequest{Type: enclaveapi.RequestTypeEncrypt, Ciphertext: ciphertext})
	if err != nil {
		return core.Handle{}, err
	}
	return resp.Handle, nil
}

func (c *Client) GreaterOrEqual(ctx context.Context, a, b core.Handle) (core.Handle, error) {
	resp, err := c.call(ctx, &enclaveapi.CoprocessorRequest{Type: enclaveapi.RequestTypeGreaterOrEqual, A: a, B: b})
	if err != nil {
		return core.Handle{}, err
	}
	return resp.Handle, nil
}

func (c *Client) Select(ctx context.Context, cond, a, b core.Handle) (core.Handle, error) {
	resp, err := c.call(ctx, &enclaveapi.CoprocessorRequest{Type: enclaveapi.RequestTypeSelect, Cond: cond, A: a, B: b})
	if err != nil {
		return core.Handle{}, err
	}
	return resp.Handle, nil
}

func (c *Client) Allow(ctx context.Context, h core.Handle, viewer core.Identity) error {
	_, err := c.call(ctx, &enclaveapi.CoprocessorRequest{Type: enclaveapi.RequestTypeAllow, Handle: h, Viewer: viewer})
	return err
}

// Decrypt requests an attested decryption of h for viewer.
func (c *Client) Decrypt(ctx context.Context, h core.Handle, viewer core.Identity, signature []byte) ([]byte, []byte, error) {
	resp, err := c.call(ctx, &enclaveapi.CoprocessorRequest{
		Type:      enclaveapi.RequestTypeDecrypt,
		Handle:    h,
		Viewer:    viewer,
		Signature: signature,
	})
	if err != nil {
		return nil, nil, err
	}
	return resp.Plaintext, resp.Proof, nil
}
