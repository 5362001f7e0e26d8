package main

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	enclave "github.com/edgebitio/nitro-enclaves-sdk-go"
	"github.com/peterldowns/testy/assert"

	"github.com/cloudx-io/sealedauction/coprocessor"
	"github.com/cloudx-io/sealedauction/enclaveapi/nitrotest"
	"github.com/cloudx-io/sealedauction/validation"
)

// MockEnclaveHandle implements the Attest method for testing
type MockEnclaveHandle struct {
	AttestFunc func(options enclave.AttestationOptions) ([]byte, error)
}

func (m *MockEnclaveHandle) Attest(options enclave.AttestationOptions) ([]byte, error) {
	if m.AttestFunc != nil {
		return m.AttestFunc(options)
	}
	return nil, errors.New("mock not configured")
}

// CreateMockEnclave returns a handle producing signed attestation documents from a test CA,
// plus validation options that accept them.
func CreateMockEnclave(t *testing.T) (*MockEnclaveHandle, validation.Options) {
	t.Helper()
	attester, err := nitrotest.New("sealedauction-enclave")
	assert.NoError(t, err)

	opts := validation.Options{
		KnownPCRs: []validation.PCRSet{{
			PCR0:       attester.PCR(0),
			PCR1:       attester.PCR(1),
			PCR2:       attester.PCR(2),
			CommitHash: "test",
		}},
		Roots: attester.Roots(),
	}
	return &MockEnclaveHandle{AttestFunc: attester.Attest}, opts
}

// startTestServer serves s on a loopback TCP listener and returns a client for it.
func startTestServer(t *testing.T, s *EnclaveServer, maxWorkers int) (*coprocessor.Client, string) {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	assert.NoError(t, err)

	// Equivalent of t.Context() (Go 1.24+): canceled before the cleanups below run.
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.serve(ctx, listener, maxWorkers) }()
	t.Cleanup(func() {
		_ = listener.Close()
		<-done
	})
	t.Cleanup(cancel)

	addr := listener.Addr().String()
	return coprocessor.NewTCPClient(addr, 5*time.Second), addr
}
