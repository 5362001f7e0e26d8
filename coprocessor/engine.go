// Package coprocessor is the reference confidential-compute service behind core.Coprocessor.
//
// The Engine keeps encrypted 128-bit integers and booleans behind random handles, evaluates
// comparisons and selections on them, keeps a per-handle access list, and releases plaintexts
// only to listed viewers as signed disclosure statements. It runs inside the enclave and is
// reached over the wire protocol by Client, or in-process for development.
package coprocessor

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cloudx-io/sealedauction/core"
	"github.com/cloudx-io/sealedauction/disclosure"
	"github.com/cloudx-io/sealedauction/enclaveapi"
	"github.com/cloudx-io/sealedauction/identity"
)

var (
	ErrUnknownHandle = errors.New("unknown handle")
	ErrTypeMismatch  = errors.New("operand type mismatch")
	ErrNotAllowed    = errors.New("viewer not allowed to decrypt handle")
)

type valueKind uint8

const (
	kindUint valueKind = iota
	kindBool
)

type entry struct {
	kind  valueKind
	value *big.Int
}

// Engine evaluates encrypted operations in memory.
type Engine struct {
	keys   *KeyManager
	oracle *disclosure.Signer
	now    func() time.Time

	mu     sync.RWMutex
	values map[core.Handle]entry
	acl    map[core.Handle]map[core.Identity]struct{}
}

var _ core.Coprocessor = (*Engine)(nil)

// NewEngine creates an engine that opens sealed amounts with keys and signs disclosures with
// oracle.
func NewEngine(keys *KeyManager, oracle *disclosure.Signer) *Engine {
	return &Engine{
		keys:   keys,
		oracle: oracle,
		now:    time.Now,
		values: make(map[core.Handle]entry),
		acl:    make(map[core.Handle]map[core.Identity]struct{}),
	}
}

// GenerateEngine creates an engine with freshly generated sealing and oracle keys.
func GenerateEngine() (*Engine, error) {
	keys, err := NewKeyManager()
	if err != nil {
		return nil, err
	}
	oracle, err := disclosure.GenerateSigner()
	if err != nil {
		return nil, err
	}
	return NewEngine(keys, oracle), nil
}

// KeyManager returns the sealing key manager.
func (e *Engine) KeyManager() *KeyManager {
	return e.keys
}

// Oracle returns the disclosure signer.
func (e *Engine) Oracle() *disclosure.Signer {
	return e.oracle
}

// KeyResponse describes the engine's public keys without attestation.
func (e *Engine) KeyResponse() (*enclaveapi.KeyResponse, error) {
	publicKeyPEM, err := e.keys.PublicKeyPEM()
	if err != nil {
		return nil, fmt.Errorf("failed to export public key: %w", err)
	}
	oracleKeyPEM, err := e.oracle.PublicKeyPEM()
	if err != nil {
		return nil, fmt.Errorf("failed to export oracle key: %w", err)
	}
	return &enclaveapi.KeyResponse{
		Type:      enclaveapi.ResponseTypeKey,
		PublicKey: publicKeyPEM,
		OracleKey: oracleKeyPEM,
	}, nil
}

// mint stores a value under a fresh random handle. Caller holds e.mu.
func (e *Engine) mint(kind valueKind, value *big.Int) core.Handle {
	for {
		h := core.Handle(uuid.New())
		if _, exists := e.values[h]; !exists && !h.IsZero() {
			e.values[h] = entry{kind: kind, value: value}
			return h
		}
	}
}

func (e *Engine) lookup(h core.Handle, kind valueKind) (entry, error) {
	v, ok := e.values[h]
	if !ok {
		return entry{}, fmt.Errorf("%w: %s", ErrUnknownHandle, h)
	}
	if v.kind != kind {
		return entry{}, fmt.Errorf("%w: handle %s", ErrTypeMismatch, h)
	}
	return v, nil
}

// Encrypt imports a sealed amount.
func (e *Engine) Encrypt(_ context.Context, ciphertext []byte) (core.Handle, error) {
	value, err := e.keys.DecryptAmount(ciphertext)
	if err != nil {
		return core.Handle{}, fmt.Errorf("failed to open sealed amount: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mint(kindUint, value), nil
}

// GreaterOrEqual returns an encrypted boolean a >= b.
func (e *Engine) GreaterOrEqual(_ context.Context, a, b core.Handle) (core.Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	va, err := e.lookup(a, kindUint)
	if err != nil {
		return core.Handle{}, err
	}
	vb, err := e.lookup(b, kindUint)
	if err != nil {
		return core.Handle{}, err
	}

	result := big.NewInt(0)
	if va.value.Cmp(vb.value) >= 0 {
		result = big.NewInt(1)
	}
	return e.mint(kindBool, result), nil
}

// Select returns cond ? a : b as a new handle.
func (e *Engine) Select(_ context.Context, cond, a, b core.Handle) (core.Handle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	vc, err := e.lookup(cond, kindBool)
	if err != nil {
		return core.Handle{}, err
	}
	va, ok := e.values[a]
	if !ok {
		return core.Handle{}, fmt.Errorf("%w: %s", ErrUnknownHandle, a)
	}
	vb, err := e.lookup(b, va.kind)
	if err != nil {
		return core.Handle{}, err
	}

	chosen := vb
	if vc.value.Sign() != 0 {
		chosen = va
	}
	return e.mint(chosen.kind, new(big.Int).Set(chosen.value)), nil
}

// Allow adds viewer to the access list of h.
func (e *Engine) Allow(_ context.Context, h core.Handle, viewer core.Identity) error {
	if _, err := identity.PublicKey(viewer); err != nil {
		return fmt.Errorf("invalid viewer: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.values[h]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHandle, h)
	}
	viewers, ok := e.acl[h]
	if !ok {
		viewers = make(map[core.Identity]struct{})
		e.acl[h] = viewers
	}
	viewers[viewer] = struct{}{}
	return nil
}

// Decrypt releases the plaintext of h to viewer together with a signed disclosure proof.
// signature must be the viewer's signature over enclaveapi.DecryptChallenge(h).
// Booleans render as "1" or "0", integers in base 10.
func (e *Engine) Decrypt(_ context.Context, h core.Handle, viewer core.Identity, signature []byte) ([]byte, []byte, error) {
	if err := identity.Verify(viewer, enclaveapi.DecryptChallenge(h), signature); err != nil {
		return nil, nil, fmt.Errorf("decrypt request for %s: %w", h, err)
	}

	e.mu.RLock()
	v, ok := e.values[h]
	_, allowed := e.acl[h][viewer]
	e.mu.RUnlock()

	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownHandle, h)
	}
	if !allowed {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotAllowed, h)
	}

	plaintext := []byte(v.value.String())

	proof, err := e.oracle.Sign(disclosure.NewStatement(h, plaintext, viewer, e.now()))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to sign disclosure: %w", err)
	}

	log.Printf("INFO: Disclosed handle %s to %s", h, viewer)
	return plaintext, proof, nil
}

// Size returns the number of live handles.
func (e *Engine) Size() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.values)
}
