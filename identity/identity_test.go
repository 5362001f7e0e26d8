package identity

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestSignVerify(t *testing.T) {
	kp, err := Generate()
	assert.NoError(t, err)

	id := kp.Identity()
	check.Equal(t, 64, len(id))

	sig := kp.Sign([]byte("hello"))
	check.NoError(t, Verify(id, []byte("hello"), sig))

	err = Verify(id, []byte("other"), sig)
	check.True(t, errors.Is(err, ErrBadSignature))

	other, err := Generate()
	assert.NoError(t, err)
	err = Verify(other.Identity(), []byte("hello"), sig)
	check.True(t, errors.Is(err, ErrBadSignature))

	err = Verify(id, []byte("hello"), sig[:10])
	check.True(t, errors.Is(err, ErrBadSignature))
}

func TestPublicKey_Invalid(t *testing.T) {
	_, err := PublicKey("zz")
	check.Error(t, err)

	_, err = PublicKey("abcd")
	check.Error(t, err)
}

func TestLoadOrGenerate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bidder.key")

	first, err := LoadOrGenerate(path)
	assert.NoError(t, err)

	second, err := LoadOrGenerate(path)
	assert.NoError(t, err)
	check.Equal(t, first.Identity(), second.Identity())

	assert.NoError(t, os.WriteFile(path, []byte("short"), 0o600))
	_, err = LoadOrGenerate(path)
	check.Error(t, err)
}
