package scheduler

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/limiquantix/allocator/internal/domain"
)

// keyGenerator creates the key encryption keys wrapping volume data keys.
type keyGenerator struct {
	algorithm string
}

func newKeyGenerator(algorithm string) (keyGenerator, error) {
	switch algorithm {
	case KeyWrappingAES256GCM, KeyWrappingXChaCha20Poly1305:
		return keyGenerator{algorithm: algorithm}, nil
	default:
		return keyGenerator{}, fmt.Errorf("%w: unsupported key wrapping algorithm %q",
			domain.ErrInvalidArgument, algorithm)
	}
}

// generate returns a fresh key with the given authenticated data.
func (g keyGenerator) generate(authData string) (*domain.KeyEncryptionKey, error) {
	keySize, ivSize := 32, 12
	if g.algorithm == KeyWrappingXChaCha20Poly1305 {
		keySize, ivSize = chacha20poly1305.KeySize, chacha20poly1305.NonceSizeX
	}

	key := make([]byte, keySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, err
	}

	// the key must be usable by the wrapping cipher
	if g.algorithm == KeyWrappingXChaCha20Poly1305 {
		if _, err := chacha20poly1305.NewX(key); err != nil {
			return nil, err
		}
	}

	return &domain.KeyEncryptionKey{
		ID:         uuid.New().String(),
		Algorithm:  g.algorithm,
		Key:        base64.StdEncoding.EncodeToString(key),
		InitVector: base64.StdEncoding.EncodeToString(iv),
		AuthData:   authData,
	}, nil
}
