package scheduler

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/limiquantix/allocator/internal/domain"
)

func TestKeyGenerator(t *testing.T) {
	tests := []struct {
		algorithm string
		keySize   int
		ivSize    int
	}{
		{algorithm: KeyWrappingAES256GCM, keySize: 32, ivSize: 12},
		{algorithm: KeyWrappingXChaCha20Poly1305, keySize: chacha20poly1305.KeySize, ivSize: chacha20poly1305.NonceSizeX},
	}

	for _, tt := range tests {
		t.Run(tt.algorithm, func(t *testing.T) {
			g, err := newKeyGenerator(tt.algorithm)
			require.NoError(t, err)

			key, err := g.generate("vm2464de61_0")
			require.NoError(t, err)
			assert.Equal(t, tt.algorithm, key.Algorithm)
			assert.Equal(t, "vm2464de61_0", key.AuthData)
			assert.NotEmpty(t, key.ID)

			raw, err := base64.StdEncoding.DecodeString(key.Key)
			require.NoError(t, err)
			assert.Len(t, raw, tt.keySize)

			iv, err := base64.StdEncoding.DecodeString(key.InitVector)
			require.NoError(t, err)
			assert.Len(t, iv, tt.ivSize)

			other, err := g.generate("vm2464de61_0")
			require.NoError(t, err)
			assert.NotEqual(t, key.Key, other.Key)
		})
	}
}

func TestKeyGenerator_Unsupported(t *testing.T) {
	_, err := newKeyGenerator("rot13")
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)
}
