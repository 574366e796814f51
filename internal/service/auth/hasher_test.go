package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/nkiryanov/plany/internal/apperrors"
)

// Cheap profile, tests do not need production cost
var testArgon2Params = Argon2Params{Time: 1, MemoryKiB: 1024, Threads: 1, KeyLen: 32, SaltLen: 16}

func TestHasher(t *testing.T) {
	t.Parallel()

	h := NewHasher(testArgon2Params)

	t.Run("defaults", func(t *testing.T) {
		h := NewHasher(Argon2Params{})

		assert.Equal(t, DefaultArgon2Params, h.params)
	})

	t.Run("hash in phc format", func(t *testing.T) {
		hash, err := h.Hash("CorrectPass1!")
		require.NoError(t, err)

		assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=1024,t=1,p=1$"), "unexpected hash: %s", hash)
		assert.Len(t, strings.Split(hash, "$"), 6)
	})

	t.Run("hash is salted", func(t *testing.T) {
		hash1, err := h.Hash("CorrectPass1!")
		require.NoError(t, err)
		hash2, err := h.Hash("CorrectPass1!")
		require.NoError(t, err)

		assert.NotEqual(t, hash1, hash2)
	})

	t.Run("empty password", func(t *testing.T) {
		_, err := h.Hash("")

		require.Error(t, err)
	})

	t.Run("compare argon2id", func(t *testing.T) {
		hash, err := h.Hash("CorrectPass1!")
		require.NoError(t, err)

		require.NoError(t, h.Compare(hash, "CorrectPass1!"))
		require.ErrorIs(t, h.Compare(hash, "WrongPass1!"), apperrors.ErrPasswordMismatch)
	})

	t.Run("compare legacy bcrypt", func(t *testing.T) {
		hash, err := legacyBcryptHash("CorrectPass1!", bcrypt.MinCost)
		require.NoError(t, err)

		require.NoError(t, h.Compare(hash, "CorrectPass1!"))
		require.ErrorIs(t, h.Compare(hash, "WrongPass1!"), apperrors.ErrPasswordMismatch)
	})

	t.Run("compare bcrypt with long password", func(t *testing.T) {
		long := strings.Repeat("a", 80)
		hash, err := legacyBcryptHash(long, bcrypt.MinCost)
		require.NoError(t, err)

		require.NoError(t, h.Compare(hash, long))
		require.ErrorIs(t, h.Compare(hash, strings.Repeat("a", 79)+"b"), apperrors.ErrPasswordMismatch, "tail after 72 bytes should matter")
	})

	t.Run("compare invalid format", func(t *testing.T) {
		tests := []struct {
			name string
			hash string
		}{
			{"empty", ""},
			{"plain text", "CorrectPass1!"},
			{"unknown prefix", "$scrypt$ln=15,r=8,p=1$c2FsdA$a2V5"},
			{"argon2 missing parts", "$argon2id$v=19$m=1024,t=1,p=1$c2FsdA"},
			{"argon2 bad version", "$argon2id$v=16$m=1024,t=1,p=1$c2FsdHNhbHQ$a2V5a2V5"},
			{"argon2 bad params", "$argon2id$v=19$m=x,t=1,p=1$c2FsdHNhbHQ$a2V5a2V5"},
			{"argon2 bad salt", "$argon2id$v=19$m=1024,t=1,p=1$!!!$a2V5a2V5"},
			{"bcrypt truncated", "$2a$10$short"},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := h.Compare(tt.hash, "CorrectPass1!")

				require.ErrorIs(t, err, apperrors.ErrInvalidHashFormat)
				require.NotErrorIs(t, err, apperrors.ErrPasswordMismatch)
			})
		}
	})

	t.Run("identify", func(t *testing.T) {
		tests := []struct {
			hash string
			want Algorithm
		}{
			{"$argon2id$v=19$m=1024,t=1,p=1$c2FsdA$a2V5", AlgorithmArgon2id},
			{"$2a$10$abc", AlgorithmBcrypt},
			{"$2b$10$abc", AlgorithmBcrypt},
			{"$2y$10$abc", AlgorithmBcrypt},
		}

		for _, tt := range tests {
			alg, err := Identify(tt.hash)

			require.NoError(t, err)
			assert.Equal(t, tt.want, alg, tt.hash)
		}

		_, err := Identify("$argon2i$v=19$m=1024,t=1,p=1$c2FsdA$a2V5")
		require.ErrorIs(t, err, apperrors.ErrInvalidHashFormat)
	})

	t.Run("needs rehash", func(t *testing.T) {
		current, err := h.Hash("CorrectPass1!")
		require.NoError(t, err)
		legacy, err := legacyBcryptHash("CorrectPass1!", bcrypt.MinCost)
		require.NoError(t, err)
		weaker, err := NewHasher(Argon2Params{Time: 1, MemoryKiB: 512, Threads: 1}).Hash("CorrectPass1!")
		require.NoError(t, err)

		assert.False(t, h.NeedsRehash(current), "current profile")
		assert.True(t, h.NeedsRehash(legacy), "legacy bcrypt")
		assert.True(t, h.NeedsRehash(weaker), "weaker argon2 memory")
		assert.True(t, h.NeedsRehash("garbage"), "unknown format")
	})
}
