package postgres

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/plany/internal/apperrors"
	"github.com/nkiryanov/plany/internal/models"
	"github.com/nkiryanov/plany/internal/testutil"
)

func mustParseTime(value string) time.Time {
	dt, err := time.Parse("2006-01-02 15:04:05Z07:00", value)
	if err != nil {
		panic(err)
	}
	return dt
}

// Refresh tokens reference users, so every test has to store owner first
func createTestUser(t *testing.T, tx pgx.Tx, username string) models.User {
	t.Helper()

	u, err := (&UserRepo{DB: tx}).CreateUser(t.Context(), newUserParams(username))
	require.NoError(t, err)
	return u
}

func Test_RefreshTokenRepo(t *testing.T) {
	t.Parallel() // It's ok to run in parallel with other tests, but not with subtests

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	now := mustParseTime("2025-03-01 12:00:00Z")

	newToken := func(userID uuid.UUID) models.RefreshToken {
		return models.RefreshToken{
			JTI:       uuid.New(),
			UserID:    userID,
			SessionID: uuid.New(),
			CreatedAt: mustParseTime("2025-03-01 11:00:00Z"),
			ExpiresAt: mustParseTime("2025-03-08 11:00:00Z"),
		}
	}

	t.Run("save token ok", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := RefreshTokenRepo{DB: tx}
			token := newToken(createTestUser(t, tx, "john").ID)

			got, err := repo.Save(t.Context(), token)

			require.NoError(t, err)
			require.Equal(t, token.JTI, got.JTI)
			require.Equal(t, token.UserID, got.UserID)
			require.Equal(t, token.SessionID, got.SessionID)
			require.WithinDuration(t, token.CreatedAt, got.CreatedAt, 0)
			require.WithinDuration(t, token.ExpiresAt, got.ExpiresAt, 0)
			require.False(t, got.Revoked)
		})
	})

	t.Run("get token ok", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := RefreshTokenRepo{DB: tx}
			token := newToken(createTestUser(t, tx, "john").ID)
			_, err := repo.Save(t.Context(), token)
			require.NoError(t, err)

			got, err := repo.Get(t.Context(), token.JTI)

			require.NoError(t, err)
			require.Equal(t, token.JTI, got.JTI)
			require.Equal(t, token.SessionID, got.SessionID)
		})
	})

	t.Run("get token not found", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := RefreshTokenRepo{DB: tx}

			_, err := repo.Get(t.Context(), uuid.New())

			require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)
		})
	})

	t.Run("consume token once", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := RefreshTokenRepo{DB: tx}
			token := newToken(createTestUser(t, tx, "john").ID)
			_, err := repo.Save(t.Context(), token)
			require.NoError(t, err)

			got, err := repo.Consume(t.Context(), token.JTI, now)
			require.NoError(t, err, "No error must be happen when consuming usable token")
			require.True(t, got.Revoked, "consumed token has to be revoked")

			_, err = repo.Consume(t.Context(), token.JTI, now)
			require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound, "consumed token is not usable anymore")

			stored, err := repo.Get(t.Context(), token.JTI)
			require.NoError(t, err, "consumed token is still stored")
			require.True(t, stored.Revoked)
		})
	})

	t.Run("consume expired token", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := RefreshTokenRepo{DB: tx}
			token := newToken(createTestUser(t, tx, "john").ID)
			_, err := repo.Save(t.Context(), token)
			require.NoError(t, err)

			_, err = repo.Consume(t.Context(), token.JTI, token.ExpiresAt)

			require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound, "token is not usable at its expiry instant")
		})
	})

	t.Run("revoke token", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := RefreshTokenRepo{DB: tx}
			token := newToken(createTestUser(t, tx, "john").ID)
			_, err := repo.Save(t.Context(), token)
			require.NoError(t, err)

			require.NoError(t, repo.Revoke(t.Context(), token.JTI))
			require.NoError(t, repo.Revoke(t.Context(), token.JTI), "revoke is idempotent")
			require.NoError(t, repo.Revoke(t.Context(), uuid.New()), "unknown token is not an error")

			_, err = repo.Consume(t.Context(), token.JTI, now)
			require.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)
		})
	})

	t.Run("revoke all user tokens", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := RefreshTokenRepo{DB: tx}
			john := createTestUser(t, tx, "john")
			jane := createTestUser(t, tx, "jane")

			for _, userID := range []uuid.UUID{john.ID, john.ID, jane.ID} {
				_, err := repo.Save(t.Context(), newToken(userID))
				require.NoError(t, err)
			}

			revoked, err := repo.RevokeAllForUser(t.Context(), john.ID)
			require.NoError(t, err)
			assert.Equal(t, int64(2), revoked)

			revoked, err = repo.RevokeAllForUser(t.Context(), john.ID)
			require.NoError(t, err)
			assert.Equal(t, int64(0), revoked, "already revoked tokens are not counted")

			revoked, err = repo.RevokeAllForUser(t.Context(), jane.ID)
			require.NoError(t, err)
			assert.Equal(t, int64(1), revoked, "other user tokens are untouched by john revocation")
		})
	})

	t.Run("delete expired", func(t *testing.T) {
		testutil.WithTx(pg.Pool, t, func(tx pgx.Tx) {
			repo := RefreshTokenRepo{DB: tx}
			userID := createTestUser(t, tx, "john").ID

			expired := newToken(userID)
			expired.ExpiresAt = now.Add(-time.Second)
			alive := newToken(userID)

			for _, token := range []models.RefreshToken{expired, alive} {
				_, err := repo.Save(t.Context(), token)
				require.NoError(t, err)
			}

			deleted, err := repo.DeleteExpired(t.Context(), now)
			require.NoError(t, err)
			assert.Equal(t, int64(1), deleted)

			_, err = repo.Get(t.Context(), expired.JTI)
			assert.ErrorIs(t, err, apperrors.ErrRefreshTokenNotFound)
			_, err = repo.Get(t.Context(), alive.JTI)
			assert.NoError(t, err)

			deleted, err = repo.DeleteExpired(t.Context(), now)
			require.NoError(t, err)
			assert.Equal(t, int64(0), deleted, "cleanup is idempotent")
		})
	})
}
