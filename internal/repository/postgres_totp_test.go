package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockTOTPDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresTOTPSecretsRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	repo := NewPostgresTOTPSecretsRepository(db)
	return db, mock, repo
}

func TestUpsertSecret_Success(t *testing.T) {
	db, mock, repo := setupMockTOTPDB(t)
	defer db.Close()

	ctx := context.Background()

	mock.ExpectExec(`INSERT INTO totp_secrets`).
		WithArgs("nurse@example.com", "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.UpsertSecret(ctx, "nurse@example.com", "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP")

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSecret_Success(t *testing.T) {
	db, mock, repo := setupMockTOTPDB(t)
	defer db.Close()

	ctx := context.Background()
	now := time.Now()

	rows := sqlmock.NewRows([]string{"account", "secret", "created_at"}).
		AddRow("nurse@example.com", "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP", now)

	mock.ExpectQuery(`SELECT account, secret, created_at FROM totp_secrets`).
		WithArgs("nurse@example.com").
		WillReturnRows(rows)

	s, err := repo.GetSecret(ctx, "nurse@example.com")

	require.NoError(t, err)
	assert.Equal(t, "nurse@example.com", s.Account)
	assert.Equal(t, "JBSWY3DPEHPK3PXPJBSWY3DPEHPK3PXP", s.Secret)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetSecret_NotFound(t *testing.T) {
	db, mock, repo := setupMockTOTPDB(t)
	defer db.Close()

	ctx := context.Background()

	mock.ExpectQuery(`SELECT account, secret, created_at FROM totp_secrets`).
		WithArgs("unknown@example.com").
		WillReturnError(sql.ErrNoRows)

	s, err := repo.GetSecret(ctx, "unknown@example.com")

	assert.ErrorIs(t, err, ErrNotFound)
	assert.Nil(t, s)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteSecret_Success(t *testing.T) {
	db, mock, repo := setupMockTOTPDB(t)
	defer db.Close()

	ctx := context.Background()

	mock.ExpectExec(`DELETE FROM totp_secrets`).
		WithArgs("nurse@example.com").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.DeleteSecret(ctx, "nurse@example.com")

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
