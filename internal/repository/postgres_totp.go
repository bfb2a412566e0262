package repository

import (
	"context"
	"database/sql"
	"fmt"

	"miot-vitals/internal/domain"
)

// PostgresTOTPSecretsRepository 二次验证密钥仓库 PostgreSQL 实现
type PostgresTOTPSecretsRepository struct {
	db *sql.DB
}

func NewPostgresTOTPSecretsRepository(db *sql.DB) *PostgresTOTPSecretsRepository {
	return &PostgresTOTPSecretsRepository{db: db}
}

var _ TOTPSecretsRepository = (*PostgresTOTPSecretsRepository)(nil)

// UpsertSecret 注册或重新注册二次验证（每个账户一行）
func (r *PostgresTOTPSecretsRepository) UpsertSecret(ctx context.Context, account, secret string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO totp_secrets (account, secret, created_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (account)
		 DO UPDATE SET secret = EXCLUDED.secret, created_at = NOW()`,
		account, secret,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert totp secret: %w", err)
	}
	return nil
}

func (r *PostgresTOTPSecretsRepository) GetSecret(ctx context.Context, account string) (*domain.TOTPSecret, error) {
	var s domain.TOTPSecret
	err := r.db.QueryRowContext(ctx,
		`SELECT account, secret, created_at FROM totp_secrets WHERE account = $1`,
		account,
	).Scan(&s.Account, &s.Secret, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load totp secret: %w", err)
	}
	return &s, nil
}

// DeleteSecret 停用二次验证时销毁密钥
func (r *PostgresTOTPSecretsRepository) DeleteSecret(ctx context.Context, account string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM totp_secrets WHERE account = $1`, account)
	if err != nil {
		return fmt.Errorf("failed to delete totp secret: %w", err)
	}
	return nil
}
