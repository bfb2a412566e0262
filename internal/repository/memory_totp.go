package repository

import (
	"context"
	"sync"
	"time"

	"miot-vitals/internal/domain"
)

// MemoryTOTPSecretsRepository 二次验证密钥内存实现（联测用）
type MemoryTOTPSecretsRepository struct {
	mu      sync.RWMutex
	secrets map[string]domain.TOTPSecret
}

func NewMemoryTOTPSecretsRepository() *MemoryTOTPSecretsRepository {
	return &MemoryTOTPSecretsRepository{secrets: map[string]domain.TOTPSecret{}}
}

var _ TOTPSecretsRepository = (*MemoryTOTPSecretsRepository)(nil)

func (r *MemoryTOTPSecretsRepository) UpsertSecret(_ context.Context, account, secret string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.secrets[account] = domain.TOTPSecret{Account: account, Secret: secret, CreatedAt: time.Now()}
	return nil
}

func (r *MemoryTOTPSecretsRepository) GetSecret(_ context.Context, account string) (*domain.TOTPSecret, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.secrets[account]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}

func (r *MemoryTOTPSecretsRepository) DeleteSecret(_ context.Context, account string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.secrets, account)
	return nil
}
