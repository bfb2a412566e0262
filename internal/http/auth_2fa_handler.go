package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"miot-vitals/internal/repository"
	"miot-vitals/internal/store"
	"miot-vitals/internal/totp"

	"go.uber.org/zap"
)

// TwoFAHandler 操作员二次验证（注册 / 校验 / 停用）。
// 密码登录在身份提供方一侧，这里只负责 TOTP 因子
type TwoFAHandler struct {
	engine    *totp.Engine
	repo      repository.TOTPSecretsRepository
	kv        store.KV // 单次使用缓存，可为 nil
	singleUse bool
	logger    *zap.Logger
}

func NewTwoFAHandler(
	engine *totp.Engine,
	repo repository.TOTPSecretsRepository,
	kv store.KV,
	singleUse bool,
	logger *zap.Logger,
) *TwoFAHandler {
	return &TwoFAHandler{
		engine:    engine,
		repo:      repo,
		kv:        kv,
		singleUse: singleUse,
		logger:    logger,
	}
}

type twoFARequest struct {
	Account string `json:"account"`
	Code    string `json:"code,omitempty"`
}

func (h *TwoFAHandler) readRequest(w http.ResponseWriter, r *http.Request) (*twoFARequest, bool) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read request body")
		return nil, false
	}
	var req twoFARequest
	if err := json.Unmarshal(body, &req); err != nil || req.Account == "" {
		writeError(w, http.StatusBadRequest, "Missing required field: account")
		return nil, false
	}
	return &req, true
}

// Setup POST /auth/api/v1/2fa/setup — 生成并保存新密钥，返回扫码 URI
func (h *TwoFAHandler) Setup(w http.ResponseWriter, r *http.Request) {
	req, ok := h.readRequest(w, r)
	if !ok {
		return
	}

	secret, err := h.engine.GenerateSecret()
	if err != nil {
		h.logger.Error("failed to generate totp secret", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if err := h.repo.UpsertSecret(r.Context(), req.Account, secret); err != nil {
		h.logger.Error("failed to store totp secret", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"secret":     secret,
		"otpauthUrl": h.engine.ProvisioningURI(secret, req.Account),
	})
}

// Verify POST /auth/api/v1/2fa/verify — 校验验证码
func (h *TwoFAHandler) Verify(w http.ResponseWriter, r *http.Request) {
	req, ok := h.readRequest(w, r)
	if !ok {
		return
	}
	if req.Code == "" {
		writeError(w, http.StatusBadRequest, "Missing required field: code")
		return
	}

	stored, err := h.repo.GetSecret(r.Context(), req.Account)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "2FA not enrolled for account")
			return
		}
		h.logger.Error("failed to load totp secret", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	valid, step := h.engine.VerifyWithStep(req.Code, stored.Secret)

	// 可选的单次使用约束：同一验证码在其窗口内只能消费一次
	if valid && h.singleUse && h.kv != nil {
		fresh, err := store.MarkCodeUsed(r.Context(), h.kv, req.Account, step)
		if err != nil {
			h.logger.Warn("totp used-code cache unavailable", zap.Error(err))
		} else if !fresh {
			valid = false
		}
	}

	writeJSON(w, http.StatusOK, map[string]bool{"valid": valid})
}

// Disable POST /auth/api/v1/2fa/disable — 停用并销毁密钥
func (h *TwoFAHandler) Disable(w http.ResponseWriter, r *http.Request) {
	req, ok := h.readRequest(w, r)
	if !ok {
		return
	}
	if err := h.repo.DeleteSecret(r.Context(), req.Account); err != nil {
		h.logger.Error("failed to delete totp secret", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
