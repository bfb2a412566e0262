package domain

import "time"

// TOTPSecret 用户的二次验证密钥（对应 totp_secrets 表）
// 注册时创建，停用时删除，从不自动轮换
type TOTPSecret struct {
	Account   string    `json:"account" db:"account"`
	Secret    string    `json:"-" db:"secret"` // base32，永不返回明文给列表接口
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
