// Package token 提供 JWT 的签发与校验。
// 用户体系由外部系统负责，这里只校验其签发的访问令牌。
package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CustomClaims 是访问令牌携带的自定义声明。
type CustomClaims struct {
	Subject string `json:"sub_id"`
	Role    string `json:"role"`
	jwt.RegisteredClaims
}

// JWTManager 负责访问令牌的签发与校验。
type JWTManager struct {
	secret            string
	accessTokenExpire time.Duration
}

// NewJWTManager 创建一个新的 JWTManager 实例。
func NewJWTManager(secret string, accessTokenExpireHours int) *JWTManager {
	return &JWTManager{
		secret:            secret,
		accessTokenExpire: time.Duration(accessTokenExpireHours) * time.Hour,
	}
}

// Generate 为指定主体签发访问令牌。
func (m *JWTManager) Generate(subject, role string) (string, error) {
	claims := CustomClaims{
		Subject: subject,
		Role:    role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.accessTokenExpire)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString([]byte(m.secret))
}

// Verify 校验令牌并返回其中的声明。
func (m *JWTManager) Verify(tokenString string) (*CustomClaims, error) {
	t, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("意外的签名方法: %v", t.Header["alg"])
		}
		return []byte(m.secret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := t.Claims.(*CustomClaims)
	if !ok || !t.Valid {
		return nil, errors.New("无效的访问令牌")
	}
	return claims, nil
}
