package auth

import (
	"errors"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrWrongTokenType = errors.New("wrong token type")

type Claims struct {
	UserID   string `json:"sub"`
	Username string `json:"username"`
	Type     string `json:"typ"`
	jwt.RegisteredClaims
}

// Issuer 用同一个 HS256 密钥签发和校验 token
type Issuer struct {
	secret []byte
}

// NewIssuer secret 为空时读 JWT_SECRET，再没有就用开发密钥
func NewIssuer(secret string) *Issuer {
	if secret == "" {
		secret = os.Getenv("JWT_SECRET")
	}
	if secret == "" {
		secret = "dev-secret"
	}
	// 转换为字节切片（uint8[]）
	return &Issuer{secret: []byte(secret)}
}

func (i *Issuer) sign(userID, username, typ string, ttl time.Duration) (string, time.Time, error) {
	expiresAt := time.Now().Add(ttl)
	claims := &Claims{
		UserID:   userID,
		Username: username,
		Type:     typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

func (i *Issuer) SignAccessToken(userID, username string, ttl time.Duration) (string, time.Time, error) {
	return i.sign(userID, username, "access", ttl)
}

func (i *Issuer) SignRefreshToken(userID, username string, ttl time.Duration) (string, time.Time, error) {
	return i.sign(userID, username, "refresh", ttl)
}

// 解析任意 token（访问/刷新），返回 Claims
func (i *Issuer) ParseToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return i.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, jwt.ErrTokenInvalidClaims
}

// ParseAccessToken 只接受访问 token
func (i *Issuer) ParseAccessToken(tokenString string) (*Claims, error) {
	claims, err := i.ParseToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Type != "access" {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}
