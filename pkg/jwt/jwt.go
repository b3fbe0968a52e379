package jwt

import (
	"errors"
	"fmt"
	"time"

	"im-client/config"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

var (
	ErrEmpty     = errors.New("token is empty")
	ErrMalformed = errors.New("token is malformed")
	ErrExpired   = errors.New("token is expired")
)

// Inspector 在建立连接前检查访问令牌
// 未配置密钥时只解析载荷并检查过期时间，签名交给服务端校验
type Inspector struct {
	secretKey []byte
	issuer    string
	now       func() time.Time
}

// CustomClaims 自定义声明载荷
// 服务端可能把用户名放在 username 或 Data 中
type CustomClaims struct {
	Username string                 `json:"username,omitempty"`
	Data     map[string]interface{} `json:"data,omitempty"`
	jwtv5.RegisteredClaims
}

// Identity 令牌中的用户标识
func (c *CustomClaims) Identity() string {
	if c.Username != "" {
		return c.Username
	}
	if v, ok := c.Data["username"].(string); ok && v != "" {
		return v
	}
	return c.Subject
}

// NewInspector 创建令牌检查器
func NewInspector(cfg config.JWTConfig) *Inspector {
	return &Inspector{
		secretKey: []byte(cfg.Secret),
		issuer:    cfg.Issuer,
		now:       time.Now,
	}
}

// Inspect 解析令牌，格式错误或已过期时返回错误
func (i *Inspector) Inspect(tokenString string) (*CustomClaims, error) {
	if tokenString == "" {
		return nil, ErrEmpty
	}
	if len(i.secretKey) == 0 {
		return i.inspectUnverified(tokenString)
	}
	return i.validate(tokenString)
}

func (i *Inspector) inspectUnverified(tokenString string) (*CustomClaims, error) {
	claims := &CustomClaims{}
	if _, _, err := jwtv5.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if claims.ExpiresAt != nil && !i.now().Before(claims.ExpiresAt.Time) {
		return nil, fmt.Errorf("%w at %s", ErrExpired, claims.ExpiresAt.Time.Format(time.RFC3339))
	}
	if i.issuer != "" && claims.Issuer != i.issuer {
		return nil, fmt.Errorf("%w: unexpected issuer %q", ErrMalformed, claims.Issuer)
	}
	return claims, nil
}

// validate 配置了密钥时完整校验签名
func (i *Inspector) validate(tokenString string) (*CustomClaims, error) {
	opts := []jwtv5.ParserOption{jwtv5.WithTimeFunc(i.now)}
	if i.issuer != "" {
		opts = append(opts, jwtv5.WithIssuer(i.issuer))
	}
	claims := &CustomClaims{}
	parsedToken, err := jwtv5.ParseWithClaims(
		tokenString,
		claims,
		// 验证签名方法
		func(token *jwtv5.Token) (interface{}, error) {
			if token.Method != jwtv5.SigningMethodHS256 {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return i.secretKey, nil
		},
		opts...,
	)
	if err != nil {
		if errors.Is(err, jwtv5.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !parsedToken.Valid {
		return nil, ErrMalformed
	}
	return claims, nil
}
