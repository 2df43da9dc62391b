package security

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"PPRelay/tools/errs"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Options 控制签名与TTL等参数。
type Options struct {
	Secret []byte        // HMAC 密钥（生产用ENV/KMS）
	Alg    string        // HS256/HS384/HS512（默认 HS256）
	TTL    time.Duration // 令牌有效期（默认 2h）
	Leeway time.Duration
}

func DefaultOptions(secret []byte) Options {
	return Options{Secret: secret, Alg: "HS256", TTL: 2 * time.Hour}
}

func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Generate signs a token carrying the user id in both `id` and `sub`.
func Generate(opts Options, userID string) (token string, expireAt time.Time, err error) {
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return "", time.Time{}, err
	}
	if opts.TTL <= 0 {
		opts.TTL = 2 * time.Hour
	}
	now := time.Now()
	exp := now.Add(opts.TTL)

	claims := jwtlib.MapClaims{
		"id":  userID,
		"sub": userID,
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": exp.Unix(),
	}

	signed, err := jwtlib.NewWithClaims(method, claims).SignedString(opts.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verifier resolves a bearer credential into a user id.
type Verifier struct {
	opts   Options
	method jwtlib.SigningMethod
}

func NewVerifier(opts Options) (*Verifier, error) {
	if len(opts.Secret) == 0 {
		return nil, errs.ErrArgs.WrapMsg("jwt secret is empty")
	}
	method, err := signingMethod(opts.Alg)
	if err != nil {
		return nil, errs.ErrArgs.WrapMsg(err.Error())
	}
	return &Verifier{opts: opts, method: method}, nil
}

// Verify returns the user id of a valid token. Any failure is reported as ErrTokenInvalid.
func (v *Verifier) Verify(_ context.Context, token string) (string, error) {
	parsed, err := jwtlib.Parse(token, func(t *jwtlib.Token) (interface{}, error) {
		// 仅允许 HMAC 家族
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
		}
		return v.opts.Secret, nil
	},
		jwtlib.WithValidMethods([]string{v.method.Alg()}),
		jwtlib.WithLeeway(v.opts.Leeway),
	)
	if err != nil {
		return "", errs.ErrTokenInvalid.WrapMsg(err.Error())
	}
	if !parsed.Valid {
		return "", errs.ErrTokenInvalid.WrapMsg("invalid token")
	}
	claims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok {
		return "", errs.ErrTokenInvalid.WrapMsg("claims type mismatch")
	}
	if id := claimString(claims, "id"); id != "" {
		return id, nil
	}
	if sub := claimString(claims, "sub"); sub != "" {
		return sub, nil
	}
	return "", errs.ErrTokenInvalid.WrapMsg("token carries no user id")
}

func claimString(claims jwtlib.MapClaims, key string) string {
	switch v := claims[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return fmt.Sprintf("%.0f", v)
	default:
		return ""
	}
}

func signingMethod(alg string) (jwtlib.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "HS256":
		return jwtlib.SigningMethodHS256, nil
	case "HS384":
		return jwtlib.SigningMethodHS384, nil
	case "HS512":
		return jwtlib.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("unsupported alg: %s (use HS256/HS384/HS512)", alg)
	}
}
