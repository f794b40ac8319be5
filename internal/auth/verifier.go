package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// Claims is what a verified credential tells us about its bearer.
type Claims struct {
	Subject    string
	Name       string
	Email      string
	Workspaces []string
}

// TokenVerifier turns a raw bearer credential into claims. Implementations
// have no side effects; rejections are *AuthenticationError.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (*Claims, error)
}

var subjectKeys = []string{"sub", "user_id", "userId", "uid"}

func claimsFromMap(m jwt.MapClaims) (*Claims, error) {
	claims := &Claims{}
	for _, key := range subjectKeys {
		if v, ok := m[key].(string); ok && v != "" {
			claims.Subject = v
			break
		}
	}
	if claims.Subject == "" {
		return nil, newAuthError(ReasonInvalidToken, errors.New("token has no subject"))
	}

	for _, key := range []string{"name", "preferred_username", "nickName"} {
		if v, ok := m[key].(string); ok && v != "" {
			claims.Name = v
			break
		}
	}
	claims.Email, _ = m["email"].(string)

	for _, key := range []string{"workspaces", "workspaceIds"} {
		if list, ok := m[key].([]interface{}); ok {
			for _, item := range list {
				if id, ok := item.(string); ok && id != "" {
					claims.Workspaces = append(claims.Workspaces, id)
				}
			}
			break
		}
	}
	return claims, nil
}

// JWTVerifier checks HMAC-signed tokens against a shared secret.
type JWTVerifier struct {
	secret []byte
	issuer string
}

func NewJWTVerifier(secret, issuer string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret), issuer: issuer}
}

func (v *JWTVerifier) Verify(_ context.Context, raw string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{
			jwt.SigningMethodHS256.Name,
			jwt.SigningMethodHS384.Name,
			jwt.SigningMethodHS512.Name,
		}),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	mapClaims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, mapClaims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return nil, classifyJWTError(err)
	}
	if !token.Valid {
		return nil, newAuthError(ReasonInvalidToken, nil)
	}
	return claimsFromMap(mapClaims)
}

// JWKSVerifier checks asymmetrically signed tokens against a remote key set
// that is cached and refreshed in the background.
type JWKSVerifier struct {
	jwks   *keyfunc.JWKS
	issuer string
}

func NewJWKSVerifier(ctx context.Context, jwksURL, issuer string, logger *zap.Logger) (*JWKSVerifier, error) {
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		Ctx:               ctx,
		RefreshInterval:   5 * time.Minute,
		RefreshRateLimit:  time.Minute,
		RefreshTimeout:    10 * time.Second,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			logger.Warn("JWKS refresh failed", zap.String("jwks_url", jwksURL), zap.Error(err))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}

	logger.Info("JWKS loaded successfully", zap.String("jwks_url", jwksURL))
	return &JWKSVerifier{jwks: jwks, issuer: issuer}, nil
}

func (v *JWKSVerifier) Verify(_ context.Context, raw string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	mapClaims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(raw, mapClaims, v.jwks.Keyfunc, opts...)
	if err != nil {
		return nil, classifyJWTError(err)
	}
	if !token.Valid {
		return nil, newAuthError(ReasonInvalidToken, nil)
	}
	return claimsFromMap(mapClaims)
}

// Close stops the background key refresh.
func (v *JWKSVerifier) Close() {
	v.jwks.EndBackground()
}

// AuthServiceVerifier delegates validation to the auth service.
type AuthServiceVerifier struct {
	authServiceURL string
	httpClient     *http.Client
}

func NewAuthServiceVerifier(authServiceURL string, timeout time.Duration) *AuthServiceVerifier {
	return &AuthServiceVerifier{
		authServiceURL: strings.TrimRight(authServiceURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type validateResponse struct {
	UserID  string `json:"userId"`
	Valid   *bool  `json:"valid"`
	Message string `json:"message"`
}

func (v *AuthServiceVerifier) Verify(ctx context.Context, raw string) (*Claims, error) {
	reqBody, err := json.Marshal(map[string]string{"token": raw})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.authServiceURL+"/api/auth/validate", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+raw)

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call auth-service: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, newAuthError(ReasonInvalidToken, fmt.Errorf("auth-service returned status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("auth-service returned status %d", resp.StatusCode)
	}

	var result validateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if (result.Valid != nil && !*result.Valid) || result.UserID == "" {
		reason := ReasonInvalidToken
		if strings.Contains(strings.ToLower(result.Message), "expired") {
			reason = ReasonTokenExpired
		}
		return nil, newAuthError(reason, errors.New(result.Message))
	}
	return &Claims{Subject: result.UserID}, nil
}

// ChainVerifier tries each verifier in order; the first success wins. When
// all fail, the last *AuthenticationError is reported, or the last error if
// none of them was a rejection.
type ChainVerifier struct {
	verifiers []TokenVerifier
	logger    *zap.Logger
}

func NewChainVerifier(logger *zap.Logger, verifiers ...TokenVerifier) *ChainVerifier {
	return &ChainVerifier{verifiers: verifiers, logger: logger}
}

func (c *ChainVerifier) Verify(ctx context.Context, raw string) (*Claims, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, newAuthError(ReasonMissingCredential, nil)
	}

	var lastErr, lastAuthErr error
	for i, v := range c.verifiers {
		claims, err := v.Verify(ctx, raw)
		if err == nil {
			return claims, nil
		}
		c.logger.Debug("Token verifier rejected credential, trying next",
			zap.Int("verifier", i), zap.Error(err))

		lastErr = err
		var authErr *AuthenticationError
		if errors.As(err, &authErr) {
			lastAuthErr = err
		}
	}

	if lastAuthErr != nil {
		return nil, lastAuthErr
	}
	if lastErr != nil {
		return nil, newAuthError(ReasonInvalidToken, lastErr)
	}
	return nil, newAuthError(ReasonInvalidToken, errors.New("no token verifier configured"))
}
