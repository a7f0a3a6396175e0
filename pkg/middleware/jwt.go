package middleware

import (
	"context"
	"crypto/rsa"
	"errors"
	"log"
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nao1215/fsnd/pkg/jwks"
)

// contextKeyClaims はGinコンテキストに検証済みクレームを格納するためのキー。
const contextKeyClaims = "claims"

// resultAdmit はゲートを通過したリクエストのメトリクスラベル。
const resultAdmit = "admit"

// gateDecisions はトークンゲートの判定結果を数えるカウンター。
// resultラベルには通過時は"admit"、拒否時はエラーコードが入る。
var gateDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "token_gate_decisions_total",
	Help: "トークンゲートの判定回数（result: admit またはエラーコード）。",
}, []string{"result"})

// AuthConfig はトークン検証の設定。プロセス起動時に一度だけ生成し、以後変更しない。
type AuthConfig struct {
	// Domain はトークン発行者のドメイン（例: "fsnd.us.auth0.com"）。
	Domain string
	// Audience はトークンのaudienceとして期待するAPI識別子。
	Audience string
	// Algorithms は受け入れる署名アルゴリズム。空の場合はRS256のみ。
	Algorithms []string
	// JWKSURL は鍵セットのURL。空の場合はDomainから導出する。
	JWKSURL string
}

// Issuer は期待するissuer（"https://<domain>/"）を返す。
func (c AuthConfig) Issuer() string {
	domain := strings.TrimSuffix(strings.TrimPrefix(c.Domain, "https://"), "/")
	return "https://" + domain + "/"
}

// KeySetURL は鍵セットの取得先を返す。
func (c AuthConfig) KeySetURL() string {
	if c.JWKSURL != "" {
		return c.JWKSURL
	}
	return jwks.URLForDomain(c.Domain)
}

// algorithms は受け入れる署名アルゴリズムを返す。
func (c AuthConfig) algorithms() []string {
	if len(c.Algorithms) == 0 {
		return []string{"RS256"}
	}
	return c.Algorithms
}

// KeySetProvider は検証に使う鍵セットを提供する。
// jwks.Providerがこのインターフェースを満たす。
type KeySetProvider interface {
	KeySet(ctx context.Context) (jwk.Set, error)
}

// ClaimsHandler は検証済みクレームを先頭の引数として受け取るハンドラ。
type ClaimsHandler func(claims jwt.MapClaims, c *gin.Context)

// TokenGate はBearerトークンを検証し、権限を確認してからハンドラを実行させるゲート。
type TokenGate struct {
	// cfg はトークン検証の設定。
	cfg AuthConfig
	// keys は鍵セットの取得元。
	keys KeySetProvider
}

// NewTokenGate は新しいTokenGateを生成する。
func NewTokenGate(cfg AuthConfig, keys KeySetProvider) *TokenGate {
	return &TokenGate{cfg: cfg, keys: keys}
}

// ExtractToken はAuthorizationヘッダーの値からトークン文字列を取り出す。
// ヘッダーは "Bearer <token>" の2要素でなければならない。
func ExtractToken(header string) (string, error) {
	if header == "" {
		return "", newAuthError(CodeMissingHeader, "Expected Authorization Header", http.StatusUnauthorized)
	}

	parts := strings.Fields(header)
	switch {
	case len(parts) == 0 || !strings.EqualFold(parts[0], "bearer"):
		return "", newAuthError(CodeMalformedHeader, `Expected Authorization Header to start with "Bearer"`, http.StatusUnauthorized)
	case len(parts) == 1:
		return "", newAuthError(CodeMalformedHeader, "Missing Token", http.StatusUnauthorized)
	case len(parts) > 2:
		return "", newAuthError(CodeMalformedHeader, "Expected Authorization Header to be Bearer Token", http.StatusUnauthorized)
	}
	return parts[1], nil
}

// Verify は鍵セットを取得し、トークンの署名・audience・issuer・有効期限を検証してクレームを返す。
// 鍵セットの取得自体に失敗した場合はAuthErrorではない通常のエラーを返す。
func (g *TokenGate) Verify(ctx context.Context, token string) (jwt.MapClaims, error) {
	set, err := g.keys.KeySet(ctx)
	if err != nil {
		return nil, err
	}

	unverified, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return nil, newAuthError(CodeInvalidHeader, "Unable to parse authentication token.", http.StatusBadRequest)
	}
	kid, _ := unverified.Header["kid"].(string)
	if kid == "" {
		return nil, newAuthError(CodeInvalidHeader, "Authorization malformed.", http.StatusUnauthorized)
	}

	pub, ok := lookupRSAKey(set, kid)
	if !ok {
		return nil, newAuthError(CodeInvalidHeader, "Unable to find the appropriate key.", http.StatusBadRequest)
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods(g.cfg.algorithms()),
		jwt.WithAudience(g.cfg.Audience),
		jwt.WithIssuer(g.cfg.Issuer()),
		jwt.WithExpirationRequired(),
	)
	claims := jwt.MapClaims{}
	if _, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return pub, nil
	}); err != nil {
		return nil, classifyParseError(err)
	}
	return claims, nil
}

// lookupRSAKey は鍵セットからkidに一致する鍵を探し、RSA公開鍵として取り出す。
func lookupRSAKey(set jwk.Set, kid string) (*rsa.PublicKey, bool) {
	key, ok := set.LookupKeyID(kid)
	if !ok {
		return nil, false
	}
	var raw any
	if err := key.Raw(&raw); err != nil {
		return nil, false
	}
	pub, ok := raw.(*rsa.PublicKey)
	return pub, ok
}

// classifyParseError はjwtライブラリの検証エラーをAuthErrorに変換する。
// 有効期限切れの判定を最優先する。
func classifyParseError(err error) *AuthError {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return newAuthError(CodeTokenExpired, "Token expired.", http.StatusUnauthorized)
	case errors.Is(err, jwt.ErrTokenInvalidAudience),
		errors.Is(err, jwt.ErrTokenInvalidIssuer),
		errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return newAuthError(CodeInvalidClaims, "Incorrect claims. Please, check the audience and issuer.", http.StatusUnauthorized)
	default:
		return newAuthError(CodeInvalidHeader, "Unable to parse authentication token.", http.StatusBadRequest)
	}
}

// CheckPermissions はクレームのpermissionsに必要な権限が含まれているかを確認する。
func CheckPermissions(permission string, claims jwt.MapClaims) error {
	raw, ok := claims["permissions"]
	if !ok {
		return newAuthError(CodeInvalidClaims, "Permissions are not included in payload", http.StatusBadRequest)
	}

	var granted []string
	switch v := raw.(type) {
	case []any:
		for _, p := range v {
			if s, ok := p.(string); ok {
				granted = append(granted, s)
			}
		}
	case []string:
		granted = v
	default:
		return newAuthError(CodeInvalidClaims, "Permissions are not included in payload", http.StatusBadRequest)
	}

	if !slices.Contains(granted, permission) {
		return newAuthError(CodeUnauthorized, "The user is not allowed to do this operation", http.StatusForbidden)
	}
	return nil
}

// authorize はヘッダー抽出・検証・権限確認を順に行い、最初の失敗で打ち切る。
func (g *TokenGate) authorize(ctx context.Context, header, permission string) (jwt.MapClaims, error) {
	token, err := ExtractToken(header)
	if err != nil {
		return nil, err
	}
	claims, err := g.Verify(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := CheckPermissions(permission, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// admit はリクエストを検証し、通過した場合はコンテキストにクレームを設定してtrueを返す。
// 拒否した場合はエラーレスポンスを書き込んでfalseを返す。
func (g *TokenGate) admit(c *gin.Context, permission string) bool {
	claims, err := g.authorize(c.Request.Context(), c.GetHeader("Authorization"), permission)
	if err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) {
			gateDecisions.WithLabelValues(authErr.Code).Inc()
			AbortWithAuthError(c, authErr)
			return false
		}
		// 鍵セットの取得失敗は分類せず500として扱う
		gateDecisions.WithLabelValues("error").Inc()
		log.Printf("トークン検証エラー: %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		AbortWithError(c, http.StatusInternalServerError, "Internal Server Error")
		return false
	}

	gateDecisions.WithLabelValues(resultAdmit).Inc()
	c.Set(contextKeyClaims, claims)
	return true
}

// Middleware はpermissionを要求するGinミドルウェアを返す。
// 検証に成功した場合、コンテキストに "claims" を設定して後続のハンドラを実行する。
func (g *TokenGate) Middleware(permission string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if g.admit(c, permission) {
			c.Next()
		}
	}
}

// Require はpermissionを要求し、検証済みクレームをhに渡すハンドラを返す。
// ルート登録時に操作ごとに適用する。
func (g *TokenGate) Require(permission string, h ClaimsHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		if g.admit(c, permission) {
			h(ClaimsFrom(c), c)
		}
	}
}

// ClaimsFrom はGinコンテキストから検証済みクレームを取得する。
// ゲートを通過していない場合はnilを返す。
func ClaimsFrom(c *gin.Context) jwt.MapClaims {
	v, ok := c.Get(contextKeyClaims)
	if !ok {
		return nil
	}
	claims, _ := v.(jwt.MapClaims)
	return claims
}
