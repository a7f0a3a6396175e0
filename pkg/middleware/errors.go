package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// 認可エラーのコード。レスポンスのcodeフィールドにそのまま出力される。
const (
	// CodeMissingHeader はAuthorizationヘッダーが無いことを表す。
	CodeMissingHeader = "missing_auth_header"
	// CodeMalformedHeader はAuthorizationヘッダーがBearer形式でないことを表す。
	CodeMalformedHeader = "header_invalid"
	// CodeInvalidHeader はトークンのヘッダーや署名鍵が不正であることを表す。
	CodeInvalidHeader = "invalid_header"
	// CodeTokenExpired はトークンの有効期限切れを表す。
	CodeTokenExpired = "token_expired"
	// CodeInvalidClaims はaudience・issuer・permissionsなどのクレームが不正であることを表す。
	CodeInvalidClaims = "invalid_claims"
	// CodeUnauthorized は必要な権限を持っていないことを表す。
	CodeUnauthorized = "unauthorized"
)

// AuthError はトークンゲートで発生した認証・認可エラー。
// 発生箇所で生成され、加工されずにHTTPレスポンスへ変換される。
type AuthError struct {
	// Code は機械可読なエラーコード。
	Code string
	// Description は人が読むためのエラー説明。
	Description string
	// StatusCode はレスポンスのHTTPステータスコード。
	StatusCode int
}

// Error はエラーメッセージを返す。
func (e *AuthError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.StatusCode, e.Description)
}

// newAuthError はAuthErrorを生成する。
func newAuthError(code, description string, status int) *AuthError {
	return &AuthError{Code: code, Description: description, StatusCode: status}
}

// ErrorResponse は全サービス共通のエラーレスポンスのJSON構造。
type ErrorResponse struct {
	// Success は常にfalse。
	Success bool `json:"success"`
	// Error はHTTPステータスコード。
	Error int `json:"error"`
	// Message はエラーの説明。
	Message string `json:"message"`
	// Code は認可エラーの場合のみ設定されるエラーコード。
	Code string `json:"code,omitempty"`
}

// AbortWithError は共通形式のエラーレスポンスを返してリクエストを中断する。
func AbortWithError(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Success: false,
		Error:   status,
		Message: message,
	})
}

// AbortWithAuthError はAuthErrorをHTTPレスポンスに変換してリクエストを中断する。
func AbortWithAuthError(c *gin.Context, err *AuthError) {
	c.AbortWithStatusJSON(err.StatusCode, ErrorResponse{
		Success: false,
		Error:   err.StatusCode,
		Message: err.Description,
		Code:    err.Code,
	})
}

// NotFound は未定義のルートに対して404のエラーレスポンスを返すハンドラ。
func NotFound() gin.HandlerFunc {
	return func(c *gin.Context) {
		AbortWithError(c, http.StatusNotFound, "Not Found")
	}
}

// MethodNotAllowed は許可されていないメソッドに対して405のエラーレスポンスを返すハンドラ。
func MethodNotAllowed() gin.HandlerFunc {
	return func(c *gin.Context) {
		AbortWithError(c, http.StatusMethodNotAllowed, "Method Not Allowed")
	}
}
