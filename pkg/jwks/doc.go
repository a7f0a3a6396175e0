// Package jwks は認可サーバーが公開するJSON Web Key Setを取得する。
//
// デフォルトでは呼び出しごとに鍵セットを再取得する。
// WithCacheTTLを指定した場合のみ、取得結果をプロセス内に一定時間保持する。
package jwks
