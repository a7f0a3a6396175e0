// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// Bearerトークンの検証と権限確認を行うトークンゲート、パニックリカバリ、
// CORS設定、リクエストID、共通形式のエラーレスポンスなど、
// 全サービスで共通して使用するミドルウェアを含む。
package middleware
