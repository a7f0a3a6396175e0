// Package httpclient は外部サービスからJSONを取得するHTTPクライアントを提供する。
//
// 認可サーバーが公開するJSON Web Key Setの取得など、
// タイムアウト付きのGETリクエストを統一的に扱う。
package httpclient
