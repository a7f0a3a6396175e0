// Package coffeeshop はドリンクメニューを管理するコーヒーショップAPIを提供する。
//
// 一覧の取得は誰でも行えるが、材料名を含む詳細の取得とメニューの作成・更新・削除には
// Bearerトークンと操作ごとの権限（get:drinks-detail, post:drinks, patch:drinks, delete:drinks）が必要になる。
package coffeeshop
