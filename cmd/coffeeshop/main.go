// コーヒーショップサービスのエントリポイント。
// ドリンクメニューを公開し、詳細の閲覧とメニューの編集は権限付きのトークンでのみ許可する。
package main

import (
	"errors"
	"io/fs"
	"log"

	"github.com/joho/godotenv"

	"github.com/nao1215/fsnd/internal/coffeeshop"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf(".envの読み込みに失敗: %v", err)
	}

	cfg, err := coffeeshop.LoadConfig()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗: %v", err)
	}

	server, err := coffeeshop.NewServer(cfg)
	if err != nil {
		log.Fatalf("コーヒーショップサーバーの初期化に失敗: %v", err)
	}
	defer server.Close()

	log.Printf("コーヒーショップサービスを起動します: :%s", cfg.Port)
	if err := server.Run(); err != nil {
		log.Fatalf("コーヒーショップサービスの起動に失敗: %v", err)
	}
}
