// トリビアサービスのエントリポイント。
// 問題とカテゴリの管理、検索、クイズの出題を提供する。
package main

import (
	"errors"
	"io/fs"
	"log"

	"github.com/joho/godotenv"

	"github.com/nao1215/fsnd/internal/trivia"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Fatalf(".envの読み込みに失敗: %v", err)
	}

	cfg := trivia.LoadConfig()
	server, err := trivia.NewServer(cfg)
	if err != nil {
		log.Fatalf("トリビアサーバーの初期化に失敗: %v", err)
	}
	defer server.Close()

	log.Printf("トリビアサービスを起動します: :%s", cfg.Port)
	if err := server.Run(); err != nil {
		log.Fatalf("トリビアサービスの起動に失敗: %v", err)
	}
}
