package coffeeshop

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	drinkdb "github.com/nao1215/fsnd/internal/coffeeshop/db"
	"github.com/nao1215/fsnd/pkg/jwks"
	"github.com/nao1215/fsnd/pkg/middleware"
)

// ドリンク操作に必要な権限。
const (
	permGetDrinksDetail = "get:drinks-detail"
	permPostDrinks      = "post:drinks"
	permPatchDrinks     = "patch:drinks"
	permDeleteDrinks    = "delete:drinks"
)

// エラーレスポンスのメッセージ。
const (
	msgBadRequest    = "Bad Request"
	msgNotFound      = "Not Found"
	msgUnprocessable = "unprocessable"
	msgInternal      = "Internal Server Error"
)

// Server はコーヒーショップサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// queries はsqlcが生成したクエリ実行オブジェクト。
	queries *drinkdb.Queries
	// db はSQLiteデータベース接続。
	db *sql.DB
	// gate は保護されたルートのトークンゲート。
	gate *middleware.TokenGate
}

// NewServer は新しいコーヒーショップサーバーを生成する。
// SQLiteデータベースの初期化と鍵セット取得元の構築を行う。
func NewServer(cfg Config) (*Server, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.DatabasePath)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	keys := jwks.NewProvider(
		cfg.Auth.KeySetURL(),
		jwks.WithCacheTTL(cfg.JWKSCacheTTL),
		jwks.WithTimeout(cfg.JWKSFetchTimeout),
	)

	s, err := newServer(context.Background(), cfg, sqlDB, keys)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	log.Printf("鍵セットの取得先: %s", keys.URL())
	return s, nil
}

// newServer はDB接続と鍵セット取得元を受け取ってサーバーを組み立てる。
func newServer(ctx context.Context, cfg Config, sqlDB *sql.DB, keys middleware.KeySetProvider) (*Server, error) {
	if err := initSchema(ctx, sqlDB); err != nil {
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORS(cfg.CORSAllowedOrigins))
	router.HandleMethodNotAllowed = true
	router.NoRoute(middleware.NotFound())
	router.NoMethod(middleware.MethodNotAllowed())

	s := &Server{
		router:  router,
		port:    cfg.Port,
		queries: drinkdb.New(sqlDB),
		db:      sqlDB,
		gate:    middleware.NewTokenGate(cfg.Auth, keys),
	}
	s.setupRoutes()

	return s, nil
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// Close はデータベース接続を閉じる。
func (s *Server) Close() error {
	return s.db.Close()
}

// setupRoutes はAPIルーティングを設定する。
// 一覧以外のドリンク操作はそれぞれの権限を要求する。
func (s *Server) setupRoutes() {
	// ドリンク一覧（短縮形）
	s.router.GET("/drinks", s.handleList())
	// ドリンク一覧（完全形）
	s.router.GET("/drinks-detail", s.gate.Require(permGetDrinksDetail, s.handleListDetail()))
	// ドリンク作成
	s.router.POST("/drinks", s.gate.Require(permPostDrinks, s.handleCreate()))
	// ドリンク更新
	s.router.PATCH("/drinks/:id", s.gate.Require(permPatchDrinks, s.handleUpdate()))
	// ドリンク削除
	s.router.DELETE("/drinks/:id", s.gate.Require(permDeleteDrinks, s.handleDelete()))

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "coffeeshop"})
	})
	s.router.GET("/metrics", middleware.MetricsHandler())
}

// createDrinkRequest はドリンク作成リクエストのJSON構造。
type createDrinkRequest struct {
	// Title はドリンク名。
	Title string `json:"title"`
	// Recipe は材料の配列、または単一の材料。
	Recipe json.RawMessage `json:"recipe"`
}

// updateDrinkRequest はドリンク更新リクエストのJSON構造。
// 省略したフィールドは変更しない。
type updateDrinkRequest struct {
	Title  *string         `json:"title"`
	Recipe json.RawMessage `json:"recipe"`
}

// handleList はドリンク一覧を短縮形で返すハンドラを返す。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.respondDrinks(c, toShort)
	}
}

// handleListDetail はドリンク一覧を完全形で返すハンドラを返す。
func (s *Server) handleListDetail() middleware.ClaimsHandler {
	return func(_ jwt.MapClaims, c *gin.Context) {
		s.respondDrinks(c, toLong)
	}
}

// respondDrinks は全ドリンクをconvで変換して返す。
func (s *Server) respondDrinks(c *gin.Context, conv func(drinkdb.Drink) (drinkResponse, error)) {
	drinks, err := s.queries.ListDrinks(c.Request.Context())
	if err != nil {
		log.Printf("ドリンク一覧取得エラー: %v", err)
		middleware.AbortWithError(c, http.StatusInternalServerError, msgInternal)
		return
	}

	responses, err := toResponses(drinks, conv)
	if err != nil {
		log.Printf("ドリンク変換エラー: %v", err)
		middleware.AbortWithError(c, http.StatusInternalServerError, msgInternal)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "drinks": responses})
}

// handleCreate はドリンク作成を処理するハンドラを返す。
// タイトルの重複は422を返す。
func (s *Server) handleCreate() middleware.ClaimsHandler {
	return func(claims jwt.MapClaims, c *gin.Context) {
		var req createDrinkRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			middleware.AbortWithError(c, http.StatusBadRequest, msgBadRequest)
			return
		}
		if req.Title == "" || !present(req.Recipe) {
			middleware.AbortWithError(c, http.StatusBadRequest, msgBadRequest)
			return
		}

		recipe, err := parseRecipe(req.Recipe)
		if err != nil {
			middleware.AbortWithError(c, http.StatusBadRequest, msgBadRequest)
			return
		}
		stored, err := encodeRecipe(recipe)
		if err != nil {
			log.Printf("ドリンク作成エラー: %v", err)
			middleware.AbortWithError(c, http.StatusInternalServerError, msgInternal)
			return
		}

		created, err := s.queries.CreateDrink(c.Request.Context(), drinkdb.CreateDrinkParams{
			Title:  req.Title,
			Recipe: stored,
		})
		if isConstraintError(err) {
			middleware.AbortWithError(c, http.StatusUnprocessableEntity, msgUnprocessable)
			return
		}
		if err != nil {
			log.Printf("ドリンク作成エラー: %v", err)
			middleware.AbortWithError(c, http.StatusInternalServerError, msgInternal)
			return
		}
		log.Printf("ドリンクを作成しました: id=%d, sub=%v", created.ID, claims["sub"])

		s.respondDrink(c, created)
	}
}

// handleUpdate はドリンク更新を処理するハンドラを返す。
// titleとrecipeのうち指定されたものだけを更新する。
func (s *Server) handleUpdate() middleware.ClaimsHandler {
	return func(claims jwt.MapClaims, c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}

		var req updateDrinkRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			middleware.AbortWithError(c, http.StatusBadRequest, msgBadRequest)
			return
		}
		if req.Title != nil && *req.Title == "" {
			middleware.AbortWithError(c, http.StatusBadRequest, msgBadRequest)
			return
		}

		current, err := s.queries.GetDrink(c.Request.Context(), id)
		if errors.Is(err, sql.ErrNoRows) {
			middleware.AbortWithError(c, http.StatusNotFound, msgNotFound)
			return
		}
		if err != nil {
			log.Printf("ドリンク取得エラー: %v", err)
			middleware.AbortWithError(c, http.StatusInternalServerError, msgInternal)
			return
		}

		params := drinkdb.UpdateDrinkParams{ID: id, Title: current.Title, Recipe: current.Recipe}
		if req.Title != nil {
			params.Title = *req.Title
		}
		if present(req.Recipe) {
			recipe, err := parseRecipe(req.Recipe)
			if err != nil {
				middleware.AbortWithError(c, http.StatusBadRequest, msgBadRequest)
				return
			}
			if params.Recipe, err = encodeRecipe(recipe); err != nil {
				log.Printf("ドリンク更新エラー: %v", err)
				middleware.AbortWithError(c, http.StatusInternalServerError, msgInternal)
				return
			}
		}

		updated, err := s.queries.UpdateDrink(c.Request.Context(), params)
		if isConstraintError(err) {
			middleware.AbortWithError(c, http.StatusUnprocessableEntity, msgUnprocessable)
			return
		}
		if err != nil {
			log.Printf("ドリンク更新エラー: %v", err)
			middleware.AbortWithError(c, http.StatusInternalServerError, msgInternal)
			return
		}
		log.Printf("ドリンクを更新しました: id=%d, sub=%v", updated.ID, claims["sub"])

		s.respondDrink(c, updated)
	}
}

// handleDelete はドリンク削除を処理するハンドラを返す。
func (s *Server) handleDelete() middleware.ClaimsHandler {
	return func(claims jwt.MapClaims, c *gin.Context) {
		id, ok := parseID(c)
		if !ok {
			return
		}

		n, err := s.queries.DeleteDrink(c.Request.Context(), id)
		if err != nil {
			log.Printf("ドリンク削除エラー: %v", err)
			middleware.AbortWithError(c, http.StatusInternalServerError, msgInternal)
			return
		}
		if n == 0 {
			middleware.AbortWithError(c, http.StatusNotFound, msgNotFound)
			return
		}
		log.Printf("ドリンクを削除しました: id=%d, sub=%v", id, claims["sub"])

		c.JSON(http.StatusOK, gin.H{"success": true, "delete": id})
	}
}

// respondDrink は1件のドリンクを完全形の配列として返す。
func (s *Server) respondDrink(c *gin.Context, d drinkdb.Drink) {
	long, err := toLong(d)
	if err != nil {
		log.Printf("ドリンク変換エラー: %v", err)
		middleware.AbortWithError(c, http.StatusInternalServerError, msgInternal)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "drinks": []drinkResponse{long}})
}

// parseID はパスパラメータのidを整数として取り出す。
// 不正な場合は400を返してfalseを返す。
func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		middleware.AbortWithError(c, http.StatusBadRequest, msgBadRequest)
		return 0, false
	}
	return id, true
}

// present はJSONフィールドが指定されnullでないかを判定する。
func present(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// isConstraintError はSQLiteの制約違反エラーかを判定する。
func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code()&0xff == sqlite3.SQLITE_CONSTRAINT
}
