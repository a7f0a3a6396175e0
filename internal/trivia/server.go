package trivia

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	_ "modernc.org/sqlite"

	triviadb "github.com/nao1215/fsnd/internal/trivia/db"
	"github.com/nao1215/fsnd/pkg/middleware"
)

// エラーレスポンスのメッセージ。
const (
	msgBadRequest    = "Bad Request"
	msgNotFound      = "Not found"
	msgUnprocessable = "Unprocessable Entity"
	msgInternal      = "Internal Server Error"
)

// Server はトリビアサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// queries はsqlcが生成したクエリ実行オブジェクト。
	queries *triviadb.Queries
	// db はSQLiteデータベース接続。
	db *sql.DB
	// pick は候補の数nを受け取り、出題する問題の添字を返す。
	pick func(n int) int
}

// NewServer は新しいトリビアサーバーを生成する。
func NewServer(cfg Config) (*Server, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.DatabasePath)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	s, err := newServer(context.Background(), cfg, sqlDB)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return s, nil
}

// newServer はDB接続を受け取ってサーバーを組み立てる。
func newServer(ctx context.Context, cfg Config, sqlDB *sql.DB) (*Server, error) {
	if err := initSchema(ctx, sqlDB); err != nil {
		return nil, fmt.Errorf("スキーマ初期化に失敗: %w", err)
	}

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORS(cfg.CORSAllowedOrigins))
	router.HandleMethodNotAllowed = true
	router.NoRoute(func(c *gin.Context) {
		middleware.AbortWithError(c, http.StatusNotFound, msgNotFound)
	})
	router.NoMethod(middleware.MethodNotAllowed())

	s := &Server{
		router:  router,
		port:    cfg.Port,
		queries: triviadb.New(sqlDB),
		db:      sqlDB,
		pick:    rand.IntN,
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
func (s *Server) setupRoutes() {
	// カテゴリ一覧取得
	s.router.GET("/categories", s.handleListCategories())
	// カテゴリ別の問題一覧取得
	s.router.GET("/categories/:id/questions", s.handleListByCategory())

	questions := s.router.Group("/questions")
	{
		// 問題一覧取得（ページング）
		questions.GET("", s.handleListQuestions())
		// 問題作成
		questions.POST("", s.handleCreateQuestion())
		// 問題検索
		questions.POST("/search", s.handleSearch())
		// 問題削除
		questions.DELETE("/:id", s.handleDeleteQuestion())
	}

	// クイズの次の問題
	s.router.POST("/quizzes", s.handleQuiz())

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "trivia"})
	})
	s.router.GET("/metrics", middleware.MetricsHandler())
}

// createQuestionRequest は問題作成リクエストのJSON構造。
type createQuestionRequest struct {
	Question   *string  `json:"question"`
	Answer     *string  `json:"answer"`
	Category   *flexInt `json:"category"`
	Difficulty *flexInt `json:"difficulty"`
}

// searchRequest は問題検索リクエストのJSON構造。
type searchRequest struct {
	SearchTerm *string `json:"searchTerm"`
}

// categories は全カテゴリをID→名前のマップで返す。
func (s *Server) categories(ctx context.Context) (map[int64]string, error) {
	cats, err := s.queries.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("カテゴリ一覧の取得に失敗: %w", err)
	}
	return categoryMap(cats), nil
}

// internalError はエラーをログに出力して500を返す。
func internalError(c *gin.Context, err error) {
	log.Printf("内部エラー: %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	middleware.AbortWithError(c, http.StatusInternalServerError, msgInternal)
}

// handleListCategories はカテゴリ一覧取得を処理するハンドラを返す。
func (s *Server) handleListCategories() gin.HandlerFunc {
	return func(c *gin.Context) {
		cats, err := s.categories(c.Request.Context())
		if err != nil {
			internalError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "categories": cats})
	}
}

// handleListQuestions は問題一覧を1ページ10問で返すハンドラを返す。
// 範囲外のページは404を返す。
func (s *Server) handleListQuestions() gin.HandlerFunc {
	return func(c *gin.Context) {
		page, err := strconv.ParseInt(c.DefaultQuery("page", "1"), 10, 64)
		if err != nil || page < 1 {
			middleware.AbortWithError(c, http.StatusBadRequest, msgBadRequest)
			return
		}

		ctx := c.Request.Context()
		qs, err := s.queries.ListQuestionsPage(ctx, triviadb.ListQuestionsPageParams{
			Limit:  questionsPerPage,
			Offset: (page - 1) * questionsPerPage,
		})
		if err != nil {
			internalError(c, fmt.Errorf("問題一覧の取得に失敗: %w", err))
			return
		}
		if len(qs) == 0 {
			middleware.AbortWithError(c, http.StatusNotFound, msgNotFound)
			return
		}

		total, err := s.queries.CountQuestions(ctx)
		if err != nil {
			internalError(c, fmt.Errorf("問題数の取得に失敗: %w", err))
			return
		}
		cats, err := s.categories(ctx)
		if err != nil {
			internalError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success":          true,
			"questions":        toQuestionResponses(qs),
			"total_questions":  total,
			"categories":       cats,
			"current_category": currentCategory(qs, cats),
		})
	}
}

// handleCreateQuestion は問題作成を処理するハンドラを返す。
// 存在しないカテゴリを指定した場合は422を返す。
func (s *Server) handleCreateQuestion() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createQuestionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			middleware.AbortWithError(c, http.StatusBadRequest, msgBadRequest)
			return
		}
		if req.Question == nil || *req.Question == "" ||
			req.Answer == nil || *req.Answer == "" ||
			req.Category == nil || req.Difficulty == nil {
			middleware.AbortWithError(c, http.StatusBadRequest, msgBadRequest)
			return
		}
		difficulty := int64(*req.Difficulty)
		if difficulty < minDifficulty || difficulty > maxDifficulty {
			middleware.AbortWithError(c, http.StatusBadRequest, msgBadRequest)
			return
		}

		ctx := c.Request.Context()
		category := int64(*req.Category)
		if _, err := s.queries.GetCategory(ctx, category); errors.Is(err, sql.ErrNoRows) {
			middleware.AbortWithError(c, http.StatusUnprocessableEntity, msgUnprocessable)
			return
		} else if err != nil {
			internalError(c, fmt.Errorf("カテゴリの取得に失敗: %w", err))
			return
		}

		created, err := s.queries.CreateQuestion(ctx, triviadb.CreateQuestionParams{
			Question:   *req.Question,
			Answer:     *req.Answer,
			Category:   category,
			Difficulty: difficulty,
		})
		if err != nil {
			internalError(c, fmt.Errorf("問題の作成に失敗: %w", err))
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"success": true,
			"message": "Question Created",
			"created": created.ID,
		})
	}
}

// handleDeleteQuestion は問題削除を処理するハンドラを返す。
func (s *Server) handleDeleteQuestion() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			middleware.AbortWithError(c, http.StatusNotFound, msgNotFound)
			return
		}

		n, err := s.queries.DeleteQuestion(c.Request.Context(), id)
		if err != nil {
			internalError(c, fmt.Errorf("問題の削除に失敗: %w", err))
			return
		}
		if n == 0 {
			middleware.AbortWithError(c, http.StatusNotFound, msgNotFound)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"deleted": id,
			"message": fmt.Sprintf("Question with ID: %d is Deleted", id),
		})
	}
}

// handleSearch は問題文の部分一致検索を処理するハンドラを返す。
// 大文字小文字は区別しない。一致する問題が無い場合は404を返す。
func (s *Server) handleSearch() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req searchRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.SearchTerm == nil {
			middleware.AbortWithError(c, http.StatusBadRequest, msgBadRequest)
			return
		}

		ctx := c.Request.Context()
		qs, err := s.queries.SearchQuestions(ctx, escapeLike(*req.SearchTerm))
		if err != nil {
			internalError(c, fmt.Errorf("問題の検索に失敗: %w", err))
			return
		}
		if len(qs) == 0 {
			middleware.AbortWithError(c, http.StatusNotFound, msgNotFound)
			return
		}

		cats, err := s.categories(ctx)
		if err != nil {
			internalError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success":         true,
			"questions":       toQuestionResponses(qs),
			"totalQuestions":  len(qs),
			"currentCategory": currentCategory(qs, cats),
		})
	}
}

// handleListByCategory はカテゴリ別の問題一覧を処理するハンドラを返す。
func (s *Server) handleListByCategory() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			middleware.AbortWithError(c, http.StatusNotFound, msgNotFound)
			return
		}

		ctx := c.Request.Context()
		category, err := s.queries.GetCategory(ctx, id)
		if errors.Is(err, sql.ErrNoRows) {
			middleware.AbortWithError(c, http.StatusNotFound, msgNotFound)
			return
		}
		if err != nil {
			internalError(c, fmt.Errorf("カテゴリの取得に失敗: %w", err))
			return
		}

		qs, err := s.queries.ListQuestionsByCategory(ctx, category.ID)
		if err != nil {
			internalError(c, fmt.Errorf("カテゴリ別問題一覧の取得に失敗: %w", err))
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success":         true,
			"questions":       toQuestionResponses(qs),
			"totalQuestions":  len(qs),
			"currentCategory": category.Type,
		})
	}
}

// handleQuiz はクイズの次の問題を返すハンドラを返す。
// 未出題の問題からランダムに1問選び、残りが無い場合は"Game Over"を返す。
func (s *Server) handleQuiz() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req quizRequest
		if err := c.ShouldBindJSON(&req); err != nil || req.QuizCategory == nil {
			middleware.AbortWithError(c, http.StatusBadRequest, msgBadRequest)
			return
		}

		ctx := c.Request.Context()
		var (
			qs  []triviadb.Question
			err error
		)
		if categoryID := int64(req.QuizCategory.ID); categoryID == 0 {
			qs, err = s.queries.ListQuestions(ctx)
		} else {
			if _, err := s.queries.GetCategory(ctx, categoryID); errors.Is(err, sql.ErrNoRows) {
				middleware.AbortWithError(c, http.StatusNotFound, msgNotFound)
				return
			} else if err != nil {
				internalError(c, fmt.Errorf("カテゴリの取得に失敗: %w", err))
				return
			}
			qs, err = s.queries.ListQuestionsByCategory(ctx, categoryID)
		}
		if err != nil {
			internalError(c, fmt.Errorf("出題候補の取得に失敗: %w", err))
			return
		}

		candidates := remaining(qs, req.PreviousQuestions)
		if len(candidates) == 0 {
			c.JSON(http.StatusOK, gin.H{"success": true, "message": "Game Over"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success":  true,
			"question": toQuestionResponse(candidates[s.pick(len(candidates))]),
		})
	}
}
