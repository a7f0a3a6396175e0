package trivia

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	triviadb "github.com/nao1215/fsnd/internal/trivia/db"
)

// questionsPerPage は一覧の1ページあたりの問題数。
const questionsPerPage = 10

// 難易度の範囲。
const (
	minDifficulty = 1
	maxDifficulty = 5
)

// questionResponse は問題のJSONレスポンス構造。
type questionResponse struct {
	ID         int64  `json:"id"`
	Question   string `json:"question"`
	Answer     string `json:"answer"`
	Category   int64  `json:"category"`
	Difficulty int64  `json:"difficulty"`
}

func toQuestionResponse(q triviadb.Question) questionResponse {
	return questionResponse{
		ID:         q.ID,
		Question:   q.Question,
		Answer:     q.Answer,
		Category:   q.Category,
		Difficulty: q.Difficulty,
	}
}

func toQuestionResponses(qs []triviadb.Question) []questionResponse {
	out := make([]questionResponse, 0, len(qs))
	for _, q := range qs {
		out = append(out, toQuestionResponse(q))
	}
	return out
}

// categoryMap はカテゴリ一覧をID→名前のマップにする。
func categoryMap(categories []triviadb.Category) map[int64]string {
	m := make(map[int64]string, len(categories))
	for _, c := range categories {
		m[c.ID] = c.Type
	}
	return m
}

// currentCategory は問題リストの先頭の問題が属するカテゴリをID→名前の形で返す。
// 問題が無い場合はnilを返す。
func currentCategory(qs []triviadb.Question, categories map[int64]string) map[int64]string {
	if len(qs) == 0 {
		return nil
	}
	id := qs[0].Category
	return map[int64]string{id: categories[id]}
}

// flexInt は数値または数値の文字列として送られる整数。
// フロントエンドのselect要素は値を文字列で送るため両方を受け付ける。
type flexInt int64

// UnmarshalJSON は数値と数値文字列のどちらも整数として解釈する。
func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := string(bytes.TrimSpace(b))
	if unquoted, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unquoted)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("整数ではありません: %s", b)
	}
	*f = flexInt(n)
	return nil
}

// escapeLike はLIKE句のワイルドカードをエスケープする。エスケープ文字は'\'。
func escapeLike(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(term)
}

// quizRequest はクイズの次の問題を求めるリクエストのJSON構造。
type quizRequest struct {
	// PreviousQuestions は既に出題した問題のID。
	PreviousQuestions []int64 `json:"previous_questions"`
	// QuizCategory は出題カテゴリ。IDが0の場合は全カテゴリ。
	QuizCategory *struct {
		ID flexInt `json:"id"`
	} `json:"quiz_category"`
}

// remaining はpreviousに含まれない問題を返す。
func remaining(qs []triviadb.Question, previous []int64) []triviadb.Question {
	asked := make(map[int64]struct{}, len(previous))
	for _, id := range previous {
		asked[id] = struct{}{}
	}
	var out []triviadb.Question
	for _, q := range qs {
		if _, ok := asked[q.ID]; !ok {
			out = append(out, q)
		}
	}
	return out
}
