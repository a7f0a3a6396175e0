package coffeeshop

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	drinkdb "github.com/nao1215/fsnd/internal/coffeeshop/db"
)

// errEmptyRecipe はレシピに材料が1つも含まれていないことを表す。
var errEmptyRecipe = errors.New("レシピに材料がありません")

// Ingredient はレシピを構成する材料。
type Ingredient struct {
	// Name は材料名。
	Name string `json:"name"`
	// Color は表示色。
	Color string `json:"color"`
	// Parts は配合比。
	Parts int `json:"parts"`
}

// shortIngredient は材料名を伏せた公開用の材料表現。
type shortIngredient struct {
	Color string `json:"color"`
	Parts int    `json:"parts"`
}

// drinkResponse はドリンクのJSONレスポンス構造。
// Recipeには短縮形か完全形のどちらかが入る。
type drinkResponse struct {
	ID     int64  `json:"id"`
	Title  string `json:"title"`
	Recipe any    `json:"recipe"`
}

// parseRecipe はリクエストのrecipeを材料の配列に変換する。
// 単一の材料オブジェクトも1要素の配列として受け付ける。
func parseRecipe(raw json.RawMessage) ([]Ingredient, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, errEmptyRecipe
	}

	var recipe []Ingredient
	switch trimmed[0] {
	case '{':
		var one Ingredient
		if err := json.Unmarshal(trimmed, &one); err != nil {
			return nil, fmt.Errorf("材料のデコードに失敗: %w", err)
		}
		recipe = []Ingredient{one}
	case '[':
		if err := json.Unmarshal(trimmed, &recipe); err != nil {
			return nil, fmt.Errorf("レシピのデコードに失敗: %w", err)
		}
	default:
		return nil, fmt.Errorf("レシピは配列かオブジェクトである必要があります: %s", trimmed)
	}

	if len(recipe) == 0 {
		return nil, errEmptyRecipe
	}
	return recipe, nil
}

// encodeRecipe は材料の配列をDB保存用のJSON文字列にする。
func encodeRecipe(recipe []Ingredient) (string, error) {
	b, err := json.Marshal(recipe)
	if err != nil {
		return "", fmt.Errorf("レシピのエンコードに失敗: %w", err)
	}
	return string(b), nil
}

// decodeRecipe はDBに保存されたレシピを材料の配列に戻す。
func decodeRecipe(stored string) ([]Ingredient, error) {
	var recipe []Ingredient
	if err := json.Unmarshal([]byte(stored), &recipe); err != nil {
		return nil, fmt.Errorf("保存済みレシピのデコードに失敗: %w", err)
	}
	return recipe, nil
}

// toShort はドリンクを材料名を含まない短縮形に変換する。
func toShort(d drinkdb.Drink) (drinkResponse, error) {
	recipe, err := decodeRecipe(d.Recipe)
	if err != nil {
		return drinkResponse{}, err
	}
	short := make([]shortIngredient, 0, len(recipe))
	for _, r := range recipe {
		short = append(short, shortIngredient{Color: r.Color, Parts: r.Parts})
	}
	return drinkResponse{ID: d.ID, Title: d.Title, Recipe: short}, nil
}

// toLong はドリンクを材料名を含む完全形に変換する。
func toLong(d drinkdb.Drink) (drinkResponse, error) {
	recipe, err := decodeRecipe(d.Recipe)
	if err != nil {
		return drinkResponse{}, err
	}
	return drinkResponse{ID: d.ID, Title: d.Title, Recipe: recipe}, nil
}

// toResponses はドリンク一覧をconvで変換する。
func toResponses(drinks []drinkdb.Drink, conv func(drinkdb.Drink) (drinkResponse, error)) ([]drinkResponse, error) {
	out := make([]drinkResponse, 0, len(drinks))
	for _, d := range drinks {
		r, err := conv(d)
		if err != nil {
			return nil, fmt.Errorf("ドリンク %d の変換に失敗: %w", d.ID, err)
		}
		out = append(out, r)
	}
	return out, nil
}
