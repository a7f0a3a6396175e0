// Package trivia はトリビアクイズの問題とカテゴリを管理するAPIを提供する。
package trivia
