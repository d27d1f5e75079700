// Package model はドメインモデルを定義する。
package model

// User はブログに投稿するアカウントを表す。
// ユーザー名は登録後に変更されない。
type User struct {
	ID           int64
	Username     string
	PasswordHash string // 一方向ハッシュ。平文との比較は行わない
}
