package model

import "time"

// Post はブログ記事を表す。
// 表示用の読み出しでは常に著者のユーザー名をJOINして保持する。
type Post struct {
	ID             int64
	Title          string
	Body           string
	Created        time.Time
	AuthorID       int64
	AuthorUsername string
}

// IsAuthoredBy は指定ユーザーが記事の著者かどうかを判定する。
func (p *Post) IsAuthoredBy(user *User) bool {
	return user != nil && p.AuthorID == user.ID
}
