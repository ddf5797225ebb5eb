package model

import "time"

// Role はアカウントの役割を表す。
type Role string

// 定義済みロール
const (
	RolePatient Role = "patient"
	RoleDoctor  Role = "doctor"
	RoleNurse   Role = "nurse"
)

// DefaultRole はロールが不明な場合に使用するロール。
const DefaultRole = RolePatient

// ParseRole は文字列をRoleに変換する。未知の値や空文字はfalseを返す。
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RolePatient, RoleDoctor, RoleNurse:
		return Role(s), true
	default:
		return "", false
	}
}

// IsClinician は医師または看護師かどうかを返す。
func (r Role) IsClinician() bool {
	return r == RoleDoctor || r == RoleNurse
}

// String はロール文字列を返す。
func (r Role) String() string {
	return string(r)
}

// Credentials はログイン時のみ利用される一時的な認証情報。保存しない。
type Credentials struct {
	Email    string
	Password string
}

// Account は識別プロバイダーが管理するアカウントを表す。
type Account struct {
	ID       string
	Email    string
	Role     Role
	FullName string
}

// Session はCookieとしてのみ表現されるログインセッション。
// サーバー側には保存しない。
type Session struct {
	AccessToken string
	Role        Role
	ExpiresAt   time.Time
}
