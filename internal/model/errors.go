// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, chat, education, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeForbiddenRole      = "FORBIDDEN_ROLE"
	ErrCodeInvalidCategory    = "INVALID_CATEGORY"
	ErrCodeRateLimitExceeded  = "RATE_LIMIT_EXCEEDED"
	ErrCodeReadingUnavailable = "READING_UNAVAILABLE"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeCSRFTokenInvalid   = "CSRF_TOKEN_INVALID"
	ErrCodeInvalidRequestBody = "INVALID_REQUEST_BODY"
)

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "Not authenticated",
		Category: "auth",
		Action:   "Please log in again.",
	}
}

// NewForbiddenRoleError はロールが許可されていない場合のエラーを生成する。
func NewForbiddenRoleError(role Role) *APIError {
	return &APIError{
		Code:     ErrCodeForbiddenRole,
		Message:  fmt.Sprintf("This resource is not available for role %q", role),
		Category: "auth",
		Action:   "Sign in with a clinician account to view patient data.",
	}
}

// NewInvalidCategoryError は教育モジュールのカテゴリが不明な場合のエラーを生成する。
func NewInvalidCategoryError(category string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCategory,
		Message:  fmt.Sprintf("Unknown education category: %s", category),
		Category: "validation",
		Action:   "Use one of Basics, Diet, Exercise, Monitoring, Safety, Postpartum.",
	}
}

// NewReadingUnavailableError は参考記事フィードを取得できない場合のエラーを生成する。
func NewReadingUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeReadingUnavailable,
		Message:  "Further reading is not available right now.",
		Category: "education",
		Action:   "Please try again later.",
	}
}

// NewInvalidRequestBodyError はリクエストボディが解析できない場合のエラーを生成する。
func NewInvalidRequestBodyError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequestBody,
		Message:  "Request body is not valid JSON",
		Category: "validation",
		Action:   "Send a JSON body matching the endpoint format.",
	}
}
