// Package education はGDM学習モジュールのカタログと、外部フィードから取得する参考記事を提供する。
package education

import (
	"errors"
	"strings"
)

// ErrUnknownCategory はカテゴリが存在しない場合のエラー。
var ErrUnknownCategory = errors.New("education: unknown category")

// AllCategories はカテゴリ指定なしを表す値。
const AllCategories = "All"

// Module は学習モジュール。
type Module struct {
	ID          int    `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Duration    string `json:"duration"`
	Lessons     int    `json:"lessons"`
}

// Categories はカタログのカテゴリを表示順に返す。
func Categories() []string {
	return []string{"Basics", "Diet", "Exercise", "Monitoring", "Safety", "Postpartum"}
}

func catalog() []Module {
	return []Module{
		{1, "Understanding GDM", "Learn about gestational diabetes, how it develops, and why monitoring is important.", "Basics", "15 min", 4},
		{2, "Nutrition & Diet", "Discover the best foods for blood sugar control and meal planning strategies.", "Diet", "20 min", 6},
		{3, "Safe Exercise During Pregnancy", "Safe and effective exercises that help manage blood sugar levels.", "Exercise", "18 min", 5},
		{4, "Monitoring Your Health", "How to use this app and track your glucose, weight, and other vital signs.", "Monitoring", "12 min", 3},
		{5, "Complications & When to Seek Help", "Understanding warning signs and when to contact your healthcare provider.", "Safety", "10 min", 3},
		{6, "Postpartum Care", "What to expect after delivery and long-term health management.", "Postpartum", "14 min", 4},
	}
}

// Modules はカテゴリで絞り込んだモジュールを返す。
// カテゴリは大文字小文字を区別しない。空文字または "All" の場合は全件を返す。
func Modules(category string) ([]Module, error) {
	category = strings.TrimSpace(category)
	all := catalog()
	if category == "" || strings.EqualFold(category, AllCategories) {
		return all, nil
	}

	canonical, ok := canonicalCategory(category)
	if !ok {
		return nil, ErrUnknownCategory
	}

	out := make([]Module, 0, len(all))
	for _, m := range all {
		if m.Category == canonical {
			out = append(out, m)
		}
	}
	return out, nil
}

func canonicalCategory(category string) (string, bool) {
	for _, c := range Categories() {
		if strings.EqualFold(c, category) {
			return c, true
		}
	}
	return "", false
}
