// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer は勤怠メモ・勤務場所・タスク内容などの自由入力テキストを検査し、
// マークアップを含む入力を拒否する。受け付けたテキストは前後の空白以外を変更しない。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hitoshi/dealerdesk/internal/model"
)

// TextSanitizer は自由入力テキストの検査機能のインターフェース。
type TextSanitizer interface {
	// Clean は前後の空白を取り除いたテキストを返す。
	// bluemondayがタグとして解釈する部分を含む場合は入力エラーを返す。
	// 保存・監査される内容は入力と常に一致し、一部だけが黙って除去されることはない。
	Clean(field, raw string) (string, error)
}

// textSanitizer はTextSanitizerの実装。
// bluemondayのポリシーはスレッドセーフなので共有して使う。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はbluemondayのStrictPolicy（全タグ除去）で検査するTextSanitizerを生成する。
func NewTextSanitizer() TextSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// Clean はStrictPolicyを通した結果が入力と一致するかでマークアップの有無を判定する。
// StrictPolicyは本文の&や<をエンティティに変換するため、比較前に元の文字へ戻す。
func (s *textSanitizer) Clean(field, raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", nil
	}
	if strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(trimmed))) != trimmed {
		return "", model.NewMarkupNotAllowedError(field)
	}
	return trimmed, nil
}
