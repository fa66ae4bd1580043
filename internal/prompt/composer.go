// Package prompt はユーザー入力とスタイル/テーマ修飾子をプロバイダへ送る
// 最終プロンプトへ合成します。純粋関数のみで状態を持ちません。
package prompt

import (
	"sort"
	"strings"
)

// スタイル選択肢に対応する修飾フレーズ。フォームの値と対応します。
var styleModifiers = map[string]string{
	"retro":      "retro 70s aesthetic, distressed texture, vintage color grading",
	"minimal":    "minimalist single-line art, monochrome, lots of negative space",
	"kawaii":     "kawaii chibi style, pastel colors, rounded shapes",
	"streetwear": "bold streetwear graphic, oversized typography, urban attitude",
	"botanical":  "botanical line engraving, fine hatching, natural motifs",
}

// テーマ選択肢に対応する修飾フレーズ。
var themeModifiers = map[string]string{
	"space":  "cosmic space theme, stars and nebulae",
	"ocean":  "ocean theme, waves and marine life",
	"music":  "music theme, instruments and sound waves",
	"nature": "nature theme, mountains and forests",
}

// Styles は選択可能なスタイル名をソート済みで返します。フォームの選択肢
// 生成に使用します。
func Styles() []string {
	return sortedKeys(styleModifiers)
}

// Themes は選択可能なテーマ名をソート済みで返します。
func Themes() []string {
	return sortedKeys(themeModifiers)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Composer はデザインスタイルの共通サフィックスを保持します。
type Composer struct {
	styleSuffix string
}

// NewComposer は設定のスタイルサフィックスを注入して初期化します。
func NewComposer(styleSuffix string) *Composer {
	return &Composer{styleSuffix: styleSuffix}
}

// Compose はユーザーテキスト、スタイル、テーマを結合した最終プロンプトを
// 返します。未知のスタイル/テーマは黙って無視します。
func (c *Composer) Compose(userText, style, theme string) string {
	parts := []string{strings.TrimSpace(userText)}

	if m, ok := styleModifiers[style]; ok {
		parts = append(parts, m)
	}
	if m, ok := themeModifiers[theme]; ok {
		parts = append(parts, m)
	}
	if c.styleSuffix != "" {
		parts = append(parts, c.styleSuffix)
	}

	var nonEmpty []string
	for _, p := range parts {
		if p != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, ", ")
}
