package prompt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComposer(t *testing.T) {
	c := NewComposer("print-ready, high resolution")

	t.Run("テキストとスタイル修飾子を結合する", func(t *testing.T) {
		got := c.Compose("a cat astronaut", "retro", "space")

		parts := strings.Split(got, ", ")
		assert.Equal(t, "a cat astronaut", parts[0])
		assert.Contains(t, got, "retro 70s aesthetic")
		assert.Contains(t, got, "cosmic space theme")
		assert.True(t, strings.HasSuffix(got, "print-ready, high resolution"))
	})

	t.Run("未知の修飾子は黙って無視する", func(t *testing.T) {
		got := c.Compose("a cat", "vaporwave", "dreams")
		assert.Equal(t, "a cat, print-ready, high resolution", got)
	})

	t.Run("修飾子なしはテキストとサフィックスのみ", func(t *testing.T) {
		got := c.Compose("  a cat  ", "", "")
		assert.Equal(t, "a cat, print-ready, high resolution", got)
	})

	t.Run("サフィックスなしでも壊れない", func(t *testing.T) {
		bare := NewComposer("")
		got := bare.Compose("a cat", "", "")
		assert.Equal(t, "a cat", got)
	})

	t.Run("同じ入力は常に同じ出力になる", func(t *testing.T) {
		first := c.Compose("a cat", "minimal", "ocean")
		second := c.Compose("a cat", "minimal", "ocean")
		assert.Equal(t, first, second)
	})
}

func TestStyleCatalog(t *testing.T) {
	t.Run("選択肢はソート済みで返る", func(t *testing.T) {
		styles := Styles()
		assert.IsIncreasing(t, styles)
		assert.Contains(t, styles, "retro")

		themes := Themes()
		assert.IsIncreasing(t, themes)
		assert.Contains(t, themes, "space")
	})
}
