package textsplit

import (
	"math"
	"unicode"
)

// Tokenizer counts model tokens in a piece of text.
type Tokenizer interface {
	Count(text string) int
}

// EstimateTokenizer approximates BPE token counts without a vocabulary:
// roughly four characters per token for alphabetic scripts and one token per
// Han/Hiragana/Katakana/Hangul character.
type EstimateTokenizer struct{}

func (EstimateTokenizer) Count(text string) int {
	if text == "" {
		return 0
	}
	other := 0
	wide := 0
	for _, r := range text {
		if isWide(r) {
			wide++
			continue
		}
		other++
	}
	return wide + int(math.Ceil(float64(other)/4.0))
}

func isWide(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}
