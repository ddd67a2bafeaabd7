package submission

import "unicode"

// CountWords counts every Chinese or Japanese character as one word and any
// other run of letters or digits as one word. Apostrophes and hyphens inside
// a run do not split it.
func CountWords(text string) int {
	n := 0
	inWord := false
	for _, r := range text {
		switch {
		case unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana):
			n++
			inWord = false
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if !inWord {
				n++
				inWord = true
			}
		case inWord && (r == '\'' || r == '’' || r == '-'):
		default:
			inWord = false
		}
	}
	return n
}
