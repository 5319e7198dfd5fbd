// Package tokenizer splits strings into ordered token sequences under one
// of three interchangeable strategies, forming the unit of comparison the
// reconciler aligns during a three-way merge.
package tokenizer

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
)

// Kind classifies a Token.
type Kind int

const (
	KindWord Kind = iota
	KindWhitespace
	KindPunctuation
	KindOther
)

func (k Kind) String() string {
	switch k {
	case KindWord:
		return "word"
	case KindWhitespace:
		return "whitespace"
	case KindPunctuation:
		return "punctuation"
	default:
		return "other"
	}
}

// Token is a single unit produced by a Tokenizer.
type Token struct {
	Text string
	Kind Kind
}

// Name is a stable wire identifier for a tokenizer, per the external
// interface's tokenizer identifier list.
type Name string

const (
	Characters          Name = "characters"
	Words               Name = "words"
	WordsCaseInsensitive Name = "words-case-insensitive"
)

// Tokenizer splits a string into a Token sequence.
type Tokenizer interface {
	Name() Name
	Tokenize(s string) []Token

	// Equal reports whether two tokens of this tokenizer's own production
	// should be treated as the same element during LCS alignment. Defaults
	// to exact text equality except under WordsCaseInsensitive.
	Equal(a, b Token) bool
}

// ForName resolves one of the three stable tokenizer identifiers. Unknown
// names fall back to Words, matching the spec's requirement that the
// operation be total.
func ForName(name Name) Tokenizer {
	switch name {
	case Characters:
		return CharactersTokenizer{}
	case WordsCaseInsensitive:
		return WordsCITokenizer{}
	default:
		return WordsTokenizer{}
	}
}

// CharactersTokenizer treats every Unicode scalar value as its own token.
type CharactersTokenizer struct{}

func (CharactersTokenizer) Name() Name { return Characters }

func (CharactersTokenizer) Tokenize(s string) []Token {
	runes := []rune(s)
	tokens := make([]Token, 0, len(runes))
	for _, r := range runes {
		tokens = append(tokens, Token{Text: string(r), Kind: classifyRune(r)})
	}
	return tokens
}

func (CharactersTokenizer) Equal(a, b Token) bool { return a.Text == b.Text }

func classifyRune(r rune) Kind {
	switch {
	case isWordRune(r):
		return KindWord
	case isSpaceRune(r):
		return KindWhitespace
	default:
		return KindPunctuation
	}
}

func isWordRune(r rune) bool {
	return wordRuneRE.MatchString(string(r))
}

func isSpaceRune(r rune) bool {
	return spaceRuneRE.MatchString(string(r))
}

var (
	wordRuneRE  = regexp.MustCompile(`[\p{L}\p{N}_]`)
	spaceRuneRE = regexp.MustCompile(`\s`)

	wordRunRE  = regexp.MustCompile(`[\p{L}\p{N}_]+`)
	spaceRunRE = regexp.MustCompile(`\s+`)
)

// WordsTokenizer splits maximal [\p{L}\p{N}_]+ runs as words, maximal \s+
// runs as whitespace, and every other scalar as a single-rune punctuation
// token.
type WordsTokenizer struct{}

func (WordsTokenizer) Name() Name { return Words }

func (WordsTokenizer) Tokenize(s string) []Token {
	return tokenizeWords(s)
}

func (WordsTokenizer) Equal(a, b Token) bool { return a.Text == b.Text }

func tokenizeWords(s string) []Token {
	var tokens []Token
	runes := []rune(s)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case isWordRune(r):
			j := i + 1
			for j < len(runes) && isWordRune(runes[j]) {
				j++
			}
			tokens = append(tokens, Token{Text: string(runes[i:j]), Kind: KindWord})
			i = j
		case isSpaceRune(r):
			j := i + 1
			for j < len(runes) && isSpaceRune(runes[j]) {
				j++
			}
			tokens = append(tokens, Token{Text: string(runes[i:j]), Kind: KindWhitespace})
			i = j
		default:
			tokens = append(tokens, Token{Text: string(r), Kind: KindPunctuation})
			i++
		}
	}
	return tokens
}

// WordsCITokenizer is WordsTokenizer, but LCS alignment treats word tokens
// as equal under Unicode simple case folding; emitted text always preserves
// the original casing of whichever side contributed the token.
type WordsCITokenizer struct{}

func (WordsCITokenizer) Name() Name { return WordsCaseInsensitive }

func (WordsCITokenizer) Tokenize(s string) []Token {
	return tokenizeWords(s)
}

var foldCaser = cases.Fold()

func foldKey(s string) string {
	return foldCaser.String(s)
}

func (WordsCITokenizer) Equal(a, b Token) bool {
	if a.Kind != b.Kind {
		return false
	}
	if a.Kind != KindWord {
		return a.Text == b.Text
	}
	return foldKey(a.Text) == foldKey(b.Text)
}

// NormalizeNewlines converts CRLF and CR line endings to LF, matching the
// file operations abstraction's contract that mergeable content is always
// read and merged with LF endings.
func NormalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return s
}
