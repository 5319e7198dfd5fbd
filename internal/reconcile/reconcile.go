// Package reconcile implements the three-way text merge at the center of
// VaultSync: aligning tokenized original/left/right sequences via two LCS
// passes and emitting a single ordered sequence of tokens carrying
// per-token provenance.
package reconcile

import (
	"github.com/vaultsync/vaultsync/internal/tokenizer"
)

// Provenance labels a MergedToken with which side kept, removed, or
// introduced it.
type Provenance int

const (
	OriginalKept Provenance = iota
	OriginalRemovedByLeft
	OriginalRemovedByRight
	OriginalRemovedByBoth
	AddedByLeft
	AddedByRight
	AddedByBoth
)

func (p Provenance) String() string {
	switch p {
	case OriginalKept:
		return "original-kept"
	case OriginalRemovedByLeft:
		return "original-removed-by-left"
	case OriginalRemovedByRight:
		return "original-removed-by-right"
	case OriginalRemovedByBoth:
		return "original-removed-by-both"
	case AddedByLeft:
		return "added-by-left"
	case AddedByRight:
		return "added-by-right"
	case AddedByBoth:
		return "added-by-both"
	default:
		return "unknown"
	}
}

// Removed reports whether a token of this provenance is left out of the
// "plain merged text" projection.
func (p Provenance) Removed() bool {
	return p == OriginalRemovedByLeft || p == OriginalRemovedByRight || p == OriginalRemovedByBoth
}

// MergedToken is one element of a reconcile Result.
type MergedToken struct {
	Text       string
	Provenance Provenance
}

// Result is the total, deterministic output of Reconcile.
type Result struct {
	Tokens []MergedToken
}

// Text concatenates every non-removed token's text: the "plain merged
// text" view described in spec §4.1.
func (r Result) Text() string {
	var out []byte
	for _, t := range r.Tokens {
		if !t.Provenance.Removed() {
			out = append(out, t.Text...)
		}
	}
	return string(out)
}

// ConflictText concatenates every token regardless of provenance: the
// "conflict view".
func (r Result) ConflictText() string {
	var out []byte
	for _, t := range r.Tokens {
		out = append(out, t.Text...)
	}
	return string(out)
}

// HasConflict reports whether left and right introduced different inserts
// at the same anchor point, i.e. AddedByLeft/AddedByRight tokens appear
// (as opposed to a clean AddedByBoth run or no insert at all).
func (r Result) HasConflict() bool {
	for _, t := range r.Tokens {
		if t.Provenance == AddedByLeft || t.Provenance == AddedByRight {
			return true
		}
	}
	return false
}

// Reconcile performs the three-way merge described in spec §4.1. It is
// total: every triple of inputs produces a result, and the same inputs
// always produce byte-identical output.
func Reconcile(original, left, right string, tok tokenizer.Tokenizer) Result {
	origTokens := tok.Tokenize(original)
	leftTokens := tok.Tokenize(left)
	rightTokens := tok.Tokenize(right)

	leftAlign := alignToOriginal(origTokens, leftTokens, tok)
	rightAlign := alignToOriginal(origTokens, rightTokens, tok)

	var out []MergedToken

	emitRun := func(leftRun, rightRun []tokenizer.Token) {
		if runsEqual(leftRun, rightRun, tok) {
			for _, t := range leftRun {
				out = append(out, MergedToken{Text: t.Text, Provenance: AddedByBoth})
			}
			return
		}
		for _, t := range leftRun {
			out = append(out, MergedToken{Text: t.Text, Provenance: AddedByLeft})
		}
		for _, t := range rightRun {
			out = append(out, MergedToken{Text: t.Text, Provenance: AddedByRight})
		}
	}

	for i := 0; i <= len(origTokens); i++ {
		emitRun(leftAlign.insertsBefore[i], rightAlign.insertsBefore[i])

		if i == len(origTokens) {
			break
		}

		keptLeft := leftAlign.kept[i]
		keptRight := rightAlign.kept[i]
		text := origTokens[i].Text

		switch {
		case keptLeft && keptRight:
			out = append(out, MergedToken{Text: text, Provenance: OriginalKept})
		case keptLeft && !keptRight:
			out = append(out, MergedToken{Text: text, Provenance: OriginalRemovedByRight})
		case !keptLeft && keptRight:
			out = append(out, MergedToken{Text: text, Provenance: OriginalRemovedByLeft})
		default:
			out = append(out, MergedToken{Text: text, Provenance: OriginalRemovedByBoth})
		}
	}

	return Result{Tokens: out}
}

// MergeText is the convenience wrapper used by file write operations: it
// runs Reconcile with the words tokenizer, normalizes line endings of all
// three inputs to LF first, and returns the non-removed projection with LF
// endings preserved.
func MergeText(original, current, incoming string) string {
	return MergeTextWith(original, current, incoming, tokenizer.WordsTokenizer{})
}

// MergeTextWith is MergeText parameterized over the tokenizer, letting a
// vault pick the `.vaultsync.yaml`-configured tokenizer (§4.1) for its
// three-way merges instead of the words default.
func MergeTextWith(original, current, incoming string, tok tokenizer.Tokenizer) string {
	original = tokenizer.NormalizeNewlines(original)
	current = tokenizer.NormalizeNewlines(current)
	incoming = tokenizer.NormalizeNewlines(incoming)
	return Reconcile(original, current, incoming, tok).Text()
}

// alignment records, for each original token index, whether a side kept it,
// plus the run of side-only inserts anchored immediately before that index
// (insertsBefore[len(original)] holds the trailing run after the last
// token).
type alignment struct {
	kept          []bool
	insertsBefore [][]tokenizer.Token
}

// alignToOriginal computes an LCS-based alignment between original and
// side, returning per-original-token kept/removed status and the runs of
// side-only tokens anchored between LCS matches.
func alignToOriginal(original, side []tokenizer.Token, tok tokenizer.Tokenizer) alignment {
	pairs := lcs(original, side, tok)

	a := alignment{
		kept:          make([]bool, len(original)),
		insertsBefore: make([][]tokenizer.Token, len(original)+1),
	}

	prevOrig := -1
	prevSide := -1
	for _, p := range pairs {
		a.kept[p.origIdx] = true
		a.insertsBefore[p.origIdx] = append([]tokenizer.Token{}, side[prevSide+1:p.sideIdx]...)
		prevOrig = p.origIdx
		prevSide = p.sideIdx
	}
	_ = prevOrig
	a.insertsBefore[len(original)] = append([]tokenizer.Token{}, side[prevSide+1:]...)

	return a
}

type lcsPair struct {
	origIdx int
	sideIdx int
}

// lcs computes the longest common subsequence between original and side
// under the tokenizer's notion of token equality, returning the aligned
// index pairs in increasing order of both indices.
func lcs(original, side []tokenizer.Token, tok tokenizer.Tokenizer) []lcsPair {
	n, m := len(original), len(side)
	if n == 0 || m == 0 {
		return nil
	}

	// dp[i][j] = length of LCS of original[i:], side[j:]
	dp := make([][]int32, n+1)
	for i := range dp {
		dp[i] = make([]int32, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if tok.Equal(original[i], side[j]) {
				dp[i][j] = dp[i+1][j+1] + 1
			} else if dp[i+1][j] >= dp[i][j+1] {
				dp[i][j] = dp[i+1][j]
			} else {
				dp[i][j] = dp[i][j+1]
			}
		}
	}

	pairs := make([]lcsPair, 0, dp[0][0])
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case tok.Equal(original[i], side[j]):
			pairs = append(pairs, lcsPair{origIdx: i, sideIdx: j})
			i++
			j++
		case dp[i+1][j] >= dp[i][j+1]:
			i++
		default:
			j++
		}
	}

	return pairs
}

func runsEqual(a, b []tokenizer.Token, tok tokenizer.Tokenizer) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !tok.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}
