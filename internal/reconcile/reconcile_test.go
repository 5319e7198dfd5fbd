package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vaultsync/vaultsync/internal/tokenizer"
)

func TestReconcileIdentity(t *testing.T) {
	tok := tokenizer.WordsTokenizer{}
	res := Reconcile("the cat sat", "the cat sat", "the cat sat", tok)
	assert.Equal(t, "the cat sat", res.Text())
	for _, tkn := range res.Tokens {
		assert.Equal(t, OriginalKept, tkn.Provenance)
	}
}

func TestReconcileOneSided(t *testing.T) {
	tok := tokenizer.WordsTokenizer{}
	original := "The cat sat on the mat."
	right := "The cat sat on the rug."
	res := Reconcile(original, original, right, tok)
	assert.Equal(t, right, res.Text())
}

func TestReconcileDisjointConcurrentEdits(t *testing.T) {
	tok := tokenizer.WordsTokenizer{}
	original := "The cat sat on the mat."
	left := "The cat sat on the rug."
	right := "The big cat sat on the mat."
	res := Reconcile(original, left, right, tok)
	assert.Equal(t, "The big cat sat on the rug.", res.Text())
}

func TestReconcileSymmetryOnDisjointEdits(t *testing.T) {
	tok := tokenizer.WordsTokenizer{}
	original := "The cat sat on the mat."
	left := "The cat sat on the rug."
	right := "The big cat sat on the mat."

	lr := Reconcile(original, left, right, tok).Text()
	rl := Reconcile(original, right, left, tok).Text()
	assert.Equal(t, lr, rl)
}

func TestReconcileConflictingInsertSameAnchor(t *testing.T) {
	tok := tokenizer.WordsTokenizer{}
	res := Reconcile("color", "colour", "COLOR", tok)
	assert.Equal(t, "colourCOLOR", res.Text())
	assert.True(t, res.HasConflict())
}

func TestReconcileBothRemoved(t *testing.T) {
	tok := tokenizer.WordsTokenizer{}
	res := Reconcile("a b c", "a c", "a c", tok)
	assert.Equal(t, "a c", res.Text())

	// The words tokenizer makes whitespace its own token, so dropping "b"
	// also drops one of the spaces around it.
	var sawBothRemoved bool
	var bothRemoved []string
	for _, tkn := range res.Tokens {
		if tkn.Provenance == OriginalRemovedByBoth {
			sawBothRemoved = true
			bothRemoved = append(bothRemoved, tkn.Text)
		}
	}
	assert.Equal(t, []string{"b", " "}, bothRemoved)
	assert.True(t, sawBothRemoved)
}

func TestReconcileIdenticalInsertsAddedByBoth(t *testing.T) {
	tok := tokenizer.WordsTokenizer{}
	res := Reconcile("a c", "a b c", "a b c", tok)
	assert.Equal(t, "a b c", res.Text())

	found := false
	for _, tkn := range res.Tokens {
		if tkn.Text == "b" {
			found = true
			assert.Equal(t, AddedByBoth, tkn.Provenance)
		}
	}
	assert.True(t, found)
}

func TestReconcileTotalOnEmptyInputs(t *testing.T) {
	tok := tokenizer.WordsTokenizer{}
	require.NotPanics(t, func() {
		Reconcile("", "", "", tok)
		Reconcile("", "x", "y", tok)
		Reconcile("x", "", "", tok)
	})
}

func TestMergeTextNormalizesNewlines(t *testing.T) {
	original := "a\r\nb"
	current := "a\r\nb\r\nc"
	incoming := "a\nb\nd"
	merged := MergeText(original, current, incoming)
	assert.Contains(t, merged, "\n")
	assert.NotContains(t, merged, "\r")
}

func TestReconcileCharactersTokenizer(t *testing.T) {
	tok := tokenizer.CharactersTokenizer{}
	res := Reconcile("abc", "abc", "abc", tok)
	assert.Equal(t, "abc", res.Text())
}

func TestReconcileWordsCaseInsensitive(t *testing.T) {
	tok := tokenizer.WordsCITokenizer{}
	// Both sides "changed" Color to the same word under folding, so it
	// should align as kept rather than conflict.
	res := Reconcile("Color is nice", "COLOR is nice", "color is nice", tok)
	assert.False(t, res.HasConflict())
}
