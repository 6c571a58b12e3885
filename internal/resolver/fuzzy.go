package resolver

import (
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
)

// Fuzzy String Matching
//
// Campus rosters are messy: the same person appears as "Neha Mehta",
// "neha  mehta" and "N. Mehta" across profile exports, helpdesk
// tickets and RSVP sheets. Three ratios cover the common corruption
// modes:
//   1. Edit ratio        — typos and OCR noise
//   2. Token-sort ratio  — reordered name parts ("Mehta Neha")
//   3. Token-set ratio   — extra tokens (middle names, honorifics)
// The name score is the maximum of the three.

// normalizeName lowercases and collapses internal whitespace
func normalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// editRatio converts Levenshtein distance into a similarity in [0,1]
func editRatio(a, b string) float64 {
	if a == b {
		return 1.0
	}
	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	if longest == 0 {
		return 1.0
	}
	dist := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(dist)/float64(longest)
}

// tokenSortRatio compares the two strings with tokens sorted, making
// the ratio insensitive to word order
func tokenSortRatio(a, b string) float64 {
	return editRatio(sortedTokens(a), sortedTokens(b))
}

func sortedTokens(s string) string {
	tokens := strings.Fields(s)
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

// tokenSetRatio compares the shared token core against each side's
// full token set, tolerating extra tokens on either side
func tokenSetRatio(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)

	var shared, onlyA, onlyB []string
	for tok := range setA {
		if setB[tok] {
			shared = append(shared, tok)
		} else {
			onlyA = append(onlyA, tok)
		}
	}
	for tok := range setB {
		if !setA[tok] {
			onlyB = append(onlyB, tok)
		}
	}
	sort.Strings(shared)
	sort.Strings(onlyA)
	sort.Strings(onlyB)

	core := strings.Join(shared, " ")
	fullA := strings.TrimSpace(core + " " + strings.Join(onlyA, " "))
	fullB := strings.TrimSpace(core + " " + strings.Join(onlyB, " "))

	best := editRatio(core, fullA)
	if r := editRatio(core, fullB); r > best {
		best = r
	}
	if r := editRatio(fullA, fullB); r > best {
		best = r
	}
	return best
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(s) {
		set[tok] = true
	}
	return set
}

// NameSimilarity scores two raw names in [0,1] as the maximum of the
// edit, token-sort and token-set ratios over normalized input
func NameSimilarity(a, b string) float64 {
	na := normalizeName(a)
	nb := normalizeName(b)
	if na == "" || nb == "" {
		return 0.0
	}

	best := editRatio(na, nb)
	if r := tokenSortRatio(na, nb); r > best {
		best = r
	}
	if r := tokenSetRatio(na, nb); r > best {
		best = r
	}
	return best
}

// EmailSimilarity scores two email addresses by plain edit ratio over
// lowercased input
func EmailSimilarity(a, b string) float64 {
	la := strings.ToLower(strings.TrimSpace(a))
	lb := strings.ToLower(strings.TrimSpace(b))
	if la == "" || lb == "" {
		return 0.0
	}
	return editRatio(la, lb)
}
