package services

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/foxxcyber/roomscan/internal/models"
)

// NormalizeLabel folds a free-text label into its dedup key: accents
// stripped, lowercased, every run of non letters/digits collapsed to one
// space, trimmed.
func NormalizeLabel(label string) string {
	folder := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(folder, label)
	if err != nil {
		folded = label
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	b.Grow(len(folded))
	gap := false
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			if gap && b.Len() > 0 {
				b.WriteByte(' ')
			}
			gap = false
			b.WriteRune(r)
			continue
		}
		gap = true
	}
	return b.String()
}

// Dedupe merges candidates that share a dedup key, keeping the most
// confident one. On an exact tie the first one seen wins. Output keeps the
// order in which each key was first seen; candidates with an empty key are
// dropped.
func Dedupe(items []models.CandidateItem) []models.CandidateItem {
	index := make(map[string]int, len(items))
	out := make([]models.CandidateItem, 0, len(items))
	for _, item := range items {
		key := NormalizeLabel(item.Label)
		if key == "" {
			continue
		}
		item.Label = strings.TrimSpace(item.Label)
		if pos, ok := index[key]; ok {
			if item.Confidence > out[pos].Confidence {
				out[pos] = item
			}
			continue
		}
		index[key] = len(out)
		out = append(out, item)
	}
	return out
}
