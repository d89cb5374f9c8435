package services

import (
	"testing"

	"github.com/foxxcyber/roomscan/internal/models"
)

func TestNormalizeLabel(t *testing.T) {
	cases := map[string]string{
		"Sofa":                     "sofa",
		"  Grey-Sofa  Sectional!! ": "grey sofa sectional",
		"Café Table":               "cafe table",
		"TV (55\")":                "tv 55",
		"!!!":                      "",
		"":                         "",
	}
	for in, want := range cases {
		if got := NormalizeLabel(in); got != want {
			t.Fatalf("NormalizeLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDedupeKeepsMostConfident(t *testing.T) {
	items := []models.CandidateItem{
		{Label: "Sofa", Confidence: 0.6},
		{Label: "sofa!!", Confidence: 0.9},
		{Label: "Sofa ", Confidence: 0.3},
	}

	got := Dedupe(items)
	if len(got) != 1 {
		t.Fatalf("expected 1 item, got %d: %+v", len(got), got)
	}
	if got[0].Label != "sofa!!" || got[0].Confidence != 0.9 {
		t.Fatalf("expected the 0.9 entry to survive, got %+v", got[0])
	}
}

func TestDedupeTieKeepsFirstSeen(t *testing.T) {
	got := Dedupe([]models.CandidateItem{
		{Label: "Desk Lamp", Confidence: 0.7},
		{Label: "desk-lamp", Confidence: 0.7},
	})
	if len(got) != 1 || got[0].Label != "Desk Lamp" {
		t.Fatalf("expected first-seen entry, got %+v", got)
	}
}

func TestDedupeKeepsFirstSeenOrderAndDropsEmpty(t *testing.T) {
	got := Dedupe([]models.CandidateItem{
		{Label: "Chair", Confidence: 0.5},
		{Label: "---", Confidence: 0.99},
		{Label: "Table", Confidence: 0.5},
		{Label: "CHAIR", Confidence: 0.8},
	})
	if len(got) != 2 {
		t.Fatalf("expected 2 items, got %+v", got)
	}
	if got[0].Label != "CHAIR" || got[1].Label != "Table" {
		t.Fatalf("unexpected order: %+v", got)
	}
}
