package ranking

import (
	"math"
	"reflect"
	"testing"
)

func items() []Item {
	return []Item{
		{ID: "a", Text: "golang concurrency patterns", Type: "article", Score: 0.80},
		{ID: "b", Text: "cooking pasta at home", Type: "recipe", Tags: []string{"food"}, Score: 0.78},
		{ID: "c", Text: "kubernetes deployment guide", Type: "guide", Score: 0.75},
	}
}

func TestDisabledRankerIsNoOp(t *testing.T) {
	r := New(false)
	in := items()
	out := r.Rank(in, &Context{MemoryKeywords: []string{"golang"}})
	for i := range in {
		if !reflect.DeepEqual(out[i], in[i]) && out[i].ID != in[i].ID {
			t.Fatalf("disabled ranker changed results at %d", i)
		}
	}
}

func TestEmptyContextIsNoOp(t *testing.T) {
	r := New(true)
	out := r.Rank(items(), nil)
	if out[0].ID != "a" || out[0].Score != 0.80 {
		t.Fatalf("empty context changed results: %+v", out[0])
	}
	out = r.Rank(items(), &Context{})
	if out[0].Score != 0.80 {
		t.Fatalf("zero-value context changed scores: %+v", out[0])
	}
}

func TestBoostsAndReorder(t *testing.T) {
	r := New(true)
	rctx := &Context{
		MemoryKeywords: []string{"pasta"},
		PreferredTags:  []string{"food"},
	}
	out := r.Rank(items(), rctx)

	// b: 0.78 + 0.15 (memory) + 0.10 (tag) = 1.03, capped at 1.0.
	if out[0].ID != "b" {
		t.Fatalf("boosted item not first: %s", out[0].ID)
	}
	if out[0].Score != 1.0 {
		t.Fatalf("score not capped: %v", out[0].Score)
	}
	// a untouched.
	for _, it := range out {
		if it.ID == "a" && math.Abs(it.Score-0.80) > 1e-9 {
			t.Fatalf("unmatched item rescored: %v", it.Score)
		}
	}
}

func TestSessionBoost(t *testing.T) {
	r := New(true)
	out := r.Rank(items(), &Context{SessionTopics: []string{"kubernetes"}})
	for _, it := range out {
		if it.ID == "c" {
			if math.Abs(it.Score-0.85) > 1e-9 {
				t.Fatalf("session boost = %v, want 0.85", it.Score)
			}
			return
		}
	}
	t.Fatal("item c missing")
}

func TestPreferredTypeBoost(t *testing.T) {
	r := New(true)
	out := r.Rank(items(), &Context{PreferredTypes: []string{"guide"}})
	for _, it := range out {
		if it.ID == "c" && math.Abs(it.Score-0.85) > 1e-9 {
			t.Fatalf("type boost = %v, want 0.85", it.Score)
		}
	}
}

func TestTagAndTypeBoostsStack(t *testing.T) {
	r := New(true)
	in := []Item{{ID: "x", Text: "weeknight pasta", Type: "recipe", Tags: []string{"food"}, Score: 0.50}}
	out := r.Rank(in, &Context{PreferredTags: []string{"food"}, PreferredTypes: []string{"recipe"}})
	// 0.50 + 0.10 (tag) + 0.10 (type) = 0.70.
	if math.Abs(out[0].Score-0.70) > 1e-9 {
		t.Fatalf("stacked preference boosts = %v, want 0.70", out[0].Score)
	}
}

func TestInputNotMutated(t *testing.T) {
	r := New(true)
	in := items()
	r.Rank(in, &Context{MemoryKeywords: []string{"pasta"}})
	if in[1].Score != 0.78 {
		t.Fatalf("ranker mutated input slice: %v", in[1].Score)
	}
}
