package cost

import (
	"strings"
	"sync"
	"testing"
)

func TestDefaultPricing(t *testing.T) {
	pricing := DefaultPricing()
	if len(pricing) == 0 {
		t.Fatal("default pricing should not be empty")
	}
	for _, model := range []string{"claude-sonnet-4-20250514", "gpt-4o", "deepseek-chat"} {
		if _, ok := pricing[model]; !ok {
			t.Errorf("expected pricing for %q", model)
		}
	}
	for model, p := range pricing {
		if p.InputPerMillion <= 0 || p.OutputPerMillion <= 0 {
			t.Errorf("model %q has non-positive pricing: in=%f out=%f",
				model, p.InputPerMillion, p.OutputPerMillion)
		}
	}
}

func TestCalculate(t *testing.T) {
	p := Pricing{InputPerMillion: 3, OutputPerMillion: 15, CacheWritesPerMillion: 3.75, CacheReadsPerMillion: 0.3}
	u := Usage{InputTokens: 1000, OutputTokens: 500, CacheWriteTokens: 2000, CacheReadTokens: 10000}

	expected := (2000*3.75 + 10000*0.3 + 1000*3.0 + 500*15.0) / 1_000_000
	if got := Calculate(p, u); got != expected {
		t.Fatalf("cost %f != expected %f", got, expected)
	}
}

func TestCalculateIsDeterministic(t *testing.T) {
	p := DefaultPricing()["claude-sonnet-4-20250514"]
	u := Usage{InputTokens: 12345, OutputTokens: 678, CacheWriteTokens: 9, CacheReadTokens: 101112}

	first := Calculate(p, u)
	for i := 0; i < 100; i++ {
		if got := Calculate(p, u); got != first {
			t.Fatalf("call %d returned %f, first call returned %f", i, got, first)
		}
	}

	// Recording usage on trackers must not leak into the pure function.
	tr := NewTracker("claude-sonnet-4-20250514", nil)
	tr.Record(u, nil)
	tr.Record(u, nil)
	if got := Calculate(p, u); got != first {
		t.Fatalf("Calculate changed after tracker use: %f != %f", got, first)
	}
}

func TestLookupPrefersLongestPrefix(t *testing.T) {
	table := DefaultPricing()
	p, ok := Lookup(table, "gpt-4o-mini-2024-07-18")
	if !ok {
		t.Fatal("expected prefix match")
	}
	if p != table["gpt-4o-mini"] {
		t.Fatalf("expected gpt-4o-mini pricing, got %+v", p)
	}
	if _, ok := Lookup(table, "unknown-model-xyz"); ok {
		t.Fatal("unknown model should not match")
	}
}

func TestTrackerRecord(t *testing.T) {
	tr := NewTracker("deepseek-chat", nil)
	c := tr.Record(Usage{InputTokens: 1000, OutputTokens: 500}, nil)

	expected := (1000.0*0.27 + 500.0*1.10) / 1_000_000
	if c != expected {
		t.Fatalf("cost %f != expected %f", c, expected)
	}
	u, total := tr.Totals()
	if total != c || u.InputTokens != 1000 || u.OutputTokens != 500 {
		t.Fatalf("unexpected totals: %+v %f", u, total)
	}
}

func TestTrackerReportedCostWins(t *testing.T) {
	tr := NewTracker("deepseek-chat", nil)
	reported := 1.5
	if c := tr.Record(Usage{InputTokens: 10}, &reported); c != 1.5 {
		t.Fatalf("expected reported cost, got %f", c)
	}
}

func TestTrackerUnknownModel(t *testing.T) {
	tr := NewTracker("unknown-model-xyz", nil)
	if c := tr.Record(Usage{InputTokens: 1000, OutputTokens: 500}, nil); c != 0 {
		t.Fatalf("expected 0 cost for unknown model, got %f", c)
	}
	if !strings.Contains(tr.Summary(), "no pricing") {
		t.Errorf("summary should mention missing pricing: %s", tr.Summary())
	}
}

func TestTrackerWithOverrides(t *testing.T) {
	tr := NewTracker("my-custom-model", map[string]Pricing{
		"my-custom-model": {InputPerMillion: 10.0, OutputPerMillion: 20.0},
	})
	c := tr.Record(Usage{InputTokens: 1_000_000, OutputTokens: 500_000}, nil)
	if expected := 10.0 + 10.0; c != expected {
		t.Fatalf("cost %f != expected %f", c, expected)
	}
}

func TestTrackerRestore(t *testing.T) {
	tr := NewTracker("deepseek-chat", nil)
	tr.Restore(Usage{InputTokens: 100}, 0.5)
	tr.Record(Usage{InputTokens: 100}, nil)
	u, total := tr.Totals()
	if u.InputTokens != 200 || total <= 0.5 {
		t.Fatalf("restore not applied: %+v %f", u, total)
	}
}

func TestTrackerConcurrent(t *testing.T) {
	tr := NewTracker("gpt-4o", nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Record(Usage{InputTokens: 1, OutputTokens: 1}, nil)
		}()
	}
	wg.Wait()
	u, _ := tr.Totals()
	if u.InputTokens != 50 {
		t.Fatalf("expected 50 input tokens, got %d", u.InputTokens)
	}
}

func TestFormatDollars(t *testing.T) {
	if got := FormatDollars(0.001); got != "$0.0010" {
		t.Errorf("got %s", got)
	}
	if got := FormatDollars(1.234); got != "$1.23" {
		t.Errorf("got %s", got)
	}
}

func TestMistakeCounter(t *testing.T) {
	m := NewMistakeCounter(0)
	if m.Limit() != DefaultMistakeLimit {
		t.Fatalf("limit = %d", m.Limit())
	}
	m.Add()
	m.Add()
	if m.Reached() {
		t.Fatal("two mistakes should not reach the limit")
	}
	if m.Add() != 3 || !m.Reached() {
		t.Fatal("third mistake should reach the limit")
	}
	m.Reset()
	if m.Count() != 0 || m.Reached() {
		t.Fatal("reset should clear the streak")
	}
}

func TestMistakeCounterTrip(t *testing.T) {
	m := NewMistakeCounter(3)
	m.Add()
	m.Trip()
	if !m.Reached() || m.Count() != 3 {
		t.Fatalf("trip should raise the streak to the limit, got %d", m.Count())
	}
	m.Add()
	m.Trip()
	if m.Count() != 4 {
		t.Fatalf("trip must not lower the streak, got %d", m.Count())
	}
}
