package rules

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"civic-voice-go/internal/types"
)

func TestDefaultRulesValidate(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default rules invalid: %v", err)
	}
	c := MustCompile(Default())
	if len(c.Categories) != len(types.Categories) {
		t.Fatalf("expected %d category sets, got %d", len(types.Categories), len(c.Categories))
	}
	for i, set := range c.Categories {
		if set.Category != types.Categories[i] {
			t.Fatalf("category %d out of tie-break order: %s", i, set.Category)
		}
	}
	if c.LongCallSeconds != defaultLongCallSeconds {
		t.Fatalf("expected long call default %d, got %d", defaultLongCallSeconds, c.LongCallSeconds)
	}
}

func TestParseOverridesDefaults(t *testing.T) {
	doc := `
categories:
  waste: [bins, landfill]
priorities:
  medium: [annoying]
  long_call_seconds: 120
`
	r, err := Parse([]byte(doc))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if got := r.Categories[types.CategoryWaste]; len(got) != 2 || got[0] != "bins" {
		t.Fatalf("waste keywords not overridden: %v", got)
	}
	if len(r.Categories[types.CategoryInfrastructure]) == 0 {
		t.Fatalf("infrastructure defaults should be kept")
	}
	if r.Priorities.LongCallSeconds != 120 {
		t.Fatalf("expected long call 120, got %d", r.Priorities.LongCallSeconds)
	}
	if len(r.Priorities.Urgent) == 0 {
		t.Fatalf("urgent defaults should be kept")
	}
}

func TestParseLongCallZeroDisablesRule(t *testing.T) {
	r, err := Parse([]byte("priorities:\n  long_call_seconds: 0\n"))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if r.Priorities.LongCallSeconds != 0 {
		t.Fatalf("explicit 0 should disable the long-call rule, got %d", r.Priorities.LongCallSeconds)
	}

	r, err = Parse([]byte("priorities:\n  high: [major]\n"))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if r.Priorities.LongCallSeconds != defaultLongCallSeconds {
		t.Fatalf("absent key should keep %d, got %d", defaultLongCallSeconds, r.Priorities.LongCallSeconds)
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown category": "categories:\n  parks: [bench]\n",
		"empty keyword":    "categories:\n  waste: [\"  \"]\n",
		"duplicate":        "priorities:\n  high: [major, Major]\n",
		"negative":         "priorities:\n  long_call_seconds: -5\n",
		"bad yaml":         "categories: [",
	}
	for name, doc := range cases {
		if _, err := Parse([]byte(doc)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestKeywordWordBoundary(t *testing.T) {
	kw := compileKeyword("Power")
	if len(kw.Find("the POWER is out")) == 0 {
		t.Fatalf("expected case-insensitive match")
	}
	if len(kw.Find("powerline down")) == 0 {
		t.Fatalf("expected prefix match at word start")
	}
	if len(kw.Find("youth empowerment program")) != 0 {
		t.Fatalf("did not expect match inside a word")
	}
	road := compileKeyword("road")
	if n := len(road.Find("road after road, roads everywhere")); n != 3 {
		t.Fatalf("expected 3 matches, got %d", n)
	}
}

func TestHolderReloadKeepsPreviousOnError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	h := NewHolder(MustCompile(Default()))
	before := h.Current()

	if err := os.WriteFile(path, []byte("categories:\n  parks: [bench]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := h.Reload(path); err == nil || !strings.Contains(err.Error(), "parks") {
		t.Fatalf("expected unknown category error, got %v", err)
	}
	if h.Current() != before {
		t.Fatalf("rules should not change after a rejected reload")
	}

	if err := os.WriteFile(path, []byte("priorities:\n  long_call_seconds: 60\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := h.Reload(path); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if h.Current().LongCallSeconds != 60 {
		t.Fatalf("expected reloaded threshold 60, got %d", h.Current().LongCallSeconds)
	}
}

func TestHolderOnLoadPatchesReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte("priorities:\n  long_call_seconds: 60\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	h := NewHolder(MustCompile(Default()))
	h.OnLoad(func(r *Rules) { r.Priorities.LongCallSeconds = 240 })
	if err := h.Reload(path); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if h.Current().LongCallSeconds != 240 {
		t.Fatalf("override should survive reload, got %d", h.Current().LongCallSeconds)
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte("priorities:\n  long_call_seconds: 60\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	h := NewHolder(MustCompile(Default()))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := logrus.New()
	l.SetOutput(io.Discard)
	if err := h.Watch(ctx, path, logrus.NewEntry(l)); err != nil {
		t.Fatalf("watch: %v", err)
	}

	if err := os.WriteFile(path, []byte("priorities:\n  long_call_seconds: 90\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for h.Current().LongCallSeconds != 90 {
		if time.Now().After(deadline) {
			t.Fatalf("rules were not reloaded, threshold %d", h.Current().LongCallSeconds)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
