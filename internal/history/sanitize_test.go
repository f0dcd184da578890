package history

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestCleanText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "plain", input: "Hello world", want: "Hello world"},
		{name: "markup stripped", input: "<p>Match <b>day</b> recap</p>", want: "Match day recap"},
		{name: "script removed", input: "hi<script>alert(1)</script> there", want: "hi there"},
		{name: "entities unescaped", input: "Fish &amp; chips", want: "Fish & chips"},
		{name: "whitespace collapsed", input: "  a\n\n b\t c ", want: "a b c"},
		{name: "empty", input: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanText(tt.input); got != tt.want {
				t.Errorf("CleanText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 10); got != "short" {
		t.Errorf("Truncate() = %q, want %q", got, "short")
	}

	long := strings.Repeat("word ", 100)
	got := Truncate(long, 50)
	if utf8.RuneCountInString(got) > 50 {
		t.Errorf("Truncate() length = %d, want <= 50", utf8.RuneCountInString(got))
	}
	if !strings.HasSuffix(got, "…") {
		t.Errorf("Truncate() = %q, want ellipsis suffix", got)
	}

	multi := strings.Repeat("é", 30)
	if n := utf8.RuneCountInString(Truncate(multi, 10)); n != 10 {
		t.Errorf("Truncate() multibyte length = %d, want 10", n)
	}
}

func TestBlockID_Stable(t *testing.T) {
	a := BlockID(PeriodWeekly, "highlight", 0, "Launch day")
	b := BlockID(PeriodWeekly, "highlight", 0, "Launch day")
	if a != b {
		t.Fatalf("BlockID not stable: %q vs %q", a, b)
	}
	if !strings.HasPrefix(a, "blk_") || len(a) != 20 {
		t.Errorf("BlockID = %q, want blk_ + 16 hex chars", a)
	}

	variants := []string{
		BlockID(PeriodMonthly, "highlight", 0, "Launch day"),
		BlockID(PeriodWeekly, "timeline", 0, "Launch day"),
		BlockID(PeriodWeekly, "highlight", 1, "Launch day"),
		BlockID(PeriodWeekly, "highlight", 0, "Launch night"),
	}
	for _, v := range variants {
		if v == a {
			t.Errorf("BlockID collision for differing input: %q", v)
		}
	}
}

func TestPermalink(t *testing.T) {
	if got := Permalink("c1", "p1"); got != "/capsules/c1/posts/p1" {
		t.Errorf("Permalink() = %q", got)
	}
	if got := SourceID("p1"); got != "post:p1" {
		t.Errorf("SourceID() = %q", got)
	}
}
