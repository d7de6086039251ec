package validate

import (
	"fmt"
	"strings"
	"testing"
)

func TestValidate_DenylistRejections(t *testing.T) {
	v := New(100)

	tests := []struct {
		name  string
		query string
		want  string // substring of the rejection reason
	}{
		{"leading pipe delete", `| delete index=main`, "delete"},
		{"piped delete", `search index=main error | delete`, "delete"},
		{"quoted delete", `search index=main | "delete"`, "delete"},
		{"uppercase delete", `search index=main | DELETE`, "delete"},
		{"extra whitespace", "search index=main |   delete", "delete"},
		{"outputlookup", `search index=main | outputlookup users.csv`, "outputlookup"},
		{"outputcsv", `search * | outputcsv /tmp/dump.csv`, "outputcsv"},
		{"script", `search * | script python exfil.py`, "script"},
		{"runshellscript", `| runshellscript rm_all.sh`, "runshellscript"},
		{"sendemail", `search * | sendemail to=x@y.z`, "sendemail"},
		{"collect", `search * | collect index=summary`, "collect"},
		{"credential read", `| rest /services/storage/passwords`, "credential"},
		{"dump", `search * | dump basefilename=raw`, "dump"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := v.Validate(tt.query)
			if verdict.Allowed {
				t.Fatalf("Validate(%q).Allowed = true, want false", tt.query)
			}
			if !strings.Contains(strings.ToLower(verdict.Reason), tt.want) {
				t.Errorf("reason %q does not mention %q", verdict.Reason, tt.want)
			}
		})
	}
}

func TestValidate_DenylistPrecedesWellFormedness(t *testing.T) {
	// Malformed AND dangerous: the denylist verdict must win so the
	// caller learns which operation was blocked.
	v := New(100)
	verdict := v.Validate(`| delete index=main ||`)
	if verdict.Allowed {
		t.Fatal("expected rejection")
	}
	if !strings.Contains(verdict.Reason, "delete") {
		t.Errorf("reason %q should mention the delete operation", verdict.Reason)
	}
}

func TestValidate_WellFormedness(t *testing.T) {
	v := New(100)

	tests := []struct {
		name  string
		query string
	}{
		{"empty", ""},
		{"whitespace only", "   "},
		{"leading pipe", "| stats count"},
		{"double pipe", "search index=main || stats count"},
		{"trailing empty segment", "search index=main |"},
		{"no generating command", "stats count by host"},
		{"over length", "search " + strings.Repeat("x", maxQueryLength)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if verdict := v.Validate(tt.query); verdict.Allowed {
				t.Errorf("Validate(%q).Allowed = true, want false", tt.query)
			}
		})
	}
}

func TestValidate_LimitInjection(t *testing.T) {
	v := New(250)

	verdict := v.Validate("search index=main error earliest=-1h")
	if !verdict.Allowed {
		t.Fatalf("unexpected rejection: %s", verdict.Reason)
	}
	want := "search index=main error earliest=-1h | head 250"
	if verdict.SanitizedSPL != want {
		t.Errorf("SanitizedSPL = %q, want %q", verdict.SanitizedSPL, want)
	}
}

func TestValidate_ExistingLimitUntouched(t *testing.T) {
	v := New(250)

	for _, q := range []string{
		"search index=main error | head 50",
		"search index=web | top 10 status",
		"search index=main | tail 20",
	} {
		verdict := v.Validate(q)
		if !verdict.Allowed {
			t.Fatalf("unexpected rejection for %q: %s", q, verdict.Reason)
		}
		if verdict.SanitizedSPL != "" {
			t.Errorf("Validate(%q) injected a limit into an already-bounded query", q)
		}
	}
}

func TestValidate_Deterministic(t *testing.T) {
	v := New(100)
	queries := []string{
		"search index=main error",
		"| delete index=main",
		"search index=web status=404 | head 10",
		"",
	}

	for _, q := range queries {
		first := v.Validate(q)
		for i := 0; i < 5; i++ {
			got := v.Validate(q)
			if got != first {
				t.Errorf("Validate(%q) not deterministic: %+v vs %+v", q, got, first)
			}
		}
	}
}

func TestValidate_ImplicitSearchAccepted(t *testing.T) {
	v := New(100)
	verdict := v.Validate("index=main sourcetype=access_combined status=500")
	if !verdict.Allowed {
		t.Errorf("implicit search rejected: %s", verdict.Reason)
	}
}

func TestValidate_InjectedLimitWithinCeiling(t *testing.T) {
	for _, ceiling := range []int{1, 100, 10000} {
		v := New(ceiling)
		verdict := v.Validate("search index=main")
		want := fmt.Sprintf("| head %d", ceiling)
		if !strings.Contains(verdict.SanitizedSPL, want) {
			t.Errorf("ceiling %d: SanitizedSPL = %q, want suffix %q", ceiling, verdict.SanitizedSPL, want)
		}
	}
}
