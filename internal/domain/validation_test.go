package domain

import (
	"errors"
	"strings"
	"testing"

	apperrors "thesis_messaging/pkg/errors"
)

func TestNormalizeContent(t *testing.T) {
	rules := ContentRules{MaxLength: 10, RejectOwnName: true}

	tests := []struct {
		name    string
		content string
		want    string
		wantErr bool
	}{
		{"empty", "", "", true},
		{"whitespace only", "  \t\n ", "", true},
		{"exactly max", strings.Repeat("a", 10), strings.Repeat("a", 10), false},
		{"one over max", strings.Repeat("a", 11), "", true},
		{"trimmed to max", "  " + strings.Repeat("b", 10) + "  ", strings.Repeat("b", 10), false},
		{"multibyte at max", strings.Repeat("ж", 10), strings.Repeat("ж", 10), false},
		{"own name", "hi from ada", "", true},
		{"own name other case", "ADA here", "", true},
		{"plain", " hello ", "hello", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := rules.NormalizeContent(tt.content, "Ada")
			if tt.wantErr {
				if !errors.Is(err, apperrors.ErrValidation) {
					t.Fatalf("expected validation error, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestNameRuleCanBeDisabled(t *testing.T) {
	rules := ContentRules{MaxLength: 100}
	if _, err := rules.NormalizeContent("Ada says hi", "Ada"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestContainsNameBlank(t *testing.T) {
	if ContainsName("anything", "  ") {
		t.Fatalf("blank name must never match")
	}
}

func TestNormalizePage(t *testing.T) {
	if p := NormalizePage(MessagePage{}); p.Limit != DefaultPageSize {
		t.Fatalf("expected default page size, got %d", p.Limit)
	}
	if p := NormalizePage(MessagePage{Limit: 10000}); p.Limit != MaxPageSize {
		t.Fatalf("expected capped page size, got %d", p.Limit)
	}
}
