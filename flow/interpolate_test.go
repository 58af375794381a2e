package flow

import "testing"

func TestInterpolate(t *testing.T) {
	context := map[string]any{
		"name":  "world",
		"count": 3,
	}

	tests := []struct {
		template string
		want     string
	}{
		{"hello {{name}}", "hello world"},
		{"{{count}} items", "3 items"},
		{"{{ name }}", "world"},
		{"no placeholders", "no placeholders"},
		{"{{missing}} stays", "{{missing}} stays"},
		{"{{name}} and {{name}}", "world and world"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := interpolate(tt.template, context); got != tt.want {
			t.Errorf("interpolate(%q) = %q, want %q", tt.template, got, tt.want)
		}
	}
}

func TestInterpolateAll(t *testing.T) {
	context := map[string]any{"x": "y"}
	got := interpolateAll([]string{"{{x}}", "plain"}, context)
	if len(got) != 2 || got[0] != "y" || got[1] != "plain" {
		t.Errorf("interpolateAll = %v", got)
	}
	if interpolateAll(nil, context) != nil {
		t.Error("nil input should stay nil")
	}
}
