package history

import "testing"

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   string
		wantOK bool
	}{
		{name: "bare", input: `{"a":1}`, want: `{"a":1}`, wantOK: true},
		{name: "fenced json", input: "Here you go:\n```json\n{\"a\":{\"b\":2}}\n```\nThanks", want: `{"a":{"b":2}}`, wantOK: true},
		{name: "fenced plain", input: "```\n{\"a\":1}\n```", want: `{"a":1}`, wantOK: true},
		{name: "prose around", input: `Sure! {"a":[1,2]} hope it helps`, want: `{"a":[1,2]}`, wantOK: true},
		{name: "no object", input: "I cannot help with that", wantOK: false},
		{name: "reversed braces", input: "} nope {", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractJSON(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ExtractJSON() ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("ExtractJSON() = %q, want %q", got, tt.want)
			}
		})
	}
}
