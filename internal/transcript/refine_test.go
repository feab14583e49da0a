package transcript

import "testing"

func TestNormalizeCaption(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Hello World", "hello world"},
		{"  spaced   out  text ", "spaced out text"},
		{"Done.", "done"},
		{"Really?!", "really"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := normalizeCaption(tt.in); got != tt.want {
			t.Errorf("normalizeCaption(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIsRefinement(t *testing.T) {
	tests := []struct {
		name       string
		prev, next string
		want       bool
	}{
		{"identical", "hello there", "hello there", true},
		{"case and punctuation", "Hello there.", "hello there", true},
		{"extension", "I think we should", "I think we should ship it", true},
		{"truncation", "I think we should ship it", "I think we should", true},
		{"long common prefix", "let's meet on thursday morning", "let's meet on thursday evening", true},
		{"different utterance", "good morning everyone", "the deployment failed", false},
		{"both empty", "", "", true},
		{"one empty", "hello", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRefinement(tt.prev, tt.next); got != tt.want {
				t.Errorf("isRefinement(%q, %q) = %v, want %v", tt.prev, tt.next, got, tt.want)
			}
		})
	}
}
