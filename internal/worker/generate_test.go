package worker

import (
	"context"
	"testing"
)

func TestTrimToSentence(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Paris is the capital. It is also", "Paris is the capital."},
		{"Really! And more", "Really!"},
		{"Why? Because", "Why?"},
		{"no terminal punctuation", "no terminal punctuation"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := TrimToSentence(tc.in); got != tc.want {
			t.Fatalf("TrimToSentence(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCannedGenerator(t *testing.T) {
	reply, err := Canned{}.Generate(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "You asked: hello." {
		t.Fatalf("unexpected reply %q", reply)
	}
}

func TestGeneratorFunc(t *testing.T) {
	gen := GeneratorFunc(func(_ context.Context, text string) (string, error) {
		return text + text, nil
	})
	reply, err := gen.Generate(context.Background(), "ab")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "abab" {
		t.Fatalf("unexpected reply %q", reply)
	}
}
