package service

import (
	"errors"
	"fmt"
	"testing"

	"gemini-chat/internal/domain"
	"gemini-chat/internal/llm"
)

func chunkChannel(texts []string, terminal error) <-chan llm.Chunk {
	out := make(chan llm.Chunk, len(texts)+1)
	for _, text := range texts {
		out <- llm.Chunk{Text: text}
	}
	if terminal != nil {
		out <- llm.Chunk{Err: terminal}
	}
	close(out)
	return out
}

func TestAggregateStream_ConcatenatesInOrder(t *testing.T) {
	cases := [][]string{
		{"Hi", " ", "there"},
		{"one chunk"},
		{"a", "b", "c", "d", "e"},
	}
	for i, chunks := range cases {
		var want string
		for _, c := range chunks {
			want += c
		}
		got, err := AggregateStream(chunkChannel(chunks, nil), nil)
		if err != nil {
			t.Fatalf("case %d: expected no error, got %v", i, err)
		}
		if got != want {
			t.Fatalf("case %d: got %q, want %q", i, got, want)
		}
	}
}

func TestAggregateStream_EmptySequence(t *testing.T) {
	got, err := AggregateStream(chunkChannel(nil, nil), nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
}

func TestAggregateStream_OnPartialReceivesEachFragment(t *testing.T) {
	var partials []string
	got, err := AggregateStream(chunkChannel([]string{"Hi", " there"}, nil), func(fragment string) {
		partials = append(partials, fragment)
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got != "Hi there" {
		t.Fatalf("got %q, want %q", got, "Hi there")
	}
	if len(partials) != 2 || partials[0] != "Hi" || partials[1] != " there" {
		t.Fatalf("unexpected partials: %v", partials)
	}
}

func TestAggregateStream_ErrorAbortsWithoutPartialResult(t *testing.T) {
	streamErr := fmt.Errorf("%w: connection reset", domain.ErrStream)
	var partials []string

	got, err := AggregateStream(chunkChannel([]string{"Hi", " th"}, streamErr), func(fragment string) {
		partials = append(partials, fragment)
	})
	if !errors.Is(err, domain.ErrStream) {
		t.Fatalf("expected ErrStream, got %v", err)
	}
	if got != "" {
		t.Fatalf("expected no text on failure, got %q", got)
	}
	// Lo ya entregado via onPartial es lo unico que el caller conserva.
	if len(partials) != 2 {
		t.Fatalf("expected 2 partials delivered before failure, got %d", len(partials))
	}
}
