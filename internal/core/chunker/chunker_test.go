package chunker

import (
	"errors"
	"strings"
	"testing"

	"github.com/markdave123-py/dossier/internal/core"
	"github.com/markdave123-py/dossier/internal/models"
)

func TestSplitRejectsInvalidParameters(t *testing.T) {
	cases := []struct {
		name          string
		size, overlap int
	}{
		{"overlap equals size", 10, 10},
		{"overlap exceeds size", 5, 6},
		{"negative overlap", 10, -1},
		{"zero size", 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Split(1, "some text", tc.size, tc.overlap)
			if !errors.Is(err, core.ErrChunking) {
				t.Fatalf("expected ErrChunking, got %v", err)
			}
		})
	}
}

func TestSplitEmptyText(t *testing.T) {
	chunks, err := Split(1, "", 100, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 0 {
		t.Errorf("expected no chunks, got %d", len(chunks))
	}
}

func TestSplitShortTextIsSingleChunk(t *testing.T) {
	chunks, err := Split(3, "hello", 1000, 200)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	c := chunks[0]
	if c.PageNumber != 3 || c.ChunkIndex != 0 || c.Text != "hello" || c.Start != 0 || c.End != 5 {
		t.Errorf("unexpected chunk: %+v", c)
	}
}

func TestSplitWindows(t *testing.T) {
	chunks, err := Split(1, "abcdefghij", 4, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"abcd", "defg", "ghij", "j"}
	if len(chunks) != len(want) {
		t.Fatalf("expected %d chunks, got %d", len(want), len(chunks))
	}
	for i, w := range want {
		if chunks[i].Text != w {
			t.Errorf("chunk %d: expected %q, got %q", i, w, chunks[i].Text)
		}
		if chunks[i].ChunkIndex != i {
			t.Errorf("chunk %d: index %d", i, chunks[i].ChunkIndex)
		}
	}
}

func TestSplitCountsCharactersNotBytes(t *testing.T) {
	text := strings.Repeat("약", 10)
	chunks, err := Split(1, text, 5, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}
	if chunks[1].Start != 5 || chunks[1].End != 10 {
		t.Errorf("unexpected offsets: %+v", chunks[1])
	}
}

// Coverage, overlap and count hold across a grid of sizes.
func TestSplitProperties(t *testing.T) {
	for length := 0; length <= 60; length += 7 {
		text := strings.Repeat("x", length)
		for size := 1; size <= 12; size++ {
			for overlap := 0; overlap < size; overlap++ {
				chunks, err := Split(1, text, size, overlap)
				if err != nil {
					t.Fatalf("L=%d S=%d O=%d: %v", length, size, overlap, err)
				}

				step := size - overlap
				wantCount := (length + step - 1) / step
				if len(chunks) != wantCount {
					t.Fatalf("L=%d S=%d O=%d: expected %d chunks, got %d", length, size, overlap, wantCount, len(chunks))
				}
				if length == 0 {
					continue
				}

				covered := 0
				for i, c := range chunks {
					if c.Start > covered {
						t.Fatalf("L=%d S=%d O=%d: gap before chunk %d", length, size, overlap, i)
					}
					covered = max(covered, c.End)
					if i > 0 {
						prev := chunks[i-1]
						if c.Start != prev.Start+step {
							t.Fatalf("L=%d S=%d O=%d: chunk %d starts at %d", length, size, overlap, i, c.Start)
						}
						if prev.End-c.Start != overlap && prev.End != length {
							t.Fatalf("L=%d S=%d O=%d: chunk %d overlaps by %d", length, size, overlap, i, prev.End-c.Start)
						}
					}
					if c.End-c.Start > size {
						t.Fatalf("L=%d S=%d O=%d: chunk %d too long", length, size, overlap, i)
					}
				}
				if covered != length {
					t.Fatalf("L=%d S=%d O=%d: covered %d of %d", length, size, overlap, covered, length)
				}
			}
		}
	}
}

func TestSplitIsDeterministic(t *testing.T) {
	text := strings.Repeat("The maximum daily dose is 40 mg. ", 50)
	a, _ := Split(2, text, 100, 20)
	b, _ := Split(2, text, 100, 20)
	if len(a) != len(b) {
		t.Fatalf("lengths differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("chunk %d differs", i)
		}
	}
}

func TestSplitPagesIndexesPerPage(t *testing.T) {
	pages := []models.PageText{
		{Number: 1, Text: strings.Repeat("a", 25)},
		{Number: 2, Text: ""},
		{Number: 3, Text: strings.Repeat("c", 5)},
	}
	chunks, err := SplitPages(pages, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 4 {
		t.Fatalf("expected 4 chunks, got %d", len(chunks))
	}
	last := chunks[3]
	if last.PageNumber != 3 || last.ChunkIndex != 0 {
		t.Errorf("expected page 3 chunk 0, got page %d chunk %d", last.PageNumber, last.ChunkIndex)
	}
}
