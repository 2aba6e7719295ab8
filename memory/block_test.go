package memory_test

import (
	"errors"
	"testing"
	"time"

	"github.com/tea-party/mnemo/memory"
)

func TestParseBlockType(t *testing.T) {
	for _, bt := range []memory.BlockType{
		memory.BlockTypeMessage,
		memory.BlockTypeSummary,
		memory.BlockTypeFact,
		memory.BlockTypePreference,
		memory.BlockTypePersonalInfo,
		memory.BlockTypeGoal,
		memory.BlockTypeTask,
	} {
		parsed, err := memory.ParseBlockType(string(bt))
		if err != nil {
			t.Fatalf("ParseBlockType(%q) failed: %v", bt, err)
		}
		if parsed != bt {
			t.Errorf("ParseBlockType(%q) = %q", bt, parsed)
		}
	}
}

func TestParseBlockType_Custom(t *testing.T) {
	bt := memory.CustomBlockType(7)
	if string(bt) != "Custom(7)" {
		t.Fatalf("CustomBlockType(7) = %q", bt)
	}
	parsed, err := memory.ParseBlockType("Custom(7)")
	if err != nil {
		t.Fatalf("ParseBlockType failed: %v", err)
	}
	if parsed != bt {
		t.Errorf("round trip gave %q, want %q", parsed, bt)
	}
}

func TestParseBlockType_Unknown(t *testing.T) {
	for _, tag := range []string{"", "fact", "Custom(256)", "Custom(x)", "Custom(7", "Banana"} {
		if _, err := memory.ParseBlockType(tag); !errors.Is(err, memory.ErrValidation) {
			t.Errorf("ParseBlockType(%q) = %v, want ErrValidation", tag, err)
		}
	}
}

func TestParseRelationType(t *testing.T) {
	parsed, err := memory.ParseRelationType("Supports")
	if err != nil || parsed != memory.RelationSupports {
		t.Fatalf("ParseRelationType(Supports) = %q, %v", parsed, err)
	}
	if _, err := memory.ParseRelationType("Likes"); !errors.Is(err, memory.ErrValidation) {
		t.Errorf("ParseRelationType(Likes) = %v, want ErrValidation", err)
	}
}

func TestEmbeddingText(t *testing.T) {
	text, ok := memory.TextContent("hello").EmbeddingText()
	if !ok || text != "hello" {
		t.Errorf("text content: got %q, %v", text, ok)
	}

	jc, err := memory.JSONContent(map[string]string{"k": "v"})
	if err != nil {
		t.Fatalf("JSONContent failed: %v", err)
	}
	text, ok = jc.EmbeddingText()
	if !ok || text != `{"k":"v"}` {
		t.Errorf("json content: got %q, %v", text, ok)
	}

	if _, ok := memory.BinaryContent([]byte{1, 2}, "application/octet-stream").EmbeddingText(); ok {
		t.Error("binary content must not produce embedding text")
	}
}

func TestContentEqual(t *testing.T) {
	a := memory.TextContent("same")
	if !a.Equal(memory.TextContent("same")) {
		t.Error("identical text content not equal")
	}
	if a.Equal(memory.TextContent("other")) {
		t.Error("different text content equal")
	}
	bin := memory.BinaryContent([]byte{1}, "image/png")
	if bin.Equal(memory.BinaryContent([]byte{1}, "image/jpeg")) {
		t.Error("different mime types equal")
	}
}

func TestFormatTime_LexicalOrder(t *testing.T) {
	// Timestamps are compared as strings in storage, so encoding must keep
	// chronological order even across sub-second differences.
	times := []time.Time{
		time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		time.Date(2026, 1, 2, 3, 4, 5, 7, time.UTC),
		time.Date(2026, 1, 2, 3, 4, 5, 999999999, time.UTC),
		time.Date(2026, 1, 2, 3, 4, 6, 0, time.UTC),
	}
	for i := 1; i < len(times); i++ {
		a, b := memory.FormatTime(times[i-1]), memory.FormatTime(times[i])
		if !(a < b) {
			t.Errorf("encoding not lexically ordered: %q >= %q", a, b)
		}
	}

	parsed, err := memory.ParseTime(memory.FormatTime(times[1]))
	if err != nil {
		t.Fatalf("ParseTime failed: %v", err)
	}
	if !parsed.Equal(times[1]) {
		t.Errorf("round trip gave %v, want %v", parsed, times[1])
	}
}

func TestParseTime_Invalid(t *testing.T) {
	if _, err := memory.ParseTime("yesterday"); !errors.Is(err, memory.ErrSerialization) {
		t.Errorf("ParseTime(yesterday) = %v, want ErrSerialization", err)
	}
}
