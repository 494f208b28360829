package build

import (
	"strconv"
	"strings"
	"testing"
)

func TestTailBufferTruncatesToTailLines(t *testing.T) {
	var buf tailBuffer
	for i := 0; i < tailLines+100; i++ {
		buf.Write([]byte(strconv.Itoa(i) + "\n"))
	}
	lines := strings.Split(buf.String(), "\n")
	if len(lines) != tailLines {
		t.Fatalf("expected %d retained lines, got %d", tailLines, len(lines))
	}
	if lines[0] != "100" {
		t.Fatalf("expected oldest retained line to be \"100\", got %q", lines[0])
	}
	if lines[len(lines)-1] != strconv.Itoa(tailLines+99) {
		t.Fatalf("expected last line to be the most recent write, got %q", lines[len(lines)-1])
	}
}

func TestSummaryTailLast20Lines(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 500; i++ {
		sb.WriteString(strconv.Itoa(i))
		sb.WriteByte('\n')
	}
	tail := SummaryTail(sb.String())
	lines := strings.Split(tail, "\n")
	if len(lines) != summaryLines {
		t.Fatalf("expected %d lines, got %d", summaryLines, len(lines))
	}
	if lines[0] != "480" || lines[len(lines)-1] != "499" {
		t.Fatalf("unexpected tail window: first=%q last=%q", lines[0], lines[len(lines)-1])
	}
}

func TestSummaryTailShortOutputUnchanged(t *testing.T) {
	short := "line1\nline2\n"
	if got := SummaryTail(short); got != short {
		t.Fatalf("SummaryTail shortened output it shouldn't have: %q", got)
	}
}
