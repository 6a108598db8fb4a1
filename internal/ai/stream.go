package ai

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

type Granularity string

const (
	GranularityChar Granularity = "char"
	GranularityLine Granularity = "line"
)

const DefaultPace = 10 * time.Millisecond

func ParseGranularity(raw string) (Granularity, error) {
	switch g := Granularity(strings.ToLower(strings.TrimSpace(raw))); g {
	case GranularityChar, GranularityLine:
		return g, nil
	case "":
		return GranularityChar, nil
	default:
		return "", fmt.Errorf("unknown granularity %q", raw)
	}
}

type StreamRequest struct {
	Text        string
	ID          string
	Model       string
	Granularity Granularity
	// Pace is the delay between consecutive frames; zero disables pacing.
	Pace time.Duration
}

// Encoder turns text into completion frames. It holds no per-stream state.
type Encoder struct {
	now func() time.Time
}

func NewEncoder() *Encoder {
	return &Encoder{now: time.Now}
}

func NewCompletionID() string {
	return "chatcmpl-" + uuid.NewString()
}

// Encode returns a single-pass sequence: one frame per text unit, the stop
// frame, then the sentinel. Frames are built only as the consumer pulls them;
// the sequence ends early when the consumer stops or ctx is cancelled.
func (e *Encoder) Encode(ctx context.Context, req StreamRequest) iter.Seq[Frame] {
	return func(yield func(Frame) bool) {
		first := true
		emit := func(f Frame) bool {
			if !first && !e.pause(ctx, req.Pace) {
				return false
			}
			first = false
			if ctx.Err() != nil {
				return false
			}
			return yield(f)
		}

		for unit := range Units(req.Text, req.Granularity) {
			if !emit(e.frame(req, unit, nil)) {
				return
			}
		}

		stop := FinishReasonStop
		if !emit(e.frame(req, "", &stop)) {
			return
		}
		if ctx.Err() != nil {
			return
		}
		yield(Frame{ID: req.ID, Kind: ChunkObject, Model: req.Model, Sentinel: true})
	}
}

func (e *Encoder) frame(req StreamRequest, delta string, finish *string) Frame {
	return Frame{
		ID:           req.ID,
		Kind:         ChunkObject,
		CreatedAt:    e.now().Unix(),
		Model:        req.Model,
		Delta:        delta,
		FinishReason: finish,
	}
}

func (e *Encoder) pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Units splits text lazily. Char units are single code points (invalid bytes
// are kept as-is); line units keep their terminator. Line boundaries are the
// ones Python's str.splitlines uses: \n, \r\n, \r, \v, \f, \x1c-\x1e, U+0085,
// U+2028 and U+2029. Concatenating the units always reproduces text.
func Units(text string, g Granularity) iter.Seq[string] {
	if g == GranularityLine {
		return lineUnits(text)
	}
	return charUnits(text)
}

func charUnits(text string) iter.Seq[string] {
	return func(yield func(string) bool) {
		for i := 0; i < len(text); {
			_, size := utf8.DecodeRuneInString(text[i:])
			if !yield(text[i : i+size]) {
				return
			}
			i += size
		}
	}
}

func isLineBreak(r rune) bool {
	switch r {
	case '\n', '\r', '\v', '\f', 0x1c, 0x1d, 0x1e, 0x85, 0x2028, 0x2029:
		return true
	}
	return false
}

func lineUnits(text string) iter.Seq[string] {
	return func(yield func(string) bool) {
		start := 0
		for i := 0; i < len(text); {
			r, size := utf8.DecodeRuneInString(text[i:])
			i += size
			if !isLineBreak(r) {
				continue
			}
			if r == '\r' && i < len(text) && text[i] == '\n' {
				i++
			}
			if !yield(text[start:i]) {
				return
			}
			start = i
		}
		if start < len(text) {
			yield(text[start:])
		}
	}
}
