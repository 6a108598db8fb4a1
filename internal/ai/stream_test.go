package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, ctx context.Context, req StreamRequest) []Frame {
	t.Helper()
	var frames []Frame
	for f := range NewEncoder().Encode(ctx, req) {
		frames = append(frames, f)
	}
	return frames
}

func TestEncodeCharFrames(t *testing.T) {
	frames := collect(t, context.Background(), StreamRequest{
		Text:        "ab",
		ID:          "cmpl-1",
		Model:       "mywen:4b",
		Granularity: GranularityChar,
	})
	require.Len(t, frames, 4)

	assert.Equal(t, "a", frames[0].Delta)
	assert.Equal(t, "b", frames[1].Delta)
	for _, f := range frames[:2] {
		assert.Equal(t, "cmpl-1", f.ID)
		assert.Equal(t, ChunkObject, f.Kind)
		assert.Equal(t, "mywen:4b", f.Model)
		assert.Nil(t, f.FinishReason)
		assert.NotZero(t, f.CreatedAt)
	}

	stop := frames[2]
	assert.Empty(t, stop.Delta)
	require.NotNil(t, stop.FinishReason)
	assert.Equal(t, FinishReasonStop, *stop.FinishReason)
	assert.False(t, stop.Sentinel)

	assert.True(t, frames[3].Sentinel)
}

func TestEncodeReconstructsText(t *testing.T) {
	tests := []struct {
		name        string
		text        string
		granularity Granularity
		units       int
	}{
		{name: "empty", text: "", granularity: GranularityChar, units: 0},
		{name: "ascii chars", text: "hello", granularity: GranularityChar, units: 5},
		{name: "multibyte chars", text: "你好, 世界", granularity: GranularityChar, units: 6},
		{name: "invalid utf8 bytes", text: "a\xffb", granularity: GranularityChar, units: 3},
		{name: "lines with trailing newline", text: "one\ntwo\n", granularity: GranularityLine, units: 2},
		{name: "lines without trailing newline", text: "one\ntwo", granularity: GranularityLine, units: 2},
		{name: "crlf and cr", text: "a\r\nb\rc", granularity: GranularityLine, units: 3},
		{name: "blank lines", text: "\n\n", granularity: GranularityLine, units: 2},
		{name: "vertical tab and form feed", text: "a\vb\fc", granularity: GranularityLine, units: 3},
		{name: "unicode line separators", text: "a\u2028b\u2029c\u0085d", granularity: GranularityLine, units: 4},
		{name: "file group record separators", text: "a\x1cb\x1dc\x1ed", granularity: GranularityLine, units: 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frames := collect(t, context.Background(), StreamRequest{Text: tt.text, Granularity: tt.granularity})

			var text strings.Builder
			var content []Frame
			for _, f := range frames {
				if f.Sentinel {
					continue
				}
				content = append(content, f)
				if !f.IsStop() {
					text.WriteString(f.Delta)
				}
			}
			assert.Equal(t, tt.text, text.String())
			assert.Len(t, content, tt.units+1)
			assert.True(t, content[len(content)-1].IsStop())
			assert.True(t, frames[len(frames)-1].Sentinel)
		})
	}
}

func TestLineUnitsKeepTerminators(t *testing.T) {
	units := slices.Collect(Units("a\r\nb\n\nc", GranularityLine))
	assert.Equal(t, []string{"a\r\n", "b\n", "\n", "c"}, units)

	units = slices.Collect(Units("x\u2028y\vz\r", GranularityLine))
	assert.Equal(t, []string{"x\u2028", "y\v", "z\r"}, units)

	// a tab or a NUL is not a line break
	units = slices.Collect(Units("x\ty\x00z", GranularityLine))
	assert.Equal(t, []string{"x\ty\x00z"}, units)
}

func TestEncodeIsRestartable(t *testing.T) {
	seq := NewEncoder().Encode(context.Background(), StreamRequest{Text: "xyz"})

	var first, second []string
	for f := range seq {
		first = append(first, f.Delta)
	}
	for f := range seq {
		second = append(second, f.Delta)
	}
	assert.Equal(t, first, second)
}

func TestEncodeStopsWhenConsumerStops(t *testing.T) {
	seq := NewEncoder().Encode(context.Background(), StreamRequest{Text: "abcdef"})

	var got []string
	for f := range seq {
		got = append(got, f.Delta)
		if len(got) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestEncodeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	seq := NewEncoder().Encode(ctx, StreamRequest{Text: strings.Repeat("x", 100), Pace: 20 * time.Millisecond})

	var n int
	for range seq {
		n++
		if n == 3 {
			cancel()
		}
	}
	assert.Equal(t, 3, n)
}

func TestEncodePacing(t *testing.T) {
	start := time.Now()
	frames := collect(t, context.Background(), StreamRequest{Text: "abc", Pace: 15 * time.Millisecond})
	elapsed := time.Since(start)

	// three text frames and the stop frame, three pauses between them
	assert.Len(t, frames, 5)
	assert.GreaterOrEqual(t, elapsed, 45*time.Millisecond)
}

func TestFrameSSE(t *testing.T) {
	stop := FinishReasonStop
	raw, err := Frame{ID: "id-1", Kind: ChunkObject, CreatedAt: 1700000000, Model: "m", FinishReason: &stop}.SSE()
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(raw, []byte("data: ")))
	require.True(t, bytes.HasSuffix(raw, []byte("\n\n")))

	var envelope map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(raw[len("data: "):]), &envelope))
	assert.Equal(t, "id-1", envelope["id"])
	assert.Equal(t, ChunkObject, envelope["object"])
	assert.EqualValues(t, 1700000000, envelope["created"])
	choice := envelope["choices"].([]interface{})[0].(map[string]interface{})
	assert.Equal(t, "stop", choice["finish_reason"])
	assert.Equal(t, "", choice["delta"].(map[string]interface{})["content"])

	text, err := Frame{Delta: "a"}.SSE()
	require.NoError(t, err)
	assert.Contains(t, string(text), `"finish_reason":null`)

	done, err := Frame{Sentinel: true}.SSE()
	require.NoError(t, err)
	assert.Equal(t, "data: [DONE]\n\n", string(done))
}

func TestDecodeStreamRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	for f := range NewEncoder().Encode(context.Background(), StreamRequest{Text: "hi\nthere", ID: "x", Model: "m", Granularity: GranularityLine}) {
		raw, err := f.SSE()
		require.NoError(t, err)
		buf.Write(raw)
	}

	var frames []Frame
	require.NoError(t, DecodeStream(&buf, func(f Frame) error {
		frames = append(frames, f)
		return nil
	}))
	require.Len(t, frames, 4)
	assert.Equal(t, "hi\n", frames[0].Delta)
	assert.Equal(t, "there", frames[1].Delta)
	assert.True(t, frames[2].IsStop())
	assert.True(t, frames[3].Sentinel)
}

func TestDecodeStreamTruncated(t *testing.T) {
	err := DecodeStream(strings.NewReader("data: {\"id\":\"x\",\"choices\":[]}\n\n"), func(Frame) error { return nil })
	assert.Error(t, err)
}

func TestParseGranularity(t *testing.T) {
	g, err := ParseGranularity("")
	require.NoError(t, err)
	assert.Equal(t, GranularityChar, g)

	g, err = ParseGranularity("LINE")
	require.NoError(t, err)
	assert.Equal(t, GranularityLine, g)

	_, err = ParseGranularity("word")
	assert.Error(t, err)
}

func TestCatalogIsFixed(t *testing.T) {
	models := Catalog()
	require.Len(t, models, 2)
	assert.Equal(t, "mywen:4b", models[0].ID)
	assert.Equal(t, int64(1758116481), models[0].Created)
	assert.Equal(t, "fake-llm-org", models[1].OwnedBy)

	models[0].ID = "tampered"
	assert.Equal(t, "mywen:4b", Catalog()[0].ID)
}

func TestComplete(t *testing.T) {
	c := NewEncoder().Complete(StreamRequest{Text: "full text", ID: "id", Model: "m"})
	assert.Equal(t, CompletionObject, c.Object)
	require.Len(t, c.Choices, 1)
	assert.Equal(t, "full text", c.Choices[0].Message.Content)
	assert.Equal(t, FinishReasonStop, c.Choices[0].FinishReason)
}
