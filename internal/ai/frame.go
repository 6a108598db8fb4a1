package ai

import (
	"encoding/json"
	"fmt"
)

const (
	ChunkObject      = "chat.completion.chunk"
	CompletionObject = "chat.completion"
	FinishReasonStop = "stop"
	DoneSentinel     = "[DONE]"
)

// Frame is one element of a streamed completion. Text frames carry a delta,
// the stop frame carries an empty delta and a finish reason, and the final
// sentinel frame only tells the transport that the stream ended.
type Frame struct {
	ID           string
	Kind         string
	CreatedAt    int64
	Model        string
	Delta        string
	FinishReason *string
	Sentinel     bool
}

func (f Frame) IsStop() bool {
	return f.FinishReason != nil
}

type chunkDelta struct {
	Content string `json:"content"`
}

type chunkChoice struct {
	Index        int        `json:"index"`
	Delta        chunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

type chunkEnvelope struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []chunkChoice `json:"choices"`
}

// MarshalJSON renders the frame in the chat.completion.chunk envelope.
func (f Frame) MarshalJSON() ([]byte, error) {
	return json.Marshal(chunkEnvelope{
		ID:      f.ID,
		Object:  f.Kind,
		Created: f.CreatedAt,
		Model:   f.Model,
		Choices: []chunkChoice{{
			Index:        0,
			Delta:        chunkDelta{Content: f.Delta},
			FinishReason: f.FinishReason,
		}},
	})
}

func (f *Frame) UnmarshalJSON(data []byte) error {
	var env chunkEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	*f = Frame{
		ID:        env.ID,
		Kind:      env.Object,
		CreatedAt: env.Created,
		Model:     env.Model,
	}
	if len(env.Choices) > 0 {
		f.Delta = env.Choices[0].Delta.Content
		f.FinishReason = env.Choices[0].FinishReason
	}
	return nil
}

// SSE returns the frame as one server-sent event.
func (f Frame) SSE() ([]byte, error) {
	if f.Sentinel {
		return []byte("data: " + DoneSentinel + "\n\n"), nil
	}
	payload, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshal frame failed: %w", err)
	}
	out := make([]byte, 0, len(payload)+8)
	out = append(out, "data: "...)
	out = append(out, payload...)
	out = append(out, "\n\n"...)
	return out, nil
}
