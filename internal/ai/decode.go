package ai

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// DecodeStream reads server-sent completion events from r and calls onFrame
// for each one, including the final sentinel.
func DecodeStream(r io.Reader, onFrame func(Frame) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == DoneSentinel {
			return onFrame(Frame{Sentinel: true})
		}

		var frame Frame
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			return fmt.Errorf("parse stream frame failed: %w", err)
		}
		if err := onFrame(frame); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan stream failed: %w", err)
	}
	return io.ErrUnexpectedEOF
}
