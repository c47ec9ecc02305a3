package batch

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const maxResultLine = 64 << 20

// Summary is one usable result line.
type Summary struct {
	CustomID string
	SourceID string
	Text     string
}

// LineError describes a result line that produced no summary.
type LineError struct {
	Line     int
	CustomID string
	Reason   string
}

func (e LineError) Error() string {
	if e.CustomID != "" {
		return fmt.Sprintf("line %d (%s): %s", e.Line, e.CustomID, e.Reason)
	}
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

type resultLine struct {
	CustomID string `json:"custom_id"`
	Response *struct {
		StatusCode int `json:"status_code"`
		Body       struct {
			Choices []struct {
				Message struct {
					Content *string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
		} `json:"body"`
	} `json:"response"`
	Error json.RawMessage `json:"error"`
}

// ParseResults reads a newline-delimited result file. Blank lines are
// ignored; undecodable lines and lines without a summary are reported in
// the second return value and never stop the parse.
func ParseResults(data []byte) ([]Summary, []LineError, error) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), maxResultLine)

	var (
		out  []Summary
		bad  []LineError
		line int
	)
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}

		var rl resultLine
		if err := json.Unmarshal(raw, &rl); err != nil {
			bad = append(bad, LineError{Line: line, Reason: "invalid JSON: " + err.Error()})
			continue
		}
		if rl.CustomID == "" {
			bad = append(bad, LineError{Line: line, Reason: "missing custom_id"})
			continue
		}
		if len(rl.Error) > 0 && string(rl.Error) != "null" {
			bad = append(bad, LineError{Line: line, CustomID: rl.CustomID, Reason: "request error: " + string(rl.Error)})
			continue
		}
		if rl.Response == nil || len(rl.Response.Body.Choices) == 0 || rl.Response.Body.Choices[0].Message.Content == nil {
			bad = append(bad, LineError{Line: line, CustomID: rl.CustomID, Reason: "no summary in response"})
			continue
		}

		out = append(out, Summary{
			CustomID: rl.CustomID,
			SourceID: SourceID(rl.CustomID),
			Text:     strings.TrimSpace(*rl.Response.Body.Choices[0].Message.Content),
		})
	}
	if err := sc.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return out, bad, fmt.Errorf("result line %d exceeds %d bytes", line+1, maxResultLine)
		}
		return out, bad, err
	}
	return out, bad, nil
}
