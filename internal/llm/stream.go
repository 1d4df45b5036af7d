package llm

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/anyhui/aleeai-prompt/internal/domain"
	"github.com/anyhui/aleeai-prompt/internal/domain/models"
)

const (
	// dataPrefix marks a data frame; every other line is a comment or keep-alive.
	dataPrefix = "data: "
	// doneSentinel is the payload of the terminal frame.
	doneSentinel = "[DONE]"
)

// streamFrame is the subset of a chat completion chunk the parser reads.
type streamFrame struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// StreamParser decodes a newline-delimited event stream into deltas.
// Bytes are buffered until a full line is available, so the deltas produced
// do not depend on how the underlying reads split the stream.
type StreamParser struct {
	reader *bufio.Reader
	done   bool
}

// NewStreamParser creates a parser over r.
func NewStreamParser(r io.Reader) *StreamParser {
	return &StreamParser{reader: bufio.NewReader(r)}
}

// Next returns the next delta. The last delta has IsTerminal set; calls after
// it return io.EOF. End of input without a terminal frame also yields a
// terminal delta, and an unterminated trailing line is discarded.
func (p *StreamParser) Next(ctx context.Context) (models.StreamDelta, error) {
	if p.done {
		return models.StreamDelta{}, io.EOF
	}

	for {
		if err := ctx.Err(); err != nil {
			p.done = true
			return models.StreamDelta{}, err
		}

		line, err := p.reader.ReadString('\n')
		if err != nil {
			p.done = true
			if errors.Is(err, io.EOF) {
				return models.StreamDelta{IsTerminal: true}, nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return models.StreamDelta{}, ctxErr
			}
			return models.StreamDelta{}, domain.TransportError("failed to read stream", err)
		}

		line = strings.TrimRight(line, "\r\n")
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}

		payload := strings.TrimSpace(line[len(dataPrefix):])
		if payload == "" {
			continue
		}
		if payload == doneSentinel {
			p.done = true
			return models.StreamDelta{IsTerminal: true}, nil
		}

		delta, ok, err := decodeFrame(payload)
		if err != nil {
			p.done = true
			return models.StreamDelta{}, err
		}
		if ok {
			return delta, nil
		}
	}
}

// decodeFrame turns one payload into a delta. ok is false for frames that
// carry neither text nor usage.
func decodeFrame(payload string) (models.StreamDelta, bool, error) {
	var frame streamFrame
	if err := json.Unmarshal([]byte(payload), &frame); err != nil {
		return models.StreamDelta{}, false, domain.StreamDecodeError(payload, err)
	}

	if frame.Error != nil {
		message := frame.Error.Message
		if frame.Error.Code != nil {
			message = fmt.Sprintf("%s (code %v)", message, frame.Error.Code)
		}
		return models.StreamDelta{}, false, domain.TransportError("remote service reported an error", errors.New(message))
	}

	var delta models.StreamDelta
	if len(frame.Choices) > 0 {
		delta.ContentFragment = frame.Choices[0].Delta.Content
	}
	if frame.Usage != nil {
		delta.Usage = &models.Usage{
			PromptTokens:     frame.Usage.PromptTokens,
			CompletionTokens: frame.Usage.CompletionTokens,
		}
	}

	return delta, delta.ContentFragment != "" || delta.Usage != nil, nil
}

// Collect drains a parser, returning the concatenated text and the last usage seen.
// onFragment, when set, receives the cumulative text after every non-empty fragment.
func Collect(ctx context.Context, p *StreamParser, onFragment func(string)) (string, models.Usage, error) {
	var (
		text  strings.Builder
		usage models.Usage
	)

	for {
		delta, err := p.Next(ctx)
		if err != nil {
			return text.String(), usage, err
		}
		if delta.IsTerminal {
			return text.String(), usage, nil
		}
		if delta.Usage != nil {
			usage = *delta.Usage
		}
		if delta.ContentFragment != "" {
			text.WriteString(delta.ContentFragment)
			if onFragment != nil {
				onFragment(text.String())
			}
		}
	}
}
