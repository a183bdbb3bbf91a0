package dispatch

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"mercator-hq/ganymede/pkg/gemini"
)

// aggregateStream collapses an SSE stream into a single response. Used for
// thinking-capable models, whose unary endpoint drops reasoning blocks:
// the dispatcher streams upstream regardless and folds the chunks back
// together for non-streaming clients.
//
// Consecutive text parts of the same kind (plain or thought) merge into
// one part; a thought signature seen anywhere in a run sticks to the
// merged part. Function calls and media parts pass through unmerged.
func aggregateStream(body io.Reader) (*gemini.Response, error) {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	out := &gemini.Response{}
	var parts []gemini.Part

	// Pending text run being merged.
	var pendingText bytes.Buffer
	pendingThought := false
	pendingSignature := ""
	pendingOpen := false

	flush := func() {
		if !pendingOpen {
			return
		}
		if pendingText.Len() > 0 || pendingSignature != "" {
			parts = append(parts, gemini.Part{
				Text:             pendingText.String(),
				Thought:          pendingThought,
				ThoughtSignature: pendingSignature,
			})
		}
		pendingText.Reset()
		pendingThought = false
		pendingSignature = ""
		pendingOpen = false
	}

	var finishReason string
	var role string

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		payload := bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))
		if len(payload) == 0 || bytes.Equal(payload, []byte("[DONE]")) {
			continue
		}

		var envelope gemini.ResponseEnvelope
		if err := json.Unmarshal(payload, &envelope); err != nil {
			continue
		}
		resp := envelope.Unwrap()

		if resp.UsageMetadata != nil {
			out.UsageMetadata = resp.UsageMetadata
		}
		if resp.ModelVersion != "" {
			out.ModelVersion = resp.ModelVersion
		}
		if resp.ResponseID != "" {
			out.ResponseID = resp.ResponseID
		}
		if len(resp.Candidates) == 0 {
			continue
		}
		candidate := &resp.Candidates[0]
		if candidate.FinishReason != "" {
			finishReason = candidate.FinishReason
		}
		if candidate.Content == nil {
			continue
		}
		if candidate.Content.Role != "" {
			role = candidate.Content.Role
		}

		for _, p := range candidate.Content.Parts {
			switch {
			case p.FunctionCall != nil || p.InlineData != nil || p.FileData != nil || p.FunctionResponse != nil:
				flush()
				parts = append(parts, p)
			case p.Text != "" || p.Thought:
				if pendingOpen && pendingThought != p.Thought {
					flush()
				}
				pendingOpen = true
				pendingThought = p.Thought
				pendingText.WriteString(p.Text)
				if p.ThoughtSignature != "" {
					pendingSignature = p.ThoughtSignature
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("stream aggregation failed: %w", err)
	}
	flush()

	if role == "" {
		role = gemini.RoleModel
	}
	out.Candidates = []gemini.Candidate{{
		Content:      &gemini.Content{Role: role, Parts: parts},
		FinishReason: finishReason,
	}}
	return out, nil
}
