package translator

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"mercator-hq/ganymede/pkg/anthropic"
	"mercator-hq/ganymede/pkg/gemini"
	"mercator-hq/ganymede/pkg/sigcache"
)

// NewMessageID mints a client-facing message id.
func NewMessageID() string {
	return "msg_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// TranslateResponse converts a non-streaming upstream response into an
// A-format message. requestedModel is echoed back; sessionID keys the
// signature cache updates.
func (t *Translator) TranslateResponse(resp *gemini.Response, requestedModel, sessionID string) (*anthropic.MessagesResponse, error) {
	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("upstream response has no candidates")
	}
	if len(resp.Candidates) > 1 {
		slog.Warn("upstream returned multiple candidates, using the first",
			"candidates", len(resp.Candidates),
		)
	}
	candidate := &resp.Candidates[0]

	family := sigcache.FamilyGemini
	if Family(requestedModel) == FamilyClaude {
		family = sigcache.FamilyClaude
	}

	out := &anthropic.MessagesResponse{
		ID:    NewMessageID(),
		Type:  "message",
		Role:  anthropic.RoleAssistant,
		Model: requestedModel,
	}

	// Safety terminations surface as an explanatory text block, not an
	// error; clients treat the turn as complete.
	if candidate.FinishReason == gemini.FinishSafety || candidate.FinishReason == gemini.FinishRecitation {
		out.Content = []anthropic.ContentBlock{
			anthropic.TextBlock(fmt.Sprintf("[Content blocked by safety filter: %s]", blockedCategories(candidate))),
		}
		out.StopReason = anthropic.StopEndTurn
		out.Usage = translateUsage(resp.UsageMetadata)
		return out, nil
	}

	hasToolCall := false
	if candidate.Content != nil {
		for i := range candidate.Content.Parts {
			block, isTool := t.translatePart(&candidate.Content.Parts[i], family, sessionID)
			if block != nil {
				out.Content = append(out.Content, *block)
			}
			hasToolCall = hasToolCall || isTool
		}
	}

	// Grounding metadata rides along as citations on a trailing block.
	if gm := candidate.GroundingMetadata; gm != nil && len(gm.GroundingChunks) > 0 {
		attachCitations(out, gm)
	}

	out.StopReason = translateStopReason(candidate.FinishReason, hasToolCall)
	out.Usage = translateUsage(resp.UsageMetadata)
	return out, nil
}

// translatePart maps one upstream part to a content block. The bool result
// reports whether the part was a tool call.
func (t *Translator) translatePart(p *gemini.Part, family sigcache.Family, sessionID string) (*anthropic.ContentBlock, bool) {
	switch {
	case p.FunctionCall != nil:
		id := p.FunctionCall.ID
		if id == "" {
			id = "toolu_" + strings.ReplaceAll(uuid.NewString(), "-", "")
		}
		input := p.FunctionCall.Args
		if len(input) == 0 {
			input = json.RawMessage(`{}`)
		}
		block := &anthropic.ContentBlock{
			Type:  anthropic.BlockToolUse,
			ID:    id,
			Name:  p.FunctionCall.Name,
			Input: input,
		}
		if sigcache.Valid(p.ThoughtSignature) {
			t.cache.StoreToolSignature(id, p.ThoughtSignature)
			t.cache.StoreFamily(p.ThoughtSignature, family)
		}
		return block, true

	case p.Thought:
		if p.Text == "" {
			if !sigcache.Valid(p.ThoughtSignature) {
				return nil, false
			}
			return &anthropic.ContentBlock{
				Type: anthropic.BlockRedactedThinking,
				Data: p.ThoughtSignature,
			}, false
		}
		block := &anthropic.ContentBlock{
			Type:     anthropic.BlockThinking,
			Thinking: p.Text,
		}
		if sigcache.Valid(p.ThoughtSignature) {
			block.Signature = p.ThoughtSignature
			t.cache.StoreFamily(p.ThoughtSignature, family)
			t.cache.StoreSessionSignature(sessionID, p.ThoughtSignature)
		}
		return block, false

	case p.InlineData != nil:
		return &anthropic.ContentBlock{
			Type: anthropic.BlockImage,
			Source: &anthropic.Source{
				Type:      "base64",
				MediaType: p.InlineData.MimeType,
				Data:      p.InlineData.Data,
			},
		}, false

	case p.FileData != nil:
		blockType := anthropic.BlockDocument
		if strings.HasPrefix(p.FileData.MimeType, "image/") {
			blockType = anthropic.BlockImage
		}
		return &anthropic.ContentBlock{
			Type: blockType,
			Source: &anthropic.Source{
				Type:      "url",
				MediaType: p.FileData.MimeType,
				URL:       p.FileData.FileURI,
			},
		}, false

	case p.Text != "":
		block := anthropic.TextBlock(p.Text)
		return &block, false

	default:
		return nil, false
	}
}

// translateStopReason maps the upstream finish reason.
func translateStopReason(finishReason string, hasToolCall bool) string {
	if hasToolCall {
		return anthropic.StopToolUse
	}
	switch finishReason {
	case gemini.FinishMaxTokens:
		return anthropic.StopMaxTokens
	case gemini.FinishToolUse:
		return anthropic.StopToolUse
	default:
		return anthropic.StopEndTurn
	}
}

// translateUsage maps usage metadata; prompt tokens exclude the cached
// share, which is reported separately.
func translateUsage(um *gemini.UsageMetadata) anthropic.Usage {
	if um == nil {
		return anthropic.Usage{}
	}
	input := um.PromptTokenCount - um.CachedContentTokenCount
	if input < 0 {
		input = 0
	}
	return anthropic.Usage{
		InputTokens:          input,
		OutputTokens:         um.CandidatesTokenCount,
		CacheReadInputTokens: um.CachedContentTokenCount,
	}
}

func blockedCategories(candidate *gemini.Candidate) string {
	var cats []string
	for _, r := range candidate.SafetyRatings {
		if r.Blocked {
			cats = append(cats, r.Category)
		}
	}
	if len(cats) == 0 {
		return candidate.FinishReason
	}
	return strings.Join(cats, ", ")
}

// attachCitations folds grounding metadata into the response: citations on
// the last text block, search queries appended when no text block exists.
func attachCitations(out *anthropic.MessagesResponse, gm *gemini.GroundingMetadata) {
	citations := make([]anthropic.Citation, 0, len(gm.GroundingChunks))
	for _, chunk := range gm.GroundingChunks {
		if chunk.Web != nil && chunk.Web.URI != "" {
			citations = append(citations, anthropic.Citation{
				Type:  "web_search_result_location",
				URL:   chunk.Web.URI,
				Title: chunk.Web.Title,
			})
		}
	}
	if len(citations) == 0 {
		return
	}
	for i := len(out.Content) - 1; i >= 0; i-- {
		if out.Content[i].Type == anthropic.BlockText {
			out.Content[i].Citations = citations
			return
		}
	}
}
