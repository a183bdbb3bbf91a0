package translator

import (
	"log/slog"

	"mercator-hq/ganymede/pkg/anthropic"
	"mercator-hq/ganymede/pkg/sigcache"
)

// Reasoning-block repair passes. Clients replay history with signatures
// stripped, tool loops interrupted mid-flight, and blocks out of order; the
// upstream rejects all of it. These passes restore what the cache knows and
// cut what cannot be repaired.

// recoverInterruptedToolLoop detects a history whose trailing assistant
// turn issued tool calls that never got results, or whose signatures mix
// model families, and injects a synthetic closing turn so the tool-call /
// tool-result pairing holds before the payload reaches the upstream.
func (t *Translator) recoverInterruptedToolLoop(messages []anthropic.Message, targetFamily sigcache.Family) []anthropic.Message {
	open := openToolCalls(messages)
	mixed := t.hasCrossFamilySignatures(messages, targetFamily)
	if len(open) == 0 && !mixed {
		return messages
	}

	if mixed {
		// Cross-family signatures cannot be replayed; strip reasoning so
		// the upstream sees a plain conversation.
		messages = stripForeignReasoning(messages, t.cache, targetFamily)
	}

	if len(open) > 0 {
		slog.Debug("closing interrupted tool loop", "open_tool_calls", len(open))
		blocks := make([]anthropic.ContentBlock, 0, len(open))
		for _, id := range open {
			blocks = append(blocks, anthropic.ContentBlock{
				Type:      anthropic.BlockToolResult,
				ToolUseID: id,
				Content:   anthropic.BlockContent{anthropic.TextBlock("[Tool interrupted; no result captured]")},
			})
		}
		messages = append(messages, anthropic.Message{
			Role:    anthropic.RoleUser,
			Content: blocks,
		})
	}
	return messages
}

// openToolCalls returns ids of tool calls never answered by a tool result,
// in order of appearance.
func openToolCalls(messages []anthropic.Message) []string {
	answered := make(map[string]bool)
	for i := range messages {
		for j := range messages[i].Content {
			b := &messages[i].Content[j]
			if b.Type == anthropic.BlockToolResult {
				answered[b.ToolUseID] = true
			}
		}
	}
	var open []string
	for i := range messages {
		for j := range messages[i].Content {
			b := &messages[i].Content[j]
			if b.Type == anthropic.BlockToolUse && !answered[b.ID] {
				open = append(open, b.ID)
			}
		}
	}
	return open
}

// hasCrossFamilySignatures reports whether any signature in the history is
// known to belong to a different family than the target model.
func (t *Translator) hasCrossFamilySignatures(messages []anthropic.Message, target sigcache.Family) bool {
	for i := range messages {
		for j := range messages[i].Content {
			b := &messages[i].Content[j]
			sig := b.Signature
			if b.Type == anthropic.BlockRedactedThinking {
				sig = b.Data
			}
			if !sigcache.Valid(sig) {
				continue
			}
			if family, ok := t.cache.FamilyOf(sig); ok && family != target {
				return true
			}
		}
	}
	return false
}

// stripForeignReasoning removes reasoning blocks whose signatures belong to
// another family.
func stripForeignReasoning(messages []anthropic.Message, cache *sigcache.Cache, target sigcache.Family) []anthropic.Message {
	out := make([]anthropic.Message, 0, len(messages))
	for _, msg := range messages {
		var blocks []anthropic.ContentBlock
		for _, b := range msg.Content {
			if b.Type == anthropic.BlockThinking || b.Type == anthropic.BlockRedactedThinking {
				sig := b.Signature
				if b.Type == anthropic.BlockRedactedThinking {
					sig = b.Data
				}
				if family, ok := cache.FamilyOf(sig); ok && family != target {
					continue
				}
			}
			blocks = append(blocks, b)
		}
		msg.Content = blocks
		out = append(out, msg)
	}
	return out
}

// repairAssistantContent runs the per-assistant-message block passes:
// restore cached signatures onto unsigned reasoning, drop trailing unsigned
// reasoning, and reorder blocks to reasoning, text, tool-call.
func (t *Translator) repairAssistantContent(messages []anthropic.Message, sessionID string) []anthropic.Message {
	for i := range messages {
		if messages[i].Role != anthropic.RoleAssistant {
			continue
		}
		blocks := messages[i].Content

		// Restore signatures the client stripped.
		for j := range blocks {
			b := &blocks[j]
			if b.Type != anthropic.BlockThinking || sigcache.Valid(b.Signature) {
				continue
			}
			if sig, ok := t.cache.SessionSignature(sessionID); ok {
				b.Signature = sig
			}
		}

		// Trailing unsigned reasoning carries nothing the upstream can
		// verify; drop it.
		for len(blocks) > 0 {
			last := &blocks[len(blocks)-1]
			if last.Type == anthropic.BlockThinking && !sigcache.Valid(last.Signature) {
				blocks = blocks[:len(blocks)-1]
				continue
			}
			break
		}

		messages[i].Content = reorderAssistantBlocks(blocks)
	}
	return messages
}

// reorderAssistantBlocks sorts block groups to reasoning, text, tool-call,
// preserving order within each group.
func reorderAssistantBlocks(blocks []anthropic.ContentBlock) []anthropic.ContentBlock {
	var reasoning, text, tools, rest []anthropic.ContentBlock
	for _, b := range blocks {
		switch b.Type {
		case anthropic.BlockThinking, anthropic.BlockRedactedThinking:
			reasoning = append(reasoning, b)
		case anthropic.BlockToolUse:
			tools = append(tools, b)
		case anthropic.BlockText:
			text = append(text, b)
		default:
			rest = append(rest, b)
		}
	}
	out := make([]anthropic.ContentBlock, 0, len(blocks))
	out = append(out, reasoning...)
	out = append(out, text...)
	out = append(out, rest...)
	out = append(out, tools...)
	return out
}

// filterUnsignedReasoning removes reasoning blocks without a valid
// signature. Claude-routed upstreams reject unsigned reasoning anywhere in
// the conversation.
func filterUnsignedReasoning(messages []anthropic.Message) []anthropic.Message {
	for i := range messages {
		var blocks []anthropic.ContentBlock
		for _, b := range messages[i].Content {
			if b.Type == anthropic.BlockThinking && !sigcache.Valid(b.Signature) {
				continue
			}
			blocks = append(blocks, b)
		}
		messages[i].Content = blocks
	}
	return messages
}
