package translator

import (
	"log/slog"

	"mercator-hq/ganymede/pkg/anthropic"
)

// truncateHistory walks messages newest-to-oldest, keeping messages until
// the estimated token budget would be exceeded. budget 0 means unbounded.
//
// Two rescues override the budget:
//
//   - a kept tool-result message also keeps the immediately preceding
//     message when it carries the matching tool-call, even if it overflows
//   - when the surviving oldest message is from the assistant, the
//     preceding user message is prepended so the conversation still opens
//     with the user role
func truncateHistory(messages []anthropic.Message, budget int) []anthropic.Message {
	if budget <= 0 || len(messages) == 0 {
		return messages
	}

	kept := 0 // number of trailing messages kept
	used := 0
	for i := len(messages) - 1; i >= 0; i-- {
		cost := EstimateMessageTokens(&messages[i])
		if used+cost > budget && kept > 0 {
			break
		}
		used += cost
		kept++
	}

	start := len(messages) - kept
	if start == 0 {
		return messages
	}

	// Tool-result rescue: the oldest kept message may reply to a
	// tool-call in the message being cut.
	if start > 0 && messageHasToolResult(&messages[start]) {
		if prev := &messages[start-1]; messageHasToolCallFor(prev, toolResultIDs(&messages[start])) {
			start--
		}
	}

	// First-role rescue: conversations must open with the user.
	if start > 0 && messages[start].Role == anthropic.RoleAssistant {
		start--
	}

	if start > 0 {
		slog.Debug("context truncated",
			"dropped", start,
			"kept", len(messages)-start,
			"budget", budget,
		)
	}
	return messages[start:]
}

func messageHasToolResult(msg *anthropic.Message) bool {
	for i := range msg.Content {
		if msg.Content[i].Type == anthropic.BlockToolResult {
			return true
		}
	}
	return false
}

func toolResultIDs(msg *anthropic.Message) map[string]bool {
	ids := make(map[string]bool)
	for i := range msg.Content {
		if msg.Content[i].Type == anthropic.BlockToolResult {
			ids[msg.Content[i].ToolUseID] = true
		}
	}
	return ids
}

func messageHasToolCallFor(msg *anthropic.Message, ids map[string]bool) bool {
	for i := range msg.Content {
		b := &msg.Content[i]
		if b.Type == anthropic.BlockToolUse && ids[b.ID] {
			return true
		}
	}
	return false
}
