package translator

import "mercator-hq/ganymede/pkg/anthropic"

// Token estimation. The heuristic is characters divided by four plus a
// small per-message overhead. It is deliberately approximate: nothing here
// claims tokenizer accuracy, it only has to be stable and cheap enough to
// drive context truncation and session rotation.

// perMessageOverhead covers role framing and block structure.
const perMessageOverhead = 8

// EstimateMessageTokens estimates one message's token footprint.
func EstimateMessageTokens(msg *anthropic.Message) int {
	chars := 0
	for i := range msg.Content {
		chars += blockChars(&msg.Content[i])
	}
	return chars/4 + perMessageOverhead
}

// EstimateRequestTokens estimates the whole conversation including the
// system prompt.
func EstimateRequestTokens(req *anthropic.MessagesRequest) int {
	total := 0
	for i := range req.Messages {
		total += EstimateMessageTokens(&req.Messages[i])
	}
	for i := range req.System {
		total += len(req.System[i].Text) / 4
	}
	return total
}

func blockChars(b *anthropic.ContentBlock) int {
	chars := len(b.Text) + len(b.Thinking) + len(b.Data) + len(b.Input)
	for i := range b.Content {
		chars += blockChars(&b.Content[i])
	}
	if b.Source != nil {
		// Images count by payload size; base64 is ~4/3 of the bytes.
		chars += len(b.Source.Data)
	}
	return chars
}
