package translator

import "strings"

// ModelFamily groups upstream models by their reasoning-signature dialect.
type ModelFamily int

const (
	// FamilyGemini models accept unsigned reasoning and ignore stray
	// signatures.
	FamilyGemini ModelFamily = iota

	// FamilyClaude models validate reasoning signatures strictly and
	// reject empty text parts.
	FamilyClaude

	// FamilyGPT models take neither reasoning signatures nor the
	// identity-scrub preamble.
	FamilyGPT
)

// Family classifies a model id.
func Family(modelID string) ModelFamily {
	lower := strings.ToLower(modelID)
	switch {
	case strings.Contains(lower, "claude"):
		return FamilyClaude
	case strings.HasPrefix(lower, "gpt-") || strings.Contains(lower, "-gpt"):
		return FamilyGPT
	default:
		return FamilyGemini
	}
}

// SupportsThinking reports whether the model emits reasoning blocks.
func SupportsThinking(modelID string) bool {
	lower := strings.ToLower(modelID)
	if strings.Contains(lower, "thinking") {
		return true
	}
	// Newer gemini generations think by default.
	return strings.HasPrefix(lower, "gemini-3-")
}

// SupportsThinkingLevel reports whether the model takes a named reasoning
// level instead of a numeric budget.
func SupportsThinkingLevel(modelID string) bool {
	return strings.HasPrefix(strings.ToLower(modelID), "gemini-3-")
}

// SupportsInterleavedThinking reports whether the model can interleave
// reasoning with tool calls.
func SupportsInterleavedThinking(modelID string) bool {
	return Family(modelID) == FamilyClaude && SupportsThinking(modelID)
}

// claudeMaxOutputTokens is the hard output ceiling for claude-routed
// models on the internal endpoints.
const claudeMaxOutputTokens = 64000

// MaxOutputTokens returns the model's output ceiling, 0 for none.
func MaxOutputTokens(modelID string) int {
	if Family(modelID) == FamilyClaude {
		return claudeMaxOutputTokens
	}
	return 0
}

// upstreamAliases maps public model ids to the internal ids the upstream
// expects, and back.
var upstreamAliases = map[string]string{
	"gemini-3-pro-preview":       "gemini-3-pro-high",
	"gemini-3-flash-preview":     "gemini-3-flash",
	"claude-sonnet-4-5":          "gemini-claude-sonnet-4-5",
	"claude-sonnet-4-5-thinking": "gemini-claude-sonnet-4-5-thinking",
	"claude-opus-4-5-thinking":   "gemini-claude-opus-4-5-thinking",
}

var upstreamAliasesReverse = func() map[string]string {
	m := make(map[string]string, len(upstreamAliases))
	for k, v := range upstreamAliases {
		m[v] = k
	}
	return m
}()

// ToUpstreamModel maps a public model id to the upstream internal id.
func ToUpstreamModel(modelID string) string {
	if internal, ok := upstreamAliases[modelID]; ok {
		return internal
	}
	return modelID
}

// FromUpstreamModel maps an upstream internal id back to the public id.
// Returns "" for internal-only ids that are not published.
func FromUpstreamModel(internalID string) string {
	if public, ok := upstreamAliasesReverse[internalID]; ok {
		return public
	}
	switch internalID {
	case "chat_20706", "chat_23310", "gemini-3-pro-low":
		return ""
	}
	return internalID
}
