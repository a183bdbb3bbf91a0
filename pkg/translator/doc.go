// Package translator converts between the client-facing messages format
// and the upstream generate-content format.
//
// # Request pipeline
//
// BuildRequest runs a fixed pass order over the conversation:
//
//  1. System text extraction (plus the interleaved-thinking hint)
//  2. Thinking recovery for interrupted tool loops and cross-family
//     signature mixes
//  3. Context truncation under the configured token budget, with rescues
//     that keep tool-call/result pairs together and keep the first message
//     on the user role
//  4. Orphaned tool-result rewrite into plain text
//  5. Assistant-content repair: cached-signature restore, trailing unsigned
//     reasoning removal, block reorder to reasoning/text/tool-call
//  6. Unsigned-reasoning filter for claude-routed models
//  7. Empty-parts guard (a period placeholder)
//  8. Tool schema sanitization into the upstream dialect
//  9. Generation config mapping, including the thinking budget/level
//  10. Session id attachment for upstream prompt caching
//  11. Identity-scrub system preamble (skipped for GPT-family targets)
//
// Token estimation is a chars/4 heuristic with per-message overhead; it
// makes no tokenizer-accuracy claims.
//
// # Response translation
//
// TranslateResponse maps the first candidate's parts onto content blocks,
// extracting reasoning with signatures (cached for later restoration), tool
// calls, inline media, and grounding citations, and maps finish reasons and
// usage metadata onto the client vocabulary.
package translator
