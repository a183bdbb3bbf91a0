package translator

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Tool schema sanitization. The upstream's function-declaration dialect is
// a JSON-schema subset with uppercased primitive type names; unsupported
// constructs are flattened or folded into descriptions so the declaration
// still parses and the model still sees the intent.
//
// SanitizeSchema is idempotent: sanitizing an already-sanitized schema is a
// no-op.

var toolNamePattern = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// SanitizeToolName normalizes a tool name to [A-Za-z0-9_-]{1,64}.
func SanitizeToolName(name string) string {
	cleaned := toolNamePattern.ReplaceAllString(name, "_")
	if cleaned == "" {
		cleaned = "tool"
	}
	if len(cleaned) > 64 {
		cleaned = cleaned[:64]
	}
	return cleaned
}

// unsupportedConstraints are schema keywords the upstream rejects; their
// values are folded into the description instead.
var unsupportedConstraints = []string{
	"minLength", "maxLength", "pattern", "format", "examples",
	"default", "minimum", "maximum", "exclusiveMinimum", "exclusiveMaximum",
	"minItems", "maxItems", "uniqueItems", "additionalProperties",
	"$schema", "$id", "$defs", "definitions",
}

// SanitizeSchema rewrites a JSON-schema tree into the upstream dialect.
// The input map is not modified; a sanitized copy is returned.
func SanitizeSchema(schema map[string]any) map[string]any {
	if schema == nil {
		return nil
	}
	return sanitizeNode(schema)
}

func sanitizeNode(node map[string]any) map[string]any {
	out := make(map[string]any, len(node))
	for k, v := range node {
		out[k] = v
	}

	// $ref becomes an inline object with a hint; the target is not
	// resolvable once the declaration is detached from its document.
	if ref, ok := out["$ref"].(string); ok {
		hint := fmt.Sprintf("Reference: %s", ref)
		out = map[string]any{
			"type":        "object",
			"description": joinDescription(stringValue(node["description"]), hint),
		}
		return finalizeNode(out)
	}

	// allOf merges into a single object by union of properties/required.
	if allOf, ok := out["allOf"].([]any); ok {
		merged := mergeAllOf(allOf)
		delete(out, "allOf")
		for k, v := range merged {
			if _, exists := out[k]; !exists || k == "properties" || k == "required" {
				out[k] = v
			}
		}
	}

	// anyOf/oneOf flatten to the highest-ranked alternative, noting the
	// accepted shapes in the description.
	for _, key := range []string{"anyOf", "oneOf"} {
		if alts, ok := out[key].([]any); ok && len(alts) > 0 {
			chosen, accepted := pickAlternative(alts)
			delete(out, key)
			desc := stringValue(out["description"])
			for k, v := range chosen {
				if k == "description" {
					continue
				}
				out[k] = v
			}
			out["description"] = joinDescription(desc, "Accepts: "+accepted)
		}
	}

	// A type array flattens to its first non-null member.
	if types, ok := out["type"].([]any); ok {
		var first string
		for _, t := range types {
			if s, ok := t.(string); ok && s != "null" {
				first = s
				break
			}
		}
		if first == "" {
			first = "string"
		}
		out["type"] = first
	}

	// const maps to a single-element enum.
	if cv, ok := out["const"]; ok {
		delete(out, "const")
		out["enum"] = []any{cv}
	}

	// Fold unsupported constraints into the description.
	var folded []string
	for _, key := range unsupportedConstraints {
		if v, ok := out[key]; ok {
			delete(out, key)
			switch key {
			case "$schema", "$id", "$defs", "definitions", "additionalProperties":
				// Structural noise, dropped silently.
			default:
				folded = append(folded, fmt.Sprintf("%s: %v", key, v))
			}
		}
	}
	if len(folded) > 0 {
		out["description"] = joinDescription(stringValue(out["description"]), strings.Join(folded, ", "))
	}

	// Recurse into subschemas.
	if props, ok := out["properties"].(map[string]any); ok {
		newProps := make(map[string]any, len(props))
		for name, sub := range props {
			if subMap, ok := sub.(map[string]any); ok {
				newProps[name] = sanitizeNode(subMap)
			} else {
				newProps[name] = sub
			}
		}
		out["properties"] = newProps
	}
	if items, ok := out["items"].(map[string]any); ok {
		out["items"] = sanitizeNode(items)
	}

	return finalizeNode(out)
}

// finalizeNode uppercases primitive type names to the upstream dialect.
func finalizeNode(node map[string]any) map[string]any {
	if t, ok := node["type"].(string); ok {
		node["type"] = strings.ToUpper(t)
	}
	return node
}

// mergeAllOf unions the properties and required lists of all members.
func mergeAllOf(alts []any) map[string]any {
	merged := map[string]any{"type": "object"}
	props := make(map[string]any)
	var required []string
	seen := make(map[string]bool)

	for _, alt := range alts {
		m, ok := alt.(map[string]any)
		if !ok {
			continue
		}
		m = sanitizeNode(m)
		if p, ok := m["properties"].(map[string]any); ok {
			for k, v := range p {
				props[k] = v
			}
		}
		if r, ok := m["required"].([]any); ok {
			for _, v := range r {
				if s, ok := v.(string); ok && !seen[s] {
					seen[s] = true
					required = append(required, s)
				}
			}
		}
	}
	if len(props) > 0 {
		merged["properties"] = props
	}
	if len(required) > 0 {
		sort.Strings(required)
		anyReq := make([]any, len(required))
		for i, r := range required {
			anyReq[i] = r
		}
		merged["required"] = anyReq
	}
	return merged
}

// pickAlternative ranks alternatives (object=3, array=2, primitive=1, ties
// to the first) and returns the sanitized winner plus an accepted-shapes
// summary like "string | object".
func pickAlternative(alts []any) (map[string]any, string) {
	var best map[string]any
	bestRank := -1
	var names []string

	for _, alt := range alts {
		m, ok := alt.(map[string]any)
		if !ok {
			continue
		}
		name := typeName(m)
		names = append(names, name)
		rank := typeRank(name)
		if rank > bestRank {
			bestRank = rank
			best = m
		}
	}
	if best == nil {
		best = map[string]any{"type": "string"}
	}
	return sanitizeNode(best), strings.Join(names, " | ")
}

func typeName(m map[string]any) string {
	switch t := m["type"].(type) {
	case string:
		return strings.ToLower(t)
	case []any:
		for _, v := range t {
			if s, ok := v.(string); ok && s != "null" {
				return strings.ToLower(s)
			}
		}
	}
	if _, ok := m["properties"]; ok {
		return "object"
	}
	if _, ok := m["items"]; ok {
		return "array"
	}
	return "string"
}

func typeRank(name string) int {
	switch name {
	case "object":
		return 3
	case "array":
		return 2
	default:
		return 1
	}
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

func joinDescription(existing, addition string) string {
	if addition == "" {
		return existing
	}
	// Idempotence: the same hint is not appended twice.
	if existing != "" && strings.Contains(existing, addition) {
		return existing
	}
	if existing == "" {
		return addition
	}
	return existing + ". " + addition
}
