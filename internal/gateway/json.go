package gateway

import (
	"context"
	"encoding/json"
)

// structuralFields are JSON keys that carry request shape, not user
// content, and are never walked for PHI (request parameters like
// temperature or max_tokens can't contain patient data).
var structuralFields = map[string]bool{
	"model": true, "temperature": true, "max_tokens": true,
	"top_p": true, "stream": true, "n": true,
}

// redactJSON parses body as JSON and redacts every string leaf under
// sessionID, skipping structuralFields. A body that doesn't parse as JSON is
// redacted whole, as plain text. Returns the rewritten body, the number of
// distinct tokens in the session's token map after the last leaf (for a new
// session, the tokens minted for this body), and the request's "model"
// field (empty if absent) for injectFilterInstruction.
func (s *Server) redactJSON(ctx context.Context, body []byte, sessionID string) ([]byte, int, string) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		tokenCount := 0
		text := s.redactLeaf(ctx, string(body), sessionID, &tokenCount)
		return []byte(text), tokenCount, ""
	}

	model := ""
	if m, ok := doc.(map[string]any); ok {
		if v, ok := m["model"].(string); ok {
			model = v
		}
	}

	tokenCount := 0
	redacted := s.walkValue(ctx, doc, sessionID, &tokenCount)

	out, err := json.Marshal(redacted)
	if err != nil {
		return body, 0, model
	}
	return out, tokenCount, model
}

// walkValue recursively redacts string leaves in a JSON-decoded value,
// storing the session's token-map size after each leaf in *tokenCount.
func (s *Server) walkValue(ctx context.Context, v any, sessionID string, tokenCount *int) any {
	switch val := v.(type) {
	case string:
		return s.redactLeaf(ctx, val, sessionID, tokenCount)
	case []any:
		for i, item := range val {
			val[i] = s.walkValue(ctx, item, sessionID, tokenCount)
		}
		return val
	case map[string]any:
		for k, item := range val {
			if !structuralFields[k] {
				val[k] = s.walkValue(ctx, item, sessionID, tokenCount)
			}
		}
		return val
	}
	return v
}

func (s *Server) redactLeaf(ctx context.Context, text, sessionID string, tokenCount *int) string {
	result, err := s.eng.Redact(ctx, sessionID, text, s.currentPolicy())
	if err != nil {
		s.logf("REDACT", "redact error for session %s: %v", sessionID, err)
		return text
	}
	*tokenCount = len(result.Tokens)
	return result.Text
}

// injectFilterInstruction appends the policy-driven PHI-token instruction
// to the request's system prompt so the downstream model reproduces tokens
// verbatim instead of hallucinating replacement values. Handles two shapes:
//
//   - Anthropic messages API: top-level "system" field (string or content-block array)
//   - OpenAI-compatible API:  first "messages" entry with role "system"; when
//     "messages" has no such entry, a new system message is prepended
//
// A body with neither a "system" field nor a "messages" array (embeddings,
// completions) is returned unchanged.
func (s *Server) injectFilterInstruction(body []byte, model string) []byte {
	instruction := s.cfg.ResolveFilterInstruction(model)
	if instruction == "" {
		return body
	}

	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return body
	}

	if sys, ok := doc["system"]; ok {
		switch v := sys.(type) {
		case string:
			if v == "" {
				doc["system"] = instruction
			} else {
				doc["system"] = v + "\n\n" + instruction
			}
			out, err := json.Marshal(doc)
			if err != nil {
				return body
			}
			return out
		case []any:
			doc["system"] = append(v, map[string]any{"type": "text", "text": instruction})
			out, err := json.Marshal(doc)
			if err != nil {
				return body
			}
			return out
		}
	}

	if msgs, ok := doc["messages"].([]any); ok {
		for _, m := range msgs {
			if msg, ok := m.(map[string]any); ok && msg["role"] == "system" {
				if content, ok := msg["content"].(string); ok {
					if content == "" {
						msg["content"] = instruction
					} else {
						msg["content"] = content + "\n\n" + instruction
					}
				}
				out, err := json.Marshal(doc)
				if err != nil {
					return body
				}
				return out
			}
		}
		doc["messages"] = append([]any{map[string]any{"role": "system", "content": instruction}}, msgs...)
		out, err := json.Marshal(doc)
		if err != nil {
			return body
		}
		return out
	}

	return body
}
