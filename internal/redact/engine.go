package redact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Redact walks value depth-first (JSON shapes: map[string]any, []any,
// string, and scalars) and returns a copy with every enabled rule applied
// to every string leaf. Scalars other than strings pass through unchanged.
func (p Policy) Redact(value any) any {
	out, _ := walk(value, "$", func(s, _ string) (string, error) {
		return p.redactString(s), nil
	})
	return out
}

// AssertNoSensitiveData walks value the same way Redact does and, on the
// first rule match, returns an UnredactedDataError naming the rule and the
// json_path of the offending string. This is the persistence gate: storage
// write paths call it before any insert/update that carries freeform
// content, and a non-nil error means the write must be refused.
func (p Policy) AssertNoSensitiveData(value any) error {
	_, err := walk(value, "$", func(s, path string) (string, error) {
		for _, r := range p.Rules {
			if !r.Enabled || r.compiled == nil {
				continue
			}
			if r.compiled.MatchString(s) {
				return "", &UnredactedDataError{RuleName: r.Name, JSONPath: path}
			}
		}
		return s, nil
	})
	return err
}

// redactString applies every enabled rule to s in rule order, re-scanning
// after each rule so overlapping matches from earlier rules don't hide
// later ones.
func (p Policy) redactString(s string) string {
	for _, r := range p.Rules {
		if !r.Enabled || r.compiled == nil {
			continue
		}
		s = r.compiled.ReplaceAllStringFunc(s, func(match string) string {
			return applyAction(r, match)
		})
	}
	return s
}

// MaskLabel returns the replacement text the mask action produces for
// category, for callers that need to redact a known-sensitive field
// (a header name, say) without routing it through a compiled Rule.
func MaskLabel(category string) string {
	return fmt.Sprintf("***REDACTED:%s***", category)
}

func applyAction(r Rule, match string) string {
	switch r.Action {
	case ActionMask:
		if r.Replacement != "" {
			return r.Replacement
		}
		return fmt.Sprintf("***REDACTED:%s***", r.Category)
	case ActionPartial:
		keepStart, keepEnd := r.KeepStart, r.KeepEnd
		if keepStart == 0 {
			keepStart = defaultKeepStart
		}
		if keepEnd == 0 {
			keepEnd = defaultKeepEnd
		}
		if len(match) < keepStart+keepEnd+4 {
			return fmt.Sprintf("***REDACTED:%s***", r.Category)
		}
		return match[:keepStart] + "***REDACTED:" + r.Category + "***" + match[len(match)-keepEnd:]
	case ActionHash:
		sum := sha256.Sum256([]byte(match))
		return fmt.Sprintf("***REDACTED:%s:HASH:%s***", r.Category, hex.EncodeToString(sum[:])[:12])
	case ActionDrop:
		return fmt.Sprintf("***REDACTED:%s***", r.Category)
	default:
		return fmt.Sprintf("***REDACTED:%s***", r.Category)
	}
}

// walk recurses through a decoded JSON-shaped value, invoking visit on
// every string leaf. visit returns the replacement string (Redact) or an
// error to abort the walk (AssertNoSensitiveData). Map keys are visited in
// an arbitrary but deterministic-per-call order; callers that need
// deterministic output across calls should not rely on map key order.
func walk(value any, path string, visit func(s, path string) (string, error)) (any, error) {
	switch v := value.(type) {
	case string:
		return visit(v, path)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, child := range v {
			childPath := path + "." + k
			redacted, err := walk(child, childPath, visit)
			if err != nil {
				return nil, err
			}
			out[k] = redacted
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			childPath := fmt.Sprintf("%s[%d]", path, i)
			redacted, err := walk(child, childPath, visit)
			if err != nil {
				return nil, err
			}
			out[i] = redacted
		}
		return out, nil
	default:
		return value, nil
	}
}
