package redact

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
)

// LoadPolicy reads and compiles a policy from path. A missing file is
// returned as an error wrapping os.ErrNotExist; callers decide whether to
// fall back to DefaultPolicy() (cmd/retrocourt does).
func LoadPolicy(path string) (Policy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("redact: load policy %s: %w", path, err)
	}
	var p Policy
	if err := json.Unmarshal(raw, &p); err != nil {
		return Policy{}, fmt.Errorf("redact: parse policy %s: %w", path, err)
	}
	if err := p.compile(); err != nil {
		return Policy{}, fmt.Errorf("redact: compile policy %s: %w", path, err)
	}
	return p, nil
}

// Compiled returns a copy of p with every enabled rule's pattern compiled,
// for policies built in-process (e.g. DefaultPolicy) rather than loaded
// from disk.
func Compiled(p Policy) (Policy, error) {
	if err := p.compile(); err != nil {
		return Policy{}, fmt.Errorf("redact: compile policy: %w", err)
	}
	return p, nil
}

func (p *Policy) compile() error {
	for i := range p.Rules {
		r := &p.Rules[i]
		if !r.Enabled {
			continue
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return fmt.Errorf("rule %q: %w", r.Name, err)
		}
		r.compiled = re
		if r.KeepStart == 0 {
			r.KeepStart = defaultKeepStart
		}
		if r.KeepEnd == 0 {
			r.KeepEnd = defaultKeepEnd
		}
	}
	return nil
}
