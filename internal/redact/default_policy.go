package redact

// DefaultPolicy returns the built-in rule set covering six families. Loaded as the fallback when REDACTION_POLICY_PATH is unset or
// missing.
func DefaultPolicy() Policy {
	return Policy{
		Version: "default-v1",
		Rules: []Rule{
			{
				Name:     "openai_api_key",
				Category: "api_key",
				Action:   ActionMask,
				Pattern:  `sk-(proj-)?[A-Za-z0-9_-]{16,}`,
				Enabled:  true,
			},
			{
				Name:     "github_token",
				Category: "api_key",
				Action:   ActionMask,
				Pattern:  `(ghp|github_pat)_[A-Za-z0-9_]{20,}`,
				Enabled:  true,
			},
			{
				Name:     "bearer_token",
				Category: "api_key",
				Action:   ActionPartial,
				Pattern:  `Bearer\s+[A-Za-z0-9._~+/=-]{8,}`,
				Enabled:  true,
			},
			{
				Name:     "email",
				Category: "pii",
				Action:   ActionPartial,
				Pattern:  `[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`,
				Enabled:  true,
			},
			{
				Name:     "phone_number",
				Category: "pii",
				Action:   ActionPartial,
				Pattern:  `(\+?\d{1,2}[\s.-]?)?\(?\d{3}\)?[\s.-]?\d{3}[\s.-]?\d{4}`,
				Enabled:  true,
			},
			{
				Name:     "pem_private_key",
				Category: "secret",
				Action:   ActionDrop,
				Pattern:  `-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`,
				Enabled:  true,
			},
		},
	}
}
