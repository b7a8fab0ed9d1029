package sanitize

// Category groups threat rules by attack family.
type Category string

const (
	CategoryDirectOverride   Category = "direct_override"
	CategoryRoleManipulation Category = "role_manipulation"
	CategoryCommandInjection Category = "command_injection"
	CategoryPromptExtraction Category = "prompt_extraction"
	CategoryAuthorityClaim   Category = "authority_claim"
	CategoryDataExfiltration Category = "data_exfiltration"
	CategorySSRF             Category = "ssrf"
	CategoryPathTraversal    Category = "path_traversal"
	CategoryNullByte         Category = "null_byte"
	CategoryXMLInjection     Category = "xml_injection"
	CategoryEncoding         Category = "encoding"
)

// Severity indicates how dangerous a matched rule is.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Weight returns the score contribution of one match at this severity.
func (s Severity) Weight() int {
	switch s {
	case SeverityHigh:
		return 25
	case SeverityMedium:
		return 15
	case SeverityLow:
		return 8
	}
	return 0
}

// DefaultRules returns the threat detection rule table.
//
// Patterns target injection techniques observed against agent platforms:
// instruction overrides, role hijacking, shell injection, prompt extraction,
// false authority, exfiltration, SSRF, traversal, and encoding tricks.
func DefaultRules() []Rule {
	return []Rule{
		// Direct instruction override
		{
			ID:          "ignore-previous-instructions",
			Description: "Instruction to discard prior directives",
			Pattern:     `(?i)ignore\s+(all\s+|any\s+)?(previous|prior|above|earlier)\s+(instructions|directives|rules|prompts)`,
			Category:    CategoryDirectOverride,
			Severity:    SeverityHigh,
		},
		{
			ID:          "disregard-instructions",
			Description: "Instruction to disregard rules or guidelines",
			Pattern:     `(?i)disregard\s+(all\s+|any\s+|your\s+|previous\s+)?(instructions|rules|guidelines|policies)`,
			Category:    CategoryDirectOverride,
			Severity:    SeverityHigh,
		},
		{
			ID:          "forget-instructions",
			Description: "Instruction to forget prior context",
			Pattern:     `(?i)forget\s+(everything|all\s+previous|your\s+(instructions|training|rules))`,
			Category:    CategoryDirectOverride,
			Severity:    SeverityHigh,
		},
		{
			ID:          "new-instructions",
			Description: "Inline replacement instruction block",
			Pattern:     `(?i)(new|updated|revised)\s+instructions?\s*:`,
			Category:    CategoryDirectOverride,
			Severity:    SeverityHigh,
		},
		{
			ID:          "override-system",
			Description: "Attempt to override system or safety settings",
			Pattern:     `(?i)override\s+(the\s+)?(system|safety|security)\s*(prompt|settings?|protocols?)?`,
			Category:    CategoryDirectOverride,
			Severity:    SeverityHigh,
		},

		// Role manipulation
		{
			ID:          "you-are-now",
			Description: "Role reassignment statement",
			Pattern:     `(?i)you\s+are\s+now\s+(a|an|the|in)\b`,
			Category:    CategoryRoleManipulation,
			Severity:    SeverityHigh,
		},
		{
			ID:          "act-as",
			Description: "Request to act as a different persona",
			Pattern:     `(?i)act\s+as\s+(a|an|if|though)\b`,
			Category:    CategoryRoleManipulation,
			Severity:    SeverityMedium,
		},
		{
			ID:          "pretend-to-be",
			Description: "Request to pretend to be something else",
			Pattern:     `(?i)pretend\s+(to\s+be|you\s+are|that\s+you)`,
			Category:    CategoryRoleManipulation,
			Severity:    SeverityMedium,
		},
		{
			ID:          "roleplay-as",
			Description: "Roleplay persona request",
			Pattern:     `(?i)role[-\s]?play\s+as\b`,
			Category:    CategoryRoleManipulation,
			Severity:    SeverityMedium,
		},
		{
			ID:          "jailbreak-mode",
			Description: "Known jailbreak mode invocation",
			Pattern:     `(?i)\b(developer|god|jailbreak|dan|unrestricted)\s+mode\b`,
			Category:    CategoryRoleManipulation,
			Severity:    SeverityHigh,
		},

		// Command injection
		{
			ID:          "command-substitution",
			Description: "Shell command substitution",
			Pattern:     "\\$\\([^)]*\\)|`[^`]+`",
			Category:    CategoryCommandInjection,
			Severity:    SeverityMedium,
		},
		{
			ID:          "rm-rf",
			Description: "Recursive force delete",
			Pattern:     `(?i)\brm\s+-[a-z]*r[a-z]*f|\brm\s+-[a-z]*f[a-z]*r`,
			Category:    CategoryCommandInjection,
			Severity:    SeverityHigh,
		},
		{
			ID:          "curl-pipe-shell",
			Description: "Remote script piped into a shell",
			Pattern:     `(?i)\b(curl|wget)\b[^|;]{1,120}\|\s*(sudo\s+)?(ba|z)?sh\b`,
			Category:    CategoryCommandInjection,
			Severity:    SeverityHigh,
		},
		{
			ID:          "eval-call",
			Description: "Dynamic code evaluation",
			Pattern:     `(?i)\b(eval|exec|system|popen)\s*\(`,
			Category:    CategoryCommandInjection,
			Severity:    SeverityMedium,
		},
		{
			ID:          "chained-sudo",
			Description: "Privilege escalation via sudo in embedded command",
			Pattern:     `(?i)[;&|]\s*sudo\s+\S`,
			Category:    CategoryCommandInjection,
			Severity:    SeverityMedium,
		},

		// Prompt extraction
		{
			ID:          "reveal-system-prompt",
			Description: "Request to reveal the system prompt",
			Pattern:     `(?i)(reveal|show|print|repeat|output|display)\s+(me\s+)?(your|the)\s+(system\s+|initial\s+|original\s+)?(prompt|instructions)`,
			Category:    CategoryPromptExtraction,
			Severity:    SeverityHigh,
		},
		{
			ID:          "ask-instructions",
			Description: "Probe for configured instructions",
			Pattern:     `(?i)what\s+(are|were)\s+your\s+(initial\s+|original\s+|system\s+)?(instructions|rules|prompts)`,
			Category:    CategoryPromptExtraction,
			Severity:    SeverityMedium,
		},

		// Authority claims
		{
			ID:          "false-admin-claim",
			Description: "Unverifiable administrator identity claim",
			Pattern:     `(?i)i\s+am\s+(your|the|an?)\s+(admin(istrator)?|developer|creator|owner|operator|supervisor)`,
			Category:    CategoryAuthorityClaim,
			Severity:    SeverityMedium,
		},
		{
			ID:          "claimed-authorization",
			Description: "Claim of prior authorization",
			Pattern:     `(?i)(authorized|approved|cleared)\s+by\s+(the\s+)?(admin(istrator)?|security(\s+team)?|management|compliance)`,
			Category:    CategoryAuthorityClaim,
			Severity:    SeverityMedium,
		},
		{
			ID:          "security-test-claim",
			Description: "Claim that the request is a sanctioned test",
			Pattern:     `(?i)this\s+is\s+(just\s+)?(a\s+)?(security\s+|authorized\s+|penetration\s+)?(test|audit|drill|exercise)\b`,
			Category:    CategoryAuthorityClaim,
			Severity:    SeverityLow,
		},

		// Data exfiltration
		{
			ID:          "exfiltrate-secrets",
			Description: "Request to transmit credentials or secrets",
			Pattern:     `(?i)(send|post|upload|forward|exfiltrate|email)\s+(me\s+|us\s+|all\s+)?(the\s+|your\s+)?(credentials|secrets|passwords|tokens|api\s*keys)`,
			Category:    CategoryDataExfiltration,
			Severity:    SeverityHigh,
		},
		{
			ID:          "dump-env",
			Description: "Attempt to read environment secrets",
			Pattern:     `(?i)\b(cat|dump|print|echo|read)\b[^\n]{0,30}(\.env\b|/proc/self/environ|environment\s+variables)`,
			Category:    CategoryDataExfiltration,
			Severity:    SeverityMedium,
		},
		{
			ID:          "private-key-block",
			Description: "Embedded private key material",
			Pattern:     `-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?:[- ]BLOCK)?-----`,
			Category:    CategoryDataExfiltration,
			Severity:    SeverityHigh,
		},

		// SSRF
		{
			ID:          "cloud-metadata",
			Description: "Cloud instance metadata endpoint",
			Pattern:     `(?i)169\.254\.169\.254|metadata\.google\.internal|metadata\.azure\.com`,
			Category:    CategorySSRF,
			Severity:    SeverityHigh,
		},
		{
			ID:          "loopback-url",
			Description: "URL targeting the local host",
			Pattern:     `(?i)https?://(localhost|127\.0\.0\.1|0\.0\.0\.0|\[::1\])`,
			Category:    CategorySSRF,
			Severity:    SeverityMedium,
		},
		{
			ID:          "file-scheme-url",
			Description: "file:// scheme access",
			Pattern:     `(?i)\bfile://`,
			Category:    CategorySSRF,
			Severity:    SeverityMedium,
		},
		{
			ID:          "exotic-scheme-url",
			Description: "gopher/dict scheme smuggling",
			Pattern:     `(?i)\b(gopher|dict|ldap)://`,
			Category:    CategorySSRF,
			Severity:    SeverityHigh,
		},

		// Path traversal
		{
			ID:          "dotdot-traversal",
			Description: "Repeated parent-directory traversal",
			Pattern:     `(\.\./){2,}|(\.\.\\){2,}`,
			Category:    CategoryPathTraversal,
			Severity:    SeverityMedium,
		},
		{
			ID:          "system-credential-files",
			Description: "Access to system credential files",
			Pattern:     `(?i)/etc/(passwd|shadow|sudoers)|\.ssh/id_[a-z0-9]+`,
			Category:    CategoryPathTraversal,
			Severity:    SeverityHigh,
		},

		// Null-byte injection; stripped from sanitized output
		{
			ID:          "null-byte",
			Description: "Null byte injection",
			Pattern:     "\x00|%00",
			Category:    CategoryNullByte,
			Severity:    SeverityHigh,
			Strip:       true,
		},

		// XML injection
		{
			ID:          "xml-doctype-entity",
			Description: "DOCTYPE/ENTITY declaration (XXE vector)",
			Pattern:     `(?i)<!\s*(DOCTYPE|ENTITY)\b`,
			Category:    CategoryXMLInjection,
			Severity:    SeverityMedium,
		},
		{
			ID:          "xml-cdata",
			Description: "CDATA section smuggling",
			Pattern:     `<!\[CDATA\[`,
			Category:    CategoryXMLInjection,
			Severity:    SeverityLow,
		},

		// Encoded payloads; stripped from sanitized output
		{
			ID:          "base64-blob",
			Description: "Long base64 payload",
			Pattern:     `[A-Za-z0-9+/]{64,}={0,2}`,
			Category:    CategoryEncoding,
			Severity:    SeverityMedium,
			Strip:       true,
		},
	}
}
