package detect

import "regexp"

// Entity type names follow the analyzer service's convention so both
// backends issue placeholders from the same vocabulary.
const (
	EntityEmailAddress = "EMAIL_ADDRESS"
	EntityPhoneNumber  = "PHONE_NUMBER"
	EntityUSSSN        = "US_SSN"
	EntityCreditCard   = "CREDIT_CARD"
	EntityIPAddress    = "IP_ADDRESS"
	EntityPerson       = "PERSON"
	EntityLocation     = "LOCATION"
)

// piiPattern pairs a compiled regex with its entity type and the confidence
// assigned to its matches. Regex confidence is capped well below 1.0: these
// are format checks, not semantic recognition.
type piiPattern struct {
	entityType string
	pattern    *regexp.Regexp
	confidence float64
}

// defaultPatterns returns the built-in detection table. PERSON and LOCATION
// have no regex form; only the analyzer backend can produce those.
func defaultPatterns() []piiPattern {
	return []piiPattern{
		{
			entityType: EntityEmailAddress,
			pattern:    regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`),
			confidence: 0.85,
		},
		// US formats with optional country code:
		// (123) 456-7890, 123-456-7890, 123.456.7890, +1 123 456 7890
		{
			entityType: EntityPhoneNumber,
			pattern:    regexp.MustCompile(`(?:\+1[\s.\-]?)?\(?\d{3}\)?[\s.\-]?\d{3}[\s.\-]?\d{4}`),
			confidence: 0.6,
		},
		// 123-45-6789, 123 45 6789, 123456789
		{
			entityType: EntityUSSSN,
			pattern:    regexp.MustCompile(`\b\d{3}[\s\-]?\d{2}[\s\-]?\d{4}\b`),
			confidence: 0.55,
		},
		// 16-digit card numbers with optional separators
		{
			entityType: EntityCreditCard,
			pattern:    regexp.MustCompile(`\b\d{4}[\s\-]?\d{4}[\s\-]?\d{4}[\s\-]?\d{4}\b`),
			confidence: 0.7,
		},
		// IPv4
		{
			entityType: EntityIPAddress,
			pattern:    regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\b`),
			confidence: 0.6,
		},
	}
}
