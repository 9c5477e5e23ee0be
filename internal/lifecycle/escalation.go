package lifecycle

import "strings"

// Detector spots escalation keywords in inbound customer text.
type Detector struct {
	keywords []string
}

// NewDetector lowercases the configured keyword list once.
func NewDetector(keywords []string) *Detector {
	lowered := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			lowered = append(lowered, kw)
		}
	}
	return &Detector{keywords: lowered}
}

// Match returns the first keyword found in text, or "".
func (d *Detector) Match(text string) string {
	if len(d.keywords) == 0 {
		return ""
	}
	lowered := strings.ToLower(text)
	for _, kw := range d.keywords {
		if strings.Contains(lowered, kw) {
			return kw
		}
	}
	return ""
}
