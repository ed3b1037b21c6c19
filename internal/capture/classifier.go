package capture

import "strings"

// DefaultCriticalPatterns mark a record critical regardless of any other match
var DefaultCriticalPatterns = []string{
	"referenceerror",
	"is not defined",
	"securityerror",
	"payment",
	"wallet",
	"transaction",
	"authentication",
	"unauthorized",
	"jwt",
	"session expired",
	"stripe",
}

// DefaultIgnorablePatterns are noise sources that are never persisted.
// Generic fetch failures are deliberately absent so import and chunk load
// failures still reach the rule engine.
var DefaultIgnorablePatterns = []string{
	// analytics and tracking
	"google-analytics",
	"googletagmanager",
	"facebook.net",
	"hotjar",
	"doubleclick",
	"segment.io",
	"mixpanel",
	// network noise
	"networkerror when attempting to fetch",
	"load failed",
	"net::err_",
	"aborterror",
	"the operation was aborted",
	// layout
	"resizeobserver loop",
	// media and codecs
	"play() request was interrupted",
	"media_err",
	// browser extensions
	"chrome-extension://",
	"moz-extension://",
	"safari-extension://",
	// dev tooling
	"[vite]",
	"webpack-dev-server",
	"hot-update",
	"__react_devtools",
	// cross-origin script errors carry no information
	"script error.",
}

// Verdict is the outcome of classifying a message
type Verdict int

const (
	// VerdictReportable keeps the event's default severity
	VerdictReportable Verdict = iota
	// VerdictCritical forces critical severity
	VerdictCritical
	// VerdictIgnored discards the event
	VerdictIgnored
)

func (v Verdict) String() string {
	switch v {
	case VerdictCritical:
		return "critical"
	case VerdictIgnored:
		return "ignored"
	default:
		return "reportable"
	}
}

// Classifier matches literal, case-insensitive substrings against
// message + " " + url. Critical patterns win over ignorable ones.
type Classifier struct {
	critical  []string
	ignorable []string
}

// NewClassifier creates a classifier from ordered pattern lists
func NewClassifier(critical, ignorable []string) *Classifier {
	return &Classifier{
		critical:  lowerAll(critical),
		ignorable: lowerAll(ignorable),
	}
}

// DefaultClassifier uses the built-in pattern lists
func DefaultClassifier() *Classifier {
	return NewClassifier(DefaultCriticalPatterns, DefaultIgnorablePatterns)
}

// Classify returns the verdict for a message and its originating URL
func (c *Classifier) Classify(message, url string) Verdict {
	text := strings.ToLower(message + " " + url)

	if matchAny(text, c.critical) {
		return VerdictCritical
	}
	if matchAny(text, c.ignorable) {
		return VerdictIgnored
	}
	return VerdictReportable
}

func matchAny(text string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
