package detect

import (
	"fmt"
	"strings"

	"custodian/internal/model"
)

// Matcher classifies command strings against an ordered signature table.
type Matcher struct {
	signatures []Signature
	riskyNames []string
}

// NewMatcher creates a matcher for the given platform. Extra signatures are
// matched before the built-in table.
func NewMatcher(goos string, extra []Signature) *Matcher {
	sigs := make([]Signature, 0, len(extra)+8)
	sigs = append(sigs, extra...)
	sigs = append(sigs, BuiltinSignatures(goos)...)

	return &Matcher{
		signatures: sigs,
		riskyNames: RiskyExecutables(goos),
	}
}

// Match classifies a command. Both the original and the de-obfuscated form
// are checked; the first signature containing a matching substring wins. If
// obfuscation markers were found, the baseline severity is raised one step
// (CRITICAL is a ceiling). When no signature matches, a high-risk executable
// name still yields a match; otherwise Match returns nil.
func (m *Matcher) Match(command, decoded string, markers []string, processName string) *model.ThreatMatch {
	forms := []string{strings.ToLower(command)}
	if decoded != "" && decoded != command {
		forms = append(forms, strings.ToLower(decoded))
	}

	for _, sig := range m.signatures {
		pattern := strings.ToLower(sig.Pattern)
		for _, form := range forms {
			if strings.Contains(form, pattern) {
				return m.finalize(model.ThreatMatch{
					Type:        sig.Type,
					Severity:    sig.Severity,
					Description: sig.Description,
				}, markers)
			}
		}
	}

	name := strings.ToLower(processName)
	for _, risky := range m.riskyNames {
		if strings.Contains(name, risky) {
			return m.finalize(model.ThreatMatch{
				Type:        model.ThreatOther,
				Severity:    model.SeverityHigh,
				Description: fmt.Sprintf("high-risk forensic tool execution: %s", processName),
			}, markers)
		}
	}

	return nil
}

// ForcedMatch builds a match for an externally supplied threat context. It
// bypasses the signature table: the external detector already decided.
func (m *Matcher) ForcedMatch(threatType model.ThreatType, severity model.Severity, description string) model.ThreatMatch {
	if severity == "" {
		severity = model.SeverityHigh
	}
	if description == "" {
		description = "externally supplied threat context"
	}
	return model.ThreatMatch{
		Type:        threatType,
		Severity:    severity,
		Description: description,
	}
}

func (m *Matcher) finalize(match model.ThreatMatch, markers []string) *model.ThreatMatch {
	if len(markers) > 0 {
		match.Obfuscation = append(match.Obfuscation, markers...)
		match.Description = fmt.Sprintf("%s (obfuscated: %s)", match.Description, strings.Join(markers, ", "))
		match.Severity = match.Severity.Escalate()
	}
	return &match
}
