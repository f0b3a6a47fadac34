package tools

import "regexp"

// dangerPatterns match command strings that force the approval gate. The
// list is a heuristic, not a security boundary — known false negatives
// exist (e.g. `find … -delete`). The true boundary is explicit approval on
// intrinsically dangerous tools plus this substring screen.
var dangerPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)rm\s+-[a-z]*r[a-z]*f|rm\s+-[a-z]*f[a-z]*r`),
	regexp.MustCompile(`(?i)\bdd\s`),
	regexp.MustCompile(`(?i)\bmkfs`),
	regexp.MustCompile(`(?i)\bfdisk\b`),
	regexp.MustCompile(`(?i)>\s*/dev/`),
	regexp.MustCompile(`(?i)\bshutdown\b`),
	regexp.MustCompile(`(?i)\breboot\b`),
	regexp.MustCompile(`(?i)\bhalt\b`),
	regexp.MustCompile(`(?i)\bpoweroff\b`),
	regexp.MustCompile(`(?i)chmod\s+777`),
	regexp.MustCompile(`(?i)chown\s+-[a-z]*R[a-z]*\s+\S+\s+/\s*$|chown\s+-[a-z]*R[a-z]*\s+\S+\s+/\s`),
	regexp.MustCompile(`:\(\)\s*\{.*:\|:.*\}`), // fork bomb
	regexp.MustCompile(`(?i)>\s*/etc/`),
	regexp.MustCompile(`(?i)systemctl\s+(stop|disable)\s+(ssh|sshd|networking|NetworkManager)`),
	regexp.MustCompile(`(?i)service\s+(ssh|sshd|networking|network-manager)\s+(stop|disable)`),
	regexp.MustCompile(`(?i)\bufw\s+disable\b`),
	regexp.MustCompile(`(?i)\biptables\s+-F\b`),
	regexp.MustCompile(`(?i)\bDROP\s+TABLE\b`),
	regexp.MustCompile(`(?i)\bTRUNCATE\b`),
	regexp.MustCompile(`(?i)\bDELETE\s+FROM\s+\w+\s*;`), // DELETE without WHERE
	regexp.MustCompile(`(?i)\buserdel\b`),
	regexp.MustCompile(`(?i)\bpasswd\s+root\b`),
}

// IsDangerousCommand reports whether s matches any danger pattern. Matching
// is case-insensitive and substring-based over the raw command string, so
// quoting a dangerous command (`echo "rm -rf /"`) still matches.
func IsDangerousCommand(s string) bool {
	if s == "" {
		return false
	}
	for _, p := range dangerPatterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

// DangerReason returns the pattern that triggered the classifier, so denial
// messages can say why approval is needed. Empty when s is not dangerous.
func DangerReason(s string) string {
	if s == "" {
		return ""
	}
	for _, p := range dangerPatterns {
		if p.MatchString(s) {
			return p.String()
		}
	}
	return ""
}
