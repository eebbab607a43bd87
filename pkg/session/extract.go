package session

import (
	"regexp"
	"strconv"
	"strings"
)

// Shell-fact regexes, compiled once. Each fires at most once per step.
var (
	gitBranchOnPattern  = regexp.MustCompile(`On branch (\S+)`)
	gitBranchStarPattern = regexp.MustCompile(`(?m)^\* (\S+)`)
	pythonVersionPattern = regexp.MustCompile(`Python (\d+\.\d+\.\d+)`)
	nodeVersionPattern   = regexp.MustCompile(`v(\d+\.\d+\.\d+)`)
	pwdPattern           = regexp.MustCompile(`^(/[^\s]*|[A-Za-z]:\\[^\s]*)$`)
)

// extractShellFactsLocked runs only for successful execute_shell steps. At
// most one fact per regex is written. Caller must hold s.mu.
func (s *State) extractShellFactsLocked(output string) {
	trimmed := strings.TrimSpace(output)

	if m := gitBranchOnPattern.FindStringSubmatch(output); m != nil {
		s.environment.GitBranch = m[1]
	} else if m := gitBranchStarPattern.FindStringSubmatch(output); m != nil {
		s.environment.GitBranch = m[1]
	}

	if m := pythonVersionPattern.FindStringSubmatch(output); m != nil {
		s.environment.Runtimes["python"] = m[1]
	}
	if m := nodeVersionPattern.FindStringSubmatch(output); m != nil {
		s.environment.Runtimes["node"] = m[1]
	}

	if pwdPattern.MatchString(trimmed) {
		s.environment.WorkingDir = trimmed
	}

	if strings.Contains(output, "CONTAINER ID") || strings.Contains(output, "Server Version") {
		s.environment.DockerUp = true
	}
}

// Ledger-extraction regexes, compiled once.
var (
	ipv4Pattern   = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	httpsURLPattern = regexp.MustCompile(`https://[^\s"'<>]+`)
	portPattern   = regexp.MustCompile(`(?i)(?:\bport\b|listening on|:)\s*(\d{2,5})\b`)
	gitShaPattern = regexp.MustCompile(`\b[0-9a-f]{7,12}\b`)
	dockerIDPattern = regexp.MustCompile(`\b[0-9a-f]{12,64}\b`)
	errorLinePattern = regexp.MustCompile(`(?i)^.*error.*$`)
)

var excludedIPs = map[string]bool{
	"0.0.0.0":         true,
	"127.0.0.1":       true,
	"255.255.255.255": true,
}

// extractLedgerValuesLocked runs on every successful step and writes
// idempotently into the ledger's ExtractedValues map. Caller must hold s.mu.
func (s *State) extractLedgerValuesLocked(tool, command, output string) {
	for i, ip := range ipv4Pattern.FindAllString(output, -1) {
		if excludedIPs[ip] {
			continue
		}
		s.ledger.SetExtracted(keyN("ip", i), ip)
	}

	urls := httpsURLPattern.FindAllString(output, -1)
	for i, u := range urls {
		if i >= maxLedgerURLsPerOp {
			break
		}
		if len(u) > 100 {
			u = u[:100]
		}
		s.ledger.SetExtracted(keyN("url", i), u)
	}

	for _, m := range portPattern.FindAllStringSubmatch(output, -1) {
		s.ledger.SetExtracted("port", m[1])
		break
	}

	isGitCommand := strings.Contains(command, "git ") || strings.HasPrefix(strings.TrimSpace(command), "git")
	if isGitCommand {
		if m := gitShaPattern.FindString(output); m != "" {
			s.ledger.SetExtracted("git_sha", m)
		}
	}

	isDockerCommand := strings.Contains(command, "docker ") || strings.HasPrefix(strings.TrimSpace(command), "docker")
	if isDockerCommand {
		if m := dockerIDPattern.FindString(output); m != "" {
			s.ledger.SetExtracted("container_id", m)
		}
	}

	if m := errorLinePattern.FindString(output); m != "" {
		s.ledger.SetExtracted("last_error_line", m)
	}
}

func keyN(prefix string, n int) string {
	if n == 0 {
		return prefix
	}
	return prefix + "_" + strconv.Itoa(n)
}

// errorRules is an ordered list of (substring, kind) pairs; the first match
// wins. Matching is done against the lowercased output.
var errorRules = []struct {
	substr string
	kind   string
}{
	{"syntax error", "syntax_error"},
	{"unexpected token", "syntax_error"},
	{"parse error", "syntax_error"},
	{"timed out", "timeout"},
	{"timeout", "timeout"},
	{"deadline exceeded", "timeout"},
	{"permission denied", "permission_denied"},
	{"access is denied", "permission_denied"},
	{"not authorized", "permission_denied"},
	{"no such file", "not_found"},
	{"not found", "not_found"},
	{"cannot find", "not_found"},
	{"connection refused", "connection_error"},
	{"connection reset", "connection_error"},
	{"no route to host", "connection_error"},
	{"could not connect", "connection_error"},
	{"out of memory", "resource_error"},
	{"disk full", "resource_error"},
	{"no space left", "resource_error"},
}

// ClassifyError matches lowercased output against an ordered rule list; the
// first rule wins. Falls back to "execution_error" for any non-zero exit
// that doesn't match a known pattern. The first 200 chars of output are
// returned as the truncated error message.
func ClassifyError(output string) (kind, message string) {
	lower := strings.ToLower(output)
	kind = "execution_error"
	for _, rule := range errorRules {
		if strings.Contains(lower, rule.substr) {
			kind = rule.kind
			break
		}
	}
	message = output
	if len(message) > 200 {
		message = message[:200]
	}
	return kind, message
}

// summarize truncates output to ~80 chars for the CompletedStep's
// OutputSummary, preferring a clean word boundary.
func summarize(output string) string {
	output = strings.TrimSpace(strings.ReplaceAll(output, "\n", " "))
	const maxLen = 80
	if len(output) <= maxLen {
		return output
	}
	cut := output[:maxLen]
	if idx := strings.LastIndex(cut, " "); idx > maxLen/2 {
		cut = cut[:idx]
	}
	return cut + "..."
}
