package session

import (
	"strings"
	"time"
)

// UpdateFromStep is the single mutation entrypoint: every executed step,
// successful or not, produces exactly one CompletedStep record. tool="none"
// is the only idempotent case — it still records the step but performs no
// observation-set updates.
func (s *State) UpdateFromStep(stepID, tool string, params map[string]any, output string, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()

	rec := CompletedStep{
		StepID:        stepID,
		Tool:          tool,
		Params:        cloneParams(params),
		OutputSummary: summarize(output),
		Success:       success,
		Timestamp:     now,
	}
	if !success {
		rec.ErrorKind, rec.ErrorMessage = ClassifyError(output)
	}
	s.completedSteps = append(s.completedSteps, rec)

	if tool == "none" {
		return
	}

	switch tool {
	case "scan_workspace":
		if success {
			basePath, _ := params["path"].(string)
			s.ingestScanLocked(basePath, output)
		}
	case "read_file":
		if success {
			if path, ok := params["path"].(string); ok && path != "" {
				s.readFiles[path] = true
			} else if path, ok := params["file_path"].(string); ok && path != "" {
				s.readFiles[path] = true
			}
		}
	case "write_file", "replace_in_file", "insert_in_file", "append_to_file":
		if success {
			path := firstStringParam(params, "path", "file_path")
			if path != "" {
				s.editedFiles[path] = true
				if !containsStr(s.files, path) {
					s.files = append(s.files, path)
				}
			}
		}
	case "list_agents":
		if success {
			s.agentsVerified = true
			s.discoveredAgents = parseAgentIDList(output)
		}
	case "execute", "remote_bash":
		if success {
			agentID := firstStringParam(params, "agent_id", "agentId")
			if agentID != "" {
				s.queriedAgents[agentID] = true
			}
		}
	case "execute_shell":
		if success {
			s.extractShellFactsLocked(output)
		}
	}

	if success {
		command := firstStringParam(params, "command")
		s.extractLedgerValuesLocked(tool, command, output)
	}

	s.ledger.AddEntry(tool+": "+summarize(output), now)
}

func cloneParams(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		if k == "content" {
			continue
		}
		out[k] = v
	}
	return out
}

func firstStringParam(params map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := params[k]; ok {
			if str, ok := v.(string); ok && str != "" {
				return str
			}
		}
	}
	return ""
}

// parseAgentIDList extracts agent ids from a list_agents output, one per
// non-empty line, tolerating a leading "- " or "* " bullet.
func parseAgentIDList(output string) []string {
	var ids []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "- ")
		line = strings.TrimPrefix(line, "* ")
		if line != "" {
			ids = append(ids, line)
		}
	}
	return ids
}
