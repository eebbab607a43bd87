package driver

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/tarsy-oss/funnel/pkg/step"
)

// localExecTimeout bounds every locally-executed shell command, independent
// of whatever timeout the remote dispatcher enforces on an `execute` step.
const localExecTimeout = 30 * time.Second

// localHandlers runs every tool that never leaves this process:
// scan_workspace, read_file, write_file, replace_in_file, insert_in_file,
// append_to_file, execute_shell. Run also answers think/dump_state/none as
// no-op successes.
type localHandlers struct {
	root string // workspace root all relative paths resolve against
}

func newLocalHandlers(root string) *localHandlers {
	return &localHandlers{root: root}
}

func (h *localHandlers) resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(h.root, path)
}

// Run dispatches s to the matching local handler.
func (h *localHandlers) Run(ctx context.Context, s *step.Step) step.StepResult {
	switch s.Tool {
	case step.ToolScanWorkspace:
		return h.scanWorkspace(s.Path())
	case step.ToolReadFile:
		return h.readFile(s.Path())
	case step.ToolWriteFile:
		return h.writeFile(s.Path(), s.StringParam("content"))
	case step.ToolReplaceInFile:
		return h.replaceInFile(s.Path(), s.StringParam("find"), s.StringParam("replace"))
	case step.ToolInsertInFile:
		return h.insertInFile(s.Path(), s.StringParam("position"), s.StringParam("content"))
	case step.ToolAppendToFile:
		return h.appendToFile(s.Path(), s.StringParam("content"))
	case step.ToolExecuteShell:
		return h.executeShell(ctx, s.Command())
	case step.ToolDumpState:
		return step.StepResult{Success: true, Output: "state dump not implemented locally"}
	default:
		return step.StepResult{Success: true} // think/none: no-op success
	}
}

func (h *localHandlers) scanWorkspace(path string) step.StepResult {
	root := h.resolve(path)
	entries, err := os.ReadDir(root)
	if err != nil {
		return failResult(err)
	}

	var b strings.Builder
	b.WriteString("NAME TYPE SIZE MODIFIED\n")
	files, dirs := 0, 0
	for _, e := range entries {
		info, err := e.Info()
		if err != nil {
			continue
		}
		typ := "file"
		if e.IsDir() {
			typ = "dir"
			dirs++
		} else {
			files++
		}
		b.WriteString(fmt.Sprintf("%s %s %d %s\n", e.Name(), typ, info.Size(), info.ModTime().Format(time.RFC3339)))
	}
	b.WriteString(fmt.Sprintf("TOTAL: %d items (%d dirs, %d files)\n", dirs+files, dirs, files))
	return step.StepResult{Success: true, Output: b.String()}
}

func (h *localHandlers) readFile(path string) step.StepResult {
	data, err := os.ReadFile(h.resolve(path))
	if err != nil {
		return failResult(err)
	}
	return step.StepResult{Success: true, Output: string(data)}
}

func (h *localHandlers) writeFile(path, content string) step.StepResult {
	full := h.resolve(path)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return failResult(err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return failResult(err)
	}
	return step.StepResult{Success: true, Output: fmt.Sprintf("wrote %d bytes to %s", len(content), path)}
}

func (h *localHandlers) replaceInFile(path, find, replace string) step.StepResult {
	full := h.resolve(path)
	data, err := os.ReadFile(full)
	if err != nil {
		return failResult(err)
	}
	original := string(data)
	if !strings.Contains(original, find) {
		return step.StepResult{Success: false, ErrorKind: step.ErrorNotFound, ErrorMessage: fmt.Sprintf("pattern not found in %s", path)}
	}
	updated := strings.Replace(original, find, replace, 1)
	if err := os.WriteFile(full, []byte(updated), 0o644); err != nil {
		return failResult(err)
	}
	return step.StepResult{Success: true, Output: fmt.Sprintf("replaced 1 occurrence in %s", path)}
}

func (h *localHandlers) insertInFile(path, position, content string) step.StepResult {
	full := h.resolve(path)
	data, err := os.ReadFile(full)
	if err != nil {
		return failResult(err)
	}
	var updated string
	if position == "start" {
		updated = content + string(data)
	} else {
		updated = string(data) + content
	}
	if err := os.WriteFile(full, []byte(updated), 0o644); err != nil {
		return failResult(err)
	}
	return step.StepResult{Success: true, Output: fmt.Sprintf("inserted content at %s of %s", position, path)}
}

func (h *localHandlers) appendToFile(path, content string) step.StepResult {
	full := h.resolve(path)
	f, err := os.OpenFile(full, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return failResult(err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		return failResult(err)
	}
	return step.StepResult{Success: true, Output: fmt.Sprintf("appended %d bytes to %s", len(content), path)}
}

func (h *localHandlers) executeShell(ctx context.Context, command string) step.StepResult {
	timeoutCtx, cancel := context.WithTimeout(ctx, localExecTimeout)
	defer cancel()

	cmd := exec.CommandContext(timeoutCtx, "/bin/sh", "-c", command)
	cmd.Dir = h.root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	output := stdout.String()
	if stderr.Len() > 0 {
		output += "\n" + stderr.String()
	}

	if timeoutCtx.Err() == context.DeadlineExceeded {
		return step.StepResult{Success: false, ErrorKind: step.ErrorTimeout, ErrorMessage: "local command timed out", Output: output}
	}
	if err != nil {
		return step.StepResult{Success: false, ErrorKind: step.ErrorExecution, ErrorMessage: err.Error(), Output: output}
	}
	return step.StepResult{Success: true, Output: output}
}

func failResult(err error) step.StepResult {
	kind := step.ErrorExecution
	if os.IsNotExist(err) {
		kind = step.ErrorNotFound
	} else if os.IsPermission(err) {
		kind = step.ErrorPermissionDenied
	}
	return step.StepResult{Success: false, ErrorKind: kind, ErrorMessage: err.Error()}
}
