package session

import (
	"strconv"
	"strings"
)

// scanSizeUnits maps the unit suffixes a scan table's SIZE column may use to
// their byte multiplier.
var scanSizeUnits = map[string]int64{
	"B":   1,
	"KiB": 1 << 10,
	"MiB": 1 << 20,
	"GiB": 1 << 30,
	"TiB": 1 << 40,
}

// ingestScan parses a fixed "NAME TYPE SIZE MODIFIED" table produced by
// scan_workspace. Unparseable rows are skipped silently — the ingester never
// throws on malformed input. Returns the number of new files/dirs added
// (used by callers wanting a brief output summary).
func (s *State) ingestScan(basePath, output string) (newFiles, newDirs int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ingestScanLocked(basePath, output)
}

// ingestScanLocked is the lock-free variant for callers that already hold
// s.mu for writing (e.g. UpdateFromStep).
func (s *State) ingestScanLocked(basePath, output string) (newFiles, newDirs int) {
	s.scannedPaths[basePath] = true

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "TOTAL:") {
			s.ingestScanFooterLocked(line)
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue // malformed row, skip silently
		}

		// Header line, if present, is skipped by field-shape: "NAME TYPE SIZE
		// MODIFIED" has a non-file/dir TYPE token.
		name, typ := fields[0], strings.ToLower(fields[1])

		switch typ {
		case "dir", "directory":
			if !containsStr(s.dirs, name) {
				s.dirs = append(s.dirs, name)
				newDirs++
			}
		case "file":
			isNew := !containsStr(s.files, name)
			if isNew {
				s.files = append(s.files, name)
				newFiles++
			}
			if len(fields) >= 3 {
				if meta, ok := parseFileMetadataLocked(fields); ok {
					s.fileMetadata[name] = meta
				}
			}
		default:
			// unrecognized TYPE token — skip row silently
		}
	}
	return newFiles, newDirs
}

func containsStr(haystack []string, needle string) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}

// parseFileMetadataLocked builds FileMetadata from a scan row's remaining
// fields: SIZE (required, integer bytes or "N<unit>") and MODIFIED (rest of
// the line, optional).
func parseFileMetadataLocked(fields []string) (FileMetadata, bool) {
	sizeToken := fields[2]
	sizeBytes, ok := parseSizeToken(sizeToken)
	if !ok {
		return FileMetadata{}, false
	}
	modified := ""
	if len(fields) > 3 {
		modified = strings.Join(fields[3:], " ")
	}
	return FileMetadata{
		SizeBytes:    sizeBytes,
		HumanSize:    humanizeBytes(sizeBytes),
		ModifiedAt:   modified,
		DetectedType: detectFileType(fields[0]),
	}, true
}

// parseSizeToken accepts a bare integer byte count or a number with a known
// unit suffix (B, KiB, MiB, GiB, TiB).
func parseSizeToken(token string) (int64, bool) {
	if n, err := strconv.ParseInt(token, 10, 64); err == nil {
		return n, true
	}
	for unit, mult := range scanSizeUnits {
		if strings.HasSuffix(token, unit) {
			numPart := strings.TrimSuffix(token, unit)
			if f, err := strconv.ParseFloat(numPart, 64); err == nil {
				return int64(f * float64(mult)), true
			}
		}
	}
	return 0, false
}

func humanizeBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return strconv.FormatInt(n, 10) + "B"
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	units := []string{"KiB", "MiB", "GiB", "TiB", "PiB"}
	return strconv.FormatFloat(float64(n)/float64(div), 'f', 1, 64) + units[exp]
}

func detectFileType(name string) string {
	idx := strings.LastIndex(name, ".")
	if idx == -1 || idx == len(name)-1 {
		return "unknown"
	}
	return strings.ToLower(name[idx+1:])
}

// ingestScanFooterLocked parses "TOTAL: N items (D dirs, F files)" and
// updates environment totals. Caller must hold s.mu.
func (s *State) ingestScanFooterLocked(line string) {
	// "TOTAL: 42 items (5 dirs, 37 files)"
	rest := strings.TrimPrefix(line, "TOTAL:")
	fields := strings.Fields(rest)
	var dirs, files int
	for i, f := range fields {
		f = strings.Trim(f, "(),")
		if f == "dirs" && i > 0 {
			dirs, _ = strconv.Atoi(strings.Trim(fields[i-1], "(),"))
		}
		if f == "files" && i > 0 {
			files, _ = strconv.Atoi(strings.Trim(fields[i-1], "(),"))
		}
	}
	s.environment.TotalDirs = dirs
	s.environment.TotalFiles = files

	var total int64
	for _, m := range s.fileMetadata {
		total += m.SizeBytes
	}
	s.environment.TotalBytes = total

	s.detectProjectTypeLocked()
}

// detectProjectTypeLocked is rule-based over the discovered file set.
// Detections are idempotent and monotonic within a session — tags are only
// ever added, never removed.
func (s *State) detectProjectTypeLocked() {
	var hasPy, hasPyProjectFile, hasDocker, hasNode bool
	var hasFastAPI, hasPytest bool

	for _, f := range s.files {
		lower := strings.ToLower(f)
		switch {
		case strings.HasSuffix(lower, ".py"):
			hasPy = true
		case strings.HasSuffix(lower, "requirements.txt"),
			strings.HasSuffix(lower, "pyproject.toml"),
			strings.HasSuffix(lower, "setup.py"):
			hasPyProjectFile = true
		case strings.HasSuffix(lower, "dockerfile"),
			strings.HasSuffix(lower, "docker-compose.yml"),
			strings.HasSuffix(lower, "docker-compose.yaml"):
			hasDocker = true
		case strings.HasSuffix(lower, "package.json"),
			strings.HasSuffix(lower, ".js"),
			strings.HasSuffix(lower, ".ts"):
			hasNode = true
		}
		if strings.Contains(lower, "uvicorn") || strings.Contains(lower, "fastapi") {
			hasFastAPI = true
		}
		if strings.HasSuffix(lower, "pytest.ini") || strings.HasPrefix(baseName(lower), "test_") {
			hasPytest = true
		}
	}

	if (hasPy || hasPyProjectFile) && !s.environment.hasProjectType("python") {
		s.environment.ProjectType = append(s.environment.ProjectType, "python")
	}
	if hasDocker && !s.environment.hasProjectType("docker") {
		s.environment.ProjectType = append(s.environment.ProjectType, "docker")
	}
	if hasNode && !s.environment.hasProjectType("node") {
		s.environment.ProjectType = append(s.environment.ProjectType, "node")
	}
	if hasFastAPI && !s.environment.hasFramework("fastapi") {
		s.environment.Frameworks = append(s.environment.Frameworks, "fastapi")
	}
	if hasPytest && !s.environment.hasFramework("pytest") {
		s.environment.Frameworks = append(s.environment.Frameworks, "pytest")
	}
}

func baseName(path string) string {
	idx := strings.LastIndexAny(path, "/\\")
	if idx == -1 {
		return path
	}
	return path[idx+1:]
}
