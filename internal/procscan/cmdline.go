package procscan

import (
	"encoding/json"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/JeffSteinbok/ghcpCliSessionDashboard/internal/eventlog"
)

var (
	resumeRe    = regexp.MustCompile(`--resume(?:=|\s+)["']?([^\s"']+)`)
	mcpConfigRe = regexp.MustCompile(`--additional-mcp-config(?:=|\s+)@?["']?([^\s"']+)`)
)

// ResumeSessionID returns the session id passed with --resume, or "" when the
// flag is absent, has no value, or the value is not a usable id.
func ResumeSessionID(cmdline string) string {
	m := resumeRe.FindStringSubmatch(cmdline)
	if m == nil {
		return ""
	}
	sid := m[1]
	if strings.HasPrefix(sid, "-") || eventlog.ValidateSessionID(sid) != nil {
		return ""
	}
	return sid
}

// ExtraArgs returns the arguments after the copilot program in cmdline, less
// any --resume flag and its value.
func ExtraArgs(cmdline string) []string {
	fields := strings.Fields(cmdline)
	start := 0
	for i, f := range fields {
		if strings.Contains(strings.ToLower(f), "copilot") {
			start = i + 1
			break
		}
	}
	var out []string
	for i := start; i < len(fields); i++ {
		f := fields[i]
		switch {
		case f == "--resume":
			if i+1 < len(fields) && !strings.HasPrefix(fields[i+1], "-") {
				i++
			}
		case strings.HasPrefix(f, "--resume="):
		default:
			out = append(out, f)
		}
	}
	return out
}

// HasAnyFlag reports whether cmdline contains one of flags as a whole
// argument, alone or in --flag=value form.
func HasAnyFlag(cmdline string, flags []string) bool {
	for _, arg := range strings.Fields(cmdline) {
		arg = strings.Trim(arg, `"'`)
		for _, f := range flags {
			if arg == f || strings.HasPrefix(arg, f+"=") {
				return true
			}
		}
	}
	return false
}

// ConfigServers returns the MCP server names declared in the JSON file given
// by --additional-mcp-config, sorted. Unreadable files yield nil.
func ConfigServers(cmdline string) []string {
	m := mcpConfigRe.FindStringSubmatch(cmdline)
	if m == nil {
		return nil
	}
	data, err := os.ReadFile(m[1])
	if err != nil {
		return nil
	}
	var cfg struct {
		MCPServers map[string]json.RawMessage `json:"mcpServers"`
	}
	if json.Unmarshal(data, &cfg) != nil || len(cfg.MCPServers) == 0 {
		return nil
	}
	names := make([]string, 0, len(cfg.MCPServers))
	for name := range cfg.MCPServers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
