package history

import "strings"

const maxActivityLen = 120

// RecentActivity describes what the session did last: the latest checkpoint
// title when it says something the summary does not, else the first sentence
// of that checkpoint's overview.
func (s Session) RecentActivity() string {
	if s.LastCheckpoint != "" && !strings.EqualFold(s.LastCheckpoint, s.Summary) {
		return s.LastCheckpoint
	}
	if s.LastCheckpointText == "" {
		return ""
	}
	first, _, _ := strings.Cut(s.LastCheckpointText, ". ")
	if r := []rune(first); len(r) > maxActivityLen {
		return string(r[:maxActivityLen-3]) + "..."
	}
	return first
}

// RestartCommand is the shell line that resumes s in its working directory.
// args are appended after the session id.
func RestartCommand(s Session, args []string) string {
	var b strings.Builder
	if s.Cwd != "" {
		b.WriteString(`cd "` + s.Cwd + `" && `)
	}
	b.WriteString("copilot --resume " + s.ID)
	for _, a := range args {
		b.WriteByte(' ')
		b.WriteString(a)
	}
	return b.String()
}
