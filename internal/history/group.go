package history

import (
	"regexp"
	"sort"
	"strings"
	"time"
)

// DefaultGroup is used when nothing else identifies a session's project.
const DefaultGroup = "General"

var skipDirs = map[string]bool{
	"": true, "c:": true, "d:": true, "e:": true, "q:": true,
	"users": true, "home": true, "src": true, "documents": true, "desktop": true,
	"projects": true, "repos": true, "github": true,
}

var driveLetter = regexp.MustCompile(`^[a-zA-Z]:$`)

var keywordGroups = []struct {
	keywords []string
	group    string
}{
	{[]string{"code review", "pr review"}, "PR Reviews"},
	{[]string{"pipeline", "build pipeline", "ci/cd"}, "CI/CD Pipelines"},
	{[]string{"prune", "cleanup", "delete branch", "stale"}, "Branch Cleanup"},
	{[]string{"dashboard", "monitor"}, "Session Dashboard"},
	{[]string{"spec", "specification", "document"}, "Specifications"},
}

// GroupRules are the user's grouping overrides.
type GroupRules struct {
	SkipDirs []string
	// Mappings maps a keyword or path fragment to a group name. Keys are
	// tried in sorted order so results do not depend on map iteration.
	Mappings map[string]string
}

// GroupName derives a project name for a session: a user mapping, else the
// repository name, else the last meaningful cwd segment, else a keyword
// group, else DefaultGroup.
func GroupName(s Session, rules GroupRules) string {
	cwd := strings.ReplaceAll(s.Cwd, `\`, "/")
	context := strings.Join([]string{
		strings.ToLower(s.Summary),
		strings.ToLower(s.FirstMessage),
		strings.ToLower(s.LastCheckpointText),
		strings.ToLower(cwd),
	}, " ")

	keys := make([]string, 0, len(rules.Mappings))
	for k := range rules.Mappings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k != "" && strings.Contains(context, strings.ToLower(k)) {
			return rules.Mappings[k]
		}
	}

	if s.Repository != "" {
		parts := strings.Split(s.Repository, "/")
		if name := parts[len(parts)-1]; name != "" {
			return name
		}
	}

	if cwd != "" {
		extra := make(map[string]bool, len(rules.SkipDirs))
		for _, d := range rules.SkipDirs {
			extra[strings.ToLower(d)] = true
		}
		parts := strings.Split(strings.TrimRight(cwd, "/"), "/")
		for i := len(parts) - 1; i >= 0; i-- {
			p := parts[i]
			lp := strings.ToLower(p)
			if skipDirs[lp] || extra[lp] || driveLetter.MatchString(p) {
				continue
			}
			return p
		}
	}

	for _, kg := range keywordGroups {
		for _, kw := range kg.keywords {
			if strings.Contains(context, kw) {
				return kg.group
			}
		}
	}
	return DefaultGroup
}

// Group is a named set of sessions.
type Group struct {
	Name     string    `json:"name"`
	Sessions []Session `json:"sessions"`
}

// GroupSessions buckets sessions by GroupName. Groups are ordered by their
// most recently updated session; sessions keep their input order.
func GroupSessions(sessions []Session, rules GroupRules) []Group {
	idx := map[string]int{}
	var groups []Group
	for _, s := range sessions {
		name := GroupName(s, rules)
		i, ok := idx[name]
		if !ok {
			i = len(groups)
			idx[name] = i
			groups = append(groups, Group{Name: name})
		}
		groups[i].Sessions = append(groups[i].Sessions, s)
	}
	sort.SliceStable(groups, func(a, b int) bool {
		return latest(groups[a]).After(latest(groups[b]))
	})
	return groups
}

func latest(g Group) (t time.Time) {
	for _, s := range g.Sessions {
		if s.UpdatedAt.After(t) {
			t = s.UpdatedAt
		}
	}
	return t
}
