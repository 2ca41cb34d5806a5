package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupName(t *testing.T) {
	tests := []struct {
		name  string
		sess  Session
		rules GroupRules
		want  string
	}{
		{
			name: "repository wins over cwd",
			sess: Session{Repository: "acme/rocket", Cwd: "/home/me/other"},
			want: "rocket",
		},
		{
			name: "repository without owner",
			sess: Session{Repository: "rocket"},
			want: "rocket",
		},
		{
			name: "last meaningful cwd segment",
			sess: Session{Cwd: "/home/me/src/widgets/"},
			want: "widgets",
		},
		{
			name: "windows path skips common dirs",
			sess: Session{Cwd: `C:\Users\me\repos`},
			want: "me",
		},
		{
			name:  "user skip dirs",
			sess:  Session{Cwd: `C:\Users\me\repos`},
			rules: GroupRules{SkipDirs: []string{"ME"}},
			want:  DefaultGroup,
		},
		{
			name:  "mapping beats repository",
			sess:  Session{Repository: "acme/rocket", Summary: "Tune the Booster"},
			rules: GroupRules{Mappings: map[string]string{"booster": "Propulsion"}},
			want:  "Propulsion",
		},
		{
			name: "keyword fallback",
			sess: Session{Summary: "Code review for teammate"},
			want: "PR Reviews",
		},
		{
			name: "keyword from first message",
			sess: Session{FirstMessage: "prune stale branches"},
			want: "Branch Cleanup",
		},
		{
			name: "general",
			sess: Session{Summary: "hello"},
			want: DefaultGroup,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GroupName(tt.sess, tt.rules))
		})
	}
}

func TestGroupNameMappingsAreDeterministic(t *testing.T) {
	rules := GroupRules{Mappings: map[string]string{"zeta": "Z", "alpha": "A", "mid": "M"}}
	s := Session{Summary: "zeta mid alpha"}
	for i := 0; i < 50; i++ {
		require.Equal(t, "A", GroupName(s, rules))
	}
}

func TestGroupSessions(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sessions := []Session{
		{ID: "1", Repository: "a/x", UpdatedAt: base},
		{ID: "2", Repository: "b/y", UpdatedAt: base.Add(2 * time.Hour)},
		{ID: "3", Repository: "a/x", UpdatedAt: base.Add(3 * time.Hour)},
	}
	groups := GroupSessions(sessions, GroupRules{})
	require.Len(t, groups, 2)
	assert.Equal(t, "x", groups[0].Name)
	assert.Equal(t, "1", groups[0].Sessions[0].ID)
	assert.Len(t, groups[0].Sessions, 2)
	assert.Equal(t, "y", groups[1].Name)
}
