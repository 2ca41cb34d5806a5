package history

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecentActivity(t *testing.T) {
	long := strings.Repeat("x", 200)
	tests := []struct {
		name string
		sess Session
		want string
	}{
		{"checkpoint title", Session{Summary: "Rocket", LastCheckpoint: "Wire fuel"}, "Wire fuel"},
		{"title repeats summary", Session{Summary: "Rocket", LastCheckpoint: "rocket", LastCheckpointText: "Fuel wired. Tests pass."}, "Fuel wired"},
		{"overview only", Session{LastCheckpointText: "Added retries"}, "Added retries"},
		{"long overview", Session{LastCheckpointText: long}, strings.Repeat("x", 117) + "..."},
		{"nothing", Session{Summary: "Rocket"}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.sess.RecentActivity())
		})
	}
}

func TestRestartCommand(t *testing.T) {
	s := Session{ID: "0a1b2c3d-0000-4000-8000-000000000001", Cwd: "/src/my app"}
	assert.Equal(t,
		`cd "/src/my app" && copilot --resume 0a1b2c3d-0000-4000-8000-000000000001 --yolo --model gpt-5`,
		RestartCommand(s, []string{"--yolo", "--model", "gpt-5"}))

	s.Cwd = ""
	assert.Equal(t, "copilot --resume 0a1b2c3d-0000-4000-8000-000000000001", RestartCommand(s, nil))
}
