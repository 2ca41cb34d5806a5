package classify

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JeffSteinbok/ghcpCliSessionDashboard/internal/eventlog"
)

func reasoningStart() eventlog.Record { return eventlog.Record{Kind: eventlog.KindReasoningStart} }
func reasoningEnd() eventlog.Record   { return eventlog.Record{Kind: eventlog.KindReasoningEnd} }
func userResponse() eventlog.Record   { return eventlog.Record{Kind: eventlog.KindUserResponse} }
func other() eventlog.Record          { return eventlog.Record{Kind: eventlog.KindOther} }

func toolStart(id, name string) eventlog.Record {
	return eventlog.Record{Kind: eventlog.KindToolCallStart, Tool: &eventlog.ToolPayload{CallID: id, Name: name}}
}

func toolEnd(id string) eventlog.Record {
	return eventlog.Record{Kind: eventlog.KindToolCallEnd, Tool: &eventlog.ToolPayload{CallID: id}}
}

func prompt(id, text string, choices ...string) eventlog.Record {
	return eventlog.Record{Kind: eventlog.KindUserPromptRequest, Prompt: &eventlog.PromptPayload{CallID: id, Text: text, Choices: choices}}
}

func subStart(id, name string) eventlog.Record {
	return eventlog.Record{Kind: eventlog.KindSubagentStart, Subagent: &eventlog.SubagentPayload{CallID: id, Name: name, Description: name + " work"}}
}

func subEnd(id, name string) eventlog.Record {
	return eventlog.Record{Kind: eventlog.KindSubagentEnd, Subagent: &eventlog.SubagentPayload{CallID: id, Name: name}}
}

func server(name string) eventlog.Record {
	return eventlog.Record{Kind: eventlog.KindServerConnect, Server: &eventlog.ServerPayload{Name: name}}
}

func TestFoldEmptyStreamIsUnknown(t *testing.T) {
	s := Fold(New(), nil, false)
	assert.Equal(t, StatusUnknown, s.Status)

	s = Fold(State{}, nil, false)
	assert.Equal(t, StatusUnknown, s.Status)
}

func TestFoldScenarioWorkingThenWaiting(t *testing.T) {
	s := Fold(New(), []eventlog.Record{
		reasoningStart(),
		toolStart("c1", "edit"),
		toolEnd("c1"),
		reasoningEnd(),
	}, false)

	assert.Equal(t, StatusWorking, s.Status)
	assert.Equal(t, 1, s.ToolCallCount)
	assert.Empty(t, s.BackgroundTasks)
	assert.Nil(t, s.WaitingPrompt)

	s = Fold(s, []eventlog.Record{prompt("q1", "Proceed?", "yes", "no")}, false)
	assert.Equal(t, StatusWaiting, s.Status)
	require.NotNil(t, s.WaitingPrompt)
	assert.Equal(t, Prompt{Text: "Proceed?", Choices: []string{"yes", "no"}}, *s.WaitingPrompt)
}

func TestFoldSettledBecomesIdleOnQuietCycle(t *testing.T) {
	s := Fold(New(), []eventlog.Record{reasoningStart(), reasoningEnd()}, false)
	assert.Equal(t, StatusWorking, s.Status)

	s = Fold(s, nil, false)
	assert.Equal(t, StatusIdle, s.Status)

	s = Fold(s, []eventlog.Record{userResponse(), reasoningStart()}, false)
	assert.Equal(t, StatusThinking, s.Status)
}

func TestFoldNotIdleWhileWorkOutstanding(t *testing.T) {
	tests := []struct {
		name    string
		records []eventlog.Record
		want    Status
	}{
		{"running subagent", []eventlog.Record{subStart("s", "explore"), reasoningEnd()}, StatusWorking},
		{"open prompt", []eventlog.Record{reasoningEnd(), prompt("q", "ok?")}, StatusWaiting},
		{"mid reasoning", []eventlog.Record{reasoningStart()}, StatusThinking},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Fold(Fold(New(), tt.records, false), nil, false)
			assert.Equal(t, tt.want, s.Status)
		})
	}
}

func TestFoldUnpairedToolStartDoesNotBlockIdle(t *testing.T) {
	s := Fold(New(), []eventlog.Record{reasoningStart(), toolStart("x", "bash"), reasoningEnd()}, false)
	assert.Equal(t, 1, s.PendingTools())

	s = Fold(s, nil, false)
	assert.Equal(t, StatusIdle, s.Status, "a tool call that never completes does not keep the session working")

	s = Fold(s, []eventlog.Record{userResponse(), reasoningStart(), reasoningEnd()}, false)
	assert.Equal(t, StatusWorking, s.Status)
	s = Fold(s, nil, false)
	assert.Equal(t, StatusIdle, s.Status)
	assert.Equal(t, 1, s.PendingTools(), "the open call is still reported")
}

func TestFoldWaitingRoundTrip(t *testing.T) {
	prompts := []eventlog.Record{
		prompt("q1", "Proceed?", "yes", "no"),
		prompt("", "Free text question"),
		prompt("q3", ""),
	}
	for i, p := range prompts {
		t.Run(fmt.Sprint(i), func(t *testing.T) {
			s := Fold(New(), []eventlog.Record{toolStart("x", "bash"), p}, false)
			require.Equal(t, StatusWaiting, s.Status)

			s = Fold(s, []eventlog.Record{userResponse()}, false)
			assert.Equal(t, StatusWorking, s.Status)
			assert.Nil(t, s.WaitingPrompt)
		})
	}
}

func TestFoldPromptToolCompletionAnswersPrompt(t *testing.T) {
	s := Fold(New(), []eventlog.Record{
		toolStart("a", "view"),
		prompt("q", "Continue?"),
		toolEnd("a"),
	}, false)
	assert.Equal(t, StatusWaiting, s.Status, "unrelated completion keeps the prompt open")

	s = Fold(s, []eventlog.Record{toolEnd("q")}, false)
	assert.Equal(t, StatusWorking, s.Status)
	assert.Nil(t, s.WaitingPrompt)
}

func TestFoldMostRecentRecordWins(t *testing.T) {
	s := Fold(New(), []eventlog.Record{toolStart("a", "bash"), toolEnd("a"), prompt("q", "Go?")}, false)
	assert.Equal(t, StatusWaiting, s.Status)

	s = Fold(New(), []eventlog.Record{prompt("q", "Go?"), reasoningStart()}, false)
	assert.Equal(t, StatusThinking, s.Status)
	assert.Nil(t, s.WaitingPrompt, "prompt only present while waiting")
}

func TestFoldBackgroundTaskSymmetry(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for n := 0; n <= 8; n++ {
		var starts, ends []eventlog.Record
		for i := 0; i < n; i++ {
			name := fmt.Sprintf("agent-%d", i%3)
			starts = append(starts, subStart("", name))
			ends = append(ends, subEnd("", name))
		}
		rng.Shuffle(len(ends), func(i, j int) { ends[i], ends[j] = ends[j], ends[i] })

		s := Fold(New(), starts, false)
		assert.Len(t, s.BackgroundTasks, n)
		assert.Equal(t, n, s.SubagentRunCount)

		s = Fold(s, ends, false)
		assert.Empty(t, s.BackgroundTasks, "n=%d", n)
		assert.Equal(t, n, s.SubagentRunCount)
	}
}

func TestFoldSubagentEndMatching(t *testing.T) {
	s := Fold(New(), []eventlog.Record{
		subStart("s1", "explore"),
		subStart("s2", "explore"),
		subStart("s3", "review"),
	}, false)

	s = Fold(s, []eventlog.Record{subEnd("s2", "")}, false)
	require.Len(t, s.BackgroundTasks, 2)
	assert.Equal(t, "s1", s.BackgroundTasks[0].ID)
	assert.Equal(t, "s3", s.BackgroundTasks[1].ID)

	s = Fold(s, []eventlog.Record{subEnd("", "review"), subEnd("zz", "missing")}, false)
	require.Len(t, s.BackgroundTasks, 1)
	assert.Equal(t, "explore", s.BackgroundTasks[0].Name)
}

func TestFoldServersIdempotent(t *testing.T) {
	s := Fold(New(), []eventlog.Record{server("playwright"), server("github"), server("playwright")}, false)
	assert.Equal(t, []string{"github", "playwright"}, s.ConnectedServers)
	assert.Equal(t, StatusUnknown, s.Status, "server records do not imply activity")
}

func TestFoldIgnoresOtherRecords(t *testing.T) {
	base := Fold(New(), []eventlog.Record{reasoningStart()}, false)
	s := Fold(base, []eventlog.Record{other(), other()}, false)
	assert.Equal(t, base, s)
}

func TestFoldFullReplayDiscardsPrevious(t *testing.T) {
	prev := Fold(New(), []eventlog.Record{
		subStart("s", "explore"),
		server("github"),
		toolStart("a", "bash"),
		prompt("q", "Sure?"),
	}, false)

	replay := []eventlog.Record{reasoningStart(), toolStart("b", "edit")}
	got := Fold(prev, replay, true)
	want := Fold(New(), replay, false)
	assert.Equal(t, want, got)
	assert.Empty(t, got.BackgroundTasks)
	assert.Empty(t, got.ConnectedServers)
	assert.Equal(t, 1, got.ToolCallCount)
}

func TestFoldDoesNotMutatePrevious(t *testing.T) {
	prev := Fold(New(), []eventlog.Record{subStart("s", "explore"), prompt("q", "A?", "x")}, false)
	snapshot := prev.Clone()

	_ = Fold(prev, []eventlog.Record{subEnd("s", ""), userResponse(), server("github")}, false)
	assert.Equal(t, snapshot, prev)
}

func TestFoldChunkingInvariance(t *testing.T) {
	pool := []func(i int) eventlog.Record{
		func(int) eventlog.Record { return reasoningStart() },
		func(int) eventlog.Record { return reasoningEnd() },
		func(i int) eventlog.Record { return toolStart(fmt.Sprint("t", i%4), "bash") },
		func(i int) eventlog.Record { return toolEnd(fmt.Sprint("t", i%4)) },
		func(i int) eventlog.Record { return prompt(fmt.Sprint("t", i%4), "Q?", "a", "b") },
		func(int) eventlog.Record { return userResponse() },
		func(i int) eventlog.Record { return subStart("", fmt.Sprint("agent", i%2)) },
		func(i int) eventlog.Record { return subEnd("", fmt.Sprint("agent", i%2)) },
		func(i int) eventlog.Record { return server(fmt.Sprint("srv", i%3)) },
		func(int) eventlog.Record { return other() },
	}

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 200; trial++ {
		n := rng.Intn(40)
		records := make([]eventlog.Record, n)
		for i := range records {
			records[i] = pool[rng.Intn(len(pool))](i)
		}

		whole := Fold(New(), records, false)

		chunked := New()
		for i := 0; i < n; {
			size := 1 + rng.Intn(5)
			end := min(i+size, n)
			chunked = Fold(chunked, records[i:end], false)
			i = end
		}
		if n == 0 {
			chunked = Fold(chunked, nil, false)
		}

		require.Equal(t, whole, chunked, "trial %d", trial)
	}
}
