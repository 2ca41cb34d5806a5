package eventlog

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	lineTurnStart = `{"type":"assistant.turn_start","timestamp":"2026-02-23T20:56:31.000Z","data":{}}`
	lineEdit      = `{"type":"tool.execution_start","timestamp":"2026-02-23T20:56:32.000Z","data":{"toolCallId":"c1","toolName":"edit","arguments":{"path":"a.go"}}}`
	lineEditDone  = `{"type":"tool.execution_complete","timestamp":"2026-02-23T20:56:33.000Z","data":{"toolCallId":"c1","result":{"content":"ok"}}}`
	lineTurnEnd   = `{"type":"assistant.turn_end","timestamp":"2026-02-23T20:56:34.000Z","data":{}}`
)

func writeLog(t *testing.T, dir, sid string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, sid, FileName)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))
	return path
}

func appendLog(t *testing.T, path, raw string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(raw)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func kinds(recs []Record) []Kind {
	out := make([]Kind, len(recs))
	for i, r := range recs {
		out[i] = r.Kind
	}
	return out
}

func TestReadNewMissingFile(t *testing.T) {
	r := NewReader(t.TempDir())
	cur := Cursor{Offset: 42}

	res, err := r.ReadNew("S1", cur)
	require.NoError(t, err)
	assert.Empty(t, res.Records)
	assert.Equal(t, cur, res.Cursor)
	assert.False(t, res.FullReplay)
}

func TestReadNewIncremental(t *testing.T) {
	dir := t.TempDir()
	path := writeLog(t, dir, "S1", lineTurnStart, lineEdit)
	r := NewReader(dir)

	res, err := r.ReadNew("S1", Cursor{})
	require.NoError(t, err)
	assert.Equal(t, []Kind{KindReasoningStart, KindToolCallStart}, kinds(res.Records))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), res.Cursor.Offset)

	appendLog(t, path, lineEditDone+"\n"+lineTurnEnd+"\n")
	res2, err := r.ReadNew("S1", res.Cursor)
	require.NoError(t, err)
	assert.Equal(t, []Kind{KindToolCallEnd, KindReasoningEnd}, kinds(res2.Records))
	assert.Greater(t, res2.Cursor.Offset, res.Cursor.Offset)

	res3, err := r.ReadNew("S1", res2.Cursor)
	require.NoError(t, err)
	assert.Empty(t, res3.Records)
	assert.Equal(t, res2.Cursor.Offset, res3.Cursor.Offset)
}

func TestReadNewLeavesPartialLine(t *testing.T) {
	dir := t.TempDir()
	path := writeLog(t, dir, "S1", lineTurnStart)
	half := lineEdit[:len(lineEdit)/2]
	appendLog(t, path, half)
	r := NewReader(dir)

	res, err := r.ReadNew("S1", Cursor{})
	require.NoError(t, err)
	assert.Equal(t, []Kind{KindReasoningStart}, kinds(res.Records))
	assert.Equal(t, int64(len(lineTurnStart)+1), res.Cursor.Offset)
	assert.Zero(t, res.Malformed)

	appendLog(t, path, lineEdit[len(half):]+"\n")
	res2, err := r.ReadNew("S1", res.Cursor)
	require.NoError(t, err)
	require.Len(t, res2.Records, 1)
	assert.Equal(t, "edit", res2.Records[0].Tool.Name)
}

func TestReadNewTruncationReplays(t *testing.T) {
	dir := t.TempDir()
	path := writeLog(t, dir, "S1", lineTurnStart, lineEdit, lineEditDone)
	r := NewReader(dir)

	res, err := r.ReadNew("S1", Cursor{})
	require.NoError(t, err)
	require.Len(t, res.Records, 3)

	require.NoError(t, os.WriteFile(path, []byte(lineTurnEnd+"\n"), 0o644))
	res2, err := r.ReadNew("S1", res.Cursor)
	require.NoError(t, err)
	assert.True(t, res2.FullReplay)
	assert.Equal(t, []Kind{KindReasoningEnd}, kinds(res2.Records))
	assert.Equal(t, int64(len(lineTurnEnd)+1), res2.Cursor.Offset)
}

func TestReadNewSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, "S1", lineTurnStart, `{not json`, ``, `{"type":"tool.execution_start","data":{}}`, lineTurnEnd)
	r := NewReader(dir)

	res, err := r.ReadNew("S1", Cursor{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Malformed)
	assert.Equal(t, []Kind{KindReasoningStart, KindReasoningEnd}, kinds(res.Records))
}

func TestReadNewRejectsBadSessionID(t *testing.T) {
	r := NewReader(t.TempDir())
	for _, id := range []string{"", "..", "../etc", `a\b`, "a/b"} {
		_, err := r.ReadNew(id, Cursor{})
		assert.ErrorIs(t, err, ErrInvalidSessionID, id)
	}
}

func TestReadNewUnreadableReturnsReadError(t *testing.T) {
	dir := t.TempDir()
	// A directory where the log should be cannot be read as a file.
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "S1", FileName), 0o755))
	r := NewReader(dir)

	cur := Cursor{Offset: 7}
	res, err := r.ReadNew("S1", cur)
	require.Error(t, err)
	var rerr *ReadError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, "S1", rerr.SessionID)
	assert.Equal(t, cur, res.Cursor)
}

func TestSessionContextAndStarts(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, "S1",
		`{"type":"session.start","timestamp":"2026-02-23T20:56:30Z","data":{"context":{"cwd":"/src/app","branch":"main","repository":"octo/app"}}}`,
		lineTurnStart)
	writeLog(t, dir, "S2", lineTurnStart)
	r := NewReader(dir)

	ctx, err := r.SessionContext("S1")
	require.NoError(t, err)
	assert.Equal(t, "/src/app", ctx.Cwd)
	assert.Equal(t, "main", ctx.Branch)
	assert.Equal(t, "octo/app", ctx.Repository)

	missing, err := r.SessionContext("nope")
	require.NoError(t, err)
	assert.Zero(t, missing)

	starts, err := r.SessionStarts()
	require.NoError(t, err)
	require.Len(t, starts, 1)
	assert.Equal(t, "S1", starts[0].SessionID)
	assert.Equal(t, 30, starts[0].StartedAt.Second())
}

func TestRecentOutputKeepsLastMeaningfulResult(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, "S1",
		`{"type":"tool.execution_complete","data":{"toolCallId":"a","result":{"content":"first\nresult"}}}`,
		`{"type":"tool.execution_complete","data":{"toolCallId":"b","result":{"content":"line1\nline2\nline3"}}}`,
		`{"type":"tool.execution_complete","data":{"toolCallId":"c","result":{"content":"Intent logged"}}}`,
	)
	r := NewReader(dir)

	out, err := r.RecentOutput("S1", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"line2", "line3"}, out)

	none, err := r.RecentOutput("missing", 5)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSessionStartsRemembersKnownLogs(t *testing.T) {
	dir := t.TempDir()
	start := func(sec string) string {
		return `{"type":"session.start","timestamp":"2026-02-23T20:56:` + sec + `Z","data":{}}`
	}
	writeLog(t, dir, "S1", start("10"), lineTurnStart)
	writeLog(t, dir, "S2", lineTurnStart)
	r := NewReader(dir)

	starts, err := r.SessionStarts()
	require.NoError(t, err)
	require.Len(t, starts, 1)
	assert.Equal(t, 10, starts[0].StartedAt.Second())

	// A known log is not opened again; an unknown one is retried.
	writeLog(t, dir, "S1", start("20"))
	writeLog(t, dir, "S2", start("30"))
	starts, err = r.SessionStarts()
	require.NoError(t, err)
	got := map[string]int{}
	for _, s := range starts {
		got[s.SessionID] = s.StartedAt.Second()
	}
	assert.Equal(t, map[string]int{"S1": 10, "S2": 30}, got)

	require.NoError(t, os.RemoveAll(filepath.Join(dir, "S1")))
	starts, err = r.SessionStarts()
	require.NoError(t, err)
	require.Len(t, starts, 1)
	assert.Equal(t, "S2", starts[0].SessionID)

	writeLog(t, dir, "S1", start("40"))
	starts, err = r.SessionStarts()
	require.NoError(t, err)
	got = map[string]int{}
	for _, s := range starts {
		got[s.SessionID] = s.StartedAt.Second()
	}
	assert.Equal(t, 40, got["S1"])
}
