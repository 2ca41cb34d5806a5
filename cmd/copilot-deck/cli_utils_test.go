package main

import (
	"flag"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeArgs(t *testing.T) {
	newFS := func() *flag.FlagSet {
		fs := flag.NewFlagSet("test", flag.ContinueOnError)
		fs.Bool("json", false, "")
		fs.Bool("y", false, "")
		fs.String("listen", "", "")
		fs.Int("limit", 0, "")
		return fs
	}

	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{"flags first already", []string{"--json", "abc"}, []string{"--json", "abc"}},
		{"bool flag after positional", []string{"abc", "-y"}, []string{"-y", "abc"}},
		{"value flag after positional", []string{"rocket", "--limit", "5"}, []string{"--limit", "5", "rocket"}},
		{"equals syntax", []string{"rocket", "--listen=:9000"}, []string{"--listen=:9000", "rocket"}},
		{"double dash keeps later args positional", []string{"abc", "--json", "--", "-y"}, []string{"--json", "--", "abc", "-y"}},
		{"unknown flag takes no value", []string{"--bogus", "abc"}, []string{"--bogus", "abc"}},
		{"lone dash is positional", []string{"-", "--json"}, []string{"--json", "-"}},
		{"no args", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, normalizeArgs(newFS(), tt.args))
		})
	}
}

func TestNormalizeArgsParsesTrailingFlags(t *testing.T) {
	fs := flag.NewFlagSet("kill", flag.ContinueOnError)
	yes := fs.Bool("y", false, "")
	assert.NoError(t, fs.Parse(normalizeArgs(fs, []string{"abc123", "-y"})))
	assert.True(t, *yes)
	assert.Equal(t, []string{"abc123"}, fs.Args())
}

func TestNormalizeArgsTerminatorProtectsDashArgs(t *testing.T) {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	yes := fs.Bool("y", false, "")
	assert.NoError(t, fs.Parse(normalizeArgs(fs, []string{"rocket", "--", "-y"})))
	assert.False(t, *yes)
	assert.Equal(t, []string{"rocket", "-y"}, fs.Args())
}

func TestTruncateCell(t *testing.T) {
	assert.Equal(t, "short", truncateCell("short", 10))
	assert.Equal(t, "a b c", truncateCell("a\n  b\tc", 10), "whitespace collapses")
	assert.Equal(t, "hello w...", truncateCell("hello world again", 10))
	assert.Equal(t, "日本...", truncateCell("日本語のテキスト", 7), "wide runes count double")
	assert.Equal(t, "ab", truncateCell("abcdef", 2))
	assert.Empty(t, truncateCell("abc", 0))
}
