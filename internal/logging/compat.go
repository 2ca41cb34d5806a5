package logging

import (
	"bytes"
	"context"
	"log"
	"log/slog"
)

// BridgeWriter adapts slog to io.Writer for code that only accepts a
// *log.Logger, such as http.Server.ErrorLog.
type BridgeWriter struct {
	component string
	level     slog.Level
}

// NewBridgeWriter forwards each write as one record at level, tagged with
// component.
func NewBridgeWriter(component string, level slog.Level) *BridgeWriter {
	return &BridgeWriter{component: component, level: level}
}

// Write implements io.Writer.
func (bw *BridgeWriter) Write(p []byte) (int, error) {
	msg := string(bytes.TrimSpace(p))
	if msg != "" {
		ForComponent(bw.component).Log(context.Background(), bw.level, msg)
	}
	return len(p), nil
}

// StdLogger returns a *log.Logger without prefix or flags that writes
// through a BridgeWriter.
func StdLogger(component string, level slog.Level) *log.Logger {
	return log.New(NewBridgeWriter(component, level), "", 0)
}
