package procscan

import (
	"context"
	"errors"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// SystemLister enumerates the real process table.
type SystemLister struct{}

// List implements Lister. Processes whose name cannot be read (exited, or
// owned by another user on restrictive systems) are skipped.
func (SystemLister) List(ctx context.Context) ([]ProcessEntry, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]ProcessEntry, 0, len(procs))
	for _, p := range procs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		ppid, err := p.PpidWithContext(ctx)
		if err != nil {
			ppid = 0
		}
		out = append(out, ProcessEntry{PID: p.Pid, PPID: ppid, Name: name})
	}
	if len(out) == 0 && len(procs) > 0 {
		return nil, errors.New("no process could be read")
	}
	return out, nil
}

// Inspect implements Lister.
func (SystemLister) Inspect(ctx context.Context, pid int32) (ProcessDetail, error) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return ProcessDetail{}, err
	}
	cmdline, err := p.CmdlineWithContext(ctx)
	if err != nil {
		return ProcessDetail{}, err
	}
	d := ProcessDetail{CommandLine: cmdline}
	if ms, err := p.CreateTimeWithContext(ctx); err == nil && ms > 0 {
		d.CreateTime = time.UnixMilli(ms)
	}
	return d, nil
}
