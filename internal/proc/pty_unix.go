//go:build !windows

package proc

import (
	"github.com/creack/pty"
)

// startPTY launches the command attached to a pseudo-terminal. Tools that
// line-buffer or go quiet when piped still print their readiness line on a
// terminal. The pty merges stdout and stderr into one stream.
func (h *Handle) startPTY() error {
	master, err := pty.StartWithSize(h.cmd, &pty.Winsize{Rows: 24, Cols: 120})
	if err != nil {
		return err
	}
	h.master = master
	h.stdout = teeTo(master, h.outCloser)
	h.stderr = emptyReader{}
	return nil
}
