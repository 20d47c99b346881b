//go:build windows

package proc

// startPTY is not available on Windows; Spawn falls back to pipes.
func (h *Handle) startPTY() error {
	return errPTYUnsupported
}
