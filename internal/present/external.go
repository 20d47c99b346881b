package present

import (
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
)

// External surfaces the endpoint through the system browser. No handle
// is retained and Hide is a no-op; the browser tab belongs to the user.
type External struct {
	log  *slog.Logger
	open func(url string) error
}

func NewExternal(lg *slog.Logger) *External {
	if lg == nil {
		lg = slog.Default()
	}
	return &External{log: lg, open: openURL}
}

func (x *External) Show(key, endpoint string) (Handle, error) {
	x.log.Info("opening preview in browser", "key", key, "endpoint", endpoint)
	if err := x.open(endpoint); err != nil {
		return nil, fmt.Errorf("open browser: %w", err)
	}
	return nil, nil
}

func (x *External) Hide(string) error { return nil }

func openURL(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", "", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}
