package browser

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	xvfbReadyTimeout = 5 * time.Second
	xvfbStopTimeout  = 2 * time.Second
	x11SocketDir     = "/tmp/.X11-unix"
)

// displaySocket maps an X display such as ":99" or ":99.0" to the unix
// socket the server listens on once it accepts clients.
func displaySocket(display string) (string, error) {
	num, ok := strings.CutPrefix(display, ":")
	num, _, _ = strings.Cut(num, ".")
	if !ok || num == "" {
		return "", fmt.Errorf("bad display %q", display)
	}
	if _, err := strconv.Atoi(num); err != nil {
		return "", fmt.Errorf("bad display %q", display)
	}
	return filepath.Join(x11SocketDir, "X"+num), nil
}

// waitForPath polls until path exists or timeout elapses.
func waitForPath(path string, timeout, poll time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		if _, err := os.Stat(path); err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%s not ready after %s", path, timeout)
		}
		time.Sleep(poll)
	}
}

// startXvfb runs a virtual display whose screen matches the viewport, so
// headful screenshots have the same geometry as headless ones. It returns
// once the display socket exists.
func (m *Manager) startXvfb() error {
	if m.xvfb != nil {
		return nil
	}
	display := m.cfg.XvfbDisplay
	sock, err := displaySocket(display)
	if err != nil {
		return err
	}
	screen := fmt.Sprintf("%dx%dx24", m.cfg.ViewportWidth, m.cfg.ViewportHeight)

	cmd := exec.Command("Xvfb", display, "-screen", "0", screen, "-ac", "-nolisten", "tcp")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start xvfb: %w", err)
	}
	m.xvfb = cmd
	if err := waitForPath(sock, xvfbReadyTimeout, 50*time.Millisecond); err != nil {
		m.stopXvfb()
		return fmt.Errorf("xvfb %s: %w", display, err)
	}
	m.cfg.Logger.Info("browser: xvfb started", "display", display, "screen", screen, "pid", cmd.Process.Pid)
	return nil
}

// stopXvfb interrupts the display server and kills it if it lingers.
func (m *Manager) stopXvfb() {
	cmd := m.xvfb
	if cmd == nil {
		return
	}
	m.xvfb = nil
	if cmd.Process == nil {
		return
	}

	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()
	_ = cmd.Process.Signal(os.Interrupt)
	select {
	case <-exited:
	case <-time.After(xvfbStopTimeout):
		_ = cmd.Process.Kill()
		<-exited
	}
	m.cfg.Logger.Info("browser: xvfb stopped", "pid", cmd.Process.Pid)
}
