// Package capture owns the pw-record process that taps a monitor source and
// streams raw audio to a temporary file.
package capture

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"github.com/mutecap/mutecap/internal/config"
)

// ErrProcessFailure covers a capture process that failed to start or exited
// before it was stopped.
var ErrProcessFailure = errors.New("capture process failure")

// Handle owns one running capture process and the raw file it writes. At
// most one Handle exists system-wide; the flock below enforces that across
// processes because only one silent route is safe to maintain.
type Handle struct {
	RawPath string

	cmd  *exec.Cmd
	lock *flock.Flock
	done chan error
}

// Done is closed (after delivering the exit result) when the capture process
// exits for any reason.
func (h *Handle) Done() <-chan error {
	return h.done
}

// Session spawns and stops capture processes.
type Session struct {
	cfg      config.CaptureConfig
	lockPath string

	// newCommand builds the capture command; overridable in tests.
	newCommand func(target, outPath string) *exec.Cmd
}

func NewSession(cfg config.CaptureConfig, lockDir string) *Session {
	s := &Session{
		cfg:      cfg,
		lockPath: filepath.Join(lockDir, "capture.lock"),
	}
	s.newCommand = s.pwRecordCommand
	return s
}

func (s *Session) pwRecordCommand(target, outPath string) *exec.Cmd {
	return exec.Command("pw-record",
		"--target", target,
		"--rate", strconv.Itoa(s.cfg.SampleRate),
		"--channels", strconv.Itoa(s.cfg.Channels),
		"--format", s.cfg.Format,
		"--quality", strconv.Itoa(s.cfg.ResampleQuality),
		"--latency", fmt.Sprintf("%dms", s.cfg.LatencyMs),
		outPath,
	)
}

// Start spawns the capture process against the given monitor source. It
// fails fast if another capture holds the lock or if the process dies
// immediately (bad target, missing binary).
func (s *Session) Start(target, outPath string) (*Handle, error) {
	if err := os.MkdirAll(filepath.Dir(s.lockPath), 0755); err != nil {
		return nil, fmt.Errorf("%w: lock dir: %v", ErrProcessFailure, err)
	}
	lock := flock.New(s.lockPath)
	ok, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("%w: acquire capture lock: %v", ErrProcessFailure, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: another capture is already running", ErrProcessFailure)
	}

	cmd := s.newCommand(target, outPath)
	if err := cmd.Start(); err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("%w: start: %v", ErrProcessFailure, err)
	}

	h := &Handle{
		RawPath: outPath,
		cmd:     cmd,
		lock:    lock,
		done:    make(chan error, 1),
	}
	go func() {
		h.done <- cmd.Wait()
		close(h.done)
	}()

	// Catch instant failures (unknown target, permission) before the caller
	// resumes playback against a dead recorder.
	select {
	case waitErr := <-h.done:
		_ = lock.Unlock()
		return nil, fmt.Errorf("%w: exited immediately: %v", ErrProcessFailure, waitErr)
	case <-time.After(200 * time.Millisecond):
	}

	slog.Debug("Capture started", "target", target, "raw", outPath, "pid", cmd.Process.Pid)
	return h, nil
}

// Stop terminates the capture gracefully, escalating to SIGKILL if the
// process ignores SIGTERM past the configured timeout. After Stop returns no
// capture process is running, regardless of prior state. It reports
// ErrProcessFailure when the process had already died on its own.
func (s *Session) Stop(h *Handle) error {
	if h == nil {
		return nil
	}
	defer func() {
		if h.lock != nil {
			_ = h.lock.Unlock()
		}
	}()

	// Already exited? That is an unexpected death: we are the only party
	// entitled to stop it.
	select {
	case waitErr := <-h.done:
		return fmt.Errorf("%w: exited before stop: %v", ErrProcessFailure, waitErr)
	default:
	}

	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		slog.Debug("SIGTERM failed, killing capture process", "error", err)
		_ = h.cmd.Process.Kill()
	}

	select {
	case waitErr := <-h.done:
		if waitErr != nil && !exitedBySignal(waitErr) {
			slog.Debug("Capture exited with error after stop", "error", waitErr)
		}
		slog.Debug("Capture stopped", "raw", h.RawPath)
		return nil
	case <-time.After(s.cfg.StopTimeout()):
		slog.Warn("Capture did not exit after SIGTERM, escalating to SIGKILL")
		_ = h.cmd.Process.Kill()
		<-h.done
		return nil
	}
}

func exitedBySignal(err error) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	if st, ok := exitErr.Sys().(syscall.WaitStatus); ok {
		return st.Signaled()
	}
	return false
}
