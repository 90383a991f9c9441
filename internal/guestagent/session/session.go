// Package session implements the guest-side PTY-backed shell session
// engine: a pool of at most MaxSessions live shells, each fed commands
// framed by a per-exec sentinel marker so the output stream can be
// split back into discrete command results. Because PTYs echo input,
// the reader strips the echoed command line and retains a trailing
// margin of unsent bytes so a sentinel split across reads is still
// detected.
package session

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"

	"github.com/opensandbox/sandchest/internal/sandchesterr"
)

const (
	// MaxSessions caps concurrent live sessions per agent.
	MaxSessions = 5

	chunkSize      = 8 * 1024
	retentionTail  = 256
	pollInterval   = 10 * time.Millisecond
	destroyGrace   = 5 * time.Second
	destroyPoll    = 50 * time.Millisecond
	sentinelPrefix = "__SC_SENTINEL_"
	sentinelSuffix = "__"
)

// Result is the outcome of one SessionExec call.
type Result struct {
	Output   string
	ExitCode int
}

// session is one live PTY-backed shell.
type session struct {
	id       string
	master   *os.File
	pid      int
	execLock sync.Mutex // held only via TryLock: one in-flight exec
}

// Manager owns the set of live sessions for one guest agent.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*session
	nextID   uint64
}

func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*session)}
}

// Create opens a PTY, spawns shell (default /bin/bash) with
// --norc --noprofile and a blank prompt, and registers the session.
func (m *Manager) Create(shell string, env map[string]string) (string, error) {
	m.mu.RLock()
	count := len(m.sessions)
	m.mu.RUnlock()
	if count >= MaxSessions {
		return "", sandchesterr.ResourceExhaustedf("session: maximum %d concurrent sessions reached", MaxSessions)
	}

	if shell == "" {
		shell = "/bin/bash"
	}

	cmd := exec.Command(shell, "--norc", "--noprofile")
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Env = append(cmd.Env, "PS1=", "PS2=", "TERM=dumb")

	master, err := pty.Start(cmd)
	if err != nil {
		return "", sandchesterr.WrapInternal(err, "session: start pty")
	}

	if err := unix.SetNonblock(int(master.Fd()), true); err != nil {
		master.Close()
		cmd.Process.Kill()
		return "", sandchesterr.WrapInternal(err, "session: set master non-blocking")
	}

	id := fmt.Sprintf("sess_%04d", atomic.AddUint64(&m.nextID, 1))
	sess := &session{id: id, master: master, pid: cmd.Process.Pid}

	m.mu.Lock()
	m.sessions[id] = sess
	m.mu.Unlock()

	return id, nil
}

func (m *Manager) get(id string) (*session, error) {
	m.mu.RLock()
	sess, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, sandchesterr.NotFoundf("session: %s not found", id)
	}
	return sess, nil
}

// Input writes data verbatim to the session's PTY master. The fd is
// borrowed for this one blocking write, never closed here.
func (m *Manager) Input(id string, data []byte) error {
	sess, err := m.get(id)
	if err != nil {
		return err
	}
	if _, err := sess.master.Write(data); err != nil {
		return sandchesterr.WrapInternal(err, "session: write input to %s", id)
	}
	return nil
}

// Exec runs cmd in the session, framed by a per-exec sentinel, and
// blocks until the sentinel is observed, the timeout fires, or the
// PTY reports EIO (child exited). At most one Exec may be in flight
// per session; a concurrent second call fails AlreadyExists.
func (m *Manager) Exec(id, cmd string, timeoutSeconds int) (Result, error) {
	sess, err := m.get(id)
	if err != nil {
		return Result{}, err
	}
	if !sess.execLock.TryLock() {
		return Result{}, sandchesterr.AlreadyExistsf("session: exec already in flight on %s", id)
	}
	defer sess.execLock.Unlock()

	start := time.Now()
	marker := fmt.Sprintf("%s%d_", sentinelPrefix, start.UnixNano())
	wrapped := fmt.Sprintf("%s; __sc_exit=$?; echo \"%s${__sc_exit}%s\"\n", cmd, marker, sentinelSuffix)

	if _, err := sess.master.Write([]byte(wrapped)); err != nil {
		return Result{}, sandchesterr.WrapInternal(err, "session: write command to %s", id)
	}

	var deadline time.Time
	hasDeadline := timeoutSeconds > 0
	if hasDeadline {
		deadline = start.Add(time.Duration(timeoutSeconds) * time.Second)
	}

	var output strings.Builder
	var pending []byte
	buf := make([]byte, chunkSize)

	for {
		if hasDeadline && time.Now().After(deadline) {
			return Result{Output: output.String(), ExitCode: -1}, nil
		}

		n, err := sess.master.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
		}
		if err != nil {
			if isEAGAIN(err) {
				if n == 0 {
					time.Sleep(pollInterval)
				}
			} else if isEIO(err) {
				return Result{Output: output.String(), ExitCode: -1}, nil
			} else {
				return Result{}, sandchesterr.WrapInternal(err, "session: read from %s", id)
			}
		}

		if out, exitCode, ok := extractSentinel(pending, marker); ok {
			clean := stripCommandEcho(out, cmd)
			output.Write(clean)
			return Result{Output: output.String(), ExitCode: exitCode}, nil
		}

		if len(pending) > retentionTail {
			safeLen := len(pending) - retentionTail
			toSend := pending[:safeLen]
			pending = append([]byte(nil), pending[safeLen:]...)
			output.Write(stripCommandEcho(toSend, cmd))
		}
	}
}

// Destroy sends SIGHUP to the session's process group, waits up to
// destroyGrace for reap, then escalates to SIGKILL. Always reaps.
func (m *Manager) Destroy(id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return sandchesterr.NotFoundf("session: %s not found", id)
	}
	destroyProcessGroup(sess.pid)
	sess.master.Close()
	return nil
}

// DestroyAll tears down every live session; used by the
// snapshotwatcher's fork-recovery path, since inherited sessions are
// ghosts of the parent's PTYs and PIDs.
func (m *Manager) DestroyAll() {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	for _, id := range ids {
		_ = m.Destroy(id)
	}
}

func destroyProcessGroup(pid int) {
	syscall.Kill(-pid, syscall.SIGHUP)

	deadline := time.Now().Add(destroyGrace)
	for time.Now().Before(deadline) {
		var ws syscall.WaitStatus
		ret, err := syscall.Wait4(pid, &ws, syscall.WNOHANG, nil)
		if ret != 0 || err != nil {
			return
		}
		time.Sleep(destroyPoll)
	}

	syscall.Kill(-pid, syscall.SIGKILL)
	var ws syscall.WaitStatus
	syscall.Wait4(pid, &ws, 0, nil)
}

func isEAGAIN(err error) bool {
	return err == syscall.EAGAIN || strings.Contains(err.Error(), "resource temporarily unavailable")
}

func isEIO(err error) bool {
	return err == syscall.EIO || strings.Contains(err.Error(), "input/output error")
}

// extractSentinel scans buf for marker, then parses the decimal digits
// up to the closing "__" suffix as the exit code. An occurrence followed
// by "${" is the PTY's echo of the unexpanded command line and is skipped.
func extractSentinel(buf []byte, marker string) (output []byte, exitCode int, ok bool) {
	s := string(buf)
	from := 0
	for {
		idx := strings.Index(s[from:], marker)
		if idx < 0 {
			return nil, 0, false
		}
		pos := from + idx
		after := s[pos+len(marker):]
		if strings.HasPrefix(after, "${") {
			from = pos + len(marker)
			continue
		}
		suffixPos := strings.Index(after, sentinelSuffix)
		if suffixPos < 0 {
			return nil, 0, false
		}
		code, err := strconv.Atoi(after[:suffixPos])
		if err != nil {
			code = -1
		}
		return buf[:pos], code, true
	}
}

// stripCommandEcho removes the PTY's echo of the wrapped command line
// from the start of output, locating the literal "__sc_exit=$?;" and
// skipping past its trailing newline; falling back to matching the
// original command's own prefix if that marker isn't found.
func stripCommandEcho(output []byte, cmd string) []byte {
	s := string(output)
	if pos := strings.Index(s, "__sc_exit=$?;"); pos >= 0 {
		if nl := strings.IndexByte(s[pos:], '\n'); nl >= 0 {
			return output[pos+nl+1:]
		}
	}
	trimmedCmd := strings.TrimSpace(cmd)
	if strings.HasPrefix(strings.TrimSpace(s), trimmedCmd) {
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			return output[nl+1:]
		}
	}
	return output
}
