package types

// Session is the record of one PTY-backed shell. The guest owns the
// PTY master fd exclusively; the exec-in-flight flag serializes
// SessionExec calls to at most one at a time.
type Session struct {
	ID  string `json:"sessionId"`
	Pid int    `json:"pid"`
}

// SessionExecResult is the synchronous result of one SessionExec call:
// the command's de-echoed output and the exit code parsed from the
// sentinel, or -1 on timeout/EIO.
type SessionExecResult struct {
	Output   string `json:"output"`
	ExitCode int    `json:"exitCode"`
}
