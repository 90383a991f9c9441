package execstream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, out chan Event) []Event {
	t.Helper()
	var events []Event
	for e := range out {
		events = append(events, e)
	}
	return events
}

func TestRunCapturesStdout(t *testing.T) {
	out := make(chan Event, 32)
	go func() {
		defer close(out)
		err := Run(context.Background(), Request{Cmd: []string{"/bin/echo", "hello"}}, out)
		require.NoError(t, err)
	}()

	events := drain(t, out)
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	require.Equal(t, EventExit, last.Kind)
	require.Equal(t, 0, last.ExitCode)

	var stdout string
	for _, e := range events[:len(events)-1] {
		require.Equal(t, EventStdout, e.Kind)
		stdout += string(e.Data)
	}
	require.Equal(t, "hello\n", stdout)
}

func TestRunShellCmd(t *testing.T) {
	out := make(chan Event, 32)
	go func() {
		defer close(out)
		err := Run(context.Background(), Request{ShellCmd: "echo a; echo b 1>&2; exit 3"}, out)
		require.NoError(t, err)
	}()

	events := drain(t, out)
	last := events[len(events)-1]
	require.Equal(t, EventExit, last.Kind)
	require.Equal(t, 3, last.ExitCode)

	var sawStderr bool
	for _, e := range events[:len(events)-1] {
		if e.Kind == EventStderr {
			sawStderr = true
		}
	}
	require.True(t, sawStderr)
}

func TestRunRejectsEmptyRequest(t *testing.T) {
	out := make(chan Event, 1)
	err := Run(context.Background(), Request{}, out)
	require.Error(t, err)
}

func TestRunTimeoutKillsProcess(t *testing.T) {
	out := make(chan Event, 32)
	start := time.Now()
	go func() {
		defer close(out)
		err := Run(context.Background(), Request{ShellCmd: "sleep 30", TimeoutSeconds: 1}, out)
		require.NoError(t, err)
	}()

	events := drain(t, out)
	require.Less(t, time.Since(start), 10*time.Second)
	last := events[len(events)-1]
	require.Equal(t, EventExit, last.Kind)
	require.Equal(t, -1, last.ExitCode)
}

func TestSeqIsMonotonicAndExitIsLast(t *testing.T) {
	out := make(chan Event, 32)
	go func() {
		defer close(out)
		require.NoError(t, Run(context.Background(), Request{ShellCmd: "echo a; echo b; echo c"}, out))
	}()

	events := drain(t, out)
	for i, e := range events {
		require.Equal(t, uint64(i+1), e.Seq)
	}
	require.Equal(t, EventExit, events[len(events)-1].Kind)
}
