package agentclient

import (
	"testing"

	"github.com/opensandbox/sandchest/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestGetAgentRequiresTrackedSandbox(t *testing.T) {
	r := NewRouter(func(id string) (types.SandboxStatus, bool) { return "", false })
	_, err := r.GetAgent("sb_missing")
	require.Error(t, err)
}

func TestGetAgentRequiresRunningStatus(t *testing.T) {
	r := NewRouter(func(id string) (types.SandboxStatus, bool) {
		return types.SandboxStatusProvisioning, true
	})
	_, err := r.GetAgent("sb_test")
	require.Error(t, err)
}

func TestGetAgentNotFoundWhenNotCached(t *testing.T) {
	r := NewRouter(func(id string) (types.SandboxStatus, bool) {
		return types.SandboxStatusRunning, true
	})
	_, err := r.GetAgent("sb_test")
	require.Error(t, err)
}

func TestRemoveClientIsNoopWhenAbsent(t *testing.T) {
	r := NewRouter(func(id string) (types.SandboxStatus, bool) { return types.SandboxStatusRunning, true })
	r.RemoveClient("sb_never_added")
}
