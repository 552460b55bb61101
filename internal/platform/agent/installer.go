package agent

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tinywideclouds/go-push-subscriber/internal/platform/localstate"
	"github.com/tinywideclouds/go-push-subscriber/pkg/subscription"
)

const agentFile = "agent.json"

// LocalInstaller records the agent installation in the state directory.
type LocalInstaller struct {
	dir *localstate.Dir
}

func NewLocalInstaller(dir *localstate.Dir) *LocalInstaller {
	return &LocalInstaller{dir: dir}
}

func (i *LocalInstaller) Supported() bool {
	return i.dir.Supported()
}

func (i *LocalInstaller) Lookup(_ context.Context, scope string) (*subscription.AgentHandle, error) {
	var h subscription.AgentHandle
	found, err := i.dir.Read(agentFile, &h)
	if err != nil || !found {
		return nil, err
	}
	if h.Scope != scope {
		return nil, nil
	}
	return &h, nil
}

func (i *LocalInstaller) Install(_ context.Context, scriptURL, scope string) (subscription.AgentHandle, error) {
	h := subscription.AgentHandle{
		ID:          uuid.NewString(),
		ScriptURL:   scriptURL,
		Scope:       scope,
		InstalledAt: time.Now().UTC(),
	}
	if err := i.dir.Write(agentFile, h); err != nil {
		return subscription.AgentHandle{}, err
	}
	return h, nil
}
