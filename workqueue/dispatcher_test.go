package workqueue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"hotstuff/configs"
	"hotstuff/instance"
)

func TestDispatcherRoutesByInstanceOwner(t *testing.T) {
	cfg := &configs.ConsensusConfig{MultiInstances: 4, MultiThreads: 2}
	sched := instance.NewScheduler(cfg)
	disp := NewDispatcher(sched, cfg.MultiThreads)

	disp.Route(WorkItem{Kind: "a", InstanceID: 0})
	disp.Route(WorkItem{Kind: "b", InstanceID: 2})

	item, ok := disp.QueueFor(0).Pop(context.Background())
	assert.True(t, ok)
	assert.Equal(t, "a", item.Kind)

	item, ok = disp.QueueFor(0).Pop(context.Background())
	assert.True(t, ok)
	assert.Equal(t, "b", item.Kind)
}
