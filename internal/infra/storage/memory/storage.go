// Package memory keeps subscriptions, pending match state and scheduled tasks
// in process memory. Nothing survives a restart; it backs single node
// deployments and tests.
package memory

import (
	"sync"

	"github.com/gabapcia/xcmwatch/internal/matching"
	"github.com/gabapcia/xcmwatch/internal/pkg/types"
	"github.com/gabapcia/xcmwatch/internal/scheduler"
	"github.com/gabapcia/xcmwatch/internal/subscription"
)

type storage struct {
	mu sync.RWMutex

	subscriptions map[string]subscription.Subscription
	pending       types.DefaultMap[matching.Family, map[string]matching.Pending]
	tasks         map[string]scheduler.Task
}

var (
	_ subscription.Storage    = (*storage)(nil)
	_ matching.PendingStorage = (*storage)(nil)
	_ scheduler.Storage       = (*storage)(nil)
)

// New returns an empty in-memory storage.
func New() *storage {
	return &storage{
		subscriptions: make(map[string]subscription.Subscription),
		pending:       types.NewDefaultMap[matching.Family](func() map[string]matching.Pending { return make(map[string]matching.Pending) }),
		tasks:         make(map[string]scheduler.Task),
	}
}
