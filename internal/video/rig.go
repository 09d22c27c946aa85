package video

import (
	"context"
	"sync"
)

// Rig runs a Manager over a fixed device list together with its poller, so
// capture can be opened and closed as one unit.
type Rig struct {
	*Manager
	devices []Device

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewRig binds devices to m.
func NewRig(m *Manager, devices []Device) *Rig {
	return &Rig{Manager: m, devices: devices}
}

// Open starts capture and polling. Opening an open rig is a no-op.
func (r *Rig) Open(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil || len(r.devices) == 0 {
		return nil
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r.cancel = cancel
	r.done = make(chan struct{})
	r.Manager.Start(ctx, r.devices)
	go func() {
		defer close(r.done)
		r.Manager.RunPoller(ctx)
	}()
	return nil
}

// Close stops polling and capture, finalizing any active recording.
func (r *Rig) Close() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	r.Manager.Stop()
}
