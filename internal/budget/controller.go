package budget

import "context"

// Controller bundles the budget operations the server performs: install
// the limit, read usage and watch for the limit notification.
type Controller struct {
	limit Limit
	opts  []MonitorOption
}

// NewController returns a controller for limit. opts are applied to every
// monitor it creates.
func NewController(limit Limit, opts ...MonitorOption) *Controller {
	return &Controller{limit: limit, opts: opts}
}

// Limit returns the configured limit.
func (c *Controller) Limit() Limit { return c.limit }

// Install applies the limit to the current process.
func (c *Controller) Install() error { return Install(c.limit) }

// Usage returns the process's user CPU time.
func (c *Controller) Usage() (CPUTime, error) { return Usage() }

// Watch starts a monitor that runs onExceeded once when the limit
// notification arrives. The caller must Stop it.
func (c *Controller) Watch(ctx context.Context, onExceeded func()) *Monitor {
	opts := append(append([]MonitorOption(nil), c.opts...), OnExceeded(onExceeded))
	m := NewMonitor(opts...)
	m.Start(ctx)
	return m
}
