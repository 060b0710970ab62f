package devicepool

import "fmt"

// Pool is the fixed-size collection of capture devices indexed the same
// way the scheduler indexes its per-device queues (0..NumDevices-1).
type Pool struct {
	devices []Device
}

// NewPool wraps devices, one per scheduler device index, in encounter order.
func NewPool(devices []Device) *Pool {
	return &Pool{devices: devices}
}

// Len returns the number of devices in the pool.
func (p *Pool) Len() int { return len(p.devices) }

// Get returns the device bound to index, or an error if index is out of range.
func (p *Pool) Get(index int) (Device, error) {
	if index < 0 || index >= len(p.devices) {
		return nil, fmt.Errorf("devicepool: no device at index %d", index)
	}
	return p.devices[index], nil
}
