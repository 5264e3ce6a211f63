package ca

import (
	"context"
	"fmt"
	"time"
)

// maxEventsPerWake bounds the frames processed per readiness wake-up so
// that ticks keep their schedule on a chatty module.
const maxEventsPerWake = 16

// Run drives the device until ctx is done or a device error occurs.
//
// It waits for the device to become readable with a timeout of the time
// left to the next tick, processes available frames with Event and calls
// Tick every tick interval. Run returns ctx.Err() on cancellation; the
// caller still owns the device and must Close it.
func (d *CaDevice) Run(ctx context.Context) error {
	interval := d.cfg.tickInterval
	next := time.Now().Add(interval)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.closed {
			return ErrDeviceClosed
		}

		ready, err := d.dev.Wait(max(time.Until(next), 0))
		if err != nil {
			return fmt.Errorf("%w: %w", ErrDeviceIO, err)
		}

		if ready {
			for range maxEventsPerWake {
				received := d.metrics.TPDURecvCount.Load()
				if err := d.Event(); err != nil {
					return err
				}
				if d.metrics.TPDURecvCount.Load() == received {
					break
				}
			}
		}

		if now := time.Now(); !now.Before(next) {
			if err := d.Tick(); err != nil {
				return err
			}
			next = now.Add(interval)
		}
	}
}
