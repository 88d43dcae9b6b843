package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ovalpay/settlements/internal/observability"
	"github.com/ovalpay/settlements/internal/service"
	"go.uber.org/zap"
)

// DeviceHealthWorker periodically sweeps the device fleet and deactivates
// handsets that stopped reporting health checks. Safe to run on multiple
// instances: the offline flip is guarded at the storage layer, so only one
// instance wins per device.
type DeviceHealthWorker struct {
	svc      *service.DeviceHealthService
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewDeviceHealthWorker(svc *service.DeviceHealthService) *DeviceHealthWorker {
	return &DeviceHealthWorker{
		svc:      svc,
		interval: 10 * time.Minute,
		stopCh:   make(chan struct{}),
	}
}

// WithInterval updates the sweep interval.
func (w *DeviceHealthWorker) WithInterval(interval time.Duration) *DeviceHealthWorker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

// Start blocks and sweeps at the configured interval.
func (w *DeviceHealthWorker) Start(ctx context.Context) {
	zap.L().Info("device health worker starting", zap.Duration("interval", w.interval))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			zap.L().Info("device health worker context canceled")
			return
		case <-w.stopCh:
			zap.L().Info("device health worker stop signal received")
			return
		case <-ticker.C:
			w.sweepOnce(ctx)
		}
	}
}

// Stop stops the running worker loop.
func (w *DeviceHealthWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the worker in a goroutine and returns a stop function.
func (w *DeviceHealthWorker) Run(ctx context.Context) func() {
	go w.Start(ctx)
	return w.Stop
}

// SweepOnce runs a single sweep immediately. Useful for manual triggering.
func (w *DeviceHealthWorker) SweepOnce(ctx context.Context) (int, error) {
	return w.svc.Run(ctx)
}

func (w *DeviceHealthWorker) sweepOnce(ctx context.Context) {
	deactivated, err := w.svc.Run(ctx)
	if err != nil {
		observability.IncrementWorkerRun("device_health", "failed")
		zap.L().Error("device health sweep failed", zap.Error(err))
		return
	}
	observability.IncrementWorkerRun("device_health", "success")
	if deactivated > 0 {
		zap.L().Info("device health sweep done", zap.Int("deactivated", deactivated))
	}
}

func (w *DeviceHealthWorker) String() string {
	return fmt.Sprintf("DeviceHealthWorker(interval=%v)", w.interval)
}
