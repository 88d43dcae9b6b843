package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ovalpay/settlements/internal/domain"
	"github.com/ovalpay/settlements/internal/models"
	"github.com/ovalpay/settlements/internal/observability"
	"go.uber.org/zap"
)

// DeviceStore is the device fleet access the watchdog needs.
type DeviceStore interface {
	GetStaleOnlineDevices(ctx context.Context, cutoff time.Time, limit int32) ([]models.Device, error)
	MarkDeviceOffline(ctx context.Context, id string) (bool, error)
	CreateNotification(ctx context.Context, n *models.Notification) error
}

// DeviceHealthService deactivates devices that stopped sending health
// checks. One run scans a bounded batch; the worker calls it on a ticker.
type DeviceHealthService struct {
	store     DeviceStore
	timeout   time.Duration
	batchSize int32
}

func NewDeviceHealthService(store DeviceStore, timeout time.Duration, batchSize int32) *DeviceHealthService {
	if timeout <= 0 {
		timeout = 50 * time.Minute
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &DeviceHealthService{store: store, timeout: timeout, batchSize: batchSize}
}

// Run deactivates every online device whose last health check predates the
// timeout. Per-device failures are logged and skipped so one bad row does
// not stall the sweep.
func (s *DeviceHealthService) Run(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.timeout)
	stale, err := s.store.GetStaleOnlineDevices(ctx, cutoff, s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("load stale devices: %w", err)
	}

	deactivated := 0
	for _, device := range stale {
		if err := ctx.Err(); err != nil {
			return deactivated, err
		}

		flipped, err := s.store.MarkDeviceOffline(ctx, device.ID)
		if err != nil {
			zap.L().Error("device deactivation failed",
				zap.String("device_id", device.ID),
				zap.Error(err),
			)
			continue
		}
		if !flipped {
			// Another instance already handled it, or the device checked in.
			continue
		}

		deactivated++
		observability.IncrementDeviceDeactivated()
		zap.L().Info("device deactivated for inactivity",
			zap.String("device_id", device.ID),
			zap.String("device_name", device.Name),
			zap.Time("last_seen_at", device.LastSeenAt),
			zap.Duration("timeout", s.timeout),
		)

		if err := s.store.CreateNotification(ctx, s.offlineNotification(device)); err != nil {
			zap.L().Warn("device offline notification write failed",
				zap.String("device_id", device.ID),
				zap.Error(err),
			)
		}
	}
	return deactivated, nil
}

func (s *DeviceHealthService) offlineNotification(device models.Device) *models.Notification {
	meta, _ := json.Marshal(map[string]any{
		"last_seen_at":    device.LastSeenAt.UTC().Format(time.RFC3339),
		"timeout_seconds": int(s.timeout.Seconds()),
	})
	deviceID := device.ID
	return &models.Notification{
		Type:     domain.NotificationDeviceOffline,
		Title:    "Device deactivated",
		Message:  fmt.Sprintf("Device %s was deactivated after missing health checks", device.Name),
		DeviceID: &deviceID,
		Metadata: meta,
	}
}
