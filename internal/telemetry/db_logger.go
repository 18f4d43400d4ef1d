package telemetry

import (
	"context"
	"time"

	"iot-panel-server/internal/database"
	"iot-panel-server/internal/logger"
	"iot-panel-server/internal/sensor"
)

// Sensors is what the recorder samples.
type Sensors interface {
	ReadTemperature(ctx context.Context) sensor.Reading
	ReadDistance(ctx context.Context) sensor.Reading
}

// LED reports the actuator state.
type LED interface {
	Get() bool
}

// Recorder stores one sample per call to Sample and runs the daily cleanup.
// It is driven by the listener loop, so its reads never overlap a request.
type Recorder struct {
	store         *database.Store
	sensors       Sensors
	led           LED
	retentionDays int
	nextPrune     time.Time
}

func NewRecorder(store *database.Store, sensors Sensors, led LED, retentionDays int) *Recorder {
	return &Recorder{store: store, sensors: sensors, led: led, retentionDays: retentionDays}
}

// Maintain prunes records beyond the retention window and checkpoints the WAL.
func (r *Recorder) Maintain() {
	if r.retentionDays > 0 {
		if err := r.store.Prune(r.retentionDays); err != nil {
			logger.Error("Failed to prune old telemetry: %v", err)
		}
	}
	// Always checkpoint to keep WAL size under control
	if err := r.store.Checkpoint(); err != nil {
		logger.Error("Failed to checkpoint WAL: %v", err)
	}
}

// Sample reads both sensors and the LED and stores them. Absent readings are
// stored as NULL.
func (r *Recorder) Sample(ctx context.Context, now time.Time) {
	if r.nextPrune.IsZero() {
		r.nextPrune = nextNoon(now)
		logger.Info("Next database cleanup scheduled for: %v", r.nextPrune.Format(time.RFC1123))
	}
	if now.After(r.nextPrune) {
		logger.Info("Running scheduled daily database cleanup...")
		r.Maintain()
		r.nextPrune = nextNoon(now)
		logger.Info("Next database cleanup scheduled for: %v", r.nextPrune.Format(time.RFC1123))
	}

	rec := database.Record{
		Timestamp: now.Unix(),
		Temp:      value(r.sensors.ReadTemperature(ctx)),
		Dist:      value(r.sensors.ReadDistance(ctx)),
		LED:       r.led.Get(),
	}
	if err := r.store.Insert(rec); err != nil {
		logger.Error("Failed to insert telemetry: %v", err)
	}
}

func value(rd sensor.Reading) *float64 {
	if !rd.OK() {
		return nil
	}
	v := rd.Value
	return &v
}

// nextNoon returns the first 12:00 local time strictly after now.
func nextNoon(now time.Time) time.Time {
	noon := time.Date(now.Year(), now.Month(), now.Day(), 12, 0, 0, 0, now.Location())
	if !now.Before(noon) {
		noon = noon.AddDate(0, 0, 1)
	}
	return noon
}
