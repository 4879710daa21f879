package dali

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// commandTimeout bounds the bus traffic for one MQTT command.
const commandTimeout = 5 * time.Second

// metricBrightness is the measurement name written for light levels.
const metricBrightness = "brightness"

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte)) error
	IsConnected() bool
}

// LightBus is the subset of GatewayBus the bridge drives.
type LightBus interface {
	QueryActualLevel(ctx context.Context, t Target) (uint8, bool, error)
	DirectArcPower(ctx context.Context, t Target, level uint8) error
	Off(ctx context.Context, t Target) error
}

// BusGuard reports whether another component currently owns the bus.
// *commissioning.Commissioner satisfies it.
type BusGuard interface {
	Running() bool
}

// BusSharer hands out shared use of the bus between commissioning runs.
// ok is false while a run holds the bus; otherwise release must be called
// once the command's frames are sent. *commissioning.Commissioner
// satisfies it.
type BusSharer interface {
	ShareBus() (release func(), ok bool)
}

// MetricsWriter records light levels. *influxdb.Client satisfies it.
type MetricsWriter interface {
	WriteDeviceMetric(deviceID string, measurement string, value float64)
}

// MetricsWriters fans level updates out to several writers.
type MetricsWriters []MetricsWriter

// WriteDeviceMetric implements MetricsWriter.
func (ws MetricsWriters) WriteDeviceMetric(deviceID string, measurement string, value float64) {
	for _, w := range ws {
		w.WriteDeviceMetric(deviceID, measurement, value)
	}
}

// BridgeOptions holds configuration for creating a bridge.
type BridgeOptions struct {
	// DeviceName is the MQTT base topic. Default: "dali".
	DeviceName string

	MQTTClient MQTTClient
	Bus        LightBus

	// Guard holds off commands during commissioning. Optional.
	Guard BusSharer

	// Metrics receives level updates. Optional.
	Metrics MetricsWriter

	// Health publishes bridge status. Optional.
	Health *HealthReporter

	Logger Logger
}

// Bridge translates MQTT light and group commands into DALI arc power
// commands and publishes the resulting state.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	deviceName string
	mqtt       MQTTClient
	bus        LightBus
	guard      BusSharer
	metrics    MetricsWriter
	health     *HealthReporter
	cache      *LevelCache

	// mu guards stopped and every wg.Add against Stop's wg.Wait.
	mu        sync.Mutex
	stopped   bool
	wg        sync.WaitGroup
	stopOnce  sync.Once
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex
}

// NewBridge creates a new bridge instance. Call Start to begin operation.
func NewBridge(opts BridgeOptions) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Bus == nil {
		return nil, fmt.Errorf("DALI bus is required")
	}

	deviceName := opts.DeviceName
	if deviceName == "" {
		deviceName = DefaultDeviceName
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Bridge{
		deviceName: deviceName,
		mqtt:       opts.MQTTClient,
		bus:        opts.Bus,
		guard:      opts.Guard,
		metrics:    opts.Metrics,
		health:     opts.Health,
		cache:      NewLevelCache(),
		ctx:        ctx,
		ctxCancel:  cancel,
		logger:     opts.Logger,
	}, nil
}

// Start subscribes to the command topics and starts health reporting.
func (b *Bridge) Start(ctx context.Context) error {
	if b.health != nil {
		if err := b.health.PublishStarting(); err != nil {
			b.logError("failed to publish starting status", err)
		}
	}

	for _, topic := range CommandSubscribeTopics(b.deviceName) {
		if err := b.mqtt.Subscribe(topic, 1, b.handleMQTTMessage); err != nil {
			return fmt.Errorf("subscribe to %s: %w", topic, err)
		}
		b.logInfo("subscribed to commands", "topic", topic)
	}

	if b.health != nil {
		b.health.Start(ctx)
	}

	b.logInfo("bridge started", "device_name", b.deviceName)
	return nil
}

// Stop cancels in-flight commands and waits for handlers to return.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.mu.Lock()
		b.stopped = true
		b.mu.Unlock()

		b.ctxCancel()
		if b.health != nil {
			b.health.Stop()
		}
		b.wg.Wait()
		b.logInfo("bridge stopped")
	})
}

// Levels returns the cached level of every known target.
func (b *Bridge) Levels() map[string]uint8 {
	return b.cache.Snapshot()
}

// ResetLevels drops all cached levels.
func (b *Bridge) ResetLevels() {
	b.cache.Reset()
}

// handleMQTTMessage routes one incoming command.
func (b *Bridge) handleMQTTMessage(topic string, payload []byte) {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.wg.Add(1)
	b.mu.Unlock()
	defer b.wg.Done()

	target, op, err := ParseCommandTopic(b.deviceName, topic)
	if err != nil {
		b.logWarn("ignoring command", "topic", topic, "error", err)
		return
	}

	if b.guard != nil {
		release, ok := b.guard.ShareBus()
		if !ok {
			b.logWarn("commissioning in progress, dropping command", "topic", topic)
			return
		}
		defer release()
	}

	b.logInfo("received command", "target", target.String(), "op", string(op), "payload", string(payload))

	ctx, cancel := context.WithTimeout(b.ctx, commandTimeout)
	defer cancel()

	switch op {
	case OpStatus:
		err = b.handleStatus(ctx, target, strings.TrimSpace(string(payload)))
	case OpBrightness:
		err = b.handleBrightness(ctx, target, strings.TrimSpace(string(payload)))
	}
	if err != nil {
		b.logError("command failed", err, "target", target.String(), "op", string(op))
	}
}

// handleStatus switches a target on at full level or off, skipping bus
// traffic when the last known level already matches.
func (b *Bridge) handleStatus(ctx context.Context, t Target, payload string) error {
	if payload != PayloadOn && payload != PayloadOff {
		return fmt.Errorf("%w: %q", ErrInvalidPayload, payload)
	}

	previous, err := b.previousLevel(ctx, t)
	if err != nil {
		return err
	}

	switch {
	case payload == PayloadOn && previous == 0:
		if err := b.bus.DirectArcPower(ctx, t, MaxLevel); err != nil {
			return err
		}
		b.setLevel(t, MaxLevel)
		b.publishState(t, OpStatus, PayloadOn)
		b.publishState(t, OpBrightness, strconv.Itoa(MaxLevel))
	case payload == PayloadOff && previous != 0:
		if err := b.bus.Off(ctx, t); err != nil {
			return err
		}
		b.setLevel(t, 0)
		b.publishState(t, OpStatus, PayloadOff)
		b.publishState(t, OpBrightness, "0")
	}
	return nil
}

// handleBrightness sets a target to an explicit level.
func (b *Bridge) handleBrightness(ctx context.Context, t Target, payload string) error {
	n, err := strconv.Atoi(payload)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidPayload, payload)
	}
	if n < 0 || n > MaxLevel {
		return fmt.Errorf("%w: %d", ErrInvalidLevel, n)
	}
	level := uint8(n)

	if err := b.bus.DirectArcPower(ctx, t, level); err != nil {
		return err
	}
	b.setLevel(t, level)
	b.publishState(t, OpBrightness, payload)
	return nil
}

// previousLevel returns the cached level, querying the bus when the cache
// is empty or zero. A target that does not answer counts as off.
func (b *Bridge) previousLevel(ctx context.Context, t Target) (uint8, error) {
	if level, ok := b.cache.Get(t); ok && level != 0 {
		return level, nil
	}

	level, answered, err := b.bus.QueryActualLevel(ctx, t)
	if err != nil {
		return 0, err
	}
	if !answered {
		b.logWarn("could not determine previous level", "target", t.String())
		level = 0
	}
	b.cache.Set(t, level)
	return level, nil
}

func (b *Bridge) setLevel(t Target, level uint8) {
	b.cache.Set(t, level)
	if b.metrics != nil {
		b.metrics.WriteDeviceMetric("dali-"+strings.ReplaceAll(t.String(), "/", "-"), metricBrightness, float64(level))
	}
}

func (b *Bridge) publishState(t Target, op Operation, payload string) {
	topic := StateTopic(b.deviceName, t, op)
	if err := b.mqtt.Publish(topic, []byte(payload), 1, true); err != nil {
		b.logError("failed to publish state", err, "topic", topic)
	}
}

// SetLogger sets the logger for this bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
}

func (b *Bridge) getLogger() Logger {
	b.loggerMu.RLock()
	defer b.loggerMu.RUnlock()
	return b.logger
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if logger := b.getLogger(); logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (b *Bridge) logError(msg string, err error, keysAndValues ...any) {
	logger := b.getLogger()
	if logger == nil {
		return
	}
	if errors.Is(err, context.Canceled) {
		logger.Debug(msg, append([]any{"error", err}, keysAndValues...)...)
		return
	}
	logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
}
