package logger

import (
	"fmt"
	"sync"
	"time"
)

// ProgressTracker tracks progress of long-running batch operations
type ProgressTracker struct {
	logger      Logger
	operation   string
	total       int64
	current     int64
	startTime   time.Time
	lastLogTime time.Time
	logInterval time.Duration
	mutex       sync.Mutex
}

// ProgressConfig configures progress tracking behavior
type ProgressConfig struct {
	Operation   string
	Total       int64
	LogInterval time.Duration
	Logger      Logger
}

// NewProgressTracker creates a new progress tracker
func NewProgressTracker(config ProgressConfig) *ProgressTracker {
	if config.Logger == nil {
		config.Logger = GetGlobalLogger()
	}
	if config.LogInterval == 0 {
		config.LogInterval = 5 * time.Second
	}

	now := time.Now()
	tracker := &ProgressTracker{
		logger:      config.Logger.WithComponent("progress"),
		operation:   config.Operation,
		total:       config.Total,
		startTime:   now,
		lastLogTime: now,
		logInterval: config.LogInterval,
	}

	tracker.logger.WithFields(Fields{
		"operation": config.Operation,
		"total":     config.Total,
	}).Debug("Starting operation")

	return tracker
}

// Add increments the progress counter by the given amount
func (p *ProgressTracker) Add(delta int64) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.current += delta
	now := time.Now()
	if now.Sub(p.lastLogTime) >= p.logInterval {
		p.logger.WithFields(p.fields(now)).Info("Progress update")
		p.lastLogTime = now
	}
}

// Increment increments the progress counter by 1
func (p *ProgressTracker) Increment() {
	p.Add(1)
}

// Complete logs final statistics, at error level when err is non-nil
func (p *ProgressTracker) Complete(err error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	fields := p.fields(time.Now())
	if err != nil {
		p.logger.WithError(err).WithFields(fields).Error("Operation failed")
		return
	}
	p.logger.WithFields(fields).Info("Operation completed")
}

// Processed returns the current counter value
func (p *ProgressTracker) Processed() int64 {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.current
}

func (p *ProgressTracker) fields(now time.Time) Fields {
	duration := now.Sub(p.startTime)
	fields := Fields{
		"operation": p.operation,
		"processed": p.current,
		"duration":  duration.String(),
	}
	if duration.Seconds() > 0 {
		fields["rate"] = fmt.Sprintf("%.2f/sec", float64(p.current)/duration.Seconds())
	}
	if p.total > 0 {
		fields["total"] = p.total
		fields["percentage"] = fmt.Sprintf("%.1f%%", float64(p.current)/float64(p.total)*100)
	}
	return fields
}

// OperationLogger logs the start and outcome of one unit of work with timing
type OperationLogger struct {
	logger    Logger
	operation string
	fields    Fields
	startTime time.Time
}

// NewOperationLogger creates a new operation logger
func NewOperationLogger(operation string, logger Logger) *OperationLogger {
	if logger == nil {
		logger = GetGlobalLogger()
	}
	ol := &OperationLogger{
		logger:    logger,
		operation: operation,
		fields:    Fields{"operation": operation},
		startTime: time.Now(),
	}
	ol.logger.WithFields(ol.fields).Debug("Starting operation")
	return ol
}

// WithField adds a field to the operation context
func (ol *OperationLogger) WithField(key string, value interface{}) *OperationLogger {
	ol.fields[key] = value
	return ol
}

// Success completes the operation successfully
func (ol *OperationLogger) Success(message string) {
	ol.logger.WithFields(ol.final("success")).Info(message)
}

// Failure completes the operation with an error
func (ol *OperationLogger) Failure(err error, message string) {
	ol.logger.WithError(err).WithFields(ol.final("error")).Error(message)
}

func (ol *OperationLogger) final(status string) Fields {
	fields := Fields{
		"duration": time.Since(ol.startTime).String(),
		"status":   status,
	}
	for k, v := range ol.fields {
		fields[k] = v
	}
	return fields
}

// TimedOperation executes fn and logs its outcome with timing information
func TimedOperation(operation string, logger Logger, fn func() error) error {
	ol := NewOperationLogger(operation, logger)
	err := fn()
	if err != nil {
		ol.Failure(err, "Operation failed")
	} else {
		ol.Success("Operation completed")
	}
	return err
}
