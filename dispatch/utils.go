package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/LerianStudio/lib-dispatch/dispatch/log"
	"github.com/LerianStudio/lib-dispatch/dispatch/opentelemetry/metrics"
	"github.com/google/uuid"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
)

var (
	// ErrMetadataKeyLengthExceeded is returned when a metadata key is longer than the limit.
	ErrMetadataKeyLengthExceeded = errors.New("metadata key length exceeded")
	// ErrMetadataValueLengthExceeded is returned when a metadata value is longer than the limit.
	ErrMetadataValueLengthExceeded = errors.New("metadata value length exceeded")
)

// CheckMetadataKeyAndValueLength checks every key and stringified value of metadata against limit.
func CheckMetadataKeyAndValueLength(limit int, metadata map[string]any) error {
	for k, v := range metadata {
		if len(k) > limit {
			return fmt.Errorf("%w: %q", ErrMetadataKeyLengthExceeded, k)
		}

		var value string

		switch t := v.(type) {
		case nil:
			continue
		case int:
			value = strconv.Itoa(t)
		case float64:
			value = strconv.FormatFloat(t, 'f', -1, 64)
		case string:
			value = t
		case bool:
			value = strconv.FormatBool(t)
		default:
			value = fmt.Sprintf("%v", t)
		}

		if len(value) > limit {
			return fmt.Errorf("%w: %q", ErrMetadataValueLengthExceeded, k)
		}
	}

	return nil
}

// IsUUID reports whether s parses as a UUID.
func IsUUID(s string) bool {
	_, err := uuid.Parse(s)

	return err == nil
}

// GetCPUUsage samples host CPU usage and records it on the system CPU gauge.
func GetCPUUsage(ctx context.Context, factory *metrics.MetricsFactory) {
	logger := NewLoggerFromContext(ctx)

	out, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		logger.Log(ctx, log.LevelWarn, "error getting CPU usage", log.Err(err))
	}

	var percentageCPU int64
	if len(out) > 0 {
		percentageCPU = int64(out[0])
	}

	if err := factory.RecordSystemCPUUsage(ctx, percentageCPU); err != nil {
		logger.Log(ctx, log.LevelWarn, "error recording CPU gauge", log.Err(err))
	}
}

// GetMemUsage samples host memory usage and records it on the system memory gauge.
func GetMemUsage(ctx context.Context, factory *metrics.MetricsFactory) {
	logger := NewLoggerFromContext(ctx)

	var percentageMem int64

	out, err := mem.VirtualMemory()
	if err != nil {
		logger.Log(ctx, log.LevelWarn, "error getting memory info", log.Err(err))
	} else {
		percentageMem = int64(out.UsedPercent)
	}

	if err := factory.RecordSystemMemUsage(ctx, percentageMem); err != nil {
		logger.Log(ctx, log.LevelWarn, "error recording memory gauge", log.Err(err))
	}
}
