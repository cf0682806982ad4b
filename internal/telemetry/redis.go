package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
)

// MonitorRedis instruments r with OpenTelemetry tracing and metrics and logs commands at debug level.
// Commands slower than slow are logged at warn level.
func MonitorRedis(r redis.UniversalClient, slow time.Duration) error {
	if err := redisotel.InstrumentTracing(r); err != nil {
		return fmt.Errorf("instrument tracing: %w", err)
	}
	if err := redisotel.InstrumentMetrics(r); err != nil {
		return fmt.Errorf("instrument metrics: %w", err)
	}
	r.AddHook(redisLog{slow: slow})
	return nil
}

type redisLog struct {
	slow time.Duration
}

func (redisLog) DialHook(hook redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := hook(ctx, network, addr)
		if err != nil {
			slog.ErrorContext(ctx, "redis: dial failed", "network", network, "addr", addr, "error", err)
			return nil, err
		}
		slog.InfoContext(ctx, "redis: connected", "network", network, "addr", addr)
		return conn, nil
	}
}

func (l redisLog) ProcessHook(hook redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := hook(ctx, cmd)
		l.log(ctx, cmd.Name(), 1, time.Since(start), err)
		return err
	}
}

func (l redisLog) ProcessPipelineHook(hook redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		start := time.Now()
		err := hook(ctx, cmds)
		l.log(ctx, "pipeline", len(cmds), time.Since(start), err)
		return err
	}
}

func (l redisLog) log(ctx context.Context, name string, n int, took time.Duration, err error) {
	attrs := []any{"cmd", name, "count", n, "took", took}

	switch {
	case err != nil && err != redis.Nil:
		slog.ErrorContext(ctx, "redis: command failed", append(attrs, "error", err)...)
	case l.slow > 0 && took > l.slow:
		slog.WarnContext(ctx, "redis: slow command", attrs...)
	default:
		slog.DebugContext(ctx, "redis: command", attrs...)
	}
}
