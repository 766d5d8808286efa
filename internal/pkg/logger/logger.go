// internal/pkg/logger/logger.go
package logger

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// Init 配置全局 zerolog Logger。
// 所有服务在启动时调用一次，之后统一通过 Ctx(ctx) 获取带链路信息的 logger。
func Init(serviceName string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zlog.Logger = zerolog.New(os.Stderr).With().
		Timestamp().
		Str("service", serviceName).
		Logger()
}

// Ctx 从 context 中提取 trace_id，返回一个带链路字段的 logger。
// 没有有效 Span 时退化为全局 logger。
func Ctx(ctx context.Context) *zerolog.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return &zlog.Logger
	}
	l := zlog.With().Str("trace_id", sc.TraceID().String()).Logger()
	return &l
}
