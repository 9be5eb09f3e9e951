package logging

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Loggers start as no-ops so packages can log before InitLogger runs (tests, tools).
var (
	AppLogger     = zap.NewNop()
	RequestLogger = zap.NewNop()
	TimerLogger   = zap.NewNop()
	ErrorLogger   = zap.NewNop()
)

func ensureLogsDir(dir string) error {
	return os.MkdirAll(dir, os.ModePerm)
}

func fileCore(encoder zapcore.Encoder, path string, maxSize, maxAge int, level zapcore.Level) zapcore.Core {
	return zapcore.NewCore(encoder,
		zapcore.AddSync(&lumberjack.Logger{
			Filename: path, MaxSize: maxSize, MaxAge: maxAge, Compress: true,
		}),
		level,
	)
}

// InitLogger wires the four rotating JSON loggers into dir (./logs when empty).
func InitLogger(dir string) error {
	if dir == "" {
		dir = "./logs"
	}
	if err := ensureLogsDir(dir); err != nil {
		return err
	}
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderConfig)

	AppLogger = zap.New(fileCore(encoder, filepath.Join(dir, "app.log"), 100, 28, zap.InfoLevel))
	RequestLogger = zap.New(fileCore(encoder, filepath.Join(dir, "request.log"), 50, 7, zap.InfoLevel))
	TimerLogger = zap.New(fileCore(encoder, filepath.Join(dir, "timer.log"), 50, 7, zap.InfoLevel))
	ErrorLogger = zap.New(fileCore(encoder, filepath.Join(dir, "error.log"), 100, 30, zap.ErrorLevel))
	return nil
}

// Sync flushes every logger; call it on shutdown.
func Sync() {
	for _, l := range []*zap.Logger{AppLogger, RequestLogger, TimerLogger, ErrorLogger} {
		_ = l.Sync()
	}
}

// LogDuration lets you do: defer logging.LogDuration(ctx, "FuncName")()
func LogDuration(ctx context.Context, name string) func() {
	start := time.Now()
	traceID := middleware.GetReqID(ctx)

	return func() {
		fields := []zap.Field{
			zap.String("func", name),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		}
		if traceID != "" {
			fields = append(fields, zap.String("trace_id", traceID))
		}
		TimerLogger.Info("Function timed", fields...)
	}
}
