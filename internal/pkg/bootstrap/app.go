// internal/pkg/bootstrap/app.go
package bootstrap

import (
	"context"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/pkg/errors"
	zlog "github.com/rs/zerolog/log"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"nexus-payment/internal/tracing"
)

// Worker 是随服务启停的后台任务，例如 Kafka 消费者
type Worker interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type AppCtx struct {
	Mux    *http.ServeMux
	Config *Config
}

// AppInfo 包含了启动一个微服务所需的所有特定信息。
type AppInfo struct {
	Config           *Config
	RegisterHandlers func(appCtx AppCtx) // 一个函数，允许每个服务注册自己独特的 HTTP 路由
	Workers          []Worker
	// Closers 在 HTTP 和 Worker 都停止后按注册的逆序执行，用于关闭 redis、kafka writer 等
	Closers []func() error
	// Listener 非空时直接使用，测试中用来绑定随机端口
	Listener net.Listener
}

// StartService 封装了通用的启动和优雅关停逻辑，阻塞直到收到 SIGINT/SIGTERM。
func StartService(info AppInfo) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return Run(ctx, info)
}

// Run 启动服务并在 ctx 结束后按顺序关停：HTTP -> Worker -> Closers -> Tracer。
func Run(ctx context.Context, info AppInfo) error {
	cfg := info.Config
	name := cfg.App.ServiceName

	// 1. Tracer
	var tp *sdktrace.TracerProvider
	if cfg.Infra.Jaeger.Endpoint == "" {
		tracing.InstallPropagator()
	} else {
		var err error
		tp, err = tracing.InitTracerProvider(tracing.Options{
			ServiceName: name,
			Endpoint:    cfg.Infra.Jaeger.Endpoint,
			SampleRatio: cfg.Infra.Jaeger.SampleRatio,
		})
		if err != nil {
			return errors.Wrap(err, "initialize tracer provider")
		}
	}

	// 2. HTTP Server
	mux := http.NewServeMux()
	if info.RegisterHandlers != nil {
		info.RegisterHandlers(AppCtx{Mux: mux, Config: cfg})
	}
	listener := info.Listener
	if listener == nil {
		var err error
		listener, err = net.Listen("tcp", ":"+strconv.Itoa(cfg.App.Port))
		if err != nil {
			return errors.Wrapf(err, "listen on :%d", cfg.App.Port)
		}
	}
	server := &http.Server{Handler: mux}
	serveErr := make(chan error, 1)
	go func() {
		zlog.Info().Str("addr", listener.Addr().String()).Msgf("%s listening", name)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// 3. Workers
	started := make([]Worker, 0, len(info.Workers))
	var runErr error
	for _, w := range info.Workers {
		if err := w.Start(ctx); err != nil {
			runErr = errors.Wrap(err, "start worker")
			break
		}
		started = append(started, w)
	}

	if runErr == nil {
		select {
		case <-ctx.Done():
			zlog.Info().Msgf("Shutting down service %s...", name)
		case err := <-serveErr:
			runErr = errors.Wrap(err, "http server")
		}
	}

	// 4. 优雅关停
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Err(err).Msg("Error shutting down http server")
	} else {
		zlog.Info().Msg("HTTP server shut down.")
	}

	for i := len(started) - 1; i >= 0; i-- {
		if err := started[i].Stop(shutdownCtx); err != nil {
			zlog.Error().Err(err).Msg("Error stopping worker")
		}
	}

	for i := len(info.Closers) - 1; i >= 0; i-- {
		if err := info.Closers[i](); err != nil {
			zlog.Error().Err(err).Msg("Error closing resource")
		}
	}

	// 确保所有缓冲的 trace 都被发送出去
	if tp != nil {
		if err := tp.Shutdown(shutdownCtx); err != nil {
			zlog.Error().Err(err).Msg("Error shutting down tracer provider")
		} else {
			zlog.Info().Msg("Tracer provider shut down.")
		}
	}

	if runErr == nil {
		zlog.Info().Msgf("Service %s gracefully shut down.", name)
	}
	return runErr
}
