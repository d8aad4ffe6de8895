package tracing

import (
	"context"
	"fmt"
	"os"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

var (
	installed   *trace.TracerProvider
	installedMu sync.Mutex
)

// NewTracerProvider 按配置创建 TracerProvider 并安装为全局实例
// Dispatcher 与 Relay 未显式传入 TracerProvider 时使用全局实例
func NewTracerProvider(cfg *Config) (*trace.TracerProvider, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.Enabled {
		cfg.ExporterType = "noop"
	}

	ctx := context.Background()
	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("tracing: create exporter: %w", err)
	}
	res, err := newResource(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("tracing: create resource: %w", err)
	}

	opts := []trace.TracerProviderOption{
		trace.WithResource(res),
		trace.WithSpanProcessor(trace.NewBatchSpanProcessor(exporter,
			trace.WithBatchTimeout(cfg.BatchTimeout),
			trace.WithMaxExportBatchSize(cfg.MaxExportBatchSize),
			trace.WithMaxQueueSize(cfg.MaxQueueSize),
		)),
	}
	// 设置了 OTEL_TRACES_SAMPLER 时由 SDK 读取环境变量
	if os.Getenv("OTEL_TRACES_SAMPLER") == "" {
		opts = append(opts, trace.WithSampler(newSampler(cfg)))
	}
	tp := trace.NewTracerProvider(opts...)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	installedMu.Lock()
	installed = tp
	installedMu.Unlock()
	return tp, nil
}

// newSampler 未识别的采样类型按 parent_based 处理
func newSampler(cfg *Config) trace.Sampler {
	switch cfg.SamplingType {
	case "always":
		return trace.AlwaysSample()
	case "never":
		return trace.NeverSample()
	case "ratio":
		return trace.TraceIDRatioBased(cfg.SamplingRate)
	default:
		return trace.ParentBased(trace.TraceIDRatioBased(cfg.SamplingRate))
	}
}

// newResource 服务标识与自定义属性，OTEL_RESOURCE_ATTRIBUTES 中的同名属性优先
func newResource(ctx context.Context, cfg *Config) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.ServiceVersionKey.String(cfg.ServiceVersion),
	}
	if cfg.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironmentKey.String(cfg.Environment))
	}
	for k, v := range cfg.ResourceAttributes {
		attrs = append(attrs, attribute.String(k, v))
	}
	return resource.New(ctx,
		resource.WithAttributes(attrs...),
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
	)
}

// Shutdown 导出剩余 Span 并关闭最近安装的 TracerProvider
func Shutdown(ctx context.Context) error {
	installedMu.Lock()
	tp := installed
	installed = nil
	installedMu.Unlock()

	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}
