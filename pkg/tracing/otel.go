// Copyright 2026 fanjia1024
// OpenTelemetry integration for distributed tracing

package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "fleet-copilot"

// OTelConfig OpenTelemetry 配置
type OTelConfig struct {
	ServiceName    string
	ExportEndpoint string
	Insecure       bool
}

// InitTracer 初始化 OpenTelemetry tracer
func InitTracer(config OTelConfig) (*sdktrace.TracerProvider, error) {
	ctx := context.Background()

	opts := []otlptracehttp.Option{
		otlptracehttp.WithEndpoint(config.ExportEndpoint),
	}
	if config.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}

	exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient(opts...))
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	otel.SetTracerProvider(tp)
	return tp, nil
}

// StartTurnSpan 开始一轮对话的 span
func StartTurnSpan(ctx context.Context, mode string, sessionID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "agent.turn",
		trace.WithAttributes(
			attribute.String("agent.mode", mode),
			attribute.String("session.id", sessionID),
		),
	)
}

// StartLLMSpan 开始 LLM 调用 span
func StartLLMSpan(ctx context.Context, kind string, round int) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "llm.generate",
		trace.WithAttributes(
			attribute.String("llm.kind", kind),
			attribute.Int("agent.round", round),
		),
	)
}

// StartToolSpan 开始 tool invocation span
func StartToolSpan(ctx context.Context, toolName string, callID string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "tool.invoke",
		trace.WithAttributes(
			attribute.String("tool.name", toolName),
			attribute.String("tool.call_id", callID),
		),
	)
}

// StartNodeSpan 开始单节点轮询 span
func StartNodeSpan(ctx context.Context, node string, nodeType string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "poll.node",
		trace.WithAttributes(
			attribute.String("node.name", node),
			attribute.String("node.type", nodeType),
		),
	)
}

// EndSpan 记录错误（若有）并结束 span
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
