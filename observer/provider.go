package observer

import (
	"context"
	"time"

	analyst "github.com/nevindra/analyst"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedProvider wraps an analyst.Provider with OTEL instrumentation.
type ObservedProvider struct {
	inner analyst.Provider
	inst  *Instruments
	model string
}

// WrapProvider returns an instrumented provider that emits traces, metrics,
// and logs for every chat call.
func WrapProvider(inner analyst.Provider, model string, inst *Instruments) *ObservedProvider {
	return &ObservedProvider{inner: inner, inst: inst, model: model}
}

func (o *ObservedProvider) Name() string { return o.inner.Name() }

func (o *ObservedProvider) Chat(ctx context.Context, req analyst.ChatRequest) (analyst.ChatResponse, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "llm.chat", trace.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.inner.Name()),
		AttrToolCount.Int(len(req.Tools)),
	))
	defer span.End()
	start := time.Now()

	resp, err := o.inner.Chat(ctx, req)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	o.record(ctx, span, "chat", status, durationMs, resp.Usage)
	return resp, err
}

func (o *ObservedProvider) ChatStream(ctx context.Context, req analyst.ChatRequest, ch chan<- analyst.StreamEvent) (analyst.ChatResponse, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "llm.chat_stream", trace.WithAttributes(
		AttrLLMModel.String(o.model),
		AttrLLMProvider.String(o.inner.Name()),
		AttrToolCount.Int(len(req.Tools)),
	))
	defer span.End()
	start := time.Now()

	// Count chunks as they pass through without perturbing the consumer.
	mid := make(chan analyst.StreamEvent, 64)
	chunks := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer close(ch)
		for ev := range mid {
			chunks++
			ch <- ev
		}
	}()

	resp, err := o.inner.ChatStream(ctx, req, mid)
	<-done

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(AttrStreamChunks.Int(chunks))

	o.record(ctx, span, "chat_stream", status, durationMs, resp.Usage)
	return resp, err
}

// record emits the shared metrics and a structured log line for one call.
func (o *ObservedProvider) record(ctx context.Context, span trace.Span, method, status string, durationMs float64, usage analyst.Usage) {
	cost := o.inst.Cost.Calculate(o.model, usage.InputTokens, usage.OutputTokens)

	span.SetAttributes(
		AttrTokensInput.Int(usage.InputTokens),
		AttrTokensOutput.Int(usage.OutputTokens),
		AttrCostUSD.Float64(cost),
	)

	modelAttr := attribute.String("model", o.model)
	o.inst.LLMRequests.Add(ctx, 1, metric.WithAttributes(
		modelAttr,
		attribute.String("method", method),
		attribute.String("status", status),
	))
	o.inst.TokenUsage.Add(ctx, int64(usage.InputTokens), metric.WithAttributes(
		modelAttr, attribute.String("direction", "input")))
	o.inst.TokenUsage.Add(ctx, int64(usage.OutputTokens), metric.WithAttributes(
		modelAttr, attribute.String("direction", "output")))
	if cost > 0 {
		o.inst.CostTotal.Add(ctx, cost, metric.WithAttributes(modelAttr))
	}
	o.inst.LLMDuration.Record(ctx, durationMs, metric.WithAttributes(modelAttr))

	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("llm call"))
	rec.AddAttributes(
		otellog.String("llm.model", o.model),
		otellog.String("llm.method", method),
		otellog.String("llm.status", status),
		otellog.Int("llm.tokens.input", usage.InputTokens),
		otellog.Int("llm.tokens.output", usage.OutputTokens),
		otellog.Float64("llm.duration_ms", durationMs),
	)
	o.inst.Logger.Emit(ctx, rec)
}

// compile-time check
var _ analyst.Provider = (*ObservedProvider)(nil)
