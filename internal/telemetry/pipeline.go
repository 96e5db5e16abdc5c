package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const pipelineScopeName = "github.com/patchline/patchline/engine"

// PipelineMetrics counts write-pipeline outcomes. With telemetry disabled
// the counters are no-ops from the global no-op meter.
type PipelineMetrics struct {
	triggers  metric.Int64Counter
	publishes metric.Int64Counter
	refusals  metric.Int64Counter
}

// NewPipelineMetrics registers the pipeline counters.
func NewPipelineMetrics() *PipelineMetrics {
	m := Meter(pipelineScopeName)
	triggers, _ := m.Int64Counter("patchline.triggers",
		metric.WithDescription("Messages classified, by intent kind"),
	)
	publishes, _ := m.Int64Counter("patchline.publishes",
		metric.WithDescription("Successful publishes, by strategy outcome"),
	)
	refusals, _ := m.Int64Counter("patchline.refusals",
		metric.WithDescription("Refused writes, by refusal kind"),
	)
	return &PipelineMetrics{triggers: triggers, publishes: publishes, refusals: refusals}
}

// Trigger records one classified message.
func (p *PipelineMetrics) Trigger(ctx context.Context, kind string) {
	p.triggers.Add(ctx, 1, metric.WithAttributes(attribute.String("intent", kind)))
}

// Publish records one successful publish.
func (p *PipelineMetrics) Publish(ctx context.Context, outcome string) {
	p.publishes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// Refusal records one refused write.
func (p *PipelineMetrics) Refusal(ctx context.Context, kind string) {
	p.refusals.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
