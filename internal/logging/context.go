package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mnemolabs/recalld/internal/tenant"
)

// ContextFields extracts correlation fields from a request context: the
// active trace and span, plus the tenant identity attached with
// tenant.IntoContext. Absent values contribute no fields.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 5)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	tc, err := tenant.FromContext(ctx)
	if err != nil {
		return fields
	}
	fields = append(fields, zap.String("tenant", tc.Tenant.String()))
	if tc.Actor != "" {
		fields = append(fields, zap.String("actor", tc.Actor))
	}
	if tc.RequestID != "" {
		fields = append(fields, zap.String("request_id", tc.RequestID))
	}
	return fields
}
