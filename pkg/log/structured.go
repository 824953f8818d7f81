package log

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/crmtools/dedup-planner/pkg/requestid"
)

// StructuredLogger is the operation-tracing logger used by the service
// and handler layers. A tracer is built once per operation; steps and the
// final outcome are logged with the operation's fields attached.
//
//	tracer := log.NewDebugLogger("job_service").WithContext(ctx).
//		Operation("create_job").WithBool("auto_approve", cfg.AutoApprove).Build()
//	tracer.Step("job_created").WithString("job_id", id).Log()
//	tracer.Success().Log()
type StructuredLogger struct {
	component string
	ctx       context.Context
}

func NewDebugLogger(component string) *StructuredLogger {
	return &StructuredLogger{component: component}
}

func (l *StructuredLogger) WithContext(ctx context.Context) *StructuredLogger {
	return &StructuredLogger{component: l.component, ctx: ctx}
}

func (l *StructuredLogger) Operation(name string) *OperationBuilder {
	b := &OperationBuilder{
		component: l.component,
		operation: name,
	}
	if l.ctx != nil {
		if reqID := requestid.FromContext(l.ctx); reqID != "" {
			b.fields = append(b.fields, "request_id", reqID)
		}
	}
	return b
}

type OperationBuilder struct {
	component string
	operation string
	fields    []interface{}
}

func (b *OperationBuilder) WithString(key, value string) *OperationBuilder {
	b.fields = append(b.fields, key, value)
	return b
}

func (b *OperationBuilder) WithInt(key string, value int) *OperationBuilder {
	b.fields = append(b.fields, key, value)
	return b
}

func (b *OperationBuilder) WithBool(key string, value bool) *OperationBuilder {
	b.fields = append(b.fields, key, value)
	return b
}

func (b *OperationBuilder) WithUUID(key string, value uuid.UUID) *OperationBuilder {
	b.fields = append(b.fields, key, value.String())
	return b
}

func (b *OperationBuilder) WithParam(key string, value interface{}) *OperationBuilder {
	b.fields = append(b.fields, key, value)
	return b
}

func (b *OperationBuilder) Build() *Tracer {
	base := append([]interface{}{"operation", b.operation}, b.fields...)
	return &Tracer{
		logger: zap.S().Named(b.component).With(base...),
		start:  time.Now(),
	}
}

type Tracer struct {
	logger *zap.SugaredLogger
	start  time.Time
}

func (t *Tracer) Step(name string) *Event {
	return &Event{logger: t.logger, message: name, level: levelDebug}
}

func (t *Tracer) Success() *Event {
	return &Event{
		logger:  t.logger,
		message: "operation succeeded",
		level:   levelInfo,
		fields:  []interface{}{"duration", time.Since(t.start)},
	}
}

func (t *Tracer) Error(err error) *Event {
	return &Event{
		logger:  t.logger,
		message: "operation failed",
		level:   levelError,
		fields:  []interface{}{"error", err, "duration", time.Since(t.start)},
	}
}

type logLevel int

const (
	levelDebug logLevel = iota
	levelInfo
	levelError
)

type Event struct {
	logger  *zap.SugaredLogger
	message string
	level   logLevel
	fields  []interface{}
}

func (e *Event) WithString(key, value string) *Event {
	e.fields = append(e.fields, key, value)
	return e
}

func (e *Event) WithInt(key string, value int) *Event {
	e.fields = append(e.fields, key, value)
	return e
}

func (e *Event) WithBool(key string, value bool) *Event {
	e.fields = append(e.fields, key, value)
	return e
}

func (e *Event) WithUUID(key string, value uuid.UUID) *Event {
	e.fields = append(e.fields, key, value.String())
	return e
}

func (e *Event) WithParam(key string, value interface{}) *Event {
	e.fields = append(e.fields, key, value)
	return e
}

func (e *Event) Log() {
	switch e.level {
	case levelDebug:
		e.logger.Debugw(e.message, e.fields...)
	case levelInfo:
		e.logger.Infow(e.message, e.fields...)
	case levelError:
		e.logger.Errorw(e.message, e.fields...)
	}
}
