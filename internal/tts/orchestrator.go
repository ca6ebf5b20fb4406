package tts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tahcohcat/vocalize-web/internal/catalog"
	"github.com/tahcohcat/vocalize-web/internal/logger"
	"github.com/tahcohcat/vocalize-web/internal/observe"
)

// VoiceSource is implemented by engines that can enumerate local voices.
type VoiceSource interface {
	Voices(ctx context.Context) ([]Voice, error)
	HasBothGenders(ctx context.Context) bool
}

// Outcome describes which engine actually served a request.
type Outcome struct {
	Result          *Result
	RequestedEngine string
	EngineUsed      string
	FallbackUsed    bool
}

// DefaultFallbackReserve is the part of a request's deadline kept back from
// the requested engine so the fallback still has time to run.
const DefaultFallbackReserve = 15 * time.Second

// Orchestrator runs the requested engine and, when it fails, the engine of
// the other kind.
type Orchestrator struct {
	catalog *catalog.Catalog
	engines map[string]Engine
	order   []string
	online  Engine
	offline Engine
	reserve time.Duration
	metrics *observe.Metrics
	logger  *logger.Log
}

// NewOrchestrator registers the online and offline engines plus any extra
// engines that may be requested by id.
func NewOrchestrator(cat *catalog.Catalog, online, offline Engine, metrics *observe.Metrics, extra ...Engine) (*Orchestrator, error) {
	if online == nil || offline == nil {
		return nil, errors.New("orchestrator needs both an online and an offline engine")
	}
	if online.Kind() != KindOnline {
		return nil, fmt.Errorf("engine %s is not an online engine", online.ID())
	}
	if offline.Kind() != KindOffline {
		return nil, fmt.Errorf("engine %s is not an offline engine", offline.ID())
	}

	o := &Orchestrator{
		catalog: cat,
		engines: make(map[string]Engine),
		online:  online,
		offline: offline,
		reserve: DefaultFallbackReserve,
		metrics: metrics,
		logger:  logger.New().With("component", "orchestrator"),
	}
	for _, e := range append([]Engine{online, offline}, extra...) {
		if _, dup := o.engines[e.ID()]; dup {
			return nil, fmt.Errorf("engine already registered: %s", e.ID())
		}
		o.engines[e.ID()] = e
		o.order = append(o.order, e.ID())
	}
	return o, nil
}

// SetFallbackReserve changes how much of the caller's deadline is held back
// for the fallback engine.
func (o *Orchestrator) SetFallbackReserve(d time.Duration) {
	if d > 0 {
		o.reserve = d
	}
}

func (o *Orchestrator) Online() Engine  { return o.online }
func (o *Orchestrator) Offline() Engine { return o.offline }

// Engines returns every registered engine in registration order.
func (o *Orchestrator) Engines() []Engine {
	out := make([]Engine, 0, len(o.order))
	for _, id := range o.order {
		out = append(out, o.engines[id])
	}
	return out
}

// Engine looks up an engine by id. "pyttsx3" names the offline engine and
// "gtts" names the online engine when no gtts engine is registered.
func (o *Orchestrator) Engine(id string) (Engine, error) {
	if e, ok := o.engines[id]; ok {
		return e, nil
	}
	switch id {
	case LegacySystemEngineID:
		return o.offline, nil
	case GTTSEngineID:
		return o.online, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, id)
}

func (o *Orchestrator) fallbackFor(e Engine) Engine {
	if e.Kind() == KindOnline {
		return o.offline
	}
	return o.online
}

func (o *Orchestrator) Generate(ctx context.Context, engineID string, req Request) (*Outcome, error) {
	text, err := ValidateText(req.Text)
	if err != nil {
		return nil, err
	}
	req.Text = text

	primary, err := o.Engine(engineID)
	if err != nil {
		return nil, err
	}

	primaryCtx, cancel := o.primaryContext(ctx)
	res, primaryErr := o.attempt(primaryCtx, primary, req)
	cancel()
	if primaryErr == nil {
		return &Outcome{Result: res, RequestedEngine: primary.ID(), EngineUsed: primary.ID()}, nil
	}
	// only the requested engine's own budget running out is worth a fallback
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", err, primaryErr)
	}

	fallback := o.fallbackFor(primary)
	o.logger.WithError(primaryErr).Warn("engine failed, trying fallback",
		"requested", primary.ID(), "fallback", fallback.ID())

	res, fallbackErr := o.attempt(ctx, fallback, req)
	if fallbackErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrAllEnginesFailed, errors.Join(primaryErr, fallbackErr))
	}

	if o.metrics != nil {
		o.metrics.RecordFallback(ctx, primary.ID(), fallback.ID())
	}
	return &Outcome{
		Result:          res,
		RequestedEngine: primary.ID(),
		EngineUsed:      fallback.ID(),
		FallbackUsed:    true,
	}, nil
}

// primaryContext bounds the requested engine so that at least the reserve,
// or half the time left when less remains, is still there for a fallback.
func (o *Orchestrator) primaryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	deadline, ok := ctx.Deadline()
	if !ok {
		return context.WithCancel(ctx)
	}
	left := time.Until(deadline)
	if left > 2*o.reserve {
		return context.WithDeadline(ctx, deadline.Add(-o.reserve))
	}
	return context.WithTimeout(ctx, left/2)
}

func (o *Orchestrator) attempt(ctx context.Context, e Engine, req Request) (*Result, error) {
	ctx, span := observe.StartSpan(ctx, "tts.synthesize",
		trace.WithAttributes(
			attribute.String("engine", e.ID()),
			attribute.String("language", req.Language),
			attribute.String("accent", req.Accent),
		),
	)
	defer span.End()

	start := time.Now()
	res, err := e.Synthesize(ctx, req)
	if o.metrics != nil {
		o.metrics.RecordSynthesis(ctx, e.ID(), err, time.Since(start))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%s: %w", e.ID(), err)
	}
	return res, nil
}

// OfflineVoices lists the offline engine's voices, or nil when it cannot.
func (o *Orchestrator) OfflineVoices(ctx context.Context) []Voice {
	src, ok := Unwrap(o.offline).(VoiceSource)
	if !ok {
		return nil
	}
	voices, err := src.Voices(ctx)
	if err != nil {
		return nil
	}
	return voices
}

// HasDistinctVoices is true when the language has distinct online voices per
// gender and the offline engine knows both a female and a male voice.
func (o *Orchestrator) HasDistinctVoices(ctx context.Context, language string) bool {
	if !o.catalog.ResolveLanguage(language).GenderVariation {
		return false
	}
	return o.OfflineHasBothGenders(ctx)
}

func (o *Orchestrator) OfflineHasBothGenders(ctx context.Context) bool {
	src, ok := Unwrap(o.offline).(VoiceSource)
	return ok && src.HasBothGenders(ctx)
}
