package detection

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/udit1567/Home.auto/internal/imaging"
)

const instrumentationName = "github.com/udit1567/Home.auto/internal/detection"

// Service runs decode, infer and aggregate for one request at a time per
// call. Models are shared; scratch space is per call.
type Service struct {
	decoder *imaging.Decoder
	models  map[Kind]Model
	sem     *semaphore.Weighted

	tracer    trace.Tracer
	inferTime metric.Float64Histogram
	found     metric.Int64Counter
}

// NewService wires the decoder and the models built at startup.
// maxConcurrent bounds in-flight inferences across all models.
func NewService(decoder *imaging.Decoder, models map[Kind]Model, maxConcurrent int) *Service {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	meter := otel.Meter(instrumentationName)
	inferTime, err := meter.Float64Histogram("detection.inference.duration",
		metric.WithUnit("s"), metric.WithDescription("Model inference latency"))
	if err != nil {
		log.WithError(err).Warn("detection: inference histogram disabled")
	}
	found, err := meter.Int64Counter("detection.objects",
		metric.WithDescription("Detections returned by models"))
	if err != nil {
		log.WithError(err).Warn("detection: detections counter disabled")
	}
	return &Service{
		decoder:   decoder,
		models:    models,
		sem:       semaphore.NewWeighted(int64(maxConcurrent)),
		tracer:    otel.Tracer(instrumentationName),
		inferTime: inferTime,
		found:     found,
	}
}

// Loaded reports which kinds have a model.
func (s *Service) Loaded() map[Kind]bool {
	out := make(map[Kind]bool, 2)
	for _, k := range []Kind{KindObjects, KindPlantDisease} {
		_, out[k] = s.models[k]
	}
	return out
}

// Detect decodes src, runs the profile's model and aggregates the output.
// The scratch image is released before Detect returns on every path.
func (s *Service) Detect(ctx context.Context, p Profile, src imaging.Source) (Result, error) {
	ctx, span := s.tracer.Start(ctx, "detection.Detect",
		trace.WithAttributes(attribute.String("detection.model", string(p.Kind))))
	defer span.End()

	var res Result
	err := s.decoder.With(ctx, src, func(h *imaging.Handle) error {
		model, ok := s.models[p.Kind]
		if !ok || model == nil {
			return fmt.Errorf("%w: %s model is not loaded", ErrInference, p.Kind)
		}

		if err := s.sem.Acquire(ctx, 1); err != nil {
			return err
		}
		defer s.sem.Release(1)

		start := time.Now()
		dets, err := safeInfer(ctx, model, h)
		if s.inferTime != nil {
			s.inferTime.Record(ctx, time.Since(start).Seconds(),
				metric.WithAttributes(attribute.String("model", string(p.Kind))))
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if errors.Is(err, ErrInference) {
				return err
			}
			return fmt.Errorf("%w: %v", ErrInference, err)
		}

		res = Aggregate(dets, p.Options)
		if s.found != nil {
			s.found.Add(ctx, int64(res.Total),
				metric.WithAttributes(attribute.String("model", string(p.Kind))))
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	span.SetAttributes(attribute.Int("detection.total", res.Total))
	return res, nil
}

// safeInfer turns a model panic into an inference error.
func safeInfer(ctx context.Context, m Model, h *imaging.Handle) (dets []Detection, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: model panic: %v", ErrInference, r)
		}
	}()
	return m.Infer(ctx, h)
}
