package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/Brownie44l1/dogs-api/internal/b64img"
	"github.com/Brownie44l1/dogs-api/internal/db"
	"github.com/Brownie44l1/dogs-api/internal/metrics"
	"github.com/Brownie44l1/dogs-api/internal/model"
)

type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

// Processor consumes prediction tasks. The classifier is loaded once by the
// worker and shared by every task it runs.
type Processor struct {
	images     db.ImagesInterface
	classifier model.Classifier
	metrics    *metrics.Collector
	logger     Logger
}

func NewProcessor(images db.ImagesInterface, classifier model.Classifier, m *metrics.Collector, logger Logger) *Processor {
	return &Processor{
		images:     images,
		classifier: classifier,
		metrics:    m,
		logger:     logger,
	}
}

func (p *Processor) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypePredict, p.HandlePredict)
	mux.HandleFunc(TypePredictInline, p.HandleInline)
}

func (p *Processor) classify(ctx context.Context, file []byte, device model.Device) (*model.Result, error) {
	if _, err := b64img.DetectFormat(file); err != nil {
		return nil, fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	// a valid header over a corrupt body would fail the same way on every retry
	if _, err := model.DecodeImage(file); err != nil {
		return nil, fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}

	begin := time.Now()
	result, err := p.classifier.Classify(ctx, file, device)
	if err != nil {
		return nil, fmt.Errorf("classification failed: %w", err)
	}
	p.metrics.ObserveInference(string(result.Device), time.Since(begin).Seconds())

	if device != "" && result.Device != device {
		p.logger.Warnf("device %s is not available, ran on %s", device, result.Device)
	}
	return result, nil
}

// Predict classifies a stored image and saves the predictions on its row.
func (p *Processor) Predict(ctx context.Context, payload PredictPayload) (*Result, error) {
	image, err := p.images.Get(ctx, payload.ImageId)
	if errors.Is(err, db.ErrMissing) {
		return nil, fmt.Errorf("image %d: %w: %w", payload.ImageId, err, asynq.SkipRetry)
	} else if err != nil {
		return nil, err
	}

	file, err := b64img.Decode(image.File)
	if err != nil {
		return nil, fmt.Errorf("image %d: %w: %w", payload.ImageId, err, asynq.SkipRetry)
	}

	result, err := p.classify(ctx, file, payload.Device)
	if err != nil {
		return nil, err
	}

	// the image may have been deleted while the model ran; the update
	// then finds no row and nothing is written
	if _, err := p.images.UpdatePredictions(ctx, payload.ImageId, result.Predictions); errors.Is(err, db.ErrMissing) {
		return nil, fmt.Errorf("image %d was deleted during prediction: %w", payload.ImageId, asynq.SkipRetry)
	} else if err != nil {
		return nil, err
	}

	r := NewResult(&payload.ImageId, result)
	return &r, nil
}

// PredictInline classifies an image carried in the payload.
func (p *Processor) PredictInline(ctx context.Context, payload InlinePayload) (*Result, error) {
	file, err := b64img.Decode(payload.File)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	result, err := p.classify(ctx, file, payload.Device)
	if err != nil {
		return nil, err
	}
	r := NewResult(nil, result)
	return &r, nil
}

func (p *Processor) HandlePredict(ctx context.Context, t *asynq.Task) error {
	var payload PredictPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return p.done(t, nil, fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry))
	}
	p.logger.Infof("predicting image %d on %s", payload.ImageId, payload.Device)
	result, err := p.Predict(ctx, payload)
	return p.done(t, result, err)
}

func (p *Processor) HandleInline(ctx context.Context, t *asynq.Task) error {
	var payload InlinePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return p.done(t, nil, fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry))
	}
	result, err := p.PredictInline(ctx, payload)
	return p.done(t, result, err)
}

func (p *Processor) done(t *asynq.Task, result *Result, err error) error {
	p.metrics.TaskProcessed(t.Type(), err)
	if err != nil {
		return err
	}

	b, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	// tasks built outside a server (as in tests) have no writer
	if w := t.ResultWriter(); w != nil {
		if _, err := w.Write(b); err != nil {
			return fmt.Errorf("failed to store result: %w", err)
		}
	}
	return nil
}
