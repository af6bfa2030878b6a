package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"testing"

	qt "github.com/frankban/quicktest"
	"github.com/hibiken/asynq"

	"github.com/Brownie44l1/dogs-api/internal/b64img"
	"github.com/Brownie44l1/dogs-api/internal/db"
	"github.com/Brownie44l1/dogs-api/internal/model"
)

var (
	testPNG = encodePNG()

	// a jpeg marker followed by nothing decodable
	truncatedJPEG = append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, "garbage"...)
)

func encodePNG() []byte {
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	for i := range img.Pix {
		img.Pix[i] = uint8(i * 7)
	}
	buf := new(bytes.Buffer)
	if err := png.Encode(buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

type fakeImages struct {
	images map[int64]*db.Image

	// deleteOnUpdate removes the row right before UpdatePredictions runs.
	deleteOnUpdate bool
	updates        int
}

func (f *fakeImages) Create(ctx context.Context, image db.NewImage) (*db.Image, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeImages) Get(ctx context.Context, id int64) (*db.Image, error) {
	img, ok := f.images[id]
	if !ok {
		return nil, db.ErrMissing
	}
	cp := *img
	return &cp, nil
}

func (f *fakeImages) List(ctx context.Context, query db.ListQuery) ([]db.Image, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeImages) UpdatePredictions(ctx context.Context, id int64, predictions model.Predictions) (*db.Image, error) {
	if f.deleteOnUpdate {
		delete(f.images, id)
	}
	img, ok := f.images[id]
	if !ok {
		return nil, db.ErrMissing
	}
	f.updates++
	img.Predictions = predictions
	cp := *img
	return &cp, nil
}

func (f *fakeImages) Delete(ctx context.Context, id int64) (int64, error) {
	if _, ok := f.images[id]; !ok {
		return 0, db.ErrMissing
	}
	delete(f.images, id)
	return id, nil
}

type fakeClassifier struct {
	result *model.Result
	err    error
	calls  int
}

func (f *fakeClassifier) Classify(ctx context.Context, file []byte, device model.Device) (*model.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeClassifier) Classes() []string { return []string{"Beagle", "Pug"} }
func (f *fakeClassifier) Close()            {}

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{}) {}
func (nopLogger) Warnf(string, ...interface{}) {}

func newFixture() (*fakeImages, *fakeClassifier, *Processor) {
	images := &fakeImages{images: map[int64]*db.Image{
		1: {Id: 1, File: b64img.Encode(testPNG)},
		2: {Id: 2, File: "not base64!"},
		3: {Id: 3, File: b64img.Encode([]byte("GIF89a"))},
		4: {Id: 4, File: b64img.Encode(truncatedJPEG)},
	}}
	classifier := &fakeClassifier{result: &model.Result{
		Predictions: model.Predictions{{Class: "Pug", Confidence: 0.75}, {Class: "Beagle", Confidence: 0.25}},
		Device:      model.CPU,
	}}
	return images, classifier, NewProcessor(images, classifier, nil, nopLogger{})
}

func TestPredictStoresPredictions(t *testing.T) {
	c := qt.New(t)
	images, _, p := newFixture()

	res, err := p.Predict(context.Background(), PredictPayload{ImageId: 1, Device: model.GPU})
	c.Assert(err, qt.IsNil)
	c.Assert(*res.Results.ImageId, qt.Equals, int64(1))
	c.Assert(res.Results.PredictedClass, qt.Equals, "Pug")
	c.Assert(res.Results.Confidence, qt.DeepEquals, map[string]float32{"Pug": 0.75, "Beagle": 0.25})
	c.Assert(res.Results.Device, qt.Equals, model.CPU)

	c.Assert(images.updates, qt.Equals, 1)
	c.Assert(images.images[1].Predictions, qt.HasLen, 2)
}

func TestPredictFailuresSkipRetry(t *testing.T) {
	for name, id := range map[string]int64{
		"missing row":      42,
		"invalid base64":   2,
		"unsupported file": 3,
		"truncated jpeg":   4,
	} {
		t.Run(name, func(t *testing.T) {
			c := qt.New(t)
			images, classifier, p := newFixture()

			_, err := p.Predict(context.Background(), PredictPayload{ImageId: id})
			c.Assert(errors.Is(err, asynq.SkipRetry), qt.IsTrue)
			c.Assert(classifier.calls, qt.Equals, 0)
			c.Assert(images.updates, qt.Equals, 0)
		})
	}
}

func TestPredictDoesNotRecreateDeletedImage(t *testing.T) {
	c := qt.New(t)
	images, classifier, p := newFixture()
	images.deleteOnUpdate = true

	_, err := p.Predict(context.Background(), PredictPayload{ImageId: 1})
	c.Assert(errors.Is(err, asynq.SkipRetry), qt.IsTrue)
	c.Assert(classifier.calls, qt.Equals, 1)
	_, ok := images.images[1]
	c.Assert(ok, qt.IsFalse)
	c.Assert(images.updates, qt.Equals, 0)
}

func TestPredictClassifierErrorIsRetried(t *testing.T) {
	c := qt.New(t)
	images, classifier, p := newFixture()
	classifier.err = errors.New("session crashed")

	_, err := p.Predict(context.Background(), PredictPayload{ImageId: 1})
	c.Assert(err, qt.ErrorMatches, "classification failed: session crashed")
	c.Assert(errors.Is(err, asynq.SkipRetry), qt.IsFalse)
	c.Assert(images.images[1].Predictions, qt.IsNil)
}

func TestPredictInline(t *testing.T) {
	c := qt.New(t)
	images, _, p := newFixture()

	res, err := p.PredictInline(context.Background(), InlinePayload{File: b64img.Encode(testPNG)})
	c.Assert(err, qt.IsNil)
	c.Assert(res.Results.ImageId, qt.IsNil)
	c.Assert(res.Results.PredictedClass, qt.Equals, "Pug")
	c.Assert(images.updates, qt.Equals, 0)

	b, err := json.Marshal(res)
	c.Assert(err, qt.IsNil)
	c.Assert(string(b), qt.Not(qt.Contains), "image_id")
}

func TestPredictInlineRejectsTruncatedImage(t *testing.T) {
	c := qt.New(t)
	_, classifier, p := newFixture()

	_, err := p.PredictInline(context.Background(), InlinePayload{File: b64img.Encode(truncatedJPEG)})
	c.Assert(errors.Is(err, asynq.SkipRetry), qt.IsTrue)
	c.Assert(classifier.calls, qt.Equals, 0)
}

func TestHandlersRejectBadPayload(t *testing.T) {
	c := qt.New(t)
	_, _, p := newFixture()

	err := p.HandlePredict(context.Background(), asynq.NewTask(TypePredict, []byte("{")))
	c.Assert(errors.Is(err, asynq.SkipRetry), qt.IsTrue)

	err = p.HandleInline(context.Background(), asynq.NewTask(TypePredictInline, []byte("[]")))
	c.Assert(errors.Is(err, asynq.SkipRetry), qt.IsTrue)
}

func TestHandlePredict(t *testing.T) {
	c := qt.New(t)
	images, _, p := newFixture()

	payload, err := json.Marshal(PredictPayload{ImageId: 1, Device: model.CPU})
	c.Assert(err, qt.IsNil)
	c.Assert(p.HandlePredict(context.Background(), asynq.NewTask(TypePredict, payload)), qt.IsNil)
	c.Assert(images.updates, qt.Equals, 1)
}
