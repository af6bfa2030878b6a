package handlers_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/Brownie44l1/dogs-api/internal/db"
	"github.com/Brownie44l1/dogs-api/internal/model"
	"github.com/Brownie44l1/dogs-api/internal/stats"
	"github.com/Brownie44l1/dogs-api/internal/tasks"
)

type mockImages struct {
	t    *testing.T
	Impl struct {
		Create            func(ctx context.Context, image db.NewImage) (*db.Image, error)
		Get               func(ctx context.Context, id int64) (*db.Image, error)
		List              func(ctx context.Context, query db.ListQuery) ([]db.Image, error)
		UpdatePredictions func(ctx context.Context, id int64, predictions model.Predictions) (*db.Image, error)
		Delete            func(ctx context.Context, id int64) (int64, error)
	}
}

func newMockImages(t *testing.T) *mockImages {
	return &mockImages{t: t}
}

func (m *mockImages) Create(ctx context.Context, image db.NewImage) (*db.Image, error) {
	if m.Impl.Create == nil {
		m.t.Fatal("Create should not be called")
	}
	return m.Impl.Create(ctx, image)
}

func (m *mockImages) Get(ctx context.Context, id int64) (*db.Image, error) {
	if m.Impl.Get == nil {
		m.t.Fatal("Get should not be called")
	}
	return m.Impl.Get(ctx, id)
}

func (m *mockImages) List(ctx context.Context, query db.ListQuery) ([]db.Image, error) {
	if m.Impl.List == nil {
		m.t.Fatal("List should not be called")
	}
	return m.Impl.List(ctx, query)
}

func (m *mockImages) UpdatePredictions(ctx context.Context, id int64, predictions model.Predictions) (*db.Image, error) {
	if m.Impl.UpdatePredictions == nil {
		m.t.Fatal("UpdatePredictions should not be called")
	}
	return m.Impl.UpdatePredictions(ctx, id, predictions)
}

func (m *mockImages) Delete(ctx context.Context, id int64) (int64, error) {
	if m.Impl.Delete == nil {
		m.t.Fatal("Delete should not be called")
	}
	return m.Impl.Delete(ctx, id)
}

type mockQueue struct {
	t    *testing.T
	Impl struct {
		EnqueuePredict func(ctx context.Context, imageId int64, device model.Device) (*tasks.TaskInfo, error)
		EnqueueInline  func(ctx context.Context, file []byte, device model.Device) (*tasks.TaskInfo, error)
		TaskInfo       func(ctx context.Context, taskId string) (*tasks.TaskInfo, error)
		Wait           func(ctx context.Context, taskId string) (*tasks.TaskInfo, error)
	}
}

func newMockQueue(t *testing.T) *mockQueue {
	return &mockQueue{t: t}
}

func (m *mockQueue) EnqueuePredict(ctx context.Context, imageId int64, device model.Device) (*tasks.TaskInfo, error) {
	if m.Impl.EnqueuePredict == nil {
		m.t.Fatal("EnqueuePredict should not be called")
	}
	return m.Impl.EnqueuePredict(ctx, imageId, device)
}

func (m *mockQueue) EnqueueInline(ctx context.Context, file []byte, device model.Device) (*tasks.TaskInfo, error) {
	if m.Impl.EnqueueInline == nil {
		m.t.Fatal("EnqueueInline should not be called")
	}
	return m.Impl.EnqueueInline(ctx, file, device)
}

func (m *mockQueue) TaskInfo(ctx context.Context, taskId string) (*tasks.TaskInfo, error) {
	if m.Impl.TaskInfo == nil {
		m.t.Fatal("TaskInfo should not be called")
	}
	return m.Impl.TaskInfo(ctx, taskId)
}

func (m *mockQueue) Wait(ctx context.Context, taskId string) (*tasks.TaskInfo, error) {
	if m.Impl.Wait == nil {
		m.t.Fatal("Wait should not be called")
	}
	return m.Impl.Wait(ctx, taskId)
}

type mockHistory struct {
	history stats.History
	err     error
}

func (m *mockHistory) History(ctx context.Context) (stats.History, error) {
	return m.history, m.err
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 30), G: uint8(y * 30), B: 128, A: 255})
		}
	}
	buf := new(bytes.Buffer)
	if err := png.Encode(buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func multipartBody(t *testing.T, field, filename string, content []byte) (io.Reader, string) {
	t.Helper()
	buf := new(bytes.Buffer)
	w := multipart.NewWriter(buf)
	part, err := w.CreateFormFile(field, filename)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf, w.FormDataContentType()
}

func newContext(e *echo.Echo, method, target string, body io.Reader, contentType string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func assertHTTPError(t *testing.T, err error, code int) {
	t.Helper()
	var herr *echo.HTTPError
	if !errors.As(err, &herr) {
		t.Fatalf("expected *echo.HTTPError, got %#v", err)
	}
	if herr.Code != code {
		t.Errorf("status code %d != %d (%v)", herr.Code, code, herr.Message)
	}
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, code int) {
	t.Helper()
	if rec.Code != code {
		t.Errorf("status code %d != %d: %s", rec.Code, code, rec.Body.String())
	}
}
