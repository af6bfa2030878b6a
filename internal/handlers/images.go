package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Brownie44l1/dogs-api/internal/apierr"
	"github.com/Brownie44l1/dogs-api/internal/b64img"
	"github.com/Brownie44l1/dogs-api/internal/db"
	"github.com/Brownie44l1/dogs-api/internal/model"
	"github.com/Brownie44l1/dogs-api/internal/render"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100

	// room for multipart boundaries, part headers and small form fields
	multipartSlack = 64 << 10
)

// ImageDetail is an image as the API shows it. The stored file is never
// included; GET /api/images/:id/view renders it.
type ImageDetail struct {
	Id          int64             `json:"id"`
	Filename    *string           `json:"filename"`
	Predictions model.Predictions `json:"predictions"`
	GroundTruth *string           `json:"ground_truth"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

func composeDetail(img db.Image) ImageDetail {
	return ImageDetail{
		Id:          img.Id,
		Filename:    img.Filename,
		Predictions: img.Predictions,
		GroundTruth: img.GroundTruth,
		CreatedAt:   img.CreatedAt,
		UpdatedAt:   img.UpdatedAt,
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// readFormFile returns the name and content of a multipart file, enforcing
// the upload limit.
func (h *Handler) readFormFile(c echo.Context, field string) (string, []byte, error) {
	if h.uploadLimit > 0 {
		req := c.Request()
		req.Body = http.MaxBytesReader(c.Response(), req.Body, h.uploadLimit+multipartSlack)
	}

	fh, err := c.FormFile(field)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", nil, apierr.TooLarge(h.uploadLimitText())
		}
		return "", nil, apierr.BadRequest(
			fmt.Sprintf(`attach the image as multipart form field "%s"`, field), err,
		)
	}
	if h.uploadLimit > 0 && fh.Size > h.uploadLimit {
		return "", nil, apierr.TooLarge(h.uploadLimitText())
	}

	f, err := fh.Open()
	if err != nil {
		return "", nil, apierr.InternalServerError(err)
	}
	defer f.Close()

	var r io.Reader = f
	if h.uploadLimit > 0 {
		r = io.LimitReader(f, h.uploadLimit+1)
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return "", nil, apierr.InternalServerError(err)
	}
	if h.uploadLimit > 0 && int64(len(content)) > h.uploadLimit {
		return "", nil, apierr.TooLarge(h.uploadLimitText())
	}
	return fh.Filename, content, nil
}

func validateImage(content []byte) error {
	if _, err := b64img.DetectFormat(content); err != nil {
		return apierr.BadRequest("upload a jpg or png image", err)
	}
	if _, err := model.DecodeImage(content); err != nil {
		return apierr.BadRequest("the file is not a readable jpg or png image", err)
	}
	return nil
}

func (h *Handler) Upload(c echo.Context) error {
	ctx := c.Request().Context()

	name, content, err := h.readFormFile(c, "file")
	if err != nil {
		return err
	}
	if !b64img.AllowedExtension(name) {
		return apierr.BadRequest("file extension must be one of jpg, jpeg, png", b64img.ErrUnsupportedFormat)
	}
	if err := validateImage(content); err != nil {
		return err
	}

	filename := c.QueryParam("filename")
	if filename == "" {
		filename = name
	}

	created, err := h.images.Create(ctx, db.NewImage{
		Filename:    optional(filename),
		File:        b64img.Encode(content),
		GroundTruth: optional(c.QueryParam("ground_truth")),
	})
	if errors.Is(err, db.ErrConflict) {
		return apierr.Conflict(
			fmt.Sprintf("image %s already exists", filename),
			apierr.WithAdvice("choose another filename"),
			apierr.WithError(err),
		)
	} else if err != nil {
		return apierr.InternalServerError(err)
	}

	h.metrics.Uploaded()
	c.Logger().Infof("stored image %d (%s, %d bytes)", created.Id, filename, len(content))
	return c.JSON(http.StatusCreated, Response{Data: composeDetail(*created), Message: "Image uploaded"})
}

func parseImageId(s string, name string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 1 {
		return 0, apierr.BadRequest(name+" must be a positive integer", err)
	}
	return id, nil
}

func (h *Handler) ListImages(c echo.Context) error {
	query := db.ListQuery{Limit: defaultPageSize}

	if p := c.QueryParam("predicted"); p != "" {
		predicted, err := strconv.ParseBool(p)
		if err != nil {
			return apierr.BadRequest("predicted must be true or false", err)
		}
		query.Predicted = &predicted
	}
	if l := c.QueryParam("limit"); l != "" {
		limit, err := strconv.Atoi(l)
		if err != nil || limit < 1 || maxPageSize < limit {
			return apierr.BadRequest(fmt.Sprintf("limit must be between 1 and %d", maxPageSize), err)
		}
		query.Limit = limit
	}
	if o := c.QueryParam("offset"); o != "" {
		offset, err := strconv.Atoi(o)
		if err != nil || offset < 0 {
			return apierr.BadRequest("offset must not be negative", err)
		}
		query.Offset = offset
	}

	images, err := h.images.List(c.Request().Context(), query)
	if err != nil {
		return apierr.InternalServerError(err)
	}
	details := make([]ImageDetail, 0, len(images))
	for _, img := range images {
		details = append(details, composeDetail(img))
	}
	return c.JSON(http.StatusOK, Response{Data: details})
}

func (h *Handler) getImage(c echo.Context) (*db.Image, error) {
	id, err := parseImageId(c.Param("id"), "image id")
	if err != nil {
		return nil, err
	}
	img, err := h.images.Get(c.Request().Context(), id)
	if errors.Is(err, db.ErrMissing) {
		return nil, apierr.NotFound("image")
	} else if err != nil {
		return nil, apierr.InternalServerError(err)
	}
	return img, nil
}

func (h *Handler) GetImage(c echo.Context) error {
	img, err := h.getImage(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, Response{Data: composeDetail(*img)})
}

func (h *Handler) ViewImage(c echo.Context) error {
	img, err := h.getImage(c)
	if err != nil {
		return err
	}
	if !img.Predicted() || len(img.Predictions) == 0 {
		return apierr.New(
			http.StatusNotFound, "image has no predictions",
			apierr.WithAdvice("request POST /api/predict first"),
		)
	}

	raw, err := b64img.Decode(img.File)
	if err != nil {
		return apierr.InternalServerError(err)
	}
	decoded, err := model.DecodeImage(raw)
	if err != nil {
		return apierr.InternalServerError(err)
	}

	groundTruth := ""
	if img.GroundTruth != nil {
		groundTruth = *img.GroundTruth
	}
	view, err := render.View(decoded, img.Predictions, groundTruth)
	if err != nil {
		return apierr.InternalServerError(err)
	}

	buf := new(bytes.Buffer)
	if err := render.EncodeJPEG(buf, view); err != nil {
		return apierr.InternalServerError(err)
	}
	return c.Blob(http.StatusOK, "image/jpeg", buf.Bytes())
}

func (h *Handler) DeleteImage(c echo.Context) error {
	id, err := parseImageId(c.Param("id"), "image id")
	if err != nil {
		return err
	}
	deleted, err := h.images.Delete(c.Request().Context(), id)
	if errors.Is(err, db.ErrMissing) {
		return apierr.NotFound("image")
	} else if err != nil {
		return apierr.InternalServerError(err)
	}
	return c.JSON(http.StatusOK, Response{Data: map[string]int64{"id": deleted}, Message: "Image removed"})
}

func (h *Handler) Stats(c echo.Context) error {
	history, err := h.history.History(c.Request().Context())
	if err != nil {
		return apierr.ServiceUnavailable("training history is not available", err)
	}
	return c.JSON(http.StatusOK, history)
}
