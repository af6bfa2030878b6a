package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Brownie44l1/dogs-api/internal/apierr"
	"github.com/Brownie44l1/dogs-api/internal/db"
	"github.com/Brownie44l1/dogs-api/internal/model"
	"github.com/Brownie44l1/dogs-api/internal/tasks"
)

type TaskReceipt struct {
	TaskId string       `json:"task_id"`
	Status tasks.Status `json:"status"`
}

func parseDevice(c echo.Context) (model.Device, error) {
	device, err := model.ParseDevice(c.QueryParam("device"))
	if err != nil {
		return "", apierr.BadRequest("device must be one of cpu, gpu, mps", err)
	}
	return device, nil
}

func accepted(c echo.Context, info *tasks.TaskInfo) error {
	return c.JSON(http.StatusAccepted, Response{
		Data:    TaskReceipt{TaskId: info.TaskId, Status: info.Status},
		Message: "Task received",
	})
}

// Predict queues classification of a stored image.
func (h *Handler) Predict(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := parseImageId(c.QueryParam("img_id"), "img_id")
	if err != nil {
		return err
	}
	device, err := parseDevice(c)
	if err != nil {
		return err
	}

	if _, err := h.images.Get(ctx, id); errors.Is(err, db.ErrMissing) {
		return apierr.NotFound("image")
	} else if err != nil {
		return apierr.InternalServerError(err)
	}

	info, err := h.queue.EnqueuePredict(ctx, id, device)
	if err != nil {
		return apierr.ServiceUnavailable("the task queue is not reachable; retry later", err)
	}
	c.Logger().Infof("queued prediction of image %d as task %s", id, info.TaskId)
	return accepted(c, info)
}

// PredictFromImage classifies an uploaded image without storing it. It waits
// for the worker up to the configured timeout, and answers like Predict when
// the task is still running by then.
func (h *Handler) PredictFromImage(c echo.Context) error {
	device, err := parseDevice(c)
	if err != nil {
		return err
	}
	_, content, err := h.readFormFile(c, "image")
	if err != nil {
		return err
	}
	if err := validateImage(content); err != nil {
		return err
	}

	info, err := h.queue.EnqueueInline(c.Request().Context(), content, device)
	if err != nil {
		return apierr.ServiceUnavailable("the task queue is not reachable; retry later", err)
	}

	ctx := c.Request().Context()
	if h.waitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.waitTimeout)
		defer cancel()
	}

	done, err := h.queue.Wait(ctx, info.TaskId)
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		// the task keeps running; its id is enough to ask again
		if done == nil {
			done = info
		}
		return accepted(c, done)
	case err != nil:
		return apierr.InternalServerError(err)
	case done.Status == tasks.Failure:
		return apierr.New(
			http.StatusUnprocessableEntity, "prediction failed",
			apierr.WithAdvice(failureReason(done.Result)),
		)
	}
	return c.JSON(http.StatusOK, done)
}

// failureReason unquotes the error text a failed task stores as its result.
func failureReason(result json.RawMessage) string {
	var reason string
	if err := json.Unmarshal(result, &reason); err != nil {
		return string(result)
	}
	return reason
}

func (h *Handler) TaskStatus(c echo.Context) error {
	info, err := h.queue.TaskInfo(c.Request().Context(), c.Param("task_id"))
	if errors.Is(err, tasks.ErrTaskNotFound) {
		return apierr.NotFound("task")
	} else if err != nil {
		return apierr.InternalServerError(err)
	}
	return c.JSON(http.StatusOK, info)
}
