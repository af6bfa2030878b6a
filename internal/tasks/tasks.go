// Package tasks hands prediction work to background workers over asynq and
// reports task status back to the API.
//
// An "images:predict" task only carries the image id: the worker reads the
// stored image, classifies it, and writes predictions back onto the same row
// in a single statement. An "images:predict_inline" task carries the image
// itself as base64 and touches no database row.
package tasks

import (
	"encoding/json"

	"github.com/hibiken/asynq"

	"github.com/Brownie44l1/dogs-api/internal/model"
)

const (
	TypePredict       = "images:predict"
	TypePredictInline = "images:predict_inline"
)

type PredictPayload struct {
	ImageId int64        `json:"image_id"`
	Device  model.Device `json:"device"`
}

type InlinePayload struct {
	File   string       `json:"file"`
	Device model.Device `json:"device"`
}

type PredictionResult struct {
	ImageId        *int64             `json:"image_id,omitempty"`
	PredictedClass string             `json:"predicted_class"`
	Confidence     map[string]float32 `json:"confidence"`
	Device         model.Device       `json:"device"`
}

// Result is what a finished task stores as its result.
type Result struct {
	Results PredictionResult `json:"results"`
}

func NewResult(imageId *int64, r *model.Result) Result {
	top, _ := r.Predictions.Top()
	return Result{
		Results: PredictionResult{
			ImageId:        imageId,
			PredictedClass: top.Class,
			Confidence:     r.Predictions.Confidences(),
			Device:         r.Device,
		},
	}
}

// Status uses the state names clients of the original service poll for.
type Status string

const (
	Pending Status = "PENDING"
	Started Status = "STARTED"
	Retry   Status = "RETRY"
	Failure Status = "FAILURE"
	Success Status = "SUCCESS"
)

func (s Status) Done() bool {
	return s == Success || s == Failure
}

func statusOf(state asynq.TaskState) Status {
	switch state {
	case asynq.TaskStateActive:
		return Started
	case asynq.TaskStateRetry:
		return Retry
	case asynq.TaskStateArchived:
		return Failure
	case asynq.TaskStateCompleted:
		return Success
	default: // pending, scheduled, aggregating
		return Pending
	}
}

type TaskInfo struct {
	TaskId string `json:"task_id"`
	Status Status `json:"task_status"`

	// Result is the stored Result on success, the last error message
	// (a JSON string) on failure or retry, and null otherwise.
	Result json.RawMessage `json:"task_result"`
}

func newTaskInfo(info *asynq.TaskInfo) *TaskInfo {
	out := &TaskInfo{TaskId: info.ID, Status: statusOf(info.State), Result: json.RawMessage("null")}
	switch out.Status {
	case Success:
		if len(info.Result) > 0 {
			out.Result = json.RawMessage(info.Result)
		}
	case Failure, Retry:
		if info.LastErr != "" {
			msg, _ := json.Marshal(info.LastErr)
			out.Result = msg
		}
	}
	return out
}
