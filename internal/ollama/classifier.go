// Package ollama classifies dog images with a vision model served by Ollama.
// It is an alternative to the ONNX backend when no exported model is around.
package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/Brownie44l1/dogs-api/internal/model"
)

type chatter interface {
	Chat(ctx context.Context, req *api.ChatRequest, fn api.ChatResponseFunc) error
}

type Classifier struct {
	client  chatter
	model   string
	classes []string
	timeout time.Duration
}

var _ model.Classifier = &Classifier{}

func New(ollamaURL, modelName string, classes []string, timeout time.Duration) (*Classifier, error) {
	parsedURL, err := url.Parse(ollamaURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if len(classes) == 0 {
		return nil, fmt.Errorf("no classes to choose from")
	}

	// only scheme and host: the client adds /api/chat itself
	baseURL := &url.URL{Scheme: parsedURL.Scheme, Host: parsedURL.Host}

	return &Classifier{
		client:  api.NewClient(baseURL, http.DefaultClient),
		model:   modelName,
		classes: classes,
		timeout: timeout,
	}, nil
}

type answer struct {
	Class      string  `json:"class"`
	Confidence float32 `json:"confidence"`
}

func (c *Classifier) prompt() string {
	return "Identify the dog breed in this image. Answer with JSON only, in the form " +
		`{"class": "<breed>", "confidence": <number between 0 and 1>}` +
		". The breed must be exactly one of: " + strings.Join(c.classes, ", ") + "."
}

func (c *Classifier) Classify(ctx context.Context, file []byte, _ model.Device) (*model.Result, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	stream := false
	req := &api.ChatRequest{
		Model: c.model,
		Messages: []api.Message{
			{
				Role:    "user",
				Content: c.prompt(),
				Images:  []api.ImageData{api.ImageData(file)},
			},
		},
		Stream: &stream,
		Format: json.RawMessage(`"json"`),
	}

	var content string
	if err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		content += resp.Message.Content
		return nil
	}); err != nil {
		return nil, fmt.Errorf("ollama chat error: %w", err)
	}

	var a answer
	if err := json.Unmarshal([]byte(content), &a); err != nil {
		return nil, fmt.Errorf("unexpected answer from model: %q: %w", content, err)
	}

	return &model.Result{
		Predictions: c.distribute(a),
		Device:      model.CPU,
	}, nil
}

// distribute gives the answered class its confidence and spreads the rest
// evenly over the other classes. An answer outside the label set is uniform.
func (c *Classifier) distribute(a answer) model.Predictions {
	conf := a.Confidence
	if conf < 0 {
		conf = 0
	} else if conf > 1 {
		conf = 1
	}

	hit := -1
	for i, cls := range c.classes {
		if strings.EqualFold(strings.ReplaceAll(cls, "_", " "), strings.ReplaceAll(strings.TrimSpace(a.Class), "_", " ")) {
			hit = i
			break
		}
	}

	probs := make([]float32, len(c.classes))
	if hit < 0 {
		for i := range probs {
			probs[i] = 1 / float32(len(probs))
		}
		return model.Rank(c.classes, probs)
	}

	if len(probs) == 1 {
		probs[hit] = 1
		return model.Rank(c.classes, probs)
	}
	rest := (1 - conf) / float32(len(probs)-1)
	for i := range probs {
		probs[i] = rest
	}
	probs[hit] = conf
	return model.Rank(c.classes, probs)
}

func (c *Classifier) Classes() []string {
	return c.classes
}

func (c *Classifier) Close() {}
