package model

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// Server runs an exported ONNX classifier. The model file is loaded once;
// a session per device is created on first use and reused afterwards.
type Server struct {
	Metadata Metadata

	modelPath     string
	defaultDevice Device

	mu       sync.Mutex
	sessions map[Device]*session
}

type session struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	device       Device
}

var _ Classifier = &Server{}

type options struct {
	labelsPath    string
	libraryPath   string
	defaultDevice Device
}

type Option func(*options)

// WithLabels takes class names from a labels file instead of the metadata.
func WithLabels(path string) Option {
	return func(o *options) { o.labelsPath = path }
}

// WithSharedLibrary points onnxruntime_go at a specific onnxruntime library.
func WithSharedLibrary(path string) Option {
	return func(o *options) { o.libraryPath = path }
}

func WithDefaultDevice(d Device) Option {
	return func(o *options) { o.defaultDevice = d }
}

func LoadMetadata(metadataPath string) (Metadata, error) {
	metaFile, err := os.ReadFile(metadataPath)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read metadata: %w", err)
	}

	var metadata Metadata
	if err := json.Unmarshal(metaFile, &metadata); err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata: %w", err)
	}
	return metadata, nil
}

func NewServer(modelPath, metadataPath string, opts ...Option) (*Server, error) {
	o := options{defaultDevice: CPU}
	for _, opt := range opts {
		opt(&o)
	}

	metadata, err := LoadMetadata(metadataPath)
	if err != nil {
		return nil, err
	}
	if o.labelsPath != "" {
		labels, err := LoadLabels(o.labelsPath)
		if err != nil {
			return nil, err
		}
		metadata.Classes = labels
	}
	metadata.applyDefaults()
	if err := metadata.validate(); err != nil {
		return nil, err
	}

	if o.libraryPath != "" {
		ort.SetSharedLibraryPath(o.libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}

	s := &Server{
		Metadata:      metadata,
		modelPath:     modelPath,
		defaultDevice: o.defaultDevice,
		sessions:      map[Device]*session{},
	}

	// fail fast on a broken model file rather than on the first task
	if _, err := s.sessionFor(s.defaultDevice); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// sessionFor must be called with s.mu held or before s is shared.
func (s *Server) sessionFor(device Device) (*session, error) {
	if sess, ok := s.sessions[device]; ok {
		return sess, nil
	}

	sess, err := s.newSession(device)
	if err != nil && device != CPU {
		// the execution provider is not available in this build/host
		sess, err = s.sessionFor(CPU)
	}
	if err != nil {
		return nil, err
	}
	s.sessions[device] = sess
	return sess, nil
}

func (s *Server) newSession(device Device) (*session, error) {
	sessionOptions, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer sessionOptions.Destroy()

	switch device {
	case GPU:
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return nil, fmt.Errorf("failed to create CUDA options: %w", err)
		}
		defer cudaOptions.Destroy()
		if err := sessionOptions.AppendExecutionProviderCUDA(cudaOptions); err != nil {
			return nil, fmt.Errorf("CUDA provider unavailable: %w", err)
		}
	case MPS:
		if err := sessionOptions.AppendExecutionProviderCoreML(0); err != nil {
			return nil, fmt.Errorf("CoreML provider unavailable: %w", err)
		}
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(s.Metadata.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(s.Metadata.OutputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	sess, err := ort.NewAdvancedSession(s.modelPath,
		[]string{s.Metadata.InputName}, []string{s.Metadata.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		sessionOptions)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &session{
		session:      sess,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		device:       device,
	}, nil
}

func (s *Server) Classes() []string {
	return s.Metadata.Classes
}

// Predict runs the model on an already preprocessed input.
func (s *Server) Predict(inputData []float32, device Device) (*Result, error) {
	if want := s.Metadata.InputSize(); len(inputData) != want {
		return nil, fmt.Errorf("expected %d values, got %d", want, len(inputData))
	}
	if device == "" {
		device = s.defaultDevice
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, err := s.sessionFor(device)
	if err != nil {
		return nil, err
	}

	copy(sess.inputTensor.GetData(), inputData)

	if err := sess.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	outputData := sess.outputTensor.GetData()
	probs := make([]float32, len(outputData))
	copy(probs, outputData)
	if s.Metadata.applySoftmax() {
		probs = Softmax(probs)
	}

	return &Result{
		Predictions: Rank(s.Metadata.Classes, probs),
		Device:      sess.device,
	}, nil
}

func (s *Server) Classify(ctx context.Context, file []byte, device Device) (*Result, error) {
	img, err := DecodeImage(file)
	if err != nil {
		return nil, err
	}
	inputData := Preprocess(img, s.Metadata.ImageSize, s.Metadata.Mean, s.Metadata.Std)

	// onnxruntime cannot be interrupted; honour cancellation before starting
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.Predict(inputData, device)
}

func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	closed := map[*session]bool{}
	for _, sess := range s.sessions {
		if closed[sess] {
			continue
		}
		closed[sess] = true
		if sess.inputTensor != nil {
			sess.inputTensor.Destroy()
		}
		if sess.outputTensor != nil {
			sess.outputTensor.Destroy()
		}
		if sess.session != nil {
			sess.session.Destroy()
		}
	}
	s.sessions = map[Device]*session{}
	ort.DestroyEnvironment()
}
