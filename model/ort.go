package model

import (
	"context"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/lumastream/luma/config"
	"github.com/lumastream/luma/errors"
)

var (
	runtimeOnce sync.Once
	runtimeErr  error
)

// InitRuntime initializes the ONNX Runtime environment once per process.
// libraryPath may be empty when libonnxruntime is on the default search path.
func InitRuntime(libraryPath string) error {
	runtimeOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		runtimeErr = ort.InitializeEnvironment()
	})
	return runtimeErr
}

// ShutdownRuntime tears down the ONNX Runtime environment. Call after
// Pool.Clear on process shutdown.
func ShutdownRuntime() {
	if ort.IsInitialized() {
		_ = ort.DestroyEnvironment()
	}
}

// ortModel wraps one ONNX Runtime session.
type ortModel struct {
	session    *ort.DynamicAdvancedSession
	numOutputs int
	mode       Mode
}

// NewORTLoader returns a Loader that opens ONNX sessions per the models
// configuration: per-mode file paths, thread caps, and the optional CUDA
// execution provider.
func NewORTLoader(cfg config.ModelsConfig, log *zap.SugaredLogger) Loader {
	return func(ctx context.Context, mode Mode) (Model, error) {
		if err := InitRuntime(cfg.ONNXLibraryPath); err != nil {
			return nil, errors.Wrap(err, "onnxruntime environment init failed")
		}

		spec := mode.Spec()
		path := filepath.Join(cfg.Dir, spec.File)
		if override, ok := cfg.Paths[mode.String()]; ok && override != "" {
			path = override
		}

		log.Infow("Loading model",
			"mode", mode.String(),
			"model_id", spec.ID,
			"path", path,
			"use_gpu", cfg.UseGPU,
		)

		inputInfo, outputInfo, err := ort.GetInputOutputInfo(path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read model metadata from %s", path)
		}
		inputNames := make([]string, len(inputInfo))
		for i, info := range inputInfo {
			inputNames[i] = info.Name
		}
		outputNames := make([]string, len(outputInfo))
		for i, info := range outputInfo {
			outputNames[i] = info.Name
		}

		opts, err := sessionOptions(cfg)
		if err != nil {
			return nil, err
		}
		defer opts.Destroy()

		session, err := ort.NewDynamicAdvancedSession(path, inputNames, outputNames, opts)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to create session for %s", spec.ID)
		}

		log.Infow("Model loaded",
			"mode", mode.String(),
			"inputs", len(inputNames),
			"outputs", len(outputNames),
		)

		return &ortModel{
			session:    session,
			numOutputs: len(outputNames),
			mode:       mode,
		}, nil
	}
}

// sessionOptions builds per-session ORT options. The returned options must
// be destroyed after session creation.
func sessionOptions(cfg config.ModelsConfig) (*ort.SessionOptions, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "create session options")
	}
	if cfg.IntraOpThreads > 0 {
		if err := opts.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
			opts.Destroy()
			return nil, errors.Wrap(err, "set intra_op_threads")
		}
	}
	if cfg.InterOpThreads > 0 {
		if err := opts.SetInterOpNumThreads(cfg.InterOpThreads); err != nil {
			opts.Destroy()
			return nil, errors.Wrap(err, "set inter_op_threads")
		}
	}
	if cfg.UseGPU {
		cudaOpts, err := ort.NewCUDAProviderOptions()
		if err != nil {
			opts.Destroy()
			return nil, errors.Wrap(err, "create CUDA provider options")
		}
		err = opts.AppendExecutionProviderCUDA(cudaOpts)
		cudaOpts.Destroy()
		if err != nil {
			opts.Destroy()
			return nil, errors.Wrap(err, "append CUDA execution provider")
		}
	}
	return opts, nil
}

// Forward runs one synchronous forward pass. Output tensors are copied out
// of runtime-owned memory before being destroyed.
func (m *ortModel) Forward(ctx context.Context, input []float32, shape []int64) ([]Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(shape...), input)
	if err != nil {
		return nil, errors.Wrap(err, "input tensor creation failed")
	}
	defer inputTensor.Destroy()

	outputs := make([]ort.Value, m.numOutputs)
	if err := m.session.Run([]ort.Value{inputTensor}, outputs); err != nil {
		return nil, errors.Wrapf(err, "forward pass failed for %s", m.mode)
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	results := make([]Output, 0, len(outputs))
	for i, o := range outputs {
		tensor, ok := o.(*ort.Tensor[float32])
		if !ok {
			return nil, errors.Newf("output %d of %s is not a float32 tensor", i, m.mode)
		}
		data := make([]float32, len(tensor.GetData()))
		copy(data, tensor.GetData())
		srcShape := tensor.GetShape()
		outShape := make([]int64, len(srcShape))
		copy(outShape, srcShape)
		results = append(results, Output{Data: data, Shape: outShape})
	}
	return results, nil
}

// Close destroys the underlying session. Safe to call multiple times.
func (m *ortModel) Close() error {
	if m.session != nil {
		m.session.Destroy()
		m.session = nil
	}
	return nil
}
