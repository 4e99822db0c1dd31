package yolo

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"
)

// ortEnv manages global ONNX Runtime initialization (process-wide singleton).
var ortEnv struct {
	once sync.Once
	err  error
}

// InitRuntime initializes the ONNX Runtime environment. Safe to call multiple
// times; only the first call has any effect.
func InitRuntime(libPath string) error {
	ortEnv.once.Do(func() {
		ort.SetSharedLibraryPath(libPath)
		ortEnv.err = ort.InitializeEnvironment()
	})
	return ortEnv.err
}

// newSession creates a session for modelPath, trying CUDA first when asked
// and falling back to the CPU provider.
func newSession(modelPath string, inputs, outputs []string, useCUDA bool) (*ort.DynamicAdvancedSession, string, error) {
	if useCUDA {
		session, err := newSessionWith(modelPath, inputs, outputs, true)
		if err == nil {
			return session, "cuda", nil
		}
		log.WithError(err).WithField("model", modelPath).Warn("yolo: CUDA provider unavailable, using CPU")
	}
	session, err := newSessionWith(modelPath, inputs, outputs, false)
	if err != nil {
		return nil, "", err
	}
	return session, "cpu", nil
}

func newSessionWith(modelPath string, inputs, outputs []string, cuda bool) (*ort.DynamicAdvancedSession, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("yolo: session options: %w", err)
	}
	defer opts.Destroy()

	if cuda {
		cudaOpts, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return nil, fmt.Errorf("yolo: cuda options: %w", err)
		}
		defer cudaOpts.Destroy()
		if err := cudaOpts.Update(map[string]string{"device_id": "0"}); err != nil {
			return nil, fmt.Errorf("yolo: cuda options: %w", err)
		}
		if err := opts.AppendExecutionProviderCUDA(cudaOpts); err != nil {
			return nil, fmt.Errorf("yolo: append cuda provider: %w", err)
		}
	} else {
		if err := opts.SetIntraOpNumThreads(2); err != nil {
			return nil, fmt.Errorf("yolo: intra-op threads: %w", err)
		}
		if err := opts.SetInterOpNumThreads(1); err != nil {
			return nil, fmt.Errorf("yolo: inter-op threads: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, inputs, outputs, opts)
	if err != nil {
		return nil, fmt.Errorf("yolo: create session: %w", err)
	}
	return session, nil
}
