package onnx

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/rs/zerolog/log"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	DeviceAuto   = "auto"
	DeviceCPU    = "cpu"
	DeviceCUDA   = "cuda"
	DeviceCoreML = "coreml"
)

func getOnnxRuntimeLibPath() string {
	envPath := os.Getenv("ONNXRUNTIME_LIB_PATH")
	if envPath != "" {
		return envPath
	}

	var paths []string
	var fallback string
	switch runtime.GOOS {
	case "windows":
		paths = []string{"onnxruntime.dll", "./onnxruntime.dll", "./lib/onnxruntime.dll"}
		fallback = "onnxruntime.dll"
	case "darwin":
		paths = []string{
			"/usr/local/lib/libonnxruntime.dylib",
			"/opt/homebrew/lib/libonnxruntime.dylib",
			"./libonnxruntime.dylib",
		}
		fallback = "libonnxruntime.dylib"
	default:
		paths = []string{
			"/usr/lib/libonnxruntime.so",
			"/usr/local/lib/libonnxruntime.so",
			"./libonnxruntime.so",
			"./lib/libonnxruntime.so",
		}
		fallback = "libonnxruntime.so"
	}

	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return fallback
}

// devicePreference lists the providers to try for a requested device, fastest
// first. CPU is always last and always succeeds.
func devicePreference(device string) ([]string, error) {
	switch strings.ToLower(device) {
	case "", DeviceAuto:
		if runtime.GOOS == "darwin" {
			return []string{DeviceCoreML, DeviceCPU}, nil
		}
		return []string{DeviceCUDA, DeviceCPU}, nil
	case DeviceCUDA:
		return []string{DeviceCUDA}, nil
	case DeviceCoreML:
		return []string{DeviceCoreML}, nil
	case DeviceCPU:
		return []string{DeviceCPU}, nil
	default:
		return nil, fmt.Errorf("unknown device %q (want auto, cpu, cuda or coreml)", device)
	}
}

// openOnDevice calls open for each device in preference order and returns
// the first device it succeeds on.
func openOnDevice(prefs []string, open func(device string) error) (string, error) {
	var errs []error
	for _, candidate := range prefs {
		err := open(candidate)
		if err == nil {
			return candidate, nil
		}
		log.Debug().Err(err).Str("device", candidate).Msg("Device unavailable, trying next")
		errs = append(errs, fmt.Errorf("%s: %w", candidate, err))
	}
	return "", fmt.Errorf("no device could load the model: %w", errors.Join(errs...))
}

// newSessionOptions returns options bound to device. The caller destroys
// them.
func newSessionOptions(device string) (*ort.SessionOptions, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	if err := appendProvider(opts, device); err != nil {
		opts.Destroy()
		return nil, err
	}
	return opts, nil
}

func appendProvider(opts *ort.SessionOptions, device string) error {
	switch device {
	case DeviceCUDA:
		cudaOpts, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return fmt.Errorf("failed to create CUDA options: %w", err)
		}
		defer cudaOpts.Destroy()
		if err := cudaOpts.Update(map[string]string{"device_id": "0"}); err != nil {
			return fmt.Errorf("failed to configure CUDA: %w", err)
		}
		return opts.AppendExecutionProviderCUDA(cudaOpts)
	case DeviceCoreML:
		return opts.AppendExecutionProviderCoreML(0)
	case DeviceCPU:
		return nil
	default:
		return fmt.Errorf("unknown device %q", device)
	}
}
