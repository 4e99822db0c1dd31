// Package detection runs image detection models and summarizes their output.
package detection

import (
	"context"
	"errors"

	"github.com/udit1567/Home.auto/internal/imaging"
)

// ErrInference wraps every model failure.
var ErrInference = errors.New("inference failed")

// Kind names a configured model.
type Kind string

const (
	// KindObjects detects generic object classes.
	KindObjects Kind = "objects"
	// KindPlantDisease detects plant disease classes.
	KindPlantDisease Kind = "plant_disease"
)

// Detection is one labeled object found in an image.
type Detection struct {
	Class      string
	Confidence float64 // in [0, 1]
}

// Model is a loaded detection model. Implementations are built once at
// startup and must be safe for concurrent Infer calls.
type Model interface {
	Infer(ctx context.Context, img *imaging.Handle) ([]Detection, error)
}

// ModelFunc adapts a function to Model.
type ModelFunc func(ctx context.Context, img *imaging.Handle) ([]Detection, error)

func (f ModelFunc) Infer(ctx context.Context, img *imaging.Handle) ([]Detection, error) {
	return f(ctx, img)
}
