package detection

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/udit1567/Home.auto/internal/imaging"
)

func pngOfWidth(t *testing.T, w int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewGray(image.Rect(0, 0, w, 2))); err != nil {
		t.Fatalf("png.Encode failed: %v", err)
	}
	return buf.Bytes()
}

func newTestService(t *testing.T, models map[Kind]Model, maxConcurrent int) (*Service, *imaging.Decoder) {
	t.Helper()
	dec, err := imaging.NewDecoder(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewDecoder failed: %v", err)
	}
	return NewService(dec, models, maxConcurrent), dec
}

// widthModel labels every image with its width, so results can be traced
// back to their request.
var widthModel = ModelFunc(func(_ context.Context, h *imaging.Handle) ([]Detection, error) {
	w := h.Image().Bounds().Dx()
	return []Detection{
		{Class: fmt.Sprintf("w%d", w), Confidence: 0.5},
		{Class: fmt.Sprintf("w%d", w), Confidence: 0.25},
	}, nil
})

func TestService_Detect(t *testing.T) {
	svc, _ := newTestService(t, map[Kind]Model{KindObjects: widthModel}, 2)

	res, err := svc.Detect(context.Background(), ObjectsBase64, imaging.Source{Upload: pngOfWidth(t, 7)})
	if err != nil {
		t.Fatalf("Detect failed: %v", err)
	}
	if res.Total != 2 || res.Counts["w7"] != 2 {
		t.Errorf("Unexpected result %+v", res)
	}
	if len(res.Detections) != 2 {
		t.Errorf("Expected listed detections, got %v", res.Detections)
	}
}

func TestService_Loaded(t *testing.T) {
	svc, _ := newTestService(t, map[Kind]Model{KindObjects: widthModel}, 1)
	loaded := svc.Loaded()
	if !loaded[KindObjects] || loaded[KindPlantDisease] {
		t.Errorf("Unexpected loaded map %v", loaded)
	}
}

func TestService_MissingModel(t *testing.T) {
	svc, _ := newTestService(t, map[Kind]Model{}, 1)

	_, err := svc.Detect(context.Background(), PlantDiseaseUpload, imaging.Source{Upload: pngOfWidth(t, 3)})
	if !errors.Is(err, ErrInference) {
		t.Errorf("Expected ErrInference, got %v", err)
	}

	// Input errors win over a missing model.
	_, err = svc.Detect(context.Background(), PlantDiseaseUpload, imaging.Source{})
	if !errors.Is(err, imaging.ErrMissingInput) {
		t.Errorf("Expected ErrMissingInput, got %v", err)
	}
}

func TestService_ModelFailures(t *testing.T) {
	failing := ModelFunc(func(context.Context, *imaging.Handle) ([]Detection, error) {
		return nil, errors.New("cuda out of memory")
	})
	panicking := ModelFunc(func(context.Context, *imaging.Handle) ([]Detection, error) {
		panic("index out of range")
	})
	svc, dec := newTestService(t, map[Kind]Model{KindObjects: failing, KindPlantDisease: panicking}, 1)

	for _, p := range []Profile{ObjectsUpload, PlantDiseaseBase64} {
		_, err := svc.Detect(context.Background(), p, imaging.Source{Upload: pngOfWidth(t, 2)})
		if !errors.Is(err, ErrInference) {
			t.Errorf("%s: expected ErrInference, got %v", p.Kind, err)
		}
	}

	entries, _ := os.ReadDir(dec.Root())
	if len(entries) != 0 {
		t.Errorf("Scratch not cleaned after failures: %d entries", len(entries))
	}
}

func TestService_ContextCanceledWhileWaiting(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	blocking := ModelFunc(func(context.Context, *imaging.Handle) ([]Detection, error) {
		started <- struct{}{}
		<-release
		return nil, nil
	})
	svc, _ := newTestService(t, map[Kind]Model{KindObjects: blocking}, 1)

	img := pngOfWidth(t, 2)
	done := make(chan error, 1)
	go func() {
		_, err := svc.Detect(context.Background(), ObjectsUpload, imaging.Source{Upload: img})
		done <- err
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := svc.Detect(ctx, ObjectsUpload, imaging.Source{Upload: img})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected DeadlineExceeded while waiting for a slot, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Errorf("First request failed: %v", err)
	}
}

func TestService_CanceledDuringInferenceReleasesScratch(t *testing.T) {
	started := make(chan struct{})
	waitForCancel := ModelFunc(func(ctx context.Context, h *imaging.Handle) ([]Detection, error) {
		if _, err := os.Stat(h.Path()); err != nil {
			t.Errorf("Scratch file missing during inference: %v", err)
		}
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	svc, dec := newTestService(t, map[Kind]Model{KindObjects: waitForCancel}, 1)

	img := pngOfWidth(t, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := svc.Detect(ctx, ObjectsUpload, imaging.Source{Upload: img})
		done <- err
	}()

	<-started
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	entries, _ := os.ReadDir(dec.Root())
	if len(entries) != 0 {
		t.Errorf("Scratch not released after cancellation: %d entries", len(entries))
	}
}

func TestService_ConcurrentRequestsDoNotMix(t *testing.T) {
	svc, dec := newTestService(t, map[Kind]Model{KindObjects: widthModel}, 3)
	const n = 24

	payloads := make(map[int][]byte, n)
	for w := 1; w <= n; w++ {
		payloads[w] = pngOfWidth(t, w)
	}

	var wg sync.WaitGroup
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(w int, img []byte) {
			defer wg.Done()
			res, err := svc.Detect(context.Background(), ObjectsUpload, imaging.Source{Upload: img})
			if err != nil {
				t.Errorf("w=%d: Detect failed: %v", w, err)
				return
			}
			want := fmt.Sprintf("w%d", w)
			if res.Counts[want] != 2 || len(res.Counts) != 1 {
				t.Errorf("w=%d: got counts %v", w, res.Counts)
			}
		}(i, payloads[i])
	}
	wg.Wait()

	entries, _ := os.ReadDir(dec.Root())
	if len(entries) != 0 {
		t.Errorf("Scratch not cleaned: %d entries", len(entries))
	}
}
