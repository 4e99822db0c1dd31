package remote

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/udit1567/Home.auto/internal/detection"
	"github.com/udit1567/Home.auto/internal/imaging"
)

func handle(t *testing.T) *imaging.Handle {
	t.Helper()
	var buf bytes.Buffer
	png.Encode(&buf, image.NewGray(image.Rect(0, 0, 3, 3)))
	dec, err := imaging.NewDecoder(t.TempDir(), 0)
	if err != nil {
		t.Fatalf("NewDecoder failed: %v", err)
	}
	h, err := dec.Decode(context.Background(), imaging.Source{Upload: buf.Bytes()})
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	t.Cleanup(func() { h.Release() })
	return h
}

func TestInfer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		if _, _, err := image.Decode(bytes.NewReader(data)); err != nil || hdr.Filename != "image.png" {
			http.Error(w, "bad upload", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"detections":[{"class":"Apple___Black_rot","confidence":0.83},{"class":"Apple___healthy","confidence":0.1}]}`)
	}))
	defer srv.Close()

	dets, err := New(srv.URL, srv.Client()).Infer(context.Background(), handle(t))
	if err != nil {
		t.Fatalf("Infer failed: %v", err)
	}
	if len(dets) != 2 || dets[0].Class != "Apple___Black_rot" || dets[0].Confidence != 0.83 {
		t.Errorf("Unexpected detections %+v", dets)
	}
}

func TestInfer_Failures(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"status": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model crashed", http.StatusInternalServerError)
		},
		"body": func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "<html>")
		},
		"confidence": func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, `{"detections":[{"class":"x","confidence":1.7}]}`)
		},
	}
	for name, fn := range cases {
		srv := httptest.NewServer(fn)
		_, err := New(srv.URL, srv.Client()).Infer(context.Background(), handle(t))
		if !errors.Is(err, detection.ErrInference) {
			t.Errorf("%s: expected ErrInference, got %v", name, err)
		}
		srv.Close()
	}
}

func TestPing(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	for _, u := range []string{srv.URL, srv.URL + "/predict", srv.URL + "/v1/detect?model=leaf"} {
		if err := New(u, nil).Ping(context.Background()); err != nil {
			t.Errorf("Ping(%s) failed: %v", u, err)
		}
	}

	healthy.Store(false)
	if err := New(srv.URL+"/predict", nil).Ping(context.Background()); err == nil {
		t.Error("Expected Ping to fail on a 503")
	}
}
