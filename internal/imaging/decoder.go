// Package imaging turns uploaded or base64 images into request-scoped handles.
//
// Every handle owns a scratch directory named by a fresh UUID under the
// decoder's root, so concurrent requests never share a path regardless of the
// client-supplied filename. The directory is removed by Release.
package imaging

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

var (
	// ErrMissingInput is returned when a request carries neither an upload nor a base64 payload.
	ErrMissingInput = errors.New("no image provided")
	// ErrConflictingInput is returned when both an upload and a base64 payload are present.
	ErrConflictingInput = errors.New("provide either an image file or image_base64, not both")
	// ErrDecode wraps every failure to turn the payload into an image.
	ErrDecode = errors.New("invalid image")
)

// Source is the inbound image. Exactly one of Upload and Base64 must be set;
// a non-nil Upload counts as present even when empty.
type Source struct {
	Upload   []byte
	Filename string // client-supplied, informational only
	Base64   string
}

func (s Source) raw() ([]byte, error) {
	hasUpload := s.Upload != nil
	hasB64 := strings.TrimSpace(s.Base64) != ""
	switch {
	case hasUpload && hasB64:
		return nil, ErrConflictingInput
	case hasUpload:
		return s.Upload, nil
	case hasB64:
		return decodeBase64(s.Base64)
	default:
		return nil, ErrMissingInput
	}
}

// decodeBase64 accepts padded or unpadded standard base64, optionally behind a
// data URI prefix such as "data:image/png;base64,".
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		raw, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrDecode, err)
	}
	return raw, nil
}

// DefaultMaxPixels bounds width*height of a decoded image.
const DefaultMaxPixels = 40_000_000

// Decoder decodes images into scratch-backed handles.
type Decoder struct {
	root      string
	maxBytes  int64
	maxPixels int64
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithMaxPixels replaces DefaultMaxPixels. n <= 0 disables the check.
func WithMaxPixels(n int64) Option {
	return func(d *Decoder) { d.maxPixels = n }
}

// NewDecoder creates root if needed. An empty root uses a directory under os.TempDir().
// maxBytes <= 0 disables the size check.
func NewDecoder(root string, maxBytes int64, opts ...Option) (*Decoder, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "homeauto-scratch")
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("imaging: scratch root: %w", err)
	}
	d := &Decoder{root: root, maxBytes: maxBytes, maxPixels: DefaultMaxPixels}
	for _, o := range opts {
		o(d)
	}
	return d, nil
}

// Root returns the scratch root.
func (d *Decoder) Root() string { return d.root }

// Decode validates and decodes src, then writes the original bytes to a fresh
// scratch directory. On error nothing is left on disk.
func (d *Decoder) Decode(ctx context.Context, src Source) (*Handle, error) {
	raw, err := src.raw()
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrDecode)
	}
	if d.maxBytes > 0 && int64(len(raw)) > d.maxBytes {
		return nil, fmt.Errorf("%w: payload is %d bytes, limit is %d", ErrDecode, len(raw), d.maxBytes)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The header is enough to size the pixel buffer; reject before allocating it.
	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: image has no pixels", ErrDecode)
	}
	if d.maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > d.maxPixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrDecode, cfg.Width, cfg.Height, d.maxPixels)
	}

	img, format, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	dir := filepath.Join(d.root, uuid.NewString())
	if err := os.Mkdir(dir, 0o700); err != nil {
		return nil, fmt.Errorf("imaging: scratch dir: %w", err)
	}
	path := filepath.Join(dir, "image."+format)
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("imaging: write scratch image: %w", err)
	}

	return &Handle{img: img, format: format, path: path, dir: dir}, nil
}

// With decodes src, calls fn with the handle and releases the handle however
// fn returns, including by panic.
func (d *Decoder) With(ctx context.Context, src Source, fn func(*Handle) error) error {
	h, err := d.Decode(ctx, src)
	if err != nil {
		return err
	}
	defer h.Release()
	return fn(h)
}

// Handle is a decoded image owned by one request. Models may use the
// in-memory image or the file at Path, which exists until Release.
type Handle struct {
	img    image.Image
	format string
	path   string
	dir    string

	once       sync.Once
	releaseErr error
}

// Image returns the decoded image.
func (h *Handle) Image() image.Image { return h.img }

// Format is the name reported by the image decoder ("jpeg", "png", ...).
func (h *Handle) Format() string { return h.format }

// Path is the scratch copy of the original bytes.
func (h *Handle) Path() string { return h.path }

// Release removes the scratch directory. It is safe to call more than once.
func (h *Handle) Release() error {
	h.once.Do(func() {
		h.releaseErr = os.RemoveAll(h.dir)
	})
	return h.releaseErr
}
