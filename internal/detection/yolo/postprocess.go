package yolo

import (
	"image"
	"sort"

	"github.com/nfnt/resize"
)

// box is one candidate in model input pixel space.
type box struct {
	x1, y1, x2, y2 float32
	class          int
	score          float32
}

// preprocess resizes img to size x size and lays it out as planar RGB
// float32 in [0, 1], shape [1, 3, size, size].
func preprocess(img image.Image, size int) []float32 {
	resized := resize.Resize(uint(size), uint(size), img, resize.Bilinear)
	input := make([]float32, 3*size*size)
	stride := size * size
	b := resized.Bounds()
	idx := 0
	for y := b.Min.Y; y < b.Min.Y+size; y++ {
		for x := b.Min.X; x < b.Min.X+size; x++ {
			r, g, bl, _ := resized.At(x, y).RGBA()
			input[idx] = float32(r>>8) / 255.0
			input[idx+stride] = float32(g>>8) / 255.0
			input[idx+2*stride] = float32(bl>>8) / 255.0
			idx++
		}
	}
	return input
}

// decodeOutput reads a [1, 4+numClasses, numBoxes] tensor laid out
// attribute-major (cx, cy, w, h, class scores...) and keeps boxes whose best
// class score reaches conf.
func decodeOutput(out []float32, numClasses, numBoxes int, conf float32) []box {
	if numClasses <= 0 || numBoxes <= 0 || len(out) < (4+numClasses)*numBoxes {
		return nil
	}
	var boxes []box
	for i := 0; i < numBoxes; i++ {
		best, score := 0, float32(0)
		for c := 0; c < numClasses; c++ {
			if v := out[(4+c)*numBoxes+i]; v > score {
				best, score = c, v
			}
		}
		if score < conf {
			continue
		}
		cx, cy := out[i], out[numBoxes+i]
		w, h := out[2*numBoxes+i], out[3*numBoxes+i]
		boxes = append(boxes, box{
			x1: cx - w/2, y1: cy - h/2,
			x2: cx + w/2, y2: cy + h/2,
			class: best, score: score,
		})
	}
	return boxes
}

// nms does per-class greedy non-maximum suppression and returns the kept
// boxes ordered by descending score.
func nms(boxes []box, iouThreshold float32) []box {
	sort.SliceStable(boxes, func(i, j int) bool { return boxes[i].score > boxes[j].score })
	suppressed := make([]bool, len(boxes))
	var kept []box
	for i := range boxes {
		if suppressed[i] {
			continue
		}
		kept = append(kept, boxes[i])
		for j := i + 1; j < len(boxes); j++ {
			if suppressed[j] || boxes[j].class != boxes[i].class {
				continue
			}
			if iou(boxes[i], boxes[j]) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}

func iou(a, b box) float32 {
	ix1, iy1 := max(a.x1, b.x1), max(a.y1, b.y1)
	ix2, iy2 := min(a.x2, b.x2), min(a.y2, b.y2)
	inter := max(0, ix2-ix1) * max(0, iy2-iy1)
	union := (a.x2-a.x1)*(a.y2-a.y1) + (b.x2-b.x1)*(b.y2-b.y1) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}
