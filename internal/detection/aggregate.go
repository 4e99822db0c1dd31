package detection

import (
	"encoding/json"
	"math"
)

// Unrounded disables confidence rounding in Options.
const Unrounded = -1

// Options controls the response payload built by Aggregate.
type Options struct {
	// IncludeDetections adds the per-detection list to the result.
	IncludeDetections bool
	// ConfidenceDecimals rounds reported confidences; Unrounded keeps them as-is.
	ConfidenceDecimals int
}

// Profile binds a model to the payload options of one endpoint.
type Profile struct {
	Kind    Kind
	Options Options
}

// Endpoint profiles. Plant disease confidences are rounded to 4 decimals and
// object confidences are not; both kinds of output are kept as clients see them.
var (
	ObjectsUpload      = Profile{Kind: KindObjects, Options: Options{IncludeDetections: false, ConfidenceDecimals: Unrounded}}
	ObjectsBase64      = Profile{Kind: KindObjects, Options: Options{IncludeDetections: true, ConfidenceDecimals: Unrounded}}
	PlantDiseaseUpload = Profile{Kind: KindPlantDisease, Options: Options{IncludeDetections: true, ConfidenceDecimals: 4}}
	PlantDiseaseBase64 = Profile{Kind: KindPlantDisease, Options: Options{IncludeDetections: true, ConfidenceDecimals: 4}}
)

// Labeled is one entry of Result.Detections.
type Labeled struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
}

// Result is the summarized output of one model invocation.
type Result struct {
	Counts map[string]int
	Total  int
	// Detections is in model emission order. Nil unless requested.
	Detections []Labeled
}

// Aggregate counts detections per class in a single pass.
func Aggregate(dets []Detection, opts Options) Result {
	res := Result{
		Counts: make(map[string]int),
		Total:  len(dets),
	}
	if opts.IncludeDetections {
		res.Detections = make([]Labeled, 0, len(dets))
	}
	for _, d := range dets {
		res.Counts[d.Class]++
		if opts.IncludeDetections {
			res.Detections = append(res.Detections, Labeled{
				Class:      d.Class,
				Confidence: round(d.Confidence, opts.ConfidenceDecimals),
			})
		}
	}
	return res
}

func round(v float64, decimals int) float64 {
	if decimals < 0 {
		return v
	}
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}

// MarshalJSON emits "detections" only when the list was requested, and then
// always as an array.
func (r Result) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"counts": r.Counts,
		"total":  r.Total,
	}
	if r.Detections != nil {
		out["detections"] = r.Detections
	}
	return json.Marshal(out)
}
