package detection

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"

	"github.com/MeKo-Tech/invoxtract/internal/invoice"
	"github.com/MeKo-Tech/invoxtract/internal/onnx"
	"github.com/MeKo-Tech/invoxtract/internal/utils"
)

// ONNXConfig configures the YOLO region detector.
type ONNXConfig struct {
	ModelPath     string
	InputSize     int      // square letterbox side, default 640
	Classes       []string // output channel order, default the vocabulary
	ConfThreshold float64  // default DefaultFloor
	IoUThreshold  float64  // per-class NMS, default 0.45
	Session       onnx.SessionConfig
}

func (c *ONNXConfig) applyDefaults() {
	if c.InputSize <= 0 {
		c.InputSize = 640
	}
	if len(c.Classes) == 0 {
		c.Classes = append([]string(nil), invoice.Vocabulary...)
	}
	if c.ConfThreshold <= 0 {
		c.ConfThreshold = DefaultFloor
	}
	if c.IoUThreshold <= 0 {
		c.IoUThreshold = 0.45
	}
}

// ONNXDetector runs a YOLO-style detector exported to ONNX, producing
// boxes in the coordinates of the image it is given.
type ONNXDetector struct {
	cfg     ONNXConfig
	session *onnx.Session
}

// NewONNXDetector loads the model.
func NewONNXDetector(cfg ONNXConfig) (*ONNXDetector, error) {
	cfg.applyDefaults()
	s, err := onnx.Open(cfg.ModelPath, cfg.Session)
	if err != nil {
		return nil, invoice.NewDetectorFailedError(err)
	}
	return &ONNXDetector{cfg: cfg, session: s}, nil
}

// Detect letterboxes img, runs the model and decodes its proposals.
func (d *ONNXDetector) Detect(ctx context.Context, img image.Image) ([]RawDetection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	lb := letterbox(img, d.cfg.InputSize)
	tensor, err := onnx.NewImageTensor(lb.data, 3, d.cfg.InputSize, d.cfg.InputSize)
	if err != nil {
		return nil, invoice.NewDetectorFailedError(err)
	}
	out, err := d.session.Run(tensor)
	if err != nil {
		return nil, invoice.NewDetectorFailedError(err)
	}
	dets, err := decodeYOLO(out, d.cfg.Classes, d.cfg.ConfThreshold, lb)
	if err != nil {
		return nil, invoice.NewDetectorFailedError(err)
	}
	return NonMaxSuppression(dets, d.cfg.IoUThreshold), nil
}

// Close releases the model session.
func (d *ONNXDetector) Close() error { return d.session.Close() }

type letterboxed struct {
	data       []float32
	scale      float64
	padX, padY float64
	bounds     image.Rectangle
}

// letterbox fits img into a size x size canvas padded with gray, keeping
// aspect ratio, and returns NCHW RGB data in [0,1].
func letterbox(img image.Image, size int) letterboxed {
	b := img.Bounds()
	scale := math.Min(float64(size)/float64(b.Dx()), float64(size)/float64(b.Dy()))
	nw := max(1, int(math.Round(float64(b.Dx())*scale)))
	nh := max(1, int(math.Round(float64(b.Dy())*scale)))
	resized := imaging.Resize(img, nw, nh, imaging.Linear)

	canvas := imaging.New(size, size, color.NRGBA{R: 114, G: 114, B: 114, A: 255})
	padX, padY := (size-nw)/2, (size-nh)/2
	canvas = imaging.Paste(canvas, resized, image.Pt(padX, padY))

	// The canvas is never empty, so normalization cannot fail.
	data, _, _, _ := utils.NormalizeImage(canvas)
	return letterboxed{data: data, scale: scale, padX: float64(padX), padY: float64(padY), bounds: b}
}

// decodeYOLO reads a [1, 4+nc, N] (or transposed [1, N, 4+nc]) output of
// centre-size boxes followed by per-class scores.
func decodeYOLO(out onnx.Output, classes []string, threshold float64, lb letterboxed) ([]RawDetection, error) {
	if len(out.Shape) != 3 {
		return nil, fmt.Errorf("expected 3D output, got %v", out.Shape)
	}
	nc := len(classes)
	channels, anchors := int(out.Shape[1]), int(out.Shape[2])
	transposed := false
	if channels != 4+nc {
		if anchors != 4+nc {
			return nil, fmt.Errorf("output shape %v does not match %d classes", out.Shape, nc)
		}
		channels, anchors = anchors, channels
		transposed = true
	}
	at := func(c, i int) float64 {
		if transposed {
			return float64(out.Data[i*channels+c])
		}
		return float64(out.Data[c*anchors+i])
	}

	var dets []RawDetection
	for i := range anchors {
		best, score := -1, 0.0
		for c := range nc {
			if s := at(4+c, i); s > score {
				best, score = c, s
			}
		}
		if best < 0 || score < threshold {
			continue
		}
		cx, cy, w, h := at(0, i), at(1, i), at(2, i), at(3, i)
		x1 := (cx - w/2 - lb.padX) / lb.scale
		y1 := (cy - h/2 - lb.padY) / lb.scale
		x2 := (cx + w/2 - lb.padX) / lb.scale
		y2 := (cy + h/2 - lb.padY) / lb.scale
		box := invoice.NewBBox(x1+float64(lb.bounds.Min.X), y1+float64(lb.bounds.Min.Y),
			x2+float64(lb.bounds.Min.X), y2+float64(lb.bounds.Min.Y), lb.bounds)
		if !box.Valid() {
			continue
		}
		dets = append(dets, RawDetection{
			Label:      classes[best],
			Confidence: score,
			Box:        [4]float64{box.XMin, box.YMin, box.XMax, box.YMax},
		})
	}
	return dets, nil
}
