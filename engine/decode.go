package engine

import (
	"math"

	"github.com/lumastream/luma/codec"
	"github.com/lumastream/luma/errors"
	"github.com/lumastream/luma/model"
)

// decode turns the model's raw outputs into a class map at the mode's input
// resolution, per the mode's decoding contract.
func decode(spec model.Spec, outputs []model.Output) (*codec.ClassMap, error) {
	switch spec.Decode {
	case model.DecodeArgmax:
		if len(outputs) < 1 {
			return nil, errors.New("argmax decode requires one output")
		}
		return decodeArgmax(outputs[0])

	case model.DecodeStridedArgmax:
		if len(outputs) < 1 {
			return nil, errors.New("strided decode requires one output")
		}
		return decodeStridedArgmax(outputs[0], spec.InputH, spec.InputW)

	case model.DecodeQuery:
		mask, class, err := splitQueryOutputs(outputs)
		if err != nil {
			return nil, err
		}
		return decodeQuery(mask, class, spec.InputH, spec.InputW)

	default:
		return nil, errors.Newf("unknown decode kind %d", spec.Decode)
	}
}

// decodeArgmax handles logits of shape (1, C, H, W): per-pixel argmax over
// the class axis.
func decodeArgmax(out model.Output) (*codec.ClassMap, error) {
	c, h, w, err := logitsDims(out)
	if err != nil {
		return nil, err
	}
	return argmaxPlanes(out.Data, c, h, w), nil
}

// decodeStridedArgmax handles logits emitted at the model's internal stride:
// bilinear-resize the logits to input resolution first, then argmax.
// Resizing after argmax would interpolate class indices, which is nonsense.
func decodeStridedArgmax(out model.Output, inputH, inputW int) (*codec.ClassMap, error) {
	c, h, w, err := logitsDims(out)
	if err != nil {
		return nil, err
	}
	data := out.Data
	if h != inputH || w != inputW {
		data = resizePlanesBilinear(data, c, h, w, inputH, inputW)
		h, w = inputH, inputW
	}
	return argmaxPlanes(data, c, h, w), nil
}

// splitQueryOutputs identifies the mask-logits (rank 4) and class-logits
// (rank 3) tensors regardless of emission order.
func splitQueryOutputs(outputs []model.Output) (mask, class model.Output, err error) {
	if len(outputs) < 2 {
		return mask, class, errors.Newf("query decode requires two outputs, got %d", len(outputs))
	}
	var haveMask, haveClass bool
	for _, o := range outputs {
		switch len(o.Shape) {
		case 4:
			mask, haveMask = o, true
		case 3:
			class, haveClass = o, true
		}
	}
	if !haveMask || !haveClass {
		return mask, class, errors.New("query decode needs one rank-4 mask tensor and one rank-3 class tensor")
	}
	return mask, class, nil
}

// decodeQuery combines a query head's (1, Q, h, w) mask logits and
// (1, Q, C+1) class logits into a per-pixel class map:
//
//	class_probs = softmax(class_logits)[..., :C]   // no-object sliced away
//	mask_probs  = sigmoid(mask_logits)             // upsampled to input size
//	scores[c,p] = Σ_q class_probs[q,c] · mask_probs[q,p]
//	map[p]      = argmax_c scores[c,p]
//
// The no-object column is dropped before the multiply, never argmaxed over,
// so a result exists even when every query's no-object score dominates.
func decodeQuery(mask, class model.Output, inputH, inputW int) (*codec.ClassMap, error) {
	if mask.Shape[0] != 1 || class.Shape[0] != 1 {
		return nil, errors.Newf("query decode expects batch 1, got mask %v class %v", mask.Shape, class.Shape)
	}
	q := int(mask.Shape[1])
	h := int(mask.Shape[2])
	w := int(mask.Shape[3])
	if int(class.Shape[1]) != q {
		return nil, errors.Newf("query count mismatch: masks %d, classes %d", q, class.Shape[1])
	}
	cPlusOne := int(class.Shape[2])
	if cPlusOne < 2 {
		return nil, errors.Newf("class logits need at least one real class plus no-object, got %d", cPlusOne)
	}
	c := cPlusOne - 1

	// Softmax each query's class logits, dropping the trailing no-object
	// entry after normalization.
	classProbs := make([]float64, q*c)
	for qi := 0; qi < q; qi++ {
		row := class.Data[qi*cPlusOne : (qi+1)*cPlusOne]
		maxLogit := row[0]
		for _, v := range row[1:] {
			if v > maxLogit {
				maxLogit = v
			}
		}
		var sum float64
		exps := make([]float64, cPlusOne)
		for i, v := range row {
			exps[i] = math.Exp(float64(v - maxLogit))
			sum += exps[i]
		}
		for ci := 0; ci < c; ci++ {
			classProbs[qi*c+ci] = exps[ci] / sum
		}
	}

	// Sigmoid the mask logits, then upsample to input resolution.
	maskProbs := make([]float32, len(mask.Data))
	for i, v := range mask.Data {
		maskProbs[i] = float32(1.0 / (1.0 + math.Exp(float64(-v))))
	}
	if h != inputH || w != inputW {
		maskProbs = resizePlanesBilinear(maskProbs, q, h, w, inputH, inputW)
		h, w = inputH, inputW
	}

	// scores = class_probsᵀ (C×Q) × mask_probs (Q×P), argmax over C per pixel.
	plane := h * w
	scores := make([]float64, c*plane)
	for qi := 0; qi < q; qi++ {
		maskRow := maskProbs[qi*plane : (qi+1)*plane]
		for ci := 0; ci < c; ci++ {
			cp := classProbs[qi*c+ci]
			if cp < 1e-6 {
				continue // this query says nothing about this class
			}
			scoreRow := scores[ci*plane : (ci+1)*plane]
			for p, mp := range maskRow {
				scoreRow[p] += cp * float64(mp)
			}
		}
	}

	cm := codec.NewClassMap(w, h)
	for p := 0; p < plane; p++ {
		best := 0
		bestScore := scores[p]
		for ci := 1; ci < c; ci++ {
			if s := scores[ci*plane+p]; s > bestScore {
				bestScore = s
				best = ci
			}
		}
		cm.Idx[p] = int32(best)
	}
	return cm, nil
}

// logitsDims validates a (1, C, H, W) shape and returns its dimensions.
func logitsDims(out model.Output) (c, h, w int, err error) {
	if len(out.Shape) != 4 || out.Shape[0] != 1 {
		return 0, 0, 0, errors.Newf("expected logits shape (1, C, H, W), got %v", out.Shape)
	}
	c = int(out.Shape[1])
	h = int(out.Shape[2])
	w = int(out.Shape[3])
	if c < 1 || h < 1 || w < 1 || len(out.Data) != c*h*w {
		return 0, 0, 0, errors.Newf("logits buffer %d does not match shape %v", len(out.Data), out.Shape)
	}
	return c, h, w, nil
}

// argmaxPlanes computes the per-pixel argmax over C planes of H×W data.
func argmaxPlanes(data []float32, c, h, w int) *codec.ClassMap {
	plane := h * w
	cm := codec.NewClassMap(w, h)
	for p := 0; p < plane; p++ {
		best := int32(0)
		bestVal := data[p]
		for ci := 1; ci < c; ci++ {
			if v := data[ci*plane+p]; v > bestVal {
				bestVal = v
				best = int32(ci)
			}
		}
		cm.Idx[p] = best
	}
	return cm
}

// resizePlanesBilinear resizes n independent h×w planes to H×W with
// bilinear interpolation (align_corners=false convention).
func resizePlanesBilinear(data []float32, n, h, w, outH, outW int) []float32 {
	out := make([]float32, n*outH*outW)
	scaleY := float64(h) / float64(outH)
	scaleX := float64(w) / float64(outW)

	for pi := 0; pi < n; pi++ {
		src := data[pi*h*w : (pi+1)*h*w]
		dst := out[pi*outH*outW : (pi+1)*outH*outW]
		for dy := 0; dy < outH; dy++ {
			sy := (float64(dy)+0.5)*scaleY - 0.5
			if sy < 0 {
				sy = 0
			}
			y0 := int(sy)
			y1 := y0 + 1
			if y1 > h-1 {
				y1 = h - 1
			}
			fy := sy - float64(y0)
			for dx := 0; dx < outW; dx++ {
				sx := (float64(dx)+0.5)*scaleX - 0.5
				if sx < 0 {
					sx = 0
				}
				x0 := int(sx)
				x1 := x0 + 1
				if x1 > w-1 {
					x1 = w - 1
				}
				fx := sx - float64(x0)

				top := float64(src[y0*w+x0])*(1-fx) + float64(src[y0*w+x1])*fx
				bot := float64(src[y1*w+x0])*(1-fx) + float64(src[y1*w+x1])*fx
				dst[dy*outW+dx] = float32(top*(1-fy) + bot*fy)
			}
		}
	}
	return out
}
