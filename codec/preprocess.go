package codec

// ImageNet channel statistics. Every supported model was trained with these.
var (
	imagenetMean = [3]float32{0.485, 0.456, 0.406}
	imagenetStd  = [3]float32{0.229, 0.224, 0.225}
)

// Preprocess resizes the frame to targetW×targetH, scales to [0,1],
// normalizes per channel with the ImageNet statistics, and packs the result
// as a contiguous NCHW float32 tensor of shape (1, 3, targetH, targetW).
func Preprocess(m *Image, targetH, targetW int) []float32 {
	resized := Resize(m, targetW, targetH)

	plane := targetH * targetW
	out := make([]float32, 3*plane)
	for i := 0; i < plane; i++ {
		off := i * 3
		out[i] = (float32(resized.Pix[off])/255.0 - imagenetMean[0]) / imagenetStd[0]
		out[plane+i] = (float32(resized.Pix[off+1])/255.0 - imagenetMean[1]) / imagenetStd[1]
		out[2*plane+i] = (float32(resized.Pix[off+2])/255.0 - imagenetMean[2]) / imagenetStd[2]
	}
	return out
}

// PostprocessClassMap maps the engine's class map back to the original
// frame's spatial dimensions with nearest-neighbor sampling.
func PostprocessClassMap(cm *ClassMap, origH, origW int) *ClassMap {
	return ResizeClassMapNearest(cm, origW, origH)
}
