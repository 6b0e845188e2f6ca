package engine

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumastream/luma/model"
)

func TestDecodeArgmaxPicksWinningPlane(t *testing.T) {
	// 3 classes on a 2×2 map; plane 2 wins everywhere except pixel 0.
	data := []float32{
		5, 0, 0, 0, // class 0
		0, 1, 1, 1, // class 1
		1, 9, 9, 9, // class 2
	}
	cm, err := decodeArgmax(model.Output{Data: data, Shape: []int64{1, 3, 2, 2}})
	require.NoError(t, err)
	assert.Equal(t, []int32{0, 2, 2, 2}, cm.Idx)
}

func TestDecodeArgmaxRejectsBadShape(t *testing.T) {
	_, err := decodeArgmax(model.Output{Data: []float32{1}, Shape: []int64{1, 1}})
	assert.Error(t, err)

	_, err = decodeArgmax(model.Output{Data: []float32{1, 2}, Shape: []int64{1, 3, 2, 2}})
	assert.Error(t, err, "buffer shorter than shape")
}

func TestDecodeStridedUpsamplesBeforeArgmax(t *testing.T) {
	// Logits at 2×2 for a 4×4 input: two classes split left/right.
	data := []float32{
		9, 0, 9, 0, // class 0 strong on the left column
		0, 9, 0, 9, // class 1 strong on the right column
	}
	cm, err := decodeStridedArgmax(model.Output{Data: data, Shape: []int64{1, 2, 2, 2}}, 4, 4)
	require.NoError(t, err)
	require.Equal(t, 4, cm.W)
	require.Equal(t, 4, cm.H)

	// Leftmost column is class 0, rightmost class 1 after upsampling.
	for y := 0; y < 4; y++ {
		assert.Equal(t, int32(0), cm.Idx[y*4+0], "row %d left", y)
		assert.Equal(t, int32(1), cm.Idx[y*4+3], "row %d right", y)
	}
}

// queryOutputs builds a deterministic query-head output pair:
// Q queries over C real classes (+1 no-object) on an h×w mask grid.
func queryOutputs(q, c, h, w int, classLogit func(qi, ci int) float32, maskLogit func(qi, p int) float32) []model.Output {
	classData := make([]float32, q*(c+1))
	for qi := 0; qi < q; qi++ {
		for ci := 0; ci <= c; ci++ {
			classData[qi*(c+1)+ci] = classLogit(qi, ci)
		}
	}
	maskData := make([]float32, q*h*w)
	for qi := 0; qi < q; qi++ {
		for p := 0; p < h*w; p++ {
			maskData[qi*h*w+p] = maskLogit(qi, p)
		}
	}
	return []model.Output{
		{Data: maskData, Shape: []int64{1, int64(q), int64(h), int64(w)}},
		{Data: classData, Shape: []int64{1, int64(q), int64(c + 1)}},
	}
}

func TestDecodeQueryAssignsQueryClasses(t *testing.T) {
	// Two queries: query 0 is confident class 3 and masks the left half;
	// query 1 is confident class 7 and masks the right half.
	outs := queryOutputs(2, 10, 4, 4,
		func(qi, ci int) float32 {
			if qi == 0 && ci == 3 {
				return 8
			}
			if qi == 1 && ci == 7 {
				return 8
			}
			return 0
		},
		func(qi, p int) float32 {
			x := p % 4
			if qi == 0 && x < 2 {
				return 6
			}
			if qi == 1 && x >= 2 {
				return 6
			}
			return -6
		},
	)

	mask, class, err := splitQueryOutputs(outs)
	require.NoError(t, err)
	cm, err := decodeQuery(mask, class, 4, 4)
	require.NoError(t, err)

	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			want := int32(3)
			if x >= 2 {
				want = 7
			}
			assert.Equal(t, want, cm.Idx[y*4+x], "pixel %d,%d", x, y)
		}
	}
}

func TestDecodeQueryNoObjectDominant(t *testing.T) {
	// Every query's no-object logit dominates. The no-object column must be
	// sliced away before the multiply, so argmax still yields a valid class.
	const c = 150 - 1 // real classes for ade150-style head
	outs := queryOutputs(4, c, 2, 2,
		func(qi, ci int) float32 {
			if ci == c {
				return 12 // no-object sink wins every query
			}
			if ci == qi {
				return 1 // faint preference for class qi
			}
			return 0
		},
		func(qi, p int) float32 { return 2 },
	)

	mask, class, err := splitQueryOutputs(outs)
	require.NoError(t, err)
	cm, err := decodeQuery(mask, class, 2, 2)
	require.NoError(t, err)

	for _, v := range cm.Idx {
		assert.GreaterOrEqual(t, v, int32(0))
		assert.Less(t, v, int32(c), "argmax must never select the no-object bin")
	}
}

func TestDecodeQueryUpsamplesMasks(t *testing.T) {
	outs := queryOutputs(1, 5, 2, 2,
		func(qi, ci int) float32 {
			if ci == 2 {
				return 9
			}
			return 0
		},
		func(qi, p int) float32 { return 4 },
	)
	mask, class, err := splitQueryOutputs(outs)
	require.NoError(t, err)

	cm, err := decodeQuery(mask, class, 8, 8)
	require.NoError(t, err)
	assert.Equal(t, 8, cm.W)
	assert.Equal(t, 8, cm.H)
	for _, v := range cm.Idx {
		assert.Equal(t, int32(2), v)
	}
}

func TestSplitQueryOutputsOrderIndependent(t *testing.T) {
	outs := queryOutputs(2, 3, 2, 2,
		func(qi, ci int) float32 { return 0 },
		func(qi, p int) float32 { return 0 },
	)
	// Reverse emission order; detection is by rank, not position.
	reversed := []model.Output{outs[1], outs[0]}

	mask, class, err := splitQueryOutputs(reversed)
	require.NoError(t, err)
	assert.Len(t, mask.Shape, 4)
	assert.Len(t, class.Shape, 3)
}

// TestSOTAEndToEndShape is scenario S6: drive the engine directly on sota
// with a 320×320 frame and verify the class map contract.
func TestSOTAEndToEndShape(t *testing.T) {
	const numClasses = 150
	mdl := &scriptedModel{outputs: func(shape []int64) []model.Output {
		// Query head at 1/4 internal resolution with 8 queries; no-object
		// dominant everywhere (the hard case).
		h := int(shape[2]) / 4
		w := int(shape[3]) / 4
		return queryOutputs(8, numClasses-1, h, w,
			func(qi, ci int) float32 {
				if ci == numClasses-1 {
					return 10
				}
				return float32(qi%3) * 0.1
			},
			func(qi, p int) float32 { return float32(math.Sin(float64(qi*p)) * 3) },
		)
	}}
	e := newTestEngine(t, mdl)
	ctx := context.Background()
	require.NoError(t, e.SetMode(ctx, model.ModeSOTA))

	cm, _, err := e.Predict(ctx, grayFrame(320, 320))
	require.NoError(t, err)
	assert.Equal(t, 320, cm.W)
	assert.Equal(t, 320, cm.H)
	for _, v := range cm.Idx {
		assert.GreaterOrEqual(t, v, int32(0))
		assert.Less(t, v, int32(numClasses))
	}
}
