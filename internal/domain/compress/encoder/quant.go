package encoder

import (
	"errors"
	"image"
	"image/color"
	"sort"
)

// colorBucket is one non-empty 4-bit-per-channel RGBA histogram
// bucket: a seed color (channel-wise mean) plus its pixel count.
type colorBucket struct {
	r, g, b, a float64 // channel sums, divided lazily into means
	count      int
}

func (c colorBucket) mean() [4]float64 {
	n := float64(c.count)
	return [4]float64{c.r / n, c.g / n, c.b / n, c.a / n}
}

// box is a median-cut color-box: a set of bucket indices plus cached
// per-channel min/max and total weight.
type box struct {
	members  []int
	min, max [4]float64
	weight   int
}

func (b *box) recompute(buckets []colorBucket) {
	b.min = [4]float64{255, 255, 255, 255}
	b.max = [4]float64{0, 0, 0, 0}
	b.weight = 0
	for _, idx := range b.members {
		m := buckets[idx].mean()
		for c := 0; c < 4; c++ {
			if m[c] < b.min[c] {
				b.min[c] = m[c]
			}
			if m[c] > b.max[c] {
				b.max[c] = m[c]
			}
		}
		b.weight += buckets[idx].count
	}
}

// widestChannel returns the channel (0=R,1=G,2=B,3=A) with the
// largest (max-min) range, ties broken in R,G,B,A order.
func (b *box) widestChannel() (int, float64) {
	bestCh := 0
	bestRange := b.max[0] - b.min[0]
	for c := 1; c < 4; c++ {
		r := b.max[c] - b.min[c]
		if r > bestRange {
			bestRange = r
			bestCh = c
		}
	}
	return bestCh, bestRange
}

// quantizeMedianCut implements the from-scratch median-cut quantizer:
// histogram into 4-bit-per-channel buckets, seed one color per
// non-empty bucket, iteratively split the widest box by its widest
// channel at the population median, then map every pixel to the
// nearest final palette entry by squared Euclidean distance.
func quantizeMedianCut(img *image.RGBA, targetColors int) ([]byte, []color.RGBA, int, int, error) {
	if targetColors < 1 {
		targetColors = 1
	}
	if targetColors > 256 {
		targetColors = 256
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 {
		return nil, nil, 0, 0, errors.New("empty image")
	}

	// 1. Histogram into 65536 (4-bit per channel) buckets.
	bucketIndex := make(map[uint16]int)
	buckets := make([]colorBucket, 0, 4096)
	bucketOf := func(px color.RGBA) uint16 {
		return uint16(px.R>>4)<<12 | uint16(px.G>>4)<<8 | uint16(px.B>>4)<<4 | uint16(px.A>>4)
	}

	for y := 0; y < h; y++ {
		rowOff := img.PixOffset(b.Min.X, b.Min.Y+y)
		for x := 0; x < w; x++ {
			off := rowOff + x*4
			px := color.RGBA{R: img.Pix[off], G: img.Pix[off+1], B: img.Pix[off+2], A: img.Pix[off+3]}
			key := bucketOf(px)
			idx, ok := bucketIndex[key]
			if !ok {
				idx = len(buckets)
				bucketIndex[key] = idx
				buckets = append(buckets, colorBucket{})
			}
			buckets[idx].r += float64(px.R)
			buckets[idx].g += float64(px.G)
			buckets[idx].b += float64(px.B)
			buckets[idx].a += float64(px.A)
			buckets[idx].count++
		}
	}

	// 2/3. Median-cut over boxes of bucket indices.
	root := &box{members: make([]int, len(buckets))}
	for i := range buckets {
		root.members[i] = i
	}
	root.recompute(buckets)
	boxes := []*box{root}

	for len(boxes) < targetColors {
		splitIdx := -1
		var splitRange float64 = -1
		for i, bx := range boxes {
			if len(bx.members) < 2 {
				continue
			}
			_, r := bx.widestChannel()
			if r >= splitRange {
				splitRange = r
				splitIdx = i
			}
		}
		if splitIdx < 0 {
			break // no box has >= 2 colors left
		}

		target := boxes[splitIdx]
		ch, _ := target.widestChannel()
		sort.SliceStable(target.members, func(i, j int) bool {
			mi := buckets[target.members[i]].mean()[ch]
			mj := buckets[target.members[j]].mean()[ch]
			if mi != mj {
				return mi < mj
			}
			return buckets[target.members[i]].count > buckets[target.members[j]].count
		})

		splitAt := medianSplitIndex(buckets, target.members)
		left := &box{members: append([]int(nil), target.members[:splitAt]...)}
		right := &box{members: append([]int(nil), target.members[splitAt:]...)}
		left.recompute(buckets)
		right.recompute(buckets)

		boxes[splitIdx] = left
		boxes = append(boxes, right)
	}

	// 4. Palette: weighted mean of each box's bucket means.
	palette := make([]color.RGBA, len(boxes))
	for i, bx := range boxes {
		var sr, sg, sb, sa float64
		var weight float64
		for _, idx := range bx.members {
			m := buckets[idx].mean()
			c := float64(buckets[idx].count)
			sr += m[0] * c
			sg += m[1] * c
			sb += m[2] * c
			sa += m[3] * c
			weight += c
		}
		if weight == 0 {
			weight = 1
		}
		palette[i] = color.RGBA{
			R: clampByte(sr / weight),
			G: clampByte(sg / weight),
			B: clampByte(sb / weight),
			A: clampByte(sa / weight),
		}
	}

	// 5. Map every pixel to the palette entry minimizing squared
	// Euclidean distance in RGBA, memoized per exact pixel value.
	nearest := make(map[uint32]byte)
	indices := make([]byte, w*h)
	for y := 0; y < h; y++ {
		rowOff := img.PixOffset(b.Min.X, b.Min.Y+y)
		for x := 0; x < w; x++ {
			off := rowOff + x*4
			key := uint32(img.Pix[off])<<24 | uint32(img.Pix[off+1])<<16 | uint32(img.Pix[off+2])<<8 | uint32(img.Pix[off+3])
			idx, ok := nearest[key]
			if !ok {
				idx = nearestPaletteIndex(palette, img.Pix[off], img.Pix[off+1], img.Pix[off+2], img.Pix[off+3])
				nearest[key] = idx
			}
			indices[y*w+x] = idx
		}
	}

	return indices, palette, w, h, nil
}

func nearestPaletteIndex(palette []color.RGBA, r, g, b, a uint8) byte {
	best := 0
	bestDist := 1 << 62
	for i, p := range palette {
		dr := int(p.R) - int(r)
		dg := int(p.G) - int(g)
		db := int(p.B) - int(b)
		da := int(p.A) - int(a)
		dist := dr*dr + dg*dg + db*db + da*da
		if dist < bestDist {
			bestDist = dist
			best = i
		}
	}
	return byte(best)
}

// medianSplitIndex finds the population-median split point (cumulative
// count crossing half of total weight), clamped so both halves are
// non-empty.
func medianSplitIndex(buckets []colorBucket, members []int) int {
	total := 0
	for _, idx := range members {
		total += buckets[idx].count
	}
	half := total / 2
	cum := 0
	split := 1
	for i, idx := range members {
		cum += buckets[idx].count
		if cum >= half {
			split = i + 1
			break
		}
	}
	if split < 1 {
		split = 1
	}
	if split > len(members)-1 {
		split = len(members) - 1
	}
	return split
}

func clampByte(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v + 0.5)
}
