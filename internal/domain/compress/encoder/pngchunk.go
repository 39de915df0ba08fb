package encoder

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
)

var pngSignature = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func writeChunk(buf *bytes.Buffer, typ string, data []byte) {
	var lenBytes [4]byte
	binary.BigEndian.PutUint32(lenBytes[:], uint32(len(data)))
	buf.Write(lenBytes[:])

	crcInput := make([]byte, 0, len(typ)+len(data))
	crcInput = append(crcInput, typ...)
	crcInput = append(crcInput, data...)
	buf.WriteString(typ)
	buf.Write(data)

	var crcBytes [4]byte
	binary.BigEndian.PutUint32(crcBytes[:], crc32.ChecksumIEEE(crcInput))
	buf.Write(crcBytes[:])
}

// filterRow tries all five PNG filter types (None, Sub, Up, Average,
// Paeth) against a raw scanline and returns the one minimizing the
// sum of absolute values of the filtered bytes (the standard
// minimum-sum-of-absolute-differences heuristic), matching the "all
// filters enabled" requirement.
func filterRow(cur, prev []byte, bpp int) []byte {
	best := append([]byte{0}, cur...) // filter type 0: None
	bestScore := filterScore(cur)

	candidates := [4]func([]byte, []byte, int) []byte{filterSub, filterUp, filterAverage, filterPaeth}
	for i, fn := range candidates {
		filtered := fn(cur, prev, bpp)
		score := filterScore(filtered)
		if score < bestScore {
			bestScore = score
			best = append([]byte{byte(i + 1)}, filtered...)
		}
	}
	return best
}

func filterScore(data []byte) int {
	sum := 0
	for _, b := range data {
		v := int(int8(b))
		if v < 0 {
			v = -v
		}
		sum += v
	}
	return sum
}

func filterSub(cur, _ []byte, bpp int) []byte {
	out := make([]byte, len(cur))
	for i, b := range cur {
		var left byte
		if i >= bpp {
			left = cur[i-bpp]
		}
		out[i] = b - left
	}
	return out
}

func filterUp(cur, prev []byte, _ int) []byte {
	out := make([]byte, len(cur))
	for i, b := range cur {
		var up byte
		if prev != nil {
			up = prev[i]
		}
		out[i] = b - up
	}
	return out
}

func filterAverage(cur, prev []byte, bpp int) []byte {
	out := make([]byte, len(cur))
	for i, b := range cur {
		var left, up int
		if i >= bpp {
			left = int(cur[i-bpp])
		}
		if prev != nil {
			up = int(prev[i])
		}
		out[i] = b - byte((left+up)/2)
	}
	return out
}

func filterPaeth(cur, prev []byte, bpp int) []byte {
	out := make([]byte, len(cur))
	for i, b := range cur {
		var left, up, upLeft int
		if i >= bpp {
			left = int(cur[i-bpp])
		}
		if prev != nil {
			up = int(prev[i])
			if i >= bpp {
				upLeft = int(prev[i-bpp])
			}
		}
		out[i] = b - byte(paethPredictor(left, up, upLeft))
	}
	return out
}

func paethPredictor(a, b, c int) int {
	p := a + b - c
	pa, pb, pc := abs(p-a), abs(p-b), abs(p-c)
	if pa <= pb && pa <= pc {
		return a
	}
	if pb <= pc {
		return b
	}
	return c
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// encodeTrueColorPNG emits an 8-bit RGBA PNG with the given zlib
// compression level (1..9, mapped onto zlib's 1..9 scale directly).
func encodeTrueColorPNG(img *image.RGBA, level int) []byte {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	var buf bytes.Buffer
	buf.Write(pngSignature)

	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], uint32(w))
	binary.BigEndian.PutUint32(ihdr[4:8], uint32(h))
	ihdr[8] = 8 // bit depth
	ihdr[9] = 6 // color type: truecolor + alpha
	writeChunk(&buf, "IHDR", ihdr)

	var raw bytes.Buffer
	var prevRow []byte
	for y := 0; y < h; y++ {
		rowStart := img.PixOffset(b.Min.X, b.Min.Y+y)
		row := img.Pix[rowStart : rowStart+w*4]
		raw.Write(filterRow(row, prevRow, 4))
		prevRow = row
	}

	var zbuf bytes.Buffer
	zw, _ := zlib.NewWriterLevel(&zbuf, clampZlibLevel(level))
	zw.Write(raw.Bytes())
	zw.Close()
	writeChunk(&buf, "IDAT", zbuf.Bytes())
	writeChunk(&buf, "IEND", nil)

	return buf.Bytes()
}

// encodePalettedPNG emits an 8-bit indexed-color PNG. tRNS is written
// sized to (last translucent index + 1) only when any palette entry
// is translucent.
func encodePalettedPNG(indices []byte, w, h int, palette []color.RGBA) []byte {
	var buf bytes.Buffer
	buf.Write(pngSignature)

	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], uint32(w))
	binary.BigEndian.PutUint32(ihdr[4:8], uint32(h))
	ihdr[8] = 8 // bit depth
	ihdr[9] = 3 // color type: indexed
	writeChunk(&buf, "IHDR", ihdr)

	plte := make([]byte, 0, len(palette)*3)
	for _, c := range palette {
		plte = append(plte, c.R, c.G, c.B)
	}
	writeChunk(&buf, "PLTE", plte)

	lastTranslucent := -1
	for i, c := range palette {
		if c.A < 255 {
			lastTranslucent = i
		}
	}
	if lastTranslucent >= 0 {
		trns := make([]byte, lastTranslucent+1)
		for i := range trns {
			trns[i] = palette[i].A
		}
		writeChunk(&buf, "tRNS", trns)
	}

	var raw bytes.Buffer
	var prevRow []byte
	for y := 0; y < h; y++ {
		row := indices[y*w : (y+1)*w]
		raw.Write(filterRow(row, prevRow, 1))
		prevRow = row
	}

	var zbuf bytes.Buffer
	zw, _ := zlib.NewWriterLevel(&zbuf, 6)
	zw.Write(raw.Bytes())
	zw.Close()
	writeChunk(&buf, "IDAT", zbuf.Bytes())
	writeChunk(&buf, "IEND", nil)

	return buf.Bytes()
}

func clampZlibLevel(level int) int {
	if level < 1 {
		return 1
	}
	if level > 9 {
		return 9
	}
	return level
}
