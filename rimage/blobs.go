package rimage

import (
	"image"
)

// Blob is a 4-connected region of pixels sharing the same value.
type Blob struct {
	Bounds image.Rectangle
	Area   int
}

// Fill returns the fraction of the bounding box covered by the blob.
func (b Blob) Fill() float64 {
	box := b.Bounds.Dx() * b.Bounds.Dy()
	if box == 0 {
		return 0
	}
	return float64(b.Area) / float64(box)
}

// FindBlobs returns the 4-connected regions of img whose pixels equal value, in raster order of
// their first pixel. Bounds are relative to img.Bounds().Min.
func FindBlobs(img *image.Gray, value uint8) []Blob {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	visited := make([]bool, w*h)
	at := func(x, y int) uint8 {
		return img.Pix[y*img.Stride+x]
	}
	var blobs []Blob
	stack := make([]image.Point, 0, 64)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if visited[y*w+x] || at(x, y) != value {
				continue
			}
			blob := Blob{Bounds: image.Rect(x, y, x+1, y+1)}
			visited[y*w+x] = true
			stack = append(stack[:0], image.Point{x, y})
			for len(stack) > 0 {
				p := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				blob.Area++
				blob.Bounds = blob.Bounds.Union(image.Rect(p.X, p.Y, p.X+1, p.Y+1))
				for _, d := range [...]image.Point{{1, 0}, {-1, 0}, {0, 1}, {0, -1}} {
					n := p.Add(d)
					if n.X < 0 || n.Y < 0 || n.X >= w || n.Y >= h || visited[n.Y*w+n.X] || at(n.X, n.Y) != value {
						continue
					}
					visited[n.Y*w+n.X] = true
					stack = append(stack, n)
				}
			}
			blobs = append(blobs, blob)
		}
	}
	return blobs
}
