// Package geometry provides the normalized bounding-box primitives shared
// by the tracker, behavior analyzer, and trajectory predictor.
package geometry

import (
	"errors"
	"math"
)

// ErrInvalidBox is returned when a bounding box fails the normalized-
// coordinate invariants: x,y,w,h in [0,1], w>0, h>0, x+w<=1, y+h<=1.
var ErrInvalidBox = errors.New("geometry: invalid bounding box")

// BoundingBox is a normalized [0,1]^2 axis-aligned box.
type BoundingBox struct {
	X, Y, W, H float32
}

// Validate checks the §3 invariants for a bounding box.
func (b BoundingBox) Validate() error {
	if math.IsNaN(float64(b.X)) || math.IsNaN(float64(b.Y)) ||
		math.IsNaN(float64(b.W)) || math.IsNaN(float64(b.H)) {
		return ErrInvalidBox
	}
	if b.W <= 0 || b.H <= 0 {
		return ErrInvalidBox
	}
	if b.X < 0 || b.Y < 0 {
		return ErrInvalidBox
	}
	const eps = 1e-6
	if b.X+b.W > 1+eps || b.Y+b.H > 1+eps {
		return ErrInvalidBox
	}
	return nil
}

// Center returns the box's center point.
func (b BoundingBox) Center() (cx, cy float32) {
	return b.X + b.W/2, b.Y + b.H/2
}

// Area returns w*h.
func (b BoundingBox) Area() float32 {
	return b.W * b.H
}

// Aspect returns w/h.
func (b BoundingBox) Aspect() float32 {
	if b.H == 0 {
		return 0
	}
	return b.W / b.H
}

// FromCenterAreaAspect reconstructs a box from the Kalman measurement
// parameterization: s=area, r=aspect, per spec §4.1.
//
//	w = sqrt(s*r), h = sqrt(s/r), x = cx - w/2, y = cy - h/2
func FromCenterAreaAspect(cx, cy, area, aspect float32) BoundingBox {
	if area < 0 {
		area = 0
	}
	if aspect <= 0 {
		aspect = 1
	}
	w := float32(math.Sqrt(float64(area) * float64(aspect)))
	h := float32(math.Sqrt(float64(area) / float64(aspect)))
	return BoundingBox{
		X: cx - w/2,
		Y: cy - h/2,
		W: w,
		H: h,
	}
}

// IoU computes the intersection-over-union of two boxes. IoU(a,a)==1,
// IoU is symmetric, and disjoint boxes yield 0.
func IoU(a, b BoundingBox) float32 {
	ax2, ay2 := a.X+a.W, a.Y+a.H
	bx2, by2 := b.X+b.W, b.Y+b.H

	ix1 := max32(a.X, b.X)
	iy1 := max32(a.Y, b.Y)
	ix2 := min32(ax2, bx2)
	iy2 := min32(ay2, by2)

	if ix2 <= ix1 || iy2 <= iy1 {
		return 0
	}

	intersection := (ix2 - ix1) * (iy2 - iy1)
	union := a.Area() + b.Area() - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

// Distance returns the Euclidean distance between two points.
func Distance(x1, y1, x2, y2 float32) float32 {
	dx := x1 - x2
	dy := y1 - y2
	return float32(math.Sqrt(float64(dx*dx + dy*dy)))
}

// Clamp01 restricts a point to the unit square, returning the clamped
// coordinates and whether clamping was necessary.
func Clamp01(x, y float32) (cx, cy float32, clamped bool) {
	cx, cy = x, y
	if cx < 0 {
		cx, clamped = 0, true
	} else if cx > 1 {
		cx, clamped = 1, true
	}
	if cy < 0 {
		cy, clamped = 0, true
	} else if cy > 1 {
		cy, clamped = 1, true
	}
	return cx, cy, clamped
}

func max32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

func min32(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}
