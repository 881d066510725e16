package pyramid

import (
	"math"

	"github.com/paulmach/orb"
)

// Viewport is a screen rectangle in pixels.
type Viewport struct {
	X, Y, W, H float64
}

// Bound returns the viewport as a screen space bound.
func (v Viewport) Bound() orb.Bound {
	return orb.Bound{
		Min: orb.Point{v.X, v.Y},
		Max: orb.Point{v.X + v.W, v.Y + v.H},
	}
}

// Transform maps image pixels to screen pixels:
// screen = rotate(A)(Z * image) + (X, Y). A is in degrees.
type Transform struct {
	X, Y float64
	Z    float64
	A    float64
}

// Identity is the transform leaving coordinates untouched.
func Identity() Transform {
	return Transform{Z: 1}
}

// orIdentity treats the zero value as the identity.
func (t Transform) orIdentity() Transform {
	if t.Z == 0 {
		return Identity()
	}
	return t
}

// Compose returns the transform applying inner first, then t.
func (t Transform) Compose(inner Transform) Transform {
	t = t.orIdentity()
	inner = inner.orIdentity()
	offset := t.rotate(orb.Point{inner.X * t.Z, inner.Y * t.Z})
	return Transform{
		X: offset[0] + t.X,
		Y: offset[1] + t.Y,
		Z: t.Z * inner.Z,
		A: t.A + inner.A,
	}
}

// Apply maps an image point to the screen.
func (t Transform) Apply(p orb.Point) orb.Point {
	t = t.orIdentity()
	r := t.rotate(orb.Point{p[0] * t.Z, p[1] * t.Z})
	return orb.Point{r[0] + t.X, r[1] + t.Y}
}

// Inverse maps a screen point back to the image.
func (t Transform) Inverse(p orb.Point) orb.Point {
	t = t.orIdentity()
	back := Transform{Z: 1, A: -t.A}
	r := back.rotate(orb.Point{p[0] - t.X, p[1] - t.Y})
	return orb.Point{r[0] / t.Z, r[1] / t.Z}
}

// InverseBox returns the image space bound of the viewport.
func (t Transform) InverseBox(v Viewport) orb.Bound {
	vb := v.Bound()
	corners := []orb.Point{
		vb.Min,
		{vb.Max[0], vb.Min[1]},
		{vb.Min[0], vb.Max[1]},
		vb.Max,
	}
	first := t.Inverse(corners[0])
	b := orb.Bound{Min: first, Max: first}
	for _, c := range corners[1:] {
		b = b.Extend(t.Inverse(c))
	}
	return b
}

func (t Transform) rotate(p orb.Point) orb.Point {
	if t.A == 0 {
		return p
	}
	rad := t.A * math.Pi / 180
	sin, cos := math.Sincos(rad)
	return orb.Point{p[0]*cos - p[1]*sin, p[0]*sin + p[1]*cos}
}

// Fit returns the unrotated transform showing region centered and whole
// inside the viewport.
func Fit(v Viewport, region orb.Bound) Transform {
	w := region.Max[0] - region.Min[0]
	h := region.Max[1] - region.Min[1]
	if w <= 0 || h <= 0 {
		return Identity()
	}
	z := math.Min(v.W/w, v.H/h)
	c := region.Center()
	return Transform{
		X: v.X + v.W/2 - c[0]*z,
		Y: v.Y + v.H/2 - c[1]*z,
		Z: z,
	}
}

// View is everything the pyramid needs to know about one frame.
type View struct {
	Viewport       Viewport
	Transform      Transform
	LayerTransform Transform
	// Border is the prefetch margin in tiles.
	Border int
	// Bias selects the resolution: 0 favours detail, 1 favours coarse levels.
	Bias float64
}

// total is the image to screen transform of the layer.
func (v View) total() Transform {
	return v.Transform.Compose(v.LayerTransform)
}
