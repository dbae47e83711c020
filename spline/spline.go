// Package spline fits least-squares B-spline curves to 1-D data and
// evaluates them and their derivatives. Knot placement for interpolating
// fits matches FITPACK's curfit with zero smoothing, so a fit followed by a
// knot-reduced refit behaves like scipy's UnivariateSpline followed by
// LSQUnivariateSpline.
package spline

import (
	"fmt"
	"math"
	"sort"
)

// Spline is a clamped B-spline curve.
type Spline struct {
	// t is the full knot vector. The first and last degree+1 knots are the
	// boundaries of the data range.
	t      []float64
	c      []float64
	degree int
}

// Degree returns the polynomial degree of s.
func (s *Spline) Degree() int { return s.degree }

// Knots returns the knots of s without the repeated boundary knots, i.e.
// the lower boundary, the interior knots and the upper boundary.
func (s *Spline) Knots() []float64 {
	k := s.degree
	out := make([]float64, len(s.t)-2*k)
	copy(out, s.t[k:len(s.t)-k])
	return out
}

// InterpolationKnots returns the interior knots that an interpolating
// (zero-smoothing) fit of degree k over x uses: the data points themselves
// for odd k, midpoints between data points for even k, skipping the
// (k+1)/2 points closest to each boundary.
func InterpolationKnots(x []float64, k int) []float64 {
	n := len(x)
	nInterior := n - k - 1
	if nInterior <= 0 {
		return nil
	}
	out := make([]float64, nInterior)
	if k%2 == 1 {
		off := (k + 1) / 2
		copy(out, x[off:off+nInterior])
		return out
	}
	off := k / 2
	for i := range out {
		out[i] = (x[off+i] + x[off+i+1]) / 2
	}
	return out
}

// Interpolate fits a spline of degree k that passes through every (x, y).
func Interpolate(x, y []float64, k int) (*Spline, error) {
	return Fit(x, y, k, InterpolationKnots(x, k))
}

// Fit computes the least-squares spline of degree k with the given
// interior knots. x must be strictly increasing, and the interior knots
// must lie strictly inside (x[0], x[len(x)-1]) in nondecreasing order.
func Fit(x, y []float64, k int, interior []float64) (*Spline, error) {
	n := len(x)
	if n != len(y) {
		return nil, fmt.Errorf("spline: %d x values, %d y values", n, len(y))
	}
	if k < 1 {
		return nil, fmt.Errorf("spline: invalid degree %d", k)
	}
	if n < k+1 {
		return nil, fmt.Errorf("spline: need at least %d points for degree %d, got %d", k+1, k, n)
	}
	for i := 1; i < n; i++ {
		if !(x[i] > x[i-1]) {
			return nil, fmt.Errorf("spline: x not strictly increasing at %d", i)
		}
	}
	for i, v := range interior {
		if !(v > x[0] && v < x[n-1]) || (i > 0 && v < interior[i-1]) {
			return nil, fmt.Errorf("spline: invalid interior knot %v", v)
		}
	}
	t := make([]float64, 0, len(interior)+2*(k+1))
	for i := 0; i <= k; i++ {
		t = append(t, x[0])
	}
	t = append(t, interior...)
	for i := 0; i <= k; i++ {
		t = append(t, x[n-1])
	}
	s := &Spline{t: t, degree: k}
	m := s.numCoefs()
	if m > n {
		return nil, fmt.Errorf("spline: %d coefficients for %d points", m, n)
	}

	// Reduce the observation matrix to upper-triangular band form with
	// Givens rotations, one observation at a time. r[i][j] holds element
	// (i, i+j) of the triangular factor.
	r := make([][]float64, m)
	for i := range r {
		r[i] = make([]float64, k+1)
	}
	z := make([]float64, m)
	h := make([]float64, k+1)
	for i := range x {
		l := s.span(x[i])
		s.basis(l, x[i], h)
		yi := y[i]
		j0 := l - k
		for j := 0; j <= k; j++ {
			piv := h[j]
			if piv == 0 {
				continue
			}
			row := r[j0+j]
			ww := math.Hypot(piv, row[0])
			cos, sin := row[0]/ww, piv/ww
			row[0] = ww
			zc := z[j0+j]
			z[j0+j] = cos*zc + sin*yi
			yi = cos*yi - sin*zc
			for i2 := j + 1; i2 <= k; i2++ {
				a, b := row[i2-j], h[i2]
				row[i2-j] = cos*a + sin*b
				h[i2] = cos*b - sin*a
			}
		}
	}

	c := make([]float64, m)
	for i := m - 1; i >= 0; i-- {
		if r[i][0] == 0 {
			return nil, fmt.Errorf("spline: rank-deficient system at coefficient %d", i)
		}
		sum := z[i]
		for j := 1; j <= k && i+j < m; j++ {
			sum -= r[i][j] * c[i+j]
		}
		c[i] = sum / r[i][0]
	}
	s.c = c
	return s, nil
}

func (s *Spline) numCoefs() int { return len(s.t) - s.degree - 1 }

// span returns l such that t[l] <= x < t[l+1], clamped to the valid range
// [degree, numCoefs-1].
func (s *Spline) span(x float64) int {
	k, m := s.degree, s.numCoefs()
	// first index in t[k+1:m] whose knot is > x.
	i := sort.Search(m-k-1, func(i int) bool { return s.t[k+1+i] > x })
	return k + i
}

// basis fills n[0..degree] with the values at x of the B-splines
// l-degree..l that are nonzero on span l.
func (s *Spline) basis(l int, x float64, n []float64) {
	k := s.degree
	left := make([]float64, k+1)
	right := make([]float64, k+1)
	n[0] = 1
	for j := 1; j <= k; j++ {
		left[j] = x - s.t[l+1-j]
		right[j] = s.t[l+j] - x
		saved := 0.0
		for r := 0; r < j; r++ {
			den := right[r+1] + left[j-r]
			var tmp float64
			if den != 0 {
				tmp = n[r] / den
			}
			n[r] = saved + right[r+1]*tmp
			saved = left[j-r] * tmp
		}
		n[j] = saved
	}
}

// Eval evaluates s at x. Points outside the knot range are evaluated on the
// nearest polynomial piece.
func (s *Spline) Eval(x float64) float64 {
	k := s.degree
	l := s.span(x)
	n := make([]float64, k+1)
	s.basis(l, x, n)
	v := 0.0
	for j := 0; j <= k; j++ {
		v += s.c[l-k+j] * n[j]
	}
	return v
}

// Derivative returns the first derivative of s as a spline of degree
// s.Degree()-1. The derivative of a linear spline is piecewise constant.
func (s *Spline) Derivative() *Spline {
	k := s.degree
	m := s.numCoefs()
	d := make([]float64, m-1)
	for i := range d {
		den := s.t[i+k+1] - s.t[i+1]
		if den > 0 {
			d[i] = float64(k) * (s.c[i+1] - s.c[i]) / den
		}
	}
	return &Spline{t: s.t[1 : len(s.t)-1], c: d, degree: k - 1}
}

// NumKnots returns the number of knots to use when smoothing a curve of n
// unique points: n itself below 50, then a piecewise log-linear ramp
// through 100 knots at n=200, 140 at n=800 and 200 at n=3200, and slow
// sublinear growth beyond.
func NumKnots(n int) int {
	if n < 50 {
		return n
	}
	a1 := math.Log2(50)
	a2 := math.Log2(100)
	a3 := math.Log2(140)
	a4 := math.Log2(200)
	fn := float64(n)
	switch {
	case n < 200:
		return int(math.Pow(2, a1+(a2-a1)*(fn-50)/150))
	case n < 800:
		return int(math.Pow(2, a2+(a3-a2)*(fn-200)/600))
	case n < 3200:
		return int(math.Pow(2, a3+(a4-a3)*(fn-800)/2400))
	}
	return int(200 + math.Pow(fn-3200, 0.2))
}

// ReducedKnots picks numKnots-2 interior knots spread evenly (by index)
// over the interior of knots, as returned by Knots.
func ReducedKnots(knots []float64, numKnots int) []float64 {
	num := numKnots - 2
	if num <= 0 || len(knots) < 3 {
		return nil
	}
	start, stop := 1.0, float64(len(knots)-2)
	out := make([]float64, num)
	for i := range out {
		pos := start
		if num > 1 {
			pos = start + (stop-start)*float64(i)/float64(num-1)
		}
		out[i] = knots[int(pos)]
	}
	return out
}
