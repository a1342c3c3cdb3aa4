package kontrol

import (
	"fmt"
	"math"
	"math/cmplx"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// conjugateTol is the relative tolerance used to pair complex roots.
const conjugateTol = 1e-7

// polyval evaluates c (descending powers) at s with Horner's rule.
func polyval(c []float64, s complex128) complex128 {
	var acc complex128
	for _, a := range c {
		acc = acc*s + complex(a, 0)
	}
	return acc
}

func polymul(a, b []float64) []float64 {
	if len(a) == 0 || len(b) == 0 {
		return nil
	}
	out := make([]float64, len(a)+len(b)-1)
	for i, x := range a {
		for j, y := range b {
			out[i+j] += x * y
		}
	}
	return out
}

// trimLeading removes leading (highest power) zero coefficients.
func trimLeading(c []float64) []float64 {
	for len(c) > 1 && c[0] == 0 {
		c = c[1:]
	}
	return c
}

// polyFromRoots expands Π(s - r) into real coefficients, descending powers.
// Roots must be closed under conjugation for the imaginary parts to vanish.
func polyFromRoots(roots []complex128) []float64 {
	acc := []complex128{1}
	for _, r := range roots {
		next := make([]complex128, len(acc)+1)
		for i, a := range acc {
			next[i] += a
			next[i+1] -= a * r
		}
		acc = next
	}
	out := make([]float64, len(acc))
	for i, a := range acc {
		out[i] = real(a)
	}
	return out
}

// polyRoots finds the roots of c (descending powers) as eigenvalues of the
// companion matrix. Trailing zero coefficients yield exact roots at 0.
func polyRoots(c []float64) ([]complex128, error) {
	c = trimLeading(c)
	var roots []complex128
	for len(c) > 1 && c[len(c)-1] == 0 {
		roots = append(roots, 0)
		c = c[:len(c)-1]
	}
	n := len(c) - 1
	if n < 1 {
		return roots, nil
	}
	if c[0] == 0 {
		return nil, fmt.Errorf("%w: zero polynomial", ErrInvalidModel)
	}
	if n == 1 {
		return append(roots, complex(-c[1]/c[0], 0)), nil
	}

	companion := mat.NewDense(n, n, nil)
	for j := 0; j < n; j++ {
		companion.Set(0, j, -c[j+1]/c[0])
	}
	for i := 1; i < n; i++ {
		companion.Set(i, i-1, 1)
	}

	var eig mat.Eigen
	if ok := eig.Factorize(companion, mat.EigenNone); !ok {
		return nil, fmt.Errorf("%w: eigen decomposition of degree-%d companion matrix did not converge", ErrInvalidModel, n)
	}
	return append(roots, eig.Values(nil)...), nil
}

// isConjugate reports whether a and b are complex conjugates within tol,
// relative to their magnitude.
func isConjugate(a, b complex128, tol float64) bool {
	scale := math.Max(1, math.Max(cmplx.Abs(a), cmplx.Abs(b)))
	return math.Abs(real(a)-real(b)) <= tol*scale && math.Abs(imag(a)+imag(b)) <= tol*scale
}

func isRealRoot(r complex128) bool {
	return math.Abs(imag(r)) <= conjugateTol*math.Max(1, cmplx.Abs(r))
}

// pairRoots splits roots into real roots and the upper-half-plane member of
// each conjugate pair. Near-real roots are snapped to the real axis and pair
// members are made exact conjugates.
func pairRoots(roots []complex128) (reals []float64, upper []complex128, err error) {
	used := make([]bool, len(roots))
	for i, r := range roots {
		if used[i] {
			continue
		}
		used[i] = true
		if isRealRoot(r) {
			reals = append(reals, real(r))
			continue
		}
		best := -1
		bestDist := math.Inf(1)
		for j := i + 1; j < len(roots); j++ {
			if used[j] || !isConjugate(r, roots[j], conjugateTol) {
				continue
			}
			if d := cmplx.Abs(cmplx.Conj(r) - roots[j]); d < bestDist {
				best, bestDist = j, d
			}
		}
		if best < 0 {
			return nil, nil, fmt.Errorf("%w: root %v has no conjugate partner", ErrInvalidModel, r)
		}
		used[best] = true
		mid := (r + cmplx.Conj(roots[best])) / 2
		if imag(mid) < 0 {
			mid = cmplx.Conj(mid)
		}
		upper = append(upper, mid)
	}
	return reals, upper, nil
}

// canonicalRoots returns conjugate-closed roots sorted by natural frequency,
// upper member of each pair first.
func canonicalRoots(roots []complex128) ([]complex128, error) {
	reals, upper, err := pairRoots(roots)
	if err != nil {
		return nil, err
	}
	out := make([]complex128, 0, len(roots))
	for _, r := range reals {
		out = append(out, complex(r, 0))
	}
	for _, u := range upper {
		out = append(out, u, cmplx.Conj(u))
	}
	sortRoots(out)
	return out, nil
}

func sortRoots(roots []complex128) {
	sort.SliceStable(roots, func(i, j int) bool {
		ai, aj := cmplx.Abs(roots[i]), cmplx.Abs(roots[j])
		if ai != aj {
			return ai < aj
		}
		if real(roots[i]) != real(roots[j]) {
			return real(roots[i]) < real(roots[j])
		}
		return imag(roots[i]) > imag(roots[j])
	})
}
