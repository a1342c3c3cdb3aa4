package kontrol

import (
	"fmt"
	"math"
	"math/cmplx"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// StripReport describes what StripSpuriousRoots changed.
type StripReport struct {
	// Removed counts roots above the band absorbed into the gain.
	Removed int
	// Moved counts roots below the band moved to the origin.
	Moved int
	// Cancelled counts pole/zero pairs that then met at the origin.
	Cancelled int
	// MaxRelativeError bounds the in-band change of |H| caused by the
	// removals and moves.
	MaxRelativeError float64
}

// StripSpuriousRoots drops roots lying more than threshold decades outside
// [fmin, fmax] Hz. Inside the band a root r far above it acts like the
// constant −r and is folded into the gain. A root far below acts like s and is
// moved to the origin, where it may cancel against a root of the other kind.
// Each such change alters the in-band magnitude by a factor within
// [1−ε, 1/(1−ε)] with ε = 10^−threshold, and the report carries the
// compounded bound.
func StripSpuriousRoots(model *ZPK, fmin, fmax, threshold float64) (*ZPK, StripReport, error) {
	var report StripReport
	if !(fmin > 0) || !(fmax > fmin) {
		return nil, report, fmt.Errorf("%w: band [%g, %g] Hz", ErrInputShape, fmin, fmax)
	}
	if !(threshold > 0) {
		return nil, report, fmt.Errorf("%w: threshold must be a positive number of decades, got %g", ErrInputShape, threshold)
	}
	lo := 2 * math.Pi * fmin / math.Pow(10, threshold)
	hi := 2 * math.Pi * fmax * math.Pow(10, threshold)

	k := complex(model.gain, 0)
	var zeros, poles []complex128
	zOrigin, pOrigin := 0, 0
	for _, z := range model.zeros {
		switch a := cmplx.Abs(z); {
		case a > hi:
			k *= -z
			report.Removed++
		case a == 0:
			zOrigin++
		case a < lo:
			zOrigin++
			report.Moved++
		default:
			zeros = append(zeros, z)
		}
	}
	for _, p := range model.poles {
		switch a := cmplx.Abs(p); {
		case a > hi:
			k /= -p
			report.Removed++
		case a == 0:
			pOrigin++
		case a < lo:
			pOrigin++
			report.Moved++
		default:
			poles = append(poles, p)
		}
	}
	report.Cancelled = min(zOrigin, pOrigin)
	for i := 0; i < zOrigin-report.Cancelled; i++ {
		zeros = append(zeros, 0)
	}
	for i := 0; i < pOrigin-report.Cancelled; i++ {
		poles = append(poles, 0)
	}

	eps := math.Pow(10, -threshold)
	if changed := report.Removed + report.Moved; changed > 0 {
		report.MaxRelativeError = math.Pow(1-eps, -float64(changed)) - 1
	}

	out, err := NewZPK(zeros, poles, real(k))
	if err != nil {
		return nil, report, err
	}
	return out, report, nil
}

// rootGroup is a real root or the upper member of a conjugate pair.
type rootGroup struct {
	root complex128
	pair bool
}

func groupRoots(roots []complex128) []rootGroup {
	reals, upper, _ := pairRoots(roots)
	out := make([]rootGroup, 0, len(reals)+len(upper))
	for _, r := range reals {
		out = append(out, rootGroup{root: complex(r, 0)})
	}
	for _, u := range upper {
		out = append(out, rootGroup{root: u, pair: true})
	}
	return out
}

func ungroup(groups []rootGroup) []complex128 {
	var out []complex128
	for _, g := range groups {
		out = append(out, g.root)
		if g.pair {
			out = append(out, cmplx.Conj(g.root))
		}
	}
	return out
}

type cancellation struct {
	zero, pole int
	dist       float64
}

// cancellations lists pole/zero pairs of the same kind ordered by relative
// distance, nearest first.
func cancellations(zeros, poles []rootGroup) []cancellation {
	var out []cancellation
	for i, z := range zeros {
		for j, p := range poles {
			if z.pair != p.pair {
				continue
			}
			scale := math.Max(cmplx.Abs(z.root), cmplx.Abs(p.root))
			d := 0.0
			if scale > 0 {
				d = cmplx.Abs(z.root-p.root) / scale
			}
			out = append(out, cancellation{zero: i, pole: j, dist: d})
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].dist < out[b].dist })
	return out
}

func without(groups []rootGroup, i int) []rootGroup {
	out := make([]rootGroup, 0, len(groups)-1)
	out = append(out, groups[:i]...)
	return append(out, groups[i+1:]...)
}

// Minreal cancels every pole/zero pair whose relative distance is at most
// tol, leaving the gain and so the high-frequency asymptote unchanged.
func Minreal(model *ZPK, tol float64) (*ZPK, error) {
	zeros, poles := groupRoots(model.zeros), groupRoots(model.poles)
	for {
		c := cancellations(zeros, poles)
		if len(c) == 0 || c[0].dist > tol {
			break
		}
		zeros, poles = without(zeros, c[0].zero), without(poles, c[0].pole)
	}
	return NewZPK(ungroup(zeros), ungroup(poles), model.gain)
}

// ReduceOrder cancels nearly coincident pole/zero pairs until the model
// order is at most target. After each cancellation the gain is re-centred so
// the magnitude ratio to the original model is balanced around 1, and the
// change is checked on a log grid over [fmin, fmax] Hz. A cancellation is
// accepted only if |H_reduced|/|H_original| stays within 1 ± tolerance
// everywhere on the grid. When no acceptable cancellation is left before the
// target is reached, ErrOrderReduction is returned.
func ReduceOrder(model *ZPK, fmin, fmax float64, target int, tolerance float64) (*ZPK, error) {
	if !(fmin > 0) || !(fmax > fmin) {
		return nil, fmt.Errorf("%w: band [%g, %g] Hz", ErrInputShape, fmin, fmax)
	}
	if target < 0 || tolerance < 0 {
		return nil, fmt.Errorf("%w: target order %d, tolerance %g", ErrInputShape, target, tolerance)
	}

	grid := floats.LogSpan(make([]float64, 512), fmin, fmax)
	ref := make([]float64, len(grid))
	for i, f := range grid {
		ref[i] = cmplx.Abs(model.At(complex(0, 2*math.Pi*f)))
		if !(ref[i] > 0) || math.IsInf(ref[i], 0) {
			return nil, fmt.Errorf("%w: |H| is %g at %g Hz", ErrNonFinite, ref[i], f)
		}
	}

	current := model
	for current.Order() > target {
		zeros, poles := groupRoots(current.zeros), groupRoots(current.poles)
		var next *ZPK
		for _, c := range cancellations(zeros, poles) {
			candidate, dev := recentred(without(zeros, c.zero), without(poles, c.pole), current.gain, grid, ref)
			if candidate != nil && dev <= tolerance {
				next = candidate
				break
			}
		}
		if next == nil {
			return nil, fmt.Errorf("%w: stuck at order %d (target %d) within tolerance %g", ErrOrderReduction, current.Order(), target, tolerance)
		}
		current = next
	}
	return current, nil
}

// recentred builds the reduced model, rescales its gain so that the min and
// max magnitude ratio to ref are symmetric about 1 in log scale, and returns
// the worst relative deviation.
func recentred(zeros, poles []rootGroup, gain float64, grid, ref []float64) (*ZPK, float64) {
	m, err := NewZPK(ungroup(zeros), ungroup(poles), gain)
	if err != nil {
		return nil, math.Inf(1)
	}
	ratio := make([]float64, len(grid))
	for i, f := range grid {
		ratio[i] = cmplx.Abs(m.At(complex(0, 2*math.Pi*f))) / ref[i]
	}
	lo, hi := floats.Min(ratio), floats.Max(ratio)
	if !(lo > 0) || math.IsInf(hi, 0) {
		return nil, math.Inf(1)
	}
	c := 1 / math.Sqrt(lo*hi)
	dev := 0.0
	for _, r := range ratio {
		dev = math.Max(dev, math.Abs(c*r-1))
	}
	m.gain *= c
	return m, dev
}
