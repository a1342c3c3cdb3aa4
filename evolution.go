package kontrol

import (
	"fmt"
	"math"
	"math/rand/v2"
	"runtime"
	"time"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/terrencetec/kontrol/pkg/worker"
)

// DifferentialEvolution is a seeded, bounded population search (best/1/bin
// with dithered mutation and deferred updating). Like any stochastic global
// method it is not guaranteed to reach the global optimum within its
// iteration budget, and a result should be judged by its cost.
//
// Each generation draws all trial vectors serially from the seeded source,
// evaluates them in parallel into indexed slots and then selects in index
// order. Ties for the best candidate go to the lowest index, so the result
// depends only on the seed, never on worker scheduling.
type DifferentialEvolution struct {
	Seed uint64
	// PopulationSize is a multiplier on the dimension, 0 means 15.
	PopulationSize int
	// MaxIterations caps the generations, 0 means 1000.
	MaxIterations int
	// Mutation is the dither range of the differential weight, zero means
	// [0.5, 1).
	Mutation [2]float64
	// Recombination is the crossover probability, 0 means 0.7.
	Recombination float64
	// Tol and Atol stop the search once the population costs satisfy
	// std <= Atol + Tol·|mean|. Tol 0 means 0.01.
	Tol  float64
	Atol float64
	// Workers evaluates candidates in parallel, 0 means GOMAXPROCS and 1
	// evaluates serially.
	Workers int
	// Polish refines the best candidate with a local optimizer. The polished
	// point is kept only if it is better and inside the bounds.
	Polish Optimizer
}

func (de *DifferentialEvolution) defaults() (popMul, maxIter int, mut [2]float64, cr, tol float64, workers int) {
	popMul, maxIter, mut, cr, tol, workers = de.PopulationSize, de.MaxIterations, de.Mutation, de.Recombination, de.Tol, de.Workers
	if popMul <= 0 {
		popMul = 15
	}
	if maxIter <= 0 {
		maxIter = 1000
	}
	if mut == [2]float64{} {
		mut = [2]float64{0.5, 1}
	}
	if cr <= 0 {
		cr = 0.7
	}
	if tol <= 0 {
		tol = 0.01
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return
}

// Minimize searches space.Bounds. space.Initial, if given, replaces the first
// member of the initial population.
func (de *DifferentialEvolution) Minimize(obj Objective, space SearchSpace) (OptimizeResult, error) {
	if err := space.requireBounds("differential evolution"); err != nil {
		return OptimizeResult{}, err
	}
	popMul, maxIter, mut, cr, tol, workers := de.defaults()
	dim := space.Dim()
	np := max(5, popMul*dim)
	start := time.Now()

	src := rand.NewPCG(de.Seed, de.Seed^0x9e3779b97f4a7c15)
	rng := rand.New(src)
	unit := distuv.Uniform{Min: 0, Max: 1, Src: src}
	dists := make([]distuv.Uniform, dim)
	for j, b := range space.Bounds {
		dists[j] = distuv.Uniform{Min: b[0], Max: b[1], Src: src}
	}

	eval := func(x []float64) (float64, error) {
		v, err := obj.Func(x)
		if err != nil {
			return 0, err
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, fmt.Errorf("%w: cost %g at %v", ErrNonFinite, v, x)
		}
		return v, nil
	}

	var pool *worker.Pool[[]float64, float64]
	if workers > 1 {
		pool = worker.New(worker.Options[[]float64, float64]{
			Workers:   workers,
			Processor: eval,
			Quiet:     true,
		})
		defer pool.Shutdown()
	}
	evaluate := func(xs [][]float64) ([]float64, error) {
		costs := make([]float64, len(xs))
		if pool == nil {
			for i, x := range xs {
				v, err := eval(x)
				if err != nil {
					return nil, err
				}
				costs[i] = v
			}
			return costs, nil
		}
		for i, r := range pool.Map(xs) {
			if r.Err != nil {
				return nil, r.Err
			}
			costs[i] = r.Value
		}
		return costs, nil
	}

	// Latin hypercube initialisation: one sample per stratum per dimension.
	pop := make([][]float64, np)
	for i := range pop {
		pop[i] = make([]float64, dim)
	}
	for j, b := range space.Bounds {
		perm := rng.Perm(np)
		for i := range pop {
			u := (float64(perm[i]) + unit.Rand()) / float64(np)
			pop[i][j] = b[0] + u*(b[1]-b[0])
		}
	}
	if len(space.Initial) > 0 {
		copy(pop[0], clampToBounds(space.Initial, space.Bounds))
	}

	energies, err := evaluate(pop)
	if err != nil {
		return OptimizeResult{}, fmt.Errorf("%w: differential evolution: %w", ErrOptimizerFailure, err)
	}
	evals := np
	best := argmin(energies)

	status := "IterationLimit"
	gen := 0
	for gen < maxIter {
		gen++
		f := mut[0] + unit.Rand()*(mut[1]-mut[0])

		trials := make([][]float64, np)
		for i := range trials {
			r1, r2 := pickTwo(rng, np, i)
			trial := append([]float64(nil), pop[i]...)
			jrand := rng.IntN(dim)
			for j := 0; j < dim; j++ {
				if j == jrand || unit.Rand() < cr {
					trial[j] = pop[best][j] + f*(pop[r1][j]-pop[r2][j])
				}
			}
			for j, b := range space.Bounds {
				if trial[j] < b[0] || trial[j] > b[1] {
					trial[j] = dists[j].Rand()
				}
			}
			trials[i] = trial
		}

		costs, err := evaluate(trials)
		if err != nil {
			return OptimizeResult{}, fmt.Errorf("%w: differential evolution: %w", ErrOptimizerFailure, err)
		}
		evals += np
		for i, c := range costs {
			if c <= energies[i] {
				pop[i] = trials[i]
				energies[i] = c
			}
		}
		best = argmin(energies)

		mean, std := stat.MeanStdDev(energies, nil)
		if std <= de.Atol+tol*math.Abs(mean) {
			status = "Converged"
			break
		}
	}

	res := OptimizeResult{
		X:               append([]float64(nil), pop[best]...),
		F:               energies[best],
		Iterations:      gen,
		FuncEvaluations: evals,
		Status:          status,
	}

	res = polish("differential evolution", de.Polish, obj, space, res)

	res.Runtime = time.Since(start)
	return res, nil
}

// argmin returns the lowest index holding the minimum.
func argmin(v []float64) int {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] < v[best] {
			best = i
		}
	}
	return best
}

// pickTwo draws two distinct indices in [0, n) that differ from exclude.
func pickTwo(rng *rand.Rand, n, exclude int) (int, int) {
	r1 := rng.IntN(n - 1)
	if r1 >= exclude {
		r1++
	}
	for {
		r2 := rng.IntN(n - 1)
		if r2 >= exclude {
			r2++
		}
		if r2 != r1 {
			return r1, r2
		}
	}
}

func inBounds(x []float64, bounds [][2]float64) bool {
	for i, v := range x {
		if v < bounds[i][0] || v > bounds[i][1] {
			return false
		}
	}
	return true
}
