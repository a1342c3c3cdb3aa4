package kontrol

import (
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/maorshutman/lm"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/optimize"
)

// Objective is the scalar function an Optimizer minimizes. Any error from
// Func aborts the search. Residuals and Size are only set for least-squares
// costs.
type Objective struct {
	Func      func(x []float64) (float64, error)
	Residuals func(dst, x []float64) error
	Size      int
}

// SearchSpace describes where to search. Global optimizers need Bounds,
// local optimizers need Initial.
type SearchSpace struct {
	Bounds  [][2]float64
	Initial []float64
}

// Dim is the number of parameters.
func (s SearchSpace) Dim() int {
	if len(s.Bounds) > 0 {
		return len(s.Bounds)
	}
	return len(s.Initial)
}

func (s SearchSpace) requireBounds(name string) error {
	if len(s.Bounds) == 0 {
		return fmt.Errorf("%w: %s requires bounds for every parameter", ErrInputShape, name)
	}
	for i, b := range s.Bounds {
		if !(b[0] <= b[1]) || math.IsInf(b[0], 0) || math.IsInf(b[1], 0) {
			return fmt.Errorf("%w: bound %d is (%g, %g)", ErrInputShape, i, b[0], b[1])
		}
	}
	if len(s.Initial) > 0 && len(s.Initial) != len(s.Bounds) {
		return fmt.Errorf("%w: %d initial values for %d bounds", ErrInputShape, len(s.Initial), len(s.Bounds))
	}
	return nil
}

func (s SearchSpace) requireInitial(name string) error {
	if len(s.Initial) == 0 {
		return fmt.Errorf("%w: %s requires an initial guess", ErrInputShape, name)
	}
	if len(s.Bounds) > 0 && len(s.Bounds) != len(s.Initial) {
		return fmt.Errorf("%w: %d initial values for %d bounds", ErrInputShape, len(s.Initial), len(s.Bounds))
	}
	return nil
}

// OptimizeResult is the outcome of a search.
type OptimizeResult struct {
	X               []float64
	F               float64
	Iterations      int
	FuncEvaluations int
	Runtime         time.Duration
	Status          string
}

// Optimizer minimizes an objective over a search space. Global optimizers
// sample inside the bounds, local optimizers refine an initial guess.
type Optimizer interface {
	Minimize(obj Objective, space SearchSpace) (OptimizeResult, error)
}

// guard records the first failure seen while gonum drives the objective and
// reports it through Problem.Status.
type guard struct {
	mu  sync.Mutex
	err error
	fn  func([]float64) (float64, error)
}

func (g *guard) fail(err error) {
	g.mu.Lock()
	if g.err == nil {
		g.err = err
	}
	g.mu.Unlock()
}

func (g *guard) failed() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}

func (g *guard) eval(x []float64) float64 {
	v, err := g.fn(x)
	if err == nil && (math.IsNaN(v) || math.IsInf(v, 0)) {
		err = fmt.Errorf("%w: cost %g at %v", ErrNonFinite, v, x)
	}
	if err != nil {
		g.fail(err)
		return math.Inf(1)
	}
	return v
}

func (g *guard) status() (optimize.Status, error) {
	if err := g.failed(); err != nil {
		return optimize.Failure, err
	}
	return optimize.NotTerminated, nil
}

func runGonum(name string, problem optimize.Problem, g *guard, x0 []float64, settings *optimize.Settings, method optimize.Method) (OptimizeResult, error) {
	res, err := optimize.Minimize(problem, x0, settings, method)
	if ferr := g.failed(); ferr != nil {
		return OptimizeResult{}, fmt.Errorf("%w: %s: %w", ErrOptimizerFailure, name, ferr)
	}
	if err != nil {
		return OptimizeResult{}, fmt.Errorf("%w: %s: %v", ErrOptimizerFailure, name, err)
	}
	if res == nil || math.IsNaN(res.F) || math.IsInf(res.F, 0) {
		return OptimizeResult{}, fmt.Errorf("%w: %s ended without a finite optimum", ErrOptimizerFailure, name)
	}
	return OptimizeResult{
		X:               res.X,
		F:               res.F,
		Iterations:      res.MajorIterations,
		FuncEvaluations: res.FuncEvaluations,
		Runtime:         res.Runtime,
		Status:          res.Status.String(),
	}, nil
}

// NelderMead is the derivative-free downhill simplex. The search is restarted
// from its own optimum while that keeps lowering the cost.
type NelderMead struct {
	// Restarts is the number of extra runs from the previous optimum.
	Restarts int
	// MaxEvaluations caps cost evaluations per run, 0 means 200000.
	MaxEvaluations int
	// Tol is the absolute cost improvement below which a run stops,
	// 0 means 1e-14.
	Tol float64
	// SimplexSize is the initial simplex edge, 0 means gonum's default.
	SimplexSize float64
}

// Minimize runs the simplex from space.Initial.
func (nm *NelderMead) Minimize(obj Objective, space SearchSpace) (OptimizeResult, error) {
	if err := space.requireInitial("nelder-mead"); err != nil {
		return OptimizeResult{}, err
	}
	maxEval := nm.MaxEvaluations
	if maxEval <= 0 {
		maxEval = 200000
	}
	tol := nm.Tol
	if tol <= 0 {
		tol = 1e-14
	}

	start := time.Now()
	x0 := append([]float64(nil), space.Initial...)
	best := OptimizeResult{F: math.Inf(1)}
	iters, evals := 0, 0

	for run := 0; run <= nm.Restarts; run++ {
		g := &guard{fn: obj.Func}
		problem := optimize.Problem{Func: g.eval, Status: g.status}
		settings := &optimize.Settings{
			Converger:       &optimize.FunctionConverge{Absolute: tol, Iterations: 200},
			FuncEvaluations: maxEval,
		}
		res, err := runGonum("nelder-mead", problem, g, x0, settings, &optimize.NelderMead{SimplexSize: nm.SimplexSize})
		if err != nil {
			return OptimizeResult{}, err
		}
		iters += res.Iterations
		evals += res.FuncEvaluations

		if res.F >= best.F {
			break
		}
		best = res
		x0 = append([]float64(nil), res.X...)
	}

	best.Iterations = iters
	best.FuncEvaluations = evals
	best.Runtime = time.Since(start)
	return best, nil
}

// LBFGS is the limited-memory quasi-Newton method with a central-difference
// gradient.
type LBFGS struct {
	// GradientThreshold stops the search once the gradient norm falls below
	// it, 0 means 1e-8.
	GradientThreshold float64
	MaxEvaluations    int
}

// Minimize runs L-BFGS from space.Initial.
func (l *LBFGS) Minimize(obj Objective, space SearchSpace) (OptimizeResult, error) {
	if err := space.requireInitial("lbfgs"); err != nil {
		return OptimizeResult{}, err
	}
	threshold := l.GradientThreshold
	if threshold <= 0 {
		threshold = 1e-8
	}

	g := &guard{fn: obj.Func}
	grad := func(grad, x []float64) {
		fd.Gradient(grad, g.eval, x, &fd.Settings{Formula: fd.Central})
	}
	problem := optimize.Problem{Func: g.eval, Grad: grad, Status: g.status}
	settings := &optimize.Settings{
		GradientThreshold: threshold,
		Converger:         &optimize.FunctionConverge{Absolute: 1e-14, Iterations: 50},
		FuncEvaluations:   l.MaxEvaluations,
	}
	return runGonum("lbfgs", problem, g, append([]float64(nil), space.Initial...), settings, &optimize.LBFGS{})
}

// LevenbergMarquardt solves least-squares problems. The objective must provide
// Residuals.
type LevenbergMarquardt struct {
	// Iterations caps the LM iterations, 0 means 10000.
	Iterations int
}

// Minimize runs Levenberg-Marquardt from space.Initial.
func (l *LevenbergMarquardt) Minimize(obj Objective, space SearchSpace) (res OptimizeResult, err error) {
	if err := space.requireInitial("levenberg-marquardt"); err != nil {
		return OptimizeResult{}, err
	}
	if obj.Residuals == nil || obj.Size == 0 {
		return OptimizeResult{}, fmt.Errorf("%w: levenberg-marquardt requires a least-squares cost", ErrInputShape)
	}
	iterations := l.Iterations
	if iterations <= 0 {
		iterations = 10000
	}

	g := &guard{}
	fnc := func(dst, x []float64) {
		if err := obj.Residuals(dst, x); err != nil {
			g.fail(err)
		}
		for i, v := range dst {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				g.fail(fmt.Errorf("%w: residual %d is %g at %v", ErrNonFinite, i, v, x))
				break
			}
		}
	}
	jac := lm.NumJac{Func: fnc}
	problem := lm.LMProblem{
		Dim:        len(space.Initial),
		Size:       obj.Size,
		Func:       fnc,
		Jac:        jac.Jac,
		InitParams: append([]float64(nil), space.Initial...),
		Tau:        1e-6,
		Eps1:       1e-12,
		Eps2:       1e-12,
	}

	// Singular normal equations panic inside lm.
	defer func() {
		if r := recover(); r != nil {
			res = OptimizeResult{}
			err = fmt.Errorf("%w: levenberg-marquardt: %v", ErrOptimizerFailure, r)
		}
	}()

	start := time.Now()
	out, lmErr := lm.LM(problem, &lm.Settings{Iterations: iterations, ObjectiveTol: 1e-16})
	if ferr := g.failed(); ferr != nil {
		return OptimizeResult{}, fmt.Errorf("%w: levenberg-marquardt: %w", ErrOptimizerFailure, ferr)
	}
	if lmErr != nil {
		return OptimizeResult{}, fmt.Errorf("%w: levenberg-marquardt: %v", ErrOptimizerFailure, lmErr)
	}
	f, ferr := obj.Func(out.X)
	if ferr != nil {
		return OptimizeResult{}, fmt.Errorf("%w: levenberg-marquardt: %w", ErrOptimizerFailure, ferr)
	}
	return OptimizeResult{
		X:       out.X,
		F:       f,
		Runtime: time.Since(start),
		Status:  "Success",
	}, nil
}

// CMAES is the covariance matrix adaptation evolution strategy. It searches
// the box given by the bounds, clamping candidates onto it.
type CMAES struct {
	Seed uint64
	// Population is the number of samples per generation, 0 means gonum's
	// default for the dimension.
	Population int
	// Workers evaluates a generation concurrently when above 1.
	Workers        int
	MaxEvaluations int
	// Polish refines the result like DifferentialEvolution.Polish.
	Polish Optimizer
}

// Minimize runs CMA-ES inside space.Bounds, starting from the box centre or
// space.Initial.
func (c *CMAES) Minimize(obj Objective, space SearchSpace) (OptimizeResult, error) {
	if err := space.requireBounds("cmaes"); err != nil {
		return OptimizeResult{}, err
	}
	dim := space.Dim()
	x0 := make([]float64, dim)
	width := 0.0
	for i, b := range space.Bounds {
		x0[i] = 0.5 * (b[0] + b[1])
		width += (b[1] - b[0]) / float64(dim)
	}
	if len(space.Initial) > 0 {
		copy(x0, space.Initial)
	}
	if width == 0 {
		width = 1
	}
	maxEval := c.MaxEvaluations
	if maxEval <= 0 {
		maxEval = 1000 * dim * dim
	}

	clamped := func(x []float64) (float64, error) {
		return obj.Func(clampToBounds(x, space.Bounds))
	}
	g := &guard{fn: clamped}
	problem := optimize.Problem{Func: g.eval, Status: g.status}
	settings := &optimize.Settings{
		FuncEvaluations: maxEval,
		Concurrent:      max(c.Workers, 0),
	}
	method := &optimize.CmaEsChol{
		InitStepSize: 0.3 * width,
		Population:   c.Population,
		Src:          rand.NewPCG(c.Seed, c.Seed^0x9e3779b97f4a7c15),
	}
	res, err := runGonum("cmaes", problem, g, x0, settings, method)
	if err != nil {
		return OptimizeResult{}, err
	}
	res.X = clampToBounds(res.X, space.Bounds)
	res = polish("cmaes", c.Polish, obj, space, res)
	log.Printf("cmaes: f=%.6e after %d evaluations", res.F, res.FuncEvaluations)
	return res, nil
}

// polish refines res with local. The refined point replaces res only if it is
// better and inside the bounds.
func polish(name string, local Optimizer, obj Objective, space SearchSpace, res OptimizeResult) OptimizeResult {
	if local == nil {
		return res
	}
	polished, err := local.Minimize(obj, SearchSpace{Initial: res.X})
	if err != nil {
		log.Printf("%s: polish skipped: %v", name, err)
		return res
	}
	res.FuncEvaluations += polished.FuncEvaluations
	if polished.F < res.F && inBounds(polished.X, space.Bounds) {
		res.X, res.F = polished.X, polished.F
		res.Status += "+Polished"
	}
	return res
}

func clampToBounds(x []float64, bounds [][2]float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = math.Min(math.Max(v, bounds[i][0]), bounds[i][1])
	}
	return out
}
