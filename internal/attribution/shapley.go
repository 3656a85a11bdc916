package attribution

import (
	"context"
	"math"
	"math/bits"
	"math/rand/v2"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"
)

// pairBatch is how many permutation pairs are scheduled between two result allocations.
const pairBatch = 256

// valueFunc is the model under explanation. It must not retain or modify z.
type valueFunc func(z []float64) (float64, error)

// game is an interventional Shapley game. The players are the positions of x; an absent
// player takes its value from a reference row, and a coalition's value is the mean model
// output over the reference rows.
type game struct {
	model     string
	names     []string
	f         valueFunc
	x         []float64
	output    float64
	reference [][]float64
	expected  float64
	// stream separates the RNG streams of games solved within one request.
	stream uint64
}

func (g *game) players() int { return len(g.x) }

// solve enumerates coalitions when the game is small enough and samples otherwise.
// Sampling stops at deadline; cancellation of ctx is an error in both modes.
func (g *game) solve(ctx context.Context, deadline time.Time, b Budget) (Contribution, error) {
	if g.players() <= b.ExactMaxInputs {
		return g.exact(ctx, b.Workers)
	}
	return g.sample(ctx, deadline, b)
}

func (g *game) exact(ctx context.Context, workers int) (Contribution, error) {
	n := g.players()
	full := 1<<n - 1
	values := make([]float64, full+1)
	values[0] = g.expected
	values[full] = g.output

	eg, ectx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	chunk := max((full+workers-1)/workers, 1)
	for lo := 1; lo < full; lo += chunk {
		hi := min(lo+chunk, full)
		eg.Go(func() error {
			z := make([]float64, n)
			for m := lo; m < hi; m++ {
				if err := ectx.Err(); err != nil {
					return err
				}
				v, err := g.coalition(uint(m), z)
				if err != nil {
					return err
				}
				values[m] = v
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return Contribution{}, err
	}

	weights := shapleyWeights(n)
	phi := make([]float64, n)
	for m := 0; m < full; m++ {
		w := weights[bits.OnesCount(uint(m))]
		for i := 0; i < n; i++ {
			if m&(1<<i) != 0 {
				continue
			}
			phi[i] += w * (values[m|1<<i] - values[m])
		}
	}

	return Contribution{
		Model:         g.model,
		Names:         slices.Clone(g.names),
		Values:        phi,
		Baseline:      g.expected,
		ExpectedValue: g.expected,
		Output:        g.output,
		Method:        MethodExact,
		Samples:       full + 1,
	}, nil
}

// coalition returns the mean output with the players in mask taken from x and the rest
// from each reference row. z is scratch space of length n.
func (g *game) coalition(mask uint, z []float64) (float64, error) {
	var sum float64
	for _, r := range g.reference {
		for j := range z {
			if mask&(1<<j) != 0 {
				z[j] = g.x[j]
			} else {
				z[j] = r[j]
			}
		}
		v, err := g.f(z)
		if err != nil {
			return 0, err
		}
		sum += v
	}
	return sum / float64(len(g.reference)), nil
}

// shapleyWeights returns |S|!(n-|S|-1)!/n! indexed by |S|.
func shapleyWeights(n int) []float64 {
	w := make([]float64, n)
	binom := 1.0 // C(n-1, s)
	for s := 0; s < n; s++ {
		w[s] = 1 / (float64(n) * binom)
		binom = binom * float64(n-1-s) / float64(s+1)
	}
	return w
}

type pairResult struct {
	phi  []float64
	base float64
	done bool
}

// sample estimates the values from antithetic permutation pairs. Pair k draws one
// reference row and one permutation from its own RNG stream and walks it forwards and
// backwards; results are reduced in pair order, so the estimate depends only on the seed
// and the set of completed pairs.
func (g *game) sample(ctx context.Context, deadline time.Time, b Budget) (Contribution, error) {
	pairs := max(b.Samples/2, 1)
	results := make([]pairResult, 1, min(pairs, pairBatch+1))

	// pair 0 always runs so a truncated estimate has at least one sample
	if err := g.pair(0, b.Seed, &results[0]); err != nil {
		return Contribution{}, err
	}

	tctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	// results grows one batch at a time, so memory follows the work actually done
	// rather than the requested sample count.
	for next := 1; next < pairs && tctx.Err() == nil; {
		end := min(next+pairBatch, pairs)
		results = append(results, make([]pairResult, end-next)...)

		eg, ectx := errgroup.WithContext(tctx)
		eg.SetLimit(b.Workers)
		for k := next; k < end; k++ {
			if ectx.Err() != nil {
				break
			}
			eg.Go(func() error {
				if ectx.Err() != nil {
					return nil
				}
				return g.pair(k, b.Seed, &results[k])
			})
		}
		err := eg.Wait()
		if ctx.Err() != nil {
			return Contribution{}, ctx.Err()
		}
		if err != nil {
			return Contribution{}, err
		}
		next = end
	}
	if ctx.Err() != nil {
		return Contribution{}, ctx.Err()
	}

	return g.reduce(results, pairs), nil
}

func (g *game) pair(k int, seed uint64, res *pairResult) error {
	n := g.players()
	rng := rand.New(rand.NewPCG(seed, g.stream<<32|uint64(k)))
	r := g.reference[rng.IntN(len(g.reference))]
	perm := rng.Perm(n)

	base, err := g.f(r)
	if err != nil {
		return err
	}
	phi := make([]float64, n)
	if err := g.walk(perm, r, base, phi); err != nil {
		return err
	}
	slices.Reverse(perm)
	if err := g.walk(perm, r, base, phi); err != nil {
		return err
	}
	for i := range phi {
		phi[i] /= 2
	}

	res.phi, res.base, res.done = phi, base, true
	return nil
}

// walk moves from r to x one player at a time in order, crediting each player with the
// change in output. The increments telescope to output - f(r).
func (g *game) walk(order []int, r []float64, base float64, phi []float64) error {
	z := slices.Clone(r)
	prev := base
	for step, i := range order {
		z[i] = g.x[i]
		cur := g.output
		if step < len(order)-1 {
			var err error
			if cur, err = g.f(z); err != nil {
				return err
			}
		}
		phi[i] += cur - prev
		prev = cur
	}
	return nil
}

// reduce averages the completed pairs; fewer than requested means the budget ran out.
func (g *game) reduce(results []pairResult, requested int) Contribution {
	n := g.players()
	mean := make([]float64, n)
	var baseline float64
	completed := 0
	for _, res := range results {
		if !res.done {
			continue
		}
		completed++
		baseline += res.base
		for i, v := range res.phi {
			mean[i] += v
		}
	}
	k := float64(completed)
	baseline /= k
	for i := range mean {
		mean[i] /= k
	}

	stderr := make([]float64, n)
	if completed > 1 {
		for _, res := range results {
			if !res.done {
				continue
			}
			for i, v := range res.phi {
				d := v - mean[i]
				stderr[i] += d * d
			}
		}
		for i := range stderr {
			stderr[i] = math.Sqrt(stderr[i]/(k-1)) / math.Sqrt(k)
		}
	}

	return Contribution{
		Model:         g.model,
		Names:         slices.Clone(g.names),
		Values:        mean,
		StdErr:        stderr,
		Baseline:      baseline,
		ExpectedValue: g.expected,
		Output:        g.output,
		Method:        MethodSampling,
		Samples:       2 * completed,
		Truncated:     completed < requested,
	}
}
