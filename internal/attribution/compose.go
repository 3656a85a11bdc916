package attribution

import "math"

// degenerateTolerance is the relative size below which a learner's total Level 1
// attribution is treated as zero.
const degenerateTolerance = 1e-9

// chainRule maps Level 2 contributions back onto raw features. Each base learner's
// Level 2 share is split across the raw features in proportion to that learner's Level 1
// contributions:
//
//	phi3[j] = sum_L phi1[L][j] * phi2[L] / delta_L + phi2_pass[j],  delta_L = sum_j phi1[L][j]
//
// When delta_L is (numerically) zero the share is split by |phi1[L][j]|, or evenly if
// every phi1[L][j] is zero. Pass-through inputs credit their raw feature directly. The
// result sums to the Level 2 total, so it inherits the Level 2 baseline and output.
//
// The even split is the one place Level 3 gives up the null-input property: a learner
// whose output does not move between the reference and x can still receive a non-zero
// Level 2 share from a non-linear meta learner, and that share lands on every raw
// feature, including ones that contributed nothing at Level 1. Additivity wins.
func chainRule(names []string, learners []Contribution, meta Contribution, passthrough []int) Contribution {
	n := len(names)
	phi := make([]float64, n)
	samples := meta.Samples
	truncated := meta.Truncated

	for l, c := range learners {
		samples += c.Samples
		truncated = truncated || c.Truncated

		share := meta.Values[l]
		var delta, norm float64
		for _, v := range c.Values {
			delta += v
			norm += math.Abs(v)
		}
		switch {
		case math.Abs(delta) > degenerateTolerance*math.Max(1, norm):
			for j, v := range c.Values {
				phi[j] += v * share / delta
			}
		case norm > 0:
			for j, v := range c.Values {
				phi[j] += share * math.Abs(v) / norm
			}
		default:
			for j := range phi {
				phi[j] += share / float64(n)
			}
		}
	}

	for p, j := range passthrough {
		phi[j] += meta.Values[len(learners)+p]
	}

	return Contribution{
		Model:         PipelineModel,
		Names:         append([]string(nil), names...),
		Values:        phi,
		Baseline:      meta.Baseline,
		ExpectedValue: meta.ExpectedValue,
		Output:        meta.Output,
		Method:        MethodChainRule,
		Samples:       samples,
		Truncated:     truncated,
	}
}
