package classifier

import (
	"errors"
	"fmt"
	"math"

	"github.com/born-ml/trainer/internal/config"
)

const (
	probEps = 1e-4

	// DefaultBeta is the default momentum of the target estimates.
	DefaultBeta = 0.7
	// DefaultLambda is the default weight of the regularization term.
	DefaultLambda = 3.0
)

// Loss is the outcome of one criterion evaluation.
type Loss struct {
	CE    float64
	Reg   float64
	Total float64
	// Grad is d(Total)/d(logits), row-major [batch, classes].
	Grad []float32
}

// Criterion is cross-entropy with an early-learning regularizer. It keeps a
// running estimate of every training sample's target distribution (the
// master vector) and penalizes predictions that drift away from it:
//
//	t_i  <- beta*t_i + (1-beta)*p_i
//	reg   = mean(log(1 - <t_i, p_i>))
//	total = ce + lambda*reg
//
// While the master flag is set, a sample's first update overwrites its
// estimate instead of blending with the zero initialization.
type Criterion struct {
	classes int
	beta    float64
	lambda  float64

	target     []float32 // [numSamples, classes]
	seen       []bool
	masterFlag bool
}

// NewCriterion returns a criterion for numSamples training samples.
func NewCriterion(numSamples, classes int, beta, lambda float64) *Criterion {
	return &Criterion{
		classes:    classes,
		beta:       beta,
		lambda:     lambda,
		target:     make([]float32, numSamples*classes),
		seen:       make([]bool, numSamples),
		masterFlag: true,
	}
}

// NewCriterionFromConfig builds a criterion from a train_loss section.
// Types: "ELR" (args: beta, lambda) and "CrossEntropy".
func NewCriterionFromConfig(spec config.Object, numSamples, classes int) (*Criterion, error) {
	switch spec.Type {
	case "ELR":
		beta := spec.Float("beta", DefaultBeta)
		if beta < 0 || beta >= 1 {
			return nil, fmt.Errorf("train_loss.args.beta must be in [0, 1), got %v", beta)
		}
		return NewCriterion(numSamples, classes, beta, spec.Float("lambda", DefaultLambda)), nil
	case "CrossEntropy":
		return NewCriterion(numSamples, classes, 0, 0), nil
	default:
		return nil, fmt.Errorf("unknown train loss type %q", spec.Type)
	}
}

// NumSamples returns the number of samples with a target estimate.
func (c *Criterion) NumSamples() int { return len(c.seen) }

// Regularized reports whether the criterion adds the regularization term.
func (c *Criterion) Regularized() bool { return c.lambda != 0 }

// MasterFlag reports whether estimates are still being initialized.
func (c *Criterion) MasterFlag() bool { return c.masterFlag }

// EndEpoch marks the estimates as initialized.
func (c *Criterion) EndEpoch() { c.masterFlag = false }

// MasterVector returns a copy of the target estimates, or nil when the
// criterion is not regularized and keeps no estimates.
func (c *Criterion) MasterVector() []float32 {
	if !c.Regularized() {
		return nil
	}
	return append([]float32(nil), c.target...)
}

// RestoreMasterVector replaces the target estimates. A nil vector leaves the
// estimates untouched. The master flag is cleared either way.
func (c *Criterion) RestoreMasterVector(v []float32) error {
	c.masterFlag = false
	if v == nil {
		return nil
	}
	if len(v) != len(c.target) {
		return fmt.Errorf("master vector has %d values, want %d", len(v), len(c.target))
	}
	copy(c.target, v)
	for i := range c.seen {
		c.seen[i] = true
	}
	return nil
}

// Forward evaluates the loss of a batch. When regularize is set and the
// criterion is regularized, the estimates of the batch samples are updated
// first and the regularization term is included in Total and Grad.
func (c *Criterion) Forward(indices []int, logits []float32, labels []int32, regularize bool) (Loss, error) {
	n := len(labels)
	k := c.classes
	if n == 0 {
		return Loss{}, errors.New("empty batch")
	}
	if len(logits) != n*k {
		return Loss{}, fmt.Errorf("logits have %d values, want %d", len(logits), n*k)
	}
	regularize = regularize && c.Regularized()
	if regularize && len(indices) != n {
		return Loss{}, fmt.Errorf("batch has %d indices for %d labels", len(indices), n)
	}

	var out Loss
	out.Grad = make([]float32, n*k)
	p := make([]float64, k)
	scale := 1 / float64(n)

	for row := 0; row < n; row++ {
		label := int(labels[row])
		if label < 0 || label >= k {
			return Loss{}, fmt.Errorf("label %d out of range [0, %d)", label, k)
		}
		logSumExp := softmax(p, logits[row*k:(row+1)*k])
		out.CE += (logSumExp - float64(logits[row*k+label])) * scale

		grad := out.Grad[row*k : (row+1)*k]
		for j := range grad {
			g := p[j]
			if j == label {
				g--
			}
			grad[j] = float32(g * scale)
		}

		if !regularize {
			continue
		}
		idx := indices[row]
		if idx < 0 || idx >= len(c.seen) {
			return Loss{}, fmt.Errorf("sample index %d out of range [0, %d)", idx, len(c.seen))
		}
		t := c.target[idx*k : (idx+1)*k]
		c.updateTarget(idx, t, p)

		// q uses clamped probabilities; clamped entries carry no gradient.
		var q, s float64
		for j, pj := range p {
			cj := clamp(pj)
			q += float64(t[j]) * cj
			if cj == pj {
				s += float64(t[j]) * pj
			}
		}
		q = math.Min(q, 1-probEps)
		out.Reg += math.Log(1-q) * scale

		coef := -c.lambda * scale / (1 - q)
		for j, pj := range p {
			tj := 0.0
			if clamp(pj) == pj {
				tj = float64(t[j])
			}
			grad[j] += float32(coef * pj * (tj - s))
		}
	}

	out.Total = out.CE + c.lambda*out.Reg
	return out, nil
}

func (c *Criterion) updateTarget(idx int, t []float32, p []float64) {
	var sum float64
	for _, pj := range p {
		sum += clamp(pj)
	}
	overwrite := c.masterFlag && !c.seen[idx]
	for j, pj := range p {
		norm := clamp(pj) / sum
		if overwrite {
			t[j] = float32(norm)
		} else {
			t[j] = float32(c.beta*float64(t[j]) + (1-c.beta)*norm)
		}
	}
	c.seen[idx] = true
}

// softmax writes the softmax of logits into p and returns log(sum(exp)).
func softmax(p []float64, logits []float32) float64 {
	maxLogit := math.Inf(-1)
	for _, z := range logits {
		maxLogit = math.Max(maxLogit, float64(z))
	}
	var sum float64
	for j, z := range logits {
		p[j] = math.Exp(float64(z) - maxLogit)
		sum += p[j]
	}
	for j := range p {
		p[j] /= sum
	}
	return maxLogit + math.Log(sum)
}

func clamp(p float64) float64 {
	return math.Max(probEps, math.Min(1-probEps, p))
}
