package transform

import (
	"math"
	"math/rand/v2"

	"github.com/m-mizutani/goerr/v2"
	"gonum.org/v1/gonum/mat"
)

const (
	DefaultHiddenDim = 128
	DefaultLayers    = 2

	layerNormEps = 1e-5
)

// Config describes the network shape. Parameters are drawn once from Seed
// and never change afterwards.
type Config struct {
	InputDim  int
	HiddenDim int
	OutputDim int
	Layers    int
	Seed      uint64
}

// Validate checks if the Config is valid
func (c Config) Validate() error {
	if c.InputDim <= 0 || c.HiddenDim <= 0 || c.OutputDim <= 0 {
		return goerr.Wrap(ErrInvalidConfig, "dimensions must be positive",
			goerr.V("input_dim", c.InputDim), goerr.V("hidden_dim", c.HiddenDim), goerr.V("output_dim", c.OutputDim))
	}
	if c.Layers <= 0 {
		return goerr.Wrap(ErrInvalidConfig, "recurrent layers must be positive", goerr.V("layers", c.Layers))
	}
	return nil
}

// Network is a fixed-parameter encoder / GRU / decoder stack:
//
//	D -> H -> 2H (affine, layer norm, GELU)
//	GRU x Layers over width 2H, carrying HiddenState
//	2H -> H (affine, layer norm, GELU) -> D (affine, tanh)
//
// A Network holds no mutable state; the caller threads HiddenState through Step.
type Network struct {
	cfg            Config
	encode         [2]*linear
	gru            []*gruLayer
	decode         [2]*linear
	recurrentWidth int
}

// New builds a network from cfg
func New(cfg Config) (*Network, error) {
	if cfg.Layers == 0 {
		cfg.Layers = DefaultLayers
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	width := cfg.HiddenDim * 2

	n := &Network{
		cfg:            cfg,
		recurrentWidth: width,
	}
	n.encode[0] = newLinear(rng, cfg.InputDim, cfg.HiddenDim)
	n.encode[1] = newLinear(rng, cfg.HiddenDim, width)
	for i := 0; i < cfg.Layers; i++ {
		n.gru = append(n.gru, newGRULayer(rng, width, width))
	}
	n.decode[0] = newLinear(rng, width, cfg.HiddenDim)
	n.decode[1] = newLinear(rng, cfg.HiddenDim, cfg.OutputDim)

	return n, nil
}

// InputDim returns the expected input length
func (n *Network) InputDim() int { return n.cfg.InputDim }

// OutputDim returns the length of Step outputs
func (n *Network) OutputDim() int { return n.cfg.OutputDim }

// Step runs one input through the network. Passing InitialState() starts
// from an all-zero recurrent state. The returned state is a new value; h is
// not modified. Step panics if len(x) != InputDim, which can only come from
// a misconfigured node.
func (n *Network) Step(x []float64, h HiddenState) ([]float64, HiddenState) {
	if len(x) != n.cfg.InputDim {
		panic(goerr.Wrap(ErrShapeMismatch, "input has wrong dimension",
			goerr.V("expected", n.cfg.InputDim), goerr.V("actual", len(x))))
	}
	if !h.IsInitial() && (len(h.layers) != len(n.gru) || h.layers[0].Len() != n.recurrentWidth) {
		panic(goerr.Wrap(ErrShapeMismatch, "hidden state does not belong to this network",
			goerr.V("layers", len(h.layers))))
	}

	v := mat.NewVecDense(len(x), append([]float64(nil), x...))

	for _, l := range n.encode {
		v = l.apply(v)
		layerNorm(v)
		applyInPlace(v, gelu)
	}

	next := HiddenState{layers: make([]*mat.VecDense, len(n.gru))}
	for i, layer := range n.gru {
		prev := mat.NewVecDense(n.recurrentWidth, nil)
		if !h.IsInitial() {
			prev.CopyVec(h.layers[i])
		}
		v = layer.step(v, prev)
		next.layers[i] = v
	}

	v = n.decode[0].apply(v)
	layerNorm(v)
	applyInPlace(v, gelu)
	v = n.decode[1].apply(v)
	applyInPlace(v, math.Tanh)

	out := make([]float64, v.Len())
	copy(out, v.RawVector().Data)
	return out, next
}

type linear struct {
	w *mat.Dense
	b *mat.VecDense
}

func newLinear(rng *rand.Rand, in, out int) *linear {
	bound := 1 / math.Sqrt(float64(in))
	return &linear{
		w: mat.NewDense(out, in, uniform(rng, out*in, bound)),
		b: mat.NewVecDense(out, uniform(rng, out, bound)),
	}
}

func (l *linear) apply(x *mat.VecDense) *mat.VecDense {
	r, _ := l.w.Dims()
	y := mat.NewVecDense(r, nil)
	y.MulVec(l.w, x)
	y.AddVec(y, l.b)
	return y
}

// gate order: reset, update, candidate
type gruLayer struct {
	size  int
	input [3]*linear
	recur [3]*linear
}

func newGRULayer(rng *rand.Rand, in, size int) *gruLayer {
	g := &gruLayer{size: size}
	bound := 1 / math.Sqrt(float64(size))
	for i := range g.input {
		g.input[i] = &linear{
			w: mat.NewDense(size, in, uniform(rng, size*in, bound)),
			b: mat.NewVecDense(size, uniform(rng, size, bound)),
		}
		g.recur[i] = &linear{
			w: mat.NewDense(size, size, uniform(rng, size*size, bound)),
			b: mat.NewVecDense(size, uniform(rng, size, bound)),
		}
	}
	return g
}

func (g *gruLayer) step(x, h *mat.VecDense) *mat.VecDense {
	r := g.input[0].apply(x)
	r.AddVec(r, g.recur[0].apply(h))
	applyInPlace(r, sigmoid)

	z := g.input[1].apply(x)
	z.AddVec(z, g.recur[1].apply(h))
	applyInPlace(z, sigmoid)

	hn := g.recur[2].apply(h)
	hn.MulElemVec(r, hn)
	cand := g.input[2].apply(x)
	cand.AddVec(cand, hn)
	applyInPlace(cand, math.Tanh)

	// h' = (1 - z) * cand + z * h
	next := mat.NewVecDense(g.size, nil)
	for i := 0; i < g.size; i++ {
		zi := z.AtVec(i)
		next.SetVec(i, (1-zi)*cand.AtVec(i)+zi*h.AtVec(i))
	}
	return next
}

func uniform(rng *rand.Rand, n int, bound float64) []float64 {
	data := make([]float64, n)
	for i := range data {
		data[i] = (rng.Float64()*2 - 1) * bound
	}
	return data
}

func layerNorm(v *mat.VecDense) {
	data := v.RawVector().Data
	n := float64(len(data))

	var mean float64
	for _, x := range data {
		mean += x
	}
	mean /= n

	var variance float64
	for _, x := range data {
		d := x - mean
		variance += d * d
	}
	variance /= n

	scale := 1 / math.Sqrt(variance+layerNormEps)
	for i, x := range data {
		data[i] = (x - mean) * scale
	}
}

func applyInPlace(v *mat.VecDense, f func(float64) float64) {
	data := v.RawVector().Data
	for i, x := range data {
		data[i] = f(x)
	}
}

func gelu(x float64) float64 {
	return 0.5 * x * (1 + math.Erf(x/math.Sqrt2))
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
