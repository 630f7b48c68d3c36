package nn

// Activation defines the element-wise nonlinearity used by a layer
type Activation int

const (
	ActivationIdentity Activation = 0 // v
	ActivationReLU     Activation = 1 // max(0, v)
	ActivationGELU     Activation = 2 // 0.5 * v * (1 + erf(v / sqrt(2)))
	ActivationSigmoid  Activation = 3 // 1 / (1 + exp(-v))
)

// String returns the lower-case name of the activation
func (a Activation) String() string {
	switch a {
	case ActivationIdentity:
		return "identity"
	case ActivationReLU:
		return "relu"
	case ActivationGELU:
		return "gelu"
	case ActivationSigmoid:
		return "sigmoid"
	default:
		return "unknown"
	}
}

// Layer is a forward-only transform over tensors.
//
// Forward must not mutate the layer's parameters or its input, so a single
// layer value can serve concurrent callers.
type Layer interface {
	Forward(x *Tensor) (*Tensor, error)
	Parameters() []Param
}

// Param names a learned tensor owned by a layer.
// Names follow the PyTorch state-dict convention ("conv1.weight",
// "bn1.running_var", "layer2.0.downsample.0.weight") so an external loader
// can match exported weights by name. Shapes match except for channel gate
// bottlenecks, which are stored as Linear weights [out][in]; a checkpoint
// holding them as 1x1 convolutions [out][in][1][1] must drop the trailing
// axes when loading.
type Param struct {
	Name  string
	Value *Tensor
}

// PrefixParams returns params with prefix + "." prepended to every name
func PrefixParams(prefix string, params []Param) []Param {
	out := make([]Param, len(params))
	for i, p := range params {
		out[i] = Param{Name: prefix + "." + p.Name, Value: p.Value}
	}
	return out
}

// CountParameters returns the total number of scalar parameters
func CountParameters(params []Param) int {
	n := 0
	for _, p := range params {
		n += p.Value.Size()
	}
	return n
}

// Identity passes its input through unchanged
type Identity struct{}

func (Identity) Forward(x *Tensor) (*Tensor, error) { return x, nil }
func (Identity) Parameters() []Param                { return nil }
