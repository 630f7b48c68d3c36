package nn

import "strconv"

// Sequential runs layers in order, feeding each output to the next layer
type Sequential struct {
	Layers []Layer
}

// NewSequential groups layers into one
func NewSequential(layers ...Layer) *Sequential {
	return &Sequential{Layers: layers}
}

func (s *Sequential) Forward(x *Tensor) (*Tensor, error) {
	current := x
	for i, layer := range s.Layers {
		out, err := layer.Forward(current)
		if err != nil {
			return nil, WrapOp("layer "+strconv.Itoa(i), err)
		}
		current = out
	}
	return current, nil
}

// Parameters prefixes each layer's parameters with its index
func (s *Sequential) Parameters() []Param {
	var params []Param
	for i, layer := range s.Layers {
		params = append(params, PrefixParams(strconv.Itoa(i), layer.Parameters())...)
	}
	return params
}
