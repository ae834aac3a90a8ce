package optim

import (
	"fmt"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// paramSnapshot holds a copy of one node's values before a solver step
type paramSnapshot struct {
	f64 []float64
	f32 []float32
}

func snapshot(n *gorgonia.Node) (paramSnapshot, error) {
	switch v := n.Value().(type) {
	case *gorgonia.F64:
		return paramSnapshot{f64: []float64{float64(*v)}}, nil
	case *gorgonia.F32:
		return paramSnapshot{f32: []float32{float32(*v)}}, nil
	case *tensor.Dense:
		switch d := v.Data().(type) {
		case []float64:
			return paramSnapshot{f64: append([]float64(nil), d...)}, nil
		case []float32:
			return paramSnapshot{f32: append([]float32(nil), d...)}, nil
		case float64:
			return paramSnapshot{f64: []float64{d}}, nil
		case float32:
			return paramSnapshot{f32: []float32{d}}, nil
		}
	}
	return paramSnapshot{}, fmt.Errorf("param %s: unsupported value type %T", n.Name(), n.Value())
}

// scaleUpdate rewrites n as before + (n - before) * ratio
func scaleUpdate(n *gorgonia.Node, before paramSnapshot, ratio float64) error {
	switch v := n.Value().(type) {
	case *gorgonia.F64:
		*v = gorgonia.F64(scale64(before.f64[0], float64(*v), ratio))
		return nil
	case *gorgonia.F32:
		*v = gorgonia.F32(scale32(before.f32[0], float32(*v), ratio))
		return nil
	case *tensor.Dense:
		switch d := v.Data().(type) {
		case []float64:
			for i := range d {
				d[i] = scale64(before.f64[i], d[i], ratio)
			}
			return nil
		case []float32:
			for i := range d {
				d[i] = scale32(before.f32[i], d[i], ratio)
			}
			return nil
		case float64:
			v.Set(0, scale64(before.f64[0], d, ratio))
			return nil
		case float32:
			v.Set(0, scale32(before.f32[0], d, ratio))
			return nil
		}
	}
	return fmt.Errorf("param %s: unsupported value type %T", n.Name(), n.Value())
}

func scale64(before, after, ratio float64) float64 {
	return before + (after-before)*ratio
}

func scale32(before, after float32, ratio float64) float32 {
	return before + (after-before)*float32(ratio)
}
