package accum

import (
	"github.com/spirit-labs/preagg/conf"
	"github.com/spirit-labs/preagg/errors"
)

// Lookup returns the calculator for a (kind, op) pair. registerBits is only used by KindHLL.
func Lookup(kind Kind, op Op, registerBits int) (Calculator, error) {
	switch kind {
	case KindNull:
		return nullCalc{}, nil
	case KindHLL:
		if op != OpDistinct {
			return nil, errors.Errorf("hll accumulators only support %s, not %s", OpDistinct, op)
		}
		if registerBits < conf.MinHLLRegisterBits || registerBits > conf.MaxHLLRegisterBits {
			return nil, errors.Errorf("invalid hll register bits %d", registerBits)
		}
		return NewHLLCalc(registerBits), nil
	}
	ops, ok := numericCalcs[kind]
	if !ok {
		return nil, errors.Errorf("unsupported accumulator kind %s", kind)
	}
	c, ok := ops[op]
	if !ok {
		return nil, errors.Errorf("unsupported operation %s for accumulator kind %s", op, kind)
	}
	return c, nil
}

// MustLookup is Lookup for statically known combinations.
func MustLookup(kind Kind, op Op) Calculator {
	c, err := Lookup(kind, op, conf.DefaultHLLRegisterBits)
	if err != nil {
		panic(err)
	}
	return c
}
