package types

import "cmp"

type Ordered interface {
	cmp.Ordered | bool
}

func AddressOf[T Ordered](x T) *T {
	return &x
}
