package domain

import (
	"fmt"
	"math"
)

// ProviderTag identifies the provider and model that produced an embedding,
// formatted "<provider>:<model>".
func ProviderTag(provider, model string) string {
	return provider + ":" + model
}

// Normalize scales v to unit L2 length in place and returns it. A zero
// vector is an error since it has no direction.
func Normalize(v []float32) ([]float32, error) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return nil, fmt.Errorf("cannot normalize vector with norm %v", math.Sqrt(sum))
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
	return v, nil
}

// Dot returns the inner product of two equal-length vectors. For unit
// vectors it equals cosine similarity.
func Dot(a, b []float32) float32 {
	var s float32
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
