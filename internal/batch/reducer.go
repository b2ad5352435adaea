package batch

// Reducer computes one scalar inference result from one feature vector.
// The inference kernel itself is an external collaborator (spec §1); Sum
// is the reference reducer used by the test scenarios in spec §8.
type Reducer func(vector []float32) float32

// Sum is the reference reducer: the scalar sum of a vector's features.
func Sum(vector []float32) float32 {
	var s float32
	for _, v := range vector {
		s += v
	}
	return s
}
