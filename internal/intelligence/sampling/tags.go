package sampling

// Edge tag vocabulary of the network input: every cluster is a complete
// graph, so off-diagonal pairs carry EdgeTagConnected and the diagonal
// carries EdgeTagSelf.
const (
	EdgeTagConnected = 1
	EdgeTagSelf      = 2
)

// EdgeTags returns the k×k row-major tag matrix shared by every cluster.
func EdgeTags(k int) []int {
	tags := make([]int, k*k)
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			if i == j {
				tags[i*k+j] = EdgeTagSelf
			} else {
				tags[i*k+j] = EdgeTagConnected
			}
		}
	}
	return tags
}
