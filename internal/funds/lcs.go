package funds

// longestCommonSubstring returns the length of the longest common contiguous
// substring of a and b and its start in each. The earliest occurrence in a
// wins ties.
func longestCommonSubstring(a, b string) (length, posA, posB int) {
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	endA, endB := 0, 0
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] != b[j-1] {
				cur[j] = 0
				continue
			}
			cur[j] = prev[j-1] + 1
			if cur[j] > length {
				length = cur[j]
				endA, endB = i, j
			}
		}
		prev, cur = cur, prev
	}
	return length, endA - length, endB - length
}
