package util

func MinInt(a, b int) int {
	if a <= b {
		return a
	} else {
		return b
	}
}

func CloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
