package isomedia

// gcd64 returns the greatest common divisor of a and b (both treated
// as non-negative). gcd64(0, n) == n, matching the Euclidean
// convention the Timeline Builder relies on when reducing framerates
// and composition timebases.
func gcd64(a, b int64) int64 {
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// reduceRational reduces num/den to lowest terms. A zero denominator
// is returned unchanged (caller treats it as "unknown framerate").
func reduceRational(num, den int64) (int64, int64) {
	if den == 0 {
		return num, den
	}
	g := gcd64(num, den)
	if g == 0 {
		return num, den
	}
	return num / g, den / g
}
