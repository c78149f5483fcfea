package refinement

import "math"

// StabilityAudit runs Decide 100x on identical input and reports whether
// the action and confidence are bit/epsilon-identical across every run.
func StabilityAudit(in Input) (stable bool, maxConfidenceDelta float64) {
	first := Decide(in)
	stable = true
	for i := 1; i < 100; i++ {
		d := Decide(in)
		if d.Action != first.Action {
			stable = false
		}
		delta := math.Abs(d.Confidence - first.Confidence)
		if delta > maxConfidenceDelta {
			maxConfidenceDelta = delta
		}
	}
	if maxConfidenceDelta >= 1e-12 {
		stable = false
	}
	return stable, maxConfidenceDelta
}

// RobustnessAudit replays Decide over caller-supplied close-price
// perturbations and reports how many trials agree with the unperturbed
// baseline. The perturbation values come from the caller so this package
// holds no PRNG state of its own.
func RobustnessAudit(in Input, perturbations []float64) (agreeCount, total int) {
	baseline := Decide(in)
	total = len(perturbations)
	for _, pct := range perturbations {
		perturbed := in
		perturbed.Close = in.Close * (1 + pct)
		d := Decide(perturbed)
		if d.Action == baseline.Action {
			agreeCount++
		}
	}
	return agreeCount, total
}
