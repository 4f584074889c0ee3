package domain

import "math"

// Light is a coarse colour band for displaying a confidence.
type Light string

// Confidence bands, from most to least confident.
const (
	LightGreen  Light = "green"
	LightYellow Light = "yellow"
	LightOrange Light = "orange"
	LightRed    Light = "red"
)

// TrafficLight buckets a confidence: (0.6, 1] green, (0.4, 0.6] yellow,
// (0.2, 0.4] orange, anything else red.
func TrafficLight(c float64) Light {
	switch {
	case c > 0.6 && c <= 1:
		return LightGreen
	case c > 0.4 && c <= 0.6:
		return LightYellow
	case c > 0.2 && c <= 0.4:
		return LightOrange
	}
	return LightRed
}

// SaturatingConfidence maps raw evidence onto a confidence that approaches
// maxConf as evidence grows: maxConf·(1 − e^(−k·evidence)). When normalize is
// positive the evidence is divided by it first; a non-positive normalize other
// than zero collapses evidence to zero.
func SaturatingConfidence(evidence, k, maxConf, normalize float64) float64 {
	if normalize != 0 {
		if normalize > 0 {
			evidence /= normalize
		} else {
			evidence = 0
		}
	}
	return maxConf * (1 - math.Exp(-k*evidence))
}

// LogisticConfidence is the sigmoid 1/(1+e^(−slope·(grade−estimate))). It
// rises from 0 to 1 as the grade passes an estimated difficulty.
func LogisticConfidence(grade Grade, estimate, slope float64) float64 {
	return 1 / (1 + math.Exp(-slope*(float64(grade)-estimate)))
}
