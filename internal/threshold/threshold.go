package threshold

import (
	"sort"

	"shortssync/internal/domain"
)

const (
	DefaultFloor = 10000
	MaxFloor     = 500000

	smallChannelAverage  = 20000
	mediumChannelAverage = 100000
)

type classRule struct {
	factor   float64
	minBound int64
}

var rules = map[domain.SizeClass]classRule{
	domain.SizeSmall:  {factor: 0.7, minBound: 3000},
	domain.SizeMedium: {factor: 0.8, minBound: 8000},
	domain.SizeLarge:  {factor: 0.7, minBound: 15000},
}

// Calculator derives a per-channel view-count admission floor from the
// channel's own recent performance.
type Calculator struct {
	// DefaultFloor is used when no positive view counts are available.
	DefaultFloor int64
}

func NewCalculator(defaultFloor int64) Calculator {
	if defaultFloor <= 0 {
		defaultFloor = DefaultFloor
	}
	return Calculator{DefaultFloor: defaultFloor}
}

// ComputeFloor never modifies viewCounts.
func (c Calculator) ComputeFloor(channel string, viewCounts []int64) domain.ChannelThreshold {
	counts := make([]int64, 0, len(viewCounts))
	for _, v := range viewCounts {
		if v > 0 {
			counts = append(counts, v)
		}
	}
	if len(counts) == 0 {
		floor := c.DefaultFloor
		if floor <= 0 {
			floor = DefaultFloor
		}
		return domain.ChannelThreshold{
			Channel:        channel,
			AdmissionFloor: floor,
			Defaulted:      true,
		}
	}

	sort.Slice(counts, func(i, j int) bool { return counts[i] < counts[j] })

	var total float64
	for _, v := range counts {
		total += float64(v)
	}
	n := len(counts)
	average := total / float64(n)
	median := counts[n/2]
	p75 := counts[int(float64(n)*0.75)]

	class := Classify(average)
	rule := rules[class]

	var base float64
	switch class {
	case domain.SizeSmall:
		base = average
	case domain.SizeMedium:
		base = float64(median)
	default:
		base = float64(p75)
	}
	raw := int64(base * rule.factor)

	return domain.ChannelThreshold{
		Channel:        channel,
		SizeClass:      class,
		SampleSize:     n,
		AverageViews:   average,
		MedianViews:    median,
		P75Views:       p75,
		RawThreshold:   raw,
		MinBound:       rule.minBound,
		AdmissionFloor: clamp(raw, rule.minBound, MaxFloor),
	}
}

// Classify buckets a channel by its average view count.
func Classify(averageViews float64) domain.SizeClass {
	switch {
	case averageViews < smallChannelAverage:
		return domain.SizeSmall
	case averageViews < mediumChannelAverage:
		return domain.SizeMedium
	default:
		return domain.SizeLarge
	}
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
