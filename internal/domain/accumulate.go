package domain

import "fmt"

// DefaultRainThreshold is the daily precipitation (mm) a cell must exceed to
// count as a rainy day.
const DefaultRainThreshold = 1e-8

// Accumulator counts, per cell, how many daily rasters exceeded the rain
// threshold. The zero value is not usable; Accumulate creates one lazily from
// the first raster it sees.
type Accumulator struct {
	Template Metadata
	Counts   []int32
	Days     int
}

// Accumulate adds one day to acc and returns it. A nil acc starts a new
// accumulator shaped like r with r's metadata as the template. A cell counts
// when its value is strictly greater than threshold.
func Accumulate(acc *Accumulator, r *Raster, threshold float64) (*Accumulator, error) {
	if err := r.Validate(); err != nil {
		return acc, DecodeError("accumulate", err)
	}
	if acc == nil {
		acc = &Accumulator{
			Template: r.Meta.Clone(),
			Counts:   make([]int32, len(r.Data)),
		}
	} else if err := acc.Template.SameGrid(r.Meta); err != nil {
		return acc, ShapeMismatchError("accumulate", err)
	}

	for i, v := range r.Data {
		if v > threshold {
			acc.Counts[i]++
		}
	}
	acc.Days++
	return acc, nil
}

// Raster converts the counts into a raster carrying the template metadata.
func (a *Accumulator) Raster() *Raster {
	out := &Raster{Meta: a.Template.Clone(), Data: make([]float64, len(a.Counts))}
	for i, c := range a.Counts {
		out.Data[i] = float64(c)
	}
	return out
}

func (a *Accumulator) String() string {
	return fmt.Sprintf("accumulator(%dx%dx%d, %d days)",
		a.Template.Bands, a.Template.Height, a.Template.Width, a.Days)
}
