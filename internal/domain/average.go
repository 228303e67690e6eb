package domain

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Average sums the rasters cell-wise, divides by their count and rounds each
// cell with mode. All inputs must share the first raster's grid; the result
// carries a copy of the first raster's metadata.
func Average(rasters []*Raster, mode RoundingMode) (*Raster, error) {
	if len(rasters) == 0 {
		return nil, errors.New("average: no rasters")
	}
	first := rasters[0]
	if err := first.Validate(); err != nil {
		return nil, DecodeError("average", err)
	}

	sum := NewRaster(first.Meta.Clone())
	for i, r := range rasters {
		if err := r.Validate(); err != nil {
			return nil, DecodeError("average", fmt.Errorf("raster %d: %w", i, err))
		}
		if err := first.Meta.SameGrid(r.Meta); err != nil {
			return nil, ShapeMismatchError("average", fmt.Errorf("raster %d: %w", i, err))
		}
		floats.Add(sum.Data, r.Data)
	}
	return DivideRounded(sum, len(rasters), mode), nil
}

// DivideRounded divides every cell of r by n in place, rounds it with mode,
// and returns r. Division happens per cell rather than by scaling with 1/n so
// exact halves such as 5/2 stay exact.
func DivideRounded(r *Raster, n int, mode RoundingMode) *Raster {
	d := float64(n)
	for i, v := range r.Data {
		r.Data[i] = mode.Round(v / d)
	}
	return r
}
