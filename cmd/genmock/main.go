// Command genmock writes synthetic CHIRPS daily files for one month in the
// same directory layout as the CHC archive, so a local run can be pointed at
// a static file server instead of the real archive.
//
// Usage:
//
//	go run ./cmd/genmock -out testdata/chirps -year 2020 -month 6
//	CHIRPS_URL_TEMPLATE='http://localhost:8000/{resolution}/{year}/chirps-v2.0.{year}.{month}.{day}.tif.gz' \
//	  go run ./cmd/rainydays local --miny 2020 --maxy 2020
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/couchcryptid/rainydays-etl/internal/domain"
	"github.com/couchcryptid/rainydays-etl/internal/geotiff"
	"github.com/klauspost/compress/gzip"
)

// CHIRPS global daily grids span 50S to 50N.
const (
	gridWest  = -180.0
	gridNorth = 50.0
	gridSouth = -50.0
	noData    = -9999.0
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "", "root directory for the generated archive")
	year := flag.Int("year", 2020, "year to generate")
	month := flag.Int("month", 6, "month to generate (1-12)")
	resFlag := flag.String("resolution", "p25", "grid resolution (p25 or p05)")
	rainProb := flag.Float64("rain-prob", 0.3, "probability that a cell gets rain on a given day")
	seed := flag.Uint64("seed", 1, "random seed, for reproducible fixtures")
	flag.Parse()

	if *out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}
	res, err := domain.ParseResolution(*resFlag)
	if err != nil {
		return err
	}
	span, err := domain.NewMonthRange(*year, *month)
	if err != nil {
		return err
	}

	rng := rand.New(rand.NewPCG(*seed, uint64(*year*100+*month)))
	dir := filepath.Join(*out, res.String(), fmt.Sprintf("%04d", *year))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	for day := range span.Days() {
		path := filepath.Join(dir, fmt.Sprintf("chirps-v2.0.%04d.%02d.%02d.tif.gz", day.Year(), day.Month(), day.Day()))
		if err := writeDay(path, syntheticDay(res, rng, *rainProb)); err != nil {
			return fmt.Errorf("write %s: %w", day.Format(time.DateOnly), err)
		}
	}
	log.Printf("%d days written to %s", span.Len(), dir)
	return nil
}

// syntheticDay draws exponential rain amounts on a global grid. The ocean
// band south of 45S is left as nodata, like the real product's masked cells.
func syntheticDay(res domain.Resolution, rng *rand.Rand, rainProb float64) *domain.Raster {
	step := 0.25
	if res == domain.ResolutionP05 {
		step = 0.05
	}
	nd := noData
	r := domain.NewRaster(domain.Metadata{
		Width:     int(360 / step),
		Height:    int((gridNorth - gridSouth) / step),
		Bands:     1,
		DataType:  domain.Float32,
		Transform: domain.GeoTransform{gridWest, step, 0, gridNorth, 0, -step},
		EPSG:      4326,
		NoData:    &nd,
	})
	for row := range r.Meta.Height {
		_, lat := r.Meta.Transform.PixelCenter(row, 0)
		for col := range r.Meta.Width {
			switch {
			case lat < -45:
				r.Set(0, row, col, noData)
			case rng.Float64() < rainProb:
				r.Set(0, row, col, rng.ExpFloat64()*8)
			}
		}
	}
	return r
}

func writeDay(path string, r *domain.Raster) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	zw := gzip.NewWriter(bw)
	if err := geotiff.Encode(zw, r); err != nil {
		return err
	}
	if err := zw.Close(); err != nil {
		return err
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return f.Close()
}
