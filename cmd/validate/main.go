// Command validate checks a finished output directory: twelve monthly
// averages, all on the same grid, holding whole non-negative day counts that
// fit in their month.
//
// Usage:
//
//	go run ./cmd/validate -dir out/local_p25_0123456789ab_2010-2020
package main

import (
	"errors"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/couchcryptid/rainydays-etl/internal/domain"
	"github.com/couchcryptid/rainydays-etl/internal/geotiff"
)

// maxDays is the longest each month can be; February allows for leap years.
var maxDays = [13]int{0, 31, 29, 31, 30, 31, 30, 31, 31, 30, 31, 30, 31}

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	dir := flag.String("dir", "", "output directory holding datarecord_mMM.tif files")
	flag.Parse()

	if *dir == "" {
		flag.Usage()
		os.Exit(1)
	}
	os.Exit(run(*dir))
}

func run(dir string) int {
	fmt.Println("=== Rainy Days Output Validation ===")
	fmt.Println()

	rasters, presence := loadMonths(dir)
	phases := []*phase{
		presence,
		validateGrid(rasters),
		validateValues(rasters),
	}

	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Months loaded: %d of 12\n", countLoaded(rasters))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// loadMonths reads every monthly file it can; index 0 is unused.
func loadMonths(dir string) ([13]*domain.Raster, *phase) {
	var rasters [13]*domain.Raster
	p := &phase{name: "Monthly files present and readable"}
	for m := 1; m <= 12; m++ {
		path := filepath.Join(dir, fmt.Sprintf("datarecord_m%02d.tif", m))
		r, err := geotiff.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				p.errorf("month %02d: %s missing", m, path)
			} else {
				p.errorf("month %02d: %v", m, err)
			}
			continue
		}
		rasters[m] = r
	}
	return rasters, p
}

func validateGrid(rasters [13]*domain.Raster) *phase {
	p := &phase{name: "All months share one grid"}
	var ref *domain.Raster
	refMonth := 0
	for m := 1; m <= 12; m++ {
		r := rasters[m]
		if r == nil {
			continue
		}
		if ref == nil {
			ref, refMonth = r, m
			continue
		}
		if err := ref.Meta.SameGrid(r.Meta); err != nil {
			p.errorf("month %02d differs from month %02d: %v", m, refMonth, err)
		}
	}
	return p
}

func validateValues(rasters [13]*domain.Raster) *phase {
	p := &phase{name: "Values are whole days within the month"}
	for m := 1; m <= 12; m++ {
		r := rasters[m]
		if r == nil {
			continue
		}
		bad := 0
		for i, v := range r.Data {
			if r.Meta.IsNoData(v) {
				continue
			}
			if v < 0 || v > float64(maxDays[m]) || v != math.Trunc(v) {
				if bad < 5 {
					p.errorf("month %02d: cell %d holds %v", m, i, v)
				}
				bad++
			}
		}
		if bad > 5 {
			p.errorf("month %02d: %d more invalid cells", m, bad-5)
		}
	}
	return p
}

func countLoaded(rasters [13]*domain.Raster) int {
	n := 0
	for _, r := range rasters[1:] {
		if r != nil {
			n++
		}
	}
	return n
}
