// Command rainydays computes, for every calendar month, the average number of
// rainy days per cell of an area of interest over a span of years, from the
// CHIRPS daily precipitation record.
package main

import (
	"log/slog"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("rainydays failed", "error", err)
		os.Exit(1)
	}
}
