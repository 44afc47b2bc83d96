package main

import (
	"encoding/csv"
	"flag"
	"io"
	"log"
	"log/slog"
	"os"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/mvracek/koopman/pkg/datasource/historical"
)

// trajdump converts a CSV of feature columns into the packed binary frame
// layout the estimator reads. One CSV per trajectory.

func dumpIt(csvPath string, binFile *os.File) error {
	csvFile, err := os.Open(csvPath)
	if err != nil {
		return err
	}
	defer func(csvFile *os.File) {
		_ = csvFile.Close()
	}(csvFile)

	reader := csv.NewReader(csvFile)

	// Skip header
	_, err = reader.Read()
	if err != nil {
		log.Fatal(err)
	}

	var frames []float64
	rows := 0
	cols := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			log.Fatal(err)
		}
		if cols == 0 {
			cols = len(record)
		}
		for _, field := range record {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				log.Fatal(err)
			}
			frames = append(frames, v)
		}
		rows++
	}
	if rows == 0 {
		slog.Warn("no frames found", "file", csvPath)
		return nil
	}

	return historical.WriteFrames(binFile, mat.NewDense(rows, cols, frames))
}

func main() {
	in := flag.String("in", "", "input csv file")
	out := flag.String("out", "", "output binary frame file")
	flag.Parse()

	if *in == "" || *out == "" {
		slog.Error("both -in and -out are required")
		os.Exit(1)
	}

	binFile, err := os.Create(*out)
	if err != nil {
		slog.Error("cannot create output", "error", err)
		os.Exit(1)
	}
	defer func(binFile *os.File) {
		_ = binFile.Close()
	}(binFile)

	if err := dumpIt(*in, binFile); err != nil {
		slog.Error("failed to dump", "error", err)
		_ = os.Remove(*out)
		os.Exit(1)
	}
	slog.Info("done", "file", *out)
}
