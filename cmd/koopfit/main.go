package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/mvracek/koopman/internal/dbg"
	"github.com/mvracek/koopman/pkg/data/duckdb"
	"github.com/mvracek/koopman/pkg/datasource/historical"
	"github.com/mvracek/koopman/pkg/koopman"
)

func parseScaling(s string) (koopman.Scaling, error) {
	switch s {
	case "none":
		return koopman.ScalingNone, nil
	case "kinetic-map":
		return koopman.ScalingKineticMap, nil
	case "commute-map":
		return koopman.ScalingCommuteMap, nil
	default:
		return 0, fmt.Errorf("unknown scaling %q", s)
	}
}

func run(ctx context.Context, logger *zap.Logger) error {
	files := flag.String("files", "", "comma separated binary trajectory files")
	db := flag.String("db", "", "duckdb database path (alternative to -files)")
	table := flag.String("table", "frames", "duckdb frame table")
	cols := flag.String("cols", "", "comma separated feature columns for -db")
	dim := flag.Int("dim", 0, "feature width of binary files")
	lag := flag.Int("lag", 1, "lag in frames")
	chunk := flag.Int("chunk", 4096, "chunk size in frames")
	k := flag.Int("k", 0, "retained components (0 = auto)")
	cutoff := flag.Float64("cutoff", 0, "kinetic variance cutoff in (0,1)")
	scalingName := flag.String("scaling", "none", "scaling: none, kinetic-map, commute-map")
	mlags := flag.Int("mlags", 0, "run a Chapman-Kolmogorov test with this many lag multiples")
	nObs := flag.Int("observables", 0, "observables for the CK test (0 = auto)")
	flag.Parse()

	scaling, err := parseScaling(*scalingName)
	if err != nil {
		return err
	}

	var src koopman.Source
	switch {
	case *files != "":
		if *dim <= 0 {
			return fmt.Errorf("-dim is required with -files")
		}
		fs := historical.NewFileSet(*dim, *chunk, strings.Split(*files, ",")...)
		if err := fs.Open(); err != nil {
			return err
		}
		defer fs.Close()
		src = fs
	case *db != "":
		if *cols == "" {
			return fmt.Errorf("-cols is required with -db")
		}
		reader := duckdb.NewReader(*db)
		if err := reader.Connect(); err != nil {
			return err
		}
		defer reader.Close()
		src = reader.NewTrajectorySource(ctx, *table, strings.Split(*cols, ","), *chunk)
	default:
		return fmt.Errorf("one of -files or -db is required")
	}

	est, err := koopman.New(*lag,
		koopman.WithScaling(scaling),
		koopman.WithDimension(*k),
		koopman.WithVarCutoff(*cutoff),
		koopman.WithLogger(logger))
	if err != nil {
		return err
	}

	if err := est.FitSource(ctx, src); err != nil {
		return err
	}
	model, err := est.Model()
	if err != nil {
		return err
	}

	svals, err := model.SingularValues()
	if err != nil {
		return err
	}
	retained, _ := model.Dimension()
	logger.Info("model fitted",
		zap.Stringer("run_id", est.RunID()),
		zap.Int("lag", *lag),
		zap.Int64("pairs", model.N()),
		zap.Int("dim", retained),
		zap.Float64s("singular_values", svals))

	if *mlags > 0 {
		opts := []koopman.CKOption{koopman.WithMlags(*mlags)}
		if *nObs > 0 {
			opts = append(opts, koopman.WithNObservables(*nObs))
		}
		res, err := est.CKTest(ctx, src, opts...)
		if err != nil {
			return err
		}
		for i, m := range res.Multiples {
			if res.Errs[i] != nil {
				logger.Warn("ck multiplier failed", zap.Int("multiplier", m), zap.Error(res.Errs[i]))
				continue
			}
			logger.Info("ck multiplier",
				zap.Int("multiplier", m),
				zap.Float64("max_abs_divergence", maxAbsDiff(res.Estimates[i], res.Predictions[i])))
		}
	}
	return nil
}

func maxAbsDiff(a, b *mat.Dense) float64 {
	rows, cols := a.Dims()
	maxDiff := 0.0
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			d := a.At(i, j) - b.At(i, j)
			if d < 0 {
				d = -d
			}
			if d > maxDiff {
				maxDiff = d
			}
		}
	}
	return maxDiff
}

func main() {
	logger := dbg.NewLogger(true)
	defer func() {
		_ = logger.Sync()
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		logger.Error("koopfit failed", zap.Error(err))
		os.Exit(1)
	}
}
