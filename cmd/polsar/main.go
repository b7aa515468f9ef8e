package main

import (
	"context"
	"flag"
	"fmt"
	"path/filepath"

	"github.com/deformlab/sarmosaic/polsar"
	"github.com/deformlab/sarmosaic/service/log"
	"go.uber.org/zap"
)

type config struct {
	Opts polsar.Options
}

func newAppConfig() (*config, error) {
	config := config{Opts: polsar.DefaultOptions("")}
	flag.StringVar(&config.Opts.InputDir, "in", "", "directory holding the UAVSAR MLC products and annotation file")
	flag.StringVar(&config.Opts.OutputDir, "out", "", "output directory (default <in>/<format>)")
	flag.StringVar(&config.Opts.Converter, "converter", config.Opts.Converter, "path to the uavsar_convert_MLC binary")
	flag.StringVar(&config.Opts.Format, "format", config.Opts.Format, "output matrix format, T3 or C3")
	flag.IntVar(&config.Opts.LooksRow, "looks-row", config.Opts.LooksRow, "multilooking factor in rows")
	flag.IntVar(&config.Opts.LooksCol, "looks-col", config.Opts.LooksCol, "multilooking factor in columns")
	flag.IntVar(&config.Opts.SubsampRow, "subsamp-row", config.Opts.SubsampRow, "subsampling factor in rows")
	flag.IntVar(&config.Opts.SubsampCol, "subsamp-col", config.Opts.SubsampCol, "subsampling factor in columns")
	flag.IntVar(&config.Opts.OffsetRow, "offset-row", config.Opts.OffsetRow, "first row of the converted window")
	flag.IntVar(&config.Opts.OffsetCol, "offset-col", config.Opts.OffsetCol, "first column of the converted window")
	flag.Parse()

	if config.Opts.InputDir == "" {
		return nil, fmt.Errorf("missing in flag")
	}
	if config.Opts.OutputDir == "" {
		config.Opts.OutputDir = filepath.Join(config.Opts.InputDir, config.Opts.Format)
	}
	return &config, nil
}

func main() {
	ctx := context.Background()
	err := run(ctx)
	if err != nil {
		log.Fatal("error", zap.Error(err))
	}
}

func run(ctx context.Context) error {
	config, err := newAppConfig()
	if err != nil {
		return err
	}
	return polsar.Convert(log.With(ctx, "polsar", filepath.Base(config.Opts.InputDir)), config.Opts)
}
