package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/deformlab/sarmosaic/common"
	"github.com/deformlab/sarmosaic/mosaic"
	"github.com/deformlab/sarmosaic/service/log"
	"go.uber.org/zap"
)

type config struct {
	StackFile          string
	BoundarySize       int
	OverlapWidth       int
	CoherenceThreshold float64
}

func newAppConfig() (*config, error) {
	config := config{}
	flag.StringVar(&config.StackFile, "stack", "", "stack description file (yaml)")
	flag.IntVar(&config.BoundarySize, "boundary-size", 0, "lines read on each side of a segment boundary (overrides the stack file)")
	flag.IntVar(&config.OverlapWidth, "overlap-width", 0, "samples of the across-track window used for the offset estimate (overrides the stack file)")
	flag.Float64Var(&config.CoherenceThreshold, "coherence-threshold", 0, "minimum coherence of the pixels entering the offset estimate (overrides the stack file)")
	flag.Parse()

	if config.StackFile == "" {
		return nil, fmt.Errorf("missing stack config flag")
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

	stack, err := common.LoadStack(config.StackFile)
	if err != nil {
		return err
	}
	if config.BoundarySize > 0 {
		stack.Mosaic.BoundarySize = config.BoundarySize
	}
	if config.OverlapWidth > 0 {
		stack.Mosaic.OverlapWidth = config.OverlapWidth
	}
	if config.CoherenceThreshold > 0 {
		stack.Mosaic.CoherenceThreshold = config.CoherenceThreshold
	}
	if err := stack.Validate(); err != nil {
		return err
	}

	return mosaic.NewMosaicker(&stack).Run(log.With(ctx, "stack", stack.Name()))
}
