package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/deformlab/sarmosaic/common"
	"github.com/deformlab/sarmosaic/service/log"
	"github.com/deformlab/sarmosaic/timeseries"
	"go.uber.org/zap"
)

type config struct {
	StackFile       string
	Polarization    string
	ReferenceLat    float64
	ReferenceLon    float64
	SubsetY         string
	SubsetX         string
	LaloStep        float64
	WaterMask       string
	WriteConfigOnly bool
}

func newAppConfig() (*config, error) {
	config := config{}
	flag.StringVar(&config.StackFile, "stack", "", "stack description file (yaml)")
	flag.StringVar(&config.Polarization, "pol", "", "polarization to invert (default: every polarization of the stack)")
	flag.Float64Var(&config.ReferenceLat, "ref-lat", 0, "latitude of the reference point (overrides the stack file)")
	flag.Float64Var(&config.ReferenceLon, "ref-lon", 0, "longitude of the reference point (overrides the stack file)")
	flag.StringVar(&config.SubsetY, "subset-y", "", "line subset as min:max (overrides the stack file)")
	flag.StringVar(&config.SubsetX, "subset-x", "", "sample subset as min:max (overrides the stack file)")
	flag.Float64Var(&config.LaloStep, "lalo-step", 0, "geocoding step in degrees (overrides the stack file)")
	flag.StringVar(&config.WaterMask, "water-mask", "", "water mask file (overrides the stack file)")
	flag.BoolVar(&config.WriteConfigOnly, "write-config-only", false, "write the smallbaselineApp config and exit")
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
	if config.ReferenceLat != 0 {
		stack.Timeseries.ReferenceLat = config.ReferenceLat
	}
	if config.ReferenceLon != 0 {
		stack.Timeseries.ReferenceLon = config.ReferenceLon
	}
	if config.SubsetY != "" {
		stack.Timeseries.SubsetY = config.SubsetY
	}
	if config.SubsetX != "" {
		stack.Timeseries.SubsetX = config.SubsetX
	}
	if config.LaloStep > 0 {
		stack.Timeseries.LaloStep = config.LaloStep
	}
	if config.WaterMask != "" {
		stack.Timeseries.WaterMask = config.WaterMask
	}

	pols := stack.Polarizations
	if config.Polarization != "" {
		pol, err := common.GetPolarizationFromString(config.Polarization)
		if err != nil {
			return err
		}
		pols = []common.Polarization{pol}
	}

	ctx = log.With(ctx, "stack", stack.Name())
	for _, pol := range pols {
		if config.WriteConfigOnly {
			cfgFile, err := timeseries.WriteConfig(stack, pol)
			if err != nil {
				return err
			}
			log.Logger(ctx).Sugar().Infof("config written to %s", cfgFile)
			continue
		}
		if err := timeseries.Run(log.With(ctx, "pol", string(pol)), stack, pol); err != nil {
			return err
		}
	}
	return nil
}
