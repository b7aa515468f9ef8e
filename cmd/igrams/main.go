package main

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/deformlab/sarmosaic/common"
	"github.com/deformlab/sarmosaic/graph"
	"github.com/deformlab/sarmosaic/igrams"
	"github.com/deformlab/sarmosaic/service"
	"github.com/deformlab/sarmosaic/service/log"
	"go.uber.org/zap"
)

type config struct {
	StackFile   string
	PrepGraph   string
	IgramsGraph string
	StorageURI  string

	WithDocker   bool
	DockerConfig graph.DockerConfig
}

func newAppConfig() (*config, error) {
	config := config{}
	flag.StringVar(&config.StackFile, "stack", "", "stack description file (yaml)")
	flag.StringVar(&config.PrepGraph, "prep-graph", "", "name or file of the stack preparation graph (default UAVSARStackPrep)")
	flag.StringVar(&config.IgramsGraph, "igrams-graph", "", "name or file of the interferogram graph (default StripmapIgrams)")
	flag.StringVar(&config.StorageURI, "storage-uri", "", "storage uri to archive the products of each unit (currently supported: local, gs, s3)")
	flag.BoolVar(&config.WithDocker, "docker", false, "attach a docker manager for graphs with docker steps")
	dockerEnvs := config.DockerConfig.SetFlags()
	flag.Parse()

	if *dockerEnvs != "" {
		config.DockerConfig.Envs = strings.Split(*dockerEnvs, ",")
	}
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
	ctx = log.With(ctx, "stack", stack.Name())

	var storage service.Storage
	if config.StorageURI != "" {
		if storage, err = service.NewStorageStrategy(ctx, config.StorageURI); err != nil {
			return fmt.Errorf("storage[%s].%w", config.StorageURI, err)
		}
	}

	var docker graph.DockerManager
	if config.WithDocker {
		if docker, err = graph.NewDockerManager(ctx, config.DockerConfig); err != nil {
			return err
		}
	}

	processor := igrams.Processor{
		Stack:       stack,
		PrepGraph:   config.PrepGraph,
		IgramsGraph: config.IgramsGraph,
		Storage:     storage,
		Docker:      docker,
	}
	report, err := processor.Run(ctx)

	done := 0
	for _, unit := range report.Units {
		if unit.Status == common.StatusDONE {
			done++
		}
	}
	log.Logger(ctx).Sugar().Infof("%d/%d units processed", done, len(report.Units))
	return err
}
