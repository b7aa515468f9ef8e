package main

import (
	"context"
	"flag"
	"fmt"
	"strings"

	"github.com/airbusgeo/godal"
	"github.com/deformlab/sarmosaic/interface/provider"
	"github.com/deformlab/sarmosaic/service/log"
	"github.com/deformlab/sarmosaic/watermask"
	"go.uber.org/zap"
)

type config struct {
	AOIFile     string
	South       float64
	North       float64
	West        float64
	East        float64
	OutDir      string
	TilesURI    string
	Token       string
	CacheDir    string
	FTPUser     string
	FTPPassword string
	Jobs        int
}

func newAppConfig() (*config, error) {
	config := config{}
	flag.StringVar(&config.AOIFile, "aoi", "", "area of interest file (geojson)")
	flag.Float64Var(&config.South, "south", 0, "southern latitude bound in degrees")
	flag.Float64Var(&config.North, "north", 0, "northern latitude bound in degrees")
	flag.Float64Var(&config.West, "west", 0, "western longitude bound in degrees")
	flag.Float64Var(&config.East, "east", 0, "eastern longitude bound in degrees")
	flag.StringVar(&config.OutDir, "out-dir", ".", "directory the mask is written to")
	flag.StringVar(&config.TilesURI, "tiles-uri", watermask.DefaultBaseURL, "water body tiles source (local directory, file://, gs://, ftp:// or http(s):// url, optionally with a {TILE} placeholder)")
	flag.StringVar(&config.Token, "token", "", "bearer token for http(s) sources (e.g. Earthdata login token)")
	flag.StringVar(&config.CacheDir, "cache-dir", "", "local directory searched before the tiles source")
	flag.StringVar(&config.FTPUser, "ftp-user", "", "user for ftp sources")
	flag.StringVar(&config.FTPPassword, "ftp-password", "", "password for ftp sources")
	flag.IntVar(&config.Jobs, "jobs", 0, "concurrent tile downloads (default 4)")
	flag.Parse()

	if config.AOIFile == "" && config.South == 0 && config.North == 0 && config.West == 0 && config.East == 0 {
		return nil, fmt.Errorf("missing aoi flag or explicit bounds")
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

func buildProvider(uri, token, user, pword string) (provider.TileProvider, error) {
	switch {
	case strings.HasPrefix(uri, "gs://"):
		return provider.NewGSProvider(uri)
	case strings.HasPrefix(uri, "ftp://"):
		return provider.NewFTPProvider(uri, user, pword), nil
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		return provider.NewURLProvider(uri).WithToken(token), nil
	default:
		return provider.NewLocalProvider(uri), nil
	}
}

func run(ctx context.Context) error {
	config, err := newAppConfig()
	if err != nil {
		return err
	}

	godal.RegisterAll()

	providers := []provider.TileProvider{}
	if config.CacheDir != "" {
		providers = append(providers, provider.NewLocalProvider(config.CacheDir))
	}
	tiles, err := buildProvider(config.TilesURI, config.Token, config.FTPUser, config.FTPPassword)
	if err != nil {
		return fmt.Errorf("tiles-uri[%s]: %w", config.TilesURI, err)
	}
	providers = append(providers, tiles)

	builder := watermask.Builder{
		Providers: providers,
		Opts: watermask.Options{
			South:  config.South,
			North:  config.North,
			West:   config.West,
			East:   config.East,
			AOI:    config.AOIFile,
			OutDir: config.OutDir,
			Jobs:   config.Jobs,
		},
	}
	mask, err := builder.Run(ctx)
	if err != nil {
		return err
	}
	log.Logger(ctx).Sugar().Infof("water mask written to %s", mask)
	return nil
}
