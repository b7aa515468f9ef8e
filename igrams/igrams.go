// Package igrams drives the ISCE stripmap stack over every work unit of a
// UAVSAR flightline and archives the products worth keeping.
package igrams

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/deformlab/sarmosaic/common"
	"github.com/deformlab/sarmosaic/graph"
	"github.com/deformlab/sarmosaic/service"
	"github.com/deformlab/sarmosaic/service/log"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReportFile is the name of the run report written next to the stack.
const ReportFile = "igrams_report.json"

// Processor runs the interferogram graphs over the units of a stack.
type Processor struct {
	Stack common.Stack
	// PrepGraph and IgramsGraph name the graphs to run (built-in names or
	// JSON graph files). Empty selects the UAVSAR built-ins.
	PrepGraph   string
	IgramsGraph string
	// Storage archives the to-create layers when set.
	Storage service.Storage
	// Docker runs the docker steps of the graphs when set.
	Docker graph.DockerManager
}

// UnitReport is the outcome of one work unit.
type UnitReport struct {
	Unit   string        `json:"unit"`
	Status common.Status `json:"status"`
	Error  string        `json:"error,omitempty"`
}

// RunReport collects the outcome of a stack run. RunID distinguishes the
// report of a rerun from a stale one.
type RunReport struct {
	RunID string       `json:"run_id"`
	Stack string       `json:"stack"`
	Units []UnitReport `json:"units"`
}

// Run processes every unit of the stack in deterministic order. A unit
// failure is recorded in the report and does not stop the remaining units;
// the merged error is returned once the report is flushed.
func (p *Processor) Run(ctx context.Context) (RunReport, error) {
	units := p.Stack.Units()
	report := RunReport{RunID: uuid.New().String(), Stack: p.Stack.Name(), Units: make([]UnitReport, len(units))}
	for i, unit := range units {
		report.Units[i] = UnitReport{Unit: unit.ID(), Status: common.StatusNEW}
	}

	var runErr error
	for i, unit := range units {
		ctx := log.With(ctx, "unit", unit.ID())

		report.Units[i].Status = common.StatusRUNNING
		if err := p.flush(report); err != nil {
			return report, service.MergeErrors(true, runErr, err)
		}

		if err := p.ProcessUnit(ctx, unit); err != nil {
			log.Logger(ctx).Error("unit failed", zap.Error(err))
			report.Units[i].Status = common.StatusFAILED
			report.Units[i].Error = err.Error()
			runErr = service.MergeErrors(true, runErr, fmt.Errorf("run[%s]: %w", unit.ID(), err))
		} else {
			report.Units[i].Status = common.StatusDONE
		}
	}

	if err := p.flush(report); err != nil {
		runErr = service.MergeErrors(true, runErr, err)
	}
	return report, runErr
}

func (p *Processor) flush(report RunReport) error {
	return service.ToJSON(report, p.Stack.RootDir, ReportFile)
}

// ProcessUnit prepares the segment stack and produces its interferograms.
func (p *Processor) ProcessUnit(ctx context.Context, unit common.Unit) error {
	if err := os.MkdirAll(unit.Dir(), 0766); err != nil {
		return service.MakeTemporary(fmt.Errorf("make directory %s: %w", unit.Dir(), err))
	}

	prep := p.PrepGraph
	if prep == "" {
		prep = "UAVSARStackPrep"
	}
	if err := p.runGraph(ctx, prep, unit); err != nil {
		return fmt.Errorf("ProcessUnit[%s].%w", unit.ID(), err)
	}

	// stackStripMap writes its configs for the merged/SLC layout; the
	// --nofocus UAVSAR stack keeps the coregistered SLCs at the stack root.
	n, err := PatchConfigs(graph.LayerPath(unit, graph.LayerConfigs))
	if err != nil {
		return fmt.Errorf("ProcessUnit[%s].%w", unit.ID(), err)
	}
	log.Logger(ctx).Sugar().Debugf("patched %d config files", n)

	igrams := p.IgramsGraph
	if igrams == "" {
		igrams = "StripmapIgrams"
	}
	if err := p.runGraph(ctx, igrams, unit); err != nil {
		return fmt.Errorf("ProcessUnit[%s].%w", unit.ID(), err)
	}
	return nil
}

func (p *Processor) runGraph(ctx context.Context, name string, unit common.Unit) error {
	g, config, err := graph.LoadGraph(ctx, name)
	if err != nil {
		return err
	}
	if p.Docker != nil {
		g = g.WithDocker(p.Docker)
	}
	applyOptions(p.Stack.Igrams, config)

	log.Logger(ctx).Sugar().Infof("process with graph '%s'", name)
	outfiles, processErr := g.Process(ctx, config, unit)

	outFileErr := p.handleOutFiles(ctx, unit, outfiles)
	if processErr != nil {
		if outFileErr != nil {
			return fmt.Errorf("%w (during cleaning, an other error occured: %v)", processErr, outFileErr)
		}
		return processErr
	}
	return outFileErr
}

// handleOutFiles archives the to-create layers and removes the to-delete
// ones. Deletions run last to ease a rerun after a failed archive.
func (p *Processor) handleOutFiles(ctx context.Context, unit common.Unit, outfiles []graph.OutFile) error {
	var toDelete []graph.OutFile
	for _, f := range outfiles {
		switch f.Action {
		case graph.ToCreate:
			if p.Storage == nil {
				continue
			}
			log.Logger(ctx).Sugar().Infof("save layer '%s'", f.Layer)
			if _, err := p.Storage.SaveProduct(ctx, graph.LayerPath(unit, f.Layer), unit.ID()+"_"+string(f.Layer)); err != nil {
				return fmt.Errorf("handleOutFiles[%s].%w", unit.ID(), err)
			}
		case graph.ToDelete:
			toDelete = append(toDelete, f)
		}
	}

	for _, f := range toDelete {
		log.Logger(ctx).Sugar().Infof("delete layer '%s'", f.Layer)
		if err := os.RemoveAll(graph.LayerPath(unit, f.Layer)); err != nil {
			return fmt.Errorf("handleOutFiles[%s].%w", unit.ID(), err)
		}
	}
	return nil
}

// applyOptions overrides the graph defaults with the stack options.
func applyOptions(opts common.IgramsOptions, config graph.GraphConfig) {
	if opts.AzimuthLooks > 0 {
		config["azimuth_looks"] = strconv.Itoa(opts.AzimuthLooks)
	}
	if opts.RangeLooks > 0 {
		config["range_looks"] = strconv.Itoa(opts.RangeLooks)
	}
	if opts.FilterStrength > 0 {
		config["filter_strength"] = strconv.FormatFloat(opts.FilterStrength, 'g', -1, 64)
	}
	if opts.Workflow != "" {
		config["workflow"] = opts.Workflow
	}
	if opts.Unwrapper != "" {
		config["unwrapper"] = opts.Unwrapper
	}
}

// PatchConfigs rewrites the stripmapStack config_igram_* files found in
// configDir, replacing the merged/SLC location with the stack root. Only
// files that actually change are rewritten. Returns the rewrite count.
func PatchConfigs(configDir string) (int, error) {
	files, err := filepath.Glob(filepath.Join(configDir, "config_igram_*"))
	if err != nil {
		return 0, fmt.Errorf("PatchConfigs.%w", err)
	}
	patched := 0
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return patched, fmt.Errorf("PatchConfigs.%w", err)
		}
		content := strings.ReplaceAll(string(data), "/merged/SLC/", "/")
		if content == string(data) {
			continue
		}
		if err := os.WriteFile(file, []byte(content), 0644); err != nil {
			return patched, fmt.Errorf("PatchConfigs.%w", err)
		}
		patched++
	}
	return patched, nil
}
