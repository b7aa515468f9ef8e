package graph

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/deformlab/sarmosaic/common"
	"github.com/deformlab/sarmosaic/service"
	"github.com/deformlab/sarmosaic/service/log"
	"go.uber.org/zap/zapcore"
)

const (
	unitDir     = "dir"
	unitSegment = "segment"
	unitPol     = "polarization"
	unitStack   = "stack"
	unitSLC     = "slc" // downloaded SLC directory of the unit polarization
	unitDEM     = "dem"
	unitDoppler = "doppler"

	python  = "python"
	command = "cmd"
	docker  = "docker"
)

type Arg interface{}

type ArgIn struct { // product consumed by the step
	Layer Layer `json:"layer"`
}
type ArgOut struct { // product created by the step
	Layer Layer `json:"layer"`
}
type ArgFixed string  // fixed arg
type ArgConfig string // arg from config
type ArgUnit string   // arg from the work unit
type ArgFlag struct{} // bare switch without a value

// ProcessingStep is one command of a graph. Args keys are the literal
// option flags of the command; Dir is the working directory (the unit
// directory if nil).
type ProcessingStep struct {
	Engine    string // python, cmd or docker
	Command   string
	Args      map[string]Arg
	Dir       Arg
	Condition UnitCondition
}

// DType of an output product
type DType int32

// DType of an output product
const (
	Undefined DType = iota
	UInt8
	UInt16
	UInt32
	Int16
	Int32
	Float32
	Float64
	Complex64
)

func DTypeFromString(dtype string) DType {
	switch strings.ToLower(dtype) {
	default:
		return Undefined
	case "uint8", "byte", "u1":
		return UInt8
	case "uint16", "u2":
		return UInt16
	case "uint32", "u4":
		return UInt32
	case "int16", "i2":
		return Int16
	case "int32", "i4":
		return Int32
	case "float32", "f4":
		return Float32
	case "float64", "f8":
		return Float64
	case "complex64", "c4":
		return Complex64
	}
}

func (dtype DType) String() string {
	switch dtype {
	case UInt8:
		return "uint8"
	case UInt16:
		return "uint16"
	case UInt32:
		return "uint32"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Complex64:
		return "complex64"
	}
	return "undefined"
}

// OutFileAction
type OutFileAction int32

// OutFileAction
const (
	ToIgnore OutFileAction = iota
	ToCreate
	ToDelete
)

// Layer is a product directory of the stripmap stack within a unit.
type Layer string

const (
	LayerIgrams    Layer = "Igrams"
	LayerGeometry  Layer = "geom_reference"
	LayerBaselines Layer = "baselines"
	LayerShelve    Layer = "referenceShelve"
	LayerCoregSLC  Layer = "coregSLC"
	LayerOffsets   Layer = "offsets"
	LayerRunFiles  Layer = "run_files"
	LayerConfigs   Layer = "configs"
)

// LayerPath returns the directory of a product layer within a unit.
func LayerPath(u common.Unit, layer Layer) string {
	return filepath.Join(u.Dir(), string(layer))
}

// OutFile describes an output product of the processing
type OutFile struct {
	Layer     Layer         `json:"layer"`
	DType     DType         `json:"datatype"`
	Action    OutFileAction `json:"action"`
	Condition UnitCondition `json:"condition"`
}

// GraphConfig is a configuration map for a processing graph
type GraphConfig map[string]string

// ProcessingGraph is a set of steps
type ProcessingGraph struct {
	steps    []ProcessingStep
	envs     []string
	outFiles []OutFile
	docker   DockerManager
}

// WithDocker attaches the manager running the docker steps of the graph.
func (g *ProcessingGraph) WithDocker(d DockerManager) *ProcessingGraph {
	g.docker = d
	return g
}

func (g *ProcessingGraph) Summary() string {
	s := fmt.Sprintf("- %d steps\n", len(g.steps))
	for _, step := range g.steps {
		s += fmt.Sprintf("   * [%s] %s (%v)\n", step.Engine, step.Command, step.Condition.Name)
	}
	s += fmt.Sprintf("- %d output layers\n", len(g.outFiles))
	for _, f := range g.outFiles {
		switch f.Action {
		case ToCreate:
			s += fmt.Sprintf("   + %-15s (%v)\n", f.Layer, f.Condition.Name)
		case ToDelete:
			s += fmt.Sprintf("   - %-15s (%v)\n", f.Layer, f.Condition.Name)
		default:
			s += fmt.Sprintf("   ? %-15s (%v)\n", f.Layer, f.Condition.Name)
		}
	}
	return s
}

func fileExists(cwd, file string) (string, error) {
	if _, err := os.Stat(file); err == nil || !errors.Is(err, os.ErrNotExist) || cwd == "" {
		return file, err
	}
	file = filepath.Join(cwd, file)
	return fileExists("", file)
}

// CommandPath resolves a toolchain command against TOOLPATH, then PATH.
func CommandPath(command string) (string, error) {
	if toolPath := Getenv("TOOLPATH", ""); toolPath != "" {
		if cmd, err := fileExists(toolPath, command); err == nil {
			return cmd, nil
		}
	}
	return exec.LookPath(command)
}

func newProcessingGraph(steps []ProcessingStep, envs []string, outfiles []OutFile) (*ProcessingGraph, error) {
	// Check engines and commands
	for i, step := range steps {
		switch step.Engine {
		case python, command:
			cmd, err := CommandPath(step.Command)
			if err != nil {
				return nil, fmt.Errorf("newProcessingGraph: command not found: %s", step.Command)
			}
			steps[i].Command = cmd
		case docker:
			// image reference, resolved by the daemon
		default:
			return nil, fmt.Errorf("newProcessingGraph: unknown engine: %s (must be one of %s, %s, %s)", step.Engine, python, command, docker)
		}
	}

	return &ProcessingGraph{
		steps:    steps,
		envs:     envs,
		outFiles: outfiles,
	}, nil
}

// LoadGraph returns the graph from its name and its default configuration
func LoadGraph(ctx context.Context, graphName string) (*ProcessingGraph, GraphConfig, error) {
	switch graphName {
	case "UAVSARStackPrep":
		g, err := newUAVSARStackPrepGraph()
		if err != nil {
			return nil, nil, err
		}
		return g, UAVSARDefaultConfig(), nil
	case "StripmapIgrams":
		g, err := newStripmapIgramsGraph()
		if err != nil {
			return nil, nil, err
		}
		return g, UAVSARDefaultConfig(), nil
	}

	return LoadGraphFromFile(ctx, graphName)
}

// LoadGraphFromFile returns the graph from a filename
func LoadGraphFromFile(ctx context.Context, graphFile string) (*ProcessingGraph, GraphConfig, error) {
	f, err := fileExists(Getenv("GRAPHPATH", "/data/graph"), graphFile)
	if err != nil {
		// Try to fetch it
		dir, name := path.Split(graphFile)
		if dir == "" {
			return nil, nil, fmt.Errorf("LoadGraphFromFile[%s]: unknown graph: %w", graphFile, err)
		}
		storage, e := service.NewStorageStrategy(ctx, dir)
		if e != nil {
			return nil, nil, fmt.Errorf("LoadGraphFromFile[%s]: unknown graph (%w-%v)", graphFile, err, e)
		}
		tmpDir, err := os.MkdirTemp("", "graph")
		if err != nil {
			return nil, nil, fmt.Errorf("LoadGraphFromFile[%s]: unable to create temp dir: %w", graphFile, err)
		}
		defer os.RemoveAll(tmpDir)
		if err := storage.ImportProduct(ctx, name, tmpDir); err != nil {
			return nil, nil, fmt.Errorf("LoadGraphFromFile[%s]: unable to fetch graph: %w", graphFile, err)
		}

		return LoadGraphFromFile(ctx, filepath.Join(tmpDir, name))
	}
	graphFile = f
	byteValue, err := os.ReadFile(graphFile)
	if err != nil {
		return nil, nil, fmt.Errorf("LoadGraphFromFile[%s]: %w", graphFile, err)
	}

	var graphJSON ProcessingGraphJSON
	if err := json.Unmarshal(byteValue, &graphJSON); err != nil {
		return nil, nil, fmt.Errorf("LoadGraphFromFile[%s]: %w", graphFile, err)
	}

	graph, err := newProcessingGraph(graphJSON.Steps, graphJSON.Envs, graphJSON.OutFiles)
	if err != nil {
		return nil, nil, fmt.Errorf("LoadGraphFromFile[%s]: %w", graphFile, err)
	}
	if graphJSON.Config == nil {
		graphJSON.Config = map[string]string{}
	}

	return graph, graphJSON.Config, nil
}

// UAVSARDefaultConfig returns the processing defaults of the UAVSAR stack graphs
func UAVSARDefaultConfig() GraphConfig {
	return GraphConfig{
		"azimuth_looks":   "27",
		"range_looks":     "7",
		"filter_strength": "0.2",
		"workflow":        "interferogram",
		"unwrapper":       "snaphu",
	}
}

// Getenv retrieves the value of the environment variable named by the key.
// Return def if not set
func Getenv(key, def string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return def
}

// newUAVSARStackPrepGraph stages the segment SLCs and generates the stripmap
// run and config files. The staging step runs in the stack directory and is
// skipped when the SLCs are already there, so an interrupted stack can be
// resumed.
func newUAVSARStackPrepGraph() (*ProcessingGraph, error) {
	steps := []ProcessingStep{
		{
			Engine:    python,
			Command:   "prepareUAVSAR_coregStack.py",
			Condition: condSLCMissing,
			Dir:       ArgUnit(unitStack),

			Args: map[string]Arg{
				"-i": ArgUnit(unitSLC),
				"-d": ArgUnit(unitDoppler),
				"-o": ArgUnit(unitDir),
				"-s": ArgUnit(unitSegment),
			},
		},
		{
			Engine:    python,
			Command:   "stackStripMap.py",
			Condition: pass,

			Args: map[string]Arg{
				"-s":                ArgUnit(unitDir),
				"-d":                ArgUnit(unitDEM),
				"-a":                ArgConfig("azimuth_looks"),
				"-r":                ArgConfig("range_looks"),
				"--filter_strength": ArgConfig("filter_strength"),
				"-W":                ArgConfig("workflow"),
				"-u":                ArgConfig("unwrapper"),
				"--nofocus":         ArgFlag{},
			},
		},
	}

	outfiles := []OutFile{
		{Layer: LayerRunFiles, Action: ToIgnore, Condition: pass},
		{Layer: LayerConfigs, Action: ToIgnore, Condition: pass},
	}

	return newProcessingGraph(steps, nil, outfiles)
}

// newStripmapIgramsGraph runs the reference geometry and the interferogram
// stages of the stripmap stack. The intermediate runs of the generic stripmap
// workflow are not needed: the UAVSAR stack is delivered coregistered.
func newStripmapIgramsGraph() (*ProcessingGraph, error) {
	steps := []ProcessingStep{
		{
			Engine:    python,
			Command:   "run.py",
			Condition: pass,

			Args: map[string]Arg{
				"-i": ArgFixed("./run_files/run_01_reference"),
			},
		},
		{
			Engine:    python,
			Command:   "run.py",
			Condition: pass,

			Args: map[string]Arg{
				"-i": ArgFixed("./run_files/run_08_igram"),
			},
		},
	}

	outfiles := []OutFile{
		{Layer: LayerIgrams, DType: Float32, Action: ToCreate, Condition: pass},
		{Layer: LayerGeometry, DType: Float64, Action: ToCreate, Condition: pass},
		{Layer: LayerBaselines, Action: ToCreate, Condition: pass},
		{Layer: LayerShelve, Action: ToCreate, Condition: pass},
		{Layer: LayerCoregSLC, DType: Complex64, Action: ToDelete, Condition: pass},
		{Layer: LayerOffsets, Action: ToDelete, Condition: pass},
	}

	return newProcessingGraph(steps, nil, outfiles)
}

func cmdToString(cmd *exec.Cmd) string {
	s := ""
	for _, a := range cmd.Args {
		s += " " + a
	}
	return s
}

// Process runs the graph on one work unit.
// Returns the products to archive or to delete.
func (g *ProcessingGraph) Process(ctx context.Context, config GraphConfig, unit common.Unit) ([]OutFile, error) {
	var filter LogFilter
	isceFilter := ISCELogFilter{}
	cmdFilter := CmdLogFilter{}
	for _, step := range g.steps {
		if !step.Condition.Pass(unit) {
			continue
		}

		// Get args list
		args, err := step.formatArgs(config, unit)
		if err != nil {
			return nil, fmt.Errorf("process.%w", err)
		}

		// Working directory
		dir := unit.Dir()
		if step.Dir != nil {
			if dir, err = formatArg(step.Dir, config, unit); err != nil {
				return nil, fmt.Errorf("process.%w", err)
			}
		}

		if step.Engine == docker {
			if g.docker == nil {
				return nil, fmt.Errorf("process[%s]: no docker manager attached", step.Command)
			}
			if err := g.docker.Process(ctx, dir, step.Command, args, append(os.Environ(), g.envs...)); err != nil {
				return nil, fmt.Errorf("process[%s %s]: %w", step.Command, strings.Join(args, " "), err)
			}
			continue
		}

		// Create command
		var cmd *exec.Cmd
		switch step.Engine {
		case python:
			cmd = exec.Command(step.Command, args...)
			filter = &isceFilter

		case command:
			cmd = exec.Command(step.Command, args...)
			filter = &cmdFilter
		}
		cmd.Dir = dir
		if len(g.envs) > 0 {
			cmd.Env = append(os.Environ(), g.envs...)
		}

		// Exec step
		log.Logger(ctx).Sugar().Debug(cmdToString(cmd))
		if err := log.Exec(ctx, cmd, log.StdoutLevel(zapcore.DebugLevel), log.StdoutFilter(filter), log.StderrFilter(filter)); err != nil {
			if filter != nil {
				err = filter.WrapError(err)
			}
			return nil, fmt.Errorf("process[%s]: %w", cmdToString(cmd), err)
		}
	}

	// Products list
	var outfiles []OutFile
	for _, f := range g.outFiles {
		if f.Condition.Pass(unit) {
			outfiles = append(outfiles, f)
		}
	}
	return outfiles, nil
}

type LogFilter interface {
	log.Filter
	// WrapError wraps the error with additional information from the logs
	WrapError(err error) error
}

// ISCELogFilter formats log from the ISCE toolchain
type ISCELogFilter struct {
	lastError string
}

// MintPyLogFilter formats log from MintPy applications
type MintPyLogFilter struct {
	lastError string
}

// CmdLogFilter formats log from other commands
type CmdLogFilter struct {
	lastError string
}

var temporaryErrs = []string{
	"temporary failure",
	"timed out",
}

// pythonErrRegexp matches the closing line of a python traceback
var pythonErrRegexp = regexp.MustCompile(`^\w+(Error|Exception): `)

// WrapError implements LogFilter
func (f *ISCELogFilter) WrapError(err error) error {
	if f.lastError == "" {
		return err
	}
	err = service.MergeErrors(true, err, errors.New(f.lastError))
	strerr := strings.ToLower(err.Error())
	if strings.Contains(strerr, "fatal") {
		return service.MakeFatal(err)
	}
	for _, tmpErr := range temporaryErrs {
		if strings.Contains(strerr, tmpErr) {
			return service.MakeTemporary(err)
		}
	}
	return err
}

// Filter implement log.Filter
func (f *ISCELogFilter) Filter(msg string, defaultLevel zapcore.Level) (string, zapcore.Level, bool) {
	trimmedmsg := strings.TrimSpace(msg)
	if strings.HasPrefix(trimmedmsg, "FATAL:") || strings.HasPrefix(trimmedmsg, "ERROR:") ||
		strings.HasPrefix(trimmedmsg, "Traceback") || pythonErrRegexp.MatchString(trimmedmsg) {
		f.lastError = msg
		return msg, zapcore.ErrorLevel, false
	}
	if strings.HasPrefix(trimmedmsg, "WARNING:") {
		return msg, zapcore.WarnLevel, false
	}
	return msg, defaultLevel, false
}

// WrapError implements LogFilter
func (f *MintPyLogFilter) WrapError(err error) error {
	if f.lastError != "" && err != nil {
		strerr := strings.ToLower(f.lastError)
		for _, tmpErr := range temporaryErrs {
			if strings.Contains(strerr, tmpErr) {
				err = service.MakeTemporary(err)
				break
			}
		}
		return fmt.Errorf("%w (%v)", err, f.lastError)
	}
	return err
}

// Filter implement log.Filter
func (f *MintPyLogFilter) Filter(msg string, defaultLevel zapcore.Level) (string, zapcore.Level, bool) {
	trimmedmsg := strings.TrimSpace(msg)
	if strings.HasPrefix(trimmedmsg, "Traceback") || pythonErrRegexp.MatchString(trimmedmsg) {
		f.lastError = msg
		return msg, zapcore.ErrorLevel, false
	}
	if strings.HasPrefix(trimmedmsg, "WARNING:") {
		return msg, zapcore.WarnLevel, false
	}
	// step banners of smallbaselineApp
	if strings.HasPrefix(trimmedmsg, "******") || strings.HasPrefix(trimmedmsg, "Go to work directory") {
		return msg, zapcore.InfoLevel, false
	}
	return msg, defaultLevel, false
}

// WrapError implements LogFilter
func (f *CmdLogFilter) WrapError(err error) error {
	if f.lastError != "" && err != nil {
		if strings.Contains(f.lastError, "FATAL ERROR:") {
			err = service.MakeFatal(err)
		}
		if strings.Contains(f.lastError, "TEMPORARY ERROR:") {
			err = service.MakeTemporary(err)
		}
		return fmt.Errorf("%w (%v)", err, f.lastError)
	}
	return err
}

// Filter implement log.Filter
func (f *CmdLogFilter) Filter(msg string, defaultLevel zapcore.Level) (string, zapcore.Level, bool) {
	msg = strings.TrimSuffix(msg, "\n")
	trimmedmsg := strings.TrimSpace(msg)
	if strings.Contains(trimmedmsg, "ERROR:") {
		f.lastError = msg
		return msg, zapcore.ErrorLevel, false
	} else if strings.HasPrefix(trimmedmsg, "WARN:") {
		return msg, zapcore.WarnLevel, false
	}
	return msg, zapcore.DebugLevel, false
}

// formatArgs resolves the argument map of the step into its argv.
// Keys are emitted in sorted order so a unit always produces the same
// command line. A key beginning with $ is emitted as a bare positional,
// any other key is the option flag followed by its value.
func (step ProcessingStep) formatArgs(config GraphConfig, unit common.Unit) ([]string, error) {
	keys := make([]string, 0, len(step.Args))
	for key := range step.Args {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var args []string
	for _, key := range keys {
		arg := step.Args[key]
		if _, ok := arg.(ArgFlag); ok {
			args = append(args, key)
			continue
		}

		value, err := formatArg(arg, config, unit)
		if err != nil {
			return nil, fmt.Errorf("formatArgs.%w", err)
		}

		if strings.HasPrefix(key, "$") {
			args = append(args, value)
		} else {
			args = append(args, key, value)
		}
	}

	return args, nil
}

func formatArg(arg Arg, config GraphConfig, unit common.Unit) (string, error) {
	switch key := arg.(type) {
	// Input product
	case ArgIn:
		return LayerPath(unit, key.Layer), nil

	// Output product
	case ArgOut:
		return LayerPath(unit, key.Layer), nil

	// Fixed arg
	case ArgFixed:
		return string(key), nil

	// Specific args from the work unit
	case ArgUnit:
		switch key {
		case unitDir:
			return unit.Dir(), nil
		case unitSegment:
			return strconv.Itoa(unit.Segment.Index), nil
		case unitPol:
			return string(unit.Segment.Pol), nil
		case unitStack:
			return unit.Stack.RootDir, nil
		case unitSLC:
			return filepath.Join(unit.Stack.DownloadDir, string(unit.Segment.Pol)), nil
		case unitDEM:
			return unit.Stack.DEM, nil
		case unitDoppler:
			return unit.Stack.Doppler, nil
		}
		return "", fmt.Errorf("key '%s' not found in unit", key)

	// Specific args from config
	case ArgConfig:
		if valstr, ok := config[string(key)]; ok {
			return valstr, nil
		}
		return "", fmt.Errorf("key '%s' not found in config", key)

	default:
		return "", fmt.Errorf("unknown Arg type: %v", key)
	}
}
