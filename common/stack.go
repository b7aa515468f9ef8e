package common

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Stack describes one UAVSAR flightline stack: where its inputs live and
// how each pipeline stage is tuned. It is loaded from a YAML file so that
// a new site never requires a rebuild.
type Stack struct {
	Site          string         `yaml:"site"`
	Flightline    string         `yaml:"flightline"`
	RootDir       string         `yaml:"root_dir"`
	DownloadDir   string         `yaml:"download_dir"`
	DEM           string         `yaml:"dem"`
	Doppler       string         `yaml:"doppler"`
	Segments      int            `yaml:"segments"`
	Polarizations []Polarization `yaml:"polarizations"`
	Pairs         []string       `yaml:"pairs,omitempty"`

	Igrams     IgramsOptions     `yaml:"igrams"`
	Mosaic     MosaicOptions     `yaml:"mosaic"`
	Timeseries TimeseriesOptions `yaml:"timeseries"`
}

// IgramsOptions tunes the ISCE stripmap stack processor.
type IgramsOptions struct {
	AzimuthLooks   int     `yaml:"azimuth_looks"`
	RangeLooks     int     `yaml:"range_looks"`
	FilterStrength float64 `yaml:"filter_strength"`
	Workflow       string  `yaml:"workflow"`
	Unwrapper      string  `yaml:"unwrapper"`
}

// MosaicOptions tunes the segment boundary offset estimator.
type MosaicOptions struct {
	BoundarySize       int     `yaml:"boundary_size"`
	OverlapWidth       int     `yaml:"overlap_width"`
	CoherenceThreshold float64 `yaml:"coherence_threshold"`
}

// TimeseriesOptions tunes the MintPy small-baseline run.
type TimeseriesOptions struct {
	Dir                 string  `yaml:"dir"`
	ReferenceLat        float64 `yaml:"reference_lat"`
	ReferenceLon        float64 `yaml:"reference_lon"`
	SubsetY             string  `yaml:"subset_y,omitempty"`
	SubsetX             string  `yaml:"subset_x,omitempty"`
	LaloStep            float64 `yaml:"lalo_step"`
	TroposphericDelay   string  `yaml:"tropospheric_delay"`
	Deramp              string  `yaml:"deramp"`
	TopographicResidual bool    `yaml:"topographic_residual"`
	WaterMask           string  `yaml:"water_mask,omitempty"`
}

// DefaultStack returns a Stack with the processing defaults. Paths and the
// flightline identity are site-specific and stay empty.
func DefaultStack() Stack {
	return Stack{
		Segments:      1,
		Polarizations: []Polarization{HH},
		Igrams: IgramsOptions{
			AzimuthLooks:   27,
			RangeLooks:     7,
			FilterStrength: 0.2,
			Workflow:       "interferogram",
			Unwrapper:      "snaphu",
		},
		Mosaic: MosaicOptions{
			BoundarySize:       400,
			OverlapWidth:       400,
			CoherenceThreshold: 0.7,
		},
		Timeseries: TimeseriesOptions{
			Dir:                 "mintpy",
			LaloStep:            0.0001388888888888889,
			TroposphericDelay:   "pyaps",
			Deramp:              "linear",
			TopographicResidual: true,
		},
	}
}

// LoadStack reads a stack description from a YAML file, applying the
// defaults of DefaultStack for absent keys.
func LoadStack(path string) (Stack, error) {
	stack := DefaultStack()
	data, err := os.ReadFile(path)
	if err != nil {
		return Stack{}, fmt.Errorf("LoadStack.%w", err)
	}
	if err := yaml.Unmarshal(data, &stack); err != nil {
		return Stack{}, fmt.Errorf("LoadStack[%s]: %w", path, err)
	}
	if err := stack.Validate(); err != nil {
		return Stack{}, fmt.Errorf("LoadStack[%s]: %w", path, err)
	}
	return stack, nil
}

// Save writes the stack description to a YAML file.
func (s Stack) Save(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("Stack.Save.%w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("Stack.Save.%w", err)
	}
	return nil
}

// Validate checks the stack description for nonsense.
func (s Stack) Validate() error {
	if s.Site == "" || s.Flightline == "" {
		return fmt.Errorf("Validate: site and flightline are required")
	}
	if s.RootDir == "" {
		return fmt.Errorf("Validate: root_dir is required")
	}
	if s.Segments < 1 {
		return fmt.Errorf("Validate: segments must be >= 1, got %d", s.Segments)
	}
	if len(s.Polarizations) == 0 {
		return fmt.Errorf("Validate: at least one polarization is required")
	}
	for _, pol := range s.Polarizations {
		if _, err := GetPolarizationFromString(string(pol)); err != nil {
			return fmt.Errorf("Validate.%w", err)
		}
	}
	for _, pair := range s.Pairs {
		if _, err := ParsePair(pair); err != nil {
			return fmt.Errorf("Validate.%w", err)
		}
	}
	if s.Mosaic.BoundarySize < 1 || s.Mosaic.OverlapWidth < 1 {
		return fmt.Errorf("Validate: mosaic boundary_size and overlap_width must be >= 1")
	}
	if s.Mosaic.CoherenceThreshold <= 0 || s.Mosaic.CoherenceThreshold >= 1 {
		return fmt.Errorf("Validate: mosaic coherence_threshold must be in (0, 1), got %g", s.Mosaic.CoherenceThreshold)
	}
	return nil
}

// Name returns the stack identity, e.g. "Dhorse_08701".
func (s Stack) Name() string {
	return s.Site + "_" + s.Flightline
}

// PairList returns the configured pairs, parsed and sorted.
func (s Stack) PairList() ([]Pair, error) {
	pairs := make([]Pair, 0, len(s.Pairs))
	for _, p := range s.Pairs {
		pair, err := ParsePair(p)
		if err != nil {
			return nil, fmt.Errorf("PairList.%w", err)
		}
		pairs = append(pairs, pair)
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].String() < pairs[j].String() })
	return pairs, nil
}

// Units returns the work units of the stack in deterministic order:
// polarizations sorted, then segments 1..N.
func (s *Stack) Units() []Unit {
	pols := make([]Polarization, len(s.Polarizations))
	copy(pols, s.Polarizations)
	sort.Slice(pols, func(i, j int) bool { return pols[i] < pols[j] })

	units := make([]Unit, 0, len(pols)*s.Segments)
	for _, pol := range pols {
		for i := 1; i <= s.Segments; i++ {
			units = append(units, Unit{Stack: s, Segment: Segment{Index: i, Pol: pol}})
		}
	}
	return units
}

// Unit is one (segment, polarization) work item of a stack run.
type Unit struct {
	Stack   *Stack  `json:"-"`
	Segment Segment `json:"segment"`
}

// ID identifies the unit across logs, reports and archived products,
// e.g. "Dhorse_08701_s1_hh".
func (u Unit) ID() string {
	return u.Stack.Name() + "_" + u.Segment.Dir()
}

// Dir returns the working directory of the unit within the stack.
func (u Unit) Dir() string {
	return SegmentDir(u.Stack.RootDir, u.Segment)
}
