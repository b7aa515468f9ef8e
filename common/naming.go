package common

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// Pair is an interferometric date pair, reference date first.
type Pair struct {
	Reference string `json:"reference"`
	Secondary string `json:"secondary"`
}

var pairRegexp = regexp.MustCompile(`^(\d{8})_(\d{8})$`)

// ParsePair parses "YYYYMMDD_YYYYMMDD". The reference date must sort
// strictly before the secondary date.
func ParsePair(s string) (Pair, error) {
	m := pairRegexp.FindStringSubmatch(s)
	if m == nil {
		return Pair{}, fmt.Errorf("ParsePair: invalid pair name %q (expect YYYYMMDD_YYYYMMDD)", s)
	}
	for _, date := range m[1:] {
		if _, err := time.Parse("20060102", date); err != nil {
			return Pair{}, fmt.Errorf("ParsePair[%s]: %w", s, err)
		}
	}
	if m[1] >= m[2] {
		return Pair{}, fmt.Errorf("ParsePair: reference %s must precede secondary %s", m[1], m[2])
	}
	return Pair{Reference: m[1], Secondary: m[2]}, nil
}

func (p Pair) String() string {
	return p.Reference + "_" + p.Secondary
}

// Polarization of a UAVSAR channel
type Polarization string

const (
	HH Polarization = "hh"
	HV Polarization = "hv"
	VV Polarization = "vv"
)

// GetPolarizationFromString returns the polarization from the user input
func GetPolarizationFromString(input string) (Polarization, error) {
	switch strings.ToLower(input) {
	case "hh":
		return HH, nil
	case "hv":
		return HV, nil
	case "vv":
		return VV, nil
	}
	return "", fmt.Errorf("GetPolarizationFromString: unknown polarization %q", input)
}

// Segment is one along-track sub-acquisition of a UAVSAR flightline.
// ISCE processes each segment as an independent stripmap stack.
type Segment struct {
	Index int          `json:"index"`
	Pol   Polarization `json:"polarization"`
}

// Dir returns the working directory name of the segment, e.g. "s2_hh".
func (s Segment) Dir() string {
	return fmt.Sprintf("s%d_%s", s.Index, s.Pol)
}

// SegmentDir returns the segment working directory within a stack.
func SegmentDir(stackDir string, seg Segment) string {
	return filepath.Join(stackDir, seg.Dir())
}

// IgramDir returns the interferogram directory of a pair within a segment.
func IgramDir(stackDir string, seg Segment, pair Pair) string {
	return filepath.Join(stackDir, seg.Dir(), "Igrams", pair.String())
}

// GeomDir returns the radar-coded geometry directory of a segment.
func GeomDir(stackDir string, seg Segment) string {
	return filepath.Join(stackDir, seg.Dir(), "geom_reference")
}

// MosaicDir returns the directory receiving the mosaicked products of one
// polarization.
func MosaicDir(stackDir string, pol Polarization) string {
	return filepath.Join(stackDir, "mosaic_"+string(pol))
}

// MosaicIgramDir returns the mosaicked interferogram directory of a pair.
func MosaicIgramDir(stackDir string, pol Polarization, pair Pair) string {
	return filepath.Join(MosaicDir(stackDir, pol), "Igrams", pair.String())
}

// MosaicGeomDir returns the mosaicked geometry directory.
func MosaicGeomDir(stackDir string, pol Polarization) string {
	return filepath.Join(MosaicDir(stackDir, pol), "geom_reference")
}

// UnwrappedFile returns the unwrapped interferogram file name of a pair.
func UnwrappedFile(pair Pair) string {
	return fmt.Sprintf("filt_%s_snaphu.unw", pair)
}

// CoherenceFile returns the coherence file name of a pair.
func CoherenceFile(pair Pair) string {
	return fmt.Sprintf("filt_%s.cor", pair)
}

// ConnCompFile returns the connected-components file name of a pair.
func ConnCompFile(pair Pair) string {
	return UnwrappedFile(pair) + ".conncomp"
}

// Glob patterns matching the per-pair products under an Igrams directory.
// They are deliberately looser than the names UnwrappedFile and friends
// produce, so that products of either unwrapper are picked up.
const (
	UnwrappedGlob = "filt_*.unw"
	CoherenceGlob = "filt_*.cor"
	ConnCompGlob  = "filt_*.conncomp"
)

var (
	uavsarDateRegexp    = regexp.MustCompile(`^\d{6}$`)
	uavsarModeRegexp    = regexp.MustCompile(`^L\d{3}(HH|HV|VH|VV){1,2}$`)
	uavsarSegmentRegexp = regexp.MustCompile(`^s\d+$`)
	uavsarVersionRegexp = regexp.MustCompile(`^\d{2}$`)
	uavsarLooksRegexp   = regexp.MustCompile(`^\d+x\d+$`)
)

// GetDateFromProductId returns the acquisition date of a UAVSAR product.
func GetDateFromProductId(productID string) (time.Time, error) {
	format, err := Info(productID)
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse("20060102", fmt.Sprintf("%s%s%s", format["YEAR"], format["MONTH"], format["DAY"]))
}

// Info extracts the naming fields of a UAVSAR product identifier, e.g.
// Dhorse_08701_21049_011_210831_L090HH_01 (downloaded SLC),
// Dhorse_08701_21049_011_210831_L090HVHV_CX_01 (MLC cross-product) or
// Dhorse_08701_21049_011_210831_L090HH_02_BC_s2_1x1.slc (stack segment SLC).
func Info(productID string) (map[string]string, error) {
	name := productID
	for _, ext := range []string{".ann", ".slc", ".mlc", ".grd", ".llh", ".lkv", ".dop", ".zip"} {
		name = strings.TrimSuffix(name, ext)
	}
	parts := strings.Split(name, "_")
	if len(parts) < 7 {
		return nil, errors.New("Info: invalid UAVSAR product name: " + productID)
	}
	site, lineID, flightID, dataTake, date, mode := parts[0], parts[1], parts[2], parts[3], parts[4], parts[5]
	if len(lineID) != 5 || !uavsarDateRegexp.MatchString(date) || !uavsarModeRegexp.MatchString(mode) {
		return nil, errors.New("Info: invalid UAVSAR product name: " + productID)
	}
	info := map[string]string{
		"SCENE":        name,
		"SITE":         site,
		"LINE_ID":      lineID,
		"HEADING":      lineID[0:3],
		"COUNTER":      lineID[3:5],
		"FLIGHT_ID":    flightID,
		"DATA_TAKE":    dataTake,
		"DATE":         "20" + date,
		"YEAR":         "20" + date[0:2],
		"MONTH":        date[2:4],
		"DAY":          date[4:6],
		"BAND":         mode[0:1],
		"STEERING":     mode[1:4],
		"POLARISATION": strings.ToLower(mode[4:]),
	}
	for _, p := range parts[6:] {
		switch {
		case uavsarVersionRegexp.MatchString(p):
			info["VERSION"] = p
		case uavsarSegmentRegexp.MatchString(p):
			info["SEGMENT"] = p[1:]
		case uavsarLooksRegexp.MatchString(p):
			info["LOOKS"] = p
		case p == "CX" || p == "XX":
			info["GRID"] = p
		case p == "BC":
			info["STACK"] = p
		}
	}
	return info, nil
}
