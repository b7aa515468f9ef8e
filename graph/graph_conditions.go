package graph

import (
	"os"
	"regexp"

	"github.com/deformlab/sarmosaic/common"
)

// UnitCondition is a condition on the work unit to do an action (execute a
// step, archive a product...)
type UnitCondition struct {
	Name string
	Pass func(common.Unit) bool
}

// pass is a condition always true
var pass = UnitCondition{"pass", func(common.Unit) bool { return true }}

var slcDateDirRegexp = regexp.MustCompile(`^\d{8}$`)

// slcStaged returns whether the segment SLCs are already staged in the unit
// directory (one directory per acquisition date).
func slcStaged(u common.Unit) bool {
	entries, err := os.ReadDir(u.Dir())
	if err != nil {
		return false
	}
	for _, e := range entries {
		if e.IsDir() && slcDateDirRegexp.MatchString(e.Name()) {
			return true
		}
	}
	return false
}

// condSLCPrepared & condSLCMissing pass depending on the staging state of the
// unit, so a step can be skipped when an interrupted stack is resumed.
var condSLCPrepared = UnitCondition{"slc_prepared", slcStaged}
var condSLCMissing = UnitCondition{"slc_missing", func(u common.Unit) bool { return !slcStaged(u) }}

var unitConditionJSON = map[string]UnitCondition{
	pass.Name:            pass,
	condSLCPrepared.Name: condSLCPrepared,
	condSLCMissing.Name:  condSLCMissing,
}
