package graph

import (
	"encoding/json"
	"fmt"

	"github.com/deformlab/sarmosaic/common"
)

var ConditionPass = pass
var ConditionSLCPrepared = condSLCPrepared
var ConditionSLCMissing = condSLCMissing

var NewUAVSARStackPrepGraph = newUAVSARStackPrepGraph
var NewStripmapIgramsGraph = newStripmapIgramsGraph

// FormatArgs exposes the argv of a step for tests.
func (step ProcessingStep) FormatArgs(config GraphConfig, unit common.Unit) ([]string, error) {
	return step.formatArgs(config, unit)
}

// Steps exposes the resolved steps of a graph for tests.
func (g *ProcessingGraph) Steps() []ProcessingStep {
	return g.steps
}

func (t UnitCondition) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Name)
}

type argJSON struct {
	Type  string `json:"type"`
	Value string `json:"value,omitempty"`
}

func (a ArgFixed) MarshalJSON() ([]byte, error) {
	return json.Marshal(argJSON{Type: "fixed", Value: string(a)})
}

func (a ArgConfig) MarshalJSON() ([]byte, error) {
	return json.Marshal(argJSON{Type: "config", Value: string(a)})
}

func (a ArgUnit) MarshalJSON() ([]byte, error) {
	return json.Marshal(argJSON{Type: "unit", Value: string(a)})
}

func (a ArgFlag) MarshalJSON() ([]byte, error) {
	return json.Marshal(argJSON{Type: "flag"})
}

func (a ArgIn) MarshalJSON() ([]byte, error) {
	return json.Marshal(argJSON{Type: "in", Value: string(a.Layer)})
}

func (a ArgOut) MarshalJSON() ([]byte, error) {
	return json.Marshal(argJSON{Type: "out", Value: string(a.Layer)})
}

func (dtype DType) MarshalJSON() ([]byte, error) {
	return json.Marshal(dtype.String())
}

func (a OutFileAction) MarshalJSON() ([]byte, error) {
	switch a {
	case ToIgnore:
		return json.Marshal("to_ignore")
	case ToCreate:
		return json.Marshal("to_create")
	case ToDelete:
		return json.Marshal("to_delete")
	}
	return nil, fmt.Errorf("unknown action: %v", a)
}

func (s ProcessingStep) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Engine    string         `json:"engine"`
		Command   string         `json:"command"`
		Args      map[string]Arg `json:"args"`
		Dir       Arg            `json:"dir,omitempty"`
		Condition UnitCondition  `json:"condition"`
	}{s.Engine, s.Command, s.Args, s.Dir, s.Condition})
}
