package graph

import (
	"encoding/json"
	"fmt"
	"reflect"
)

type ProcessingGraphJSON struct {
	Config   map[string]string `json:"config"`
	Envs     []string          `json:"envs,omitempty"`
	Steps    []ProcessingStep  `json:"processing_steps"`
	OutFiles []OutFile         `json:"out_files"`
}

func (of *OutFile) UnmarshalJSON(data []byte) error {
	type outFileAlias OutFile
	alias := &outFileAlias{Condition: pass}

	if err := json.Unmarshal(data, alias); err != nil {
		return err
	}

	*of = OutFile(*alias)
	return nil
}

func (t *UnitCondition) UnmarshalJSON(data []byte) error {
	var res string
	if err := json.Unmarshal(data, &res); err != nil {
		return err
	}
	if res == "" {
		res = pass.Name
	}

	var ok bool
	*t, ok = unitConditionJSON[res]
	if !ok {
		return fmt.Errorf("UnmarshalJSON: unknown condition: %s (must be one of %v)", res, reflect.ValueOf(unitConditionJSON).MapKeys())
	}
	return nil
}

func (dtype *DType) UnmarshalJSON(data []byte) error {
	var res string
	if err := json.Unmarshal(data, &res); err != nil {
		return err
	}
	*dtype = DTypeFromString(res)
	return nil
}

type ArgJSON struct {
	Arg
}

func (a *ArgJSON) UnmarshalJSON(data []byte) error {
	res := struct {
		Type  string `json:"type"`
		Value string `json:"value"`
	}{}
	if err := json.Unmarshal(data, &res); err != nil {
		return err
	}

	switch res.Type {
	case "fixed":
		a.Arg = ArgFixed(res.Value)
	case "config":
		a.Arg = ArgConfig(res.Value)
	case "unit":
		a.Arg = ArgUnit(res.Value)
	case "flag":
		a.Arg = ArgFlag{}
	case "in":
		a.Arg = ArgIn{Layer: Layer(res.Value)}
	case "out":
		a.Arg = ArgOut{Layer: Layer(res.Value)}
	default:
		return fmt.Errorf("UnmarshalJSON: unknown type: %s (must be one of fixed, config, unit, flag, in, out)", res.Type)
	}
	return nil
}

func (a *ProcessingStep) UnmarshalJSON(data []byte) error {
	res := struct {
		Engine    string             `json:"engine"` // python, cmd or docker
		Command   string             `json:"command"`
		Args      map[string]ArgJSON `json:"args"`
		Dir       *ArgJSON           `json:"dir"`
		Condition UnitCondition      `json:"condition"`
	}{Condition: pass}
	if err := json.Unmarshal(data, &res); err != nil {
		return err
	}

	*a = ProcessingStep{
		Engine:    res.Engine,
		Command:   res.Command,
		Args:      map[string]Arg{},
		Condition: res.Condition,
	}
	if res.Dir != nil {
		a.Dir = res.Dir.Arg
	}
	for k, v := range res.Args {
		a.Args[k] = v.Arg
	}
	return nil
}

func (a *OutFileAction) UnmarshalJSON(data []byte) error {
	var action string
	if err := json.Unmarshal(data, &action); err != nil {
		return err
	}
	switch action {
	case "", "to_ignore":
		*a = ToIgnore
	case "to_create":
		*a = ToCreate
	case "to_delete":
		*a = ToDelete
	default:
		return fmt.Errorf("unknown action: %v", action)
	}
	return nil
}
