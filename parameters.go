package bgmigration

import (
	"encoding/json"
	"fmt"

	"github.com/karlseguin/typed"
)

// parameter keys understood by Engine.Start
const (
	ParamStartID = "start_id"
	ParamStopID  = "stop_id"
)

// Parameters the JSON parameters a job is started with
type Parameters struct {
	typed.Typed
}

// NewParameters creates empty parameters
func NewParameters() *Parameters {
	return &Parameters{Typed: typed.Typed{}}
}

// RangeParameters creates the parameters of a run over [start, stop]
func RangeParameters(start, stop Cursor) *Parameters {
	return NewParameters().Set(ParamStartID, []int64(start)).Set(ParamStopID, []int64(stop))
}

func (p *Parameters) Set(k string, v any) *Parameters {
	p.Typed[k] = v
	return p
}

func (p Parameters) ToString() string {
	bs, err := json.Marshal(p)
	if err != nil {
		panic(err)
	}
	return string(bs)
}

func (p *Parameters) FromString(str string) error {
	return json.Unmarshal([]byte(str), p)
}

func (p *Parameters) UnmarshalJSON(bytes []byte) error {
	return json.Unmarshal(bytes, &p.Typed)
}

func (p Parameters) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.Typed)
}

// Cursor reads a cursor stored as a number, an array of numbers or a "5,100" string
func (p Parameters) Cursor(key string) (Cursor, error) {
	raw, ok := p.Typed[key]
	if !ok {
		return nil, fmt.Errorf("parameter %v is missing", key)
	}
	switch v := raw.(type) {
	case float64:
		return Cursor{int64(v)}, nil
	case int:
		return Cursor{int64(v)}, nil
	case int64:
		return Cursor{v}, nil
	case []int64:
		return Cursor(v), nil
	case string:
		return ParseCursor(v)
	case []interface{}:
		c := make(Cursor, 0, len(v))
		for _, e := range v {
			f, ok := e.(float64)
			if !ok {
				return nil, fmt.Errorf("parameter %v holds a non numeric value %v", key, e)
			}
			c = append(c, int64(f))
		}
		return c, nil
	}
	return nil, fmt.Errorf("parameter %v has unsupported type %T", key, raw)
}

// ParseJobParams parses the JSON parameters of a job
func ParseJobParams(params string) (*Parameters, error) {
	ret := NewParameters()
	if len(params) == 0 {
		return ret, nil
	}
	if err := ret.FromString(params); err != nil {
		return nil, err
	}
	return ret, nil
}
