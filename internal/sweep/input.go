package sweep

import (
	"errors"
	"fmt"

	"simsweep/internal/workspace"
)

// ErrType is matched by every TypeError.
var ErrType = errors.New("invalid sweep input type")

// TypeError reports a sweep input of the wrong shape.
type TypeError struct {
	Param string      // "beam sizes", "integration times", "files"
	Want  string      // accepted shapes
	Got   interface{} // offending value
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("%s must be %s, got %T", e.Param, e.Want, e.Got)
}

// Is makes errors.Is(err, ErrType) true for any TypeError.
func (e *TypeError) Is(target error) bool {
	return target == ErrType
}

// Inputs are the normalized sweep inputs.
type Inputs struct {
	BeamSizes        []float64 // arcsec
	IntegrationTimes []float64 // minutes
	Files            []string
}

// Normalize checks the shape of raw sweep inputs and turns them into lists.
//
// Beam sizes and integration times accept a float or a list of numbers.
// Files accept nil (every *.fits in dir), a path, or a list of paths.
// Scalar integers and strings are rejected for the numeric inputs.
func Normalize(beams, times, files interface{}, dir string) (*Inputs, error) {
	beamList, err := floatList("beam sizes", beams)
	if err != nil {
		return nil, err
	}
	timeList, err := floatList("integration times", times)
	if err != nil {
		return nil, err
	}
	fileList, err := fileList(files, dir)
	if err != nil {
		return nil, err
	}
	return &Inputs{
		BeamSizes:        beamList,
		IntegrationTimes: timeList,
		Files:            fileList,
	}, nil
}

const floatShapes = "a float or list of floats"

func floatList(param string, v interface{}) ([]float64, error) {
	switch val := v.(type) {
	case float64:
		return []float64{val}, nil
	case float32:
		return []float64{float64(val)}, nil
	case []float64:
		return append([]float64{}, val...), nil
	case []int:
		out := make([]float64, len(val))
		for i, n := range val {
			out[i] = float64(n)
		}
		return out, nil
	case []interface{}:
		out := make([]float64, 0, len(val))
		for _, elem := range val {
			f, ok := number(elem)
			if !ok {
				return nil, &TypeError{Param: param, Want: floatShapes, Got: elem}
			}
			out = append(out, f)
		}
		return out, nil
	default:
		return nil, &TypeError{Param: param, Want: floatShapes, Got: v}
	}
}

func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

const fileShapes = "nil, a path or a list of paths"

func fileList(v interface{}, dir string) ([]string, error) {
	switch val := v.(type) {
	case nil:
		return workspace.ListFITS(dir)
	case string:
		return []string{val}, nil
	case []string:
		return append([]string{}, val...), nil
	case []interface{}:
		out := make([]string, 0, len(val))
		for _, elem := range val {
			s, ok := elem.(string)
			if !ok {
				return nil, &TypeError{Param: "files", Want: fileShapes, Got: elem}
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, &TypeError{Param: "files", Want: fileShapes, Got: v}
	}
}
