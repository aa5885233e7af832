package casa

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"text/template"
)

// HeaderMarker prefixes the JSON line an imhead script prints.
const HeaderMarker = "SIMSWEEP_HEADER "

// taskArg is one keyword argument of a task call, in call order.
type taskArg struct {
	Name  string
	Value interface{}
}

// taskScript is the data a script template renders.
type taskScript struct {
	Task      string
	SessionID string
	Args      []taskArg
	Marker    string
}

var scriptFuncs = template.FuncMap{
	"py": pyLiteral,
}

// scriptPrelude must stay valid under the Python 2.7 embedded in CASA 5 as
// well as Python 3.
const scriptPrelude = `# simsweep {{.Task}}{{if .SessionID}} (sweep {{.SessionID}}){{end}}
from __future__ import print_function

import json
import sys
import traceback

`

var taskTemplate = template.Must(template.New("task").Funcs(scriptFuncs).Parse(scriptPrelude + `try:
    result = {{.Task}}(
{{- range .Args}}
        {{.Name}}={{py .Value}},
{{- end}}
    )
except Exception:
    traceback.print_exc()
    sys.exit(1)

if result is False:
    print("{{.Task}} reported failure", file=sys.stderr)
    sys.exit(2)
`))

var headerTemplate = template.Must(template.New("imhead").Funcs(scriptFuncs).Parse(scriptPrelude + `def _scalar(value):
    if isinstance(value, dict) and "value" in value:
        value = value["value"]
    try:
        return float(value)
    except (TypeError, ValueError):
        pass
    try:
        return float(value[0])
    except (TypeError, ValueError, IndexError, KeyError):
        return None

try:
    header = imhead(
{{- range .Args}}
        {{.Name}}={{py .Value}},
{{- end}}
    )
except Exception:
    traceback.print_exc()
    sys.exit(1)

if not header:
    print("imhead returned no header", file=sys.stderr)
    sys.exit(2)

print({{py .Marker}} + json.dumps({
    "restfreq": _scalar(header.get("restfreq")),
    "cdelt3": _scalar(header.get("cdelt3")),
    "cdelt2": _scalar(header.get("cdelt2")),
    "bunit": str(header.get("bunit", "")),
    "datamax": _scalar(header.get("datamax")),
}))
`))

// pyLiteral renders a Go value as a Python literal.
func pyLiteral(v interface{}) (string, error) {
	switch val := v.(type) {
	case string:
		return strconv.Quote(val), nil
	case bool:
		if val {
			return "True", nil
		}
		return "False", nil
	case int:
		return strconv.Itoa(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return "", fmt.Errorf("no python literal for %v", val)
		}
		s := strconv.FormatFloat(val, 'g', -1, 64)
		if !strings.ContainsAny(s, ".e") {
			s += ".0"
		}
		return s, nil
	case nil:
		return "None", nil
	default:
		return "", fmt.Errorf("no python literal for %T", v)
	}
}

func renderScript(tmpl *template.Template, script taskScript) (string, error) {
	var sb strings.Builder
	if err := tmpl.Execute(&sb, script); err != nil {
		return "", fmt.Errorf("render %s script: %w", script.Task, err)
	}
	return sb.String(), nil
}

func (p ImportParams) args() []taskArg {
	return []taskArg{
		{"fitsimage", p.FitsImage},
		{"imagename", p.ImageName},
		{"overwrite", p.Overwrite},
	}
}

func (p SimobserveParams) args() []taskArg {
	return []taskArg{
		{"project", p.Project},
		{"skymodel", p.SkyModel},
		{"incenter", p.InCenter},
		{"inwidth", p.InWidth},
		{"inbright", p.InBright},
		{"incell", p.InCell},
		{"integration", p.Integration},
		{"totaltime", p.TotalTime},
		{"antennalist", p.AntennaList},
		{"thermalnoise", p.ThermalNoise},
		{"graphics", p.Graphics},
	}
}

func (p CleanParams) args() []taskArg {
	return []taskArg{
		{"vis", p.Vis},
		{"imagename", p.ImageName},
		{"mode", p.Mode},
		{"nchan", p.NChan},
		{"start", p.Start},
		{"width", p.Width},
		{"niter", p.NIter},
		{"threshold", p.Threshold},
		{"restfreq", p.RestFreq},
		{"interactive", p.Interactive},
		{"imsize", p.ImSize},
		{"cell", p.Cell},
		{"phasecenter", p.PhaseCenter},
		{"weighting", p.Weighting},
		{"robust", p.Robust},
		{"pbcor", p.PBCor},
		{"outframe", p.OutFrame},
	}
}

func (p ExportParams) args() []taskArg {
	return []taskArg{
		{"imagename", p.ImageName},
		{"fitsimage", p.FitsImage},
		{"overwrite", p.Overwrite},
		{"dropstokes", p.DropStokes},
		{"velocity", p.Velocity},
	}
}
