package monitor

import (
	"bytes"
	"fmt"
	"image/color"
	"math"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/banshee-data/livox.bridge/internal/host"
	"github.com/banshee-data/livox.bridge/internal/projection"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

const (
	defaultMaxPoints = 8000
	maxMaxPoints     = 50000
)

// framePoint is one populated sample of a frame, projected for a top-down
// view. Spherical frames are converted back to x/y.
type framePoint struct {
	X, Y, Z, Intensity float64
}

func framePoints(f *host.Frame, maxPoints int) ([]framePoint, int) {
	if f == nil || f.Populated == 0 {
		return nil, 1
	}
	stride := 1
	if f.Populated > maxPoints {
		stride = int(math.Ceil(float64(f.Populated) / float64(maxPoints)))
	}
	pts := make([]framePoint, 0, f.Populated/stride+1)
	for i := 0; i < f.Populated; i += stride {
		a, b, c, in := float64(f.Channels[0][i]), float64(f.Channels[1][i]), float64(f.Channels[2][i]), float64(f.Channels[3][i])
		if f.Mode == projection.Spherical {
			theta := b * math.Pi / 180
			phi := c * math.Pi / 180
			horiz := a * math.Cos(phi)
			a, b, c = horiz*math.Cos(theta), horiz*math.Sin(theta), a*math.Sin(phi)
		}
		pts = append(pts, framePoint{X: a, Y: b, Z: c, Intensity: in})
	}
	return pts, stride
}

func maxPointsParam(r *http.Request) int {
	if mp := r.URL.Query().Get("max_points"); mp != "" {
		if v, err := strconv.Atoi(mp); err == nil && v > 100 && v <= maxMaxPoints {
			return v
		}
	}
	return defaultMaxPoints
}

// handleScatter renders the latest frame as an echarts XY scatter coloured by
// intensity.
// Query params:
//   - max_points (optional; default 8000) to reduce payload size
func (ws *WebServer) handleScatter(w http.ResponseWriter, r *http.Request) {
	frame := ws.source.Latest()
	if frame == nil || frame.Populated == 0 {
		ws.writeJSONError(w, http.StatusNotFound, "no frame with points available")
		return
	}
	pts, stride := framePoints(frame, maxPointsParam(r))

	data := make([]opts.ScatterData, 0, len(pts))
	maxAbs := 0.0
	maxIntensity := 0.0
	for _, p := range pts {
		maxAbs = math.Max(maxAbs, math.Max(math.Abs(p.X), math.Abs(p.Y)))
		maxIntensity = math.Max(maxIntensity, p.Intensity)
		data = append(data, opts.ScatterData{Value: []interface{}{p.X, p.Y, p.Intensity}})
	}
	pad := maxAbs * 1.05
	if pad == 0 {
		pad = 1.0
	}
	if maxIntensity == 0 {
		maxIntensity = 1
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Livox frame", Theme: "dark", Width: "900px", Height: "900px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: "Latest frame (top-down)", Subtitle: fmt.Sprintf("seq=%d points=%d stride=%d", frame.Seq, len(data), stride)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: -pad, Max: pad, Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Min: -pad, Max: pad, Name: "Y (m)", NameLocation: "middle", NameGap: 30}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(maxIntensity),
			Dimension:  "2",
			InRange:    &opts.VisualMapInRange{Color: []string{"#440154", "#3e4989", "#26828e", "#35b779", "#fde725"}},
		}),
	)
	scatter.AddSeries("points", data, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 3}))

	var buf bytes.Buffer
	if err := scatter.Render(&buf); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handlePlotPNG renders the latest frame as a PNG scatter.
func (ws *WebServer) handlePlotPNG(w http.ResponseWriter, r *http.Request) {
	frame := ws.source.Latest()
	if frame == nil || frame.Populated == 0 {
		ws.writeJSONError(w, http.StatusNotFound, "no frame with points available")
		return
	}
	pts, _ := framePoints(frame, maxPointsParam(r))

	xys := make(plotter.XYs, len(pts))
	for i, p := range pts {
		xys[i].X = p.X
		xys[i].Y = p.Y
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Frame %d (%d points)", frame.Seq, len(pts))
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"
	p.Add(plotter.NewGrid())

	sc, err := plotter.NewScatter(xys)
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("build scatter: %v", err))
		return
	}
	sc.GlyphStyle.Color = color.RGBA{R: 38, G: 130, B: 142, A: 255}
	sc.GlyphStyle.Radius = vg.Points(1)
	sc.GlyphStyle.Shape = draw.CircleGlyph{}
	p.Add(sc)

	wt, err := p.WriterTo(8*vg.Inch, 8*vg.Inch, "png")
	if err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("render plot: %v", err))
		return
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		ws.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("encode png: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}
