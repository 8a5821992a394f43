package framecache

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/crowdwatch/crowdwatch/internal/model"
)

var (
	colorConfirmed = color.RGBA{0, 200, 0, 255}
	colorTentative = color.RGBA{160, 160, 160, 255}
	colorZone      = color.RGBA{220, 0, 220, 255}
	colorRiskLow   = color.RGBA{0, 200, 0, 255}
	colorRiskMed   = color.RGBA{255, 165, 0, 255}
	colorRiskHigh  = color.RGBA{220, 0, 0, 255}
)

// RenderOptions toggles the overlays the annotator draws (spec §4.7).
// DensityHeat is not read by Annotate: no density overlay is drawn.
type RenderOptions struct {
	Boxes        bool
	TrackIDs     bool
	ZonePolygons bool
	FlowArrows   bool
	DensityHeat  bool
	MetricsHUD   bool
	RiskBar      bool
}

// DefaultRenderOptions enables the common overlays for a dashboard view.
func DefaultRenderOptions() RenderOptions {
	return RenderOptions{Boxes: true, TrackIDs: true, ZonePolygons: true, MetricsHUD: true, RiskBar: true}
}

// Annotate is a pure function from a decoded JPEG plus the current
// frame's pipeline outputs to a re-encoded JPEG with overlays drawn,
// per spec §4.7. It never mutates frame and never blocks.
func Annotate(frame []byte, tracks []model.Track, zones []model.Zone, sample model.AnalyticsSample, opts RenderOptions) []byte {
	img, err := jpeg.Decode(bytes.NewReader(frame))
	if err != nil {
		return frame
	}

	bounds := img.Bounds()
	rgba := image.NewRGBA(bounds)
	draw.Draw(rgba, bounds, img, bounds.Min, draw.Src)

	if opts.ZonePolygons {
		for _, z := range zones {
			drawPolygon(rgba, z.Polygon, colorZone)
		}
	}
	if opts.Boxes {
		for _, trk := range tracks {
			c := colorTentative
			if trk.State == model.TrackConfirmed {
				c = colorConfirmed
			}
			drawBox(rgba, trk.BBox, c, 2)
			if opts.TrackIDs {
				drawLabel(rgba, trk.BBox, fmt.Sprintf("#%d", trk.TrackID), c)
			}
		}
	}
	if opts.FlowArrows && (sample.Flow.X != 0 || sample.Flow.Y != 0) {
		drawFlowArrow(rgba, sample.Flow)
	}
	if opts.MetricsHUD {
		drawHUD(rgba, sample)
	}
	if opts.RiskBar {
		drawRiskBar(rgba, sample.RiskLevel)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, rgba, &jpeg.Options{Quality: 85}); err != nil {
		return frame
	}
	return buf.Bytes()
}

func drawBox(img *image.RGBA, b model.BoundingBox, c color.RGBA, thickness int) {
	x, y, w, h := int(b.X), int(b.Y), int(b.Width), int(b.Height)
	bounds := img.Bounds()
	for t := 0; t < thickness; t++ {
		for i := x; i < x+w && i < bounds.Max.X; i++ {
			setIfInBounds(img, i, y+t, c)
			setIfInBounds(img, i, y+h-t, c)
		}
		for j := y; j < y+h && j < bounds.Max.Y; j++ {
			setIfInBounds(img, x+t, j, c)
			setIfInBounds(img, x+w-t, j, c)
		}
	}
}

func drawPolygon(img *image.RGBA, polygon []model.Point, c color.RGBA) {
	n := len(polygon)
	for i := 0; i < n; i++ {
		p1, p2 := polygon[i], polygon[(i+1)%n]
		drawLine(img, int(p1.X), int(p1.Y), int(p2.X), int(p2.Y), c)
	}
}

// drawLine is a standard Bresenham rasterizer.
func drawLine(img *image.RGBA, x0, y0, x1, y1 int, c color.RGBA) {
	dx, dy := abs(x1-x0), -abs(y1-y0)
	sx, sy := sign(x1-x0), sign(y1-y0)
	err := dx + dy
	for {
		setIfInBounds(img, x0, y0, c)
		if x0 == x1 && y0 == y1 {
			break
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

func drawFlowArrow(img *image.RGBA, flow model.FlowVector) {
	bounds := img.Bounds()
	cx, cy := bounds.Max.X/2, bounds.Max.Y/2
	length := 60
	x1 := cx + int(flow.X*float64(length))
	y1 := cy + int(flow.Y*float64(length))
	drawLine(img, cx, cy, x1, y1, color.RGBA{0, 200, 255, 255})
}

func drawHUD(img *image.RGBA, sample model.AnalyticsSample) {
	text := fmt.Sprintf("people=%d density=%.2f speed=%.1f", sample.PeopleCount, sample.Density, sample.AvgSpeed)
	drawText(img, 10, 20, text, color.RGBA{255, 255, 255, 255}, true)
}

func drawRiskBar(img *image.RGBA, level model.RiskLevel) {
	c := colorRiskLow
	switch level {
	case model.RiskWarning:
		c = colorRiskMed
	case model.RiskCritical:
		c = colorRiskHigh
	}
	bounds := img.Bounds()
	barHeight := 8
	for x := bounds.Min.X; x < bounds.Max.X; x++ {
		for y := 0; y < barHeight; y++ {
			setIfInBounds(img, x, y, c)
		}
	}
}

func drawLabel(img *image.RGBA, b model.BoundingBox, label string, c color.RGBA) {
	drawText(img, int(b.X), int(b.Y)-4, label, c, true)
}

func drawText(img *image.RGBA, x, y int, label string, c color.RGBA, bg bool) {
	if y < 10 {
		y = 10
	}
	if x < 0 {
		x = 0
	}
	if bg {
		textWidth := len(label) * 7
		bgColor := color.RGBA{0, 0, 0, 160}
		for dy := -2; dy < 12; dy++ {
			for dx := -2; dx < textWidth+2; dx++ {
				setIfInBounds(img, x+dx, y+dy, bgColor)
			}
		}
	}
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y + 10)},
	}
	d.DrawString(label)
}

func setIfInBounds(img *image.RGBA, x, y int, c color.RGBA) {
	b := img.Bounds()
	if x >= b.Min.X && x < b.Max.X && y >= b.Min.Y && y < b.Max.Y {
		img.Set(x, y, c)
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
