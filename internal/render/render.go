// Package render draws an image next to a bar chart of its predictions.
package render

import (
	"fmt"
	"image"
	"image/color"
	"io"
	"strings"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/Brownie44l1/dogs-api/internal/model"
)

const (
	panelSize = 500
	margin    = 30
	lineGap   = 18

	// MaxBars is how many classes the chart shows.
	MaxBars = 10
	// xMax is the right end of the chart axis.
	xMax = 1.1
)

var (
	black = color.Black
	green = color.RGBA{R: 0x2e, G: 0x8b, B: 0x57, A: 0xff}
	red   = color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 0xff}
	bar   = color.RGBA{R: 0x34, G: 0x8a, B: 0xbd, A: 0xff}
	grid  = color.RGBA{R: 0xe5, G: 0xe5, B: 0xe5, A: 0xff}
)

var face = basicfont.Face7x13

type segment struct {
	text  string
	color color.Color
}

// TitleColor is green when the top class matches groundTruth, red when it
// does not, and black when groundTruth is empty.
func TitleColor(top, groundTruth string) color.Color {
	switch {
	case groundTruth == "":
		return black
	case strings.EqualFold(top, groundTruth):
		return green
	default:
		return red
	}
}

// View returns the picture on the left and the top predictions on the right.
// predictions must be ordered by confidence, highest first.
func View(img image.Image, predictions model.Predictions, groundTruth string) (image.Image, error) {
	top, ok := predictions.Top()
	if !ok {
		return nil, fmt.Errorf("no predictions to render")
	}

	canvas := imaging.New(2*panelSize, panelSize, color.White)

	title := []segment{
		{"This is ", black},
		{top.Class, TitleColor(top.Class, groundTruth)},
		{fmt.Sprintf(" with: %.1f%% confidence", 100*top.Confidence), black},
	}
	drawSegments(canvas, title, panelSize/2, margin)

	inner := panelSize - 2*margin - lineGap
	fitted := imaging.Fit(img, inner, inner, imaging.Lanczos)
	b := fitted.Bounds()
	at := image.Pt((panelSize-b.Dx())/2, margin+lineGap+(inner-b.Dy())/2)
	canvas = imaging.Paste(canvas, fitted, at)

	drawChart(canvas, predictions, image.Rect(panelSize, 0, 2*panelSize, panelSize))
	return canvas, nil
}

func drawChart(dst draw.Image, predictions model.Predictions, area image.Rectangle) {
	if len(predictions) > MaxBars {
		predictions = predictions[:MaxBars]
	}

	drawSegments(dst, []segment{{"Predicted Class", black}}, area.Min.X+area.Dx()/2, margin)

	labelWidth := 0
	for _, p := range predictions {
		if w := textWidth(p.Class); w > labelWidth {
			labelWidth = w
		}
	}
	if limit := area.Dx() / 3; labelWidth > limit {
		labelWidth = limit
	}

	plot := image.Rect(
		area.Min.X+margin/2+labelWidth+8, area.Min.Y+margin+lineGap,
		area.Max.X-margin, area.Max.Y-margin-lineGap,
	)
	scale := func(v float32) int {
		if v < 0 {
			v = 0
		}
		return plot.Min.X + int(float64(v)/xMax*float64(plot.Dx()))
	}

	for tick := 0; tick <= 10; tick += 2 {
		v := float32(tick) / 10
		x := scale(v)
		draw.Draw(dst, image.Rect(x, plot.Min.Y, x+1, plot.Max.Y), image.NewUniform(grid), image.Point{}, draw.Src)
		drawText(dst, fmt.Sprintf("%.1f", v), x-textWidth("0.0")/2, plot.Max.Y+lineGap-4, black)
	}
	draw.Draw(dst, image.Rect(plot.Min.X, plot.Max.Y, plot.Max.X, plot.Max.Y+1), image.NewUniform(black), image.Point{}, draw.Src)

	if len(predictions) == 0 {
		return
	}
	rowHeight := plot.Dy() / len(predictions)
	barHeight := rowHeight * 3 / 5
	for i, p := range predictions {
		y := plot.Min.Y + i*rowHeight + (rowHeight-barHeight)/2
		draw.Draw(dst, image.Rect(plot.Min.X, y, scale(p.Confidence), y+barHeight), image.NewUniform(bar), image.Point{}, draw.Src)

		label := truncate(p.Class, labelWidth)
		drawText(dst, label, plot.Min.X-8-textWidth(label), y+barHeight/2+face.Ascent/2, black)
	}
}

// drawSegments writes the pieces on one line centered at x.
func drawSegments(dst draw.Image, segments []segment, x, y int) {
	total := 0
	for _, s := range segments {
		total += textWidth(s.text)
	}
	x -= total / 2
	for _, s := range segments {
		drawText(dst, s.text, x, y, s.color)
		x += textWidth(s.text)
	}
}

func drawText(dst draw.Image, s string, x, y int, c color.Color) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

func textWidth(s string) int {
	return font.MeasureString(face, s).Ceil()
}

func truncate(s string, width int) string {
	if textWidth(s) <= width {
		return s
	}
	r := []rune(s)
	for len(r) > 0 && textWidth(string(r)+"..") > width {
		r = r[:len(r)-1]
	}
	return string(r) + ".."
}

// EncodeJPEG writes img as a JPEG.
func EncodeJPEG(w io.Writer, img image.Image) error {
	return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(90))
}
