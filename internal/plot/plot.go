// Package plot renders run diagnostics as PNG images.
package plot

import (
	"fmt"
	"image/color"
	"log"
	"os"
	"path/filepath"
	"strconv"

	gplot "gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/text"
	"gonum.org/v1/plot/vg"
)

// ConfusionMatrixFile is the image name written by ConfusionMatrix.
const ConfusionMatrixFile = "confusion_matrix.png"

const paletteSize = 64

// viridis control points, dark purple to yellow. Luminance rises
// monotonically and the top stays clear of the white page.
var viridis = []color.Color{
	color.NRGBA{R: 68, G: 1, B: 84, A: 255},
	color.NRGBA{R: 59, G: 82, B: 139, A: 255},
	color.NRGBA{R: 33, G: 145, B: 140, A: 255},
	color.NRGBA{R: 94, G: 201, B: 98, A: 255},
	color.NRGBA{R: 253, G: 231, B: 37, A: 255},
}

// #region grid
// countGrid adapts a confusion matrix to plotter.GridXYZ: columns are
// predicted classes, rows are true classes.
type countGrid [][]int

func (g countGrid) Dims() (c, r int) { return len(g), len(g) }
func (g countGrid) Z(c, r int) float64 {
	return float64(g[r][c])
}
func (g countGrid) X(c int) float64 { return float64(c) }
func (g countGrid) Y(r int) float64 { return float64(r) }

// #endregion grid

// #region confusion-matrix
// ConfusionMatrix draws the confusion matrix of yTrue against yPred into
// dir/confusion_matrix.png, creating dir if needed, and returns the path.
func ConfusionMatrix(dir string, yTrue, yPred []int, classNames []string) (string, error) {
	k := len(classNames)
	if k == 0 {
		return "", fmt.Errorf("confusion matrix: no classes")
	}
	if len(yTrue) != len(yPred) {
		return "", fmt.Errorf("confusion matrix: %d labels and %d predictions", len(yTrue), len(yPred))
	}

	grid := make(countGrid, k)
	for i := range grid {
		grid[i] = make([]int, k)
	}
	for i := range yTrue {
		t, p := yTrue[i], yPred[i]
		if t < 0 || t >= k || p < 0 || p >= k {
			return "", fmt.Errorf("confusion matrix: pair (%d,%d) outside %d classes", t, p, k)
		}
		grid[t][p]++
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("confusion matrix: create %s: %w", dir, err)
	}
	path := filepath.Join(dir, ConfusionMatrixFile)

	p, err := render(grid, classNames)
	if err != nil {
		return "", fmt.Errorf("confusion matrix: %w", err)
	}
	size := vg.Length(2+k) * vg.Inch
	if err := p.Save(size, size, path); err != nil {
		return "", fmt.Errorf("confusion matrix: save %s: %w", path, err)
	}

	log.Printf("[PLOT] wrote %s (%d classes, %d examples)", path, k, len(yTrue))
	return path, nil
}

// #endregion confusion-matrix

// #region render
func render(grid countGrid, classNames []string) (*gplot.Plot, error) {
	p := gplot.New()
	p.Title.Text = "Confusion Matrix"
	p.X.Label.Text = "Predicted"
	p.Y.Label.Text = "True"

	pal, err := heatPalette()
	if err != nil {
		return nil, err
	}
	heat := plotter.NewHeatMap(grid, pal)
	// A uniform matrix has no dynamic range; widen it so every cell maps
	// to a palette colour.
	if heat.Max <= heat.Min {
		heat.Max = heat.Min + 1
	}
	p.Add(heat)

	var (
		xys    plotter.XYs
		labels []string
	)
	for r := range grid {
		for c := range grid[r] {
			xys = append(xys, plotter.XY{X: grid.X(c), Y: grid.Y(r)})
			labels = append(labels, strconv.Itoa(grid[r][c]))
		}
	}
	counts, err := plotter.NewLabels(plotter.XYLabels{XYs: xys, Labels: labels})
	if err != nil {
		return nil, fmt.Errorf("cell labels: %w", err)
	}
	for i := range counts.TextStyle {
		counts.TextStyle[i].XAlign = text.XCenter
		counts.TextStyle[i].YAlign = text.YCenter
		counts.TextStyle[i].Color = cellTextColor(grid, i, heat.Min, heat.Max)
	}
	p.Add(counts)

	p.NominalX(classNames...)
	p.NominalY(classNames...)
	p.Y.Scale = gplot.InvertedScale{Normalizer: p.Y.Scale}
	return p, nil
}

// #endregion render

// #region helpers
func heatPalette() (palette.Palette, error) {
	cm, err := moreland.NewLuminance(viridis)
	if err != nil {
		return nil, fmt.Errorf("palette: %w", err)
	}
	return cm.Palette(paletteSize), nil
}

// cellTextColor picks white text on the dark low end of the palette and
// black text on the bright high end.
func cellTextColor(grid countGrid, i int, min, max float64) color.Color {
	k := len(grid)
	v := float64(grid[i/k][i%k])
	if (v-min)/(max-min) < 0.5 {
		return color.White
	}
	return color.Black
}

// #endregion helpers
