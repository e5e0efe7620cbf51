package pipeline

import (
	"image/color"
	"strconv"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// WriteAccuracyChart 输出单柱准确率图，纵轴固定为 [0,1]
func WriteAccuracyChart(path string, accuracy float64) error {
	p := plot.New()
	p.Title.Text = "Model Accuracy"

	bars, err := plotter.NewBarChart(plotter.Values{accuracy}, vg.Points(60))
	if err != nil {
		return err
	}
	bars.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	bars.LineStyle.Width = 0
	p.Add(bars)
	p.NominalX("Accuracy")
	p.Y.Min = 0
	p.Y.Max = 1

	return p.Save(4*vg.Inch, 4*vg.Inch, path)
}

// WriteConfusionMatrixChart 输出混淆矩阵热力图，行为真实类别，列为预测类别
func WriteConfusionMatrixChart(path string, matrix [][]int, classes []string) error {
	p := plot.New()
	p.Title.Text = "Confusion Matrix"
	p.X.Label.Text = "Predicted label"
	p.Y.Label.Text = "True label"

	grid := confusionGrid{matrix: matrix}
	heat := plotter.NewHeatMap(grid, bluesPalette(12))
	if heat.Max == heat.Min {
		heat.Max = heat.Min + 1
	}
	p.Add(heat)

	var xys plotter.XYs
	var texts []string
	for r := range matrix {
		for c := range matrix[r] {
			xys = append(xys, plotter.XY{X: grid.X(c), Y: grid.Y(r)})
			texts = append(texts, strconv.Itoa(matrix[r][c]))
		}
	}
	labels, err := plotter.NewLabels(plotter.XYLabels{XYs: xys, Labels: texts})
	if err != nil {
		return err
	}
	for i := range labels.TextStyle {
		labels.TextStyle[i].XAlign = draw.XCenter
		labels.TextStyle[i].YAlign = draw.YCenter
	}
	p.Add(labels)

	p.NominalX(classes...)
	reversed := make([]string, len(classes))
	for i, name := range classes {
		reversed[len(classes)-1-i] = name
	}
	p.NominalY(reversed...)

	return p.Save(5*vg.Inch, 5*vg.Inch, path)
}

// confusionGrid 把矩阵第0行画在最上方
type confusionGrid struct {
	matrix [][]int
}

func (g confusionGrid) Dims() (c, r int) {
	return len(g.matrix), len(g.matrix)
}

func (g confusionGrid) Z(c, r int) float64 {
	return float64(g.matrix[r][c])
}

func (g confusionGrid) X(c int) float64 {
	return float64(c)
}

func (g confusionGrid) Y(r int) float64 {
	return float64(len(g.matrix) - 1 - r)
}

type colorPalette []color.Color

func (p colorPalette) Colors() []color.Color {
	return p
}

// bluesPalette 从白色渐变到深蓝
func bluesPalette(n int) colorPalette {
	if n < 2 {
		n = 2
	}
	from := [3]float64{247, 251, 255}
	to := [3]float64{8, 48, 107}
	colors := make(colorPalette, n)
	for i := range colors {
		t := float64(i) / float64(n-1)
		colors[i] = color.RGBA{
			R: uint8(from[0] + (to[0]-from[0])*t),
			G: uint8(from[1] + (to[1]-from[1])*t),
			B: uint8(from[2] + (to[2]-from[2])*t),
			A: 255,
		}
	}
	return colors
}
