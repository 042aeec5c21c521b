package artwork

import (
	"bytes"
	"hash/fnv"
	"image/jpeg"

	"github.com/fogleman/gg"
)

// gradientPalette holds the fixed start/end color pairs used for synthesized
// covers.
var gradientPalette = [][2]string{
	{"#667eea", "#764ba2"},
	{"#f093fb", "#f5576c"},
	{"#4facfe", "#00f2fe"},
	{"#43e97b", "#38f9d7"},
	{"#fa709a", "#fee140"},
	{"#30cfd0", "#330867"},
}

// Generate synthesizes square cover art for tracks without embedded artwork: a
// linear gradient picked deterministically from the title, with the title
// word-wrapped and centered in white. Returns JPEG bytes.
func Generate(title string, sizePx int) ([]byte, error) {
	if sizePx <= 0 {
		sizePx = 300
	}
	size := float64(sizePx)

	pair := gradientPalette[paletteIndex(title)]
	grad := gg.NewLinearGradient(0, 0, size, size)
	start, _ := parseHexColor(pair[0])
	end, _ := parseHexColor(pair[1])
	grad.AddColorStop(0, start)
	grad.AddColorStop(1, end)

	dc := gg.NewContext(sizePx, sizePx)
	dc.SetFillStyle(grad)
	dc.DrawRectangle(0, 0, size, size)
	dc.Fill()

	dc.SetRGB(1, 1, 1)
	dc.DrawStringWrapped(title, size/2, size/2, 0.5, 0.5, size*0.83, 1.5, gg.AlignCenter)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dc.Image(), &jpeg.Options{Quality: 90}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// paletteIndex maps a title to a stable palette slot so the same track always
// gets the same gradient.
func paletteIndex(title string) int {
	h := fnv.New32a()
	h.Write([]byte(title))
	return int(h.Sum32() % uint32(len(gradientPalette)))
}
