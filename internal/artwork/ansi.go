package artwork

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"strings"
)

var ErrInvalid = errors.New("invalid artwork data")

// ConvertToANSI renders image data as a block of 256-color background cells
// sized for the now-playing pane. Terminal cells are roughly twice as tall
// as they are wide, so the grid halves the row count to keep covers square.
func ConvertToANSI(ctx context.Context, data []byte, width, height int) (string, error) {
	cols, rows := clampCanvas(width, height)

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("decode image: %w", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return "", ErrInvalid
	}

	aspect := float64(bounds.Dx()) / float64(bounds.Dy())
	if fit := int(float64(cols) / aspect / 2); fit < rows {
		rows = fit
	} else {
		cols = int(float64(rows) * 2 * aspect)
	}

	var b strings.Builder
	for row := 0; row < rows; row++ {
		if row > 0 {
			b.WriteString("\n")
		}
		for col := 0; col < cols; col++ {
			px := bounds.Min.X + min(col*bounds.Dx()/cols, bounds.Dx()-1)
			py := bounds.Min.Y + min(row*bounds.Dy()/rows, bounds.Dy()-1)
			r, g, bl, a := img.At(px, py).RGBA()
			if uint8(a>>8) < 128 {
				b.WriteString(" ")
				continue
			}
			cell := paletteCell(uint8(r>>8), uint8(g>>8), uint8(bl>>8))
			fmt.Fprintf(&b, "\x1b[48;5;%dm \x1b[0m", cell)
		}
	}
	return b.String(), nil
}

// paletteCell maps 24-bit color onto the xterm 256-color cube, routing
// neutral tones through the grayscale ramp.
func paletteCell(r, g, b uint8) int {
	if r == g && g == b {
		switch {
		case r < 8:
			return 16
		case r > 248:
			return 231
		default:
			return 232 + int(r-8)/10
		}
	}
	return 16 + 36*(int(r)*5/255) + 6*(int(g)*5/255) + int(b)*5/255
}

// Placeholder draws a bordered frame with a music note where a cover
// would go.
func Placeholder(width, height int) string {
	cols, rows := clampCanvas(width, height)
	inner := cols - 2
	lines := make([]string, 0, rows)
	lines = append(lines, "┌"+strings.Repeat("─", inner)+"┐")
	for row := 1; row < rows-1; row++ {
		fill := strings.Repeat(" ", inner)
		if row == rows/2 && inner > 0 {
			left := (inner - 1) / 2
			fill = strings.Repeat(" ", left) + "♪" + strings.Repeat(" ", inner-left-1)
		}
		lines = append(lines, "│"+fill+"│")
	}
	lines = append(lines, "└"+strings.Repeat("─", inner)+"┘")
	return strings.Join(lines, "\n")
}

func clampCanvas(width, height int) (int, int) {
	if width <= 0 {
		width = 20
	}
	if height <= 0 {
		height = 10
	}
	return width, height
}
