// Package emailgif renders animated countdown GIFs for email-placement
// timers. Email clients cannot run scripts, so the countdown ships as a
// 60-frame, one-frame-per-second animation anchored at request time.
package emailgif

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/gif"
	"os"
	"sync"
	"time"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"

	"urgency-timer-api/internal/countdown"
	"urgency-timer-api/internal/models"
)

const (
	defaultWidth  = 480
	defaultHeight = 120
	frameCount    = 60
	frameDelay    = 100 // hundredths of a second
)

// Renderer draws countdown GIFs with a single loaded typeface.
type Renderer struct {
	font *truetype.Font

	mu      sync.RWMutex
	sprites map[spriteKey]*spriteSet
}

// NewRenderer loads the typeface at fontPath.
func NewRenderer(fontPath string) (*Renderer, error) {
	raw, err := os.ReadFile(fontPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read font: %w", err)
	}

	parsed, err := truetype.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse font: %w", err)
	}

	return &Renderer{
		font:    parsed,
		sprites: make(map[spriteKey]*spriteSet),
	}, nil
}

// design is the slice of designConfig the GIF renderer understands. The rest
// of the config is storefront styling and ignored here.
type design struct {
	BackgroundColor string `json:"backgroundColor"`
	TimerColor      string `json:"timerColor"`
}

// Render produces the animated GIF for one timer at the given instant.
func (r *Renderer) Render(t models.ResolvedTimerView, now time.Time) ([]byte, error) {
	bg, text := colorsFor(t.DesignConfig)

	remaining := remainingFor(t, now)

	labels := [4]string{t.DaysLabel, t.HoursLabel, t.MinutesLabel, t.SecondsLabel}
	for i, fallback := range [4]string{"Days", "Hrs", "Mins", "Secs"} {
		if labels[i] == "" {
			labels[i] = fallback
		}
	}

	sprites := r.spritesFor(bg, text)
	base := r.baseFrame(bg, text, labels, sprites.palette)

	columnWidth := float64(defaultWidth) / 4
	numY := defaultHeight/2 - 10 - sprites.h/2

	full := make([]*image.Paletted, frameCount)
	for i := 0; i < frameCount; i++ {
		secs := remaining - int64(i)
		if secs < 0 {
			secs = 0
		}
		u := countdown.Decompose(secs)

		frame := image.NewPaletted(base.Bounds(), sprites.palette)
		copy(frame.Pix, base.Pix)

		for col, val := range [4]int{u.Days, u.Hours, u.Minutes, u.Seconds} {
			if val > 99 {
				val = 99
			}
			cx := int(columnWidth * (float64(col) + 0.5))
			stampSprite(frame, sprites.digits[val], cx-sprites.w/2, numY)
		}

		full[i] = frame
	}

	anim := gif.GIF{
		Image:     make([]*image.Paletted, frameCount),
		Delay:     make([]int, frameCount),
		Disposal:  make([]byte, frameCount),
		LoopCount: -1, // play once; email clients restart on open
	}

	anim.Image[0] = full[0]
	anim.Delay[0] = frameDelay
	anim.Disposal[0] = gif.DisposalNone

	for i := 1; i < frameCount; i++ {
		anim.Image[i] = diffFrame(full[i-1], full[i])
		anim.Delay[i] = frameDelay
		anim.Disposal[i] = gif.DisposalNone
	}

	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, &anim); err != nil {
		return nil, fmt.Errorf("failed to encode gif: %w", err)
	}

	return buf.Bytes(), nil
}

// remainingFor computes the starting remaining seconds. Fixed timers have no
// per-recipient anchor in email, so they start from their full duration.
func remainingFor(t models.ResolvedTimerView, now time.Time) int64 {
	switch t.TimerType {
	case models.TimerTypeCountdown:
		if t.EndDate == nil || t.Ended {
			return 0
		}
		secs := int64(t.EndDate.Sub(now) / time.Second)
		if secs < 0 {
			secs = 0
		}
		return secs
	case models.TimerTypeFixed:
		return int64(t.FixedMinutes) * 60
	default:
		return 0
	}
}

func colorsFor(raw json.RawMessage) (bg, text color.Color) {
	bg = color.RGBA{R: 0xf9, G: 0xfa, B: 0xfb, A: 0xff}
	text = color.RGBA{R: 0x11, G: 0x18, B: 0x27, A: 0xff}

	if len(raw) == 0 {
		return bg, text
	}

	var d design
	if err := json.Unmarshal(raw, &d); err != nil {
		return bg, text
	}

	if c, ok := parseHexColor(d.BackgroundColor); ok {
		bg = c
	}
	if c, ok := parseHexColor(d.TimerColor); ok {
		text = c
	}
	return bg, text
}

func parseHexColor(s string) (color.Color, bool) {
	if len(s) != 7 || s[0] != '#' {
		return nil, false
	}
	var r, g, b uint8
	if _, err := fmt.Sscanf(s[1:], "%02x%02x%02x", &r, &g, &b); err != nil {
		return nil, false
	}
	return color.RGBA{R: r, G: g, B: b, A: 0xff}, true
}

type spriteKey struct {
	bg   uint32
	text uint32
}

type spriteSet struct {
	digits  [100]*image.Paletted
	w, h    int
	palette []color.Color
}

func packColor(c color.Color) uint32 {
	r, g, b, a := c.RGBA()
	return (r>>8)<<24 | (g>>8)<<16 | (b>>8)<<8 | (a >> 8)
}

// spritesFor returns the pre-quantized "00".."99" digit sprites for a color
// pair, building and caching them on first use.
func (r *Renderer) spritesFor(bg, text color.Color) *spriteSet {
	key := spriteKey{bg: packColor(bg), text: packColor(text)}

	r.mu.RLock()
	if set, ok := r.sprites[key]; ok {
		r.mu.RUnlock()
		return set
	}
	r.mu.RUnlock()

	set := r.buildSprites(bg, text)

	r.mu.Lock()
	r.sprites[key] = set
	r.mu.Unlock()

	return set
}

func (r *Renderer) buildSprites(bg, text color.Color) *spriteSet {
	palette := blendPalette(bg, text)
	face := truetype.NewFace(r.font, &truetype.Options{Size: 48})

	dc := gg.NewContext(1, 1)
	dc.SetFontFace(face)
	tw, th := dc.MeasureString("00")
	pad := 6.0
	w := int(tw + pad*2)
	h := int(th + pad*2)

	set := &spriteSet{w: w, h: h, palette: palette}

	for v := 0; v < 100; v++ {
		dc := gg.NewContext(w, h)
		dc.SetColor(bg)
		dc.Clear()
		dc.SetFontFace(truetype.NewFace(r.font, &truetype.Options{Size: 48}))
		dc.SetColor(text)
		dc.DrawStringAnchored(fmt.Sprintf("%02d", v), float64(w)/2, float64(h)/2, 0.5, 0.5)

		set.digits[v] = quantize(dc.Image(), image.Rect(0, 0, w, h), palette)
	}

	return set
}

func (r *Renderer) baseFrame(bg, text color.Color, labels [4]string, palette []color.Color) *image.Paletted {
	dc := gg.NewContext(defaultWidth, defaultHeight)

	dc.SetColor(bg)
	dc.Clear()

	columnWidth := float64(defaultWidth) / 4

	dc.SetFontFace(truetype.NewFace(r.font, &truetype.Options{Size: 13}))
	dc.SetColor(text)
	for i, label := range labels {
		x := columnWidth * (float64(i) + 0.5)
		dc.DrawStringAnchored(label, x, float64(defaultHeight)/2+32, 0.5, 0.5)
	}

	for i := 0; i < 3; i++ {
		x := columnWidth * float64(i+1)
		dc.SetColor(text)
		dc.SetLineWidth(2)
		dc.DrawLine(x, float64(defaultHeight)/2-16, x, float64(defaultHeight)/2+16)
		dc.Stroke()
	}

	return quantize(dc.Image(), image.Rect(0, 0, defaultWidth, defaultHeight), palette)
}

func stampSprite(dst *image.Paletted, sprite *image.Paletted, x, y int) {
	srcBounds := sprite.Bounds()
	dstBounds := dst.Bounds()

	for sy := srcBounds.Min.Y; sy < srcBounds.Max.Y; sy++ {
		dy := y + sy - srcBounds.Min.Y
		if dy < dstBounds.Min.Y || dy >= dstBounds.Max.Y {
			continue
		}
		for sx := srcBounds.Min.X; sx < srcBounds.Max.X; sx++ {
			dx := x + sx - srcBounds.Min.X
			if dx < dstBounds.Min.X || dx >= dstBounds.Max.X {
				continue
			}
			srcIdx := (sy-srcBounds.Min.Y)*sprite.Stride + (sx - srcBounds.Min.X)
			dstIdx := (dy-dstBounds.Min.Y)*dst.Stride + (dx - dstBounds.Min.X)
			dst.Pix[dstIdx] = sprite.Pix[srcIdx]
		}
	}
}

// diffFrame returns the minimal changed rectangle between consecutive
// frames, keeping GIF sizes small.
func diffFrame(prev, curr *image.Paletted) *image.Paletted {
	bounds := curr.Bounds()
	w := bounds.Dx()
	h := bounds.Dy()
	stride := curr.Stride

	minX, minY := w, h
	maxX, maxY := 0, 0

	for y := 0; y < h; y++ {
		rowOffset := y * stride
		for x := 0; x < w; x++ {
			if prev.Pix[rowOffset+x] != curr.Pix[rowOffset+x] {
				if x < minX {
					minX = x
				}
				if x > maxX {
					maxX = x
				}
				if y < minY {
					minY = y
				}
				if y > maxY {
					maxY = y
				}
			}
		}
	}

	if maxX < minX {
		tiny := image.NewPaletted(image.Rect(0, 0, 1, 1), curr.Palette)
		tiny.Pix[0] = 0
		return tiny
	}

	diffRect := image.Rect(minX, minY, maxX+1, maxY+1)
	diff := image.NewPaletted(diffRect, curr.Palette)

	diffW := diffRect.Dx()
	for y := diffRect.Min.Y; y < diffRect.Max.Y; y++ {
		srcOffset := y*stride + diffRect.Min.X
		dstOffset := (y - diffRect.Min.Y) * diff.Stride
		copy(diff.Pix[dstOffset:dstOffset+diffW], curr.Pix[srcOffset:srcOffset+diffW])
	}

	return diff
}

func quantize(src image.Image, bounds image.Rectangle, palette []color.Color) *image.Paletted {
	dst := image.NewPaletted(bounds, palette)

	type rgb struct{ r, g, b int32 }
	pal := make([]rgb, len(palette))
	for i, c := range palette {
		r, g, b, _ := c.RGBA()
		pal[i] = rgb{int32(r >> 8), int32(g >> 8), int32(b >> 8)}
	}

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := src.At(x, y).RGBA()
			sr, sg, sb := int32(r>>8), int32(g>>8), int32(b>>8)

			bestIdx := 0
			bestDist := int32(1<<31 - 1)
			for i, pc := range pal {
				dr := sr - pc.r
				dg := sg - pc.g
				db := sb - pc.b
				dist := dr*dr + dg*dg + db*db
				if dist < bestDist {
					bestDist = dist
					bestIdx = i
				}
			}

			dst.SetColorIndex(x, y, uint8(bestIdx))
		}
	}

	return dst
}

// blendPalette builds a small palette of background, text and intermediate
// shades for antialiased glyph edges.
func blendPalette(bg, text color.Color) []color.Color {
	bgR, bgG, bgB, _ := bg.RGBA()
	textR, textG, textB, _ := text.RGBA()

	palette := []color.Color{bg}
	steps := 6
	for i := 1; i <= steps; i++ {
		t := float64(i) / float64(steps+1)
		palette = append(palette, color.RGBA{
			R: uint8(float64(bgR>>8)*(1-t) + float64(textR>>8)*t),
			G: uint8(float64(bgG>>8)*(1-t) + float64(textG>>8)*t),
			B: uint8(float64(bgB>>8)*(1-t) + float64(textB>>8)*t),
			A: 255,
		})
	}
	palette = append(palette, text)

	return palette
}
