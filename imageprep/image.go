package imageprep

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"os"
	"strings"

	// 注册解码器
	_ "image/gif"
	_ "image/png"

	"golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// DefaultMaxDimension is the longest side an image is scaled down to.
const DefaultMaxDimension = 1024

const jpegQuality = 90

// Payload is an encoded image ready to be attached to a model request.
type Payload struct {
	Data     []byte
	MIMEType string
	Width    int
	Height   int
}

// Base64 returns the standard base64 encoding of the image bytes.
func (p Payload) Base64() string {
	return base64.StdEncoding.EncodeToString(p.Data)
}

// DataURL returns "data:<mime>;base64,<payload>".
func (p Payload) DataURL() string {
	return "data:" + p.MIMEType + ";base64," + p.Base64()
}

// Load reads an image file and prepares it with Prepare.
func Load(path string, maxDim int) (Payload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Payload{}, fmt.Errorf("read image %s: %w", path, err)
	}
	p, err := Prepare(data, maxDim)
	if err != nil {
		return Payload{}, fmt.Errorf("prepare image %s: %w", path, err)
	}
	return p, nil
}

// Prepare 等比缩放到最长边不超过 maxDim，统一转成 JPEG（透明区域铺白底）。
// 解不开的格式按原样透传，MIME 用内容嗅探的结果。
func Prepare(data []byte, maxDim int) (Payload, error) {
	if len(data) == 0 {
		return Payload{}, fmt.Errorf("image is empty")
	}
	if maxDim <= 0 {
		maxDim = DefaultMaxDimension
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		mime := http.DetectContentType(data)
		if !strings.HasPrefix(mime, "image/") {
			return Payload{}, fmt.Errorf("not an image (detected %s): %w", mime, err)
		}
		return Payload{Data: data, MIMEType: mime}, nil
	}

	b := src.Bounds()
	w, h := scaledSize(b.Dx(), b.Dy(), maxDim)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	if w == b.Dx() && h == b.Dy() {
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return Payload{}, fmt.Errorf("encode jpeg: %w", err)
	}
	return Payload{Data: buf.Bytes(), MIMEType: "image/jpeg", Width: w, Height: h}, nil
}

func scaledSize(w, h, maxDim int) (int, int) {
	longest := max(w, h)
	if longest <= maxDim {
		return w, h
	}
	nw := max(1, w*maxDim/longest)
	nh := max(1, h*maxDim/longest)
	return nw, nh
}
