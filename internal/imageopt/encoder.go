package imageopt

import (
	"bytes"
	"image"
	"io"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/webp"
)

// Encoder writes img at the given quality (1-100).
type Encoder interface {
	Encode(w io.Writer, img image.Image, quality int) error
}

type EncoderFunc func(w io.Writer, img image.Image, quality int) error

func (f EncoderFunc) Encode(w io.Writer, img image.Image, quality int) error {
	return f(w, img, quality)
}

func JPEGEncoder() Encoder {
	return EncoderFunc(func(w io.Writer, img image.Image, quality int) error {
		return imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))
	})
}

func WebPEncoder() Encoder {
	return EncoderFunc(func(w io.Writer, img image.Image, quality int) error {
		return webp.Encode(w, img, webp.Options{Quality: quality, Method: 4})
	})
}

// Format is one output encoding of every optimized image.
type Format struct {
	Name           string
	Ext            string
	InitialQuality int
	Encoder        Encoder
}

func DefaultFormats(jpegQuality, webpQuality int) []Format {
	return []Format{
		{Name: "jpeg", Ext: ".jpg", InitialQuality: jpegQuality, Encoder: JPEGEncoder()},
		{Name: "webp", Ext: ".webp", InitialQuality: webpQuality, Encoder: WebPEncoder()},
	}
}

// Limits bound the quality step-down loop.
type Limits struct {
	Step        int
	MinQuality  int
	MaxAttempts int
}

type Encoded struct {
	Data       []byte
	Quality    int
	Reductions int
}

// EncodeToBudget encodes img, lowering quality by Step until the output fits
// budget, quality reaches MinQuality, or MaxAttempts reductions were made.
// The last encoding is returned even when it is over budget.
func EncodeToBudget(enc Encoder, img image.Image, initial int, budget int64, limits Limits) (Encoded, error) {
	step := limits.Step
	if step <= 0 {
		step = 1
	}
	quality := clampQuality(initial)
	minQuality := clampQuality(limits.MinQuality)
	if quality < minQuality {
		minQuality = quality
	}

	var buf bytes.Buffer
	for reductions := 0; ; reductions++ {
		buf.Reset()
		if err := enc.Encode(&buf, img, quality); err != nil {
			return Encoded{}, err
		}
		if int64(buf.Len()) <= budget || quality <= minQuality || reductions >= limits.MaxAttempts {
			return Encoded{Data: bytes.Clone(buf.Bytes()), Quality: quality, Reductions: reductions}, nil
		}
		quality -= step
		if quality < minQuality {
			quality = minQuality
		}
	}
}

func clampQuality(q int) int {
	switch {
	case q < 1:
		return 1
	case q > 100:
		return 100
	default:
		return q
	}
}
