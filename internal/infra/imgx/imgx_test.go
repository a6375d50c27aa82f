package imgx

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	// 上白下黑：验证裁切保留的是顶部。
	src := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if y < h/2 {
				src.Set(x, y, color.RGBA{255, 255, 255, 255})
			} else {
				src.Set(x, y, color.RGBA{0, 0, 0, 255})
			}
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		t.Fatalf("encode png 失败：%v", err)
	}
	return buf.Bytes()
}

func TestCropTop(t *testing.T) {
	out, err := CropTop(encodePNG(t, 40, 200), 50)
	if err != nil {
		t.Fatalf("CropTop 失败：%v", err)
	}
	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decode 输出失败：%v", err)
	}
	b := img.Bounds()
	if b.Dx() != 40 || b.Dy() != 50 {
		t.Fatalf("尺寸不符合预期：got=%dx%d want=40x50", b.Dx(), b.Dy())
	}
	r, g, bb, _ := img.At(20, 49).RGBA()
	if r>>8 < 200 || g>>8 < 200 || bb>>8 < 200 {
		t.Fatalf("期望保留顶部白色区域，实际 rgb=(%d,%d,%d)", r>>8, g>>8, bb>>8)
	}
}

func TestCropTop_ShortImageUnchanged(t *testing.T) {
	src := encodePNG(t, 10, 20)
	out, err := CropTop(src, 100)
	if err != nil {
		t.Fatalf("CropTop 失败：%v", err)
	}
	if !bytes.Equal(out, src) {
		t.Fatalf("未超高时应原样返回")
	}
}

func TestCropTop_Invalid(t *testing.T) {
	if _, err := CropTop(nil, 10); err == nil {
		t.Fatalf("期望空输入报错")
	}
	if _, err := CropTop([]byte("not a png"), 10); err == nil {
		t.Fatalf("期望非 PNG 输入报错")
	}
}
