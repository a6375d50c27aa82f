package imgx

import (
	"bytes"
	"errors"
	"image"
	"image/draw"
	"image/png"
)

// CropTop 把整页截图裁成最多 maxH 像素高（保留顶部：表单与结果区都在上半部分）。
//
// 约束：
// - 输入/输出都是 PNG
// - 高度不超过 maxH（或 maxH<=0）时原样返回，不重新编码
func CropTop(src []byte, maxH int) ([]byte, error) {
	if len(src) == 0 {
		return nil, errors.New("截图为空")
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	if maxH <= 0 || cfg.Height <= maxH {
		return src, nil
	}

	img, err := png.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, errors.New("图片尺寸无效")
	}

	srcRect := image.Rect(b.Min.X, b.Min.Y, b.Max.X, b.Min.Y+maxH)
	dst := image.NewRGBA(image.Rect(0, 0, srcRect.Dx(), srcRect.Dy()))
	draw.Draw(dst, dst.Bounds(), img, srcRect.Min, draw.Src)

	var out bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestCompression}
	if err := enc.Encode(&out, dst); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}
