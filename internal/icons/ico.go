package icons

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
)

// encodeICO writes an ICO container holding one PNG-compressed entry per
// image.
func encodeICO(imgs []image.Image) ([]byte, error) {
	const (
		headerSize = 6
		entrySize  = 16
	)

	pngs := make([][]byte, len(imgs))
	for i, img := range imgs {
		b := img.Bounds()
		if b.Dx() > 256 || b.Dy() > 256 {
			return nil, fmt.Errorf("ico entries are limited to 256x256, got %dx%d", b.Dx(), b.Dy())
		}
		bs, err := encodePNG(img)
		if err != nil {
			return nil, err
		}
		pngs[i] = bs
	}

	var buf bytes.Buffer
	le := binary.LittleEndian

	buf.Write(le.AppendUint16(nil, 0))                 // reserved
	buf.Write(le.AppendUint16(nil, 1))                 // type: icon
	buf.Write(le.AppendUint16(nil, uint16(len(imgs)))) // count

	offset := headerSize + entrySize*len(imgs)
	for i, img := range imgs {
		b := img.Bounds()
		buf.WriteByte(dim(b.Dx()))
		buf.WriteByte(dim(b.Dy()))
		buf.WriteByte(0)                    // palette size
		buf.WriteByte(0)                    // reserved
		buf.Write(le.AppendUint16(nil, 1))  // planes
		buf.Write(le.AppendUint16(nil, 32)) // bits per pixel
		buf.Write(le.AppendUint32(nil, uint32(len(pngs[i]))))
		buf.Write(le.AppendUint32(nil, uint32(offset)))
		offset += len(pngs[i])
	}

	for _, bs := range pngs {
		buf.Write(bs)
	}
	return buf.Bytes(), nil
}

// dim encodes an ICO dimension, where 0 stands for 256.
func dim(n int) byte {
	if n >= 256 {
		return 0
	}
	return byte(n)
}
