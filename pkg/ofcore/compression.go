package ofcore

import (
	"bytes"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4"
)

// compressBody and decompressBody wrap a frame body for on-the-wire
// compression, selected via WithFrameCompression. This sits below the
// framing layer: the header's declared length always reflects the
// compressed (wire) size, and decompression happens before the body is
// handed to the codec collaborator.
func compressBody(c Compression, body []byte) ([]byte, error) {
	switch c {
	case CompressionNone:
		return body, nil
	case CompressionZstd:
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, fmt.Errorf("ofcore: zstd writer: %w", err)
		}
		defer enc.Close()
		return enc.EncodeAll(body, nil), nil
	case CompressionSnappy:
		return snappy.Encode(nil, body), nil
	case CompressionLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(body); err != nil {
			return nil, fmt.Errorf("ofcore: lz4 write: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("ofcore: lz4 close: %w", err)
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("ofcore: unknown compression %d", c)
	}
}

func decompressBody(c Compression, body []byte) ([]byte, error) {
	switch c {
	case CompressionNone:
		return body, nil
	case CompressionZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, fmt.Errorf("ofcore: zstd reader: %w", err)
		}
		defer dec.Close()
		return dec.DecodeAll(body, nil)
	case CompressionSnappy:
		return snappy.Decode(nil, body)
	case CompressionLZ4:
		r := lz4.NewReader(bytes.NewReader(body))
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("ofcore: lz4 read: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("ofcore: unknown compression %d", c)
	}
}
