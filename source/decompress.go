package source

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/orian/viewcount/models"
)

// Codec is a snapshot compression format.
type Codec string

const (
	CodecZstd   Codec = "zstd"
	CodecGzip   Codec = "gzip"
	CodecSnappy Codec = "snappy"
)

var (
	zstdMagic   = []byte{0x28, 0xb5, 0x2f, 0xfd}
	gzipMagic   = []byte{0x1f, 0x8b}
	snappyMagic = []byte("\xff\x06\x00\x00sNaPpY")

	errUnknownCodec = errors.New("unrecognised compression format")
	errNoS3         = errors.New("s3 origin not configured")
)

// DetectCodec identifies the compression format from the leading bytes.
func DetectCodec(data []byte) (Codec, error) {
	switch {
	case bytes.HasPrefix(data, zstdMagic):
		return CodecZstd, nil
	case bytes.HasPrefix(data, gzipMagic):
		return CodecGzip, nil
	case bytes.HasPrefix(data, snappyMagic):
		return CodecSnappy, nil
	default:
		return "", errUnknownCodec
	}
}

// Decompress decodes a complete compressed snapshot. Every failure is a
// *models.FormatError.
func Decompress(data []byte) ([]byte, error) {
	codec, err := DetectCodec(data)
	if err != nil {
		return nil, &models.FormatError{Op: "decompress", Err: err}
	}

	out, err := decode(codec, data)
	if err != nil {
		return nil, &models.FormatError{Op: fmt.Sprintf("decompress %s", codec), Err: err}
	}

	return out, nil
}

func decode(codec Codec, data []byte) ([]byte, error) {
	switch codec {
	case CodecZstd:
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()

		return dec.DecodeAll(data, nil)
	case CodecGzip:
		r, err := pgzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()

		return io.ReadAll(r)
	case CodecSnappy:
		return io.ReadAll(snappy.NewReader(bytes.NewReader(data)))
	default:
		return nil, errUnknownCodec
	}
}
