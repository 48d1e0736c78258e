package stream

import (
	"io"

	"github.com/klauspost/compress/zstd"
	"google.golang.org/grpc/encoding"
)

// CompressorName is the grpc-encoding advertised for zstd payloads.
const CompressorName = "zstd"

func init() {
	encoding.RegisterCompressor(zstdCompressor{})
}

// zstdCompressor plugs klauspost zstd into the gRPC encoding registry.
type zstdCompressor struct{}

// Name reports the identifier used for zstd encoded payloads.
func (zstdCompressor) Name() string { return CompressorName }

// Compress wraps w; gRPC closes the writer to flush the frame.
func (zstdCompressor) Compress(w io.Writer) (io.WriteCloser, error) {
	return zstd.NewWriter(w, zstd.WithEncoderConcurrency(1))
}

// Decompress wraps r; the decoder releases itself once the payload is drained.
func (zstdCompressor) Decompress(r io.Reader) (io.Reader, error) {
	decoder, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, err
	}
	return drainingDecoder{decoder}, nil
}

type drainingDecoder struct {
	*zstd.Decoder
}

func (d drainingDecoder) Read(p []byte) (int, error) {
	n, err := d.Decoder.Read(p)
	if err != nil {
		//1.- EOF and hard errors both end the stream.
		d.Decoder.Close()
	}
	return n, err
}
