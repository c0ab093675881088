package secure

import (
	"io"

	"github.com/multiformats/go-varint"

	"github.com/meshdoc/core/errors"
)

const maxFrameLen = 16 << 20 // 16MiB, generous upper bound against a malicious length prefix

// writeFrame writes a varint-length-prefixed frame, used both for the
// plaintext handshake messages and (via Stream.WriteFrame) for
// ciphertext application frames — spec.md §4.3's "length-prefixed
// frames" requirement, framed with a multiformats/go-varint length
// rather than a fixed 4-byte prefix.
func writeFrame(w io.Writer, payload []byte) error {
	lenBuf := varint.ToUvarint(uint64(len(payload)))
	if _, err := w.Write(lenBuf); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	n, err := varint.ReadUvarint(byteReader{r})
	if err != nil {
		return nil, err
	}
	if n > maxFrameLen {
		return nil, errors.Newf("frame length %d exceeds maximum %d", n, maxFrameLen)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// byteReader adapts an io.Reader to io.ByteReader one byte at a time,
// which is all varint.ReadUvarint needs and all a raw network stream
// reliably supports without its own buffering.
type byteReader struct {
	r io.Reader
}

func (b byteReader) ReadByte() (byte, error) {
	var buf [1]byte
	_, err := io.ReadFull(b.r, buf[:])
	return buf[0], err
}

// ReadFrame reads and decrypts the next application frame, rejecting a
// replayed or out-of-order frame via the monotonic counter folded into
// the AEAD associated data (spec.md §4.3).
func (s *Stream) ReadFrame() ([]byte, error) {
	ciphertext, err := readFrame(s.raw)
	if err != nil {
		return nil, errors.NewErrTransport("reading frame", err)
	}
	plaintext, err := s.aead.Open(s.recvNonce, s.recvCtr, ciphertext)
	if err != nil {
		return nil, err
	}
	s.recvCtr++
	return plaintext, nil
}

// WriteFrame encrypts and writes one application frame.
func (s *Stream) WriteFrame(plaintext []byte) error {
	ciphertext := s.aead.Seal(s.sendNonce, s.sendCtr, plaintext)
	s.sendCtr++
	if err := writeFrame(s.raw, ciphertext); err != nil {
		return errors.NewErrTransport("writing frame", err)
	}
	return nil
}

// Close half-closes the underlying stream; any outstanding unacked
// frames are considered undelivered (spec.md §4.3).
func (s *Stream) Close() error {
	return s.raw.Close()
}
