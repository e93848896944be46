// Package codec implements the compress/decompress layer shared by the
// object store and reference container: the none/zlib/zstd methods and a
// zstd dictionary registry that keeps data compressed under a retired
// dictionary generation readable after retraining.
package codec

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/prn-tf/gitobjdb/internal/domain"
)

// ErrUnsupportedCompression is returned when asked to operate under a
// compression method other than none/zlib/zstd.
var ErrUnsupportedCompression = errors.New("codec: unsupported compression method")

// zstdFrameMagic is the four-byte magic number at the start of every
// zstd frame. Nothing in this package reads it; dictionary ids are
// recovered from frames by the zstd decoder itself.
const zstdFrameMagic = 0xFD2FB528

// Codec compresses and decompresses byte buffers under the none/zlib/zstd
// methods, and maintains a registry of zstd dictionaries so that frames
// written under any previously active dictionary generation remain
// decodable. A zero-value Codec is usable; it simply never attaches a
// dictionary until one is loaded via LoadDictionary.
type Codec struct {
	mu sync.RWMutex

	// byKind holds the live, symbolic-kind indexed dictionary contents.
	byKind map[domain.DictKind][]byte
	// byID indexes the same dictionaries by the numeric id zstd embeds
	// in the dictionary's own header, so a decoder can recover the right
	// dictionary purely from a frame's dictionary id field.
	byID map[uint32][]byte

	encoders  map[domain.DictKind]*zstd.Encoder
	noDictEnc *zstd.Encoder
	decoder   *zstd.Decoder
}

// New returns an empty Codec with no dictionaries loaded.
func New() *Codec {
	return &Codec{
		byKind: make(map[domain.DictKind][]byte),
		byID:   make(map[uint32][]byte),
	}
}

// Compress compresses data under method, optionally using the dictionary
// registered under kind (ignored for none/zlib). An empty kind or a kind
// with no loaded dictionary compresses without one.
func (c *Codec) Compress(method domain.Compression, kind domain.DictKind, data []byte) ([]byte, error) {
	switch method {
	case domain.CompressionNone:
		return data, nil
	case domain.CompressionZlib:
		var buf bytes.Buffer
		w := zlib.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, fmt.Errorf("codec: zlib write: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("codec: zlib close: %w", err)
		}
		return buf.Bytes(), nil
	case domain.CompressionZstd:
		enc, err := c.encoderFor(kind)
		if err != nil {
			return nil, err
		}
		return enc.EncodeAll(data, nil), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCompression, method)
	}
}

// Decompress reverses Compress. For zstd it uses a decoder that holds
// every registered dictionary, and the decoder picks the one matching
// the dictionary id in the frame header, so the call works regardless of
// which dictionary generation was active at write time.
func (c *Codec) Decompress(method domain.Compression, data []byte) ([]byte, error) {
	switch method {
	case domain.CompressionNone:
		return data, nil
	case domain.CompressionZlib:
		r, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("codec: zlib open: %w", err)
		}
		defer r.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("codec: zlib read: %w", err)
		}
		return out, nil
	case domain.CompressionZstd:
		dec, err := c.decoderFor(data)
		if err != nil {
			return nil, err
		}
		return dec.DecodeAll(data, nil)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedCompression, method)
	}
}

// LoadDictionary registers dict, which must start with the zstd
// dictionary magic number and a dictionary id, as the active dictionary
// for kind, replacing any dictionary
// previously registered under that kind. The dictionary's embedded id is
// parsed out of its header so future decodes can be routed by id alone.
func (c *Codec) LoadDictionary(kind domain.DictKind, dict []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	id, err := dictionaryID(dict)
	if err != nil {
		return err
	}

	if c.byKind == nil {
		c.byKind = make(map[domain.DictKind][]byte)
	}
	if c.byID == nil {
		c.byID = make(map[uint32][]byte)
	}
	c.byKind[kind] = dict
	c.byID[id] = dict
	delete(c.encoders, kind)
	c.decoder = nil // force rebuild with the new dictionary set
	return nil
}

// DictionaryKinds returns the kinds currently registered.
func (c *Codec) DictionaryKinds() []domain.DictKind {
	c.mu.RLock()
	defer c.mu.RUnlock()
	kinds := make([]domain.DictKind, 0, len(c.byKind))
	for k := range c.byKind {
		kinds = append(kinds, k)
	}
	return kinds
}

// RemoveDictionary drops the dictionary registered under kind, if any.
func (c *Codec) RemoveDictionary(kind domain.DictKind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if dict, ok := c.byKind[kind]; ok {
		if id, err := dictionaryID(dict); err == nil {
			delete(c.byID, id)
		}
	}
	delete(c.byKind, kind)
	delete(c.encoders, kind)
	c.decoder = nil
}

func (c *Codec) encoderFor(kind domain.DictKind) (*zstd.Encoder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	dict, hasDict := c.byKind[kind]
	if kind == "" || !hasDict {
		if c.noDictEnc == nil {
			enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
			if err != nil {
				return nil, fmt.Errorf("codec: new zstd encoder: %w", err)
			}
			c.noDictEnc = enc
		}
		return c.noDictEnc, nil
	}

	if c.encoders == nil {
		c.encoders = make(map[domain.DictKind]*zstd.Encoder)
	}
	if enc, ok := c.encoders[kind]; ok {
		return enc, nil
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderDict(dict), zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("codec: new zstd encoder for dict %q: %w", kind, err)
	}
	c.encoders[kind] = enc
	return enc, nil
}

// decoderFor returns a decoder aware of every registered dictionary, so
// a frame compressed under any generation decodes correctly regardless
// of which dictionaries are currently "active" for new writes.
func (c *Codec) decoderFor(frame []byte) (*zstd.Decoder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.decoder != nil {
		return c.decoder, nil
	}

	opts := make([]zstd.DOption, 0, len(c.byID))
	for _, dict := range c.byID {
		opts = append(opts, zstd.WithDecoderDicts(dict))
	}
	dec, err := zstd.NewReader(nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("codec: new zstd decoder: %w", err)
	}
	c.decoder = dec
	_ = frame // the decoder itself recovers the dict id from the frame
	return dec, nil
}

// dictionaryID parses the 4-byte dictionary id immediately following the
// zstd dictionary magic number, matching the zstd dictionary format
// (magic uint32 LE, dict id uint32 LE, entropy tables, content).
func dictionaryID(dict []byte) (uint32, error) {
	const dictMagic = 0xEC30A437
	if len(dict) < 8 {
		return 0, fmt.Errorf("codec: dictionary too short: %d bytes", len(dict))
	}
	magic := binary.LittleEndian.Uint32(dict[0:4])
	if magic != dictMagic {
		return 0, fmt.Errorf("codec: not a zstd dictionary (bad magic %#x)", magic)
	}
	return binary.LittleEndian.Uint32(dict[4:8]), nil
}
