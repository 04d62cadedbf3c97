// Package chunk reads and writes compiled function units as binary chunks.
//
// A chunk is a small header (magic, format version, payload digest) followed
// by a msgpack encoding of the FunctionProto tree. The digest is an 8-byte
// BLAKE2b sum of the payload, checked on load so a truncated or tampered
// file fails loudly instead of instantiating a silently-wrong closure.
package chunk

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/glycerine/blake2b"
	"github.com/ugorji/go/codec"

	"sarma/pkg/value"
	"sarma/pkg/vm"
)

const (
	// Magic opens every chunk file. The ESC prefix keeps chunks from being
	// mistaken for script source.
	Magic = "\x1bsarma"

	// Version is the current chunk format version.
	Version byte = 1

	digestSize = 8
)

var (
	ErrBadMagic       = errors.New("chunk: bad magic, not a compiled chunk")
	ErrBadVersion     = errors.New("chunk: unsupported format version")
	ErrDigestMismatch = errors.New("chunk: payload digest mismatch")
	ErrBadConstant    = errors.New("chunk: constant kind not serializable")
)

// Wire mirrors of the vm types. Only data the compiler produces is encoded;
// runtime-only kinds (tables, closures) cannot appear in a constant vector.

type constWire struct {
	Kind uint8   `codec:"k"`
	B    bool    `codec:"b"`
	I    int64   `codec:"i"`
	F    float64 `codec:"f"`
	S    string  `codec:"s"`
}

type instWire struct {
	Op string `codec:"o"`
	A  int    `codec:"a"`
	B  int    `codec:"b"`
	C  int    `codec:"c"`
}

type upvalWire struct {
	Kind  uint8 `codec:"k"`
	Index int   `codec:"i"`
}

type protoWire struct {
	FixedParams uint8       `codec:"p"`
	HasVarargs  bool        `codec:"v"`
	StackSize   uint16      `codec:"s"`
	Constants   []constWire `codec:"k"`
	Opcodes     []instWire  `codec:"o"`
	UpValues    []upvalWire `codec:"u"`
	Protos      []protoWire `codec:"f"`
}

const (
	wireNil uint8 = iota
	wireBool
	wireInt
	wireFloat
	wireString
)

func lowerProto(p *vm.FunctionProto) (protoWire, error) {
	w := protoWire{
		FixedParams: p.FixedParams,
		HasVarargs:  p.HasVarargs,
		StackSize:   p.StackSize,
	}

	for _, c := range p.Constants {
		cw := constWire{}
		switch c.Kind {
		case value.KindNil:
			cw.Kind = wireNil
		case value.KindBool:
			cw.Kind = wireBool
			cw.B = c.B
		case value.KindInt:
			cw.Kind = wireInt
			cw.I = c.I64
		case value.KindFloat:
			cw.Kind = wireFloat
			cw.F = c.F64
		case value.KindString:
			cw.Kind = wireString
			cw.S = c.Str
		default:
			return protoWire{}, fmt.Errorf("%w: %s", ErrBadConstant, c.Kind)
		}
		w.Constants = append(w.Constants, cw)
	}

	for _, in := range p.Opcodes {
		w.Opcodes = append(w.Opcodes, instWire{Op: string(in.Op), A: in.A, B: in.B, C: in.C})
	}

	for _, d := range p.UpValues {
		w.UpValues = append(w.UpValues, upvalWire{Kind: uint8(d.Kind), Index: d.Index})
	}

	for _, sub := range p.Protos {
		sw, err := lowerProto(sub)
		if err != nil {
			return protoWire{}, err
		}
		w.Protos = append(w.Protos, sw)
	}

	return w, nil
}

func raiseProto(w protoWire) (*vm.FunctionProto, error) {
	p := &vm.FunctionProto{
		FixedParams: w.FixedParams,
		HasVarargs:  w.HasVarargs,
		StackSize:   w.StackSize,
	}

	for _, cw := range w.Constants {
		switch cw.Kind {
		case wireNil:
			p.Constants = append(p.Constants, value.Nil())
		case wireBool:
			p.Constants = append(p.Constants, value.NewBool(cw.B))
		case wireInt:
			p.Constants = append(p.Constants, value.NewInt(cw.I))
		case wireFloat:
			p.Constants = append(p.Constants, value.NewFloat(cw.F))
		case wireString:
			p.Constants = append(p.Constants, value.NewString(cw.S))
		default:
			return nil, fmt.Errorf("%w: wire kind %d", ErrBadConstant, cw.Kind)
		}
	}

	for _, iw := range w.Opcodes {
		op := vm.Operation(iw.Op)
		if _, ok := vm.OperandCount(op); !ok {
			return nil, fmt.Errorf("chunk: unknown operation %q", iw.Op)
		}
		p.Opcodes = append(p.Opcodes, vm.Instruction{Op: op, A: iw.A, B: iw.B, C: iw.C})
	}

	for _, uw := range w.UpValues {
		if uw.Kind > uint8(vm.UpOuter) {
			return nil, fmt.Errorf("chunk: unknown upvalue descriptor kind %d", uw.Kind)
		}
		p.UpValues = append(p.UpValues, vm.UpValueDescriptor{Kind: vm.UpValueKind(uw.Kind), Index: uw.Index})
	}

	for _, sw := range w.Protos {
		sub, err := raiseProto(sw)
		if err != nil {
			return nil, err
		}
		p.Protos = append(p.Protos, sub)
	}

	return p, nil
}

// digest returns the 8-byte BLAKE2b sum of raw.
func digest(raw []byte) [digestSize]byte {
	h, err := blake2b.New(&blake2b.Config{Size: digestSize})
	if err != nil {
		panic(err) // static config, cannot fail
	}
	h.Write(raw)

	var d [digestSize]byte
	copy(d[:], h.Sum(nil))
	return d
}

// Write encodes proto as a chunk on w.
func Write(w io.Writer, proto *vm.FunctionProto) error {
	pw, err := lowerProto(proto)
	if err != nil {
		return err
	}

	var payload []byte
	var mh codec.MsgpackHandle
	if err := codec.NewEncoderBytes(&payload, &mh).Encode(pw); err != nil {
		return fmt.Errorf("chunk: encode: %w", err)
	}

	d := digest(payload)

	var hdr bytes.Buffer
	hdr.WriteString(Magic)
	hdr.WriteByte(Version)
	hdr.Write(d[:])
	if err := binary.Write(&hdr, binary.LittleEndian, uint32(len(payload))); err != nil {
		return err
	}

	if _, err := w.Write(hdr.Bytes()); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// Read decodes a chunk from r, verifying magic, version, and digest.
func Read(r io.Reader) (*vm.FunctionProto, error) {
	var magic [len(Magic)]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("chunk: header: %w", err)
	}
	if string(magic[:]) != Magic {
		return nil, ErrBadMagic
	}

	var meta [1 + digestSize + 4]byte
	if _, err := io.ReadFull(r, meta[:]); err != nil {
		return nil, fmt.Errorf("chunk: header: %w", err)
	}
	if meta[0] != Version {
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, meta[0])
	}

	var want [digestSize]byte
	copy(want[:], meta[1:1+digestSize])
	size := binary.LittleEndian.Uint32(meta[1+digestSize:])

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("chunk: payload: %w", err)
	}

	if digest(payload) != want {
		return nil, ErrDigestMismatch
	}

	var pw protoWire
	var mh codec.MsgpackHandle
	if err := codec.NewDecoderBytes(payload, &mh).Decode(&pw); err != nil {
		return nil, fmt.Errorf("chunk: decode: %w", err)
	}

	return raiseProto(pw)
}

// Save writes proto as a chunk file at path, refusing to overwrite.
func Save(path string, proto *vm.FunctionProto) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("chunk: refusing to overwrite existing file %q", path)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return Write(f, proto)
}

// Load reads a chunk file from path.
func Load(path string) (*vm.FunctionProto, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return Read(f)
}
