// Package transport carries pose updates to the remote renderer and
// ready-frame signals back. The wire format is a one-byte packet type
// followed by protobuf-encoded fields, laid down with protowire so both
// ends stay decodable by stock protobuf tooling without generated code.
package transport

import (
	"fmt"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/banshee-data/reproject/internal/pose"
)

// Packet type bytes.
const (
	PacketPose  = 0x50 // 'P': outbound pose update
	PacketReady = 0x52 // 'R': inbound ready-frame signal
)

// Field numbers for the pose update message.
const (
	fieldFrameIndex  = 1 // varint
	fieldOrientation = 2 // packed fixed32 x4 (x, y, z, w)
	fieldTranslation = 3 // packed fixed32 x3
)

// fieldReadyFrame is the single field of the ready signal message.
const fieldReadyFrame = 1 // varint

// PoseUpdate is the outbound message: which frame was issued and the
// head pose it was issued under, already mapped to the remote renderer's
// coordinate convention.
type PoseUpdate struct {
	FrameIndex  int64
	Orientation pose.Quaternion
	Translation [3]float32
}

// AppendPoseUpdate appends the wire encoding of u to buf.
func AppendPoseUpdate(buf []byte, u PoseUpdate) []byte {
	buf = append(buf, PacketPose)

	buf = protowire.AppendTag(buf, fieldFrameIndex, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(u.FrameIndex))

	buf = protowire.AppendTag(buf, fieldOrientation, protowire.BytesType)
	var quat []byte
	for _, v := range [4]float32{u.Orientation.X, u.Orientation.Y, u.Orientation.Z, u.Orientation.W} {
		quat = protowire.AppendFixed32(quat, math.Float32bits(v))
	}
	buf = protowire.AppendBytes(buf, quat)

	buf = protowire.AppendTag(buf, fieldTranslation, protowire.BytesType)
	var trans []byte
	for _, v := range u.Translation {
		trans = protowire.AppendFixed32(trans, math.Float32bits(v))
	}
	buf = protowire.AppendBytes(buf, trans)

	return buf
}

// DecodePoseUpdate parses a pose update packet, including its type byte.
func DecodePoseUpdate(data []byte) (PoseUpdate, error) {
	var u PoseUpdate
	if len(data) == 0 || data[0] != PacketPose {
		return u, fmt.Errorf("not a pose packet")
	}
	data = data[1:]

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return u, fmt.Errorf("pose packet tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldFrameIndex && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return u, fmt.Errorf("frame index: %w", protowire.ParseError(n))
			}
			u.FrameIndex = int64(v)
			data = data[n:]
		case num == fieldOrientation && typ == protowire.BytesType:
			vals, n, err := consumeFixed32s(data, 4)
			if err != nil {
				return u, fmt.Errorf("orientation: %w", err)
			}
			u.Orientation = pose.Quaternion{X: vals[0], Y: vals[1], Z: vals[2], W: vals[3]}
			data = data[n:]
		case num == fieldTranslation && typ == protowire.BytesType:
			vals, n, err := consumeFixed32s(data, 3)
			if err != nil {
				return u, fmt.Errorf("translation: %w", err)
			}
			copy(u.Translation[:], vals)
			data = data[n:]
		default:
			// Unknown field: skip so the protocol can grow.
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return u, fmt.Errorf("unknown field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return u, nil
}

// AppendReadyFrame appends the wire encoding of a ready-frame signal.
func AppendReadyFrame(buf []byte, frameIndex int64) []byte {
	buf = append(buf, PacketReady)
	buf = protowire.AppendTag(buf, fieldReadyFrame, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(frameIndex))
	return buf
}

// DecodeReadyFrame parses a ready-frame packet, including its type byte.
func DecodeReadyFrame(data []byte) (int64, error) {
	if len(data) == 0 || data[0] != PacketReady {
		return 0, fmt.Errorf("not a ready packet")
	}
	data = data[1:]

	num, typ, n := protowire.ConsumeTag(data)
	if n < 0 {
		return 0, fmt.Errorf("ready packet tag: %w", protowire.ParseError(n))
	}
	if num != fieldReadyFrame || typ != protowire.VarintType {
		return 0, fmt.Errorf("ready packet has field %d type %d, want varint field %d", num, typ, fieldReadyFrame)
	}
	v, vn := protowire.ConsumeVarint(data[n:])
	if vn < 0 {
		return 0, fmt.Errorf("ready frame index: %w", protowire.ParseError(vn))
	}
	return int64(v), nil
}

// consumeFixed32s reads a length-delimited field of exactly count packed
// fixed32 floats. Returns the floats and total bytes consumed.
func consumeFixed32s(data []byte, count int) ([]float32, int, error) {
	b, n := protowire.ConsumeBytes(data)
	if n < 0 {
		return nil, 0, protowire.ParseError(n)
	}
	if len(b) != 4*count {
		return nil, 0, fmt.Errorf("packed field is %d bytes, want %d", len(b), 4*count)
	}
	out := make([]float32, count)
	for i := range out {
		v, vn := protowire.ConsumeFixed32(b)
		if vn < 0 {
			return nil, 0, protowire.ParseError(vn)
		}
		out[i] = math.Float32frombits(v)
		b = b[vn:]
	}
	return out, n, nil
}
