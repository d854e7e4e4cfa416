// Package protocol implements the gateway's framed wire contract: a
// MessagePack-encoded map carrying (method, seq, body). QoS-1 frames carry a
// sequence number; fire-and-forget frames omit it.
package protocol

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// MaxFrameBytes is the largest inbound frame the transport accepts. Oversize
// frames are fatal to the connection.
const MaxFrameBytes = 5 * 1024 * 1024

// MethodAck is the control method clients use to acknowledge QoS-1 frames.
// The body is an AckBody; acknowledgement is cumulative.
const MethodAck = "qos.ack"

// Frame is one wire message in either direction.
type Frame struct {
	Method string `msgpack:"method"`
	Seq    uint64 `msgpack:"seq,omitempty"`
	Body   []byte `msgpack:"body"`
}

// AckBody acknowledges every outbound sequence up to and including Seq.
type AckBody struct {
	Seq uint64 `msgpack:"seq"`
}

// Encode serializes a frame for the wire.
func Encode(f *Frame) ([]byte, error) {
	data, err := msgpack.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encode frame %q: %w", f.Method, err)
	}
	return data, nil
}

// Decode parses a wire message into a frame.
func Decode(data []byte) (*Frame, error) {
	var f Frame
	if err := msgpack.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if f.Method == "" {
		return nil, fmt.Errorf("decode frame: missing method")
	}
	return &f, nil
}

// EncodeBody serializes a handler payload (request or response body).
func EncodeBody(v interface{}) ([]byte, error) {
	return msgpack.Marshal(v)
}

// DecodeBody parses a handler payload into v.
func DecodeBody(data []byte, v interface{}) error {
	if len(data) == 0 {
		return fmt.Errorf("decode body: empty payload")
	}
	return msgpack.Unmarshal(data, v)
}
