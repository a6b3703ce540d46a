package protocol

import (
	"errors"
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// MaxMessageSize bounds an encoded message (10 MB). A snapshot carries the
// whole history, so this is also the largest history a peer can bootstrap.
const MaxMessageSize = 10 * 1024 * 1024

// MaxSnapshotSize bounds an encoded state snapshot so the envelope carrying
// it still fits in MaxMessageSize.
const MaxSnapshotSize = MaxMessageSize - 4096

var (
	// ErrMessageTooLarge is returned when an encoded value exceeds MaxMessageSize
	ErrMessageTooLarge = errors.New("message too large")

	// ErrDecode wraps every failure to turn bytes back into a value
	ErrDecode = errors.New("decode failed")

	// ErrEncode wraps every failure to serialize a value
	ErrEncode = errors.New("encode failed")
)

var (
	codecOnce sync.Once
	encMode   cbor.EncMode
	decMode   cbor.DecMode
	codecErr  error
)

func initCodec() {
	codecOnce.Do(func() {
		encOpts := cbor.EncOptions{
			Sort:        cbor.SortCoreDeterministic,
			IndefLength: cbor.IndefLengthForbidden,
		}
		decOpts := cbor.DecOptions{
			DupMapKey:        cbor.DupMapKeyEnforcedAPF,
			IndefLength:      cbor.IndefLengthForbidden,
			MaxNestedLevels:  16,
			MaxArrayElements: 1 << 20,
			MaxMapPairs:      1 << 20,
		}

		var err error
		if encMode, err = encOpts.EncMode(); err != nil {
			codecErr = fmt.Errorf("create CBOR encoder: %w", err)
			return
		}
		if decMode, err = decOpts.DecMode(); err != nil {
			codecErr = fmt.Errorf("create CBOR decoder: %w", err)
		}
	})
}

// Marshal encodes v with the chat wire encoding (deterministic CBOR).
func Marshal(v any) ([]byte, error) {
	initCodec()
	if codecErr != nil {
		return nil, codecErr
	}

	data, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	if len(data) > MaxMessageSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(data))
	}
	return data, nil
}

// Unmarshal decodes data produced by Marshal into v.
func Unmarshal(data []byte, v any) error {
	initCodec()
	if codecErr != nil {
		return codecErr
	}

	if len(data) > MaxMessageSize {
		return fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, len(data))
	}
	if len(data) == 0 {
		return fmt.Errorf("%w: empty payload", ErrDecode)
	}
	if err := decMode.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return nil
}

// Encode serializes a message for publishing
func Encode(m Message) ([]byte, error) {
	return Marshal(m)
}

// Decode parses and validates a received message
func Decode(data []byte) (Message, error) {
	var m Message
	if err := Unmarshal(data, &m); err != nil {
		return Message{}, err
	}
	if err := m.Validate(); err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return m, nil
}
