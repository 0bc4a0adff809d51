package log

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// A .klog file is a plain concatenation of CBOR maps, one per Event, with
// integer keys. There is no header or framing; readers decode until EOF.
// Writers never emit indefinite-length items, and readers reject them, so a
// truncated tail surfaces as a decode error instead of a partial event.

// maxEventDepth bounds nesting. An event is a map holding at most one
// payload map, which may hold a byte string.
const maxEventDepth = 4

// maxEventFields bounds the pairs in any one map of an event.
const maxEventFields = 32

type eventCodec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

var codec = mustEventCodec()

func mustEventCodec() eventCodec {
	enc, err := cbor.EncOptions{
		Sort:          cbor.SortCoreDeterministic,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("klog: encoder: %v", err))
	}

	dec, err := cbor.DecOptions{
		DupMapKey:       cbor.DupMapKeyEnforcedAPF,
		IndefLength:     cbor.IndefLengthForbidden,
		MaxNestedLevels: maxEventDepth,
		MaxMapPairs:     maxEventFields,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("klog: decoder: %v", err))
	}
	return eventCodec{enc: enc, dec: dec}
}

// EncodeEvent returns the wire form of one event.
func EncodeEvent(event Event) ([]byte, error) {
	return codec.enc.Marshal(event)
}

// DecodeEvent parses one event. Repeated keys and indefinite-length items
// are rejected.
func DecodeEvent(data []byte) (Event, error) {
	var event Event
	if err := codec.dec.Unmarshal(data, &event); err != nil {
		return Event{}, fmt.Errorf("klog: %w", err)
	}
	return event, nil
}

// NewEncoder returns a stream encoder writing .klog events to w.
func NewEncoder(w io.Writer) *cbor.Encoder {
	return codec.enc.NewEncoder(w)
}

// NewDecoder returns a stream decoder reading .klog events from r.
func NewDecoder(r io.Reader) *cbor.Decoder {
	return codec.dec.NewDecoder(r)
}
