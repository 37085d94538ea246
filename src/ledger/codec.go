package ledger

import (
	"github.com/ugorji/go/codec"
)

// Every value that is hashed, stored or sent to peers goes through this
// handle. Structs are written as arrays and byte slices as msgpack bin, so
// the encoding of a given value is fixed.
var msgpackHandle = newMsgpackHandle()

func newMsgpackHandle() *codec.MsgpackHandle {
	mh := new(codec.MsgpackHandle)
	mh.Canonical = true
	mh.StructToArray = true
	mh.WriteExt = true
	return mh
}

func encode(v interface{}) ([]byte, error) {
	var b []byte
	enc := codec.NewEncoderBytes(&b, msgpackHandle)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return b, nil
}

func decode(data []byte, v interface{}) error {
	dec := codec.NewDecoderBytes(data, msgpackHandle)
	return dec.Decode(v)
}
