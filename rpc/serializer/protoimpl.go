package serializer

import (
	"fmt"
	"github.com/ValentinKolb/mKV/rpc/common"
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of the protobuf encoding. The layout is equivalent to
//
//	message Message {
//	  uint32 msg_type = 1;
//	  string key = 2;
//	  optional bytes value = 3;
//	  bool ok = 4;
//	  string err = 5;
//	}
const (
	protoFieldMsgType protowire.Number = 1
	protoFieldKey     protowire.Number = 2
	protoFieldValue   protowire.Number = 3
	protoFieldOk      protowire.Number = 4
	protoFieldErr     protowire.Number = 5
)

// NewProtoSerializer creates a new serializer using the protobuf wire format.
// Messages can be decoded by any protobuf implementation using the schema above.
func NewProtoSerializer() IRPCSerializer {
	return &protoSerializerImpl{}
}

// protoSerializerImpl implements the IRPCSerializer interface using protowire
type protoSerializerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (p protoSerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	b := make([]byte, 0, 16+len(msg.Key)+len(msg.Value)+len(msg.Err))

	b = protowire.AppendTag(b, protoFieldMsgType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(msg.MsgType))

	if msg.Key != "" {
		b = protowire.AppendTag(b, protoFieldKey, protowire.BytesType)
		b = protowire.AppendString(b, msg.Key)
	}

	// explicit presence: an empty value is still written
	if msg.Value != nil {
		b = protowire.AppendTag(b, protoFieldValue, protowire.BytesType)
		b = protowire.AppendBytes(b, msg.Value)
	}

	if msg.Ok {
		b = protowire.AppendTag(b, protoFieldOk, protowire.VarintType)
		b = protowire.AppendVarint(b, protowire.EncodeBool(true))
	}

	if msg.Err != "" {
		b = protowire.AppendTag(b, protoFieldErr, protowire.BytesType)
		b = protowire.AppendString(b, msg.Err)
	}

	return b, nil
}

func (p protoSerializerImpl) Deserialize(b []byte, msg *common.Message) error {
	*msg = common.Message{}

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("invalid tag: %w", protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == protoFieldMsgType && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("invalid msg_type: %w", protowire.ParseError(n))
			}
			if v > 0xFF {
				return fmt.Errorf("msg_type %d out of range", v)
			}
			msg.MsgType = common.MessageType(v)
			b = b[n:]

		case num == protoFieldKey && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return fmt.Errorf("invalid key: %w", protowire.ParseError(n))
			}
			msg.Key = v
			b = b[n:]

		case num == protoFieldValue && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return fmt.Errorf("invalid value: %w", protowire.ParseError(n))
			}
			msg.Value = make([]byte, len(v))
			copy(msg.Value, v)
			b = b[n:]

		case num == protoFieldOk && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return fmt.Errorf("invalid ok: %w", protowire.ParseError(n))
			}
			msg.Ok = protowire.DecodeBool(v)
			b = b[n:]

		case num == protoFieldErr && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return fmt.Errorf("invalid err: %w", protowire.ParseError(n))
			}
			msg.Err = v
			b = b[n:]

		default:
			// skip unknown fields for forward compatibility
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return fmt.Errorf("invalid field %d: %w", num, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	return nil
}
