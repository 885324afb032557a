package serializer

import (
	"encoding/json"
	"errors"
	"fmt"
	"github.com/ValentinKolb/mKV/rpc/common"
	"unicode/utf8"
)

// ErrInvalidUTF8 is returned by the json serializer for strings it cannot encode unchanged.
// encoding/json would replace invalid bytes with U+FFFD, so distinct keys would collide.
var ErrInvalidUTF8 = errors.New("json: string is not valid utf-8")

// NewJSONSerializer creates a new serializer using json encoding.
// Note: json drops empty values (omitempty), the absent marker lives in the Ok field.
// Keys and error texts must be valid UTF-8, use the binary, gob or proto serializer for arbitrary keys.
func NewJSONSerializer() IRPCSerializer {
	return &jsonSerializerImpl{}
}

// jsonSerializerImpl implements the IRPCSerializer interface using json encoding
type jsonSerializerImpl struct {
}

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

func (j jsonSerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	if !utf8.ValidString(msg.Key) {
		return nil, fmt.Errorf("%w: key %q", ErrInvalidUTF8, msg.Key)
	}
	if !utf8.ValidString(msg.Err) {
		return nil, fmt.Errorf("%w: error text %q", ErrInvalidUTF8, msg.Err)
	}
	return json.Marshal(msg)
}

func (j jsonSerializerImpl) Deserialize(b []byte, msg *common.Message) error {
	*msg = common.Message{}
	// Unmarshal would silently repair invalid bytes inside strings
	if !utf8.Valid(b) {
		return ErrInvalidUTF8
	}
	return json.Unmarshal(b, msg)
}
