package serializer

import (
	"fmt"
	"github.com/ValentinKolb/mKV/rpc/common"
)

// IRPCSerializer is the interface for all Message Serializers.
// It is the command encoding/decoding layer between typed messages and frame payloads.
type IRPCSerializer interface {
	// Serialize serializes a Message into a byte array
	// It returns the serialized byte array and an error if any
	Serialize(msg common.Message) ([]byte, error)
	// Deserialize deserializes a byte array into a Message
	// It takes a byte array and a pointer to a Message as parameters
	// It returns an error if any
	Deserialize(b []byte, msg *common.Message) error
}

// FromName creates a serializer by its configuration name (binary, json, gob, proto)
func FromName(name string) (IRPCSerializer, error) {
	switch name {
	case "binary":
		return NewBinarySerializer(), nil
	case "json":
		return NewJSONSerializer(), nil
	case "gob":
		return NewGOBSerializer(), nil
	case "proto":
		return NewProtoSerializer(), nil
	default:
		return nil, fmt.Errorf("invalid serializer %s", name)
	}
}
