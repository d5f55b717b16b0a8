package apihost

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// rawCodecName is registered as a gRPC codec that passes request/response
// bytes through untouched. Per §1, the individual service wire formats
// (datastore, search, mail, ...) are out of scope for this module; the host
// RPC only ever carries the opaque bytes the service stub produced.
const rawCodecName = "apihost-raw"

type rawMessage []byte

type rawCodec struct{}

func (rawCodec) Name() string { return rawCodecName }

func (rawCodec) Marshal(v any) ([]byte, error) {
	if b, ok := v.(rawMessage); ok {
		return b, nil
	}
	if b, ok := v.(*rawMessage); ok {
		return *b, nil
	}
	return nil, fmt.Errorf("apihost: rawCodec cannot marshal %T", v)
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	var dst, ok = v.(*rawMessage)
	if !ok {
		return fmt.Errorf("apihost: rawCodec cannot unmarshal into %T", v)
	}
	*dst = append((*dst)[:0], data...)
	return nil
}

func init() {
	encoding.RegisterCodec(rawCodec{})
}
