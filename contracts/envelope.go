package contracts

// Envelope wraps a serialized request packet together with the record type it was sent as,
// so a receiver can resolve the handler before decoding the payload
type Envelope struct {
	DeclaredRecordType string `json:"declaredRecordType"`
	SerializedPacket   string `json:"serializedPacket"`
}

// NewEnvelope creates an envelope for the given record type
func NewEnvelope(recordType, serializedPacket string) *Envelope {
	return &Envelope{
		DeclaredRecordType: recordType,
		SerializedPacket:   serializedPacket,
	}
}
