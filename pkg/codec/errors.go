package codec

import "fmt"

// WireFormatError reports bytes that do not carry a valid Confluent frame.
type WireFormatError struct {
	Reason string
}

func (e *WireFormatError) Error() string {
	return fmt.Sprintf("wire format: %s", e.Reason)
}

// SerializationError reports a failed encode for a subject: registry
// unreachable, incompatible schema, or an unencodable payload.
type SerializationError struct {
	Subject string
	Cause   error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("serialize subject %q: %v", e.Subject, e.Cause)
}

func (e *SerializationError) Unwrap() error { return e.Cause }

// DeserializationError reports a failed decode for a schema id.
type DeserializationError struct {
	SchemaID int
	Cause    error
}

func (e *DeserializationError) Error() string {
	return fmt.Sprintf("deserialize schema id %d: %v", e.SchemaID, e.Cause)
}

func (e *DeserializationError) Unwrap() error { return e.Cause }
