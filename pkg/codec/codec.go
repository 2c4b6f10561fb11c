// Package codec implements the Confluent Schema Registry wire format: a zero
// magic byte, a 4-byte big-endian schema id, an optional protobuf
// message-index array, then the payload. It is the sole wire contract every
// external consumer of the probe's traffic observes.
package codec

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/hamba/avro/v2"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	"github.com/twmb/franz-go/pkg/sr"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/cloudevent"
)

const magicByte = 0x00

const (
	retryBase = 500 * time.Millisecond
	retryCap  = 8 * time.Second
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Options struct {
	// AutoRegister registers a schema inferred from the payload when the
	// subject has no version yet (development posture; default strict).
	AutoRegister bool

	// MaxRetries bounds registry round-trip attempts on connection errors.
	MaxRetries int

	// MaxCacheEntries bounds both caches; zero means unbounded for the
	// process lifetime.
	MaxCacheEntries int

	Logger zerolog.Logger
}

type schemaEntry struct {
	id   int
	typ  sr.SchemaType
	text string
	avro avro.Schema // parsed form, TypeAvro only
}

// Codec caches (subject -> id) and (id -> parsed schema) for the process
// lifetime; the cache is the only thing between every produce/consume and a
// registry HTTP round-trip.
type Codec struct {
	client *sr.Client
	opts   Options
	log    zerolog.Logger

	mu      sync.RWMutex
	ids     map[string]int
	schemas map[int]*schemaEntry
}

func New(client *sr.Client, opts Options) *Codec {
	return &Codec{
		client:  client,
		opts:    opts,
		log:     opts.Logger.With().Str("component", "codec").Logger(),
		ids:     map[string]int{},
		schemas: map[int]*schemaEntry{},
	}
}

// Reset drops both caches. The only invalidation path.
func (c *Codec) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ids = map[string]int{}
	c.schemas = map[int]*schemaEntry{}
}

// Subject computes the registry subject for a payload produced to a topic,
// following the {topic}-{recordName} convention.
func Subject(topic string, payload any) string {
	return topic + "-" + recordName(payload)
}

func recordName(payload any) string {
	switch payload.(type) {
	case cloudevent.CloudEvent, *cloudevent.CloudEvent:
		return "CloudEvent"
	case *dynamicpb.Message:
		return "DynamicMessage"
	}
	if m, ok := payload.(proto.Message); ok {
		return string(m.ProtoReflect().Descriptor().Name())
	}
	t := reflect.Indirect(reflect.ValueOf(payload)).Type()
	if t.Name() != "" {
		return t.Name()
	}
	return "DynamicMessage"
}

// Serialize encodes payload against the schema registered for the subject
// {topic}-{recordName} and frames it in the Confluent wire format.
func (c *Codec) Serialize(ctx context.Context, topic string, payload any) ([]byte, error) {
	subject := Subject(topic, payload)
	entry, err := c.schemaForSubject(ctx, subject, payload)
	if err != nil {
		return nil, &SerializationError{Subject: subject, Cause: err}
	}

	var body []byte
	switch entry.typ {
	case sr.TypeJSON:
		body, err = json.Marshal(payload)
	case sr.TypeAvro:
		body, err = avro.Marshal(entry.avro, payload)
	case sr.TypeProtobuf:
		m, ok := payload.(proto.Message)
		if !ok {
			err = fmt.Errorf("protobuf subject requires a proto.Message payload, got %T", payload)
		} else {
			body, err = proto.Marshal(m)
		}
	default:
		err = fmt.Errorf("unsupported schema type %v", entry.typ)
	}
	if err != nil {
		return nil, &SerializationError{Subject: subject, Cause: err}
	}

	buf := make([]byte, 0, 6+len(body))
	buf = append(buf, magicByte)
	buf = binary.BigEndian.AppendUint32(buf, uint32(entry.id))
	if entry.typ == sr.TypeProtobuf {
		// single-message schemas carry the index array [0], encoded as
		// one zero byte
		buf = append(buf, 0)
	}
	return append(buf, body...), nil
}

// Deserialize decodes a Confluent-framed byte string into out, resolving the
// schema by the embedded id.
func (c *Codec) Deserialize(ctx context.Context, b []byte, out any) error {
	if len(b) < 5 {
		return &WireFormatError{Reason: fmt.Sprintf("need at least 5 bytes, got %d", len(b))}
	}
	if b[0] != magicByte {
		return &WireFormatError{Reason: fmt.Sprintf("unknown magic byte 0x%02x", b[0])}
	}
	id := int(int32(binary.BigEndian.Uint32(b[1:5])))
	if id <= 0 {
		return &WireFormatError{Reason: fmt.Sprintf("schema id must be positive, got %d", id)}
	}

	entry, err := c.schemaForID(ctx, id)
	if err != nil {
		return &DeserializationError{SchemaID: id, Cause: err}
	}

	body := b[5:]
	if entry.typ == sr.TypeProtobuf {
		body, err = skipMessageIndexes(body)
		if err != nil {
			return &DeserializationError{SchemaID: id, Cause: err}
		}
	}

	switch entry.typ {
	case sr.TypeJSON:
		err = json.Unmarshal(body, out)
	case sr.TypeAvro:
		err = avro.Unmarshal(entry.avro, body, out)
	case sr.TypeProtobuf:
		m, ok := out.(proto.Message)
		if !ok {
			err = fmt.Errorf("protobuf payload requires a proto.Message target, got %T", out)
		} else {
			err = proto.Unmarshal(body, m)
		}
	default:
		err = fmt.Errorf("unsupported schema type %v", entry.typ)
	}
	if err != nil {
		return &DeserializationError{SchemaID: id, Cause: err}
	}
	return nil
}

// skipMessageIndexes drops the varint message-index array preceding a
// protobuf payload. A leading zero is the compact form of the [0] array.
func skipMessageIndexes(b []byte) ([]byte, error) {
	n, taken := protowire.ConsumeVarint(b)
	if taken < 0 {
		return nil, errors.New("truncated message-index array")
	}
	b = b[taken:]
	for i := uint64(0); i < n; i++ {
		_, taken := protowire.ConsumeVarint(b)
		if taken < 0 {
			return nil, errors.New("truncated message-index array")
		}
		b = b[taken:]
	}
	return b, nil
}

func (c *Codec) schemaForSubject(ctx context.Context, subject string, payload any) (*schemaEntry, error) {
	c.mu.RLock()
	if id, ok := c.ids[subject]; ok {
		if entry, ok := c.schemas[id]; ok {
			c.mu.RUnlock()
			return entry, nil
		}
	}
	c.mu.RUnlock()

	var ss sr.SubjectSchema
	err := c.withRetry(ctx, func() error {
		var err error
		ss, err = c.client.SchemaByVersion(ctx, subject, -1)
		return err
	})
	if err != nil {
		if !isSubjectNotFound(err) || !c.opts.AutoRegister {
			return nil, err
		}
		inferred, ierr := inferSchema(payload)
		if ierr != nil {
			return nil, fmt.Errorf("auto-register %s: %w", subject, ierr)
		}
		err = c.withRetry(ctx, func() error {
			var err error
			ss, err = c.client.CreateSchema(ctx, subject, inferred)
			return err
		})
		if err != nil {
			return nil, err
		}
		c.log.Debug().Str("subject", subject).Int("id", ss.ID).Msg("auto-registered schema")
	}

	entry, err := newEntry(ss.ID, ss.Schema)
	if err != nil {
		return nil, err
	}
	c.store(subject, entry)
	return entry, nil
}

func (c *Codec) schemaForID(ctx context.Context, id int) (*schemaEntry, error) {
	c.mu.RLock()
	if entry, ok := c.schemas[id]; ok {
		c.mu.RUnlock()
		return entry, nil
	}
	c.mu.RUnlock()

	var s sr.Schema
	err := c.withRetry(ctx, func() error {
		var err error
		s, err = c.client.SchemaByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	entry, err := newEntry(id, s)
	if err != nil {
		return nil, err
	}
	c.store("", entry)
	return entry, nil
}

func newEntry(id int, s sr.Schema) (*schemaEntry, error) {
	entry := &schemaEntry{id: id, typ: s.Type, text: s.Schema}
	if s.Type == sr.TypeAvro {
		parsed, err := avro.Parse(s.Schema)
		if err != nil {
			return nil, fmt.Errorf("parse avro schema id %d: %w", id, err)
		}
		entry.avro = parsed
	}
	return entry, nil
}

// store inserts into the caches unless the entry bound is hit; a full cache
// degrades to registry round-trips rather than evicting.
func (c *Codec) store(subject string, entry *schemaEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if max := c.opts.MaxCacheEntries; max > 0 && len(c.schemas) >= max {
		if _, ok := c.schemas[entry.id]; !ok {
			return
		}
	}
	c.schemas[entry.id] = entry
	if subject != "" {
		c.ids[subject] = entry.id
	}
}

// withRetry retries op with bounded exponential backoff on connection
// errors. Definitive registry answers (HTTP error codes) are not retried.
func (c *Codec) withRetry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		var rerr *sr.ResponseError
		if errors.As(err, &rerr) {
			return err
		}
		if attempt >= c.opts.MaxRetries {
			return fmt.Errorf("schema registry unavailable after %d attempts: %w", attempt+1, err)
		}
		delay := retryBase << attempt
		if delay > retryCap {
			delay = retryCap
		}
		c.log.Warn().Err(err).Dur("backoff", delay).Msg("schema registry round-trip failed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

func isSubjectNotFound(err error) bool {
	var rerr *sr.ResponseError
	if !errors.As(err, &rerr) {
		return false
	}
	// 40401 subject not found, 40402 version not found
	return rerr.ErrorCode == 40401 || rerr.ErrorCode == 40402
}

// inferSchema builds a registrable schema from the payload's runtime type.
// Only JSON payloads can be inferred; protobuf subjects must be
// pre-registered.
func inferSchema(payload any) (sr.Schema, error) {
	if _, ok := payload.(proto.Message); ok {
		return sr.Schema{}, errors.New("protobuf schemas cannot be inferred, pre-register the subject")
	}
	text := fmt.Sprintf(`{"$schema":"http://json-schema.org/draft-07/schema#","title":%q,"type":"object"}`, recordName(payload))
	return sr.Schema{Schema: text, Type: sr.TypeJSON}, nil
}
