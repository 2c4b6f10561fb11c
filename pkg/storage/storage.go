// Package storage loads test bundles from object storage and writes evidence
// back. The core consumes only the Functions interface; the S3 type is the
// production implementation.
package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/directive"
)

// Functions is the collaborator interface the engine consumes; it never
// depends on a specific cloud SDK.
type Functions interface {
	// Fetch pulls the bundle for a test into a process-local view and
	// returns the parsed block-storage directive.
	Fetch(ctx context.Context, testID uuid.UUID, bucket string) (*directive.BlockStorageDirective, error)

	// Store uploads the evidence directory contents back under
	// {bucket}/tests/{testID}/evidence/.
	Store(ctx context.Context, testID uuid.UUID, bucket, evidenceDir string) error
}

// ValidationError carries every directive violation found in a bundle.
type ValidationError struct {
	Errs []error
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		msgs[i] = err.Error()
	}
	return "invalid topic directives: " + strings.Join(msgs, "; ")
}

// Child wraps a Functions implementation with directive validation and
// logging; the engine talks to this.
type Child struct {
	fns Functions
	log zerolog.Logger
}

func NewChild(fns Functions, logger zerolog.Logger) *Child {
	return &Child{fns: fns, log: logger.With().Str("component", "storage-child").Logger()}
}

// Load fetches and validates the bundle directive. Validation failures are
// accumulated into one error so the caller can surface all of them.
func (c *Child) Load(ctx context.Context, testID uuid.UUID, bucket string) (*directive.BlockStorageDirective, error) {
	bsd, err := c.fns.Fetch(ctx, testID, bucket)
	if err != nil {
		return nil, fmt.Errorf("fetch bundle: %w", err)
	}
	if errs := directive.Validate(bsd.TopicDirectives); len(errs) > 0 {
		return nil, &ValidationError{Errs: errs}
	}
	c.log.Info().
		Str("test", testID.String()).
		Str("bucket", bucket).
		Int("topics", len(bsd.TopicDirectives)).
		Msg("bundle loaded")
	return bsd, nil
}

// Store uploads evidence artifacts.
func (c *Child) Store(ctx context.Context, testID uuid.UUID, bucket, evidenceDir string) error {
	if err := c.fns.Store(ctx, testID, bucket, evidenceDir); err != nil {
		return fmt.Errorf("store evidence: %w", err)
	}
	c.log.Info().Str("test", testID.String()).Str("bucket", bucket).Msg("evidence uploaded")
	return nil
}

// ParseLocation splits an object-storage location like "s3://bucket/prefix"
// into its bucket name.
func ParseLocation(location string) (string, error) {
	rest, ok := strings.CutPrefix(location, "s3://")
	if !ok {
		return "", fmt.Errorf("unsupported object storage location %q", location)
	}
	bucket, _, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return "", fmt.Errorf("no bucket in object storage location %q", location)
	}
	return bucket, nil
}
