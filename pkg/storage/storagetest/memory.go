// Package storagetest provides an in-memory Functions implementation for
// tests of the engine and registry.
package storagetest

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/pkg/directive"
)

// Memory serves pre-seeded bundles and captures stored evidence files.
type Memory struct {
	mu       sync.Mutex
	bundles  map[uuid.UUID]*directive.BlockStorageDirective
	evidence map[uuid.UUID]map[string][]byte

	FetchErr error // returned by Fetch when non-nil
	StoreErr error // returned by Store when non-nil
}

func New() *Memory {
	return &Memory{
		bundles:  map[uuid.UUID]*directive.BlockStorageDirective{},
		evidence: map[uuid.UUID]map[string][]byte{},
	}
}

func (m *Memory) Seed(testID uuid.UUID, bsd *directive.BlockStorageDirective) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bundles[testID] = bsd
}

func (m *Memory) Fetch(_ context.Context, testID uuid.UUID, _ string) (*directive.BlockStorageDirective, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FetchErr != nil {
		return nil, m.FetchErr
	}
	bsd, ok := m.bundles[testID]
	if !ok {
		return nil, fmt.Errorf("no bundle for test %s", testID)
	}
	return bsd, nil
}

func (m *Memory) Store(_ context.Context, testID uuid.UUID, _ string, evidenceDir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.StoreErr != nil {
		return m.StoreErr
	}
	files := map[string][]byte{}
	err := filepath.WalkDir(evidenceDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(evidenceDir, p)
		if err != nil {
			return err
		}
		body, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = body
		return nil
	})
	if err != nil {
		return err
	}
	m.evidence[testID] = files
	return nil
}

// Evidence returns the files captured by the last Store for a test.
func (m *Memory) Evidence(testID uuid.UUID) map[string][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.evidence[testID]
}
