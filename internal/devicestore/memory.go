package devicestore

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/devicegate/devicegate/internal/device"
)

// MemoryDocument is an in-process Document. It stores the encoded JSON so every
// read and write goes through the same encoding as a remote document.
// It is intended for local development and tests.
type MemoryDocument struct {
	mu       sync.Mutex
	data     []byte
	readErr  error
	writeErr error
	reads    int
	writes   int
}

// NewMemoryDocument creates an empty in-memory document.
func NewMemoryDocument() *MemoryDocument {
	return &MemoryDocument{data: []byte(`{}`)}
}

// Read decodes the stored document.
func (d *MemoryDocument) Read(_ context.Context) (*device.Table, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.reads++
	if d.readErr != nil {
		return nil, d.readErr
	}

	table := device.NewTable()
	if err := json.Unmarshal(d.data, table); err != nil {
		return nil, err
	}
	return table, nil
}

// Write encodes table and replaces the stored document.
func (d *MemoryDocument) Write(_ context.Context, table *device.Table) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.writes++
	if d.writeErr != nil {
		return d.writeErr
	}

	data, err := json.Marshal(table)
	if err != nil {
		return err
	}
	d.data = data
	return nil
}

// SetRaw replaces the stored document bytes.
func (d *MemoryDocument) SetRaw(data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.data = append([]byte(nil), data...)
}

// Raw returns a copy of the stored document bytes.
func (d *MemoryDocument) Raw() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]byte(nil), d.data...)
}

// FailReads makes subsequent reads return err. Pass nil to clear.
func (d *MemoryDocument) FailReads(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.readErr = err
}

// FailWrites makes subsequent writes return err. Pass nil to clear.
func (d *MemoryDocument) FailWrites(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writeErr = err
}

// Reads returns the number of Read calls.
func (d *MemoryDocument) Reads() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reads
}

// Writes returns the number of Write calls.
func (d *MemoryDocument) Writes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writes
}
