package device

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TableStore reads and overwrites the whole device table.
type TableStore interface {
	// Fetch returns a private copy of the table. Read failures yield an empty table.
	Fetch(ctx context.Context) *Table

	// Update overwrites the stored table.
	Update(ctx context.Context, table *Table) error
}

// Status is the verdict returned to the frontend.
type Status string

const (
	StatusVerified Status = "verified"
	StatusFailed   Status = "failed"
	StatusError    Status = "error"
)

// Action tells the frontend what to do with the returned device id.
type Action string

const (
	ActionNone   Action = "none"
	ActionResave Action = "resave"
	ActionSave   Action = "save"
)

// Check names the rule that produced a result.
type Check string

const (
	CheckKnownID     Check = "known_id"
	CheckFingerprint Check = "fingerprint"
	CheckNewDevice   Check = "new_device"
)

// Response messages.
const (
	MessageKnownID       = "Verification failed: Device ID already registered."
	MessageFingerprint   = "Verification failed: Device fingerprint already registered. Access blocked."
	MessageRegistered    = "Device successfully verified and registered."
	MessagePersistFailed = "Verification failed: Could not save data to database."
)

// Result is the outcome of one verification.
type Result struct {
	Check     Check
	Status    Status
	Action    Action // empty for StatusError
	DeviceID  string // empty for StatusError
	Message   string
	IPAddress string
	UserAgent string

	// PersistFailed is set when the table write failed. For the known-id and
	// fingerprint checks the verdict is returned regardless.
	PersistFailed bool
}

// VerifierConfig holds configuration for the Verifier.
type VerifierConfig struct {
	Store   TableStore
	Logger  zerolog.Logger
	Metrics *Metrics

	// NewID generates device ids. Defaults to random UUIDs.
	NewID func() string
}

// Verifier runs the device-deduplication checks against the stored table.
//
// Verify serializes fetch, mutate and persist within the process. The lock is
// held across the remote read and write, so one slow store call (up to the
// store timeout for each) delays every other verification in the process.
// Separate processes sharing one document can still overwrite each other's
// writes.
type Verifier struct {
	store   TableStore
	logger  zerolog.Logger
	metrics *Metrics
	newID   func() string

	mu sync.Mutex
}

// NewVerifier creates a Verifier.
func NewVerifier(cfg VerifierConfig) *Verifier {
	newID := cfg.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Verifier{
		store:   cfg.Store,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		newID:   newID,
	}
}

// Verify classifies the visitor described by sig and records the visit.
func (v *Verifier) Verify(ctx context.Context, sig Signals) Result {
	v.mu.Lock()
	defer v.mu.Unlock()

	table := v.store.Fetch(ctx)

	var res Result
	if rec, ok := v.knownID(table, sig); ok {
		res = v.touchKnownID(ctx, table, rec, sig)
	} else if id, rec, ok := matchFingerprint(table, sig); ok {
		res = v.touchFingerprint(ctx, table, id, rec, sig)
	} else {
		res = v.register(ctx, table, sig)
	}

	v.metrics.record(ctx, res)
	return res
}

// ListDevices returns the current table.
func (v *Verifier) ListDevices(ctx context.Context) *Table {
	return v.store.Fetch(ctx)
}

func (v *Verifier) knownID(table *Table, sig Signals) (*Record, bool) {
	if sig.ClientIDSent == "" {
		return nil, false
	}
	return table.Get(sig.ClientIDSent)
}

// matchFingerprint returns the first record, in table order, whose stored
// fingerprint equals the request's.
func matchFingerprint(table *Table, sig Signals) (string, *Record, bool) {
	key := Fingerprint(sig.PublicIP, sig.UserAgent)

	var (
		matchID  string
		matchRec *Record
	)
	table.Each(func(id string, rec *Record) bool {
		if rec.Fingerprint() == key {
			matchID, matchRec = id, rec
			return false
		}
		return true
	})
	return matchID, matchRec, matchRec != nil
}

func (v *Verifier) touchKnownID(ctx context.Context, table *Table, rec *Record, sig Signals) Result {
	rec.VerificationCount++
	rec.LastSeen = sig.Timestamp

	res := v.result(sig, CheckKnownID, StatusFailed, ActionNone, sig.ClientIDSent, MessageKnownID)
	res.PersistFailed = v.persistBestEffort(ctx, table, res)

	v.logger.Info().
		Str("device_id", res.DeviceID).
		Int("verification_count", rec.VerificationCount).
		Msg("known device id presented, verification failed")
	return res
}

func (v *Verifier) touchFingerprint(ctx context.Context, table *Table, id string, rec *Record, sig Signals) Result {
	rec.VerificationCount++
	rec.LastSeen = sig.Timestamp
	rec.IPAddress = sig.PublicIP

	res := v.result(sig, CheckFingerprint, StatusFailed, ActionResave, id, MessageFingerprint)
	res.PersistFailed = v.persistBestEffort(ctx, table, res)

	v.logger.Info().
		Str("device_id", id).
		Int("verification_count", rec.VerificationCount).
		Msg("fingerprint matched existing device, asking client to resave id")
	return res
}

func (v *Verifier) register(ctx context.Context, table *Table, sig Signals) Result {
	id := v.newID()
	for table.Has(id) {
		id = v.newID()
	}

	table.Put(id, &Record{
		DeviceID:          id,
		FirstSeen:         sig.Timestamp,
		LastSeen:          sig.Timestamp,
		IPAddress:         sig.PublicIP,
		UserAgent:         sig.UserAgent,
		VerificationCount: 1,
	})

	if err := v.store.Update(ctx, table); err != nil {
		v.logger.Error().
			Err(err).
			Str("discarded_device_id", id).
			Msg("failed to store new device")
		res := v.result(sig, CheckNewDevice, StatusError, "", "", MessagePersistFailed)
		res.PersistFailed = true
		return res
	}

	v.logger.Info().
		Str("device_id", id).
		Msg("new device verified and stored")
	return v.result(sig, CheckNewDevice, StatusVerified, ActionSave, id, MessageRegistered)
}

// persistBestEffort writes the table for the known-id and fingerprint checks.
// A failed write does not change their verdict; it is logged and reported back.
func (v *Verifier) persistBestEffort(ctx context.Context, table *Table, res Result) bool {
	if err := v.store.Update(ctx, table); err != nil {
		v.logger.Warn().
			Err(err).
			Str("check", string(res.Check)).
			Str("device_id", res.DeviceID).
			Msg("failed to persist verification update, verdict unchanged")
		return true
	}
	return false
}

func (v *Verifier) result(sig Signals, check Check, status Status, action Action, id, msg string) Result {
	return Result{
		Check:     check,
		Status:    status,
		Action:    action,
		DeviceID:  id,
		Message:   msg,
		IPAddress: sig.PublicIP,
		UserAgent: sig.UserAgent,
	}
}
