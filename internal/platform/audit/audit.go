// Package audit records who touched which health record. Entries are sealed
// with the vault before they reach storage, so the audit table holds no
// readable identifiers.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Actions recorded by the record service.
const (
	ActionRecordUpload   = "record_upload"
	ActionRecordDownload = "record_download"
	ActionHealthAnalysis = "health_analysis"
)

var ErrMissingAction = errors.New("audit entry action is required")

// Entry is the plaintext audit event.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"user_id"`
	Action    string    `json:"action"`
	RecordID  string    `json:"record_id,omitempty"`
	IPAddress string    `json:"ip_address"`
}

// Sealer is the subset of the vault used to protect entries.
type Sealer interface {
	EncryptData(plaintext string) (string, error)
	DecryptData(ciphertext string) (string, error)
}

// Sink persists sealed entries.
type Sink interface {
	Append(ctx context.Context, sealed string, at time.Time) error
}

// Logger seals entries and hands them to a Sink.
type Logger struct {
	sealer Sealer
	sink   Sink
	logger zerolog.Logger
	now    func() time.Time
}

func NewLogger(sealer Sealer, sink Sink, logger zerolog.Logger) *Logger {
	return &Logger{
		sealer: sealer,
		sink:   sink,
		logger: logger.With().Str("component", "audit").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Record seals e and appends it. A zero Timestamp is set to now.
func (l *Logger) Record(ctx context.Context, e Entry) error {
	if e.Action == "" {
		return ErrMissingAction
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now()
	}

	sealed, err := Seal(l.sealer, e)
	if err != nil {
		l.logger.Error().Err(err).Str("action", e.Action).Msg("audit entry could not be sealed")
		return err
	}
	if err := l.sink.Append(ctx, sealed, e.Timestamp); err != nil {
		return fmt.Errorf("audit: append: %w", err)
	}

	l.logger.Debug().Str("action", e.Action).Msg("audit entry recorded")
	return nil
}

// Seal encodes e as JSON and encrypts it.
func Seal(s Sealer, e Entry) (string, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("audit: encode entry: %w", err)
	}
	sealed, err := s.EncryptData(string(data))
	if err != nil {
		return "", fmt.Errorf("audit: seal entry: %w", err)
	}
	return sealed, nil
}

// Open reverses Seal.
func Open(s Sealer, sealed string) (Entry, error) {
	var e Entry
	plaintext, err := s.DecryptData(sealed)
	if err != nil {
		return e, fmt.Errorf("audit: open entry: %w", err)
	}
	if err := json.Unmarshal([]byte(plaintext), &e); err != nil {
		return e, fmt.Errorf("audit: decode entry: %w", err)
	}
	return e, nil
}
