package vitals

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/healthrecords/internal/platform/audit"
	"github.com/ehr/healthrecords/internal/platform/blobstore"
	"github.com/ehr/healthrecords/internal/platform/extract"
)

var (
	ErrMissingPatient  = errors.New("patient id is required")
	ErrMissingFileName = errors.New("file name is required")
	ErrFileTooLarge    = errors.New("file exceeds maximum upload size")
)

// DefaultMaxUploadSize matches the 16 MB upload limit.
const DefaultMaxUploadSize = 16 << 20

// TextExtractor turns a document into plain text, never failing.
type TextExtractor interface {
	Extract(ctx context.Context, doc extract.RawDocument) string
}

// Cipher is the vault surface the service needs.
type Cipher interface {
	EncryptData(plaintext string) (string, error)
	DecryptData(ciphertext string) (string, error)
	EncryptFile(path string) ([]byte, error)
	DecryptFile(data []byte) ([]byte, error)
}

// AuditRecorder receives access events.
type AuditRecorder interface {
	Record(ctx context.Context, e audit.Entry) error
}

// Observer receives pipeline outcomes for metrics.
type Observer interface {
	DocumentProcessed(kind string)
	ReadingParsed(metric, status string)
	CryptoFailed(op string)
}

// Transactor runs fn in a single database transaction.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type nopObserver struct{}

func (nopObserver) DocumentProcessed(string)     {}
func (nopObserver) ReadingParsed(string, string) {}
func (nopObserver) CryptoFailed(string)          {}

type nopTransactor struct{}

func (nopTransactor) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// Deps wires a Service. Extractor, Parser, Aggregator, Cipher, Records and
// Blobs are required.
type Deps struct {
	Extractor  TextExtractor
	Parser     *Parser
	Aggregator *Aggregator
	Cipher     Cipher
	Records    RecordRepository
	Blobs      blobstore.Store
	Audit      AuditRecorder
	Observer   Observer
	Tx         Transactor
	Logger     zerolog.Logger
	// ScratchDir holds plaintext uploads while they are encrypted.
	// Empty means os.TempDir().
	ScratchDir    string
	MaxUploadSize int64
}

type Service struct {
	extractor  TextExtractor
	parser     *Parser
	aggregator *Aggregator
	cipher     Cipher
	records    RecordRepository
	blobs      blobstore.Store
	audit      AuditRecorder
	observer   Observer
	tx         Transactor
	logger     zerolog.Logger
	scratchDir string
	maxUpload  int64
	now        func() time.Time
}

func NewService(d Deps) (*Service, error) {
	switch {
	case d.Extractor == nil:
		return nil, fmt.Errorf("vitals: extractor is required")
	case d.Parser == nil:
		return nil, fmt.Errorf("vitals: parser is required")
	case d.Aggregator == nil:
		return nil, fmt.Errorf("vitals: aggregator is required")
	case d.Cipher == nil:
		return nil, fmt.Errorf("vitals: cipher is required")
	case d.Records == nil:
		return nil, fmt.Errorf("vitals: record repository is required")
	case d.Blobs == nil:
		return nil, fmt.Errorf("vitals: blob store is required")
	}

	s := &Service{
		extractor:  d.Extractor,
		parser:     d.Parser,
		aggregator: d.Aggregator,
		cipher:     d.Cipher,
		records:    d.Records,
		blobs:      d.Blobs,
		audit:      d.Audit,
		observer:   d.Observer,
		tx:         d.Tx,
		logger:     d.Logger.With().Str("component", "vitals").Logger(),
		scratchDir: d.ScratchDir,
		maxUpload:  d.MaxUploadSize,
		now:        func() time.Time { return time.Now().UTC() },
	}
	if s.observer == nil {
		s.observer = nopObserver{}
	}
	if s.tx == nil {
		s.tx = nopTransactor{}
	}
	if s.maxUpload <= 0 {
		s.maxUpload = DefaultMaxUploadSize
	}
	return s, nil
}

// ProcessDocument extracts text from content and parses it. Extraction
// problems yield an all-N/A bundle; only an unsupported extension errors.
func (s *Service) ProcessDocument(ctx context.Context, content []byte, ext string) (Bundle, error) {
	kind, err := extract.KindFromExtension(ext)
	if err != nil {
		return nil, err
	}

	text := s.extractor.Extract(ctx, extract.RawDocument{Content: content, Kind: kind})
	bundle := s.parser.Parse(text)

	s.observer.DocumentProcessed(string(kind))
	for _, k := range Kinds {
		s.observer.ReadingParsed(string(k), string(bundle[k].Status))
	}
	return bundle, nil
}

// EncryptForStorage serialises b and encrypts it. On failure nothing usable
// is returned.
func (s *Service) EncryptForStorage(b Bundle) (string, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return "", fmt.Errorf("encode readings: %w", err)
	}
	sealed, err := s.cipher.EncryptData(string(data))
	if err != nil {
		s.observer.CryptoFailed("encrypt")
		s.logger.Error().Err(err).Msg("metadata encryption failed")
		return "", err
	}
	return sealed, nil
}

// DecryptFromStorage reverses EncryptForStorage. Missing kinds in the stored
// bundle come back as Missing.
func (s *Service) DecryptFromStorage(ciphertext string) (Bundle, error) {
	plaintext, err := s.cipher.DecryptData(ciphertext)
	if err != nil {
		s.observer.CryptoFailed("decrypt")
		return nil, err
	}
	var b Bundle
	if err := json.Unmarshal([]byte(plaintext), &b); err != nil {
		return nil, fmt.Errorf("decode stored readings: %w", err)
	}
	return b, nil
}

// AnalyzeTrends decrypts every stored bundle and aggregates them. Any
// decryption failure aborts the whole analysis.
func (s *Service) AnalyzeTrends(ctx context.Context, patientID uuid.UUID, stored []StoredMetadata) (Analysis, error) {
	entries := make([]Entry, 0, len(stored))
	for i, m := range stored {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		b, err := s.DecryptFromStorage(m.Metadata)
		if err != nil {
			s.logger.Error().Err(err).
				Str("patient_id", patientID.String()).
				Int("record_index", i).
				Msg("trend analysis aborted")
			return nil, fmt.Errorf("record %d of patient %s: %w", i, patientID, err)
		}
		entries = append(entries, Entry{Bundle: b, Date: m.Date})
	}
	return s.aggregator.Analyze(entries), nil
}

// Actor identifies who triggered an operation, for the audit log.
type Actor struct {
	UserID    string
	IPAddress string
}

type UploadRequest struct {
	PatientID  uuid.UUID
	RecordType string
	FileName   string
	Content    io.Reader
	Actor      Actor
}

type UploadResult struct {
	Record   *Record `json:"record"`
	Readings Bundle  `json:"readings"`
}

// UploadRecord stores an encrypted copy of the document, its encrypted
// readings, and an audit entry. The plaintext scratch file is removed on
// every path.
func (s *Service) UploadRecord(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	if req.PatientID == uuid.Nil {
		return nil, ErrMissingPatient
	}
	name := filepath.Base(strings.TrimSpace(req.FileName))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return nil, ErrMissingFileName
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	kind, err := extract.KindFromExtension(ext)
	if err != nil {
		return nil, err
	}

	content, err := io.ReadAll(io.LimitReader(req.Content, s.maxUpload+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(content)) > s.maxUpload {
		return nil, ErrFileTooLarge
	}

	encrypted, err := s.encryptUpload(content, ext)
	if err != nil {
		return nil, err
	}

	readings, err := s.ProcessDocument(ctx, content, ext)
	if err != nil {
		return nil, err
	}
	metadata, err := s.EncryptForStorage(readings)
	if err != nil {
		return nil, err
	}

	rec := &Record{
		ID:         uuid.New(),
		PatientID:  req.PatientID,
		UploadedBy: req.Actor.UserID,
		RecordType: req.RecordType,
		FileName:   name,
		FileKind:   string(kind),
		Metadata:   metadata,
		UploadDate: s.now(),
	}
	rec.BlobID = rec.ID.String()

	if _, err := s.blobs.Put(ctx, rec.BlobID, bytes.NewReader(encrypted)); err != nil {
		return nil, fmt.Errorf("store encrypted file: %w", err)
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.records.Create(ctx, rec); err != nil {
			return fmt.Errorf("save record: %w", err)
		}
		return s.recordAudit(ctx, audit.ActionRecordUpload, req.Actor, rec.ID.String())
	})
	if err != nil {
		if delErr := s.blobs.Delete(ctx, rec.BlobID); delErr != nil {
			s.logger.Error().Err(delErr).Str("blob_id", rec.BlobID).Msg("orphaned encrypted file")
		}
		return nil, err
	}

	s.logger.Info().
		Str("record_id", rec.ID.String()).
		Str("file_kind", rec.FileKind).
		Msg("record uploaded")
	return &UploadResult{Record: rec, Readings: readings}, nil
}

// encryptUpload writes content to a scratch file, encrypts the file, and
// removes the plaintext before returning.
func (s *Service) encryptUpload(content []byte, ext string) ([]byte, error) {
	f, err := os.CreateTemp(s.scratchDir, "upload-*."+ext)
	if err != nil {
		return nil, fmt.Errorf("create scratch file: %w", err)
	}
	path := f.Name()
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Error().Err(err).Str("path", path).Msg("plaintext scratch file not removed")
		}
	}()

	if _, err := f.Write(content); err != nil {
		f.Close()
		return nil, fmt.Errorf("write scratch file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close scratch file: %w", err)
	}

	encrypted, err := s.cipher.EncryptFile(path)
	if err != nil {
		s.observer.CryptoFailed("encrypt_file")
		return nil, err
	}
	return encrypted, nil
}

// AnalyzePatient loads every record of a patient and returns their trends.
func (s *Service) AnalyzePatient(ctx context.Context, patientID uuid.UUID, actor Actor) (Analysis, error) {
	records, err := s.records.ListAllByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}

	stored := make([]StoredMetadata, len(records))
	for i, r := range records {
		stored[i] = StoredMetadata{Metadata: r.Metadata, Date: r.UploadDate}
	}

	analysis, err := s.AnalyzeTrends(ctx, patientID, stored)
	if err != nil {
		return nil, err
	}
	if err := s.recordAudit(ctx, audit.ActionHealthAnalysis, actor, ""); err != nil {
		s.logger.Warn().Err(err).Msg("analysis audit entry not written")
	}
	return analysis, nil
}

func (s *Service) ListRecords(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Record, int, error) {
	return s.records.ListByPatient(ctx, patientID, limit, offset)
}

// RecordFile returns a record and its decrypted document.
func (s *Service) RecordFile(ctx context.Context, recordID uuid.UUID, actor Actor) (*Record, []byte, error) {
	rec, err := s.records.GetByID(ctx, recordID)
	if err != nil {
		return nil, nil, err
	}

	rc, err := s.blobs.Get(ctx, rec.BlobID)
	if err != nil {
		return nil, nil, err
	}
	defer rc.Close()

	encrypted, err := io.ReadAll(rc)
	if err != nil {
		return nil, nil, fmt.Errorf("read encrypted file: %w", err)
	}
	plaintext, err := s.cipher.DecryptFile(encrypted)
	if err != nil {
		s.observer.CryptoFailed("decrypt_file")
		return nil, nil, err
	}

	if err := s.recordAudit(ctx, audit.ActionRecordDownload, actor, rec.ID.String()); err != nil {
		s.logger.Warn().Err(err).Msg("download audit entry not written")
	}
	return rec, plaintext, nil
}

func (s *Service) recordAudit(ctx context.Context, action string, actor Actor, recordID string) error {
	if s.audit == nil {
		return nil
	}
	return s.audit.Record(ctx, audit.Entry{
		UserID:    actor.UserID,
		Action:    action,
		RecordID:  recordID,
		IPAddress: actor.IPAddress,
	})
}
