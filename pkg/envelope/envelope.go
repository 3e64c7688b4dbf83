// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-superkey.
//
// go-superkey is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package envelope keeps the super key credential at rest only as AES-GCM
// ciphertext under a key held by a secure key store. It owns the IV
// record, the skip persistence policy and the one time migration of a
// legacy plaintext record.
//
// The IV is generated once and reused for every encryption under the
// current key. Rewriting the credential therefore reuses the nonce; this
// is accepted because at most one value is protected per key and IV, and
// a fresh IV is drawn whenever the custodian generates a new key.
package envelope

import (
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"

	"github.com/jeremyhahn/go-superkey/pkg/crypto/aead"
	"github.com/jeremyhahn/go-superkey/pkg/crypto/rand"
	"github.com/jeremyhahn/go-superkey/pkg/keystore"
	"github.com/jeremyhahn/go-superkey/pkg/logging"
	"github.com/jeremyhahn/go-superkey/pkg/metrics"
	"github.com/jeremyhahn/go-superkey/pkg/prefs"
)

// KeyCustodian supplies the envelope key. Implemented by
// *custodian.Custodian.
type KeyCustodian interface {
	EnsureKey() (created bool, err error)
	Key() (keystore.KeyHandle, error)
	StoreType() keystore.StoreType
	Generation() uint64
}

// Config holds the envelope collaborators.
type Config struct {
	// Custodian provides the hardware key. Required.
	Custodian KeyCustodian

	// Prefs is the configuration store holding the records. Required.
	Prefs prefs.Store

	// Random draws the IV. Defaults to the software resolver.
	Random rand.Resolver

	// Cipher defaults to aead.NewGCM().
	Cipher aead.Provider

	// Records defaults to DefaultRecords().
	Records *Records

	Logger *logging.Logger
}

// Validate checks required fields.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: nil config", ErrInvalidConfig)
	}
	if c.Custodian == nil {
		return fmt.Errorf("%w: custodian is required", ErrInvalidConfig)
	}
	if c.Prefs == nil {
		return fmt.Errorf("%w: configuration store is required", ErrInvalidConfig)
	}
	if c.Records != nil {
		return c.Records.Validate()
	}
	return nil
}

// Envelope encrypts, decrypts and persists the credential. Every public
// method is serialized by one mutex, which also guards first access IV
// creation and migration.
type Envelope struct {
	mu        sync.Mutex
	custodian KeyCustodian
	prefs     prefs.Store
	random    rand.Resolver
	cipher    aead.Provider
	records   Records
	logger    *logging.Logger

	// custodian generation the stored IV belongs to
	keyGen uint64
}

// New returns an Envelope. It performs no I/O; call Init at startup.
func New(cfg *Config) (*Envelope, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Envelope{
		custodian: cfg.Custodian,
		prefs:     cfg.Prefs,
		random:    cfg.Random,
		cipher:    cfg.Cipher,
		logger:    cfg.Logger,
		keyGen:    cfg.Custodian.Generation(),
	}
	if e.random == nil {
		e.random = rand.NewSoftware()
	}
	if e.cipher == nil {
		e.cipher = aead.NewGCM()
	}
	if cfg.Records != nil {
		e.records = *cfg.Records
	} else {
		e.records = *DefaultRecords()
	}
	if e.logger == nil {
		e.logger = logging.DefaultLogger()
	}
	e.logger = e.logger.With("component", "envelope")
	return e, nil
}

// Records returns the record names in use.
func (e *Envelope) Records() Records {
	return e.records
}

// begin tags the operation's log records with a correlation ID and
// returns a function that records metrics and logs the final error.
func (e *Envelope) begin(op string) (*logging.Logger, func(*error)) {
	start := time.Now()
	log := e.logger.With("op", op, "op_id", uuid.NewString())
	log.Debug("begin")
	return log, func(errp *error) {
		err := *errp
		metrics.RecordOperation(op, e.custodian.StoreType().String(), metrics.Status(err), time.Since(start).Seconds())
		if err != nil {
			metrics.RecordError(op, KindOf(err).String())
			log.Error(err, "kind", KindOf(err).String())
		}
	}
}

// Init ensures the key exists. It is idempotent and should be called by
// the owning application at startup. A newly generated key discards the
// stored IV.
func (e *Envelope) Init() (err error) {
	log, done := e.begin(metrics.OpInit)
	defer done(&err)

	e.mu.Lock()
	defer e.mu.Unlock()

	_, err = e.ensureKey(log)
	return err
}

func (e *Envelope) ensureKey(log *logging.Logger) (bool, error) {
	created, err := e.custodian.EnsureKey()
	if err != nil {
		return false, keyError(err)
	}
	// envelopes sharing a custodian all see the generation change, not
	// only the one whose call created the key
	if gen := e.custodian.Generation(); gen != e.keyGen {
		if err := e.rebindIV(log); err != nil {
			return created, err
		}
		e.keyGen = gen
	}
	return created, nil
}

// rebindIV drops the IV when the custodian has generated new key material
// so the new key never inherits a nonce used under a previous key. The old
// ciphertext is kept and will fail authentication on read.
func (e *Envelope) rebindIV(log *logging.Logger) error {
	iv, err := e.prefs.GetString(e.records.IV, "")
	if err != nil {
		return wrap(ErrPersistence, err)
	}
	if iv == "" {
		return nil
	}
	log.Warn("new key generated, discarding stored iv")
	if ct, err := e.prefs.GetString(e.records.Ciphertext, ""); err == nil && ct != "" {
		log.Warn("stored ciphertext predates the current key and cannot be decrypted")
	}
	if err := e.prefs.Remove(e.records.IV); err != nil {
		return wrap(ErrPersistence, err)
	}
	return nil
}

func (e *Envelope) key(log *logging.Logger) (keystore.KeyHandle, error) {
	if _, err := e.ensureKey(log); err != nil {
		return nil, err
	}
	h, err := e.custodian.Key()
	if err != nil {
		return nil, keyError(err)
	}
	return h, nil
}

// GetOrCreateIV returns the persisted IV, generating and storing a new
// one on first use.
func (e *Envelope) GetOrCreateIV() (iv []byte, err error) {
	log, done := e.begin(metrics.OpIV)
	defer done(&err)

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.getOrCreateIV(log)
}

func (e *Envelope) getOrCreateIV(log *logging.Logger) ([]byte, error) {
	stored, err := e.prefs.GetString(e.records.IV, "")
	if err != nil {
		return nil, wrap(ErrPersistence, err)
	}
	if stored == "" {
		fresh, err := e.random.Rand(aead.IVSize)
		if err != nil {
			return nil, wrap(ErrCipherInitFailed, fmt.Errorf("generating iv: %w", err))
		}
		if err := e.prefs.PutString(e.records.IV, base64.StdEncoding.EncodeToString(fresh)); err != nil {
			return nil, wrap(ErrPersistence, err)
		}
		log.Debug("generated iv", "source", e.random.Source().Name())

		// the stored value is authoritative
		stored, err = e.prefs.GetString(e.records.IV, "")
		if err != nil {
			return nil, wrap(ErrPersistence, err)
		}
	}
	iv, err := base64.StdEncoding.DecodeString(stored)
	if err != nil {
		return nil, wrap(ErrEncoding, fmt.Errorf("stored iv: %w", err))
	}
	if len(iv) != aead.IVSize {
		return nil, fmt.Errorf("%w: stored iv is %d bytes, want %d", ErrEncoding, len(iv), aead.IVSize)
	}
	return iv, nil
}

// Encrypt returns the base64 AES-GCM ciphertext of plaintext.
func (e *Envelope) Encrypt(plaintext string) (ciphertext string, err error) {
	log, done := e.begin(metrics.OpEncrypt)
	defer done(&err)

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.encrypt(log, plaintext)
}

func (e *Envelope) encrypt(log *logging.Logger, plaintext string) (string, error) {
	key, err := e.key(log)
	if err != nil {
		return "", err
	}
	iv, err := e.getOrCreateIV(log)
	if err != nil {
		return "", err
	}
	pt := []byte(plaintext)
	defer memguard.WipeBytes(pt)

	ct, err := e.cipher.Encrypt(key, iv, aead.TagBits, pt)
	if err != nil {
		return "", cipherError(err)
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

// Decrypt reverses Encrypt.
func (e *Envelope) Decrypt(ciphertext string) (plaintext string, err error) {
	log, done := e.begin(metrics.OpDecrypt)
	defer done(&err)

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.decrypt(log, ciphertext)
}

func (e *Envelope) decrypt(log *logging.Logger, ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", wrap(ErrEncoding, err)
	}
	key, err := e.key(log)
	if err != nil {
		return "", err
	}
	iv, err := e.getOrCreateIV(log)
	if err != nil {
		return "", err
	}
	pt, err := e.cipher.Decrypt(key, iv, aead.TagBits, raw)
	if err != nil {
		return "", cipherError(err)
	}
	defer memguard.WipeBytes(pt)
	return string(pt), nil
}

// Read returns the credential. When only a legacy plaintext record
// exists it is encrypted, persisted (unless skip persistence is enabled)
// and removed, and its value returned. Read returns "" and a nil error
// when no credential was ever set, and a non-nil error when a stored
// credential cannot be decrypted. An empty legacy record is removed
// without writing a ciphertext or generating a key.
func (e *Envelope) Read() (plaintext string, err error) {
	log, done := e.begin(metrics.OpRead)
	defer done(&err)

	e.mu.Lock()
	defer e.mu.Unlock()

	ct, err := e.prefs.GetString(e.records.Ciphertext, "")
	if err != nil {
		return "", wrap(ErrPersistence, err)
	}
	if ct != "" {
		return e.decrypt(log, ct)
	}
	return e.migrate(log)
}

func (e *Envelope) migrate(log *logging.Logger) (string, error) {
	legacy, err := e.prefs.GetString(e.records.Legacy, "")
	if err != nil {
		metrics.RecordMigration(metrics.MigrationFailed)
		return "", wrap(ErrPersistence, err)
	}
	if legacy == "" {
		if err := e.prefs.Remove(e.records.Legacy); err != nil {
			return "", wrap(ErrPersistence, err)
		}
		metrics.RecordMigration(metrics.MigrationEmpty)
		return "", nil
	}

	skipped, err := e.write(log, legacy)
	if err != nil {
		// the legacy record is kept so the next read can retry
		metrics.RecordMigration(metrics.MigrationFailed)
		return "", err
	}
	if err := e.prefs.Remove(e.records.Legacy); err != nil {
		metrics.RecordMigration(metrics.MigrationFailed)
		return "", wrap(ErrPersistence, err)
	}
	if skipped {
		log.Info("removed legacy plaintext credential without persisting, skip persistence enabled")
		metrics.RecordMigration(metrics.MigrationSkipped)
	} else {
		log.Info("migrated legacy plaintext credential")
		metrics.RecordMigration(metrics.MigrationMigrated)
	}
	return legacy, nil
}

// Write encrypts and persists plaintext. It is a no-op when skip
// persistence is enabled. On failure the existing ciphertext record is
// left untouched.
func (e *Envelope) Write(plaintext string) (err error) {
	log, done := e.begin(metrics.OpWrite)
	defer done(&err)

	e.mu.Lock()
	defer e.mu.Unlock()

	_, err = e.write(log, plaintext)
	return err
}

func (e *Envelope) write(log *logging.Logger, plaintext string) (skipped bool, err error) {
	skip, err := e.skipEnabled()
	if err != nil {
		return false, err
	}
	if skip {
		log.Debug("skip persistence enabled, not writing credential")
		return true, nil
	}
	ct, err := e.encrypt(log, plaintext)
	if err != nil {
		return false, err
	}
	if err := e.prefs.PutString(e.records.Ciphertext, ct); err != nil {
		return false, wrap(ErrPersistence, err)
	}
	return false, nil
}

// SetSkipPersistence sets the skip persistence policy. Enabling it first
// removes the ciphertext, legacy and IV records. Disabling it only
// updates the flag; nothing removed by an earlier enable is restored.
func (e *Envelope) SetSkipPersistence(enabled bool) (err error) {
	log, done := e.begin(metrics.OpSkip)
	defer done(&err)

	e.mu.Lock()
	defer e.mu.Unlock()

	flag := 0
	if enabled {
		if err := e.clear(); err != nil {
			return err
		}
		flag = 1
	}
	if err := e.prefs.PutInt(e.records.SkipFlag, flag); err != nil {
		return wrap(ErrPersistence, err)
	}
	log.Info("skip persistence updated", "enabled", enabled)
	return nil
}

// IsSkipPersistenceEnabled reports the skip persistence policy. An absent
// flag means disabled.
func (e *Envelope) IsSkipPersistenceEnabled() (enabled bool, err error) {
	_, done := e.begin(metrics.OpSkip)
	defer done(&err)

	e.mu.Lock()
	defer e.mu.Unlock()

	return e.skipEnabled()
}

func (e *Envelope) skipEnabled() (bool, error) {
	v, err := e.prefs.GetInt(e.records.SkipFlag, 0)
	if err != nil {
		return false, wrap(ErrPersistence, err)
	}
	return v != 0, nil
}

// Clear removes the ciphertext, legacy and IV records. The skip
// persistence flag and the key are left in place.
func (e *Envelope) Clear() (err error) {
	log, done := e.begin(metrics.OpClear)
	defer done(&err)

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.clear(); err != nil {
		return err
	}
	log.Info("cleared credential records")
	return nil
}

func (e *Envelope) clear() error {
	var errs []error
	for _, name := range e.records.credentialRecords() {
		if err := e.prefs.Remove(name); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return wrap(ErrPersistence, errors.Join(errs...))
	}
	return nil
}

// State reports which records are present. It does not touch the key
// store.
func (e *Envelope) State() (state State, err error) {
	_, done := e.begin(metrics.OpState)
	defer done(&err)

	e.mu.Lock()
	defer e.mu.Unlock()

	ct, err := e.prefs.GetString(e.records.Ciphertext, "")
	if err != nil {
		return State{}, wrap(ErrPersistence, err)
	}
	legacy, err := e.prefs.GetString(e.records.Legacy, "")
	if err != nil {
		return State{}, wrap(ErrPersistence, err)
	}
	iv, err := e.prefs.GetString(e.records.IV, "")
	if err != nil {
		return State{}, wrap(ErrPersistence, err)
	}
	skip, err := e.skipEnabled()
	if err != nil {
		return State{}, err
	}

	switch {
	case ct != "":
		state.Record = StateEncryptedRecord
	case legacy != "":
		state.Record = StateLegacyPlaintext
	default:
		state.Record = StateNoRecord
	}
	state.SkipEnabled = skip
	state.IVPresent = iv != ""
	return state, nil
}
