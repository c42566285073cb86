// Package preset persists user presets, the last-used preset pointer and the
// tuner configuration in a sqlite database. It is an injected collaborator:
// the engine never reaches for a global store, and tests open isolated files.
package preset

import (
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/pulsekit/pulse/pitch"
	"github.com/pulsekit/pulse/rhythm"
)

// ErrPersistence wraps storage failures.
var ErrPersistence = errors.New("preset persistence error")

// DefaultDBFile is used when the host does not pick a path.
const DefaultDBFile = "pulse.sqlite3"

const lastUsedKey = "lastUsedPresetId"

// Preset is one saved metronome configuration.
type Preset struct {
	ID                 string `gorm:"primaryKey;type:varchar(36)"`
	Name               string `gorm:"uniqueIndex:idx_preset_name"`
	BPM                int
	TimeSignatureBeats int
	TimeSignatureUnit  int
	AccentPattern      string // packed as "1001..." per beat
	SubdivisionEnabled bool
	SubdivisionType    int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Config rebuilds the metronome config the preset stores.
func (p Preset) Config() rhythm.Config {
	sub := rhythm.SubdivisionNone
	if p.SubdivisionEnabled {
		sub = rhythm.SubdivisionFromDivisor(p.SubdivisionType)
	}
	return rhythm.Config{
		BPM: p.BPM,
		TimeSignature: rhythm.TimeSignature{
			BeatsPerBar: p.TimeSignatureBeats,
			BeatUnit:    p.TimeSignatureUnit,
		},
		Accents:     unpackAccents(p.AccentPattern),
		Subdivision: sub,
	}.Normalized()
}

// TunerConfiguration is the single-row tuner settings record.
type TunerConfiguration struct {
	ID                    uint `gorm:"primaryKey"`
	ReferencePitch        float64
	InTuneThreshold       float64
	CloseThreshold        float64
	HapticFeedbackEnabled bool
	AutoDetectEnabled     bool
}

// DefaultTunerConfiguration is what a fresh install gets.
func DefaultTunerConfiguration() TunerConfiguration {
	return TunerConfiguration{
		ID:                    1,
		ReferencePitch:        pitch.DefaultReferencePitch,
		InTuneThreshold:       pitch.DefaultInTuneCents,
		CloseThreshold:        pitch.DefaultCloseCents,
		HapticFeedbackEnabled: true,
		AutoDetectEnabled:     true,
	}
}

// setting is a small key-value row for scalar state like the last-used
// preset pointer.
type setting struct {
	Key   string `gorm:"primaryKey"`
	Value string
}

// Store wraps the sqlite database.
type Store struct {
	db *gorm.DB
}

// Open opens (creating if needed) the database at path and migrates the
// schema.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, errors.Wrapf(ErrPersistence, "opening %s: %v", path, err)
	}
	if err := db.AutoMigrate(&Preset{}, &TunerConfiguration{}, &setting{}); err != nil {
		return nil, errors.Wrapf(ErrPersistence, "migrating schema: %v", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return errors.Wrapf(ErrPersistence, "closing: %v", err)
	}
	return sqlDB.Close()
}

// Save inserts or updates a preset. A missing ID gets a fresh uuid.
func (s *Store) Save(p *Preset) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if err := s.db.Save(p).Error; err != nil {
		return errors.Wrapf(ErrPersistence, "saving preset %q: %v", p.Name, err)
	}
	return nil
}

// SaveFromConfig captures a config under a name and persists it.
func (s *Store) SaveFromConfig(name string, cfg rhythm.Config) (*Preset, error) {
	cfg = cfg.Normalized()
	p := &Preset{
		Name:               name,
		BPM:                cfg.BPM,
		TimeSignatureBeats: cfg.TimeSignature.BeatsPerBar,
		TimeSignatureUnit:  cfg.TimeSignature.BeatUnit,
		AccentPattern:      packAccents(cfg.Accents),
		SubdivisionEnabled: cfg.Subdivision.Enabled(),
		SubdivisionType:    cfg.Subdivision.Divisor(),
	}
	if err := s.Save(p); err != nil {
		return nil, err
	}
	return p, nil
}

// Get fetches a preset by id.
func (s *Store) Get(id string) (*Preset, error) {
	var p Preset
	if err := s.db.First(&p, "id = ?", id).Error; err != nil {
		return nil, errors.Wrapf(ErrPersistence, "loading preset %s: %v", id, err)
	}
	return &p, nil
}

// List returns all presets ordered by name.
func (s *Store) List() ([]Preset, error) {
	var out []Preset
	if err := s.db.Order("name").Find(&out).Error; err != nil {
		return nil, errors.Wrapf(ErrPersistence, "listing presets: %v", err)
	}
	return out, nil
}

// Delete removes a preset by id.
func (s *Store) Delete(id string) error {
	if err := s.db.Delete(&Preset{}, "id = ?", id).Error; err != nil {
		return errors.Wrapf(ErrPersistence, "deleting preset %s: %v", id, err)
	}
	return nil
}

// SetLastUsed records the last-used preset id.
func (s *Store) SetLastUsed(id string) error {
	if err := s.db.Save(&setting{Key: lastUsedKey, Value: id}).Error; err != nil {
		return errors.Wrapf(ErrPersistence, "saving last-used preset: %v", err)
	}
	return nil
}

// LastUsed returns the last-used preset id; ok is false when none was
// recorded.
func (s *Store) LastUsed() (string, bool, error) {
	var row setting
	err := s.db.First(&row, "key = ?", lastUsedKey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(ErrPersistence, "loading last-used preset: %v", err)
	}
	return row.Value, row.Value != "", nil
}

// TunerConfig loads the tuner settings, falling back to defaults when the
// row does not exist yet.
func (s *Store) TunerConfig() (TunerConfiguration, error) {
	var tc TunerConfiguration
	err := s.db.First(&tc, "id = ?", 1).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return DefaultTunerConfiguration(), nil
	}
	if err != nil {
		return TunerConfiguration{}, errors.Wrapf(ErrPersistence, "loading tuner config: %v", err)
	}
	return tc, nil
}

// SaveTunerConfig persists the tuner settings.
func (s *Store) SaveTunerConfig(tc TunerConfiguration) error {
	tc.ID = 1
	if err := s.db.Save(&tc).Error; err != nil {
		return errors.Wrapf(ErrPersistence, "saving tuner config: %v", err)
	}
	return nil
}

func packAccents(p rhythm.AccentPattern) string {
	var b strings.Builder
	for _, v := range p {
		if v {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}

func unpackAccents(s string) rhythm.AccentPattern {
	out := make(rhythm.AccentPattern, len(s))
	for i := range s {
		out[i] = s[i] == '1'
	}
	return out
}
