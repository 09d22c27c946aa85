// Package datastore indexes finished sessions in SQLite or MySQL through GORM.
package datastore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/tphakala/preroll-recorder/internal/conf"
	"github.com/tphakala/preroll-recorder/internal/errors"
	"github.com/tphakala/preroll-recorder/internal/logger"
	"github.com/tphakala/preroll-recorder/internal/secrets"
	"github.com/tphakala/preroll-recorder/internal/session"
)

// Store is the session index.
type Store struct {
	DB      *gorm.DB
	dialect string
}

// Open connects to the backend selected in settings and migrates the schema.
func Open(settings *conf.DatastoreSettings) (*Store, error) {
	switch strings.ToLower(settings.Type) {
	case "", "sqlite":
		return OpenSQLite(settings.SQLite.Path)
	case "mysql":
		return OpenMySQL(&settings.MySQL)
	default:
		return nil, errors.Newf("unsupported datastore type %q", settings.Type).
			Component("datastore").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// OpenSQLite opens the SQLite index at path. ":memory:" opens a private
// in-memory database.
func OpenSQLite(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, errors.New(err).
				Component("datastore").
				Category(errors.CategoryFileIO).
				Context("operation", "create_database_dir").
				Context("path", filepath.Dir(path)).
				Build()
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: createGormLogger()})
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "open_sqlite").
			Build()
	}
	if path == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.SetMaxOpenConns(1)
		}
	}
	return newStore(db, "sqlite", path)
}

// OpenMySQL opens the MySQL index.
func OpenMySQL(cfg *conf.MySQLSettings) (*Store, error) {
	password, err := secrets.Resolve(cfg.PasswordFile, cfg.Password)
	if err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		cfg.Username, password, cfg.Host, cfg.Port, cfg.Database)

	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{Logger: createGormLogger()})
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "open_mysql").
			Context("host", cfg.Host).
			Context("database", cfg.Database).
			Build()
	}
	return newStore(db, "mysql", cfg.Host+"/"+cfg.Database)
}

func createGormLogger() gormlogger.Interface {
	return NewGormLogger(DefaultSlowQueryThreshold, gormlogger.Warn)
}

func newStore(db *gorm.DB, dialect, location string) (*Store, error) {
	if err := db.AutoMigrate(&SessionRecord{}); err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "auto_migrate").
			Context("dialect", dialect).
			Build()
	}
	GetLogger().Info("session index opened",
		logger.String("dialect", dialect),
		logger.String("location", location))
	return &Store{DB: db, dialect: dialect}, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveSession inserts or replaces the index row of a session.
func (s *Store) SaveSession(ctx context.Context, m *session.Metadata) error {
	rec := recordFrom(m)
	err := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(rec).Error
	if err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "save_session").
			Context("session_id", m.ID).
			Build()
	}
	return nil
}

// Filter narrows a session listing.
type Filter struct {
	Search        string // substring of notes
	FavoritesOnly bool
	HasAudio      bool
	HasMIDI       bool
	HasVideo      bool
	Limit         int
	Offset        int
}

// ListSessions returns matching sessions, newest first.
func (s *Store) ListSessions(ctx context.Context, f Filter) ([]session.Summary, error) {
	q := s.DB.WithContext(ctx).Model(&SessionRecord{})
	if f.Search != "" {
		q = q.Where("notes LIKE ?", "%"+f.Search+"%")
	}
	if f.FavoritesOnly {
		q = q.Where("is_favorite = ?", true)
	}
	if f.HasAudio {
		q = q.Where("has_audio = ?", true)
	}
	if f.HasMIDI {
		q = q.Where("has_midi = ?", true)
	}
	if f.HasVideo {
		q = q.Where("has_video = ?", true)
	}
	q = q.Order("timestamp DESC")
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}

	var records []SessionRecord
	if err := q.Find(&records).Error; err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "list_sessions").
			Build()
	}
	out := make([]session.Summary, 0, len(records))
	for i := range records {
		out = append(out, records[i].Summary())
	}
	return out, nil
}

// GetSession returns the full metadata of one session.
func (s *Store) GetSession(ctx context.Context, id string) (*session.Metadata, error) {
	var rec SessionRecord
	err := s.DB.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errors.Newf("session %s not found", id).
			Component("datastore").
			Category(errors.CategoryNotFound).
			Context("session_id", id).
			Build()
	}
	if err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "get_session").
			Context("session_id", id).
			Build()
	}
	return rec.Metadata(), nil
}

// SetFavorite marks or unmarks a session as favorite.
func (s *Store) SetFavorite(ctx context.Context, id string, favorite bool) error {
	return s.update(ctx, id, "is_favorite", favorite)
}

// SetNotes replaces the notes of a session.
func (s *Store) SetNotes(ctx context.Context, id, notes string) error {
	return s.update(ctx, id, "notes", notes)
}

func (s *Store) update(ctx context.Context, id, column string, value any) error {
	res := s.DB.WithContext(ctx).Model(&SessionRecord{}).Where("id = ?", id).Update(column, value)
	if res.Error != nil {
		return errors.New(res.Error).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "update_"+column).
			Context("session_id", id).
			Build()
	}
	if res.RowsAffected == 0 {
		return errors.Newf("session %s not found", id).
			Component("datastore").
			Category(errors.CategoryNotFound).
			Context("session_id", id).
			Build()
	}
	return nil
}

// DeleteSession removes a session from the index. Files are left on disk.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	if err := s.DB.WithContext(ctx).Where("id = ?", id).Delete(&SessionRecord{}).Error; err != nil {
		return errors.New(err).
			Component("datastore").
			Category(errors.CategoryDatabase).
			Context("operation", "delete_session").
			Context("session_id", id).
			Build()
	}
	return nil
}

// Rebuild indexes every session directory under storage that carries a
// session.json. It returns the number of sessions indexed.
func (s *Store) Rebuild(ctx context.Context, storage string) (int, error) {
	entries, err := os.ReadDir(storage)
	if err != nil {
		return 0, errors.New(err).
			Component("datastore").
			Category(errors.CategoryFileIO).
			Context("operation", "scan_storage").
			Context("path", storage).
			Build()
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		m, err := session.Load(filepath.Join(storage, e.Name()))
		if err != nil {
			GetLogger().Debug("skipping directory without session metadata",
				logger.String("dir", e.Name()),
				logger.Error(err))
			continue
		}
		if err := s.SaveSession(ctx, m); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
