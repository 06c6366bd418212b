package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"wa-gateway-lite/internal/model"
)

// Gorm implements both repositories on a relational database.
type Gorm struct {
	db *gorm.DB
}

func OpenPostgres(dsn string) (*Gorm, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	return NewGorm(db), nil
}

func NewGorm(db *gorm.DB) *Gorm {
	return &Gorm{db: db}
}

func (g *Gorm) Migrate(ctx context.Context) error {
	if err := g.db.WithContext(ctx).AutoMigrate(&model.Session{}, &model.Message{}); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

func (g *Gorm) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (g *Gorm) Sessions() SessionRepository { return gormSessions{g.db} }
func (g *Gorm) Messages() MessageRepository { return gormMessages{g.db} }

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

type gormSessions struct{ db *gorm.DB }

// Create relies on the unique phone index: a concurrent insert from another
// process fails, and the row it wrote is returned instead.
func (r gormSessions) Create(ctx context.Context, s model.Session) (model.Session, bool, error) {
	existing, err := r.FindByPhoneNumber(ctx, s.PhoneNumber)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return model.Session{}, false, err
	}

	if err := r.db.WithContext(ctx).Create(&s).Error; err != nil {
		if existing, findErr := r.FindByPhoneNumber(ctx, s.PhoneNumber); findErr == nil {
			return existing, false, nil
		}
		return model.Session{}, false, fmt.Errorf("store: create session: %w", err)
	}
	return s, true, nil
}

func (r gormSessions) Save(ctx context.Context, s model.Session) error {
	res := r.db.WithContext(ctx).Model(&model.Session{}).Where("id = ?", s.ID).Select("*").Updates(&s)
	if res.Error != nil {
		return fmt.Errorf("store: save session: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r gormSessions) FindByID(ctx context.Context, id string) (model.Session, error) {
	var s model.Session
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&s).Error; err != nil {
		return model.Session{}, translate(err)
	}
	return s, nil
}

func (r gormSessions) FindByPhoneNumber(ctx context.Context, phone string) (model.Session, error) {
	var s model.Session
	if err := r.db.WithContext(ctx).Where("phone_number = ?", phone).First(&s).Error; err != nil {
		return model.Session{}, translate(err)
	}
	return s, nil
}

func (r gormSessions) List(ctx context.Context) ([]model.Session, error) {
	var out []model.Session
	if err := r.db.WithContext(ctx).Order("updated_at DESC").Order("id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	return out, nil
}

type gormMessages struct{ db *gorm.DB }

// Rows without a wire key come back with an empty embedded key.
func fixKey(m *model.Message) {
	if m.Key != nil && m.Key.ID == "" && m.Key.RemoteJID == "" {
		m.Key = nil
	}
}

func (r gormMessages) Save(ctx context.Context, m model.Message) error {
	if err := r.db.WithContext(ctx).Save(&m).Error; err != nil {
		return fmt.Errorf("store: save message: %w", err)
	}
	return nil
}

func (r gormMessages) FindByID(ctx context.Context, id string) (model.Message, error) {
	var m model.Message
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return model.Message{}, translate(err)
	}
	fixKey(&m)
	return m, nil
}

func (r gormMessages) FindByWireID(ctx context.Context, sessionID, wireID string) (model.Message, error) {
	var m model.Message
	err := r.db.WithContext(ctx).
		Where("session_id = ? AND wire_id = ?", sessionID, wireID).
		Order("created_at").
		First(&m).Error
	if err != nil {
		return model.Message{}, translate(err)
	}
	fixKey(&m)
	return m, nil
}

func (r gormMessages) FindBySessionID(ctx context.Context, sessionID string, limit int) ([]model.Message, error) {
	var latest []model.Message
	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "timestamp"}, Desc: true}).
		Order("created_at DESC").
		Limit(normalizeLimit(limit)).
		Find(&latest).Error
	if err != nil {
		return nil, fmt.Errorf("store: history: %w", err)
	}
	out := make([]model.Message, len(latest))
	for i := range latest {
		fixKey(&latest[i])
		out[len(latest)-1-i] = latest[i]
	}
	return out, nil
}

func (r gormMessages) UpdateStatus(ctx context.Context, id string, status model.MessageStatus, updatedAt int64) error {
	res := r.db.WithContext(ctx).Model(&model.Message{}).Where("id = ?", id).
		Updates(map[string]any{"status": status, "updated_at": updatedAt})
	if res.Error != nil {
		return fmt.Errorf("store: update status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
