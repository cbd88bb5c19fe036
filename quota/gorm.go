package quota

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Record is the database row backing a [GormStore]. One row per
// counter name.
type Record struct {
	Name      string `gorm:"primaryKey" json:"name"`
	Date      string `gorm:"not null;default:''" json:"date"`
	Count     int    `gorm:"not null;default:0" json:"count"`
	UpdatedAt int64  `gorm:"autoUpdateTime:milli" json:"updated_at,omitempty"`
}

func (Record) TableName() string {
	return "quota_records"
}

// GormStore keeps the quota record in a SQL table via gorm.
// The table must have been migrated (see [Record]).
type GormStore struct {
	db   *gorm.DB
	name string
}

func NewGormStore(db *gorm.DB, name string) *GormStore {
	if name == "" {
		name = DefaultName
	}
	return &GormStore{db: db, name: name}
}

func (g *GormStore) Load(ctx context.Context) (State, error) {
	var rec Record
	err := g.db.WithContext(ctx).Where("name = ?", g.name).Take(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return State{}, ErrNoState
		}
		return State{}, fmt.Errorf("error loading quota record %q: %w", g.name, err)
	}
	return State{Date: rec.Date, Count: rec.Count}, nil
}

func (g *GormStore) Save(ctx context.Context, state State) error {
	rec := Record{Name: g.name, Date: state.Date, Count: state.Count}
	err := g.db.WithContext(ctx).Clauses(
		clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"date", "count", "updated_at"}),
		},
	).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("error saving quota record %q: %w", g.name, err)
	}
	return nil
}
