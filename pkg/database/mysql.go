package database

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/request-queue-system/pkg/models"
)

// ErrNotFound is returned when a lookup matches no row. Callers translate it
// into their own not-found error instead of leaking gorm internals.
var ErrNotFound = errors.New("record not found")

type MySQLDB struct {
	*gorm.DB
}

func NewMySQLDB(host, port, user, password, dbname string) (*MySQLDB, error) {
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=Local",
		user, password, host, port, dbname)

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	}

	db, err := gorm.Open(mysql.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := autoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &MySQLDB{DB: db}, nil
}

func autoMigrate(db *gorm.DB) error {
	log.Println("Running database migrations...")

	return db.AutoMigrate(
		&models.Event{},
		&models.Guest{},
		&models.Request{},
		&models.ModuleConfig{},
		&models.TurnCounter{},
	)
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// Event operations
func (db *MySQLDB) CreateEvent(ctx context.Context, event *models.Event) error {
	return db.WithContext(ctx).Create(event).Error
}

func (db *MySQLDB) GetEventByID(ctx context.Context, id uuid.UUID) (*models.Event, error) {
	var event models.Event
	if err := db.WithContext(ctx).First(&event, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &event, nil
}

func (db *MySQLDB) GetEventByCode(ctx context.Context, code string) (*models.Event, error) {
	var event models.Event
	if err := db.WithContext(ctx).First(&event, "code = ?", code).Error; err != nil {
		return nil, translate(err)
	}
	return &event, nil
}

// Guest operations
func (db *MySQLDB) GetGuestByIdentity(ctx context.Context, eventID uuid.UUID, identityKey string) (*models.Guest, error) {
	var guest models.Guest
	err := db.WithContext(ctx).
		First(&guest, "event_id = ? AND identity_key = ?", eventID, identityKey).Error
	if err != nil {
		return nil, translate(err)
	}
	return &guest, nil
}

func (db *MySQLDB) CreateGuest(ctx context.Context, guest *models.Guest) error {
	return db.WithContext(ctx).Create(guest).Error
}

// Module config operations
func (db *MySQLDB) GetModuleConfig(ctx context.Context, eventID uuid.UUID, module models.RequestKind) (*models.ModuleConfig, error) {
	var cfg models.ModuleConfig
	err := db.WithContext(ctx).
		First(&cfg, "event_id = ? AND module = ?", eventID, module).Error
	if err != nil {
		return nil, translate(err)
	}
	return &cfg, nil
}

func (db *MySQLDB) SaveModuleConfig(ctx context.Context, cfg *models.ModuleConfig) error {
	return db.WithContext(ctx).Save(cfg).Error
}

// Request store operations. All multi-row mutations run in a transaction;
// the queue service additionally serializes them per event.

func (db *MySQLDB) CreateRequest(ctx context.Context, req *models.Request) error {
	return db.WithContext(ctx).Create(req).Error
}

func (db *MySQLDB) GetRequest(ctx context.Context, eventID, requestID uuid.UUID) (*models.Request, error) {
	var req models.Request
	err := db.WithContext(ctx).
		First(&req, "id = ? AND event_id = ?", requestID, eventID).Error
	if err != nil {
		return nil, translate(err)
	}
	return &req, nil
}

// ListActive returns the active requests of one kind already sorted per the
// kind's ordering: songs by priority then age, karaoke by queue position.
// Callers never re-sort.
func (db *MySQLDB) ListActive(ctx context.Context, eventID uuid.UUID, kind models.RequestKind) ([]*models.Request, error) {
	q := db.WithContext(ctx).
		Where("event_id = ? AND kind = ? AND status IN ?", eventID, kind, models.ActiveStatuses(kind))
	if kind == models.KindKaraoke {
		q = q.Order("queue_position ASC")
	} else {
		q = q.Order("priority DESC, created_at ASC")
	}

	var items []*models.Request
	if err := q.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// ListHistory returns terminal requests of one kind, most recently touched
// first.
func (db *MySQLDB) ListHistory(ctx context.Context, eventID uuid.UUID, kind models.RequestKind) ([]*models.Request, error) {
	var items []*models.Request
	err := db.WithContext(ctx).
		Where("event_id = ? AND kind = ? AND status NOT IN ?", eventID, kind, models.ActiveStatuses(kind)).
		Order("updated_at DESC").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (db *MySQLDB) SaveRequest(ctx context.Context, req *models.Request) error {
	return db.WithContext(ctx).Save(req).Error
}

func (db *MySQLDB) DeleteRequest(ctx context.Context, req *models.Request) error {
	return db.WithContext(ctx).Delete(&models.Request{}, "id = ?", req.ID).Error
}

// SetPositions applies a batch of queue position updates atomically.
func (db *MySQLDB) SetPositions(ctx context.Context, eventID uuid.UUID, positions map[uuid.UUID]int) error {
	if len(positions) == 0 {
		return nil
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for id, pos := range positions {
			err := tx.Model(&models.Request{}).
				Where("id = ? AND event_id = ?", id, eventID).
				Update("queue_position", pos).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// NextTurnNumber draws the next ticket from the event's monotonic counter.
// Numbers are never reused, even after deletions.
func (db *MySQLDB) NextTurnNumber(ctx context.Context, eventID uuid.UUID) (int, error) {
	var turn int
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var counter models.TurnCounter
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&counter, "event_id = ?", eventID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			counter = models.TurnCounter{EventID: eventID, NextTurn: 1}
			if err := tx.Create(&counter).Error; err != nil {
				return err
			}
			turn = counter.NextTurn
			return nil
		}
		if err != nil {
			return err
		}
		counter.NextTurn++
		turn = counter.NextTurn
		return tx.Save(&counter).Error
	})
	if err != nil {
		return 0, fmt.Errorf("failed to advance turn counter: %w", err)
	}
	return turn, nil
}
