package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"power-backend/internal/models"
)

type deviceRow struct {
	ID         string `gorm:"primaryKey"`
	Name       string
	Type       string
	Token      string
	Online     bool
	LastSeenTs *time.Time
	PowerState string
	Shutdown   bool
	Wakeup     bool
}

func (deviceRow) TableName() string { return "devices" }

type taskRow struct {
	ID        string `gorm:"primaryKey"`
	DeviceID  string `gorm:"index"`
	Kind      string
	Position  int
	Hour      int
	Minute    int
	Active    bool
	CreatedAt time.Time
}

func (taskRow) TableName() string { return "tasks" }

// SQLiteStore persists snapshots into two relational tables through gorm
type SQLiteStore struct {
	db *gorm.DB
}

// NewSQLiteStore opens (or creates) the database at path and migrates it
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	if err := db.AutoMigrate(&deviceRow{}, &taskRow{}); err != nil {
		return nil, fmt.Errorf("failed to migrate sqlite schema: %w", err)
	}

	log.Printf("SQLite store: Database connection established at %s", path)
	return &SQLiteStore{db: db}, nil
}

// Load rebuilds the snapshot from the devices and tasks tables
func (s *SQLiteStore) Load(ctx context.Context) (models.Snapshot, error) {
	var devices []deviceRow
	if err := s.db.WithContext(ctx).Find(&devices).Error; err != nil {
		return nil, fmt.Errorf("failed to load devices: %w", err)
	}
	var tasks []taskRow
	if err := s.db.WithContext(ctx).Order("device_id, kind, position").Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("failed to load tasks: %w", err)
	}

	snap := make(models.Snapshot, len(devices))
	for _, row := range devices {
		snap[row.ID] = models.Device{
			ID:            row.ID,
			Name:          row.Name,
			Type:          models.DeviceType(row.Type),
			Token:         row.Token,
			Online:        row.Online,
			LastSeenTs:    row.LastSeenTs,
			PowerState:    models.PowerState(row.PowerState),
			Shutdown:      row.Shutdown,
			Wakeup:        row.Wakeup,
			ShutdownTasks: []models.Task{},
			WakeupTasks:   []models.Task{},
		}
	}

	for _, row := range tasks {
		dev, ok := snap[row.DeviceID]
		if !ok {
			log.Printf("SQLite store: Skipping task %s for unknown device %s", row.ID, row.DeviceID)
			continue
		}
		kind, ok := models.ParseTaskKind(row.Kind)
		if !ok {
			log.Printf("SQLite store: Skipping task %s with unknown kind %q", row.ID, row.Kind)
			continue
		}
		list := dev.Tasks(kind)
		*list = append(*list, models.Task{
			ID:        row.ID,
			Hour:      row.Hour,
			Minute:    row.Minute,
			Active:    row.Active,
			CreatedAt: row.CreatedAt,
		})
		snap[row.DeviceID] = dev
	}
	return snap, nil
}

// Save replaces the stored registry with snap in a single transaction
func (s *SQLiteStore) Save(ctx context.Context, snap models.Snapshot) error {
	devices := make([]deviceRow, 0, len(snap))
	tasks := make([]taskRow, 0)
	for id, dev := range snap {
		devices = append(devices, deviceRow{
			ID:         id,
			Name:       dev.Name,
			Type:       string(dev.Type),
			Token:      dev.Token,
			Online:     dev.Online,
			LastSeenTs: dev.LastSeenTs,
			PowerState: string(dev.PowerState),
			Shutdown:   dev.Shutdown,
			Wakeup:     dev.Wakeup,
		})
		for _, kind := range models.TaskKinds() {
			for i, task := range *dev.Tasks(kind) {
				tasks = append(tasks, taskRow{
					ID:        task.ID,
					DeviceID:  id,
					Kind:      string(kind),
					Position:  i,
					Hour:      task.Hour,
					Minute:    task.Minute,
					Active:    task.Active,
					CreatedAt: task.CreatedAt,
				})
			}
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&taskRow{}).Error; err != nil {
			return err
		}
		if err := tx.Where("1 = 1").Delete(&deviceRow{}).Error; err != nil {
			return err
		}
		if len(devices) > 0 {
			if err := tx.Create(&devices).Error; err != nil {
				return err
			}
		}
		if len(tasks) > 0 {
			if err := tx.Create(&tasks).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("failed to access sqlite handle: %w", err)
	}
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close sqlite database: %w", err)
	}
	log.Println("SQLite store: Connection closed")
	return nil
}
