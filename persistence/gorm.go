package persistence

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/PiyushMakhija26/secure-messaging/config"
	"github.com/PiyushMakhija26/secure-messaging/types"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ driver.Valuer = &datatypes.JSON{}

type GormPersist struct {
	db *gorm.DB
}

func NewGormPersister(cfg *config.Config) (Persister, error) {
	db, err := setupGormDB(cfg)
	if err != nil {
		return nil, err
	}
	return &GormPersist{db: db}, nil
}

func setupGormDB(cfg *config.Config) (*gorm.DB, error) {
	var dial gorm.Dialector
	switch cfg.PersistenceConfig.Type {
	case "gorm-postgres":
		dial = postgres.Open(cfg.PersistenceConfig.DSN)

	case "gorm-sqlite":
		dial = sqlite.Open(cfg.PersistenceConfig.DSN)

	default:
		return nil, fmt.Errorf("invalid gorm configuration")
	}
	db, err := gorm.Open(dial, &gorm.Config{})
	if err != nil {
		return nil, err
	}
	err = db.Migrator().AutoMigrate(&types.User{}, &types.Room{}, &types.Member{}, &types.ChatEvent{})
	if err != nil {
		return nil, err
	}
	return db, nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func (p *GormPersist) StoreUser(user types.User) error {
	return p.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&user).Error
}

func (p *GormPersist) GetUser(user *types.User) error {
	return notFound(p.db.First(user).Error)
}

func (p *GormPersist) GetUserByUsername(username string) (*types.User, error) {
	user := &types.User{}
	err := p.db.Where("username = ?", username).First(user).Error
	if err != nil {
		return nil, notFound(err)
	}
	return user, nil
}

func (p *GormPersist) GetUsers() ([]*types.User, error) {
	users := make([]*types.User, 0)
	err := p.db.Find(&users).Error
	return users, err
}

func (p *GormPersist) DeleteUser(user *types.User) error {
	return p.db.Delete(user).Error
}

func (p *GormPersist) StoreRoom(room types.Room) error {
	return p.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Omit("Members").Create(&room).Error
		if err != nil {
			return err
		}
		if err := tx.Where("room_id = ?", room.Id).Delete(&types.Member{}).Error; err != nil {
			return err
		}
		if len(room.Members) == 0 {
			return nil
		}
		return tx.Create(&room.Members).Error
	})
}

func (p *GormPersist) GetRoom(room *types.Room) error {
	return notFound(p.db.Preload("Members").First(room).Error)
}

func (p *GormPersist) GetRooms() ([]*types.Room, error) {
	rooms := make([]*types.Room, 0)
	err := p.db.Preload("Members").Find(&rooms).Error
	return rooms, err
}

func (p *GormPersist) GetRoomsByMember(userId string) ([]*types.Room, error) {
	roomIds := make([]string, 0)
	err := p.db.Model(&types.Member{}).Where("user_id = ?", userId).Pluck("room_id", &roomIds).Error
	if err != nil {
		return nil, err
	}
	rooms := make([]*types.Room, 0)
	if len(roomIds) == 0 {
		return rooms, nil
	}
	err = p.db.Preload("Members").Where("id IN ?", roomIds).Find(&rooms).Error
	return rooms, err
}

func (p *GormPersist) DeleteRoom(room *types.Room) error {
	return p.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("room_id = ?", room.Id).Delete(&types.ChatEvent{}).Error; err != nil {
			return err
		}
		if err := tx.Where("room_id = ?", room.Id).Delete(&types.Member{}).Error; err != nil {
			return err
		}
		return tx.Delete(room).Error
	})
}

func (p *GormPersist) StoreEvent(event *types.ChatEvent) error {
	return p.db.Clauses(clause.OnConflict{DoNothing: true}).Create(event).Error
}

func (p *GormPersist) RecentEvents(roomId string, limit int) ([]*types.ChatEvent, error) {
	if limit <= 0 {
		limit = -1 // cancels the limit clause
	}
	events := make([]*types.ChatEvent, 0)
	err := p.db.Where("room_id = ?", roomId).Order("created DESC").Limit(limit).Find(&events).Error
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events, nil
}

func (p *GormPersist) PurgeRoom(roomId string) error {
	return p.db.Where("room_id = ?", roomId).Delete(&types.ChatEvent{}).Error
}

func (p *GormPersist) SweepExpired(maxAge time.Duration) (int64, error) {
	res := p.db.Where("created < ?", time.Now().Add(-maxAge)).Delete(&types.ChatEvent{})
	return res.RowsAffected, res.Error
}

func (p *GormPersist) Close() error {
	return nil
}
