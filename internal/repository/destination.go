package repository

import (
	"time"

	"coldstore/internal/db"
	"coldstore/internal/model"
)

type DestinationRepository struct{}

func NewDestinationRepository() *DestinationRepository {
	return &DestinationRepository{}
}

func (r *DestinationRepository) Create(name string, dtype model.DestinationType, bucket, remotePath string) (model.Destination, error) {
	dest := model.Destination{
		Name:       name,
		Type:       dtype,
		Bucket:     bucket,
		RemotePath: remotePath,
	}

	return dest, db.DB.Create(&dest).Error
}

func (r *DestinationRepository) GetAll() ([]model.Destination, error) {
	var dests []model.Destination
	return dests, db.DB.Order("name").Find(&dests).Error
}

func (r *DestinationRepository) GetByName(name string) (model.Destination, error) {
	var dest model.Destination
	return dest, db.DB.Where("name = ?", name).First(&dest).Error
}

// TouchLastBackup records a fully successful run across every source.
func (r *DestinationRepository) TouchLastBackup(id uint) error {
	now := time.Now()
	return db.DB.Model(&model.Destination{}).
		Where("id = ?", id).
		Update("last_backup_at", &now).Error
}
