package messages

import (
	"errors"
	"fmt"
	"time"

	domain "github.com/example/team-chat/domain/chat"
	"github.com/example/team-chat/query"
	"gorm.io/gorm"
)

// ErrMessageNotFound is returned when a message does not exist.
var ErrMessageNotFound = errors.New("message not found")

// Columns lists the queryable fields of the messages collection.
var Columns = query.Columns{
	"id":              {Name: "id"},
	"text":            {Name: "text"},
	"date_created":    {Name: "date_created", Time: true},
	"user_created":    {Name: "user_created"},
	"user_created.id": {Name: "user_created"},
}

// Repository persists messages using GORM.
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new Repository.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts a message.
func (r *Repository) Create(msg *domain.Message) error {
	return r.db.Create(msg).Error
}

// FindByID finds a message by ID.
func (r *Repository) FindByID(id string) (*domain.Message, error) {
	var msg domain.Message
	result := r.db.First(&msg, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, result.Error
	}
	return &msg, nil
}

// Find runs a collection query. Without an explicit sort, rows come back in
// creation order.
func (r *Repository) Find(q query.Query) ([]domain.Message, error) {
	tx := r.db.Model(&domain.Message{})

	where, args, err := q.Filter.WhereSQL(Columns)
	if err != nil {
		return nil, err
	}
	if where != "" {
		tx = tx.Where(where, args...)
	}

	sortFields := q.Sort
	if len(sortFields) == 0 {
		sortFields = []string{"date_created"}
	}
	order, err := query.OrderSQL(sortFields, Columns)
	if err != nil {
		return nil, err
	}
	// id breaks ties so pagination is stable
	tx = tx.Order(order + ", id ASC")

	var msgs []domain.Message
	if err := tx.Limit(q.EffectiveLimit()).Offset(q.Offset).Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	return msgs, nil
}

// UpdateText changes the text of a message.
func (r *Repository) UpdateText(id, text string) error {
	result := r.db.Model(&domain.Message{}).Where("id = ?", id).Update("text", text)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// Delete removes a message.
func (r *Repository) Delete(id string) error {
	result := r.db.Delete(&domain.Message{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// LatestDateCreated returns the newest date_created, or the zero time for an
// empty collection.
func (r *Repository) LatestDateCreated() (time.Time, error) {
	var msg domain.Message
	err := r.db.Order("date_created DESC").Limit(1).Find(&msg).Error
	if err != nil {
		return time.Time{}, err
	}
	return msg.DateCreated, nil
}
