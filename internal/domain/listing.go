package domain

import "github.com/google/uuid"

// ListingSummary - краткие данные объявления для списка чатов.
// Сами объявления ведет другой сервис, здесь только чтение.
type ListingSummary struct {
	ID       uuid.UUID `json:"id"`
	OwnerID  uuid.UUID `json:"owner_id"`
	Title    string    `json:"title"`
	Price    int64     `json:"price"`
	ImageURL *string   `json:"image_url,omitempty"`
}
