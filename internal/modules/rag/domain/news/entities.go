package news

import "time"

// Document is one ingested Vietnamese stock-market news article.
// Immutable after insert; a correction is re-ingested under the same id.
type Document struct {
	Id        string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Title     string    `gorm:"type:varchar(512)" json:"title"`
	Content   string    `gorm:"type:longtext" json:"content"`
	Link      string    `gorm:"type:varchar(1024)" json:"link"`
	Date      string    `gorm:"type:varchar(32);index" json:"date"`
	Source    string    `gorm:"type:varchar(128);index" json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

func (Document) TableName() string {
	return "news_documents"
}
