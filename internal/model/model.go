package model

import "time"

// Chat is a chat session known to the chat directory.
type Chat struct {
	ID        string    `json:"id" gorm:"primaryKey;column:id" bson:"_id"`
	Title     string    `json:"title" gorm:"column:title" bson:"title"`
	CreatedOn time.Time `json:"createdOn" gorm:"column:created_on" bson:"created_on"`
}

// TableName pins the gorm table name.
func (Chat) TableName() string { return "chats" }

// MemorySourceType identifies where an imported document came from.
type MemorySourceType string

const (
	MemorySourceFile MemorySourceType = "File"
	MemorySourceURL  MemorySourceType = "Url"
)

// MemorySource tracks one document imported into a chat's memory. These rows
// belong to the legacy layout and are retired by the memory migration.
type MemorySource struct {
	ID         string           `json:"id" gorm:"primaryKey;column:id" bson:"_id"`
	ChatID     string           `json:"chatId" gorm:"column:chat_id;index" bson:"chat_id"`
	Name       string           `json:"name" gorm:"column:name" bson:"name"`
	Hyperlink  string           `json:"hyperlink,omitempty" gorm:"column:hyperlink" bson:"hyperlink,omitempty"`
	SourceType MemorySourceType `json:"sourceType" gorm:"column:source_type" bson:"source_type"`
	SharedBy   string           `json:"sharedBy" gorm:"column:shared_by" bson:"shared_by"`
	CreatedOn  time.Time        `json:"createdOn" gorm:"column:created_on" bson:"created_on"`
	Size       int64            `json:"size" gorm:"column:size" bson:"size"`
	Tokens     int64            `json:"tokens" gorm:"column:tokens" bson:"tokens"`
}

// TableName pins the gorm table name.
func (MemorySource) TableName() string { return "memory_sources" }
