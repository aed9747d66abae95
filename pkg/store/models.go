package store

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"github.com/srinadh239/blogs/pkg/domain"
)

// GORM models used for persistence.
type BlogPostModel struct {
	ID       string `gorm:"primaryKey"`
	Title    string `gorm:"not null"`
	Content  string `gorm:"type:text;not null"`
	AuthorID string `gorm:"not null;index"`
	// Seq breaks created_at ties in insertion order.
	Seq       int64     `gorm:"autoIncrement;uniqueIndex;not null"`
	CreatedAt time.Time `gorm:"not null;index"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (BlogPostModel) TableName() string { return "blog_posts" }

type ProfileModel struct {
	ID          string `gorm:"primaryKey"`
	Email       string
	DisplayName string
	Metadata    datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt   time.Time      `gorm:"not null"`
	UpdatedAt   time.Time      `gorm:"not null"`
}

func (ProfileModel) TableName() string { return "profiles" }

type UserModel struct {
	ID           string         `gorm:"primaryKey"`
	Email        string         `gorm:"uniqueIndex;not null"`
	PasswordHash string         `gorm:"not null"`
	Metadata     datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt    time.Time      `gorm:"not null"`
	UpdatedAt    time.Time      `gorm:"not null"`
}

func (UserModel) TableName() string { return "users" }

func postToModel(p domain.Post) BlogPostModel {
	return BlogPostModel{
		ID:        p.ID,
		Title:     p.Title,
		Content:   p.Content,
		AuthorID:  p.AuthorID,
		CreatedAt: p.CreatedAt,
		UpdatedAt: p.UpdatedAt,
	}
}

func postFromModel(m BlogPostModel) domain.Post {
	return domain.Post{
		ID:        m.ID,
		Title:     m.Title,
		Content:   m.Content,
		AuthorID:  m.AuthorID,
		CreatedAt: m.CreatedAt.UTC(),
		UpdatedAt: m.UpdatedAt.UTC(),
	}
}

func profileToModel(p domain.Profile) ProfileModel {
	return ProfileModel{
		ID:          p.ID,
		Email:       p.Email,
		DisplayName: p.DisplayName,
		Metadata:    encodeMetadata(p.Metadata),
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func profileFromModel(m ProfileModel) domain.Profile {
	return domain.Profile{
		ID:          m.ID,
		Email:       m.Email,
		DisplayName: m.DisplayName,
		Metadata:    decodeMetadata(m.Metadata),
		CreatedAt:   m.CreatedAt.UTC(),
		UpdatedAt:   m.UpdatedAt.UTC(),
	}
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		Metadata:     encodeMetadata(u.Metadata),
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		Metadata:     decodeMetadata(m.Metadata),
		CreatedAt:    m.CreatedAt.UTC(),
		UpdatedAt:    m.UpdatedAt.UTC(),
	}
}

func encodeMetadata(meta map[string]string) datatypes.JSON {
	if len(meta) == 0 {
		return datatypes.JSON("{}")
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(raw)
}

func decodeMetadata(raw datatypes.JSON) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	var meta map[string]string
	if err := json.Unmarshal(raw, &meta); err != nil || len(meta) == 0 {
		return nil
	}
	return meta
}
