package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Post is a generated blog post owned by a user.
type Post struct {
	ID               string    `json:"id"`
	UserID           string    `json:"-"`
	YouTubeURL       string    `json:"youtube_url"`
	VideoID          string    `json:"video_id,omitempty"`
	Title            string    `json:"title"`
	Content          string    `json:"content"`
	TranscriptSource string    `json:"transcript_source,omitempty"`
	Model            string    `json:"model,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

const postColumns = `id, user_id, youtube_url, video_id, title, content, transcript_source, model, created_at, updated_at`

func scanPost(row interface{ Scan(...any) error }) (*Post, error) {
	var p Post
	var created, updated string
	err := row.Scan(&p.ID, &p.UserID, &p.YouTubeURL, &p.VideoID, &p.Title, &p.Content,
		&p.TranscriptSource, &p.Model, &created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	p.CreatedAt = parseTime(created)
	p.UpdatedAt = parseTime(updated)
	return &p, nil
}

// CreatePost stores p. ID and timestamps are assigned here.
func (s *Store) CreatePost(ctx context.Context, p *Post) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate post ID: %w", err)
	}
	now := time.Now().UTC()
	p.ID = id.String()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err = s.exec(ctx, s.db,
		`INSERT INTO posts (`+postColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.YouTubeURL, p.VideoID, p.Title, p.Content,
		p.TranscriptSource, p.Model, formatTime(now), formatTime(now),
	)
	if err != nil {
		return fmt.Errorf("insert post: %w", err)
	}
	return nil
}

// ListPosts returns userID's posts, newest first.
func (s *Store) ListPosts(ctx context.Context, userID string) ([]*Post, error) {
	rows, err := s.query(ctx,
		`SELECT `+postColumns+` FROM posts WHERE user_id = ? ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("query posts: %w", err)
	}
	defer rows.Close()

	posts := []*Post{}
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		posts = append(posts, p)
	}
	return posts, rows.Err()
}

// GetPost returns one of userID's posts.
func (s *Store) GetPost(ctx context.Context, userID, id string) (*Post, error) {
	p, err := scanPost(s.queryRow(ctx,
		`SELECT `+postColumns+` FROM posts WHERE id = ? AND user_id = ?`, id, userID))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("query post: %w", err)
	}
	return p, err
}

// PostUpdate holds optional edits. Nil fields are left alone.
type PostUpdate struct {
	Title   *string
	Content *string
}

// UpdatePost applies upd to one of userID's posts.
func (s *Store) UpdatePost(ctx context.Context, userID, id string, upd PostUpdate) (*Post, error) {
	p, err := s.GetPost(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if upd.Title != nil {
		p.Title = *upd.Title
	}
	if upd.Content != nil {
		p.Content = *upd.Content
	}
	p.UpdatedAt = time.Now().UTC()

	res, err := s.exec(ctx, s.db,
		`UPDATE posts SET title = ?, content = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		p.Title, p.Content, formatTime(p.UpdatedAt), id, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("update post: %w", err)
	}
	if err := requireRow(res); err != nil {
		return nil, err
	}
	return p, nil
}

// DeletePost removes one of userID's posts.
func (s *Store) DeletePost(ctx context.Context, userID, id string) error {
	res, err := s.exec(ctx, s.db, `DELETE FROM posts WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	return requireRow(res)
}
