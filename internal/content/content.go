// Package content serves the site's static data: the news/media-mentions
// index, the video gallery, and the profile page. Everything is plain files
// in the content directory, loaded at startup and hot-reloaded on change.
package content

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/yuin/goldmark"
)

const (
	newsFile    = "news.json"
	videosFile  = "videos.json"
	profileFile = "profile.md"
)

// NewsItem is one press/media mention.
type NewsItem struct {
	Title  string `json:"title"`
	Outlet string `json:"outlet"`
	Date   string `json:"date"`
	URL    string `json:"url"`
}

// VideoItem is one entry in the video gallery.
type VideoItem struct {
	Title       string `json:"title"`
	YouTubeID   string `json:"youtubeId"`
	Description string `json:"description,omitempty"`
}

// Store holds the loaded site content behind a read lock.
type Store struct {
	mu          sync.RWMutex
	dir         string
	news        []NewsItem
	videos      []VideoItem
	profileHTML string
}

// NewStore loads content from dir. Missing files are not errors: the
// corresponding section is just empty.
func NewStore(dir string) (*Store, error) {
	s := &Store{dir: dir}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads all content files from disk.
func (s *Store) Reload() error {
	news, err := loadNews(filepath.Join(s.dir, newsFile))
	if err != nil {
		return err
	}
	videos, err := loadVideos(filepath.Join(s.dir, videosFile))
	if err != nil {
		return err
	}
	profile, err := loadProfile(filepath.Join(s.dir, profileFile))
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.news = news
	s.videos = videos
	s.profileHTML = profile
	s.mu.Unlock()
	return nil
}

// News returns the media-mentions index.
func (s *Store) News() []NewsItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.news
}

// Videos returns the video gallery entries.
func (s *Store) Videos() []VideoItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.videos
}

// ProfileHTML returns the profile page rendered to HTML.
func (s *Store) ProfileHTML() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.profileHTML
}

func loadNews(path string) ([]NewsItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var items []NewsItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return items, nil
}

func loadVideos(path string) ([]VideoItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var items []VideoItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return items, nil
}

// loadProfile converts the profile markdown to HTML using goldmark.
func loadProfile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read %s: %w", path, err)
	}

	var buf bytes.Buffer
	if err := goldmark.Convert(data, &buf); err != nil {
		return "", fmt.Errorf("render %s: %w", path, err)
	}
	return buf.String(), nil
}
