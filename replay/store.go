package replay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pierrec/lz4/v4"
	"github.com/rs/zerolog"
)

// Store modes.
const (
	ModeLocal  = "local"
	ModeRemote = "remote"
	ModeBoth   = "both"
)

const maxListEntries = 200

// StoreConfig wires the replay store from the environment.
type StoreConfig struct {
	Mode        string
	Dir         string
	Bucket      string
	SupabaseURL string
	SupabaseKey string
}

// Entry describes one stored replay.
type Entry struct {
	ID      string    `json:"id"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
}

// Store is a versioned replay blob store. Local files are lz4-compressed and
// written atomically; remote mode ships blobs to a Supabase storage bucket.
type Store struct {
	cfg    StoreConfig
	client *http.Client
	log    zerolog.Logger
}

// NewStore builds a store, defaulting to local mode in ./replays.
func NewStore(cfg StoreConfig, log zerolog.Logger) *Store {
	if cfg.Mode == "" {
		cfg.Mode = ModeLocal
	}
	if cfg.Dir == "" {
		cfg.Dir = "replays"
	}
	if cfg.Bucket == "" {
		cfg.Bucket = "replays"
	}
	return &Store{
		cfg:    cfg,
		client: &http.Client{Timeout: 15 * time.Second},
		log:    log.With().Str("component", "replay_store").Logger(),
	}
}

// SanitizeID strips everything except alphanumerics, underscore and hyphen so
// ids can never escape the replay directory.
func SanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' {
			return r
		}
		return -1
	}, id)
}

// Write stores a replay blob under id. In "both" mode a remote failure is
// swallowed after logging; in "remote" mode it is returned.
func (s *Store) Write(id string, data []byte) error {
	id = SanitizeID(id)
	if id == "" {
		return fmt.Errorf("replay id empty after sanitizing")
	}

	if s.cfg.Mode == ModeLocal || s.cfg.Mode == ModeBoth {
		if err := s.writeLocal(id, data); err != nil {
			return fmt.Errorf("write local replay %s: %w", id, err)
		}
	}

	if s.cfg.Mode == ModeRemote || s.cfg.Mode == ModeBoth {
		if err := s.writeRemote(id, data); err != nil {
			if s.cfg.Mode == ModeRemote {
				return fmt.Errorf("write remote replay %s: %w", id, err)
			}
			s.log.Warn().Err(err).Str("id", id).Msg("remote replay upload failed, local copy kept")
		}
	}
	return nil
}

// Read returns a replay blob, preferring the local copy.
func (s *Store) Read(id string) ([]byte, error) {
	id = SanitizeID(id)
	if s.cfg.Mode == ModeLocal || s.cfg.Mode == ModeBoth {
		data, err := s.readLocal(id)
		if err == nil {
			return data, nil
		}
		if s.cfg.Mode == ModeLocal {
			return nil, err
		}
	}
	return s.readRemote(id)
}

// List returns up to 200 entries ordered by modification time descending.
func (s *Store) List() ([]Entry, error) {
	if s.cfg.Mode == ModeRemote {
		return s.listRemote()
	}
	return s.listLocal()
}

func (s *Store) localPath(id string) string {
	return filepath.Join(s.cfg.Dir, id+".json.lz4")
}

func (s *Store) writeLocal(id string, data []byte) error {
	if err := os.MkdirAll(s.cfg.Dir, 0o755); err != nil {
		return err
	}
	path := s.localPath(id)
	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, compress(data), 0o644); err != nil {
		return err
	}
	// Keep the previous version around as .bak before replacing it.
	if prev, err := os.ReadFile(path); err == nil {
		if err := os.WriteFile(path+".bak", prev, 0o644); err != nil {
			s.log.Warn().Err(err).Str("id", id).Msg("replay backup copy failed")
		}
	}
	return os.Rename(tmp, path)
}

func (s *Store) readLocal(id string) ([]byte, error) {
	data, err := os.ReadFile(s.localPath(id))
	if err == nil {
		return decompress(data)
	}
	// Uncompressed replays from older builds.
	data, err2 := os.ReadFile(filepath.Join(s.cfg.Dir, id+".json"))
	if err2 == nil {
		return data, nil
	}
	return nil, err
}

func (s *Store) listLocal() ([]Entry, error) {
	dirEntries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		name := de.Name()
		if !strings.HasSuffix(name, ".json.lz4") && !strings.HasSuffix(name, ".json") {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		id := strings.TrimSuffix(strings.TrimSuffix(name, ".lz4"), ".json")
		entries = append(entries, Entry{ID: id, Size: info.Size(), ModTime: info.ModTime()})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ModTime.After(entries[j].ModTime) })
	if len(entries) > maxListEntries {
		entries = entries[:maxListEntries]
	}
	return entries, nil
}

func (s *Store) remoteURL(id string) string {
	return fmt.Sprintf("%s/storage/v1/object/%s/%s.json", strings.TrimRight(s.cfg.SupabaseURL, "/"), s.cfg.Bucket, id)
}

func (s *Store) writeRemote(id string, data []byte) error {
	if s.cfg.SupabaseURL == "" || s.cfg.SupabaseKey == "" {
		return fmt.Errorf("remote store not configured")
	}
	req, err := http.NewRequest(http.MethodPost, s.remoteURL(id), bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.SupabaseKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-upsert", "true")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("supabase upload status %d: %s", resp.StatusCode, body)
	}
	return nil
}

func (s *Store) readRemote(id string) ([]byte, error) {
	if s.cfg.SupabaseURL == "" || s.cfg.SupabaseKey == "" {
		return nil, fmt.Errorf("remote store not configured")
	}
	req, err := http.NewRequest(http.MethodGet, s.remoteURL(id), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.SupabaseKey)
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("supabase download status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (s *Store) listRemote() ([]Entry, error) {
	if s.cfg.SupabaseURL == "" || s.cfg.SupabaseKey == "" {
		return nil, fmt.Errorf("remote store not configured")
	}
	body, err := json.Marshal(map[string]interface{}{
		"prefix":    "",
		"limit":     maxListEntries,
		"sortBy":    map[string]string{"column": "updated_at", "order": "desc"},
		"offset":    0,
		"delimiter": "/",
	})
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/storage/v1/object/list/%s", strings.TrimRight(s.cfg.SupabaseURL, "/"), s.cfg.Bucket)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.SupabaseKey)
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("supabase list status %d", resp.StatusCode)
	}

	var objects []struct {
		Name      string    `json:"name"`
		UpdatedAt time.Time `json:"updated_at"`
		Metadata  struct {
			Size int64 `json:"size"`
		} `json:"metadata"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&objects); err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(objects))
	for _, o := range objects {
		entries = append(entries, Entry{
			ID:      strings.TrimSuffix(o.Name, ".json"),
			Size:    o.Metadata.Size,
			ModTime: o.UpdatedAt,
		})
	}
	return entries, nil
}

func compress(src []byte) []byte {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	w.Write(src)
	w.Close()
	return buf.Bytes()
}

func decompress(src []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(src))
	return io.ReadAll(r)
}
