// Package profile fetches player display profiles from the key/value store
// with a TTL cache. Lookups are best-effort: a slow or failing upstream must
// never delay a join past the hard timeout.
package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// FetchTimeout is the hard cap on one profile lookup; on expiry the join
// proceeds with defaults.
const FetchTimeout = 1200 * time.Millisecond

const cacheTTL = 5 * time.Minute

// Profile is the subset of the stored profile the server cares about.
type Profile struct {
	Address        string `json:"address"`
	Name           string `json:"name"`
	ProfilePicture string `json:"profilePicture"`
}

// Config wires the service from the SUPABASE_* environment.
type Config struct {
	SupabaseURL string
	SupabaseKey string
}

type cached struct {
	profile Profile
	at      time.Time
}

// Service fetches profiles keyed by wallet address.
type Service struct {
	cfg    Config
	client *http.Client
	log    zerolog.Logger

	mu    sync.Mutex
	cache map[string]cached
}

// NewService builds the service. An empty config yields a service that always
// returns defaults.
func NewService(cfg Config, log zerolog.Logger) *Service {
	return &Service{
		cfg:    cfg,
		client: &http.Client{Timeout: FetchTimeout},
		log:    log.With().Str("component", "profile").Logger(),
		cache:  make(map[string]cached),
	}
}

// Fetch returns the profile for an address, or a default profile on any
// failure. The context is capped at FetchTimeout.
func (s *Service) Fetch(ctx context.Context, address string) Profile {
	fallback := Profile{Address: address}
	if s.cfg.SupabaseURL == "" || s.cfg.SupabaseKey == "" {
		return fallback
	}
	key := strings.ToLower(address)

	s.mu.Lock()
	if c, ok := s.cache[key]; ok && time.Since(c.at) < cacheTTL {
		s.mu.Unlock()
		return c.profile
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, FetchTimeout)
	defer cancel()

	p, err := s.fetch(ctx, address)
	if err != nil {
		s.log.Debug().Err(err).Str("address", address).Msg("profile fetch failed, using defaults")
		return fallback
	}
	s.mu.Lock()
	s.cache[key] = cached{profile: p, at: time.Now()}
	s.mu.Unlock()
	return p
}

func (s *Service) fetch(ctx context.Context, address string) (Profile, error) {
	endpoint := fmt.Sprintf("%s/rest/v1/profiles?address=eq.%s&select=address,name,profilePicture",
		strings.TrimRight(s.cfg.SupabaseURL, "/"), url.QueryEscape(strings.ToLower(address)))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Profile{}, err
	}
	req.Header.Set("apikey", s.cfg.SupabaseKey)
	req.Header.Set("Authorization", "Bearer "+s.cfg.SupabaseKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return Profile{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Profile{}, fmt.Errorf("profile fetch status %d", resp.StatusCode)
	}

	var rows []Profile
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return Profile{}, err
	}
	if len(rows) == 0 {
		return Profile{}, fmt.Errorf("no profile for %s", address)
	}
	return rows[0], nil
}
