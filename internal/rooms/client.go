// Package rooms talks to the room server's REST API: discovering rooms,
// creating them, and fetching the set of supported translation languages.
package rooms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 10 * time.Second

// Room describes one joinable room.
type Room struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Participants int    `json:"participants"`
}

// Language is one supported translation language.
type Language struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// fallbackLanguages is served when the language endpoint is unreachable, so
// the user can still pick a language and join.
var fallbackLanguages = []Language{
	{Code: "en", Name: "English"},
	{Code: "es", Name: "Spanish"},
	{Code: "fr", Name: "French"},
	{Code: "de", Name: "German"},
	{Code: "zh", Name: "Chinese"},
	{Code: "ja", Name: "Japanese"},
	{Code: "ar", Name: "Arabic"},
	{Code: "pt", Name: "Portuguese"},
	{Code: "ru", Name: "Russian"},
	{Code: "ko", Name: "Korean"},
}

// DefaultLanguages returns the built-in language list used when the server
// cannot be asked.
func DefaultLanguages() []Language {
	return append([]Language(nil), fallbackLanguages...)
}

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout sets the per-request timeout. Defaults to 10s.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// Client is a room server REST client. Safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the server at baseURL (scheme and host, no
// trailing slash required).
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ListRooms fetches the currently open rooms.
func (c *Client) ListRooms(ctx context.Context) ([]Room, error) {
	var rooms []Room
	if err := c.getJSON(ctx, "/api/rooms", &rooms); err != nil {
		return nil, fmt.Errorf("rooms: list: %w", err)
	}
	return rooms, nil
}

// CreateRoom creates a room with the given name and returns it.
func (c *Client) CreateRoom(ctx context.Context, name string) (Room, error) {
	body, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return Room{}, fmt.Errorf("rooms: encode create request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/rooms", bytes.NewReader(body))
	if err != nil {
		return Room{}, fmt.Errorf("rooms: build create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Room{}, fmt.Errorf("rooms: create %q: %w", name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return Room{}, fmt.Errorf("rooms: create %q: unexpected status %s", name, resp.Status)
	}

	var room Room
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&room); err != nil {
		return Room{}, fmt.Errorf("rooms: decode created room: %w", err)
	}
	return room, nil
}

// Languages fetches the supported translation languages. When the endpoint
// is unreachable or returns nothing usable, the built-in fallback list is
// returned instead so the client stays operable.
func (c *Client) Languages(ctx context.Context) []Language {
	var langs []Language
	if err := c.getJSON(ctx, "/api/languages", &langs); err != nil {
		slog.Warn("rooms: language fetch failed, using fallback list", "err", err)
		return DefaultLanguages()
	}
	if len(langs) == 0 {
		slog.Warn("rooms: server returned no languages, using fallback list")
		return DefaultLanguages()
	}
	return langs
}

// getJSON performs a GET and decodes the JSON response into out.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
