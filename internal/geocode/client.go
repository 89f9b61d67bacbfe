// Package geocode turns free-text place names into coordinates and back,
// against a Nominatim-compatible HTTP API.
package geocode

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/shiva/campusride/internal/model"
)

// maxBodyBytes bounds how much of an upstream response is read.
const maxBodyBytes = 1 << 20

// errDecode marks a response body that is not the expected JSON shape.
var errDecode = errors.New("undecodable geocoder response")

// StatusError is a non-2xx upstream reply.
type StatusError struct {
	Op   string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: upstream returned HTTP %d", e.Op, e.Code)
}

// Transient reports whether the same request may succeed later.
func (e *StatusError) Transient() bool {
	return e.Code >= 500 || e.Code == http.StatusTooManyRequests
}

// Upstream is one geocoding attempt without retry or caching.
type Upstream interface {
	Search(ctx context.Context, query string, limit int) ([]model.Place, error)
	Reverse(ctx context.Context, c model.Coordinate) (model.Place, error)
}

// Client performs single forward/reverse lookups against a Nominatim server.
type Client struct {
	BaseURL   string
	UserAgent string
	HTTP      *http.Client
}

// NewClient builds a client for baseURL, e.g. https://nominatim.openstreetmap.org.
// Per-attempt deadlines come from the caller's context.
func NewClient(baseURL, userAgent string) *Client {
	return &Client{
		BaseURL:   strings.TrimRight(baseURL, "/"),
		UserAgent: userAgent,
		HTTP:      &http.Client{},
	}
}

// nominatimPlace is one element of a /search reply or the whole /reverse reply.
type nominatimPlace struct {
	DisplayName string          `json:"display_name"`
	Lat         json.RawMessage `json:"lat"`
	Lon         json.RawMessage `json:"lon"`
	Error       string          `json:"error"`
}

// place converts the wire form, reporting false when the coordinates are
// missing, unparsable or out of range.
func (p nominatimPlace) place() (model.Place, bool) {
	lat, okLat := parseNumber(p.Lat)
	lon, okLon := parseNumber(p.Lon)
	out := model.Place{Label: strings.TrimSpace(p.DisplayName), Lat: lat, Lon: lon}
	if !okLat || !okLon || !out.Coordinate().Valid() {
		return model.Place{}, false
	}
	return out, true
}

// parseNumber accepts both "4.71" and 4.71; Nominatim sends strings.
func parseNumber(raw json.RawMessage) (float64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}
	var s string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, false
		}
	} else {
		s = string(raw)
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// Search calls /search and returns the candidates in upstream order.
func (c *Client) Search(ctx context.Context, query string, limit int) ([]model.Place, error) {
	params := url.Values{
		"format": {"json"},
		"q":      {query},
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var raw []nominatimPlace
	if err := c.get(ctx, "geocode search", "/search", params, &raw); err != nil {
		return nil, err
	}

	places := make([]model.Place, 0, len(raw))
	for _, r := range raw {
		if p, ok := r.place(); ok {
			places = append(places, p)
		}
	}
	if len(places) == 0 {
		return nil, fmt.Errorf("geocode search %q: %w", query, model.ErrNotFound)
	}
	return places, nil
}

// Reverse calls /reverse and returns the labelled point.
func (c *Client) Reverse(ctx context.Context, at model.Coordinate) (model.Place, error) {
	params := url.Values{
		"format": {"json"},
		"lat":    {strconv.FormatFloat(at.Lat, 'f', -1, 64)},
		"lon":    {strconv.FormatFloat(at.Lon, 'f', -1, 64)},
	}

	var raw nominatimPlace
	if err := c.get(ctx, "geocode reverse", "/reverse", params, &raw); err != nil {
		return model.Place{}, err
	}
	label := strings.TrimSpace(raw.DisplayName)
	if raw.Error != "" || label == "" {
		return model.Place{}, fmt.Errorf("geocode reverse (%.5f, %.5f): %w", at.Lat, at.Lon, model.ErrNotFound)
	}

	// Nominatim snaps to the nearest object; keep the caller's point when
	// the reply carries no usable coordinates.
	p, ok := raw.place()
	if !ok {
		p = model.Place{Label: label, Lat: at.Lat, Lon: at.Lon}
	}
	return p, nil
}

func (c *Client) get(ctx context.Context, op, path string, params url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("%s: build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return &StatusError{Op: op, Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%s: read body: %w", op, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: %w: %v", op, errDecode, err)
	}
	return nil
}
