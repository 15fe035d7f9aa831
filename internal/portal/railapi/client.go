// Package railapi is a typed client for the Indian Rail API plus the proxy
// handlers that expose it through the portal.
package railapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ErrNotConfigured is returned when the client has no API key.
var ErrNotConfigured = errors.New("rail api is not configured")

// DefaultBaseURL is the production Indian Rail API endpoint.
const DefaultBaseURL = "https://indianrailapi.com/api/v2"

// StationStop is one station entry on a train's route or live status.
type StationStop struct {
	Code          string `json:"stn_code"`
	Name          string `json:"stn_name"`
	ArrivalTime   string `json:"arrival_time,omitempty"`
	DepartureTime string `json:"departure_time,omitempty"`
	HaltTime      string `json:"halt_time,omitempty"`
	Distance      string `json:"distance,omitempty"`
	Delay         string `json:"delay,omitempty"`
	Platform      string `json:"platform,omitempty"`
	UpdatedAt     string `json:"updated_at,omitempty"`
}

// TrainStatus is the live status or route of one train.
type TrainStatus struct {
	TrainNumber     string        `json:"train_num"`
	TrainName       string        `json:"train_name"`
	From            StationStop   `json:"from_stn"`
	To              StationStop   `json:"to_stn"`
	RunningOn       string        `json:"running_on"`
	ChartPrepared   bool          `json:"chart_prepared"`
	CurrentLocation *StationStop  `json:"current_location,omitempty"`
	Stations        []StationStop `json:"stations"`
}

// StationTrain is one train listed at a station.
type StationTrain struct {
	TrainNumber   string `json:"train_num"`
	TrainName     string `json:"train_name"`
	ArrivalTime   string `json:"arrival_time,omitempty"`
	DepartureTime string `json:"departure_time,omitempty"`
	Delay         string `json:"delay,omitempty"`
	Platform      string `json:"platform,omitempty"`
}

// StationInfo is the detail record for one station.
type StationInfo struct {
	Code      string         `json:"stn_code"`
	Name      string         `json:"stn_name"`
	State     string         `json:"state"`
	Zone      string         `json:"zone"`
	Latitude  float64        `json:"latitude,omitempty"`
	Longitude float64        `json:"longitude,omitempty"`
	Trains    []StationTrain `json:"trains,omitempty"`
}

// PNRPassenger is one passenger on a PNR.
type PNRPassenger struct {
	SerialNumber  int    `json:"passenger_serial_number"`
	BookingStatus string `json:"booking_status"`
	CurrentStatus string `json:"current_status"`
	CoachPosition string `json:"coach_position,omitempty"`
	BerthNumber   string `json:"berth_number,omitempty"`
}

// PNRStatus is the booking status for one PNR.
type PNRStatus struct {
	PNRNumber       string         `json:"pnr_num"`
	TrainNumber     string         `json:"train_num"`
	TrainName       string         `json:"train_name"`
	JourneyDate     string         `json:"journey_date"`
	BoardingPoint   StationStop    `json:"boarding_point"`
	ReservationUpto StationStop    `json:"reservation_upto"`
	ChartPrepared   bool           `json:"chart_prepared"`
	Passengers      []PNRPassenger `json:"passengers"`
}

// APIError is a non-2xx response from the upstream API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("rail api error: status %d", e.StatusCode)
}

// Client calls the Indian Rail API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient builds a client. An empty baseURL falls back to the production
// endpoint; an empty apiKey leaves the client unconfigured.
func NewClient(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// Configured reports whether the client has an API key.
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// GetTrainStatus returns a train's live running status. date is optional
// (YYYY-MM-DD).
func (c *Client) GetTrainStatus(ctx context.Context, trainNumber, date string) (*TrainStatus, error) {
	params := url.Values{"train_num": {trainNumber}}
	if date != "" {
		params.Set("date", date)
	}
	var out TrainStatus
	if err := c.get(ctx, "/LiveTrainStatus", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetTrainRoute returns a train's full route.
func (c *Client) GetTrainRoute(ctx context.Context, trainNumber string) (*TrainStatus, error) {
	var out TrainStatus
	if err := c.get(ctx, "/TrainRoute", url.Values{"train_num": {trainNumber}}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetStationInfo returns details for one station.
func (c *Client) GetStationInfo(ctx context.Context, stationCode string) (*StationInfo, error) {
	var out StationInfo
	if err := c.get(ctx, "/StationDetails", url.Values{"stn_code": {stationCode}}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetTrainsAtStation returns trains passing through a station within the next
// N hours.
func (c *Client) GetTrainsAtStation(ctx context.Context, stationCode string, hours int) (*StationInfo, error) {
	if hours <= 0 {
		hours = 2
	}
	var out StationInfo
	params := url.Values{"stn_code": {stationCode}, "hours": {strconv.Itoa(hours)}}
	if err := c.get(ctx, "/TrainsAtStation", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetPNRStatus returns the booking status for a PNR.
func (c *Client) GetPNRStatus(ctx context.Context, pnr string) (*PNRStatus, error) {
	var out PNRStatus
	if err := c.get(ctx, "/PNRStatus", url.Values{"pnr_num": {pnr}}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SearchTrains returns trains between two stations. date is optional.
func (c *Client) SearchTrains(ctx context.Context, from, to, date string) ([]TrainStatus, error) {
	params := url.Values{"from_stn_code": {from}, "to_stn_code": {to}}
	if date != "" {
		params.Set("date", date)
	}
	var out []TrainStatus
	if err := c.get(ctx, "/TrainBetweenStations", params, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetAllStations returns the full station directory.
func (c *Client) GetAllStations(ctx context.Context) ([]StationInfo, error) {
	var out []StationInfo
	if err := c.get(ctx, "/AllStations", url.Values{}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) get(ctx context.Context, endpoint string, params url.Values, out any) error {
	if !c.Configured() {
		return ErrNotConfigured
	}

	params.Set("apikey", c.apiKey)
	reqURL := c.baseURL + endpoint + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("rail api request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode rail api response: %w", err)
	}
	return nil
}
