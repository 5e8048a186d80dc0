package restv1

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/BearBump/RideTrack/internal/integrations/backend"
	"github.com/BearBump/RideTrack/internal/models"
	"github.com/pkg/errors"
)

type Paths struct {
	RideStatus   string `yaml:"ride_status"`
	ParcelStatus string `yaml:"parcel_status"`
	CreateRide   string `yaml:"create_ride"`
	BookParcel   string `yaml:"book_parcel"`
	RideCancel   string `yaml:"ride_cancel"`
	ParcelCancel string `yaml:"parcel_cancel"`
}

func DefaultPaths() Paths {
	return Paths{
		RideStatus:   "/api/v1/new/status/%s",
		ParcelStatus: "/api/v1/parcel/status/%s",
		CreateRide:   "/api/v1/new/new-ride",
		BookParcel:   "/api/v1/parcel/book-parcel",
		RideCancel:   "/api/v1/new/cancel-request/%s",
		ParcelCancel: "/api/v1/parcel/cancel-request/%s",
	}
}

type Client struct {
	baseURL string
	tokens  backend.TokenSource
	paths   Paths
	httpc   *http.Client
}

type Option func(*Client)

func WithPaths(p Paths) Option {
	return func(c *Client) {
		def := DefaultPaths()
		if p.RideStatus == "" {
			p.RideStatus = def.RideStatus
		}
		if p.ParcelStatus == "" {
			p.ParcelStatus = def.ParcelStatus
		}
		if p.CreateRide == "" {
			p.CreateRide = def.CreateRide
		}
		if p.BookParcel == "" {
			p.BookParcel = def.BookParcel
		}
		if p.RideCancel == "" {
			p.RideCancel = def.RideCancel
		}
		if p.ParcelCancel == "" {
			p.ParcelCancel = def.ParcelCancel
		}
		c.paths = p
	}
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpc = h }
}

func New(baseURL string, tokens backend.TokenSource, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:3100"
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		paths:   DefaultPaths(),
		httpc: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

type geoPoint struct {
	Coordinates []float64 `json:"coordinates"`
	Latitude    *float64  `json:"latitude"`
	Longitude   *float64  `json:"longitude"`
}

func (g *geoPoint) point() *models.Point {
	if g == nil {
		return nil
	}
	if len(g.Coordinates) >= 2 {
		return &models.Point{Lat: g.Coordinates[1], Lng: g.Coordinates[0]}
	}
	if g.Latitude != nil && g.Longitude != nil {
		return &models.Point{Lat: *g.Latitude, Lng: *g.Longitude}
	}
	return nil
}

type vehicleInfo struct {
	VehicleName   string `json:"vehicleName"`
	VehicleNumber string `json:"VehicleNumber"`
}

type respAgent struct {
	ID       string       `json:"_id"`
	Name     string       `json:"name"`
	Phone    flexString   `json:"phone"`
	Number   flexString   `json:"number"`
	Vehicle  *vehicleInfo `json:"rideVehicleInfo"`
	Location *geoPoint    `json:"location"`
}

func (a *respAgent) agent() *models.Agent {
	if a == nil || (a.ID == "" && a.Name == "") {
		return nil
	}
	out := &models.Agent{ID: a.ID, Name: a.Name, Phone: string(a.Phone)}
	if out.Phone == "" {
		out.Phone = string(a.Number)
	}
	if a.Vehicle != nil {
		out.Vehicle = strings.TrimSpace(a.Vehicle.VehicleName + " " + a.Vehicle.VehicleNumber)
	}
	return out
}

type respDetails struct {
	ID        string                     `json:"_id"`
	Driver    *respAgent                 `json:"driver"`
	Rider     *respAgent                 `json:"rider"`
	OTP       flexString                 `json:"otp"`
	RideOTP   flexString                 `json:"ride_otp"`
	RideOtp   flexString                 `json:"RideOtp"`
	Pricing   map[string]json.RawMessage `json:"pricing"`
	Fare      map[string]json.RawMessage `json:"fare"`
	UpdatedAt *time.Time                 `json:"updatedAt"`
}

type statusBody struct {
	Status      string          `json:"status"`
	Message     string          `json:"message"`
	RideDetails json.RawMessage `json:"rideDetails"`
	Data        json.RawMessage `json:"data"`
}

func (c *Client) GetStatus(ctx context.Context, kind models.BookingKind, id string) (backend.StatusResult, error) {
	path := c.paths.RideStatus
	if kind == models.BookingKindParcel {
		path = c.paths.ParcelStatus
	}

	var rb statusBody
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf(path, url.PathEscape(id)), nil, &rb); err != nil {
		return backend.StatusResult{}, err
	}

	res := backend.StatusResult{
		Status:  rb.Status,
		Message: rb.Message,
	}
	raw := rb.RideDetails
	if len(raw) == 0 || string(raw) == "null" {
		raw = rb.Data
	}
	if len(raw) == 0 || string(raw) == "null" {
		return res, nil
	}
	res.Details = raw

	var d respDetails
	if err := json.Unmarshal(raw, &d); err != nil {
		return backend.StatusResult{}, errors.Wrap(err, "decode ride details")
	}
	agent := d.Driver
	if agent == nil {
		agent = d.Rider
	}
	res.Agent = agent.agent()
	if agent != nil {
		res.Location = agent.Location.point()
	}
	for _, otp := range []flexString{d.RideOTP, d.OTP, d.RideOtp} {
		if otp != "" {
			s := string(otp)
			res.OTP = &s
			break
		}
	}
	res.Fare = fareOf(d.Pricing)
	if len(res.Fare) == 0 {
		res.Fare = fareOf(d.Fare)
	}
	res.At = d.UpdatedAt
	return res, nil
}

type createBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    struct {
		RideID     string     `json:"rideId"`
		BookingID  string     `json:"bookingId"`
		Parcel     string     `json:"parcel"`
		ID         string     `json:"_id"`
		OTP        flexString `json:"otp"`
		RideOTP    flexString `json:"ride_otp"`
		RideStatus string     `json:"ride_status"`
		Status     string     `json:"status"`
	} `json:"data"`
}

func (c *Client) CreateRide(ctx context.Context, req backend.CreateRideRequest) (backend.Created, error) {
	body := map[string]any{
		"vehicleType":    req.VehicleType,
		"pickupLocation": latLng(req.Pickup.Point),
		"dropLocation":   latLng(req.Dropoff.Point),
		"pick_desc":      req.Pickup.Address,
		"drop_desc":      req.Dropoff.Address,
		"fare":           fareBody(req.Fare, req.Currency),
		"fcmToken":       req.DeviceToken,
		"paymentMethod":  req.PaymentMethod,
	}
	return c.create(ctx, c.paths.CreateRide, body)
}

func (c *Client) BookParcel(ctx context.Context, req backend.BookParcelRequest) (backend.Created, error) {
	body := map[string]any{
		"vehicleType":    req.VehicleType,
		"pickupLocation": latLng(req.Pickup.Point),
		"dropLocation":   latLng(req.Dropoff.Point),
		"pickupAddress":  req.Pickup.Address,
		"dropAddress":    req.Dropoff.Address,
		"weight":         req.WeightKg,
		"description":    req.Description,
		"receiverName":   req.ReceiverName,
		"receiverPhone":  req.ReceiverPhone,
		"fare":           fareBody(req.Fare, ""),
		"fcmToken":       req.DeviceToken,
		"paymentMethod":  req.PaymentMethod,
	}
	return c.create(ctx, c.paths.BookParcel, body)
}

func (c *Client) create(ctx context.Context, path string, body any) (backend.Created, error) {
	var rb createBody
	if err := c.do(ctx, http.MethodPost, path, body, &rb); err != nil {
		return backend.Created{}, err
	}
	id := firstNonEmpty(rb.Data.RideID, rb.Data.BookingID, rb.Data.Parcel, rb.Data.ID)
	if !rb.Success || id == "" {
		msg := rb.Message
		if msg == "" {
			msg = "invalid response from server when creating booking"
		}
		return backend.Created{}, errors.New(msg)
	}
	out := backend.Created{
		ID:      id,
		Status:  firstNonEmpty(rb.Data.RideStatus, rb.Data.Status),
		Message: rb.Message,
	}
	if otp := firstNonEmpty(string(rb.Data.RideOTP), string(rb.Data.OTP)); otp != "" {
		out.OTP = &otp
	}
	return out, nil
}

func (c *Client) Cancel(ctx context.Context, kind models.BookingKind, id string) error {
	path := c.paths.RideCancel
	if kind == models.BookingKindParcel {
		path = c.paths.ParcelCancel
	}
	return c.do(ctx, http.MethodPost, fmt.Sprintf(path, url.PathEscape(id)), struct{}{}, nil)
}

type errBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return errors.Wrap(err, "marshal request")
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.Wrap(err, "new request")
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		tok, err := c.tokens.Token(ctx)
		if err != nil {
			return errors.Wrap(err, "get token")
		}
		if tok == "" {
			return backend.ErrUnauthorized
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return backend.ErrUnauthorized
	}
	if resp.StatusCode/100 != 2 {
		var eb errBody
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&eb)
		return &backend.HTTPError{StatusCode: resp.StatusCode, Message: firstNonEmpty(eb.Message, eb.Error)}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode")
	}
	return nil
}

// flexString accepts both JSON strings and numbers (OTPs and phones come as either).
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

func fareOf(m map[string]json.RawMessage) models.Fare {
	if len(m) == 0 {
		return nil
	}
	out := make(models.Fare, len(m))
	for k, raw := range m {
		var v float64
		if err := json.Unmarshal(raw, &v); err == nil {
			out[k] = v
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				out[k] = f
			}
		}
	}
	return out
}

func fareBody(f models.Fare, currency string) map[string]any {
	out := make(map[string]any, len(f)+1)
	for k, v := range f {
		out[k] = v
	}
	if currency != "" {
		out["currency"] = currency
	}
	return out
}

func latLng(p models.Point) map[string]float64 {
	return map[string]float64{"latitude": p.Lat, "longitude": p.Lng}
}

func firstNonEmpty(ss ...string) string {
	for _, s := range ss {
		if s != "" {
			return s
		}
	}
	return ""
}
