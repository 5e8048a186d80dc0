package fake

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/BearBump/RideTrack/internal/integrations/backend"
	"github.com/BearBump/RideTrack/internal/models"
)

// Step is one scripted answer of the status endpoint.
type Step struct {
	Status   string
	Message  string
	Err      error
	Agent    *models.Agent
	Location *models.Point
	OTP      *string
}

// Client is an in-process backend for tests and local runs. Bookings without
// an explicit script get a demo script derived from their ID: every fifth
// booking never finds a driver, the rest go all the way to completion.
type Client struct {
	mu        sync.Mutex
	scripts   map[string][]Step
	pos       map[string]int
	calls     map[string]int
	cancelled map[string]bool
	seq       int
	now       func() time.Time
}

func New() *Client {
	return &Client{
		scripts:   make(map[string][]Step),
		pos:       make(map[string]int),
		calls:     make(map[string]int),
		cancelled: make(map[string]bool),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Script sets the answers for id. The last step repeats once the script is exhausted.
func (c *Client) Script(id string, steps ...Step) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scripts[id] = steps
	c.pos[id] = 0
}

func (c *Client) Calls(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[id]
}

func (c *Client) Cancelled(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled[id]
}

func (c *Client) GetStatus(ctx context.Context, kind models.BookingKind, id string) (backend.StatusResult, error) {
	if err := ctx.Err(); err != nil {
		return backend.StatusResult{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.calls[id]++
	now := c.now()
	if c.cancelled[id] {
		return backend.StatusResult{Status: "cancelled", Message: "Booking cancelled by user", At: &now}, nil
	}

	steps, ok := c.scripts[id]
	if !ok {
		steps = demoScript(id)
		c.scripts[id] = steps
	}
	if len(steps) == 0 {
		return backend.StatusResult{Status: "pending", At: &now}, nil
	}
	i := c.pos[id]
	if i >= len(steps) {
		i = len(steps) - 1
	} else {
		c.pos[id] = i + 1
	}
	s := steps[i]
	if s.Err != nil {
		return backend.StatusResult{}, s.Err
	}
	return backend.StatusResult{
		Status:   s.Status,
		Message:  s.Message,
		At:       &now,
		Agent:    s.Agent,
		OTP:      s.OTP,
		Location: s.Location,
	}, nil
}

func (c *Client) CreateRide(ctx context.Context, req backend.CreateRideRequest) (backend.Created, error) {
	return c.create("ride")
}

func (c *Client) BookParcel(ctx context.Context, req backend.BookParcelRequest) (backend.Created, error) {
	return c.create("parcel")
}

func (c *Client) create(prefix string) (backend.Created, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	id := fmt.Sprintf("%s-%d", prefix, c.seq)
	otp := fmt.Sprintf("%04d", hash(id)%10000)
	return backend.Created{ID: id, OTP: &otp, Status: "searching", Message: "Searching for drivers..."}, nil
}

func (c *Client) Cancel(ctx context.Context, kind models.BookingKind, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled[id] = true
	return nil
}

func demoScript(id string) []Step {
	if hash(id)%5 == 0 {
		return []Step{{Status: "searching"}}
	}
	agent := &models.Agent{ID: "drv-" + id, Name: "Demo Driver", Phone: "9000000000", Vehicle: "Swift DL01AB1234"}
	otp := fmt.Sprintf("%04d", hash(id)%10000)
	return []Step{
		{Status: "searching"},
		{Status: "searching"},
		{Status: "driver_assigned", Agent: agent, OTP: &otp},
		{Status: "driver_arrived", Agent: agent},
		{Status: "in_progress", Agent: agent},
		{Status: "in_progress", Agent: agent},
		{Status: "completed", Message: "Thank you for riding with us."},
	}
}

func hash(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}

var _ backend.Client = (*Client)(nil)
