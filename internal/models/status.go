package models

import (
	"strings"

	"github.com/pkg/errors"
)

type Status string

const (
	StatusPending         Status = "pending"
	StatusSearching       Status = "searching"
	StatusDriverAssigned  Status = "driver_assigned"
	StatusArrivedPickup   Status = "arrived_pickup"
	StatusInTransit       Status = "in_transit"
	StatusArrivedDropoff  Status = "arrived_dropoff"
	StatusCompleted       Status = "completed"
	StatusDelivered       Status = "delivered"
	StatusCancelled       Status = "cancelled"
	StatusNotFoundTimeout Status = "not_found_timeout"
	StatusFailed          Status = "failed"
)

var ErrUnknownStatus = errors.New("unknown booking status")

// rankUnordered marks statuses that sit outside the forward order.
const rankUnordered = -1

var statusRank = map[Status]int{
	StatusPending:        0,
	StatusSearching:      1,
	StatusDriverAssigned: 2,
	StatusArrivedPickup:  3,
	StatusInTransit:      4,
	StatusArrivedDropoff: 5,
	StatusCompleted:      6,
	StatusDelivered:      6,
}

// Rank returns the position of s in the forward lifecycle order.
// cancelled, failed and not_found_timeout have no rank.
func (s Status) Rank() int {
	if r, ok := statusRank[s]; ok {
		return r
	}
	return rankUnordered
}

func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusDelivered, StatusCancelled, StatusNotFoundTimeout, StatusFailed:
		return true
	default:
		return false
	}
}

// IsAwaitingAgent reports whether the booking is still waiting for a driver/rider.
func (s Status) IsAwaitingAgent() bool {
	return s == StatusPending || s == StatusSearching
}

func (s Status) String() string { return string(s) }

// Бэкенд и сокет-сервер пишут статусы по-разному, приводим к одному набору.
var statusAliases = map[string]Status{
	"pending":         StatusPending,
	"searching":       StatusSearching,
	"driver_assigned": StatusDriverAssigned,
	"assigned":        StatusDriverAssigned,
	"accepted":        StatusDriverAssigned,
	"confirmed":       StatusDriverAssigned,
	"arrived_pickup":  StatusArrivedPickup,
	"reached_pickup":  StatusArrivedPickup,
	"driver_arrived":  StatusArrivedPickup,
	"arrived":         StatusArrivedPickup,
	"in_transit":      StatusInTransit,
	"in_progress":     StatusInTransit,
	"picked_up":       StatusInTransit,
	"on_the_way":      StatusInTransit,
	"arrived_dropoff": StatusArrivedDropoff,
	"reached_dropoff": StatusArrivedDropoff,
	"reached":         StatusArrivedDropoff,
	"completed":       StatusCompleted,
	"delivered":       StatusDelivered,
	"cancelled":       StatusCancelled,
	"canceled":        StatusCancelled,
	"failed":          StatusFailed,
	"error":           StatusFailed,
}

// ParseStatus maps a status string reported by the backend or the push channel
// onto Status. not_found_timeout is a local decision and is never parsed.
func ParseStatus(raw string) (Status, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.ReplaceAll(key, "-", "_")
	key = strings.ReplaceAll(key, " ", "_")
	if s, ok := statusAliases[key]; ok {
		return s, nil
	}
	return "", errors.Wrapf(ErrUnknownStatus, "%q", raw)
}
