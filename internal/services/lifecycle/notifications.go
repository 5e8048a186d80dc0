package lifecycle

import "github.com/BearBump/RideTrack/internal/models"

const (
	levelSuccess = "success"
	levelInfo    = "info"
	levelError   = "error"
)

type text struct {
	title, body, level string
}

var rideTexts = map[models.Status]text{
	models.StatusDriverAssigned:  {"Driver Assigned!", "Your ride is on the way.", levelSuccess},
	models.StatusCompleted:       {"Ride Completed!", "Thank you for riding with us.", levelSuccess},
	models.StatusDelivered:       {"Ride Completed!", "Thank you for riding with us.", levelSuccess},
	models.StatusCancelled:       {"Ride Cancelled", "Your ride has been cancelled.", levelInfo},
	models.StatusFailed:          {"Booking Failed", "Something went wrong with your booking. Please try again.", levelError},
	models.StatusNotFoundTimeout: {"No Drivers Found", "We couldn't find a driver for you at this moment. Please try again later.", levelError},
}

var parcelTexts = map[models.Status]text{
	models.StatusDriverAssigned:  {"Rider Assigned!", "A rider has accepted your parcel.", levelSuccess},
	models.StatusCompleted:       {"Parcel Delivered!", "Your parcel has been delivered.", levelSuccess},
	models.StatusDelivered:       {"Parcel Delivered!", "Your parcel has been delivered.", levelSuccess},
	models.StatusCancelled:       {"Parcel Cancelled", "Your parcel request has been cancelled.", levelInfo},
	models.StatusFailed:          {"Parcel Error", "Something went wrong with your parcel request. Please try again.", levelError},
	models.StatusNotFoundTimeout: {"No Riders Found", "We couldn't find a rider for your parcel right now. Please try again later.", levelError},
}

// notification builds the user-facing message for the booking's current status.
// A server-supplied message replaces the default body.
func notification(b models.Booking) *models.Notification {
	texts := rideTexts
	if b.Kind == models.BookingKindParcel {
		texts = parcelTexts
	}
	status := b.Status
	if status.Rank() > models.StatusDriverAssigned.Rank() && !status.IsTerminal() {
		status = models.StatusDriverAssigned
	}
	t, ok := texts[status]
	if !ok {
		return nil
	}
	body := t.body
	if b.Message != "" {
		body = b.Message
	}
	return &models.Notification{
		BookingID:   b.ID,
		DeviceToken: b.DeviceToken,
		Title:       t.title,
		Body:        body,
		Level:       t.level,
		Status:      b.Status,
	}
}

func abortNotification(b models.Booking, reason models.EndReason) *models.Notification {
	if reason != models.EndAuthFailed {
		return nil
	}
	return &models.Notification{
		BookingID:   b.ID,
		DeviceToken: b.DeviceToken,
		Title:       "Authentication Error",
		Body:        "Please log in again.",
		Level:       levelError,
		Status:      b.Status,
	}
}
