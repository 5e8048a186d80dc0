package fake

import (
	"context"
	"errors"
	"testing"

	"github.com/BearBump/RideTrack/internal/integrations/backend"
	"github.com/BearBump/RideTrack/internal/models"
	"github.com/stretchr/testify/require"
)

func TestClient_ScriptRepeatsLastStep(t *testing.T) {
	c := New()
	boom := errors.New("boom")
	c.Script("b1", Step{Status: "searching"}, Step{Err: boom}, Step{Status: "driver_assigned"})

	res, err := c.GetStatus(context.Background(), models.BookingKindRide, "b1")
	require.NoError(t, err)
	require.Equal(t, "searching", res.Status)

	_, err = c.GetStatus(context.Background(), models.BookingKindRide, "b1")
	require.ErrorIs(t, err, boom)

	for i := 0; i < 3; i++ {
		res, err = c.GetStatus(context.Background(), models.BookingKindRide, "b1")
		require.NoError(t, err)
		require.Equal(t, "driver_assigned", res.Status)
	}
	require.Equal(t, 5, c.Calls("b1"))
}

func TestClient_CancelOverridesScript(t *testing.T) {
	c := New()
	created, err := c.CreateRide(context.Background(), backendRideReq())
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	require.NotNil(t, created.OTP)

	require.NoError(t, c.Cancel(context.Background(), models.BookingKindRide, created.ID))
	res, err := c.GetStatus(context.Background(), models.BookingKindRide, created.ID)
	require.NoError(t, err)
	require.Equal(t, "cancelled", res.Status)
	require.True(t, c.Cancelled(created.ID))
}

func TestClient_DemoScriptIsDeterministic(t *testing.T) {
	a, b := demoScript("ride-7"), demoScript("ride-7")
	require.Equal(t, len(a), len(b))
	require.Equal(t, a[len(a)-1].Status, b[len(b)-1].Status)
}

func backendRideReq() backend.CreateRideRequest {
	return backend.CreateRideRequest{VehicleType: "Sedan"}
}
