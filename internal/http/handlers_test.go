package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/events"
	"github.com/example/ride-dispatch/internal/geocode"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/registry"
	"github.com/example/ride-dispatch/internal/rides"
	"github.com/example/ride-dispatch/internal/selector"
	"github.com/example/ride-dispatch/internal/service"
)

type testServer struct {
	*Server
	reg *registry.Registry
	bus *events.MemoryPublisher
}

func newTestServer() *testServer {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.New()
	bus := events.NewMemoryPublisher()
	machine := rides.NewMachine(rides.NewMemoryStore(), bus, reg, log)
	coord := dispatch.NewCoordinator(reg, selector.New(reg), machine, bus, log, 3, time.Second)
	svc := service.New(machine, coord, geocode.AddressSplitter{}, bus, nil, log)
	srv := NewServer(svc, reg, nil, dispatch.NewWSRegistry(), log)
	return &testServer{Server: srv, reg: reg, bus: bus}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	ts.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) waitForOffer(t *testing.T, driverID string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		for _, e := range ts.bus.OnChannel(events.ChannelDriverNotifications) {
			if e.EventType == "ride_request" && e.Data["driver_id"] == driverID {
				return
			}
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("no ride offer reached driver " + driverID)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestDriverLocationEndpoint(t *testing.T) {
	ts := newTestServer()

	rec := ts.do(t, "POST", "/internal/driver/locations", models.LocationUpdate{
		DriverID: "d1", City: "Lagos", Area: "Ikeja", Available: true,
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	d, err := ts.reg.Get("d1")
	if err != nil || d.City != "Lagos" || d.Area != "Ikeja" || !d.Available {
		t.Fatalf("registry after update: %+v err=%v", d, err)
	}

	rec = ts.do(t, "POST", "/internal/driver/locations", models.LocationUpdate{City: "Lagos"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing driver_id should 400, got %d", rec.Code)
	}
}

func TestRideRequestAndFetch(t *testing.T) {
	ts := newTestServer()
	ts.reg.UpdateLocation("d1", "Lagos", "Victoria Island", true)

	rec := ts.do(t, "POST", "/api/v1/rides/request", models.RideRequest{
		RiderID:     "rider1",
		Pickup:      models.Location{Address: "1 Adeola Odeku, Victoria Island, Lagos"},
		Destination: models.Location{Address: "23 Allen Avenue, Ikeja"},
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	created := decode[map[string]any](t, rec)
	rideID, _ := created["ride_id"].(string)
	if rideID == "" || created["status"] != "requested" {
		t.Fatalf("create response = %v", created)
	}

	rec = ts.do(t, "GET", "/api/v1/rides/"+rideID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("fetch status = %d", rec.Code)
	}
	ride := decode[models.Ride](t, rec)
	if ride.ID != rideID || ride.Pickup.City != "Lagos" {
		t.Fatalf("fetched ride = %+v", ride)
	}

	if rec := ts.do(t, "GET", "/api/v1/rides/missing", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown ride should 404, got %d", rec.Code)
	}
}

func TestRideRequestDispatchesAfterResponse(t *testing.T) {
	ts := newTestServer()
	ts.reg.UpdateLocation("d1", "Lagos", "Victoria Island", true)

	// Real connection: the request context is cancelled when the handler
	// returns, and dispatch must keep going regardless.
	srv := httptest.NewServer(ts)
	defer srv.Close()

	body, err := json.Marshal(models.RideRequest{
		RiderID:     "rider1",
		Pickup:      models.Location{City: "Lagos", Area: "Victoria Island", Address: "1 Adeola Odeku, Lagos"},
		Destination: models.Location{City: "Lagos", Area: "Ikeja", Address: "23 Allen Avenue, Lagos"},
	})
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(srv.URL+"/api/v1/rides/request", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	var created map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, body %v", resp.StatusCode, created)
	}
	rideID, _ := created["ride_id"].(string)
	if rideID == "" {
		t.Fatalf("create response = %v", created)
	}

	ts.waitForOffer(t, "d1")
	rec := ts.do(t, "POST", "/api/v1/rides/"+rideID+"/response", map[string]any{
		"driver_id": "d1", "accept": true,
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("response status = %d, body %s", rec.Code, rec.Body.String())
	}
	deadline := time.Now().Add(3 * time.Second)
	for {
		ride := decode[models.Ride](t, ts.do(t, "GET", "/api/v1/rides/"+rideID, nil))
		if ride.Status == models.StatusMatched && ride.DriverID == "d1" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("ride stuck in %s after handler returned", ride.Status)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestRideRequestValidation(t *testing.T) {
	ts := newTestServer()
	rec := ts.do(t, "POST", "/api/v1/rides/request", models.RideRequest{RiderID: "rider1"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestDriverResponseFlow(t *testing.T) {
	ts := newTestServer()
	ts.reg.UpdateLocation("d1", "Lagos", "Victoria Island", true)

	rec := ts.do(t, "POST", "/api/v1/rides/request", models.RideRequest{
		RiderID:     "rider1",
		Pickup:      models.Location{City: "Lagos", Area: "Victoria Island", Address: "1 Adeola Odeku, Lagos"},
		Destination: models.Location{City: "Lagos", Area: "Ikeja", Address: "23 Allen Avenue, Lagos"},
	})
	rideID := decode[map[string]any](t, rec)["ride_id"].(string)
	ts.waitForOffer(t, "d1")

	rec = ts.do(t, "POST", "/api/v1/rides/"+rideID+"/response", map[string]any{
		"driver_id": "d1", "accept": true,
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("response status = %d, body %s", rec.Code, rec.Body.String())
	}

	// Wait for the match to land, then a repeat answer is stale but still 200.
	deadline := time.Now().Add(3 * time.Second)
	for {
		rec = ts.do(t, "POST", "/api/v1/rides/"+rideID+"/response", map[string]any{
			"driver_id": "d1", "accept": true,
		})
		if rec.Code == http.StatusOK && decode[map[string]any](t, rec)["status"] == "stale" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("late response never went stale, last status %d body %s", rec.Code, rec.Body.String())
		}
		time.Sleep(2 * time.Millisecond)
	}

	rec = ts.do(t, "POST", "/api/v1/rides/"+rideID+"/response", map[string]any{"accept": true})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing driver_id should 400, got %d", rec.Code)
	}
}

func TestStatusUpdateEndpoint(t *testing.T) {
	ts := newTestServer()
	ts.reg.UpdateLocation("d1", "Lagos", "Victoria Island", true)

	rec := ts.do(t, "POST", "/api/v1/rides/request", models.RideRequest{
		RiderID:     "rider1",
		Pickup:      models.Location{City: "Lagos", Area: "Victoria Island", Address: "1 Adeola Odeku, Lagos"},
		Destination: models.Location{City: "Lagos", Area: "Ikeja", Address: "23 Allen Avenue, Lagos"},
	})
	rideID := decode[map[string]any](t, rec)["ride_id"].(string)
	ts.waitForOffer(t, "d1")
	ts.do(t, "POST", "/api/v1/rides/"+rideID+"/response", map[string]any{"driver_id": "d1", "accept": true})

	deadline := time.Now().Add(3 * time.Second)
	for {
		rec = ts.do(t, "GET", "/api/v1/rides/"+rideID, nil)
		if decode[models.Ride](t, rec).Status == models.StatusMatched {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("ride never matched")
		}
		time.Sleep(2 * time.Millisecond)
	}

	// completed is not reachable from matched
	rec = ts.do(t, "POST", "/api/v1/rides/"+rideID+"/status", map[string]any{"status": "completed"})
	if rec.Code != http.StatusConflict {
		t.Fatalf("skipping states should 409, got %d", rec.Code)
	}

	// matched and cancelled are not drivable through this endpoint
	rec = ts.do(t, "POST", "/api/v1/rides/"+rideID+"/status", map[string]any{"status": "matched"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("externally undrivable status should 400, got %d", rec.Code)
	}

	for _, status := range []string{"accepted", "pickup", "in_progress", "completed"} {
		rec = ts.do(t, "POST", "/api/v1/rides/"+rideID+"/status", map[string]any{"status": status})
		if rec.Code != http.StatusOK {
			t.Fatalf("step %s: status = %d, body %s", status, rec.Code, rec.Body.String())
		}
	}
	final := decode[models.Ride](t, ts.do(t, "GET", "/api/v1/rides/"+rideID, nil))
	if final.Status != models.StatusCompleted {
		t.Fatalf("final status = %s", final.Status)
	}

	if rec := ts.do(t, "POST", "/api/v1/rides/missing/status", map[string]any{"status": "accepted"}); rec.Code != http.StatusNotFound {
		t.Fatalf("unknown ride should 404, got %d", rec.Code)
	}
}

func TestCancelEndpoint(t *testing.T) {
	ts := newTestServer()
	ts.reg.UpdateLocation("d1", "Lagos", "Victoria Island", true)

	rec := ts.do(t, "POST", "/api/v1/rides/request", models.RideRequest{
		RiderID:     "rider1",
		Pickup:      models.Location{City: "Lagos", Area: "Victoria Island", Address: "1 Adeola Odeku, Lagos"},
		Destination: models.Location{City: "Lagos", Area: "Ikeja", Address: "23 Allen Avenue, Lagos"},
	})
	rideID := decode[map[string]any](t, rec)["ride_id"].(string)
	ts.waitForOffer(t, "d1")

	rec = ts.do(t, "POST", "/api/v1/rides/"+rideID+"/cancel", map[string]any{"reason": "change of plans"})
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := decode[models.Ride](t, rec); got.Status != models.StatusCancelled {
		t.Fatalf("cancelled ride = %+v", got)
	}

	if rec := ts.do(t, "POST", "/api/v1/rides/"+rideID+"/cancel", map[string]any{"reason": "again"}); rec.Code != http.StatusConflict {
		t.Fatalf("double cancel should 409, got %d", rec.Code)
	}
}
