package booking

import (
	"net/http"
	"testing"

	"github.com/nao1215/tenantdesk/pkg/middleware"
)

func TestBookingSettings(t *testing.T) {
	s := setupTestServer(t)
	admin := memberToken(t, "t1", middleware.RoleAdmin)

	w := doJSON(t, s, http.MethodGet, "/api/v1/booking/settings", admin, nil)
	expectStatus(t, w, http.StatusOK)
	var got Settings
	decode(t, w, &got)
	if got != DefaultSettings() {
		t.Errorf("既定値が返っていない: %+v", got)
	}

	w = doJSON(t, s, http.MethodPut, "/api/v1/booking/settings", memberToken(t, "t1", middleware.RoleEditor), map[string]any{"slot_minutes": 30})
	expectStatus(t, w, http.StatusForbidden)

	w = doJSON(t, s, http.MethodPut, "/api/v1/booking/settings", admin, map[string]any{"slot_minutes": 90})
	expectStatus(t, w, http.StatusBadRequest)

	w = doJSON(t, s, http.MethodPut, "/api/v1/booking/settings", admin, map[string]any{
		"slot_minutes":           30,
		"allow_weekend_bookings": false,
		"timezone":               "Asia/Tokyo",
	})
	expectStatus(t, w, http.StatusOK)

	w = doJSON(t, s, http.MethodGet, "/api/v1/booking/settings", admin, nil)
	decode(t, w, &got)
	want := DefaultSettings()
	want.SlotMinutes = 30
	want.AllowWeekendBookings = false
	want.Timezone = "Asia/Tokyo"
	if got != want {
		t.Errorf("更新が反映されていない: got=%+v, want=%+v", got, want)
	}

	// 別テナントは既定値のまま
	w = doJSON(t, s, http.MethodGet, "/api/v1/booking/settings", memberToken(t, "t2", middleware.RoleViewer), nil)
	decode(t, w, &got)
	if got != DefaultSettings() {
		t.Errorf("別テナントの設定が変わっている: %+v", got)
	}
}

func TestAvailabilityEndpoints(t *testing.T) {
	s := setupTestServer(t)
	tok := memberToken(t, "t1", middleware.RoleEditor)
	bookTestAppointment(t, s, tok, "Alice", at(9, 0), at(10, 30))

	w := doJSON(t, s, http.MethodGet, "/api/v1/booking/availability?date=2026-03-04", tok, nil)
	expectStatus(t, w, http.StatusOK)
	var day DaySummary
	decode(t, w, &day)
	// 09:00〜10:30 UTCはパリの10:00と11:00の枠に重なる
	if day.AvailableSlots != 7 || len(day.OccupiedSlots) != 2 {
		t.Errorf("空き状況が不正: %+v", day)
	}

	w = doJSON(t, s, http.MethodGet, "/api/v1/booking/availability", tok, nil)
	expectStatus(t, w, http.StatusBadRequest)

	w = doJSON(t, s, http.MethodPost, "/api/v1/booking/availability", tok, map[string]any{
		"dates": []string{"2026-03-04", "not-a-date", "2026-03-05"},
	})
	expectStatus(t, w, http.StatusOK)
	var batch map[string]DaySummary
	decode(t, w, &batch)
	if len(batch) != 2 {
		t.Fatalf("不正な日付が除かれていない: %v", batch)
	}
	if batch["2026-03-05"].AvailableSlots != 9 || batch["2026-03-04"].AvailableSlots != 7 {
		t.Errorf("日付ごとの空き状況が不正: %+v", batch)
	}
}
