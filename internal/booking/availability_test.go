package booking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parisSettings() Settings {
	return DefaultSettings()
}

func mustDate(t *testing.T, raw string) time.Time {
	t.Helper()
	d, err := ParseDate(raw)
	require.NoError(t, err)
	return d
}

func TestSettingsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr bool
	}{
		{name: "既定値", mutate: func(*Settings) {}},
		{name: "15分枠", mutate: func(s *Settings) { s.SlotMinutes = 15 }},
		{name: "120分枠", mutate: func(s *Settings) { s.SlotMinutes = 120 }},
		{name: "90分枠は不可", mutate: func(s *Settings) { s.SlotMinutes = 90 }, wantErr: true},
		{name: "4分枠は不可", mutate: func(s *Settings) { s.SlotMinutes = 4 }, wantErr: true},
		{name: "300分枠は不可", mutate: func(s *Settings) { s.SlotMinutes = 300 }, wantErr: true},
		{name: "猶予が負", mutate: func(s *Settings) { s.MinimumNoticeHours = -1 }, wantErr: true},
		{name: "予約可能日数が0", mutate: func(s *Settings) { s.MaxAdvanceBookingDays = 0 }, wantErr: true},
		{name: "営業時間が逆転", mutate: func(s *Settings) { s.OpeningHour, s.ClosingHour = 18, 9 }, wantErr: true},
		{name: "閉店が24時超", mutate: func(s *Settings) { s.ClosingHour = 25 }, wantErr: true},
		{name: "不明なタイムゾーン", mutate: func(s *Settings) { s.Timezone = "Mars/Olympus" }, wantErr: true},
		{name: "空のタイムゾーン", mutate: func(s *Settings) { s.Timezone = "" }, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := DefaultSettings()
			tt.mutate(&s)
			err := s.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGenerateSlots(t *testing.T) {
	// 2026-03-02は月曜日。パリは冬時間（UTC+1）。
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

	t.Run("平日は営業時間内の枠を返す", func(t *testing.T) {
		slots := GenerateSlots(parisSettings(), mustDate(t, "2026-03-04"), now)
		require.Len(t, slots, 9)
		assert.Equal(t, "09:00", slots[0].Time)
		assert.Equal(t, time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC), slots[0].Start.UTC())
		assert.Equal(t, "17:00", slots[8].Time)
		assert.Equal(t, time.Date(2026, 3, 4, 17, 0, 0, 0, time.UTC), slots[8].End.UTC())
	})

	t.Run("週末不可なら土日は空", func(t *testing.T) {
		s := parisSettings()
		s.AllowWeekendBookings = false
		assert.Empty(t, GenerateSlots(s, mustDate(t, "2026-03-07"), now))
		assert.Empty(t, GenerateSlots(s, mustDate(t, "2026-03-08"), now))
		assert.Len(t, GenerateSlots(s, mustDate(t, "2026-03-09"), now), 9)
	})

	t.Run("最短予約猶予より前の枠は除く", func(t *testing.T) {
		// now+24h = 2026-03-03 08:00 UTC = パリ09:00。開始がそれより後の枠のみ。
		slots := GenerateSlots(parisSettings(), mustDate(t, "2026-03-03"), now)
		require.Len(t, slots, 8)
		assert.Equal(t, "10:00", slots[0].Time)
	})

	t.Run("最大予約可能日数を超える枠は除く", func(t *testing.T) {
		s := parisSettings()
		s.MaxAdvanceBookingDays = 3
		// now+3日 = 2026-03-05 08:00 UTC = パリ09:00。開始がそれ以前の枠のみ。
		slots := GenerateSlots(s, mustDate(t, "2026-03-05"), now)
		require.Len(t, slots, 1)
		assert.Equal(t, "09:00", slots[0].Time)
		assert.Empty(t, GenerateSlots(s, mustDate(t, "2026-03-06"), now))
	})

	t.Run("営業終了を超える枠は作らない", func(t *testing.T) {
		s := parisSettings()
		s.SlotMinutes = 120
		s.ClosingHour = 17
		slots := GenerateSlots(s, mustDate(t, "2026-03-04"), now)
		require.Len(t, slots, 4)
		assert.Equal(t, "15:00", slots[3].Time)
	})

	t.Run("30分枠", func(t *testing.T) {
		s := parisSettings()
		s.SlotMinutes = 30
		slots := GenerateSlots(s, mustDate(t, "2026-03-04"), now)
		require.Len(t, slots, 18)
		assert.Equal(t, "09:30", slots[1].Time)
	})

	t.Run("夏時間切替日も現地時刻で枠を作る", func(t *testing.T) {
		// 2026-03-29にパリは夏時間（UTC+2）へ移行する。
		slots := GenerateSlots(parisSettings(), mustDate(t, "2026-03-29"), now)
		require.Len(t, slots, 9)
		assert.Equal(t, "09:00", slots[0].Time)
		assert.Equal(t, time.Date(2026, 3, 29, 7, 0, 0, 0, time.UTC), slots[0].Start.UTC())
	})
}

func TestMarkOccupied(t *testing.T) {
	base := time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC)
	slots := []Slot{
		{Start: base, End: base.Add(time.Hour)},
		{Start: base.Add(time.Hour), End: base.Add(2 * time.Hour)},
		{Start: base.Add(2 * time.Hour), End: base.Add(3 * time.Hour)},
	}

	t.Run("境界で接する予約は重ならない", func(t *testing.T) {
		busy := []Interval{{Start: base.Add(-time.Hour), End: base}}
		free, occupied := MarkOccupied(slots, busy)
		assert.Len(t, free, 3)
		assert.Empty(t, occupied)
	})

	t.Run("一部でも重なれば占有", func(t *testing.T) {
		busy := []Interval{{Start: base.Add(90 * time.Minute), End: base.Add(150 * time.Minute)}}
		free, occupied := MarkOccupied(slots, busy)
		require.Len(t, free, 1)
		assert.Equal(t, base, free[0].Start)
		assert.Len(t, occupied, 2)
	})

	t.Run("予約がなければ全て空き", func(t *testing.T) {
		free, occupied := MarkOccupied(slots, nil)
		assert.Len(t, free, 3)
		assert.NotNil(t, occupied)
		assert.Empty(t, occupied)
	})
}

func TestSummarize(t *testing.T) {
	base := time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC)
	slots := []Slot{
		{Start: base, End: base.Add(time.Hour)},
		{Start: base.Add(time.Hour), End: base.Add(2 * time.Hour)},
	}
	got := Summarize("2026-03-04", slots, []Interval{{Start: base, End: base.Add(time.Hour)}})
	assert.Equal(t, "2026-03-04", got.Date)
	assert.Equal(t, 2, got.TotalSlots)
	assert.Equal(t, 1, got.AvailableSlots)
	assert.Len(t, got.OccupiedSlots, 1)
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusConfirmed, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusCompleted, false},
		{StatusPending, StatusNoShow, false},
		{StatusConfirmed, StatusCompleted, true},
		{StatusConfirmed, StatusCancelled, true},
		{StatusConfirmed, StatusNoShow, true},
		{StatusConfirmed, StatusPending, false},
		{StatusCancelled, StatusConfirmed, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusNoShow, StatusConfirmed, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"→"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}
