package booking

import (
	"errors"
	"fmt"
	"time"
	_ "time/tzdata"
)

// Settings はテナントの予約受付設定。
type Settings struct {
	MinimumNoticeHours    int    `json:"minimum_notice_hours"`
	MaxAdvanceBookingDays int    `json:"max_advance_booking_days"`
	AllowWeekendBookings  bool   `json:"allow_weekend_bookings"`
	SlotMinutes           int    `json:"slot_minutes"`
	OpeningHour           int    `json:"opening_hour"`
	ClosingHour           int    `json:"closing_hour"`
	Timezone              string `json:"timezone"`
}

// DefaultSettings は予約設定が未登録のテナントに適用する既定値を返す。
func DefaultSettings() Settings {
	return Settings{
		MinimumNoticeHours:    24,
		MaxAdvanceBookingDays: 30,
		AllowWeekendBookings:  true,
		SlotMinutes:           60,
		OpeningHour:           9,
		ClosingHour:           18,
		Timezone:              "Europe/Paris",
	}
}

// Validate は設定値の整合性を検証する。
func (s Settings) Validate() error {
	if s.MinimumNoticeHours < 0 {
		return errors.New("minimum_notice_hoursは0以上で指定してください")
	}
	if s.MaxAdvanceBookingDays <= 0 {
		return errors.New("max_advance_booking_daysは1以上で指定してください")
	}
	if s.SlotMinutes < 5 || s.SlotMinutes > 240 || (60%s.SlotMinutes != 0 && s.SlotMinutes%60 != 0) {
		return errors.New("slot_minutesは5〜240分で、60の約数または60の倍数を指定してください")
	}
	if s.OpeningHour < 0 || s.ClosingHour > 24 || s.OpeningHour >= s.ClosingHour {
		return errors.New("営業時間は0 <= opening_hour < closing_hour <= 24で指定してください")
	}
	if _, err := time.LoadLocation(s.Timezone); err != nil || s.Timezone == "" {
		return fmt.Errorf("不明なタイムゾーンです: %s", s.Timezone)
	}
	return nil
}

// Location は設定のタイムゾーンを返す。読み込めない場合はUTC。
func (s Settings) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil || s.Timezone == "" {
		return time.UTC
	}
	return loc
}

// Slot は予約可能な時間枠。
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	// Time はテナントのタイムゾーンでの開始時刻（HH:MM）。
	Time string `json:"time"`
}

// Interval は予約が占有する時間帯。
type Interval struct {
	Start time.Time
	End   time.Time
}

// Overlaps は半開区間[Start, End)同士が重なるかを返す。
func (i Interval) Overlaps(start, end time.Time) bool {
	return start.Before(i.End) && end.After(i.Start)
}

// DayBounds はdateの日付について、テナントのタイムゾーンでの0時から翌日0時までを返す。
func DayBounds(s Settings, date time.Time) (time.Time, time.Time) {
	loc := s.Location()
	y, m, d := date.Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// GenerateSlots はdateの日付について予約受付中の時間枠を生成する。
// 週末不可の場合の土日は空。枠は営業開始からslot_minutes刻みで、終了が営業終了を超えない。
// 開始がnow+最短予約猶予より後、かつnow+最大予約可能日数以内の枠のみ返す。
func GenerateSlots(s Settings, date time.Time, now time.Time) []Slot {
	slots := []Slot{}
	loc := s.Location()
	y, m, d := date.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, loc)
	if !s.AllowWeekendBookings && (day.Weekday() == time.Saturday || day.Weekday() == time.Sunday) {
		return slots
	}
	if s.SlotMinutes <= 0 {
		return slots
	}

	closing := time.Date(y, m, d, s.ClosingHour, 0, 0, 0, loc)
	earliest := now.Add(time.Duration(s.MinimumNoticeHours) * time.Hour)
	latest := now.AddDate(0, 0, s.MaxAdvanceBookingDays)
	step := time.Duration(s.SlotMinutes) * time.Minute

	for k := 0; ; k++ {
		start := time.Date(y, m, d, s.OpeningHour, k*s.SlotMinutes, 0, 0, loc)
		end := start.Add(step)
		if end.After(closing) {
			break
		}
		if !start.After(earliest) || start.After(latest) {
			continue
		}
		slots = append(slots, Slot{Start: start, End: end, Time: start.Format("15:04")})
	}
	return slots
}

// MarkOccupied は時間枠を、busyのいずれかと重なる枠と空いている枠に分ける。
func MarkOccupied(slots []Slot, busy []Interval) (free, occupied []Slot) {
	free = []Slot{}
	occupied = []Slot{}
	for _, sl := range slots {
		taken := false
		for _, b := range busy {
			if b.Overlaps(sl.Start, sl.End) {
				taken = true
				break
			}
		}
		if taken {
			occupied = append(occupied, sl)
		} else {
			free = append(free, sl)
		}
	}
	return free, occupied
}

// DaySummary は1日分の空き状況。
type DaySummary struct {
	Date           string `json:"date"`
	TotalSlots     int    `json:"total_slots"`
	AvailableSlots int    `json:"available_slots"`
	Slots          []Slot `json:"slots"`
	OccupiedSlots  []Slot `json:"occupied_slots"`
}

// Summarize は生成した時間枠と占有時間帯から1日分の空き状況を組み立てる。
func Summarize(date string, slots []Slot, busy []Interval) DaySummary {
	free, occupied := MarkOccupied(slots, busy)
	return DaySummary{
		Date:           date,
		TotalSlots:     len(slots),
		AvailableSlots: len(free),
		Slots:          free,
		OccupiedSlots:  occupied,
	}
}

// dateLayout は日付パラメータの形式。
const dateLayout = "2006-01-02"

// ParseDate はYYYY-MM-DD形式の日付を解釈する。
func ParseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, errors.New("dateパラメータが必要です")
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, errors.New("dateはYYYY-MM-DD形式で指定してください")
	}
	return t, nil
}
