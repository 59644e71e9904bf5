package notification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestPriorityAtLeast(t *testing.T) {
	t.Parallel()

	assert.True(t, PriorityUrgent.AtLeast(PriorityHigh))
	assert.True(t, PriorityHigh.AtLeast(PriorityHigh))
	assert.False(t, PriorityMedium.AtLeast(PriorityHigh))
	assert.False(t, Priority("CRITICAL").AtLeast(PriorityLow))
	assert.Equal(t, -1, Priority("").Rank())
}

func TestCategoryEnabled(t *testing.T) {
	t.Parallel()

	p := DefaultPreferences("u1", "UTC")
	for _, cat := range []Category{CategoryReservation, CategoryClient, CategorySEO, CategorySystem, CategoryContent, CategorySecurity, CategoryUser} {
		assert.True(t, CategoryEnabled(p, cat), cat)
	}

	p.System = false
	assert.False(t, CategoryEnabled(p, CategorySystem))
	assert.False(t, CategoryEnabled(p, CategoryUser), "USERはsystemの設定に従う")
	assert.True(t, CategoryEnabled(p, Category("OTHER")))

	p.Reservations = false
	assert.False(t, CategoryEnabled(p, CategoryReservation))
}

func TestInQuietHours(t *testing.T) {
	t.Parallel()

	quiet := func(start, end, tz string) Preferences {
		p := DefaultPreferences("u1", tz)
		p.QuietHoursEnabled = true
		p.QuietHoursStart = start
		p.QuietHoursEnd = end
		return p
	}
	utc := func(h, m int) time.Time { return time.Date(2026, 1, 15, h, m, 0, 0, time.UTC) }

	tests := []struct {
		name string
		p    Preferences
		now  time.Time
		want bool
	}{
		{"無効", func() Preferences { p := quiet("22:00", "07:00", "UTC"); p.QuietHoursEnabled = false; return p }(), utc(23, 0), false},
		{"開始が空", quiet("", "07:00", "UTC"), utc(3, 0), false},
		{"日付をまたぐ区間の夜", quiet("22:00", "07:00", "UTC"), utc(23, 30), true},
		{"日付をまたぐ区間の朝", quiet("22:00", "07:00", "UTC"), utc(6, 59), true},
		{"開始時刻ちょうど", quiet("22:00", "07:00", "UTC"), utc(22, 0), true},
		{"終了時刻ちょうど", quiet("22:00", "07:00", "UTC"), utc(7, 0), true},
		{"日付をまたぐ区間の外", quiet("22:00", "07:00", "UTC"), utc(7, 1), false},
		{"日中の区間内", quiet("12:00", "14:00", "UTC"), utc(13, 0), true},
		{"日中の区間外", quiet("12:00", "14:00", "UTC"), utc(14, 1), false},
		// 1月のパリはUTC+1。21:30 UTCは22:30。
		{"タイムゾーンで変換", quiet("22:00", "07:00", "Europe/Paris"), utc(21, 30), true},
		{"不明なタイムゾーンはUTC", quiet("22:00", "07:00", "Mars/Olympus"), utc(21, 30), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, InQuietHours(tt.p, tt.now))
		})
	}
}

func TestEvaluate(t *testing.T) {
	t.Parallel()

	night := time.Date(2026, 1, 15, 23, 0, 0, 0, time.UTC)
	p := DefaultPreferences("u1", "UTC")
	p.QuietHoursEnabled = true
	p.QuietHoursStart = "22:00"
	p.QuietHoursEnd = "07:00"

	assert.Equal(t, DecisionSuppressedQuietHours, Evaluate(p, CategoryClient, night))
	assert.Equal(t, DecisionDeliver, Evaluate(p, CategoryClient, night.Add(-3*time.Hour)))

	p.Clients = false
	assert.Equal(t, DecisionSuppressedCategory, Evaluate(p, CategoryClient, night), "カテゴリ設定を先に判定する")
	assert.False(t, Evaluate(p, CategoryClient, night).Delivered())
}

func TestValidatePreferencesUpdate(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidatePreferencesUpdate(PreferencesPatch{}))
	require.NoError(t, ValidatePreferencesUpdate(PreferencesPatch{
		QuietHoursStart: ptr("22:00"),
		QuietHoursEnd:   ptr(""),
		Timezone:        ptr("Asia/Tokyo"),
	}))

	for name, patch := range map[string]PreferencesPatch{
		"時が範囲外":     {QuietHoursStart: ptr("24:00")},
		"分が範囲外":     {QuietHoursEnd: ptr("07:60")},
		"桁不足":       {QuietHoursStart: ptr("7:00")},
		"不明なタイムゾーン": {Timezone: ptr("Mars/Olympus")},
		"空のタイムゾーン":  {Timezone: ptr(" ")},
	} {
		assert.Error(t, ValidatePreferencesUpdate(patch), name)
	}
}

func TestPreferencesPatchApply(t *testing.T) {
	t.Parallel()

	base := DefaultPreferences("u1", "Europe/Paris")
	got := PreferencesPatch{
		EmailEnabled:      ptr(false),
		SEO:               ptr(false),
		QuietHoursEnabled: ptr(true),
		QuietHoursStart:   ptr("21:00"),
		Timezone:          ptr(" Asia/Tokyo "),
	}.Apply(base)

	assert.False(t, got.EmailEnabled)
	assert.False(t, got.SEO)
	assert.True(t, got.PushEnabled, "指定しないフィールドは変更しない")
	assert.True(t, got.QuietHoursEnabled)
	assert.Equal(t, "21:00", got.QuietHoursStart)
	assert.Equal(t, "", got.QuietHoursEnd)
	assert.Equal(t, "Asia/Tokyo", got.Timezone)
	assert.True(t, base.EmailEnabled, "元の設定は変更しない")
}
