package notification

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

// attachClient はWebSocket接続を持たないクライアントをHubに登録し、送信チャネルを返す。
func attachClient(t *testing.T, h *Hub, userID string) chan []byte {
	t.Helper()
	c := &client{hub: h, userID: userID, send: make(chan []byte, 8)}
	h.register(c)
	return c.send
}

func TestCreateDelivery(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("HIGH以上でメールアドレスがあればメールとプッシュを送る", func(t *testing.T) {
		t.Parallel()
		s, m := setupTestServer(t)
		pushed := attachClient(t, s.hub, "u1")

		n, decision, err := s.svc.Create(ctx, Input{
			UserID: "u1", Email: "owner@example.com", Name: "Owner",
			Category: CategoryReservation, Priority: PriorityHigh,
			Title: "Nouvelle réservation", Message: "Alice a réservé",
			Metadata: map[string]any{"appointment_id": "a1"},
		})
		if err != nil || n == nil || decision != DecisionDeliver {
			t.Fatalf("作成に失敗: n=%v, decision=%s, err=%v", n, decision, err)
		}
		var meta map[string]string
		if err := json.Unmarshal(n.Metadata, &meta); err != nil || meta["appointment_id"] != "a1" {
			t.Errorf("metadataが不正: %s", n.Metadata)
		}

		sent := m.messages()
		if len(sent) != 1 || sent[0].ToEmail != "owner@example.com" || sent[0].Subject != "Nouvelle réservation" {
			t.Errorf("メールが不正: %+v", sent)
		}

		select {
		case raw := <-pushed:
			var msg pushMessage
			if err := json.Unmarshal(raw, &msg); err != nil {
				t.Fatalf("プッシュメッセージのデコードに失敗: %v", err)
			}
			if msg.Type != pushTypeNotification || msg.Notification == nil || msg.Notification.ID != n.ID || !msg.Sound {
				t.Errorf("プッシュメッセージが不正: %+v", msg)
			}
		default:
			t.Error("プッシュされていません")
		}
	})

	t.Run("MEDIUMやメールアドレスなしではメールを送らない", func(t *testing.T) {
		t.Parallel()
		s, m := setupTestServer(t)
		for _, in := range []Input{
			{UserID: "u1", Email: "owner@example.com", Category: CategoryClient, Title: "t", Message: "m"},
			{UserID: "u1", Category: CategorySystem, Priority: PriorityUrgent, Title: "t", Message: "m"},
		} {
			if _, _, err := s.svc.Create(ctx, in); err != nil {
				t.Fatalf("作成に失敗: %v", err)
			}
		}
		if sent := m.messages(); len(sent) != 0 {
			t.Errorf("メールが送信された: %+v", sent)
		}
	})

	t.Run("チャネルを無効にすると配信しない", func(t *testing.T) {
		t.Parallel()
		s, m := setupTestServer(t)
		pushed := attachClient(t, s.hub, "u1")
		if _, err := s.svc.UpdatePreferences(ctx, "u1", PreferencesPatch{PushEnabled: ptr(false), EmailEnabled: ptr(false)}); err != nil {
			t.Fatalf("通知設定の更新に失敗: %v", err)
		}

		n, _, err := s.svc.Create(ctx, Input{UserID: "u1", Email: "owner@example.com", Category: CategorySecurity, Priority: PriorityUrgent, Title: "t", Message: "m"})
		if err != nil || n == nil {
			t.Fatalf("通知は保存される: n=%v, err=%v", n, err)
		}
		if len(pushed) != 0 || len(m.messages()) != 0 {
			t.Errorf("配信された: push=%d, mail=%d", len(pushed), len(m.messages()))
		}
	})

	t.Run("静音時間中は保存しない", func(t *testing.T) {
		t.Parallel()
		s, _ := setupTestServer(t)
		// testNowはパリの11:00
		if _, err := s.svc.UpdatePreferences(ctx, "u1", PreferencesPatch{
			QuietHoursEnabled: ptr(true),
			QuietHoursStart:   ptr("10:30"),
			QuietHoursEnd:     ptr("11:00"),
		}); err != nil {
			t.Fatalf("通知設定の更新に失敗: %v", err)
		}

		n, decision, err := s.svc.Create(ctx, Input{UserID: "u1", Category: CategorySystem, Priority: PriorityUrgent, Title: "t", Message: "m"})
		if err != nil || n != nil || decision != DecisionSuppressedQuietHours {
			t.Fatalf("抑止されていない: n=%v, decision=%s, err=%v", n, decision, err)
		}
		count, err := s.svc.UnreadCount(ctx, "u1")
		if err != nil || count != 0 {
			t.Errorf("抑止した通知が保存された: count=%d, err=%v", count, err)
		}
	})

	t.Run("不正な入力はInputError", func(t *testing.T) {
		t.Parallel()
		s, _ := setupTestServer(t)
		_, _, err := s.svc.Create(ctx, Input{UserID: "u1", Category: "WEATHER", Title: "t", Message: "m"})
		var inputErr *InputError
		if !errors.As(err, &inputErr) {
			t.Errorf("InputErrorではない: %v", err)
		}
	})
}

func TestOwnershipErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := setupTestServer(t)

	n, _, err := s.svc.Create(ctx, Input{UserID: "u1", Category: CategorySystem, Title: "t", Message: "m"})
	if err != nil {
		t.Fatalf("作成に失敗: %v", err)
	}
	if err := s.svc.MarkAsRead(ctx, "missing", "u1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ErrNotFoundではない: %v", err)
	}
	if err := s.svc.Delete(ctx, n.ID, "u2"); !errors.Is(err, ErrForbidden) {
		t.Errorf("ErrForbiddenではない: %v", err)
	}
	if err := s.svc.MarkAsRead(ctx, n.ID, "u1"); err != nil {
		t.Fatalf("既読処理に失敗: %v", err)
	}
	row, err := s.svc.queries.GetNotification(ctx, n.ID)
	if err != nil || !row.IsRead || row.ReadAt == nil || !row.ReadAt.Equal(testNow) {
		t.Errorf("既読状態が不正: row=%+v, err=%v", row, err)
	}
}

func TestCleanupExpired(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := setupTestServer(t)

	past := testNow.Add(-time.Second)
	future := testNow.Add(24 * time.Hour)
	for _, exp := range []*time.Time{&past, &future, nil} {
		if _, _, err := s.svc.Create(ctx, Input{UserID: "u1", Category: CategorySystem, Title: "t", Message: "m", ExpiresAt: exp}); err != nil {
			t.Fatalf("作成に失敗: %v", err)
		}
	}

	n, err := s.svc.CleanupExpired(ctx)
	if err != nil || n != 1 {
		t.Fatalf("削除件数が不正: n=%d, err=%v", n, err)
	}
	// 期限が来た通知は次の削除で消える
	s.svc.now = func() time.Time { return future.Add(time.Second) }
	if n, err := s.svc.CleanupExpired(ctx); err != nil || n != 1 {
		t.Errorf("削除件数が不正: n=%d, err=%v", n, err)
	}
}

func TestNewCleanerSchedule(t *testing.T) {
	t.Parallel()
	s, _ := setupTestServer(t)

	for _, schedule := range []string{"", "@every 10m", "*/5 * * * *"} {
		if _, err := NewCleaner(s.svc, schedule, s.log); err != nil {
			t.Errorf("%q: エラー: %v", schedule, err)
		}
	}
	if _, err := NewCleaner(s.svc, "every hour", s.log); err == nil {
		t.Error("不正なスケジュールでエラーにならない")
	}
}

func TestGetPreferencesCreatesDefaults(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := setupTestServer(t)

	p, err := s.svc.GetPreferences(ctx, "u9")
	if err != nil {
		t.Fatalf("取得に失敗: %v", err)
	}
	want := DefaultPreferences("u9", "Europe/Paris")
	want.UpdatedAt = p.UpdatedAt
	if p != want {
		t.Errorf("既定値が不正: got=%+v, want=%+v", p, want)
	}
	if _, err := s.svc.queries.GetPreference(ctx, "u9"); err != nil {
		t.Errorf("既定値が保存されていない: %v", err)
	}
}
