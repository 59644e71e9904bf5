package booking

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	bookingdb "github.com/nao1215/tenantdesk/internal/booking/db"
	"github.com/nao1215/tenantdesk/pkg/config"
	"github.com/nao1215/tenantdesk/pkg/database"
	"github.com/nao1215/tenantdesk/pkg/httpclient"
	"github.com/nao1215/tenantdesk/pkg/logger"
)

// concurrentWriters は同時に書き込むゴルーチン数。
const concurrentWriters = 40

// setupFileBackedServer は複数接続を持つWALモードのファイルDBでサーバーを構築する。
func setupFileBackedServer(t *testing.T) *Server {
	t.Helper()

	sqlDB, err := database.OpenSQLite(filepath.Join(t.TempDir(), "booking.db"))
	if err != nil {
		t.Fatalf("SQLiteファイルの接続に失敗: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	if err := initSchema(sqlDB); err != nil {
		t.Fatalf("スキーマ初期化に失敗: %v", err)
	}
	s := newServer(sqlDB, &config.Config{Port: "0", JWTSecret: testSecret}, logger.NewNop(),
		dependencies{tenants: httpclient.New("http://127.0.0.1:0")})
	s.now = func() time.Time { return testNow }
	return s
}

// TestBookAppointmentConcurrent は同じ時間帯への同時予約で1件だけが成功することを検証する。
func TestBookAppointmentConcurrent(t *testing.T) {
	t.Parallel()
	s := setupFileBackedServer(t)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok       int
		conflict int
		others   []error
	)
	start := make(chan struct{})
	for i := range concurrentWriters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := s.BookAppointment(t.Context(), "t1", BookingRequest{
				ClientName: fmt.Sprintf("Client %d", i),
				StartTime:  at(10, 0),
				EndTime:    at(11, 0),
				Status:     StatusConfirmed,
				Source:     SourcePublic,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrSlotConflict):
				conflict++
			default:
				others = append(others, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if len(others) != 0 {
		t.Fatalf("想定外のエラーが発生: %v", others)
	}
	if ok != 1 || conflict != concurrentWriters-1 {
		t.Errorf("成功1件・競合%d件であるべき: ok=%d conflict=%d", concurrentWriters-1, ok, conflict)
	}

	appts, err := s.queries.ListAppointments(t.Context(), bookingdb.ListAppointmentsParams{TenantID: "t1"})
	if err != nil {
		t.Fatalf("予約一覧の取得に失敗: %v", err)
	}
	if len(appts) != 1 {
		t.Errorf("予約は1件のみ保存されるべき: got %d", len(appts))
	}
}

// TestUpdateAppointmentIfFreeConcurrent は別々の予約を同じ時間帯へ同時に移動した場合に1件だけが成功することを検証する。
func TestUpdateAppointmentIfFreeConcurrent(t *testing.T) {
	t.Parallel()
	s := setupFileBackedServer(t)

	appts := make([]bookingdb.Appointment, 0, concurrentWriters)
	base := at(0, 0).Add(-48 * time.Hour)
	for i := range concurrentWriters {
		a, err := s.BookAppointment(t.Context(), "t1", BookingRequest{
			ClientName: fmt.Sprintf("Client %d", i),
			StartTime:  base.Add(time.Duration(i) * time.Hour),
			EndTime:    base.Add(time.Duration(i)*time.Hour + 30*time.Minute),
			Status:     StatusConfirmed,
			Source:     SourceAdmin,
		})
		if err != nil {
			t.Fatalf("準備用の予約作成に失敗: %v", err)
		}
		appts = append(appts, a)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		updated int
		others  []error
	)
	start := make(chan struct{})
	for _, a := range appts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			done, err := s.queries.UpdateAppointmentIfFree(t.Context(), bookingdb.UpdateAppointmentParams{
				ID:         a.ID,
				TenantID:   a.TenantID,
				ClientName: a.ClientName,
				StartTime:  at(14, 0),
				EndTime:    at(15, 0),
				Now:        testNow,
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				others = append(others, err)
				return
			}
			if done {
				updated++
			}
		}()
	}
	close(start)
	wg.Wait()

	if len(others) != 0 {
		t.Fatalf("想定外のエラーが発生: %v", others)
	}
	if updated != 1 {
		t.Errorf("移動できる予約は1件のみであるべき: got %d", updated)
	}

	moved := 0
	for _, a := range appts {
		got, err := s.queries.GetAppointment(t.Context(), "t1", a.ID)
		if err != nil {
			t.Fatalf("予約の取得に失敗: %v", err)
		}
		if got.StartTime.Equal(at(14, 0)) {
			moved++
		}
	}
	if moved != 1 {
		t.Errorf("14:00に移動した予約は1件のみであるべき: got %d", moved)
	}
}
