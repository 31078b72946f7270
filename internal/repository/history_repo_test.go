package repository

import (
	"context"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"headset_monitor/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
)

func ctx(t *testing.T) context.Context {
	t.Helper()
	c, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return c
}

type argFunc func(v driver.Value) bool

func (f argFunc) Match(v driver.Value) bool { return f(v) }

func TestHistoryAppend_DefaultsTimestampToNow(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	repo := NewHistorySQLite(db)

	before := time.Now().UTC().UnixMilli()
	recent := argFunc(func(v driver.Value) bool {
		ms, ok := v.(int64)
		return ok && ms >= before && ms <= time.Now().UTC().UnixMilli()
	})

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO battery_history")).
		WithArgs("hs1", "desk-pc", recent, 55, false, true, false).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = repo.Append(ctx(t), models.HistoryPoint{
		DeviceID: "hs1", Hostname: "desk-pc", BatteryLevel: 55, IsInCall: true,
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("mock expectations: %v", err)
	}
}

func TestHistoryAppend_DBErrorIsSurfaced(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	defer db.Close()

	boom := errors.New("io error")
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO battery_history")).WillReturnError(boom)

	err = NewHistorySQLite(db).Append(ctx(t), models.HistoryPoint{Timestamp: time.Now()})
	if !errors.Is(err, boom) {
		t.Fatalf("expected %v, got %v", boom, err)
	}
}

func TestHistoryList_BuildsFiltersAndScansAscending(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		deviceID string
		since    time.Time
		wantSQL  string
		wantArgs []driver.Value
	}{
		{
			name:     "host_only",
			wantSQL:  "FROM battery_history WHERE hostname = ? ORDER BY timestamp ASC, id ASC",
			wantArgs: []driver.Value{"desk-pc"},
		},
		{
			name:     "since_and_device",
			deviceID: " hs1 ",
			since:    time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
			wantSQL:  "FROM battery_history WHERE hostname = ? AND timestamp >= ? AND device_id = ? ORDER BY timestamp ASC, id ASC",
			wantArgs: []driver.Value{"desk-pc", time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC).UnixMilli(), "hs1"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("sqlmock new: %v", err)
			}
			defer db.Close()

			t0 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
			rows := sqlmock.NewRows([]string{"device_id", "hostname", "timestamp", "battery_level", "is_charging", "is_in_call", "is_muted"}).
				AddRow("hs1", "desk-pc", t0.UnixMilli(), 50, false, false, false).
				AddRow("hs1", "desk-pc", t0.Add(time.Minute).UnixMilli(), 49, false, true, true)

			mock.ExpectQuery(regexp.QuoteMeta(tc.wantSQL)).
				WithArgs(tc.wantArgs...).
				WillReturnRows(rows)

			got, err := NewHistorySQLite(db).List(ctx(t), "desk-pc", tc.deviceID, tc.since)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(got) != 2 {
				t.Fatalf("expected 2 points, got %d", len(got))
			}
			if !got[0].Timestamp.Before(got[1].Timestamp) {
				t.Fatalf("points not ascending: %v, %v", got[0].Timestamp, got[1].Timestamp)
			}
			if !got[1].IsInCall || !got[1].IsMuted || got[1].BatteryLevel != 49 {
				t.Fatalf("unexpected point: %+v", got[1])
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Fatalf("mock expectations: %v", err)
			}
		})
	}
}
