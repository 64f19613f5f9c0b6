package service

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5"
)

// база-заглушка: знает таблицы схемы и отдает по значению на таблицу.
// Запрос к чужой таблице запоминается - в проде он молча дал бы ноль.
type fakeStatsDB struct {
	tables  map[string]int64
	unknown []string
}

var fromTableRe = regexp.MustCompile(`FROM\s+(\w+)`)

func (db *fakeStatsDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	m := fromTableRe.FindStringSubmatch(sql)
	if m == nil {
		db.unknown = append(db.unknown, sql)
		return fakeRow{err: errors.New("запрос без FROM")}
	}
	v, ok := db.tables[m[1]]
	if !ok {
		db.unknown = append(db.unknown, m[1])
		return fakeRow{err: errors.New("relation \"" + m[1] + "\" does not exist")}
	}
	return fakeRow{val: v}
}

type fakeRow struct {
	val int64
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*int64)) = r.val
	return nil
}

func TestOpsStats_QueriesSchemaTables(t *testing.T) {
	db := &fakeStatsDB{tables: map[string]int64{
		"users":        5,
		"matches":      11,
		"join_intents": 3,
		"deposit_txs":  7_000_000_000,
		"refunds":      2,
		"payments":     4,
	}}

	s := &OpsService{db: db}
	stats, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("сводка: %v", err)
	}

	if len(db.unknown) != 0 {
		t.Fatalf("сводка опрашивает несуществующие таблицы: %v", db.unknown)
	}
	if stats.TotalUsers != 5 {
		t.Fatalf("пользователи: ожидалось 5, получено %d", stats.TotalUsers)
	}
	if stats.DepositedNano != 7_000_000_000 {
		t.Fatalf("сумма депозитов должна браться из deposit_txs: получено %d", stats.DepositedNano)
	}
	if stats.PendingRefunds != 2 || stats.UnclaimedPayout != 4 {
		t.Fatalf("возвраты/выплаты не сходятся: %+v", stats)
	}
}
