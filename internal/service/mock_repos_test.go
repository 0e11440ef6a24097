package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"gorm.io/gorm"

	"messhub/backend/internal/model"
	"messhub/backend/internal/repository"
	"messhub/backend/pkg/apperr"
)

func dayKey(t time.Time) string { return t.Format("2006-01-02") }

// ── Mock UserRepository ──

type mockUserRepo struct {
	users map[string]*model.User
}

func newMockUserRepo() *mockUserRepo {
	return &mockUserRepo{users: make(map[string]*model.User)}
}

func (m *mockUserRepo) GetByID(_ context.Context, id string) (*model.User, error) {
	if u, ok := m.users[id]; ok {
		c := *u
		return &c, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockUserRepo) ListActiveStudents(_ context.Context, messID string) ([]model.User, error) {
	var result []model.User
	for _, u := range m.users {
		if u.Role != model.RoleStudent || !u.IsActive {
			continue
		}
		if messID != "" && u.MessID != messID {
			continue
		}
		result = append(result, *u)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UserID < result[j].UserID })
	return result, nil
}

// ── Mock AttendanceRepository ──

type mockAttendanceRepo struct {
	mu      sync.Mutex
	records map[string]*model.AttendanceRecord
	seq     int
}

func newMockAttendanceRepo() *mockAttendanceRepo {
	return &mockAttendanceRepo{records: make(map[string]*model.AttendanceRecord)}
}

func cloneRecord(r *model.AttendanceRecord) *model.AttendanceRecord {
	c := *r
	c.Meals = append(c.Meals[:0:0], r.Meals...)
	return &c
}

func (m *mockAttendanceRepo) findLocked(studentID string, date time.Time) *model.AttendanceRecord {
	for _, r := range m.records {
		if r.StudentID == studentID && dayKey(r.Date) == dayKey(date) {
			return r
		}
	}
	return nil
}

func (m *mockAttendanceRepo) Create(_ context.Context, rec *model.AttendanceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findLocked(rec.StudentID, rec.Date) != nil {
		return gorm.ErrDuplicatedKey
	}
	if rec.AttendanceID == "" {
		m.seq++
		rec.AttendanceID = fmt.Sprintf("att-%03d", m.seq)
	}
	m.records[rec.AttendanceID] = cloneRecord(rec)
	return nil
}

func (m *mockAttendanceRepo) Update(_ context.Context, rec *model.AttendanceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[rec.AttendanceID]; !ok {
		return gorm.ErrRecordNotFound
	}
	m.records[rec.AttendanceID] = cloneRecord(rec)
	return nil
}

func (m *mockAttendanceRepo) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[id]; !ok {
		return gorm.ErrRecordNotFound
	}
	delete(m.records, id)
	return nil
}

func (m *mockAttendanceRepo) GetByID(_ context.Context, id string) (*model.AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.records[id]; ok {
		return cloneRecord(r), nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockAttendanceRepo) GetByStudentDate(_ context.Context, studentID string, date time.Time) (*model.AttendanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r := m.findLocked(studentID, date); r != nil {
		return cloneRecord(r), nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockAttendanceRepo) list(keep func(r *model.AttendanceRecord) bool) []model.AttendanceRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.AttendanceRecord
	for _, r := range m.records {
		if keep(r) {
			result = append(result, *cloneRecord(r))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Date.Equal(result[j].Date) {
			return result[i].Date.Before(result[j].Date)
		}
		return result[i].StudentID < result[j].StudentID
	})
	return result
}

func (m *mockAttendanceRepo) ListByStudentRange(_ context.Context, studentID string, start, end time.Time) ([]model.AttendanceRecord, error) {
	from, to := dayKey(start), dayKey(end)
	return m.list(func(r *model.AttendanceRecord) bool {
		k := dayKey(r.Date)
		return r.StudentID == studentID && k >= from && k <= to
	}), nil
}

func (m *mockAttendanceRepo) ListByMessDate(_ context.Context, messID string, date time.Time) ([]model.AttendanceRecord, error) {
	return m.list(func(r *model.AttendanceRecord) bool {
		return r.MessID == messID && dayKey(r.Date) == dayKey(date)
	}), nil
}

func (m *mockAttendanceRepo) FindLeaveConflicts(_ context.Context, studentID string, start, end time.Time) ([]model.AttendanceRecord, error) {
	from, to := dayKey(start), dayKey(end)
	return m.list(func(r *model.AttendanceRecord) bool {
		if r.StudentID != studentID || !r.IsOnLeave {
			return false
		}
		if k := dayKey(r.Date); k >= from && k <= to {
			return true
		}
		return r.LeaveStartDate != nil && r.LeaveEndDate != nil &&
			dayKey(*r.LeaveStartDate) <= to && dayKey(*r.LeaveEndDate) >= from
	}), nil
}

// count of records for a student, for no-partial-mutation checks
func (m *mockAttendanceRepo) count(studentID string) int {
	return len(m.list(func(r *model.AttendanceRecord) bool { return r.StudentID == studentID }))
}

// ── Mock BillRepository ──

type mockBillRepo struct {
	mu    sync.Mutex
	bills map[string]*model.Bill
	seq   int
	// staleUpdates makes the next n updates lose the version race
	staleUpdates int
}

func newMockBillRepo() *mockBillRepo {
	return &mockBillRepo{bills: make(map[string]*model.Bill)}
}

func cloneBill(b *model.Bill) *model.Bill {
	c := *b
	c.MealWiseCharges = append(c.MealWiseCharges[:0:0], b.MealWiseCharges...)
	c.PaymentHistory = append(c.PaymentHistory[:0:0], b.PaymentHistory...)
	return &c
}

func (m *mockBillRepo) Create(_ context.Context, bill *model.Bill) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bills {
		if b.BillNumber == bill.BillNumber {
			return gorm.ErrDuplicatedKey
		}
		if !b.IsCancelled && b.StudentID == bill.StudentID && b.Month == bill.Month && b.Year == bill.Year {
			return gorm.ErrDuplicatedKey
		}
	}
	if bill.BillID == "" {
		m.seq++
		bill.BillID = fmt.Sprintf("bill-%03d", m.seq)
	}
	if bill.Version == 0 {
		bill.Version = 1
	}
	m.bills[bill.BillID] = cloneBill(bill)
	return nil
}

func (m *mockBillRepo) Update(_ context.Context, bill *model.Bill) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.bills[bill.BillID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if m.staleUpdates > 0 {
		m.staleUpdates--
		cur.Version++
		return apperr.ErrOptimisticLock
	}
	if cur.Version != bill.Version {
		return apperr.ErrOptimisticLock
	}
	bill.Version++
	m.bills[bill.BillID] = cloneBill(bill)
	return nil
}

func (m *mockBillRepo) GetByID(_ context.Context, id string) (*model.Bill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.bills[id]; ok {
		return cloneBill(b), nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockBillRepo) GetActiveByStudentPeriod(_ context.Context, studentID string, month, year int) (*model.Bill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, b := range m.bills {
		if !b.IsCancelled && b.StudentID == studentID && b.Month == month && b.Year == year {
			return cloneBill(b), nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *mockBillRepo) CountByNumberPrefix(_ context.Context, prefix string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, b := range m.bills {
		if strings.HasPrefix(b.BillNumber, prefix) {
			n++
		}
	}
	return n, nil
}

func (m *mockBillRepo) list(keep func(b *model.Bill) bool) []model.Bill {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []model.Bill
	for _, b := range m.bills {
		if keep(b) {
			result = append(result, *cloneBill(b))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].BillNumber < result[j].BillNumber })
	return result
}

func (m *mockBillRepo) ListByStudent(_ context.Context, studentID string) ([]model.Bill, error) {
	return m.list(func(b *model.Bill) bool { return b.StudentID == studentID && !b.IsCancelled }), nil
}

func (m *mockBillRepo) ListByMess(_ context.Context, f repository.BillFilter, offset, limit int) ([]model.Bill, int64, error) {
	all := m.list(func(b *model.Bill) bool {
		switch {
		case b.MessID != f.MessID,
			!f.IncludeCancelled && b.IsCancelled,
			f.StudentID != "" && b.StudentID != f.StudentID,
			f.Month != 0 && b.Month != f.Month,
			f.Year != 0 && b.Year != f.Year,
			f.Status != "" && b.StatusAt(f.Now) != f.Status:
			return false
		}
		return true
	})
	total := int64(len(all))
	if offset >= len(all) {
		return []model.Bill{}, total, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], total, nil
}

func outstanding(b *model.Bill) bool {
	return b.IsActive && !b.IsCancelled && b.AmountDue.IsPositive()
}

func (m *mockBillRepo) ListUnpaid(_ context.Context, messID string) ([]model.Bill, error) {
	return m.list(func(b *model.Bill) bool { return outstanding(b) && b.MessID == messID }), nil
}

func (m *mockBillRepo) ListOverdue(_ context.Context, messID string, now time.Time) ([]model.Bill, error) {
	return m.list(func(b *model.Bill) bool {
		return outstanding(b) && b.MessID == messID && b.DueDate.Before(now)
	}), nil
}

func (m *mockBillRepo) ListLateFeeCandidates(_ context.Context, now time.Time) ([]model.Bill, error) {
	return m.list(func(b *model.Bill) bool {
		return outstanding(b) && b.DueDate.Before(now) && b.LateFee.IsZero()
	}), nil
}
