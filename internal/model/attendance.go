package model

import (
	"time"

	"gorm.io/datatypes"

	"messhub/backend/pkg/apperr"
)

// MealType is the unit of attendance and billing.
type MealType string

const (
	MealBreakfast     MealType = "breakfast"
	MealLunch         MealType = "lunch"
	MealEveningSnacks MealType = "eveningSnacks"
	MealDinner        MealType = "dinner"
)

// MealTypes in serving order.
var MealTypes = []MealType{MealBreakfast, MealLunch, MealEveningSnacks, MealDinner}

// MealsPerDay caps the derived totals.
const MealsPerDay = 4

// Valid reports whether m is one of the four meal types.
func (m MealType) Valid() bool {
	for _, t := range MealTypes {
		if m == t {
			return true
		}
	}
	return false
}

// MarkedBy who recorded a meal mark.
type MarkedBy string

const (
	MarkedByStudent MarkedBy = "student"
	MarkedByManager MarkedBy = "manager"
	MarkedBySystem  MarkedBy = "system"
)

// LeaveReason enum
type LeaveReason string

const (
	LeaveVacation  LeaveReason = "vacation"
	LeaveSick      LeaveReason = "sick_leave"
	LeaveHomeVisit LeaveReason = "home_visit"
	LeaveEmergency LeaveReason = "emergency"
	LeaveOther     LeaveReason = "other"
)

// Valid reports whether r is a known reason.
func (r LeaveReason) Valid() bool {
	switch r {
	case LeaveVacation, LeaveSick, LeaveHomeVisit, LeaveEmergency, LeaveOther:
		return true
	}
	return false
}

// Attendance record status
const (
	AttendancePending   = "pending"
	AttendanceConfirmed = "confirmed"
	AttendanceCancelled = "cancelled"
)

// MealMark one meal's presence on a record.
type MealMark struct {
	MealType  MealType  `json:"meal_type"`
	IsPresent bool      `json:"is_present"`
	MarkedAt  time.Time `json:"marked_at"`
	MarkedBy  MarkedBy  `json:"marked_by"`
}

// AttendanceRecord one row per (student, calendar day) (attendance_records).
//
// Totals and DayOfWeek are derived by Recompute and must not be set directly.
type AttendanceRecord struct {
	AttendanceID      string                        `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"attendance_id"`
	StudentID         string                        `gorm:"type:uuid;not null"                             json:"student_id"`
	MessID            string                        `gorm:"type:varchar(50);not null"                      json:"mess_id"`
	Date              time.Time                     `gorm:"type:date;not null"                             json:"date"`
	DayOfWeek         string                        `gorm:"type:varchar(10);not null"                      json:"day_of_week"`
	Meals             datatypes.JSONSlice[MealMark] `gorm:"type:jsonb;not null"                            json:"meals"`
	IsOnLeave         bool                          `gorm:"not null;default:false"                         json:"is_on_leave"`
	LeaveReason       LeaveReason                   `gorm:"type:varchar(20)"                               json:"leave_reason,omitempty"`
	LeaveDescription  string                        `gorm:"type:varchar(500)"                              json:"leave_description,omitempty"`
	LeaveStartDate    *time.Time                    `gorm:"type:date"                                      json:"leave_start_date,omitempty"`
	LeaveEndDate      *time.Time                    `gorm:"type:date"                                      json:"leave_end_date,omitempty"`
	TotalMealsPresent int                           `gorm:"type:smallint;not null;default:0"               json:"total_meals_present"`
	TotalMealsAbsent  int                           `gorm:"type:smallint;not null;default:0"               json:"total_meals_absent"`
	Status            string                        `gorm:"type:varchar(20);not null;default:'confirmed'"  json:"status"`
	Remarks           string                        `gorm:"type:text"                                      json:"remarks,omitempty"`
	BaseModel

	Student *User `gorm:"foreignKey:StudentID;references:UserID" json:"student,omitempty"`
}

// TableName table name
func (AttendanceRecord) TableName() string { return "attendance_records" }

// NewAttendanceRecord an empty confirmed record for day.
func NewAttendanceRecord(studentID, messID string, day time.Time) *AttendanceRecord {
	return &AttendanceRecord{
		StudentID: studentID,
		MessID:    messID,
		Date:      day,
		Meals:     datatypes.JSONSlice[MealMark]{},
		Status:    AttendanceConfirmed,
	}
}

// MarkMeal records presence for one meal, overwriting an earlier mark of
// the same type.
func (r *AttendanceRecord) MarkMeal(meal MealType, present bool, by MarkedBy, at time.Time) error {
	if r.IsOnLeave {
		return apperr.Conflict("cannot mark attendance for a date under leave (%s)", r.Date.Format("2006-01-02"))
	}
	if !meal.Valid() {
		return apperr.Validation("unknown meal type %q", meal)
	}

	mark := MealMark{MealType: meal, IsPresent: present, MarkedAt: at, MarkedBy: by}
	for i := range r.Meals {
		if r.Meals[i].MealType == meal {
			r.Meals[i] = mark
			return r.Recompute()
		}
	}
	r.Meals = append(r.Meals, mark)
	return r.Recompute()
}

// FillAllPresent marks every meal present.
func (r *AttendanceRecord) FillAllPresent(by MarkedBy, at time.Time) error {
	for _, meal := range MealTypes {
		if err := r.MarkMeal(meal, true, by, at); err != nil {
			return err
		}
	}
	return nil
}

// ApplyLeave converts the record to a leave day belonging to [start, end].
func (r *AttendanceRecord) ApplyLeave(reason LeaveReason, description string, start, end time.Time) error {
	r.IsOnLeave = true
	r.LeaveReason = reason
	r.LeaveDescription = description
	r.LeaveStartDate = &start
	r.LeaveEndDate = &end
	r.Meals = datatypes.JSONSlice[MealMark]{}
	return r.Recompute()
}

// Recompute re-derives DayOfWeek and the meal totals and enforces
// leave/meal exclusivity. Every mutation ends here.
func (r *AttendanceRecord) Recompute() error {
	r.DayOfWeek = r.Date.Weekday().String()

	if r.IsOnLeave {
		if !r.LeaveReason.Valid() {
			return apperr.Validation("leave reason %q is not one of vacation, sick_leave, home_visit, emergency, other", r.LeaveReason)
		}
		if r.LeaveStartDate != nil && r.LeaveEndDate != nil && r.LeaveEndDate.Before(*r.LeaveStartDate) {
			return apperr.Validation("leave end date must not be before start date")
		}
		r.Meals = datatypes.JSONSlice[MealMark]{}
		r.TotalMealsPresent = 0
		r.TotalMealsAbsent = MealsPerDay
		return nil
	}

	r.LeaveReason = ""
	r.LeaveDescription = ""
	r.LeaveStartDate = nil
	r.LeaveEndDate = nil

	// one entry per meal type, last write wins
	seen := make(map[MealType]int, MealsPerDay)
	meals := make(datatypes.JSONSlice[MealMark], 0, len(r.Meals))
	for _, m := range r.Meals {
		if !m.MealType.Valid() {
			return apperr.Validation("unknown meal type %q", m.MealType)
		}
		if i, ok := seen[m.MealType]; ok {
			meals[i] = m
			continue
		}
		seen[m.MealType] = len(meals)
		meals = append(meals, m)
	}
	r.Meals = meals

	r.TotalMealsPresent, r.TotalMealsAbsent = 0, 0
	for _, m := range r.Meals {
		if m.IsPresent {
			r.TotalMealsPresent++
		} else {
			r.TotalMealsAbsent++
		}
	}
	return nil
}

// HasMeal reports whether meal was marked present.
func (r *AttendanceRecord) HasMeal(meal MealType) bool {
	for _, m := range r.Meals {
		if m.MealType == meal && m.IsPresent {
			return true
		}
	}
	return false
}

// IsAbsentDay a day counts as absent when on leave or no meal was eaten.
func (r *AttendanceRecord) IsAbsentDay() bool {
	return r.IsOnLeave || r.TotalMealsPresent == 0
}

// LeaveOverlaps reports whether the record is a leave day touching
// [start, end], either by its own date or by its leave interval.
func (r *AttendanceRecord) LeaveOverlaps(start, end time.Time) bool {
	if !r.IsOnLeave {
		return false
	}
	if !r.Date.Before(start) && !r.Date.After(end) {
		return true
	}
	if r.LeaveStartDate != nil && r.LeaveEndDate != nil {
		return !r.LeaveStartDate.After(end) && !r.LeaveEndDate.Before(start)
	}
	return false
}

// NormalizeDates re-anchors the DATE columns to midnight in loc after a load.
func (r *AttendanceRecord) NormalizeDates(loc *time.Location) {
	r.Date = civilDate(r.Date, loc)
	r.LeaveStartDate = civilDatePtr(r.LeaveStartDate, loc)
	r.LeaveEndDate = civilDatePtr(r.LeaveEndDate, loc)
}
