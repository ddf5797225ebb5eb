// Package dashboard はロール別ダッシュボードのサンプルデータを提供する。
// データはリクエストごとに NewStore で組み立て、プロセス全体で共有する可変状態は持たない。
package dashboard

import (
	"strings"

	"github.com/hitoshi/gdmcare/internal/model"
)

// GlucoseReading は1日分の空腹時血糖(FBS)と食後血糖(PPBS)。単位はmg/dL。
type GlucoseReading struct {
	Date string `json:"date"`
	FBS  int    `json:"fbs"`
	PPBS int    `json:"ppbs"`
}

// VitalSigns は1日分の体重と血圧。
type VitalSigns struct {
	Date      string  `json:"date"`
	Weight    float64 `json:"weight"`
	Systolic  int     `json:"systolic"`
	Diastolic int     `json:"diastolic"`
}

// Activity は当日の食事・運動記録。
type Activity struct {
	Type   string `json:"type"`
	Time   string `json:"time"`
	Detail string `json:"detail"`
}

// Alert は患者向けの通知。
type Alert struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Severity     string `json:"severity"`
	Message      string `json:"message"`
	Time         string `json:"time"`
	Acknowledged bool   `json:"acknowledged"`
}

// Suggestion は医療者から患者への提案。
type Suggestion struct {
	ID           string `json:"id"`
	Category     string `json:"category"`
	Message      string `json:"message"`
	From         string `json:"from"`
	Acknowledged bool   `json:"acknowledged"`
}

// Patient は医師の担当患者一覧の1行。
type Patient struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Age             int    `json:"age"`
	Weeks           int    `json:"weeks"`
	LastGlucose     int    `json:"last_glucose"`
	Status          string `json:"status"`
	NextAppointment string `json:"next_appointment"`
}

// ClinicalNote は診療記録。
type ClinicalNote struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Title   string `json:"title"`
	Author  string `json:"author"`
	Date    string `json:"date"`
	Content string `json:"content"`
}

// CarePatient は看護師のケア対象患者。
type CarePatient struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	Email     string `json:"email"`
	Weeks     int    `json:"weeks"`
	LastVisit string `json:"last_visit"`
	CarePlan  string `json:"care_plan"`
}

// Checkup は看護師が予定・実施する健診。
type Checkup struct {
	ID     string `json:"id"`
	Date   string `json:"date"`
	Time   string `json:"time"`
	Type   string `json:"type"`
	Notes  string `json:"notes"`
	Status string `json:"status"`
}

// EducationSession は患者教育の実施記録。
type EducationSession struct {
	ID     string `json:"id"`
	Topic  string `json:"topic"`
	Date   string `json:"date"`
	Status string `json:"status"`
	Notes  string `json:"notes"`
}

// SentSuggestion は看護師が送った提案の履歴。
type SentSuggestion struct {
	ID       string `json:"id"`
	Category string `json:"category"`
	Message  string `json:"message"`
	Date     string `json:"date"`
	Status   string `json:"status"`
}

// PatientOverview は患者ダッシュボード。
type PatientOverview struct {
	Glucose     []GlucoseReading `json:"glucose"`
	Vitals      []VitalSigns     `json:"vitals"`
	Activities  []Activity       `json:"activities"`
	Alerts      []Alert          `json:"alerts"`
	Suggestions []Suggestion     `json:"suggestions"`
}

// DoctorOverview は医師ダッシュボード。
type DoctorOverview struct {
	Patients      []Patient        `json:"patients"`
	ClinicalNotes []ClinicalNote   `json:"clinical_notes"`
	Glucose       []GlucoseReading `json:"glucose"`
}

// NurseOverview は看護師ダッシュボード。
type NurseOverview struct {
	Patients          []CarePatient      `json:"patients"`
	Checkups          []Checkup          `json:"checkups"`
	EducationSessions []EducationSession `json:"education_sessions"`
	Suggestions       []SentSuggestion   `json:"suggestions"`
}

// Overview はロールに応じたダッシュボード。Roleに対応するフィールドのみ設定される。
type Overview struct {
	Role    model.Role       `json:"role"`
	Patient *PatientOverview `json:"patient,omitempty"`
	Doctor  *DoctorOverview  `json:"doctor,omitempty"`
	Nurse   *NurseOverview   `json:"nurse,omitempty"`
}

// Store はリクエストスコープのサンプルデータ。
type Store struct {
	glucose           []GlucoseReading
	vitals            []VitalSigns
	activities        []Activity
	alerts            []Alert
	suggestions       []Suggestion
	patients          []Patient
	clinicalNotes     []ClinicalNote
	carePatients      []CarePatient
	checkups          []Checkup
	educationSessions []EducationSession
	sentSuggestions   []SentSuggestion
}

// NewStore はサンプルデータを組み立てたStoreを返す。
func NewStore() *Store {
	return &Store{
		glucose:           sampleGlucose(),
		vitals:            sampleVitals(),
		activities:        sampleActivities(),
		alerts:            sampleAlerts(),
		suggestions:       sampleSuggestions(),
		patients:          samplePatients(),
		clinicalNotes:     sampleClinicalNotes(),
		carePatients:      sampleCarePatients(),
		checkups:          sampleCheckups(),
		educationSessions: sampleEducationSessions(),
		sentSuggestions:   sampleSentSuggestions(),
	}
}

// Overview はロールに応じたダッシュボードを返す。未知のロールは患者として扱う。
func (s *Store) Overview(role model.Role) *Overview {
	switch role {
	case model.RoleDoctor:
		return &Overview{Role: role, Doctor: &DoctorOverview{
			Patients:      s.patients,
			ClinicalNotes: s.clinicalNotes,
			Glucose:       s.glucose,
		}}
	case model.RoleNurse:
		return &Overview{Role: role, Nurse: &NurseOverview{
			Patients:          s.carePatients,
			Checkups:          s.checkups,
			EducationSessions: s.educationSessions,
			Suggestions:       s.sentSuggestions,
		}}
	default:
		return &Overview{Role: model.RolePatient, Patient: &PatientOverview{
			Glucose:     s.glucose,
			Vitals:      s.vitals,
			Activities:  s.activities,
			Alerts:      s.alerts,
			Suggestions: s.suggestions,
		}}
	}
}

// SearchPatients は名前の部分一致（大文字小文字を区別しない）またはIDの完全一致で患者を絞り込む。
// queryが空の場合は全件を返す。
func (s *Store) SearchPatients(query string) []Patient {
	query = strings.TrimSpace(query)
	if query == "" {
		return s.patients
	}

	lower := strings.ToLower(query)
	out := make([]Patient, 0, len(s.patients))
	for _, p := range s.patients {
		if p.ID == query || strings.Contains(strings.ToLower(p.Name), lower) {
			out = append(out, p)
		}
	}
	return out
}

// Suggestions は患者宛ての提案を返す。pendingOnlyがtrueの場合は未確認のもののみ返す。
func (s *Store) Suggestions(pendingOnly bool) []Suggestion {
	if !pendingOnly {
		return s.suggestions
	}
	out := make([]Suggestion, 0, len(s.suggestions))
	for _, sg := range s.suggestions {
		if !sg.Acknowledged {
			out = append(out, sg)
		}
	}
	return out
}

// UnacknowledgedAlerts は未確認のアラート数を返す。
func (s *Store) UnacknowledgedAlerts() int {
	n := 0
	for _, a := range s.alerts {
		if !a.Acknowledged {
			n++
		}
	}
	return n
}
