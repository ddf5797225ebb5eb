package dashboard

var weekdays = []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

func sampleGlucose() []GlucoseReading {
	fbs := []int{105, 108, 102, 110, 106, 104, 107}
	ppbs := []int{142, 138, 135, 145, 140, 136, 141}

	out := make([]GlucoseReading, len(weekdays))
	for i, day := range weekdays {
		out[i] = GlucoseReading{Date: day, FBS: fbs[i], PPBS: ppbs[i]}
	}
	return out
}

func sampleVitals() []VitalSigns {
	weight := []float64{72.5, 72.7, 72.3, 72.8, 72.6, 72.4, 72.9}
	systolic := []int{118, 120, 116, 122, 119, 117, 121}
	diastolic := []int{76, 77, 75, 78, 76, 75, 77}

	out := make([]VitalSigns, len(weekdays))
	for i, day := range weekdays {
		out[i] = VitalSigns{Date: day, Weight: weight[i], Systolic: systolic[i], Diastolic: diastolic[i]}
	}
	return out
}

func sampleActivities() []Activity {
	return []Activity{
		{Type: "Breakfast", Time: "08:30", Detail: "Oatmeal with berries"},
		{Type: "Morning Walk", Time: "10:00", Detail: "30 minutes"},
		{Type: "Lunch", Time: "12:30", Detail: "Grilled chicken salad"},
		{Type: "Yoga", Time: "16:00", Detail: "20 minutes"},
	}
}

func sampleAlerts() []Alert {
	return []Alert{
		{ID: "1", Type: "high_glucose", Severity: "high", Message: "Your post-lunch glucose reading was 152 mg/dL, which is above the target range.", Time: "14:30"},
		{ID: "2", Type: "reminder", Severity: "medium", Message: "Don't forget to log your dinner glucose reading.", Time: "18:00"},
		{ID: "3", Type: "low_activity", Severity: "low", Message: "You haven't logged any exercise today. Try a 20-minute walk!", Time: "12:00", Acknowledged: true},
	}
}

func sampleSuggestions() []Suggestion {
	return []Suggestion{
		{ID: "1", Category: "diet", Message: "Include more fiber-rich foods in your meals to help regulate blood sugar levels.", From: "Dr. Sarah Johnson"},
		{ID: "2", Category: "exercise", Message: "Try a gentle 20-minute walk after meals to help lower blood glucose spikes.", From: "Nurse Lisa"},
		{ID: "3", Category: "clinical", Message: "Schedule your next blood work appointment for next week. Contact reception.", From: "Dr. Sarah Johnson", Acknowledged: true},
	}
}

func samplePatients() []Patient {
	return []Patient{
		{ID: "1", Name: "Sarah Johnson", Age: 32, Weeks: 28, LastGlucose: 118, Status: "stable", NextAppointment: "2024-02-05"},
		{ID: "2", Name: "Emily Chen", Age: 28, Weeks: 24, LastGlucose: 152, Status: "alert", NextAppointment: "2024-02-03"},
		{ID: "3", Name: "Maria Garcia", Age: 35, Weeks: 32, LastGlucose: 165, Status: "critical", NextAppointment: "2024-02-02"},
		{ID: "4", Name: "Jessica Smith", Age: 29, Weeks: 20, LastGlucose: 110, Status: "stable", NextAppointment: "2024-02-06"},
	}
}

func sampleClinicalNotes() []ClinicalNote {
	return []ClinicalNote{
		{ID: "1", Type: "clinical", Title: "Initial Assessment", Author: "Dr. Sarah Johnson", Date: "2024-01-28",
			Content: "Patient presents with gestational diabetes at 24 weeks. FBS 105, PPBS 145. Diet and exercise counseling provided."},
		{ID: "2", Type: "follow-up", Title: "Follow-up Visit", Author: "Dr. Sarah Johnson", Date: "2024-01-21",
			Content: "Patient compliance excellent. Glucose readings stable. Continue current diet and exercise regimen."},
		{ID: "3", Type: "alert", Title: "High Reading Alert", Author: "Nurse Lisa", Date: "2024-01-25",
			Content: "Post-lunch reading 165 mg/dL. Recommend increased monitoring and dietary adjustment."},
	}
}

func sampleCarePatients() []CarePatient {
	return []CarePatient{
		{ID: "1", Name: "Sarah Johnson", Phone: "+1 (555) 123-4567", Email: "sarah.j@email.com", Weeks: 28, LastVisit: "2024-01-26", CarePlan: "routine"},
		{ID: "2", Name: "Emily Chen", Phone: "+1 (555) 234-5678", Email: "emily.chen@email.com", Weeks: 24, LastVisit: "2024-01-20", CarePlan: "intensive"},
		{ID: "3", Name: "Maria Garcia", Phone: "+1 (555) 345-6789", Email: "maria.g@email.com", Weeks: 32, LastVisit: "2024-01-25", CarePlan: "critical"},
		{ID: "4", Name: "Jessica Williams", Phone: "+1 (555) 456-7890", Email: "jessica.w@email.com", Weeks: 20, LastVisit: "2024-01-24", CarePlan: "routine"},
	}
}

func sampleCheckups() []Checkup {
	return []Checkup{
		{ID: "1", Date: "2024-02-02", Time: "10:00", Type: "Routine Checkup", Notes: "Review glucose readings and vital signs", Status: "scheduled"},
		{ID: "2", Date: "2024-02-01", Time: "14:00", Type: "Weight & BP Check", Notes: "Monitor weight gain and blood pressure", Status: "pending"},
		{ID: "3", Date: "2024-01-28", Time: "11:00", Type: "Routine Checkup", Notes: "General health assessment", Status: "completed"},
	}
}

func sampleEducationSessions() []EducationSession {
	return []EducationSession{
		{ID: "1", Topic: "Nutrition & Diet Planning", Date: "2024-01-28", Status: "completed", Notes: "Patient understood meal planning basics"},
		{ID: "2", Topic: "Safe Exercise During Pregnancy", Date: "2024-02-02", Status: "pending", Notes: "Scheduled for 2 PM"},
		{ID: "3", Topic: "Understanding Glucose Readings", Date: "2024-01-20", Status: "completed", Notes: "Patient demonstrates good understanding"},
	}
}

func sampleSentSuggestions() []SentSuggestion {
	return []SentSuggestion{
		{ID: "1", Category: "diet", Message: "Include more leafy greens and whole grains in your meals", Date: "2024-01-28", Status: "sent"},
		{ID: "2", Category: "exercise", Message: "Try 30 minutes of brisk walking daily to help regulate blood sugar", Date: "2024-01-25", Status: "sent"},
		{ID: "3", Category: "clinical", Message: "Schedule blood work next week to check glucose trends", Date: "2024-01-28", Status: "pending"},
	}
}
