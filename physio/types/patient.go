package types

// PatientContext is the read-only slice of the medical profile that grounds the assistant.
type PatientContext struct {
	PatientID      string
	Name           string
	Age            int
	Gender         string
	Height         float64
	Weight         float64
	Notes          string
	ActivityLevel  string
	MedicalHistory string
	Goals          string
	Restrictions   string
	PastBehavior   string
	Conditions     []Condition
	Medications    []Medication
	Exercises      []Exercise
}

type Condition struct {
	Name        string
	Description string
}

type Medication struct {
	Name      string
	Dosage    string
	Frequency string
}

type Exercise struct {
	Name        string
	Description string
	Frequency   string
	Duration    string
}
