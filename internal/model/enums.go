package model

import "strings"

// Center identifies one of the fixed BLS application centers.
type Center string

const (
	CenterAlgiers1 Center = "algiers_1"
	CenterAlgiers2 Center = "algiers_2"
	CenterAlgiers3 Center = "algiers_3"
	CenterAlgiers4 Center = "algiers_4"
	CenterOran1    Center = "oran_1"
	CenterOran2    Center = "oran_2"
	CenterOran3    Center = "oran_3"
)

var centerLabels = map[Center]string{
	CenterAlgiers1: "Algiers 1",
	CenterAlgiers2: "Algiers 2",
	CenterAlgiers3: "Algiers 3",
	CenterAlgiers4: "Algiers 4",
	CenterOran1:    "Oran 1",
	CenterOran2:    "Oran 2",
	CenterOran3:    "Oran 3",
}

// Valid reports whether c is a known center.
func (c Center) Valid() bool {
	_, ok := centerLabels[c]
	return ok
}

// Label returns the human readable center name.
func (c Center) Label() string {
	if l, ok := centerLabels[c]; ok {
		return l
	}
	return string(c)
}

// Region returns the city part of the center code ("algiers", "oran").
func (c Center) Region() string {
	s := string(c)
	if i := strings.IndexByte(s, '_'); i > 0 {
		return s[:i]
	}
	return s
}

// VisaCategory is the visa type requested by a profile.
type VisaCategory string

const (
	VisaTourist    VisaCategory = "tourist"
	VisaStudent    VisaCategory = "student"
	VisaWork       VisaCategory = "work"
	VisaBusiness   VisaCategory = "business"
	VisaTransit    VisaCategory = "transit"
	VisaFamily     VisaCategory = "family"
	VisaMedical    VisaCategory = "medical"
	VisaCultural   VisaCategory = "cultural"
	VisaSports     VisaCategory = "sports"
	VisaOfficial   VisaCategory = "official"
	VisaDiplomatic VisaCategory = "diplomatic"
)

// Valid reports whether v is a known visa category.
func (v VisaCategory) Valid() bool {
	switch v {
	case VisaTourist, VisaStudent, VisaWork, VisaBusiness, VisaTransit, VisaFamily,
		VisaMedical, VisaCultural, VisaSports, VisaOfficial, VisaDiplomatic:
		return true
	}
	return false
}

// MonitorStatus is the persisted lifecycle state of a monitor.
type MonitorStatus string

const (
	StatusActive  MonitorStatus = "active"
	StatusPaused  MonitorStatus = "paused"
	StatusStopped MonitorStatus = "stopped"
	StatusError   MonitorStatus = "error"
)

// AutofillMode controls what happens after slots are found.
type AutofillMode string

const (
	AutofillManual AutofillMode = "manual"
	AutofillSemi   AutofillMode = "semi"
	AutofillFull   AutofillMode = "full"
)

// Valid reports whether m is a known autofill mode.
func (m AutofillMode) Valid() bool {
	return m == AutofillManual || m == AutofillSemi || m == AutofillFull
}

// SlotStatus is the availability state of a discovered slot.
type SlotStatus string

const (
	SlotAvailable SlotStatus = "available"
	SlotBooked    SlotStatus = "booked"
	SlotExpired   SlotStatus = "expired"
)

// BookingStatus tracks an autofill attempt on a slot.
type BookingStatus string

const (
	BookingNone    BookingStatus = ""
	BookingPending BookingStatus = "pending"
	BookingSuccess BookingStatus = "success"
	BookingFailed  BookingStatus = "failed"
)
