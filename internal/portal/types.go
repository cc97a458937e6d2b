// Package portal implements the wire layer for the enrollment API:
// session state, expiry detection, catalog queries, and the
// select/drop/held-sections calls.
package portal

import (
	"strings"
	"time"
)

// CourseType selects the remote list endpoint. Values are either the
// server codes below, an internal alias, or an already-numeric code that
// must be forwarded verbatim.
type CourseType string

const (
	TypeRecommended CourseType = "TJKC"  // recommended courses
	TypeMajor       CourseType = "FANKC" // major program courses
	TypePublic      CourseType = "XGXK"  // public electives
	TypeSport       CourseType = "TYKC"  // physical education
)

// internal alias names accepted from config and the shell.
var typeAliases = map[string]CourseType{
	"recommend": TypeRecommended,
	"major":     TypeMajor,
	"public":    TypePublic,
	"sport":     TypeSport,
}

var typeEndpoints = map[CourseType]string{
	TypeRecommended: "recommendedCourse.do",
	TypeMajor:       "programCourse.do",
	TypePublic:      "publicCourse.do",
	TypeSport:       "programCourse.do",
}

// ParseCourseType maps an alias or server code to a CourseType. Unknown
// values pass through unchanged; numeric codes in particular must not be
// re-translated.
func ParseCourseType(s string) CourseType {
	if t, ok := typeAliases[strings.ToLower(s)]; ok {
		return t
	}
	return CourseType(s)
}

// Code returns the value to send in request bodies. Numeric types are
// already in server form and are forwarded verbatim.
func (t CourseType) Code() string {
	if t == "" {
		return string(TypeRecommended)
	}
	return string(t)
}

// Endpoint returns the list endpoint for this course type.
func (t CourseType) Endpoint() string {
	if ep, ok := typeEndpoints[t]; ok {
		return ep
	}
	return typeEndpoints[TypeRecommended]
}

// Session is the authenticated portal session: token and cookies rotate
// together on recovery, the time offset corrects local timestamps to
// server time.
type Session struct {
	Token       string
	Cookies     map[string]string
	StudentCode string
	BatchCode   string
	TimeOffset  time.Duration // serverMs - localMs, from the login probe
}

// Credentials identify the student for the captcha login flow. Never
// logged.
type Credentials struct {
	Username string
	Password string
}

// TeachingClassRecord is the normalized view of one section.
type TeachingClassRecord struct {
	TeachingClassID string
	CourseNumber    string
	CourseName      string
	Type            CourseType
	Teacher         string // display name, augmented with the sport project
	RawTeacher      string
	SportName       string
	TimePlace       string
	Capacity        int
	Enrolled        int
	IsFull          bool
	IsConflict      bool
	IsChosen        bool
	ConflictDesc    string
}

// Remain is the computed seat remainder. IsFull stays authoritative:
// a positive Remain with IsFull set is ghost capacity.
func (r TeachingClassRecord) Remain() int { return r.Capacity - r.Enrolled }

// SelectedCourse is one held section from the courseResult endpoint.
type SelectedCourse struct {
	TeachingClassID string
	Name            string
	Time            string
	Teacher         string
	Type            CourseType
}

// Status tags the transport-level outcome of a portal call.
type Status int

const (
	StatusOK Status = iota
	StatusExpired
	StatusNetworkError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusExpired:
		return "session_expired"
	default:
		return "network_error"
	}
}

// SelectOutcome classifies a volunteer.do response.
type SelectOutcome int

const (
	SelectAcquired SelectOutcome = iota // code=1 or already-selected
	SelectConflict                      // time conflict, swap required
	SelectFull                          // capacity exhausted
	SelectExpired                       // session expired and unrecovered
	SelectError                         // anything else
)

func (o SelectOutcome) String() string {
	switch o {
	case SelectAcquired:
		return "acquired"
	case SelectConflict:
		return "conflict"
	case SelectFull:
		return "full"
	case SelectExpired:
		return "session_expired"
	default:
		return "error"
	}
}

// SelectResult is the classified outcome of a select call.
type SelectResult struct {
	Outcome SelectOutcome
	Msg     string
}

// NeedRollback reports whether the server signalled a timetable conflict.
func (r SelectResult) NeedRollback() bool { return r.Outcome == SelectConflict }

// ProbeResult is the outcome of a login-status probe.
type ProbeResult int

const (
	ProbeOnline ProbeResult = iota
	ProbeExpired
	ProbeNetworkError
)

func (p ProbeResult) String() string {
	switch p {
	case ProbeOnline:
		return "online"
	case ProbeExpired:
		return "expired"
	default:
		return "network_error"
	}
}
