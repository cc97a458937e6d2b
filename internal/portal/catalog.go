package portal

// The list endpoints return either one item per section, or one item per
// course carrying a nested tcList of sections. Field names vary between
// deployments (camelCase and legacy uppercase aliases), so every field
// is coalesced from its known spellings.

type rawSection struct {
	TeachingClassID string `json:"teachingClassID"`
	JXBID           string `json:"JXBID"`

	CourseName   string `json:"courseName"`
	KCM          string `json:"KCM"`
	KCMC         string `json:"KCMC"`
	CourseNumber string `json:"courseNumber"`
	KCH          string `json:"KCH"`

	TeacherName string `json:"teacherName"`
	SKJS        string `json:"SKJS"`
	SportName   string `json:"sportName"`

	TeachingPlace string `json:"teachingPlace"`
	ClassTime     string `json:"classTime"`
	SKSJ          string `json:"SKSJ"`

	ClassCapacity          FlexInt `json:"classCapacity"`
	KRL                    FlexInt `json:"KRL"`
	NumberOfFirstVolunteer FlexInt `json:"numberOfFirstVolunteer"`
	YXRS                   FlexInt `json:"YXRS"`

	IsFull       FlexBool `json:"isFull"`
	IsConflict   FlexBool `json:"isConflict"`
	IsChoose     FlexBool `json:"isChoose"`
	IsChosen     FlexBool `json:"isChosen"`
	ConflictDesc string   `json:"conflictDesc"`

	TCList []rawSection `json:"tcList"`
}

func (r rawSection) id() string {
	if r.TeachingClassID != "" {
		return r.TeachingClassID
	}
	return r.JXBID
}

func (r rawSection) courseName() string {
	return coalesce(r.CourseName, r.KCM, r.KCMC)
}

func (r rawSection) courseNumber() string {
	return coalesce(r.CourseNumber, r.KCH)
}

func (r rawSection) timePlace() string {
	return coalesce(r.TeachingPlace, r.ClassTime, r.SKSJ)
}

func coalesce(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func coalesceInt(vals ...int) int {
	for _, v := range vals {
		if v != 0 {
			return v
		}
	}
	return 0
}

// normalize converts a raw section to a TeachingClassRecord. Name and
// number fall back to the enclosing course item when the section omits
// them.
func normalize(r rawSection, courseName, courseNumber string, typ CourseType) TeachingClassRecord {
	name := r.courseName()
	if name == "" {
		name = courseName
	}
	number := r.courseNumber()
	if number == "" {
		number = courseNumber
	}

	teacher := coalesce(r.TeacherName, r.SKJS)
	display := teacher
	if r.SportName != "" {
		display = teacher + " -- " + r.SportName
	}

	return TeachingClassRecord{
		TeachingClassID: r.id(),
		CourseNumber:    number,
		CourseName:      name,
		Type:            typ,
		Teacher:         display,
		RawTeacher:      teacher,
		SportName:       r.SportName,
		TimePlace:       r.timePlace(),
		Capacity:        coalesceInt(r.ClassCapacity.Int(), r.KRL.Int()),
		Enrolled:        coalesceInt(r.NumberOfFirstVolunteer.Int(), r.YXRS.Int()),
		IsFull:          r.IsFull.Bool(),
		IsConflict:      r.IsConflict.Bool(),
		IsChosen:        r.IsChoose.Bool() || r.IsChosen.Bool(),
		ConflictDesc:    r.ConflictDesc,
	}
}

// parseDataList flattens a dataList into normalized records grouped by
// course name, preserving response order within each course.
func parseDataList(items []rawSection, typ CourseType) map[string][]TeachingClassRecord {
	grouped := make(map[string][]TeachingClassRecord)
	for _, item := range items {
		name := item.courseName()
		number := item.courseNumber()
		if len(item.TCList) > 0 {
			for _, tc := range item.TCList {
				rec := normalize(tc, name, number, typ)
				grouped[rec.CourseName] = append(grouped[rec.CourseName], rec)
			}
			continue
		}
		if item.id() == "" {
			continue
		}
		rec := normalize(item, name, number, typ)
		grouped[rec.CourseName] = append(grouped[rec.CourseName], rec)
	}
	return grouped
}

// findSection locates one section by teaching-class id in a dataList.
func findSection(items []rawSection, tcID string, typ CourseType) (TeachingClassRecord, bool) {
	for _, item := range items {
		if len(item.TCList) > 0 {
			for _, tc := range item.TCList {
				if tc.id() == tcID {
					return normalize(tc, item.courseName(), item.courseNumber(), typ), true
				}
			}
			continue
		}
		if item.id() == tcID {
			return normalize(item, item.courseName(), item.courseNumber(), typ), true
		}
	}
	return TeachingClassRecord{}, false
}
