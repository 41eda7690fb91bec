package transform

import "strings"

var ocwDepartments = map[string]string{
	"1":       "Massachusetts Institute of Technology. Department of Civil and Environmental Engineering",
	"2":       "Massachusetts Institute of Technology. Department of Mechanical Engineering",
	"3":       "Massachusetts Institute of Technology. Department of Materials Science and Engineering",
	"4":       "Massachusetts Institute of Technology. Department of Architecture",
	"5":       "Massachusetts Institute of Technology. Department of Chemistry",
	"6":       "Massachusetts Institute of Technology. Department of Electrical Engineering and Computer Science",
	"7":       "Massachusetts Institute of Technology. Department of Biology",
	"8":       "Massachusetts Institute of Technology. Department of Physics",
	"9":       "Massachusetts Institute of Technology. Department of Brain and Cognitive Sciences",
	"10":      "Massachusetts Institute of Technology. Department of Chemical Engineering",
	"11":      "Massachusetts Institute of Technology. Department of Urban Studies and Planning",
	"12":      "Massachusetts Institute of Technology. Department of Earth, Atmospheric, and Planetary Sciences",
	"14":      "Massachusetts Institute of Technology. Department of Economics",
	"15":      "Sloan School of Management",
	"16":      "Massachusetts Institute of Technology. Department of Aeronautics and Astronautics",
	"17":      "Massachusetts Institute of Technology. Department of Political Science",
	"18":      "Massachusetts Institute of Technology. Department of Mathematics",
	"20":      "Massachusetts Institute of Technology. Department of Biological Engineering",
	"21":      "Massachusetts Institute of Technology. Department of Humanities",
	"22":      "Massachusetts Institute of Technology. Department of Nuclear Science and Engineering",
	"24":      "Massachusetts Institute of Technology. Department of Linguistics and Philosophy",
	"21A":     "MIT Anthropology",
	"21E/21S": "Massachusetts Institute of Technology. Department of Humanities and Engineering",
	"21G":     "MIT Global Languages",
	"21H":     "Massachusetts Institute of Technology. History Section",
	"21L":     "Massachusetts Institute of Technology. Literature Section",
	"21M":     "Massachusetts Institute of Technology. Music and Theater Arts Section",
	"21W":     "Massachusetts Institute of Technology. Program in Comparative Media Studies/Writing",
	"CMS":     "Massachusetts Institute of Technology. Program in Comparative Media Studies/Writing",
	"HST":     "Harvard University--MIT Division of Health Sciences and Technology",
	"IDS":     "Massachusetts Institute of Technology. Institute for Data, Systems, and Society",
	"MAS":     "Program in Media Arts and Sciences (Massachusetts Institute of Technology)",
	"STS":     "Massachusetts Institute of Technology. Program in Science, Technology and Society",
	"ESD":     "Massachusetts Institute of Technology. Engineering Systems Division",
	"WGS":     "MIT Program in Women's and Gender Studies",
	"ESG":     "MIT Experimental Study Group",
	"EC":      "Edgerton Center (Massachusetts Institute of Technology)",
}

// DepartmentName maps an OCW department number to its authorized name. Unknown
// numbers are returned unchanged.
func DepartmentName(number string) string {
	if name, ok := ocwDepartments[number]; ok {
		return name
	}
	return number
}

// OpenCourseWare returns the transformer for OCW course packages, whose
// source records are the data.json file inside each zip.
func OpenCourseWare() *Transformer {
	return &Transformer{
		Required: []Field{
			{Name: "dc.title", Derive: Fn1(ocwTitle)},
			{Name: "dc.date.issued", Source: "year"},
		},
		Optional: []Field{
			{Name: "dc.description.abstract", Source: "course_description"},
			{Name: "dc.contributor.author", Derive: Fn1(ocwInstructors)},
			{Name: "dc.contributor.department", Derive: Fn1(ocwDepartmentNames)},
			{Name: "creativework.learningresourcetype", Source: "learning_resource_types"},
			{Name: "dc.subject", Derive: Fn1(ocwTopics)},
			{Name: "dc.identifier.other", Derive: Fn1(ocwIdentifiers)},
			{Name: "dc.coverage.temporal", Derive: Fn1(ocwTermYear)},
			{Name: "dc.audience.educationlevel", Source: "level"},
			{Name: "dc.type", Derive: Fn0(func() any { return "Learning Object" })},
			{Name: "dc.rights", Derive: Fn0(func() any { return "Attribution-NonCommercial-NoDerivs 4.0 United States" })},
			{Name: "dc.rights.uri", Derive: Fn0(func() any { return "https://creativecommons.org/licenses/by-nc-nd/4.0/deed.en" })},
			{Name: "dc.language.iso", Derive: Fn0(func() any { return "en_US" })},
		},
	}
}

func ocwCourseNumbers(rec Record) []string {
	var numbers []string
	if n := rec.String("primary_course_number"); n != "" {
		numbers = append(numbers, n)
	}
	return append(numbers, ocwExtraCourseNumbers(rec)...)
}

func ocwExtraCourseNumbers(rec Record) []string {
	var numbers []string
	for _, n := range strings.Split(rec.String("extra_course_numbers"), ",") {
		if n = strings.TrimSpace(n); n != "" {
			numbers = append(numbers, n)
		}
	}
	return numbers
}

// ocwTitle builds "6.001 / 18.01 Course Title, Fall 2023".
func ocwTitle(rec Record) any {
	var b strings.Builder
	b.WriteString(strings.Join(ocwCourseNumbers(rec), " / "))
	if title := rec.String("course_title"); title != "" {
		b.WriteString(" " + title)
	}
	if term := rec.String("term"); term != "" {
		b.WriteString(", " + term)
	}
	if year := rec.String("year"); year != "" {
		b.WriteString(" " + year)
	}
	return b.String()
}

func ocwInstructors(rec Record) any {
	var names []string
	for _, in := range rec.Records("instructors") {
		last, first := in.String("last_name"), in.String("first_name")
		if last == "" || first == "" {
			continue
		}
		names = append(names, strings.TrimSpace(last+", "+first+" "+in.String("middle_initial")))
	}
	return names
}

func ocwDepartmentNames(rec Record) any {
	var names []string
	for _, n := range rec.Strings("department_numbers") {
		names = append(names, DepartmentName(n))
	}
	return names
}

func ocwTopics(rec Record) any {
	var subjects []string
	for _, topic := range rec.List("topics") {
		terms := asStrings(topic)
		if s := strings.Join(terms, " - "); s != "" {
			subjects = append(subjects, s)
		}
	}
	return subjects
}

// ocwIdentifiers returns the primary course number, the number with term and
// year appended ("6.001-Fall2023"), then any extra course numbers.
func ocwIdentifiers(rec Record) any {
	var ids []string
	if primary := rec.String("primary_course_number"); primary != "" {
		ids = append(ids, primary)
		if termYear := rec.String("term") + rec.String("year"); termYear != "" {
			ids = append(ids, primary+"-"+termYear)
		} else {
			ids = append(ids, primary)
		}
	}
	return append(ids, ocwExtraCourseNumbers(rec)...)
}

func ocwTermYear(rec Record) any {
	return strings.TrimSpace(rec.String("term") + " " + rec.String("year"))
}
