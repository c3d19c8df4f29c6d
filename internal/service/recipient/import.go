package recipient

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/nyaruka/phonenumbers"

	apperrors "github.com/acme/voice-campaign-core/pkg/errors"
)

type field int

const (
	fieldVariable field = iota
	fieldPhone
	fieldName
	fieldEmail
	fieldCompany
)

// fieldAliases lists the accepted headers of each field, most preferred first. When a row
// carries several of them the first non-empty one wins.
var fieldAliases = map[field][]string{
	fieldPhone:   {"phone", "phonenumber", "mobile", "mobilenumber", "cell", "telephone", "tel", "contactnumber", "number"},
	fieldName:    {"name", "fullname", "contactname", "firstname"},
	fieldEmail:   {"email", "emailaddress", "mail"},
	fieldCompany: {"company", "companyname", "organization", "organisation", "business"},
}

type alias struct {
	field field
	rank  int
}

var headerAliases = func() map[string]alias {
	out := make(map[string]alias)
	for f, names := range fieldAliases {
		for rank, name := range names {
			out[name] = alias{field: f, rank: rank}
		}
	}
	return out
}()

// classify maps a column header to a known field and its alias rank, ignoring case,
// spaces, underscores and dashes.
func classify(header string) (field, int) {
	key := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '_', '-':
			return -1
		}
		return r
	}, strings.ToLower(strings.TrimSpace(header)))
	a, ok := headerAliases[key]
	if !ok {
		return fieldVariable, 0
	}
	return a.field, a.rank
}

// Row is one parsed input row.
type Row struct {
	Phone     string
	Name      string
	Email     string
	Company   string
	Variables map[string]string
}

// MapRow splits a raw row into known fields and custom variables. The result does not
// depend on the order of raw's keys.
func MapRow(raw map[string]string) Row {
	type pick struct {
		rank   int
		header string
	}
	row := Row{Variables: map[string]string{}}
	picked := make(map[field]pick)

	for header, value := range raw {
		value = strings.TrimSpace(value)
		f, rank := classify(header)
		if f == fieldVariable {
			if value != "" {
				row.Variables[strings.TrimSpace(header)] = value
			}
			continue
		}
		if value == "" {
			continue
		}
		if prev, ok := picked[f]; ok && (prev.rank < rank || (prev.rank == rank && prev.header < header)) {
			continue
		}
		picked[f] = pick{rank: rank, header: header}

		switch f {
		case fieldPhone:
			row.Phone = value
		case fieldName:
			row.Name = value
		case fieldEmail:
			row.Email = value
		case fieldCompany:
			row.Company = value
		}
	}
	return row
}

var e164 = regexp.MustCompile(`^\+[1-9][0-9]{7,14}$`)

// NormalizePhone returns the E.164 form of raw, resolving national numbers against region.
// Numbers only need a plausible length for their country; ranges missing from the
// numbering metadata are accepted.
func NormalizePhone(raw, region string) (string, error) {
	num, err := phonenumbers.Parse(raw, region)
	if err != nil {
		return "", fmt.Errorf("%w: invalid phone number %q: %v", apperrors.ErrValidation, raw, err)
	}
	if !phonenumbers.IsPossibleNumber(num) {
		return "", fmt.Errorf("%w: invalid phone number %q", apperrors.ErrValidation, raw)
	}
	formatted := phonenumbers.Format(num, phonenumbers.E164)
	if !e164.MatchString(formatted) {
		return "", fmt.Errorf("%w: invalid phone number %q", apperrors.ErrValidation, raw)
	}
	return formatted, nil
}

// ParseCSV reads a header row followed by data rows.
func ParseCSV(r io.Reader) ([]map[string]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: csv is empty", apperrors.ErrValidation)
		}
		return nil, fmt.Errorf("%w: read csv header: %v", apperrors.ErrValidation, err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], "\ufeff")
	}

	var rows []map[string]string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: read csv row %d: %v", apperrors.ErrValidation, len(rows)+2, err)
		}
		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(record) {
				row[col] = record[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
