// Package roster loads the class list from a YAML file.
package roster

import (
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"studyhall/internal/attendance"
)

// File is the on-disk shape:
//
//	students:
//	  - id: s01
//	    name: Wang
//	    seat: 1
//	    credential: "0004213377"
type File struct {
	Students []attendance.Student `yaml:"students"`
}

// Load reads and validates a roster file. See Decode for seatCount.
func Load(path string, seatCount int) ([]attendance.Student, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open roster: %w", err)
	}
	defer f.Close()
	return Decode(f, seatCount)
}

// Decode parses a roster. When seatCount is positive every seat must lie in
// 1..seatCount.
func Decode(r io.Reader, seatCount int) ([]attendance.Student, error) {
	var file File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("%w: empty roster", attendance.ErrInvalid)
		}
		return nil, fmt.Errorf("%w: parse roster: %v", attendance.ErrInvalid, err)
	}
	if err := Validate(file.Students, seatCount); err != nil {
		return nil, err
	}
	return file.Students, nil
}

// Validate checks that ids, seats and credentials are unique and present.
func Validate(students []attendance.Student, seatCount int) error {
	ids := map[string]bool{}
	seats := map[int]string{}
	creds := map[string]string{}
	for i := range students {
		s := &students[i]
		s.ID = strings.TrimSpace(s.ID)
		s.Credential = strings.TrimSpace(s.Credential)
		switch {
		case s.ID == "":
			return fmt.Errorf("%w: roster entry %d has no id", attendance.ErrInvalid, i+1)
		case s.Credential == "":
			return fmt.Errorf("%w: student %s has no credential", attendance.ErrInvalid, s.ID)
		case s.Seat <= 0, seatCount > 0 && s.Seat > seatCount:
			return fmt.Errorf("%w: student %s has seat %d out of range", attendance.ErrInvalid, s.ID, s.Seat)
		case ids[s.ID]:
			return fmt.Errorf("%w: duplicate student id %s", attendance.ErrInvalid, s.ID)
		}
		if other, ok := seats[s.Seat]; ok {
			return fmt.Errorf("%w: seat %d assigned to %s and %s", attendance.ErrInvalid, s.Seat, other, s.ID)
		}
		if other, ok := creds[s.Credential]; ok {
			return fmt.Errorf("%w: credential shared by %s and %s", attendance.ErrInvalid, other, s.ID)
		}
		ids[s.ID] = true
		seats[s.Seat] = s.ID
		creds[s.Credential] = s.ID
	}
	return nil
}
