package folder

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	maxNameLen = 256
	maxDescLen = 1024
)

var ErrInvalidName = errors.New("invalid name")

func validate(name, desc string) error {
	if err := validName(name); err != nil {
		return err
	}
	return validDesc(desc)
}

func validName(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidName)
	}
	if utf8.RuneCountInString(name) > maxNameLen {
		return fmt.Errorf("%w: longer than %d", ErrInvalidName, maxNameLen)
	}
	if strings.IndexFunc(name, unicode.IsControl) >= 0 {
		return fmt.Errorf("%w: %q contains control characters", ErrInvalidName, name)
	}
	return nil
}

func validDesc(desc string) error {
	if utf8.RuneCountInString(desc) > maxDescLen {
		return fmt.Errorf("%w: description longer than %d", ErrInvalidName, maxDescLen)
	}
	return nil
}
