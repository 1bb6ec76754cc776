package accounts

import (
	"encoding/json"
	"errors"
	"fmt"
)

// AccountType says how an account authenticates.
type AccountType string

const (
	AccountTypeLocal AccountType = "local"
	AccountTypeLDAP  AccountType = "ldap"
)

// DefaultAccountType is used when no type has been chosen.
const DefaultAccountType = AccountTypeLocal

// ErrInvalidAccountType is returned for any type other than local or ldap.
var ErrInvalidAccountType = errors.New("invalid account type")

// ParseAccountType converts a name to an AccountType.
func ParseAccountType(s string) (AccountType, error) {
	t := AccountType(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: %q (want local or ldap)", ErrInvalidAccountType, s)
	}
	return t, nil
}

// Valid reports whether t is one of the known types.
func (t AccountType) Valid() bool {
	return t == AccountTypeLocal || t == AccountTypeLDAP
}

func (t AccountType) String() string {
	return string(t)
}

// Set implements pflag.Value so the type can be bound to a command flag.
func (t *AccountType) Set(s string) error {
	parsed, err := ParseAccountType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Type implements pflag.Value.
func (t *AccountType) Type() string {
	return "local|ldap"
}

// UnmarshalJSON rejects unknown types. An empty string decodes to the zero
// value, which hydration replaces with DefaultAccountType.
func (t *AccountType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*t = ""
		return nil
	}
	parsed, err := ParseAccountType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Account is a stored credential.
type Account struct {
	// ID is assigned by the Store and never reused.
	ID int `json:"id"`

	// Labels are caller-defined tags, in order.
	Labels []string `json:"labels"`

	Type AccountType `json:"type"`

	Login string `json:"login"`

	// Password is nil for accounts that authenticate elsewhere (e.g. ldap).
	Password *string `json:"password"`
}

func (a Account) clone() Account {
	a.Labels = cloneLabels(a.Labels)
	if a.Password != nil {
		p := *a.Password
		a.Password = &p
	}
	return a
}

// NewAccount holds every Account field except the ID.
// A zero Type means DefaultAccountType.
type NewAccount struct {
	Labels   []string
	Type     AccountType
	Login    string
	Password *string
}

// AccountUpdate names the fields to change. Nil pointers leave a field as it is.
// ClearPassword sets the password to null and wins over Password.
type AccountUpdate struct {
	Labels        *[]string
	Type          *AccountType
	Login         *string
	Password      *string
	ClearPassword bool
}

// Empty reports whether the update changes nothing.
func (u AccountUpdate) Empty() bool {
	return u.Labels == nil && u.Type == nil && u.Login == nil && u.Password == nil && !u.ClearPassword
}

// State is the full persisted form of a Store.
type State struct {
	Accounts    []Account   `json:"accounts"`
	AccountType AccountType `json:"accountType"`
	NextID      int         `json:"nextId"`
}

// StringPtr is a helper for building NewAccount and AccountUpdate values.
func StringPtr(s string) *string {
	return &s
}

func cloneLabels(labels []string) []string {
	out := make([]string, len(labels))
	copy(out, labels)
	return out
}
