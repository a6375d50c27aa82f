package provider

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/skymiles/internal/domain"
)

type namedStub struct{ name string }

func (s namedStub) Name() string                                   { return s.name }
func (namedStub) Reset(context.Context) error                      { return nil }
func (namedStub) Fields(domain.InputRow) []Field                   { return nil }
func (namedStub) ReadField(context.Context, Field) (string, error) { return "", nil }
func (namedStub) EnterField(context.Context, Field) error          { return nil }
func (namedStub) Submit(context.Context) error                     { return nil }
func (namedStub) Restore(context.Context) error                    { return nil }
func (namedStub) Await(context.Context) (PageState, error)         { return PageResults, nil }
func (namedStub) Extract(context.Context, domain.InputRow) ([]domain.ResultRecord, error) {
	return nil, nil
}

func TestMatches_SubstringCaseInsensitive(t *testing.T) {
	f := Field{Name: "origin", Kind: FieldCombobox, Want: "ABJ"}

	require.True(t, Matches(f, "Abidjan (ABJ)"))
	require.True(t, Matches(f, "abj"))
	require.False(t, Matches(f, "Addis Ababa (ADD)"))
	require.False(t, Matches(f, "   "))
}

func TestMatches_Pattern(t *testing.T) {
	f := Field{Name: "trip_type", Want: "One Way", Pattern: regexp.MustCompile(`(?i)^one\s*way$`)}

	require.True(t, Matches(f, "One Way"))
	require.True(t, Matches(f, "oneway"))
	require.False(t, Matches(f, "One Way Trip"))
}

func TestRegistry_DuplicateAndLookup(t *testing.T) {
	_, err := NewRegistry(namedStub{"skywards-ph"}, namedStub{"SKYWARDS-PH"})
	require.Error(t, err)

	reg, err := NewRegistry(namedStub{"skywards-us"}, namedStub{"skywards-ph"})
	require.NoError(t, err)

	p, ok := reg.Get(" Skywards-PH ")
	require.True(t, ok)
	require.Equal(t, "skywards-ph", p.Name())
	require.Equal(t, []string{"skywards-ph", "skywards-us"}, reg.Names())

	_, ok = reg.Get("nope")
	require.False(t, ok)

	_, err = reg.Resolve("nope")
	require.ErrorContains(t, err, "skywards-ph, skywards-us")

	var empty Registry
	_, ok = empty.Get("skywards-ph")
	require.False(t, ok)
}

func TestErrors_Classification(t *testing.T) {
	wrapped := &Error{Provider: "skywards-ph", Stage: "submit", Err: fmt.Errorf("click: %w", ErrSessionClosed)}
	require.True(t, IsSessionClosed(wrapped))

	var pe *Error
	require.True(t, errors.As(wrapped, &pe))
	require.Equal(t, "submit", pe.Stage)

	fe := &FillError{Field: "origin", Want: "ABJ", Got: "", Attempts: 3}
	require.Contains(t, fe.Error(), "3 次尝试")

	be := &BlockedError{Reason: "HTTP 403"}
	require.Equal(t, "blocked: HTTP 403", be.Error())
}
