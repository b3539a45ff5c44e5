package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/roach88/tapsync/internal/routing"
)

//go:embed schema.cue
var schemaSource string

// Validate checks c against the schema and the routing rules. All
// problems are reported, each as a *routing.ValidationError, joined with
// errors.Join.
func Validate(c *Config) error {
	problems, err := schemaProblems(c)
	if err != nil {
		return err
	}

	seen := make(map[string]bool, len(problems))
	for _, p := range problems {
		seen[p.Field] = true
	}
	add := func(err error) {
		var verr *routing.ValidationError
		if !errors.As(err, &verr) {
			problems = append(problems, &routing.ValidationError{Message: err.Error()})
			return
		}
		if !seen[verr.Field] {
			seen[verr.Field] = true
			problems = append(problems, verr)
		}
	}

	if err := c.Table().Validate(); err != nil {
		for _, e := range unjoin(err) {
			add(e)
		}
	}
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		add(&routing.ValidationError{Field: "listen", Message: err.Error()})
	}

	if len(problems) == 0 {
		return nil
	}
	errs := make([]error, len(problems))
	for i, p := range problems {
		errs[i] = p
	}
	return errors.Join(errs...)
}

// schemaProblems unifies c with #Config. The returned error is non-nil
// only if the schema itself cannot be used.
func schemaProblems(c *Config) ([]*routing.ValidationError, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile config schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath("#Config"))

	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	v := ctx.CompileBytes(data, cue.Filename("config.json"))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile config: %w", err)
	}

	err = def.Unify(v).Validate(cue.Concrete(true))
	if err == nil {
		return nil, nil
	}

	var problems []*routing.ValidationError
	seen := make(map[string]bool)
	for _, e := range cueerrors.Errors(err) {
		field := strings.Join(e.Path(), ".")
		if seen[field] {
			continue
		}
		seen[field] = true
		format, args := e.Msg()
		problems = append(problems, &routing.ValidationError{
			Field:   field,
			Message: fmt.Sprintf(format, args...),
		})
	}
	return problems, nil
}

func unjoin(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}

// Problems lists the validation errors carried by an error returned from
// Validate.
func Problems(err error) []*routing.ValidationError {
	var out []*routing.ValidationError
	for _, e := range unjoin(err) {
		var verr *routing.ValidationError
		if errors.As(e, &verr) {
			out = append(out, verr)
			continue
		}
		out = append(out, &routing.ValidationError{Message: e.Error()})
	}
	return out
}
