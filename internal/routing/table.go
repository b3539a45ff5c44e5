// Package routing holds the per-output enablement, endpoint, and value
// mapping configuration read by the output adapters.
//
// A Table is a plain value. The tempo engine owns the live table and hands
// out deep copies with every event, so an adapter always reads the routing
// that was current when the event was produced.
package routing

import (
	"errors"
	"fmt"
	"net/netip"
	"regexp"
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Target names one of the fixed downstream outputs.
type Target string

const (
	// TargetConsole is the lighting console (grandMA3 command line).
	TargetConsole Target = "ma3"
	// TargetVJ is the VJ software (Resolume tempo controller).
	TargetVJ Target = "resolume"
	// TargetMapping is the projection mapping software (HeavyM).
	TargetMapping Target = "heavym"
)

// Targets lists every output in a stable order.
var Targets = []Target{TargetConsole, TargetVJ, TargetMapping}

// ErrUnknownTarget is returned for names that are not one of Targets.
var ErrUnknownTarget = errors.New("unknown output target")

// Multipliers allowed for console extras. Zero switches an extra off.
var Multipliers = []float64{0, 0.5, 1, 2}

var folder = cases.Fold()

// ParseTarget normalizes an operator-supplied target name.
func ParseTarget(s string) (Target, error) {
	name := folder.String(norm.NFC.String(strings.TrimSpace(s)))
	for _, t := range Targets {
		if string(t) == name {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTarget, s)
}

// Endpoint is the enablement and network address of one output.
type Endpoint struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	IP      string `json:"ip" yaml:"ip"`
	Port    int    `json:"port" yaml:"port"`
}

// ConsoleExtra is a secondary console master driven at a multiple of the
// tempo.
type ConsoleExtra struct {
	Master     string  `json:"master" yaml:"master"`
	Multiplier float64 `json:"multiplier" yaml:"multiplier"`
}

// ConsoleParams configures the console command line messages.
type ConsoleParams struct {
	PrimaryMaster string         `json:"primary_master" yaml:"primary_master"`
	Extras        []ConsoleExtra `json:"extras" yaml:"extras"`
}

// MappingParams configures the mapping software messages.
type MappingParams struct {
	BPMAddress     string  `json:"bpm_address" yaml:"bpm_address"`
	ResyncAddress  string  `json:"resync_address" yaml:"resync_address"`
	BPMMin         float64 `json:"bpm_min" yaml:"bpm_min"`
	BPMMax         float64 `json:"bpm_max" yaml:"bpm_max"`
	ResyncValue    float64 `json:"resync_value" yaml:"resync_value"`
	ResyncSendZero bool    `json:"resync_send_zero" yaml:"resync_send_zero"`
}

// MappingUpdate is a partial update of MappingParams. Nil fields are left
// unchanged.
type MappingUpdate struct {
	BPMAddress     *string
	ResyncAddress  *string
	BPMMin         *float64
	BPMMax         *float64
	ResyncValue    *float64
	ResyncSendZero *bool
}

// Empty reports whether the update changes nothing.
func (u MappingUpdate) Empty() bool {
	return u.BPMAddress == nil && u.ResyncAddress == nil && u.BPMMin == nil &&
		u.BPMMax == nil && u.ResyncValue == nil && u.ResyncSendZero == nil
}

// Table is the complete routing configuration.
type Table struct {
	Endpoints map[Target]Endpoint
	Console   ConsoleParams
	Mapping   MappingParams
}

// Default values match the stock receiver setups on a single machine.
const (
	DefaultConsolePort    = 8001
	DefaultVJPort         = 7000
	DefaultMappingPort    = 9000
	DefaultPrimaryMaster  = "3.1"
	DefaultBPMAddress     = "/bpm-tap-sync/bpm"
	DefaultResyncAddress  = "/bpm-tap-sync/resync"
	DefaultMappingBPMMin  = 20.0
	DefaultMappingBPMMax  = 999.0
	DefaultResyncValue    = 1.0
	defaultLoopbackTarget = "127.0.0.1"
)

// Default returns the routing used when no configuration is supplied.
func Default() Table {
	return Table{
		Endpoints: map[Target]Endpoint{
			TargetConsole: {Enabled: true, IP: defaultLoopbackTarget, Port: DefaultConsolePort},
			TargetVJ:      {Enabled: true, IP: defaultLoopbackTarget, Port: DefaultVJPort},
			TargetMapping: {Enabled: true, IP: defaultLoopbackTarget, Port: DefaultMappingPort},
		},
		Console: ConsoleParams{
			PrimaryMaster: DefaultPrimaryMaster,
			Extras:        []ConsoleExtra{},
		},
		Mapping: MappingParams{
			BPMAddress:    DefaultBPMAddress,
			ResyncAddress: DefaultResyncAddress,
			BPMMin:        DefaultMappingBPMMin,
			BPMMax:        DefaultMappingBPMMax,
			ResyncValue:   DefaultResyncValue,
		},
	}
}

// Clone returns a deep copy.
func (t Table) Clone() Table {
	c := t
	c.Endpoints = make(map[Target]Endpoint, len(t.Endpoints))
	for k, v := range t.Endpoints {
		c.Endpoints[k] = v
	}
	c.Console.Extras = slices.Clone(t.Console.Extras)
	if c.Console.Extras == nil {
		c.Console.Extras = []ConsoleExtra{}
	}
	return c
}

// Endpoint returns the endpoint for target. Unknown targets report a
// disabled zero endpoint.
func (t Table) Endpoint(target Target) Endpoint {
	return t.Endpoints[target]
}

// SetEnabled switches an output on or off.
func (t *Table) SetEnabled(target Target, enabled bool) error {
	ep, ok := t.Endpoints[target]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTarget, target)
	}
	ep.Enabled = enabled
	t.Endpoints[target] = ep
	return nil
}

// SetAddress points an output at a new host and port.
func (t *Table) SetAddress(target Target, ip string, port int) error {
	ep, ok := t.Endpoints[target]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTarget, target)
	}
	ip = strings.TrimSpace(ip)
	if err := ValidateHost(ip); err != nil {
		return err
	}
	if err := ValidatePort(port); err != nil {
		return err
	}
	ep.IP, ep.Port = ip, port
	t.Endpoints[target] = ep
	return nil
}

// SetConsole updates the console masters. A nil primary or nil extras
// leaves that part unchanged; at least one must be given.
func (t *Table) SetConsole(primary *string, extras []ConsoleExtra) error {
	if primary == nil && extras == nil {
		return &ValidationError{Field: "ma3_osc", Message: "no console settings provided"}
	}
	next := t.Console
	if primary != nil {
		next.PrimaryMaster = strings.TrimSpace(*primary)
	}
	if extras != nil {
		next.Extras = slices.Clone(extras)
	}
	if err := next.Validate(); err != nil {
		return err
	}
	t.Console = next
	return nil
}

// SetMapping applies a partial update to the mapping parameters. The
// result is validated as a whole, so a new bpm_max below the current
// bpm_min is rejected and nothing changes.
func (t *Table) SetMapping(u MappingUpdate) error {
	if u.Empty() {
		return &ValidationError{Field: "heavym_osc", Message: "no mapping settings provided"}
	}
	next := t.Mapping
	if u.BPMAddress != nil {
		next.BPMAddress = strings.TrimSpace(*u.BPMAddress)
	}
	if u.ResyncAddress != nil {
		next.ResyncAddress = strings.TrimSpace(*u.ResyncAddress)
	}
	if u.BPMMin != nil {
		next.BPMMin = *u.BPMMin
	}
	if u.BPMMax != nil {
		next.BPMMax = *u.BPMMax
	}
	if u.ResyncValue != nil {
		next.ResyncValue = *u.ResyncValue
	}
	if u.ResyncSendZero != nil {
		next.ResyncSendZero = *u.ResyncSendZero
	}
	if err := next.Validate(); err != nil {
		return err
	}
	t.Mapping = next
	return nil
}

// Validate checks the whole table.
func (t Table) Validate() error {
	var errs []error
	for _, target := range Targets {
		ep, ok := t.Endpoints[target]
		if !ok {
			errs = append(errs, &ValidationError{Field: "outputs." + string(target), Message: "missing"})
			continue
		}
		if err := ValidateHost(ep.IP); err != nil {
			errs = append(errs, prefixed("outputs."+string(target), err))
		}
		if err := ValidatePort(ep.Port); err != nil {
			errs = append(errs, prefixed("outputs."+string(target), err))
		}
	}
	if err := t.Console.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := t.Mapping.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Validate checks the console parameters.
func (p ConsoleParams) Validate() error {
	if p.PrimaryMaster == "" {
		return &ValidationError{Field: "ma3_osc.primary_master", Message: "must not be empty"}
	}
	for i, extra := range p.Extras {
		field := fmt.Sprintf("ma3_osc.extras[%d]", i)
		if strings.TrimSpace(extra.Master) == "" {
			return &ValidationError{Field: field + ".master", Message: "must not be empty"}
		}
		if !slices.Contains(Multipliers, extra.Multiplier) {
			return &ValidationError{
				Field:   field + ".multiplier",
				Message: fmt.Sprintf("must be one of %v", Multipliers),
			}
		}
	}
	return nil
}

// Validate checks the mapping parameters.
func (p MappingParams) Validate() error {
	if err := ValidateOSCAddress(p.BPMAddress); err != nil {
		return withField("heavym_osc.bpm_address", err)
	}
	if err := ValidateOSCAddress(p.ResyncAddress); err != nil {
		return withField("heavym_osc.resync_address", err)
	}
	if !(p.BPMMax > p.BPMMin) {
		return &ValidationError{
			Field:   "heavym_osc.bpm_max",
			Message: fmt.Sprintf("must be greater than bpm_min (%g <= %g)", p.BPMMax, p.BPMMin),
		}
	}
	return nil
}

var hostnamePattern = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9.-]*[A-Za-z0-9])?$`)

// ValidateHost accepts IP literals and plain host names.
func ValidateHost(host string) error {
	if host == "" {
		return &ValidationError{Field: "ip", Message: "must not be empty"}
	}
	if _, err := netip.ParseAddr(host); err == nil {
		return nil
	}
	if !hostnamePattern.MatchString(host) {
		return &ValidationError{Field: "ip", Message: fmt.Sprintf("invalid address %q", host)}
	}
	return nil
}

// ValidatePort accepts 1..65535.
func ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return &ValidationError{Field: "port", Message: fmt.Sprintf("%d out of range 1..65535", port)}
	}
	return nil
}

// ValidateOSCAddress requires a non-empty address starting with '/'.
func ValidateOSCAddress(addr string) error {
	if !strings.HasPrefix(addr, "/") || strings.ContainsAny(addr, " #") {
		return &ValidationError{Field: "address", Message: fmt.Sprintf("invalid OSC address %q", addr)}
	}
	return nil
}
