package routing

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestParseTarget(t *testing.T) {
	tests := []struct {
		in   string
		want Target
	}{
		{"ma3", TargetConsole},
		{"  Resolume ", TargetVJ},
		{"HEAVYM", TargetMapping},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTarget(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, name := range []string{"obs", "grandma", "console", "vj", "mapping", ""} {
		_, err := ParseTarget(name)
		assert.ErrorIs(t, err, ErrUnknownTarget, "%q is not a target name", name)
	}
}

func TestDefault_IsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestClone_IsDeep(t *testing.T) {
	orig := Default()
	orig.Console.Extras = []ConsoleExtra{{Master: "3.2", Multiplier: 2}}

	c := orig.Clone()
	c.Console.Extras[0].Master = "9.9"
	require.NoError(t, c.SetEnabled(TargetVJ, false))

	assert.Equal(t, "3.2", orig.Console.Extras[0].Master)
	assert.True(t, orig.Endpoint(TargetVJ).Enabled)
}

func TestSetAddress(t *testing.T) {
	tbl := Default()
	require.NoError(t, tbl.SetAddress(TargetMapping, " 10.0.0.5 ", 9500))
	assert.Equal(t, Endpoint{Enabled: true, IP: "10.0.0.5", Port: 9500}, tbl.Endpoint(TargetMapping))

	require.NoError(t, tbl.SetAddress(TargetVJ, "vj-box.local", 7000))

	var verr *ValidationError
	err := tbl.SetAddress(TargetMapping, "10.0.0.5", 0)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "port", verr.Field)

	err = tbl.SetAddress(TargetMapping, "not an ip", 9000)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "ip", verr.Field)

	assert.Equal(t, 9500, tbl.Endpoint(TargetMapping).Port, "rejected updates leave the table unchanged")

	err = tbl.SetAddress(Target("obs"), "10.0.0.1", 1)
	assert.ErrorIs(t, err, ErrUnknownTarget)
}

func TestSetConsole(t *testing.T) {
	tbl := Default()

	require.NoError(t, tbl.SetConsole(ptr("4.1"), nil))
	assert.Equal(t, "4.1", tbl.Console.PrimaryMaster)
	assert.Empty(t, tbl.Console.Extras)

	extras := []ConsoleExtra{{Master: "4.2", Multiplier: 0.5}, {Master: "4.3", Multiplier: 0}}
	require.NoError(t, tbl.SetConsole(nil, extras))
	assert.Equal(t, extras, tbl.Console.Extras)

	err := tbl.SetConsole(nil, []ConsoleExtra{{Master: "4.4", Multiplier: 3}})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "ma3_osc.extras[0].multiplier", verr.Field)
	assert.Len(t, tbl.Console.Extras, 2)

	assert.Error(t, tbl.SetConsole(nil, nil))
	assert.Error(t, tbl.SetConsole(ptr("  "), nil))
}

func TestSetMapping(t *testing.T) {
	tbl := Default()

	require.NoError(t, tbl.SetMapping(MappingUpdate{
		BPMAddress:     ptr("/heavym/bpm"),
		BPMMin:         ptr(60.0),
		BPMMax:         ptr(180.0),
		ResyncSendZero: ptr(true),
	}))
	assert.Equal(t, "/heavym/bpm", tbl.Mapping.BPMAddress)
	assert.Equal(t, 60.0, tbl.Mapping.BPMMin)
	assert.Equal(t, 180.0, tbl.Mapping.BPMMax)
	assert.True(t, tbl.Mapping.ResyncSendZero)
	assert.Equal(t, DefaultResyncAddress, tbl.Mapping.ResyncAddress)
}

func TestSetMapping_RejectsMaxNotAboveMin(t *testing.T) {
	tbl := Default()
	before := tbl.Mapping

	for _, u := range []MappingUpdate{
		{BPMMax: ptr(10.0)},
		{BPMMin: ptr(999.0)},
		{BPMMin: ptr(100.0), BPMMax: ptr(100.0)},
	} {
		err := tbl.SetMapping(u)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "heavym_osc.bpm_max", verr.Field)
	}
	assert.Equal(t, before, tbl.Mapping)
}

func TestSetMapping_RejectsBadAddress(t *testing.T) {
	tbl := Default()

	err := tbl.SetMapping(MappingUpdate{ResyncAddress: ptr("resync")})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "heavym_osc.resync_address", verr.Field)

	assert.Error(t, tbl.SetMapping(MappingUpdate{}))
}

func TestValidate_CollectsAllProblems(t *testing.T) {
	tbl := Default()
	tbl.Endpoints[TargetConsole] = Endpoint{IP: "", Port: 70000}
	tbl.Mapping.BPMMax = 1

	err := tbl.Validate()
	require.Error(t, err)

	var fields []string
	for _, e := range err.(interface{ Unwrap() []error }).Unwrap() {
		var verr *ValidationError
		if errors.As(e, &verr) {
			fields = append(fields, verr.Field)
		}
	}
	assert.Equal(t, []string{"outputs.ma3.ip", "outputs.ma3.port", "heavym_osc.bpm_max"}, fields)
}
