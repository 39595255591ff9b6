// BlackIce - Behavioral Access Risk Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/blackice

package detection

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tomtom215/blackice/internal/models"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func at(offset time.Duration) models.Timestamp {
	return models.NewTimestamp(t0.Add(offset))
}

func ruleIDs(alerts []models.Alert) []string {
	out := make([]string, len(alerts))
	for i, a := range alerts {
		out[i] = a.RuleID
	}
	return out
}

func TestStuffingBurst_UserAndIP(t *testing.T) {
	d := NewStuffingBurstDetector(DefaultStuffingConfig(), 0)

	var all []models.Alert
	for i := 0; i < 3; i++ {
		ev := models.Event{TS: at(time.Duration(i*10) * time.Second), UserID: "u1", IP: "10.0.0.1", EventType: "login_fail"}
		alerts, err := d.Process(&ev)
		require.NoError(t, err)
		all = append(all, alerts...)
	}

	require.Equal(t, []string{models.RuleStuffingBurstUser, models.RuleStuffingBurstIP}, ruleIDs(all))
	assert.Equal(t, 65, all[0].RiskScore)
	assert.Equal(t, "u1", all[0].UserID)
	assert.Equal(t, 70, all[1].RiskScore)
	assert.Empty(t, all[1].UserID, "ip burst alert must carry only the ip hint")
	assert.Equal(t, "10.0.0.1", all[1].IP)
	assert.Equal(t, 3, all[1].Evidence["failures_in_window"])
}

func TestStuffingBurst_WindowExpiry(t *testing.T) {
	d := NewStuffingBurstDetector(DefaultStuffingConfig(), 0)

	offsets := []time.Duration{0, 30 * time.Second, 91 * time.Second}
	for _, off := range offsets {
		ev := models.Event{TS: at(off), UserID: "u1", EventType: "auth_fail"}
		alerts, err := d.Process(&ev)
		require.NoError(t, err)
		assert.Empty(t, alerts, "failures spread beyond the window must not fire")
	}
}

func TestStuffingBurst_IgnoresSuccessAndEmptyKeys(t *testing.T) {
	d := NewStuffingBurstDetector(DefaultStuffingConfig(), 0)

	for i := 0; i < 5; i++ {
		ok := models.Event{TS: at(time.Duration(i) * time.Second), UserID: "u1", IP: "10.0.0.1", EventType: "login", Outcome: "success"}
		alerts, err := d.Process(&ok)
		require.NoError(t, err)
		assert.Empty(t, alerts)

		anon := models.Event{TS: at(time.Duration(i) * time.Second), EventType: "login_fail"}
		alerts, err = d.Process(&anon)
		require.NoError(t, err)
		assert.Empty(t, alerts)
	}
}

func TestImpossibleTravel(t *testing.T) {
	tests := []struct {
		name   string
		events []models.Event
		fires  bool
	}{
		{
			name: "US then FR after 30 minutes",
			events: []models.Event{
				{TS: at(0), UserID: "u1", Country: "US", IP: "1.1.1.1", DeviceID: "d1", EventType: "login"},
				{TS: at(30 * time.Minute), UserID: "u1", Country: "FR", IP: "2.2.2.2", DeviceID: "d2", EventType: "login"},
			},
			fires: true,
		},
		{
			name: "same country",
			events: []models.Event{
				{TS: at(0), UserID: "u1", Country: "US", EventType: "login"},
				{TS: at(time.Minute), UserID: "u1", Country: "US", EventType: "login"},
			},
		},
		{
			name: "beyond window",
			events: []models.Event{
				{TS: at(0), UserID: "u1", Country: "US", EventType: "login"},
				{TS: at(7 * time.Hour), UserID: "u1", Country: "FR", EventType: "login"},
			},
		},
		{
			name: "event without country is ignored",
			events: []models.Event{
				{TS: at(0), UserID: "u1", Country: "US", EventType: "login"},
				{TS: at(time.Minute), UserID: "u1", EventType: "login"},
				{TS: at(2 * time.Minute), UserID: "u1", Country: "US", EventType: "login"},
			},
		},
		{
			name: "out of order uses absolute delta",
			events: []models.Event{
				{TS: at(time.Hour), UserID: "u1", Country: "US", EventType: "login"},
				{TS: at(0), UserID: "u1", Country: "DE", EventType: "login"},
			},
			fires: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewImpossibleTravelDetector(DefaultImpossibleTravelConfig())
			var all []models.Alert
			for i := range tt.events {
				alerts, err := d.Process(&tt.events[i])
				require.NoError(t, err)
				all = append(all, alerts...)
			}
			if !tt.fires {
				assert.Empty(t, all)
				return
			}
			require.Len(t, all, 1)
			assert.Equal(t, models.RuleImpossibleTravel, all[0].RuleID)
			assert.Equal(t, 85, all[0].RiskScore)
		})
	}
}

func TestImpossibleTravel_Evidence(t *testing.T) {
	d := NewImpossibleTravelDetector(DefaultImpossibleTravelConfig())
	first := models.Event{TS: at(0), UserID: "u1", Country: "US", IP: "1.1.1.1", DeviceID: "d1", EventType: "login"}
	second := models.Event{TS: at(30 * time.Minute), UserID: "u1", Country: "FR", IP: "2.2.2.2", DeviceID: "d2", EventType: "login"}

	_, err := d.Process(&first)
	require.NoError(t, err)
	alerts, err := d.Process(&second)
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	ev := alerts[0].Evidence
	assert.Equal(t, "US", ev["prev_country"])
	assert.Equal(t, "FR", ev["current_country"])
	assert.Equal(t, "1.1.1.1", ev["prev_ip"])
	assert.Equal(t, "2.2.2.2", ev["current_ip"])
	assert.Equal(t, "d1", ev["prev_device"])
	assert.Equal(t, int64(1800), ev["time_delta_seconds"])
	assert.Equal(t, int64(21600), ev["window_seconds"])
}

func TestTokenReuse(t *testing.T) {
	d := NewTokenReuseDetector(DefaultTokenReuseConfig(), 0)

	first := models.Event{TS: at(0), TokenID: "tok1", UserID: "u1", DeviceID: "d1", Country: "US", EventType: "token_use"}
	second := models.Event{TS: at(10 * time.Minute), TokenID: "tok1", UserID: "u1", DeviceID: "d2", Country: "US", EventType: "token_use"}

	alerts, err := d.Process(&first)
	require.NoError(t, err)
	assert.Empty(t, alerts)

	alerts, err = d.Process(&second)
	require.NoError(t, err)
	require.Equal(t, []string{models.RuleTokenReuseMultiDevice}, ruleIDs(alerts))
	assert.Equal(t, 85, alerts[0].RiskScore)
	assert.Equal(t, []string{"d1", "d2"}, alerts[0].Evidence["devices"])
	assert.Equal(t, "tok1", alerts[0].Entity["token_id"])

	third := models.Event{TS: at(20 * time.Minute), TokenID: "tok1", DeviceID: "d2", Country: "FR", EventType: "token_use"}
	alerts, err = d.Process(&third)
	require.NoError(t, err)
	assert.Equal(t, []string{models.RuleTokenReuseMultiDevice, models.RuleTokenReuseMultiCountry}, ruleIDs(alerts))
	assert.Equal(t, 90, alerts[1].RiskScore)
}

func TestTokenReuse_WindowEviction(t *testing.T) {
	d := NewTokenReuseDetector(DefaultTokenReuseConfig(), 0)

	first := models.Event{TS: at(0), TokenID: "tok1", DeviceID: "d1", EventType: "token_use"}
	late := models.Event{TS: at(2 * time.Hour), TokenID: "tok1", DeviceID: "d2", EventType: "token_use"}

	_, err := d.Process(&first)
	require.NoError(t, err)
	alerts, err := d.Process(&late)
	require.NoError(t, err)
	assert.Empty(t, alerts)
}

func TestParseRules(t *testing.T) {
	tests := []struct {
		name  string
		input []string
		want  Selection
		err   bool
	}{
		{name: "empty selects all", input: nil, want: AllRules()},
		{name: "all", input: []string{"all"}, want: AllRules()},
		{name: "comma list", input: []string{"travel, token_reuse"}, want: Selection{TokenReuse: true, ImpossibleTravel: true}},
		{name: "stuffing half", input: []string{"stuffing_ip"}, want: Selection{StuffingIP: true}},
		{name: "case insensitive", input: []string{"STUFFING"}, want: Selection{StuffingUser: true, StuffingIP: true}},
		{name: "unknown", input: []string{"geo"}, err: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRules(tt.input)
			if tt.err {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrUnknownRule)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuild(t *testing.T) {
	engine := NewEngine(Build(AllRules(), DefaultConfig())...)
	assert.Equal(t, []string{DetectorStuffingBurst, DetectorTokenReuse, DetectorImpossibleTravel}, engine.Detectors())

	only := Build(Selection{StuffingIP: true}, DefaultConfig())
	require.Len(t, only, 1)
	sb := only[0].(*StuffingBurstDetector)
	assert.False(t, sb.config.TrackUser)
	assert.True(t, sb.config.TrackIP)
}

// failingDetector errors on every event and panics on one.
type failingDetector struct {
	panicAt int
	calls   int
}

func (f *failingDetector) Name() string { return "failing" }

func (f *failingDetector) Process(ev *models.Event) ([]models.Alert, error) {
	f.calls++
	if f.calls == f.panicAt {
		panic("boom")
	}
	return nil, errors.New("cannot evaluate")
}

func TestEngine_IsolatesDetectorFailures(t *testing.T) {
	failing := &failingDetector{panicAt: 2}
	engine := NewEngine(failing, NewImpossibleTravelDetector(DefaultImpossibleTravelConfig()))

	events := []models.Event{
		{TS: at(0), UserID: "u1", Country: "US", EventType: "login"},
		{TS: at(30 * time.Minute), UserID: "u1", Country: "FR", EventType: "login"},
		{TS: at(40 * time.Minute), UserID: "u1", Country: "US", EventType: "login"},
	}

	res, err := engine.Run(context.Background(), events)
	require.NoError(t, err)

	assert.Equal(t, 3, failing.calls, "failing detector must see every event")
	assert.Equal(t, []string{models.RuleImpossibleTravel, models.RuleImpossibleTravel}, ruleIDs(res.Alerts))
	assert.Equal(t, []string{"failing"}, res.Diagnostics.RulesFailed)
	assert.Equal(t, []string{"failing", DetectorImpossibleTravel}, res.Diagnostics.RulesInvoked)
	require.Len(t, res.Diagnostics.Failures, 3)
	assert.Contains(t, res.Diagnostics.Failures[1].Error, "panic: boom")
	assert.Equal(t, 2, res.Diagnostics.RuleHits[models.RuleImpossibleTravel])
}

func TestEngine_DeterministicOrder(t *testing.T) {
	events := []models.Event{
		{TS: at(0), UserID: "u1", IP: "9.9.9.9", Country: "US", TokenID: "t1", DeviceID: "d1", EventType: "login_fail"},
		{TS: at(time.Second), UserID: "u1", IP: "9.9.9.9", Country: "FR", TokenID: "t1", DeviceID: "d2", EventType: "login_fail"},
		{TS: at(2 * time.Second), UserID: "u1", IP: "9.9.9.9", Country: "FR", TokenID: "t1", DeviceID: "d2", EventType: "login_fail"},
	}

	var first []string
	for i := 0; i < 5; i++ {
		res, err := NewEngine(Build(AllRules(), DefaultConfig())...).Run(context.Background(), events)
		require.NoError(t, err)
		got := ruleIDs(res.Alerts)
		if first == nil {
			first = got
			continue
		}
		assert.Equal(t, first, got)
	}
	assert.NotEmpty(t, first)
}

func TestEngine_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewEngine(Build(AllRules(), DefaultConfig())...).Run(ctx, []models.Event{{TS: at(0), EventType: "login"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSortAlerts(t *testing.T) {
	alerts := []models.Alert{
		{RuleID: "RULE_B", TS: at(time.Second)},
		{RuleID: "RULE_Z", TS: at(0)},
		{RuleID: "RULE_A", TS: at(time.Second)},
		{RuleID: "RULE_A", TS: at(0), UserID: "first"},
		{RuleID: "RULE_A", TS: at(0), UserID: "second"},
	}
	SortAlerts(alerts)

	assert.Equal(t, []string{"RULE_A", "RULE_A", "RULE_Z", "RULE_A", "RULE_B"}, ruleIDs(alerts))
	assert.Equal(t, "first", alerts[0].UserID)
	assert.Equal(t, "second", alerts[1].UserID)
}
