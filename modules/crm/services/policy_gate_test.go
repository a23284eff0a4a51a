package services_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadloop/leadloop/modules/crm/domain/aggregates/lead"
	"github.com/leadloop/leadloop/modules/crm/domain/entities/convthread"
	"github.com/leadloop/leadloop/modules/crm/domain/entities/policydecision"
	"github.com/leadloop/leadloop/modules/crm/domain/entities/workspace"
	"github.com/leadloop/leadloop/modules/crm/services"
)

func TestPolicyGate_PreSend_AllChecksPassed(t *testing.T) {
	t.Parallel()
	f := setupTest(t)
	w := f.newWorkspace(t)
	l := f.newLead(t)

	decision, err := f.newGate().CheckPreSend(f.ctx, l, w)
	require.NoError(t, err)

	assert.Equal(t, policydecision.OutcomePass, decision.Outcome())
	assert.Equal(t, policydecision.ReasonAllChecksPassed, decision.Reason())
	assert.Equal(t, policydecision.PointPreSend, decision.Point())

	recorded, err := f.decisions.ListByLead(f.ctx, l.ID())
	require.NoError(t, err)
	require.Len(t, recorded, 1)
	assert.Equal(t, decision.ID(), recorded[0].ID())
}

func TestPolicyGate_PreSend_OptOutSuppression(t *testing.T) {
	t.Parallel()
	f := setupTest(t)
	w := f.newWorkspace(t)

	for _, l := range []lead.Lead{
		f.newLead(t, lead.WithOptedOut(true)),
		f.newLead(t, lead.WithStage(lead.StageSuppressed)),
	} {
		decision, err := f.newGate().CheckPreSend(f.ctx, l, w)
		require.NoError(t, err)
		assert.Equal(t, policydecision.OutcomeBlock, decision.Outcome())
		assert.Equal(t, policydecision.ReasonOptOutSuppression, decision.Reason())
	}
}

func TestPolicyGate_PreSend_HumanTakeover(t *testing.T) {
	t.Parallel()
	f := setupTest(t)
	w := f.newWorkspace(t)
	l := f.newLead(t, lead.WithStage(lead.StageTakeOver))

	decision, err := f.newGate().CheckPreSend(f.ctx, l, w)
	require.NoError(t, err)
	assert.Equal(t, policydecision.ReasonHumanTakeoverActive, decision.Reason())
}

func TestPolicyGate_PreSend_OutboundCap(t *testing.T) {
	t.Parallel()
	f := setupTest(t)
	w := f.newWorkspace(t)
	l := f.newLead(t)

	// One outbound an hour ago puts the lead inside the 24h cap window.
	msg := convthread.MustNewMessage(convthread.RoleModel, "checking in", testNow.Add(-time.Hour))
	require.NoError(t, f.threads.Append(f.ctx, l.ID(), msg))

	decision, err := f.newGate().CheckPreSend(f.ctx, l, w)
	require.NoError(t, err)
	assert.Equal(t, policydecision.OutcomeBlock, decision.Outcome())
	assert.Equal(t, policydecision.ReasonOutboundCap24h, decision.Reason())
}

func TestPolicyGate_PreSend_OutboundCapExpired(t *testing.T) {
	t.Parallel()
	f := setupTest(t)
	w := f.newWorkspace(t)
	l := f.newLead(t)

	msg := convthread.MustNewMessage(convthread.RoleModel, "checking in", testNow.Add(-25*time.Hour))
	require.NoError(t, f.threads.Append(f.ctx, l.ID(), msg))
	reply := convthread.MustNewMessage(convthread.RoleUser, "tell me more", testNow.Add(-24*time.Hour))
	require.NoError(t, f.threads.Append(f.ctx, l.ID(), reply))

	decision, err := f.newGate().CheckPreSend(f.ctx, l, w)
	require.NoError(t, err)
	assert.Equal(t, policydecision.OutcomePass, decision.Outcome())
}

func TestPolicyGate_PreSend_QuietHours(t *testing.T) {
	t.Parallel()
	f := setupTest(t)
	w := f.newWorkspace(t)
	// 12:00 UTC is 21:00 in Tokyo, the start of the quiet window.
	l := f.newLead(t, lead.WithTimezone("Asia/Tokyo"))

	decision, err := f.newGate().CheckPreSend(f.ctx, l, w)
	require.NoError(t, err)
	assert.Equal(t, policydecision.OutcomeBlock, decision.Outcome())
	assert.Equal(t, policydecision.ReasonQuietHoursActive, decision.Reason())
}

func TestPolicyGate_PreSend_SundayHold(t *testing.T) {
	t.Parallel()
	f := setupTest(t)
	w := f.newWorkspace(t, workspace.WithSundayHold(true))
	l := f.newLead(t)

	sunday := time.Date(2025, time.March, 16, 12, 0, 0, 0, time.UTC)
	gate := f.newGate(func(cfg *services.PolicyGateConfig) {
		cfg.Clock = func() time.Time { return sunday }
	})

	decision, err := gate.CheckPreSend(f.ctx, l, w)
	require.NoError(t, err)
	assert.Equal(t, policydecision.ReasonSundayHold, decision.Reason())

	// Without the hold the same Sunday is sendable.
	openWorkspace := f.newWorkspace(t)
	decision, err = gate.CheckPreSend(f.ctx, l, openWorkspace)
	require.NoError(t, err)
	assert.Equal(t, policydecision.OutcomePass, decision.Outcome())
}

func TestPolicyGate_PreSend_StopRuleMaxUnanswered(t *testing.T) {
	t.Parallel()
	f := setupTest(t)
	w := f.newWorkspace(t)
	l := f.newLead(t)

	// Five unanswered outbounds, all older than the cap window so the stop
	// rule is the one that fires.
	for i := 0; i < 5; i++ {
		at := testNow.Add(-time.Duration(30-i) * 24 * time.Hour)
		msg := convthread.MustNewMessage(convthread.RoleModel, "ping", at)
		require.NoError(t, f.threads.Append(f.ctx, l.ID(), msg))
	}

	decision, err := f.newGate().CheckPreSend(f.ctx, l, w)
	require.NoError(t, err)
	assert.Equal(t, policydecision.OutcomeBlock, decision.Outcome())
	assert.Equal(t, policydecision.ReasonStopRuleMaxUnanswered, decision.Reason())
}

func TestPolicyGate_PreSend_FirstTriggeredRuleWins(t *testing.T) {
	t.Parallel()
	f := setupTest(t)
	w := f.newWorkspace(t, workspace.WithSundayHold(true))
	// Opted out AND in takeover AND inside quiet hours: the recorded reason
	// must be the first rule in evaluation order.
	l := f.newLead(t,
		lead.WithOptedOut(true),
		lead.WithStage(lead.StageTakeOver),
		lead.WithTimezone("Asia/Tokyo"),
	)

	decision, err := f.newGate().CheckPreSend(f.ctx, l, w)
	require.NoError(t, err)
	assert.Equal(t, policydecision.ReasonOptOutSuppression, decision.Reason())

	recorded, err := f.decisions.ListByLead(f.ctx, l.ID())
	require.NoError(t, err)
	assert.Len(t, recorded, 1)
}

func TestPolicyGate_PreSend_MissingState(t *testing.T) {
	t.Parallel()
	f := setupTest(t)
	l := f.newLead(t)

	_, err := f.newGate().CheckPreSend(f.ctx, l, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrDataIntegrity)
}

func TestPolicyGate_PostGen_LowConfidence(t *testing.T) {
	t.Parallel()
	f := setupTest(t)
	f.newWorkspace(t)
	l := f.newLead(t)

	decision, err := f.newGate().CheckPostGen(f.ctx, l, services.DraftSnapshot{
		Content:    "Happy to help with pricing.",
		Confidence: 0.4,
	})
	require.NoError(t, err)
	assert.Equal(t, policydecision.OutcomeBlock, decision.Outcome())
	assert.Equal(t, policydecision.ReasonLowConfidenceBlock, decision.Reason())
	assert.Equal(t, "Happy to help with pricing.", decision.Draft())

	tagged, err := f.leads.GetByID(f.ctx, l.ID())
	require.NoError(t, err)
	assert.True(t, tagged.HasTag(lead.TagStrategyReviewRequired))
}

func TestPolicyGate_PostGen_RiskyContent(t *testing.T) {
	t.Parallel()
	f := setupTest(t)
	f.newWorkspace(t)
	l := f.newLead(t)

	decision, err := f.newGate().CheckPostGen(f.ctx, l, services.DraftSnapshot{
		Content:    "This is definitely not a SCAM, trust me.",
		Confidence: 0.99,
	})
	require.NoError(t, err)
	assert.Equal(t, policydecision.OutcomeBlock, decision.Outcome())
	assert.Equal(t, policydecision.ReasonRiskyContentBlock, decision.Reason())
}

func TestPolicyGate_PostGen_ContentAccepted(t *testing.T) {
	t.Parallel()
	f := setupTest(t)
	f.newWorkspace(t)
	l := f.newLead(t)

	decision, err := f.newGate().CheckPostGen(f.ctx, l, services.DraftSnapshot{
		Content:    "Would Tuesday at 3pm work for a quick call?",
		Confidence: 0.9,
	})
	require.NoError(t, err)
	assert.Equal(t, policydecision.OutcomePass, decision.Outcome())
	assert.Equal(t, policydecision.ReasonContentAccepted, decision.Reason())
	assert.Empty(t, decision.Draft())

	fresh, err := f.leads.GetByID(f.ctx, l.ID())
	require.NoError(t, err)
	assert.False(t, fresh.HasTag(lead.TagStrategyReviewRequired))
}
