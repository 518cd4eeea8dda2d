package commission

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidbanez/park-angel-settlement/internal/audit"
	"github.com/davidbanez/park-angel-settlement/internal/common"
	"github.com/davidbanez/park-angel-settlement/internal/model"
	"github.com/davidbanez/park-angel-settlement/internal/storage"
)

func createTestEngine(t *testing.T) (*RuleEngine, *storage.SQLiteStorage) {
	t.Helper()

	store, err := storage.NewSQLiteStorage(t.TempDir() + "/test.db")
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { _ = store.Close() })

	return NewRuleEngine(store, audit.NewTrail(store, nil)), store
}

func pct(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCreateRule(t *testing.T) {
	engine, store := createTestEngine(t)
	ctx := context.Background()

	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rule, err := engine.CreateRule(ctx, CreateRuleInput{
		Category:        model.CategoryStreet,
		PlatformPercent: pct("30"),
		PartnerPercent:  pct("70"),
		EffectiveFrom:   from,
		ActorID:         "admin",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rule.ID)
	assert.True(t, rule.Active)

	// Creation is audited.
	trail, err := store.GetAuditTrail(ctx, rule.ID, model.EntityCommissionRule, nil)
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, "create", trail[0].Action)
	assert.Equal(t, "admin", trail[0].ActorID)
}

func TestCreateRuleValidation(t *testing.T) {
	engine, _ := createTestEngine(t)
	ctx := context.Background()

	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	before := from.AddDate(0, -1, 0)

	tests := []struct {
		name    string
		input   CreateRuleInput
		wantErr func(error) bool
	}{
		{
			name: "percentages must sum to 100",
			input: CreateRuleInput{
				Category:        model.CategoryStreet,
				PlatformPercent: pct("30"),
				PartnerPercent:  pct("69.99"),
				EffectiveFrom:   from,
			},
			wantErr: common.IsBusinessRuleViolation,
		},
		{
			name: "sum over 100 rejected",
			input: CreateRuleInput{
				Category:        model.CategoryHosted,
				PlatformPercent: pct("50"),
				PartnerPercent:  pct("50.01"),
				EffectiveFrom:   from,
			},
			wantErr: common.IsBusinessRuleViolation,
		},
		{
			name: "negative percentage rejected",
			input: CreateRuleInput{
				Category:        model.CategoryStreet,
				PlatformPercent: pct("-10"),
				PartnerPercent:  pct("110"),
				EffectiveFrom:   from,
			},
			wantErr: common.IsValidation,
		},
		{
			name: "unknown category",
			input: CreateRuleInput{
				Category:        model.Category("valet"),
				PlatformPercent: pct("30"),
				PartnerPercent:  pct("70"),
				EffectiveFrom:   from,
			},
			wantErr: common.IsValidation,
		},
		{
			name: "missing effective-from",
			input: CreateRuleInput{
				Category:        model.CategoryStreet,
				PlatformPercent: pct("30"),
				PartnerPercent:  pct("70"),
			},
			wantErr: common.IsValidation,
		},
		{
			name: "effective-to before effective-from",
			input: CreateRuleInput{
				Category:        model.CategoryStreet,
				PlatformPercent: pct("30"),
				PartnerPercent:  pct("70"),
				EffectiveFrom:   from,
				EffectiveTo:     &before,
			},
			wantErr: common.IsValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.CreateRule(ctx, tt.input)
			require.Error(t, err)
			assert.True(t, tt.wantErr(err), "unexpected error kind: %v", err)
		})
	}
}

func TestCreateRuleZeroPlatformShare(t *testing.T) {
	engine, _ := createTestEngine(t)

	// A 0/100 split is a valid promotion configuration.
	rule, err := engine.CreateRule(context.Background(), CreateRuleInput{
		Category:        model.CategoryHosted,
		PlatformPercent: pct("0"),
		PartnerPercent:  pct("100"),
		EffectiveFrom:   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.True(t, rule.PlatformPercent.IsZero())
}

func TestResolveActiveRuleFallsBackToDefault(t *testing.T) {
	engine, _ := createTestEngine(t)
	ctx := context.Background()
	asOf := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		category    model.Category
		wantPartner string
	}{
		{model.CategoryStreet, "70"},
		{model.CategoryFacility, "70"},
		{model.CategoryHosted, "60"},
	}
	for _, tt := range tests {
		t.Run(string(tt.category), func(t *testing.T) {
			rule, err := engine.ResolveActiveRule(ctx, tt.category, asOf)
			require.NoError(t, err)
			assert.Equal(t, "platform-default-"+string(tt.category), rule.ID)
			assert.True(t, rule.PartnerPercent.Equal(pct(tt.wantPartner)))
			assert.True(t, rule.PercentSum().Equal(model.Hundred))
		})
	}
}

func TestResolveActiveRulePrefersStoredRule(t *testing.T) {
	engine, _ := createTestEngine(t)
	ctx := context.Background()

	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	stored, err := engine.CreateRule(ctx, CreateRuleInput{
		Category:        model.CategoryStreet,
		PlatformPercent: pct("25"),
		PartnerPercent:  pct("75"),
		EffectiveFrom:   from,
	})
	require.NoError(t, err)

	// Covered instant resolves to the stored rule.
	rule, err := engine.ResolveActiveRule(ctx, model.CategoryStreet, from.AddDate(0, 2, 0))
	require.NoError(t, err)
	assert.Equal(t, stored.ID, rule.ID)

	// Before the stored window the default applies.
	rule, err = engine.ResolveActiveRule(ctx, model.CategoryStreet, from.AddDate(0, 0, -1))
	require.NoError(t, err)
	assert.Equal(t, "platform-default-street", rule.ID)
}

func TestDeactivateRule(t *testing.T) {
	engine, store := createTestEngine(t)
	ctx := context.Background()

	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rule, err := engine.CreateRule(ctx, CreateRuleInput{
		Category:        model.CategoryFacility,
		PlatformPercent: pct("30"),
		PartnerPercent:  pct("70"),
		EffectiveFrom:   from,
		ActorID:         "admin",
	})
	require.NoError(t, err)

	require.NoError(t, engine.DeactivateRule(ctx, rule.ID, "admin"))

	// Resolution reverts to the default rather than the deactivated rule.
	resolved, err := engine.ResolveActiveRule(ctx, model.CategoryFacility, from.AddDate(0, 1, 0))
	require.NoError(t, err)
	assert.Equal(t, "platform-default-facility", resolved.ID)

	trail, err := store.GetAuditTrail(ctx, rule.ID, model.EntityCommissionRule, nil)
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, "deactivate", trail[0].Action)

	assert.ErrorIs(t, engine.DeactivateRule(ctx, "missing", "admin"), common.ErrNotFound)
}

func TestListRules(t *testing.T) {
	engine, _ := createTestEngine(t)
	ctx := context.Background()
	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	for _, cat := range []model.Category{model.CategoryStreet, model.CategoryHosted} {
		partner := "70"
		platform := "30"
		if cat == model.CategoryHosted {
			partner, platform = "60", "40"
		}
		_, err := engine.CreateRule(ctx, CreateRuleInput{
			Category:        cat,
			PlatformPercent: pct(platform),
			PartnerPercent:  pct(partner),
			EffectiveFrom:   from,
		})
		require.NoError(t, err)
	}

	street := model.CategoryStreet
	rules, err := engine.ListRules(ctx, &street)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, model.CategoryStreet, rules[0].Category)

	all, err := engine.ListRules(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
