package data_quality

import (
	"context"
	"dataquality-service/service/config"
	"dataquality-service/service/models"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type namedValidator struct{ name string }

func (v namedValidator) Name() string { return v.name }

func (v namedValidator) Validate(ctx context.Context, vc *ValidationContext) ([]models.ValidationResult, []models.ValidationMetric, error) {
	return nil, nil, nil
}

func TestDefaultRegistry_ResolvesAllInOrder(t *testing.T) {
	r := NewDefaultRegistry()
	assert.Equal(t, []string{
		CountValidatorName,
		CompletenessValidatorName,
		FormatValidatorName,
		RelationshipValidatorName,
		BusinessRuleValidatorName,
	}, r.Names())

	validators, err := r.Resolve(&config.EntityConfig{Name: "orders"})
	require.NoError(t, err)
	assert.Len(t, validators, 5)
}

func TestRegistry_ResolveConfiguredSubsetAndEntitySpecific(t *testing.T) {
	r := NewDefaultRegistry()
	r.RegisterForEntity("orders", namedValidator{name: "orders_custom"})

	validators, err := r.Resolve(&config.EntityConfig{
		Name:       "orders",
		Validators: []string{CompletenessValidatorName, CountValidatorName},
	})
	require.NoError(t, err)

	var names []string
	for _, v := range validators {
		names = append(names, v.Name())
	}
	assert.Equal(t, []string{CompletenessValidatorName, CountValidatorName, "orders_custom"}, names)

	others, err := r.Resolve(&config.EntityConfig{Name: "customers", Validators: []string{CountValidatorName}})
	require.NoError(t, err)
	assert.Len(t, others, 1)
}

func TestRegistry_Errors(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(namedValidator{name: "a"}))
	assert.Error(t, r.Register(namedValidator{name: "a"}))
	assert.Error(t, r.Register(namedValidator{name: ""}))

	_, err := r.Resolve(&config.EntityConfig{Name: "orders", Validators: []string{"missing"}})
	assert.Error(t, err)
}
