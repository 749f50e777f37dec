package models_test

import (
	"testing"

	"github.com/mmdatafocus/sitestock_backend/models"
	"github.com/mmdatafocus/sitestock_backend/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSite(t *testing.T) {
	ctx := setup(t)

	site := mustSite(t, ctx, "  Block C ")
	assert.Equal(t, "Block C", site.Name)
	require.NotNil(t, site.IsActive)
	assert.True(t, *site.IsActive)

	_, err := models.CreateSite(ctx, &models.NewSite{Name: "block c"})
	var ve *utils.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "duplicate", ve.Fields["name"])

	_, err = models.CreateSite(ctx, &models.NewSite{Name: " "})
	require.ErrorAs(t, err, &ve)

	sites, err := models.ListSites(ctx)
	require.NoError(t, err)
	require.Len(t, sites, 1)

	histories, err := models.GetHistories(ctx, &site.ID, strPtr(models.ReferenceTypeSite))
	require.NoError(t, err)
	assert.Len(t, histories, 1)
}

func TestResolveSite(t *testing.T) {
	ctx := setup(t)
	site := mustSite(t, ctx, "Yard")

	id, name := models.ResolveSiteByName(ctx, tenantA, "YARD ")
	require.NotNil(t, id)
	assert.Equal(t, site.ID, *id)
	assert.Equal(t, "Yard", *name)

	id, name = models.ResolveSiteByName(ctx, tenantA, "unallocated")
	assert.Nil(t, id)
	assert.Nil(t, name)

	id, _ = models.ResolveSiteByName(ctx, tenantB, "Yard")
	assert.Nil(t, id)

	require.NotNil(t, models.ResolveSiteById(ctx, tenantA, site.ID))
	assert.Nil(t, models.ResolveSiteById(ctx, tenantA, site.ID+100))
}

func TestIsUnallocatedSite(t *testing.T) {
	for _, v := range []string{"", " ", "unallocated", "Unallocated", "null"} {
		assert.True(t, models.IsUnallocatedSite(v), v)
	}
	assert.False(t, models.IsUnallocatedSite("Site A"))
}
