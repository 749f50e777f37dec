package models

import (
	"context"
	"strings"
	"time"

	"github.com/mmdatafocus/sitestock_backend/config"
	"github.com/mmdatafocus/sitestock_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Site is an entry of the tenant's site directory.
type Site struct {
	ID        int       `gorm:"primary_key" json:"id"`
	TenantId  string    `gorm:"size:64;not null;index;uniqueIndex:idx_site_tenant_name,priority:1" json:"tenant_id"`
	Name      string    `gorm:"size:255;not null" json:"name"`
	NameKey   string    `gorm:"size:255;not null;uniqueIndex:idx_site_tenant_name,priority:2" json:"-"`
	Address   string    `gorm:"type:text" json:"address"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewSite struct {
	Name    string `json:"name" binding:"required"`
	Address string `json:"address"`
}

const siteCacheLifespan = time.Hour

func siteListKey(tenantId string) string {
	return "SiteList:" + tenantId
}

func (input *NewSite) validate(ctx context.Context, tenantId string) error {
	if strings.TrimSpace(input.Name) == "" {
		return utils.FieldError("name", "required")
	}
	count, err := utils.ResourceCountWhere[Site](ctx, tenantId, "name_key = ?", utils.NormalizeName(input.Name))
	if err != nil {
		return err
	}
	if count > 0 {
		return utils.FieldError("name", "duplicate")
	}
	return nil
}

func CreateSite(ctx context.Context, input *NewSite) (*Site, error) {
	tenantId, err := utils.RequireTenant(ctx)
	if err != nil {
		return nil, err
	}
	if err := input.validate(ctx, tenantId); err != nil {
		return nil, err
	}

	site := Site{
		TenantId: tenantId,
		Name:     strings.TrimSpace(input.Name),
		NameKey:  utils.NormalizeName(input.Name),
		Address:  input.Address,
		IsActive: utils.NewTrue(),
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&site).Error; err != nil {
			// lost a race with a concurrent create of the same name
			if utils.IsDuplicateKeyError(err) {
				return utils.FieldError("name", "duplicate")
			}
			return err
		}
		return createHistory(tx, HistoryActionCreate, site.ID, ReferenceTypeSite, nil, site, "Created site "+site.Name)
	})
	if err != nil {
		return nil, err
	}
	if err := config.RemoveRedisKey(siteListKey(tenantId)); err != nil {
		config.LogError(config.GetLogger(), "site.go", "CreateSite", "invalidating site cache", tenantId, err)
	}
	return &site, nil
}

func ListSites(ctx context.Context) ([]*Site, error) {
	tenantId, err := utils.RequireTenant(ctx)
	if err != nil {
		return nil, err
	}
	return cachedSites(ctx, tenantId)
}

// cachedSites reads the site directory from redis, falling back to the db.
func cachedSites(ctx context.Context, tenantId string) ([]*Site, error) {
	key := siteListKey(tenantId)
	var sites []*Site
	exists, err := config.GetRedisObject(key, &sites)
	if err != nil {
		config.LogError(config.GetLogger(), "site.go", "cachedSites", "reading site cache", key, err)
	}
	if exists {
		return sites, nil
	}

	sites, err = utils.FetchAllModels[Site](ctx, tenantId, "name")
	if err != nil {
		return nil, err
	}
	if err := config.SetRedisObject(key, &sites, siteCacheLifespan); err != nil {
		config.LogError(config.GetLogger(), "site.go", "cachedSites", "writing site cache", key, err)
	}
	return sites, nil
}

// ResolveSiteByName maps a site name to its directory entry.
// Resolution is best effort: a miss or a lookup failure yields (nil, nil).
func ResolveSiteByName(ctx context.Context, tenantId string, name string) (*int, *string) {
	key := utils.NormalizeName(name)
	if key == "" || key == UnallocatedSite {
		return nil, nil
	}
	sites, err := cachedSites(ctx, tenantId)
	if err != nil {
		config.GetLogger().WithFields(logrus.Fields{
			"field":     "ResolveSiteByName",
			"tenant_id": tenantId,
			"site_name": name,
		}).Warn("site lookup failed; leaving site unresolved: " + err.Error())
		return nil, nil
	}
	for _, s := range sites {
		if s.NameKey == key {
			id, siteName := s.ID, s.Name
			return &id, &siteName
		}
	}
	return nil, nil
}

// ResolveSiteById returns the directory name for id, or nil when id is unknown.
func ResolveSiteById(ctx context.Context, tenantId string, id int) *string {
	sites, err := cachedSites(ctx, tenantId)
	if err != nil {
		return nil
	}
	for _, s := range sites {
		if s.ID == id {
			name := s.Name
			return &name
		}
	}
	return nil
}
