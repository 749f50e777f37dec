package config

import (
	"context"
	"strings"

	"github.com/mmdatafocus/sitestock_backend/appctx"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const tenantColumn = "tenant_id"

// TenantGuardPlugin adds `tenant_id = <ctx tenant>` to queries, updates and deletes of
// models that have a tenant_id column. Raw SQL is not scoped.
// ContextKeySkipTenantScope turns it off for cross-tenant jobs.
type TenantGuardPlugin struct{}

func NewTenantGuardPlugin() *TenantGuardPlugin { return &TenantGuardPlugin{} }

func (p *TenantGuardPlugin) Name() string { return "tenant_guard" }

func (p *TenantGuardPlugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	if err := cb.Query().Before("gorm:query").Register("tenant_guard:query", scopeToTenant); err != nil {
		return err
	}
	// Row covers Scan/Rows
	if err := cb.Row().Before("gorm:row").Register("tenant_guard:row", scopeToTenant); err != nil {
		return err
	}
	if err := cb.Update().Before("gorm:update").Register("tenant_guard:update", scopeToTenant); err != nil {
		return err
	}
	return cb.Delete().Before("gorm:delete").Register("tenant_guard:delete", scopeToTenant)
}

func scopeToTenant(db *gorm.DB) {
	stmt := db.Statement
	if stmt == nil || stmt.Context == nil || stmt.Schema == nil {
		return
	}
	tenantId := scopedTenant(stmt.Context)
	if tenantId == "" {
		return
	}
	if stmt.Schema.LookUpField(tenantColumn) == nil {
		return
	}
	if where, ok := stmt.Clauses["WHERE"].Expression.(clause.Where); ok && filtersTenant(where.Exprs) {
		return
	}
	stmt.AddClause(clause.Where{Exprs: []clause.Expression{
		clause.Eq{Column: clause.Column{Table: stmt.Table, Name: tenantColumn}, Value: tenantId},
	}})
}

// scopedTenant is the tenant to scope by, or "" when scoping is off.
func scopedTenant(ctx context.Context) string {
	if skip, ok := ctx.Value(appctx.ContextKeySkipTenantScope).(bool); ok && skip {
		return ""
	}
	tenantId, _ := ctx.Value(appctx.ContextKeyTenantId).(string)
	return tenantId
}

// filtersTenant reports whether the caller already constrained tenant_id.
// Ledger code filters with string conditions ("tenant_id = ? AND ..."); map and struct
// conditions arrive as clause.Eq.
func filtersTenant(exprs []clause.Expression) bool {
	for _, e := range exprs {
		switch v := e.(type) {
		case clause.Expr:
			if strings.Contains(strings.ToLower(v.SQL), tenantColumn) {
				return true
			}
		case clause.Eq:
			if isTenantColumn(v.Column) {
				return true
			}
		case clause.IN:
			if isTenantColumn(v.Column) {
				return true
			}
		case clause.AndConditions:
			if filtersTenant(v.Exprs) {
				return true
			}
		}
	}
	return false
}

func isTenantColumn(col interface{}) bool {
	switch c := col.(type) {
	case string:
		return strings.EqualFold(c, tenantColumn)
	case clause.Column:
		return strings.EqualFold(c.Name, tenantColumn)
	}
	return false
}
