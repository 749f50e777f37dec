package models

import "strings"

type UserRole string

const (
	UserRoleOwner       UserRole = "Owner"
	UserRoleAdmin       UserRole = "Admin"
	UserRoleSiteManager UserRole = "SiteManager"
	UserRoleStoreKeeper UserRole = "StoreKeeper"
	UserRoleAccountant  UserRole = "Accountant"
	UserRoleViewer      UserRole = "Viewer"
)

// roles allowed to mutate purchases, receipts and consumption
var InventoryMutatingRoles = []UserRole{
	UserRoleOwner,
	UserRoleAdmin,
	UserRoleSiteManager,
	UserRoleStoreKeeper,
}

func (r UserRole) IsValid() bool {
	switch r {
	case UserRoleOwner, UserRoleAdmin, UserRoleSiteManager, UserRoleStoreKeeper, UserRoleAccountant, UserRoleViewer:
		return true
	}
	return false
}

// PushStatus is the lifecycle of one opening-balance push.
type PushStatus string

const (
	PushStatusPending    PushStatus = "PENDING"
	PushStatusProcessing PushStatus = "PROCESSING"
	PushStatusSucceeded  PushStatus = "SUCCEEDED"
	PushStatusFailed     PushStatus = "FAILED"
	PushStatusDead       PushStatus = "DEAD"
)

func (s PushStatus) IsTerminal() bool {
	return s == PushStatusSucceeded || s == PushStatusDead
}

// UnallocatedSite is the sentinel clients send for "no particular site".
const UnallocatedSite = "unallocated"

func IsUnallocatedSite(v string) bool {
	v = strings.TrimSpace(v)
	return v == "" || strings.EqualFold(v, UnallocatedSite) || strings.EqualFold(v, "null")
}

const (
	HistoryActionCreate = "CREATE"
	HistoryActionUpdate = "UPDATE"
	HistoryActionDelete = "DELETE"
)

// reference types recorded in histories and logs
const (
	ReferenceTypePurchase    = "purchases"
	ReferenceTypeReceipt     = "receipts"
	ReferenceTypeConsumption = "consumption_records"
	ReferenceTypeSite        = "sites"
)
