// Package domain holds the closed vocabularies shared by every flow.
package domain

import "strings"

// Role is the single authorization role of a user.
type Role string

const (
	RoleClient    Role = "client"
	RoleCourier   Role = "courier"
	RoleDriver    Role = "driver"
	RoleModerator Role = "moderator"
)

// NormalizeRole maps raw strings onto Role. Unknown and empty values become client.
func NormalizeRole(raw string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleCourier:
		return RoleCourier
	case RoleDriver:
		return RoleDriver
	case RoleModerator:
		return RoleModerator
	default:
		return RoleClient
	}
}

// IsExecutor reports whether r fulfils orders.
func (r Role) IsExecutor() bool {
	return r == RoleCourier || r == RoleDriver
}

// ExecutorRole returns the executor kind for r.
func (r Role) ExecutorRole() (ExecutorRole, bool) {
	switch r {
	case RoleCourier:
		return ExecutorCourier, true
	case RoleDriver:
		return ExecutorDriver, true
	}
	return "", false
}

// ChangeRole applies a requested role change. Moderators keep their role.
func ChangeRole(current, requested Role) Role {
	if current == RoleModerator {
		return RoleModerator
	}
	return NormalizeRole(string(requested))
}

// ExecutorRole identifies the kind of executor.
type ExecutorRole string

const (
	ExecutorCourier ExecutorRole = "courier"
	ExecutorDriver  ExecutorRole = "driver"
)

// ExecutorRoles lists executor kinds in display order.
var ExecutorRoles = []ExecutorRole{ExecutorCourier, ExecutorDriver}

// ParseExecutorRole accepts only courier and driver.
func ParseExecutorRole(raw string) (ExecutorRole, bool) {
	switch ExecutorRole(strings.ToLower(strings.TrimSpace(raw))) {
	case ExecutorCourier:
		return ExecutorCourier, true
	case ExecutorDriver:
		return ExecutorDriver, true
	}
	return "", false
}

// Role converts the executor kind to the matching user role.
func (e ExecutorRole) Role() Role {
	return Role(e)
}

// ChannelType names a Telegram chat bound for a purpose.
type ChannelType string

const (
	ChannelVerify   ChannelType = "verify"
	ChannelPayments ChannelType = "payments"
	ChannelCouriers ChannelType = "couriers"
	ChannelDrivers  ChannelType = "drivers"
	ChannelOrders   ChannelType = "orders"
	ChannelSupport  ChannelType = "support"
)

// ChannelTypes lists every bindable channel type.
var ChannelTypes = []ChannelType{ChannelVerify, ChannelPayments, ChannelCouriers, ChannelDrivers, ChannelOrders, ChannelSupport}

// ParseChannelType validates raw against ChannelTypes.
func ParseChannelType(raw string) (ChannelType, bool) {
	t := ChannelType(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range ChannelTypes {
		if t == known {
			return t, true
		}
	}
	return "", false
}

// AccessChannel returns the private channel executors of kind e join after paying.
func (e ExecutorRole) AccessChannel() ChannelType {
	if e == ExecutorDriver {
		return ChannelDrivers
	}
	return ChannelCouriers
}

// OrderKind distinguishes client order drafts.
type OrderKind string

const (
	OrderTaxi     OrderKind = "taxi"
	OrderDelivery OrderKind = "delivery"
)

// ParseOrderKind accepts taxi and delivery.
func ParseOrderKind(raw string) (OrderKind, bool) {
	switch OrderKind(strings.ToLower(strings.TrimSpace(raw))) {
	case OrderTaxi:
		return OrderTaxi, true
	case OrderDelivery:
		return OrderDelivery, true
	}
	return "", false
}
