package policy

import (
	"net/netip"
	"strings"
	"time"

	"github.com/aegis-authz/aegis/internal/catalog"
	"github.com/aegis-authz/aegis/internal/directory"
)

// scopeFilters derives record filters from the permission scope. Self
// restricts to the actor, team to the actor plus direct reports, department
// to the actor's department. Org and system scopes carry no filter.
func scopeFilters(actor directory.Actor, scope catalog.Scope, reports []int64) map[string]any {
	switch scope {
	case catalog.ScopeSelf:
		return map[string]any{"actor_id": actor.ID}
	case catalog.ScopeTeam:
		ids := make([]int64, 0, len(reports)+1)
		ids = append(ids, actor.ID)
		ids = append(ids, reports...)
		return map[string]any{"actor_ids": ids}
	case catalog.ScopeDepartment:
		return map[string]any{"department": actor.Department}
	default:
		return map[string]any{}
	}
}

// actorAttributes are the request attributes checked against the actor's own.
// A request claiming a different country or business unit than the actor
// carries is denied rather than silently narrowed.
var actorAttributeKeys = []string{"country", "business_unit", "department"}

func conflictingAttribute(actor directory.Actor, attrs map[string]string) (string, bool) {
	own := map[string]string{
		"country":       actor.Country,
		"business_unit": actor.BusinessUnit,
		"department":    actor.Department,
	}
	for _, key := range actorAttributeKeys {
		requested, ok := attrs[key]
		if !ok || requested == "" {
			continue
		}
		if own[key] != "" && !strings.EqualFold(own[key], requested) {
			return key, true
		}
	}
	return "", false
}

// roleScopeAllows checks the role's country / business-unit allow-lists
// against the actor's attributes.
func roleScopeAllows(rules catalog.PolicyRules, actor directory.Actor) bool {
	if len(rules.AllowedCountries) > 0 && !containsFold(rules.AllowedCountries, actor.Country) {
		return false
	}
	if len(rules.AllowedBusinessUnits) > 0 && !containsFold(rules.AllowedBusinessUnits, actor.BusinessUnit) {
		return false
	}
	return true
}

// withinHours reports whether the UTC hour of now falls inside the role's
// daily window. Windows may wrap midnight: [22, 6) means 22:00 through 05:59.
func withinHours(rules catalog.PolicyRules, now time.Time) bool {
	if !rules.TimeRestricted() {
		return true
	}
	hour := now.UTC().Hour()
	start, end := rules.AllowedHoursStart, rules.AllowedHoursEnd
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

// ipAllowed matches the request origin against the role's allow-list.
// Entries may be plain addresses or CIDR prefixes. An unparsable origin never
// passes a non-empty allow-list.
func ipAllowed(rules catalog.PolicyRules, ip string) bool {
	if len(rules.IPAllowList) == 0 {
		return true
	}
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	for _, entry := range rules.IPAllowList {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "/") {
			prefix, err := netip.ParsePrefix(entry)
			if err == nil && prefix.Contains(addr) {
				return true
			}
			continue
		}
		if allowed, err := netip.ParseAddr(entry); err == nil && allowed == addr {
			return true
		}
	}
	return false
}

func containsFold(list []string, value string) bool {
	for _, item := range list {
		if strings.EqualFold(item, value) {
			return true
		}
	}
	return false
}
