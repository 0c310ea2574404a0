package rbac

// HasPermission reports whether the principal may perform the action
// described by ctx, given the loaded roles and bindings.
//
// Bindings are considered when their principal type and name match the
// principal and, for workspace-scoped requests, their workspace is unset or
// equals the request workspace. The principal is granted the action when any
// bound role contains a rule matching every axis of the context.
func HasPermission(principal Principal, roles []Role, bindings []Binding, ctx Context) bool {
	applicable := applicableBindings(principal, bindings, ctx.Workspace)
	if len(applicable) == 0 {
		return false
	}

	rolesByName := make(map[string]*Role, len(roles))
	for i := range roles {
		rolesByName[roles[i].Name] = &roles[i]
	}

	seen := make(map[string]bool, len(applicable))
	for _, b := range applicable {
		if seen[b.RoleName] {
			continue
		}
		seen[b.RoleName] = true

		role, ok := rolesByName[b.RoleName]
		if !ok {
			continue
		}
		if roleGrants(role, ctx) {
			return true
		}
	}
	return false
}

// applicableBindings filters bindings down to those that bind the principal
// within the request's workspace scope.
func applicableBindings(principal Principal, bindings []Binding, workspace *string) []Binding {
	storedType := principal.PrincipalType().StorageForm()
	name := principal.PrincipalName()

	var out []Binding
	for _, b := range bindings {
		if b.PrincipalType != storedType || b.PrincipalName != name {
			continue
		}
		if workspace != nil {
			if b.Workspace != nil && *b.Workspace != *workspace {
				continue
			}
		}
		out = append(out, b)
	}
	return out
}

func roleGrants(role *Role, ctx Context) bool {
	for _, rule := range role.Rules {
		if ruleGrants(rule, ctx) {
			return true
		}
	}
	return false
}

func ruleGrants(rule Rule, ctx Context) bool {
	if !matchList(rule.APIGroups, ctx.APIGroup) {
		return false
	}
	if !matchList(rule.Resources, ctx.Resource) {
		return false
	}
	if !matchList(rule.Verbs, ctx.Verb) {
		return false
	}

	// A rule that restricts names only grants requests that name an object.
	if len(rule.ResourceNames) > 0 {
		if ctx.ResourceName == nil {
			return false
		}
		if !matchList(rule.ResourceNames, *ctx.ResourceName) {
			return false
		}
	}
	return true
}

func matchList(list []string, value string) bool {
	for _, item := range list {
		if item == "*" || item == value {
			return true
		}
	}
	return false
}
