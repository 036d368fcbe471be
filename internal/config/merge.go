package config

// MergeSecurityConfig merges per-route overrides onto the global security block.
// Non-empty strings and non-nil pointers override.
func MergeSecurityConfig(perRoute RouteSecurityConfig, global SecurityConfig) SecurityConfig {
	merged := global

	if perRoute.Protection != "" {
		merged.Protection = perRoute.Protection
	}
	if perRoute.TokenName != "" {
		merged.TokenName = perRoute.TokenName
	}
	if perRoute.HeaderName != "" {
		merged.HeaderName = perRoute.HeaderName
	}
	if perRoute.CookieName != "" {
		merged.CookieName = perRoute.CookieName
	}
	if perRoute.Expire != nil {
		merged.Expire = *perRoute.Expire
	}
	if perRoute.Regenerate != nil {
		merged.Regenerate = *perRoute.Regenerate
	}
	if perRoute.Redirect != nil {
		merged.Redirect = *perRoute.Redirect
	}
	if perRoute.SameSite != nil {
		merged.SameSite = *perRoute.SameSite
	}
	if perRoute.TokenRandomize != nil {
		merged.TokenRandomize = *perRoute.TokenRandomize
	}
	if perRoute.CookiePath != "" {
		merged.CookiePath = perRoute.CookiePath
	}
	if perRoute.CookieDomain != "" {
		merged.CookieDomain = perRoute.CookieDomain
	}
	if perRoute.CookieSecure != nil {
		merged.CookieSecure = *perRoute.CookieSecure
	}

	return merged
}

// RouteSecurity returns the effective security config for a route.
func (c *Config) RouteSecurity(route RouteConfig) SecurityConfig {
	return MergeSecurityConfig(route.Security, c.Security)
}
