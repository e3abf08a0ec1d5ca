// Package navigation derives the dashboard's top bar from session state.
package navigation

// Role names understood by the dashboard.
const (
	RoleAdmin = "admin"
	RoleUser  = "user"

	// ViewModeUser forces the regular-user view regardless of role.
	ViewModeUser = "user"

	LogoutRedirect = "/auth/login"

	// DocsHref is the external documentation link, shown to everyone.
	DocsHref = "https://r2r-docs.sciphi.ai"
)

// Item is a single link in the navigation bar.
type Item struct {
	Path   string `json:"path"`
	Label  string `json:"label"`
	Active bool   `json:"active"`
}

// State is the subset of session state the bar depends on.
type State struct {
	Authenticated bool
	UserRole      string
	SuperUser     bool
	ViewMode      string
}

// Bar is the derived navigation model.
type Bar struct {
	LogoHref       string `json:"logo_href"`
	EffectiveRole  string `json:"effective_role"`
	Items          []Item `json:"items"`
	DocsHref       string `json:"docs_href"`
	ShowLogout     bool   `json:"show_logout"`
	LogoutRedirect string `json:"logout_redirect"`
}

var (
	homeItem    = Item{Path: "/", Label: "Home"}
	commonItems = []Item{
		{Path: "/documents", Label: "Documents"},
		{Path: "/chat", Label: "Chat"},
	}
	adminItems = []Item{
		{Path: "/users", Label: "Users"},
		{Path: "/logs", Label: "Logs"},
		{Path: "/analytics", Label: "Analytics"},
		{Path: "/settings", Label: "Settings"},
	}
)

// EffectiveRole is "user" in user view mode, otherwise the session role
// defaulting to "user".
func EffectiveRole(viewMode, userRole string) string {
	if viewMode == ViewModeUser || userRole == "" {
		return RoleUser
	}
	return userRole
}

// Items lists the links visible for a role. Unauthenticated sessions get none.
func Items(authenticated bool, effectiveRole string) []Item {
	if !authenticated {
		return nil
	}
	items := make([]Item, 0, 1+len(commonItems)+len(adminItems))
	items = append(items, homeItem)
	items = append(items, commonItems...)
	if effectiveRole == RoleAdmin {
		items = append(items, adminItems...)
	}
	return items
}

// Build derives the whole bar for the current path.
func Build(state State, pathname string) Bar {
	role := EffectiveRole(state.ViewMode, state.UserRole)
	items := Items(state.Authenticated, role)
	for i := range items {
		items[i].Active = items[i].Path == pathname
	}

	logo := "/documents"
	if state.SuperUser {
		logo = "/"
	}
	if items == nil {
		items = []Item{}
	}
	return Bar{
		LogoHref:       logo,
		EffectiveRole:  role,
		Items:          items,
		DocsHref:       DocsHref,
		ShowLogout:     state.Authenticated,
		LogoutRedirect: LogoutRedirect,
	}
}
