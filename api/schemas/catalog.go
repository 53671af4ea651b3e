package schemas

// -- Catalog Entities --
// These mirror the universities.json payload served by the catalog endpoints.

// Country is a catalog country entry.
type Country struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// University is a catalog university entry.
type University struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	CountryID int64  `json:"countryId"`
}

// LinkItem is a named deep link into an institution's portal.
type LinkItem struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

// LoginDetection describes how a successful login against an institution can
// be recognized from the browser's location.
type LoginDetection struct {
	SuccessHostSuffixes []string `json:"successHostSuffixes,omitempty"`
	IdpHosts            []string `json:"idpHosts,omitempty"`
}

// UniConfig carries the per-university relay configuration: the login entry
// point, its declared auth type, and portal links.
type UniConfig struct {
	UniID          int64           `json:"uniId"`
	LoginURL       string          `json:"loginUrl,omitempty"`
	AuthType       AuthType        `json:"authType,omitempty"`
	Links          []LinkItem      `json:"links,omitempty"`
	LoginDetection *LoginDetection `json:"loginDetection,omitempty"`
}
